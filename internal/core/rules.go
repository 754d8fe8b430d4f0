package core

import (
	"context"
	"fmt"

	"mousedb/pkg/domain"
)

// Rule names accepted by configuration.
const (
	RuleCageCapacity = "cage_capacity"
	RuleLineage      = "lineage"
)

// NewCageCapacityRule reports cages housing more live mice than their
// capacity. Cages without a capacity are unlimited.
func NewCageCapacityRule(severity domain.Severity) domain.Rule {
	return cageCapacityRule{severity: severity}
}

type cageCapacityRule struct {
	severity domain.Severity
}

func (cageCapacityRule) Name() string { return RuleCageCapacity }

func (r cageCapacityRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.ChangeRecord) (domain.Result, error) {
	touched := make(map[string]struct{})
	for _, change := range changes {
		if change.After != nil && change.After.Mouse != nil && !change.After.Mouse.Tombstoned {
			touched[change.After.Mouse.CageID] = struct{}{}
		}
	}
	if len(touched) == 0 {
		return domain.Result{}, nil
	}

	occupancy := make(map[string]int)
	for _, m := range view.ListMice() {
		occupancy[m.CageID]++
	}

	res := domain.Result{}
	for _, cage := range view.ListCages() {
		if _, ok := touched[cage.ID]; !ok || cage.Capacity == 0 {
			continue
		}
		if count := occupancy[cage.ID]; count > cage.Capacity {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     RuleCageCapacity,
				Severity: r.severity,
				Message:  fmt.Sprintf("cage %s over capacity: %d/%d mice", cage.ID, count, cage.Capacity),
				Entity:   domain.EntityCage,
				EntityID: cage.ID,
			})
		}
	}
	return res, nil
}

// NewLineageRule reports mice created or edited in the transaction whose
// parent references are neither a known mouse nor a retired id, or point at
// the mouse itself. Parent fields often carry free-text labels from paper
// records, so the rule warns by default.
func NewLineageRule(severity domain.Severity) domain.Rule {
	return lineageRule{severity: severity}
}

type lineageRule struct {
	severity domain.Severity
}

func (lineageRule) Name() string { return RuleLineage }

func (r lineageRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.ChangeRecord) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Kind != domain.OpCreate && change.Kind != domain.OpEdit {
			continue
		}
		child := change.After.Mouse
		for _, parentID := range []string{child.Metadata.ParentF, child.Metadata.ParentM} {
			if parentID == "" {
				continue
			}
			if parentID == child.ID {
				res.Violations = append(res.Violations, r.violation(child.ID, fmt.Sprintf("mouse %s references itself as a parent", child.ID)))
				continue
			}
			if _, ok := view.FindMouse(parentID); ok || view.IsDead(parentID) {
				continue
			}
			res.Violations = append(res.Violations, r.violation(child.ID, fmt.Sprintf("mouse %s references unknown parent %s", child.ID, parentID)))
		}
	}
	return res, nil
}

func (r lineageRule) violation(id, message string) domain.Violation {
	return domain.Violation{
		Rule:     RuleLineage,
		Severity: r.severity,
		Message:  message,
		Entity:   domain.EntityMouse,
		EntityID: id,
	}
}

// NewRulesEngine returns an engine with the built-in rules registered at the
// given severities. An empty severity disables the rule.
func NewRulesEngine(capacity, lineage domain.Severity) *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	if capacity != "" {
		engine.Register(NewCageCapacityRule(capacity))
	}
	if lineage != "" {
		engine.Register(NewLineageRule(lineage))
	}
	return engine
}
