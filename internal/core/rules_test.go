package core

import (
	"context"
	"errors"
	"testing"

	"mousedb/pkg/domain"
)

func TestCageCapacityBlocks(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, WithRulesEngine(NewRulesEngine(domain.SeverityBlock, "")))
	mustCage(t, s, "C1", 1)
	mustCage(t, s, "C2", 0)
	mustMouse(t, s, mouseInput("R1", "WT", "F", "C1"))
	other := mustMouse(t, s, mouseInput("R2", "WT", "M", "C2"))
	before := len(s.Peek())

	_, _, err := s.CreateMouse(ctx, mouseInput("R3", "WT", "F", "C1"))
	var ruleErr domain.RuleViolationError
	if !errors.As(err, &ruleErr) || len(ruleErr.Result.Violations) != 1 || ruleErr.Result.Violations[0].EntityID != "C1" {
		t.Fatalf("expected capacity block, got %v", err)
	}
	if _, _, err := s.TransferMouse(ctx, other.ID, "C1"); !errors.As(err, &ruleErr) {
		t.Fatalf("expected transfer into a full cage to be blocked, got %v", err)
	}
	if s.Occupancy("C1") != 1 || len(s.Peek()) != before {
		t.Fatalf("blocked commands changed the store")
	}
}

func TestCageCapacityWarns(t *testing.T) {
	s := newTestStore(t, WithRulesEngine(NewRulesEngine(domain.SeverityWarn, "")))
	mustCage(t, s, "C1", 1)
	mustMouse(t, s, mouseInput("R1", "WT", "F", "C1"))
	_, res, err := s.CreateMouse(context.Background(), mouseInput("R2", "WT", "F", "C1"))
	if err != nil {
		t.Fatalf("warn severity must not block: %v", err)
	}
	if len(res.Warnings()) != 1 || res.Warnings()[0].Rule != RuleCageCapacity {
		t.Fatalf("expected capacity warning, got %+v", res)
	}
	if s.Occupancy("C1") != 2 {
		t.Fatalf("warned command not committed")
	}
}

func TestLineageRule(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, WithRulesEngine(NewRulesEngine("", domain.SeverityWarn)))
	mustCage(t, s, "C1", 0)
	mother := mustMouse(t, s, mouseInput("R1", "WT", "F", "C1"))
	father := mustMouse(t, s, mouseInput("R2", "WT", "M", "C1"))
	if _, err := s.DeleteMouse(ctx, father.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	pup := mouseInput("R3", "WT", "F", "C1")
	pup.Metadata.ParentF = mother.ID
	pup.Metadata.ParentM = father.ID
	_, res, err := s.CreateMouse(ctx, pup)
	if err != nil || len(res.Violations) != 0 {
		t.Fatalf("known and retired parents are valid: %+v %v", res, err)
	}

	orphan := mouseInput("R4", "WT", "F", "C1")
	orphan.Metadata.ParentF = "M-unknown"
	m, res, err := s.CreateMouse(ctx, orphan)
	if err != nil || len(res.Violations) != 1 || res.Violations[0].Rule != RuleLineage {
		t.Fatalf("expected lineage warning, got %+v %v", res, err)
	}

	_, res, err = s.EditMouse(ctx, m.ID, map[string]string{domain.FieldNotes: "self"})
	if err != nil || len(res.Violations) != 1 {
		t.Fatalf("edits re-evaluate lineage: %+v %v", res, err)
	}
}

func TestLineageRuleFlagsSelfParent(t *testing.T) {
	view := transactionView{state: &domain.State{Cages: map[string]domain.Cage{}, Mice: map[string]domain.Mouse{}}, dead: map[string]struct{}{}}
	m := domain.Mouse{ID: "M-1", Metadata: domain.Metadata{ParentM: "M-1"}}
	res, err := NewLineageRule(domain.SeverityBlock).Evaluate(context.Background(), view, []domain.ChangeRecord{
		{Kind: domain.OpCreate, EntityID: m.ID, After: domain.MouseState(m)},
	})
	if err != nil || !res.HasBlocking() {
		t.Fatalf("expected blocking self-parent violation, got %+v %v", res, err)
	}
}

func TestRulesEngineRegistration(t *testing.T) {
	if got := NewRulesEngine("", "").Rules(); len(got) != 0 {
		t.Fatalf("empty severities should register nothing: %v", got)
	}
	got := NewRulesEngine(domain.SeverityWarn, domain.SeverityBlock).Rules()
	if len(got) != 2 || got[0] != RuleCageCapacity || got[1] != RuleLineage {
		t.Fatalf("unexpected rules %v", got)
	}
}

type failingRule struct{}

func (failingRule) Name() string { return "failing" }

func (failingRule) Evaluate(context.Context, domain.RuleView, []domain.ChangeRecord) (domain.Result, error) {
	return domain.Result{}, errors.New("boom")
}

func TestRuleErrorAbortsCommand(t *testing.T) {
	engine := domain.NewRulesEngine()
	engine.Register(failingRule{})
	s := newTestStore(t, WithRulesEngine(engine))
	if _, _, err := s.CreateCage(context.Background(), domain.Cage{ID: "C1"}); err == nil {
		t.Fatalf("expected rule evaluation error")
	}
	if len(s.ListCages()) != 0 {
		t.Fatalf("cage committed despite rule error")
	}
}
