// Package identity derives stable mouse ids from identity-defining metadata.
//
// An id is the policy prefix followed by the leading hex digits of
// SHA256(domain + 0x00 + canonical), where canonical is the JSON object of the
// policy's identity fields with NFC-normalised, trimmed values. The same
// metadata therefore yields the same id on every run and in every process.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"mousedb/pkg/domain"
)

// hashDomain separates mouse identity hashes from any other hash the colony
// may compute. The version suffix allows a future algorithm change.
const hashDomain = "mousedb/mouse/v1"

// idHexLen is the number of hex digits kept from the digest (80 bits).
const idHexLen = 20

// Policy names the fields that define and fix a mouse's identity.
type Policy struct {
	// Fields are hashed into the id.
	Fields []string
	// Required fields must be non-blank for an id to be derived.
	Required []string
	// Immutable fields are fixed after creation in addition to Fields.
	Immutable []string
	// Prefix is prepended to every id.
	Prefix string
}

// DefaultPolicy hashes birth date, toe clip, sex and parentage; genotype is
// fixed after creation but not part of the id.
func DefaultPolicy() Policy {
	return Policy{
		Fields:    []string{domain.FieldBirthDate, domain.FieldToe, domain.FieldSex, domain.FieldParentF, domain.FieldParentM},
		Required:  []string{domain.FieldBirthDate, domain.FieldToe},
		Immutable: []string{domain.FieldGenotype},
		Prefix:    "M",
	}
}

// Lookup resolves existing records. IsDead consults the retired-id set so
// ids of deleted mice are never reissued.
type Lookup interface {
	LookupMouse(id string) (domain.Mouse, bool)
	IsDead(id string) bool
}

// Assigner derives ids according to a Policy.
type Assigner struct {
	policy    Policy
	fields    []string
	immutable map[string]struct{}
}

// NewAssigner validates the policy and returns an assigner.
func NewAssigner(p Policy) (*Assigner, error) {
	if len(p.Fields) == 0 {
		return nil, fmt.Errorf("identity policy: at least one identity field is required")
	}
	if strings.TrimSpace(p.Prefix) == "" {
		p.Prefix = "M"
	}
	fields := make(map[string]struct{}, len(p.Fields))
	for _, f := range p.Fields {
		if !domain.KnownField(f) || f == domain.FieldCageID {
			return nil, fmt.Errorf("identity policy: %q cannot define identity", f)
		}
		fields[f] = struct{}{}
	}
	for _, f := range p.Required {
		if _, ok := fields[f]; !ok {
			return nil, fmt.Errorf("identity policy: required field %q is not an identity field", f)
		}
	}
	immutable := make(map[string]struct{}, len(fields)+len(p.Immutable))
	for f := range fields {
		immutable[f] = struct{}{}
	}
	for _, f := range p.Immutable {
		if !domain.KnownField(f) || f == domain.FieldCageID {
			return nil, fmt.Errorf("identity policy: %q cannot be immutable", f)
		}
		immutable[f] = struct{}{}
	}
	sorted := make([]string, 0, len(fields))
	for f := range fields {
		sorted = append(sorted, f)
	}
	sort.Strings(sorted)
	return &Assigner{policy: p, fields: sorted, immutable: immutable}, nil
}

// Policy returns the policy the assigner was built with.
func (a *Assigner) Policy() Policy { return a.policy }

// IsImmutable reports whether field may not change after creation.
func (a *Assigner) IsImmutable(field string) bool {
	_, ok := a.immutable[field]
	return ok
}

// Assign derives the id for n. It fails with ErrAmbiguousIdentity when a
// required field is blank.
func (a *Assigner) Assign(n domain.NewMouse) (string, error) {
	for _, f := range a.policy.Required {
		v, _ := n.Field(f)
		if normalise(v) == "" {
			return "", &domain.CommandError{
				Kind:   domain.ErrAmbiguousIdentity,
				Entity: domain.EntityMouse,
				Field:  f,
				Detail: "required identity field is blank",
			}
		}
	}
	canonical, err := a.canonical(n)
	if err != nil {
		return "", err
	}
	return a.policy.Prefix + "-" + hashWithDomain(hashDomain, canonical)[:idHexLen], nil
}

// AssignAgainst derives the id for n and checks it against existing records.
// existing is true when the id is already known with identical immutable
// fields (a re-import). A known id with conflicting immutable fields fails
// with ErrAmbiguousIdentity, as does an id retired by deletion.
func (a *Assigner) AssignAgainst(n domain.NewMouse, lookup Lookup) (id string, existing bool, err error) {
	id, err = a.Assign(n)
	if err != nil {
		return "", false, err
	}
	if lookup.IsDead(id) {
		return "", false, &domain.CommandError{
			Kind:   domain.ErrAmbiguousIdentity,
			Entity: domain.EntityMouse,
			ID:     id,
			Detail: "id belongs to a deleted mouse",
		}
	}
	current, ok := lookup.LookupMouse(id)
	if !ok {
		return id, false, nil
	}
	if conflicts := a.Conflicts(n, current); len(conflicts) > 0 {
		return "", false, &domain.CommandError{
			Kind:   domain.ErrAmbiguousIdentity,
			Entity: domain.EntityMouse,
			ID:     id,
			Field:  conflicts[0],
			Detail: "probable duplicate entry: immutable fields differ from the existing record",
		}
	}
	return id, true, nil
}

// Conflicts lists the immutable fields whose values differ between the
// candidate and an existing record, in name order.
func (a *Assigner) Conflicts(n domain.NewMouse, existing domain.Mouse) []string {
	var out []string
	for f := range a.immutable {
		want, _ := n.Field(f)
		have, _ := existing.Field(f)
		if normalise(want) != normalise(have) {
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

func (a *Assigner) canonical(n domain.NewMouse) ([]byte, error) {
	obj := make(map[string]string, len(a.fields))
	for _, f := range a.fields {
		v, _ := n.Field(f)
		obj[f] = normalise(v)
	}
	// encoding/json writes map keys in sorted order.
	b, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("identity: marshal canonical form: %w", err)
	}
	return b, nil
}

func normalise(v string) string {
	return norm.NFC.String(strings.TrimSpace(v))
}

// hashWithDomain computes SHA256(domain + 0x00 + data). The separator keeps
// the domain/data boundary unambiguous.
func hashWithDomain(prefix string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(prefix))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
