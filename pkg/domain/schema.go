package domain

import (
	"fmt"
	"strings"
	"time"
)

// Schema is the capability set a colony validates against. It is built from
// configuration so genotype and sex enumerations can change without touching
// the store.
type Schema struct {
	genotypes []string
	sexes     []string
	known     map[string]map[string]struct{}
}

// NewSchema constructs a schema from the allowed genotype and sex symbols.
// Both lists must be non-empty and free of blanks and duplicates.
func NewSchema(genotypes, sexes []string) (Schema, error) {
	s := Schema{known: map[string]map[string]struct{}{}}
	var err error
	if s.genotypes, err = normaliseSymbols(FieldGenotype, genotypes); err != nil {
		return Schema{}, err
	}
	if s.sexes, err = normaliseSymbols(FieldSex, sexes); err != nil {
		return Schema{}, err
	}
	s.known[FieldGenotype] = toSet(s.genotypes)
	s.known[FieldSex] = toSet(s.sexes)
	return s, nil
}

// DefaultSchema returns the genotype set of the PP2A breeding colony plus
// wild type.
func DefaultSchema() Schema {
	s, err := NewSchema(
		[]string{"WT", "hom-PP2A", "PP2A(w/-)", "PP2A(f/w)", "NEX-CRE-PP2A(f/w)", "CMV-CRE", "NEX-CRE", "CMV-CRE-PP2A(f/w)"},
		[]string{"M", "F"},
	)
	if err != nil {
		panic(err)
	}
	return s
}

// Genotypes returns the allowed genotype symbols in declaration order.
func (s Schema) Genotypes() []string { return append([]string(nil), s.genotypes...) }

// Sexes returns the allowed sex symbols in declaration order.
func (s Schema) Sexes() []string { return append([]string(nil), s.sexes...) }

// Allows reports whether value is permitted for an enumerated field. Fields
// without an enumeration accept any value.
func (s Schema) Allows(field, value string) bool {
	set, ok := s.known[field]
	if !ok {
		return true
	}
	_, ok = set[value]
	return ok
}

// ValidateNew checks a creation input against the schema. The returned error
// is an ErrInvalidValue CommandError naming the offending field.
func (s Schema) ValidateNew(n NewMouse) error {
	if !s.Allows(FieldGenotype, n.Genotype) {
		return Invalid(EntityMouse, "", FieldGenotype, fmt.Sprintf("genotype %q is not in the schema", n.Genotype))
	}
	if !s.Allows(FieldSex, n.Sex) {
		return Invalid(EntityMouse, "", FieldSex, fmt.Sprintf("sex %q is not in the schema", n.Sex))
	}
	if strings.TrimSpace(n.CageID) == "" {
		return Invalid(EntityMouse, "", FieldCageID, "cage is required")
	}
	return ValidateDates(n.Metadata)
}

// ValidateDates checks the date-valued metadata fields.
func ValidateDates(m Metadata) error {
	for field, v := range map[string]string{FieldBirthDate: m.BirthDate, FieldBreedDate: m.BreedDate} {
		if v == "" {
			continue
		}
		if _, err := time.Parse(DateLayout, v); err != nil {
			return Invalid(EntityMouse, "", field, fmt.Sprintf("date %q is not YYYY-MM-DD", v))
		}
	}
	return nil
}

func normaliseSymbols(field string, in []string) ([]string, error) {
	if len(in) == 0 {
		return nil, Invalid("", "", field, "schema enumeration is empty")
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			return nil, Invalid("", "", field, "schema enumeration contains a blank symbol")
		}
		if _, dup := seen[v]; dup {
			return nil, Invalid("", "", field, fmt.Sprintf("schema enumeration repeats %q", v))
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out, nil
}

func toSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}
