package domain

import (
	"fmt"
	"sort"
	"strings"
)

// CategoryKey is the derived grouping of a mouse. Fields not selected by a
// GroupBy are left empty.
type CategoryKey struct {
	Genotype string `json:"genotype,omitempty"`
	Sex      string `json:"sex,omitempty"`
	CageID   string `json:"cage_id,omitempty"`
}

// String renders the non-empty components joined by "/".
func (k CategoryKey) String() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{k.Genotype, k.Sex, k.CageID} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "/")
}

// GroupBy selects the components of a CategoryKey used for aggregation.
type GroupBy string

// Supported population groupings.
const (
	GroupByGenotype GroupBy = "genotype"
	GroupBySex      GroupBy = "sex"
	GroupByBoth     GroupBy = "both"
	GroupByCage     GroupBy = "cage"
)

// ParseGroupBy validates a grouping name.
func ParseGroupBy(s string) (GroupBy, error) {
	switch g := GroupBy(strings.ToLower(strings.TrimSpace(s))); g {
	case GroupByGenotype, GroupBySex, GroupByBoth, GroupByCage:
		return g, nil
	case "":
		return GroupByBoth, nil
	}
	return "", &CommandError{Kind: ErrInvalidValue, Field: "group_by", Detail: fmt.Sprintf("unsupported grouping %q", s)}
}

// Project narrows a full key to the components selected by g.
func (g GroupBy) Project(k CategoryKey) CategoryKey {
	switch g {
	case GroupByGenotype:
		return CategoryKey{Genotype: k.Genotype}
	case GroupBySex:
		return CategoryKey{Sex: k.Sex}
	case GroupByCage:
		return CategoryKey{CageID: k.CageID}
	default:
		return CategoryKey{Genotype: k.Genotype, Sex: k.Sex}
	}
}

// PopulationCount pairs a category with its live member count.
type PopulationCount struct {
	Key   CategoryKey `json:"key"`
	Count int         `json:"count"`
}

// SortedCounts flattens a population mapping in key order.
func SortedCounts(counts map[CategoryKey]int) []PopulationCount {
	out := make([]PopulationCount, 0, len(counts))
	for k, c := range counts {
		out = append(out, PopulationCount{Key: k, Count: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

// AgeClassCounts is the per-genotype breakdown consumed by population plots.
type AgeClassCounts struct {
	Genotype string `json:"genotype"`
	Males    int    `json:"males"`
	Females  int    `json:"females"`
	Seniors  int    `json:"seniors"`
}
