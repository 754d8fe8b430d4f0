package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"mousedb/pkg/domain"
)

// print writes v as indented JSON when --json is set and through text
// otherwise.
func (a *app) print(v any, text func(w io.Writer)) error {
	if a.jsonOut {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	text(tw)
	return tw.Flush()
}

// printResult reports rule warnings of a committed command.
func (a *app) printResult(res domain.Result) {
	for _, v := range res.Warnings() {
		fmt.Fprintf(a.errOut, "warning: %s: %s\n", v.Rule, v.Message)
	}
}

func writeCages(w io.Writer, cages []domain.Cage) {
	fmt.Fprintln(w, "CAGE\tCAPACITY\tNOTE")
	for _, c := range cages {
		capacity := "-"
		if c.Capacity > 0 {
			capacity = fmt.Sprint(c.Capacity)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.ID, capacity, c.Note)
	}
}

func writeMouse(w io.Writer, m domain.Mouse) {
	fmt.Fprintf(w, "id\t%s\n", m.ID)
	fmt.Fprintf(w, "genotype\t%s\n", m.Genotype)
	fmt.Fprintf(w, "sex\t%s\n", m.Sex)
	fmt.Fprintf(w, "cage\t%s\n", m.CageID)
	for _, kv := range [][2]string{
		{domain.FieldBirthDate, m.Metadata.BirthDate},
		{domain.FieldToe, m.Metadata.Toe},
		{domain.FieldParentF, m.Metadata.ParentF},
		{domain.FieldParentM, m.Metadata.ParentM},
		{domain.FieldBreedDate, m.Metadata.BreedDate},
		{domain.FieldNotes, m.Metadata.Notes},
	} {
		if kv[1] != "" {
			fmt.Fprintf(w, "%s\t%s\n", kv[0], kv[1])
		}
	}
	keys := make([]string, 0, len(m.Metadata.Attributes))
	for k := range m.Metadata.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s%s\t%s\n", domain.AttributePrefix, k, m.Metadata.Attributes[k])
	}
	if m.Tombstoned {
		fmt.Fprintln(w, "status\tdeleted")
	}
}

func writeRoster(w io.Writer, roster []domain.MouseSummary) {
	fmt.Fprintln(w, "ID\tGENOTYPE\tSEX\tTOE\tBORN")
	for _, m := range roster {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", m.ID, m.Genotype, m.Sex, m.Toe, m.BirthDate)
	}
}
