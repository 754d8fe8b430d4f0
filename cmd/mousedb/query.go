package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"mousedb/internal/core"
	"mousedb/internal/persistence"
	"mousedb/pkg/domain"
)

func newPopulationCommand(a *app) *cobra.Command {
	var groupBy string
	cmd := &cobra.Command{
		Use:   "population",
		Short: "Count live mice per category",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			counts, err := a.svc.QueryPopulation(groupBy)
			if err != nil {
				return err
			}
			rows := domain.SortedCounts(counts)
			return a.print(rows, func(w io.Writer) {
				fmt.Fprintln(w, "CATEGORY\tCOUNT")
				for _, r := range rows {
					fmt.Fprintf(w, "%s\t%d\n", r.Key, r.Count)
				}
			})
		},
	}
	cmd.Flags().StringVar(&groupBy, "group-by", string(domain.GroupByBoth), "genotype, sex, both or cage")
	return cmd
}

func newRosterCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "roster <cage>",
		Short: "List the mice housed in a cage",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			roster, err := a.svc.QueryCage(args[0])
			if err != nil {
				return err
			}
			return a.print(roster, func(w io.Writer) { writeRoster(w, roster) })
		},
	}
}

func newAgesCommand(a *app) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "ages",
		Short: fmt.Sprintf("Count young males, young females and seniors (over %d days) per genotype", core.SeniorAgeDays),
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			now := time.Now().UTC()
			if at != "" {
				t, err := time.Parse(time.DateOnly, at)
				if err != nil {
					return &domain.CommandError{Kind: domain.ErrInvalidValue, Field: "at", Detail: err.Error()}
				}
				now = t
			}
			rows := a.svc.AgeReport(now)
			return a.print(rows, func(w io.Writer) {
				fmt.Fprintln(w, "GENOTYPE\tMALES\tFEMALES\tSENIORS")
				for _, r := range rows {
					fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", r.Genotype, r.Males, r.Females, r.Seniors)
				}
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "reference date, YYYY-MM-DD (default today)")
	return cmd
}

func newChangelogCommand(a *app) *cobra.Command {
	var summary, history bool
	cmd := &cobra.Command{
		Use:   "changelog",
		Short: "Show the changes since the last save point, or the whole history",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			records := a.svc.Peek()
			if history {
				records = append(a.svc.History(), records...)
			}
			if summary && !a.jsonOut {
				_, err := io.WriteString(a.out, core.RenderSummary(records))
				return err
			}
			return a.print(records, func(w io.Writer) {
				fmt.Fprintln(w, "SEQ\tTIME\tKIND\tENTITY\tID")
				for _, r := range records {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", r.Seq, r.Timestamp.Format(time.RFC3339), r.Kind, r.Entity, r.EntityID)
				}
			})
		},
	}
	cmd.Flags().BoolVar(&summary, "summary", false, "render the human-readable changelog")
	cmd.Flags().BoolVar(&history, "history", false, "include records flushed at earlier save points")
	return cmd
}

func newApplyCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "apply <changelog.json>",
		Short: "Replay an exported changelog onto the colony",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return system("read changelog", err)
			}
			var records []domain.ChangeRecord
			if err := json.Unmarshal(data, &records); err != nil {
				return domain.Corrupt("parse changelog %s: %v", args[0], err)
			}
			res, err := a.svc.ApplyChangelog(cmd.Context(), records)
			if err != nil {
				return err
			}
			a.mutated()
			a.printResult(res)
			return a.print(map[string]int{"applied": len(records)}, func(w io.Writer) {
				fmt.Fprintf(w, "applied %d change records\n", len(records))
			})
		},
	}
}

func newCompactCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Drop changelog history older than the last save point",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := a.svc.Compact(cmd.Context())
			if err != nil {
				return err
			}
			if n > 0 {
				a.mutated()
			}
			return a.print(map[string]int{"dropped": n}, func(w io.Writer) {
				fmt.Fprintf(w, "dropped %d history records\n", n)
			})
		},
	}
}

func newVerifyCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Run the colony consistency checks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.svc.Verify(cmd.Context()); err != nil {
				return err
			}
			return a.print(map[string]string{"status": "ok"}, func(w io.Writer) {
				fmt.Fprintln(w, "ok")
			})
		},
	}
}

func newSavesCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "saves",
		Short: "List stored snapshots on backends that keep every save",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			lister, ok := a.backend.(persistence.Lister)
			if !ok {
				return &domain.CommandError{Kind: domain.ErrInvalidValue, Field: "location",
					Detail: fmt.Sprintf("%s keeps only the latest snapshot", a.cfg.Storage.Location)}
			}
			saves, err := lister.Saves(cmd.Context())
			if err != nil {
				return system("list saves", err)
			}
			return a.print(saves, func(w io.Writer) {
				fmt.Fprintln(w, "SEQ\tSAVE ID\tVERSION\tSAVED AT")
				for _, s := range saves {
					fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", s.Seq, s.SaveID, s.SchemaVersion, s.SavedAt.Format(time.RFC3339))
				}
			})
		},
	}
}
