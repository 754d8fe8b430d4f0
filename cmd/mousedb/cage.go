package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"mousedb/internal/core"
	"mousedb/pkg/domain"
)

func newCageCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cage",
		Short: "Create, delete and list cages",
	}
	cmd.AddCommand(newCageCreateCommand(a), newCageDeleteCommand(a), newCageListCommand(a))
	return cmd
}

func newCageCreateCommand(a *app) *cobra.Command {
	var c domain.Cage
	cmd := &cobra.Command{
		Use:   "create <id>",
		Short: "Register a cage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c.ID = args[0]
			created, res, err := a.svc.CreateCage(cmd.Context(), c)
			if err != nil {
				return err
			}
			a.mutated()
			a.printResult(res)
			return a.print(created, func(w io.Writer) { writeCages(w, []domain.Cage{created}) })
		},
	}
	cmd.Flags().IntVar(&c.Capacity, "capacity", 0, "maximum occupancy, 0 for unlimited")
	cmd.Flags().StringVar(&c.Note, "note", "", "free-form note")
	return cmd
}

func newCageDeleteCommand(a *app) *cobra.Command {
	var opts core.DeleteCageOptions
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a cage; occupied cages need --force and --reassign-to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.svc.DeleteCage(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			a.mutated()
			a.printResult(res)
			return a.print(map[string]string{"deleted": args[0]}, func(w io.Writer) {
				fmt.Fprintf(w, "deleted cage %s\n", args[0])
			})
		},
	}
	cmd.Flags().BoolVar(&opts.Force, "force", false, "delete even when mice are housed")
	cmd.Flags().StringVar(&opts.ReassignTo, "reassign-to", "", "cage receiving the members of a force-deleted cage")
	return cmd
}

func newCageListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cages with their occupancy",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			type row struct {
				domain.Cage
				Occupancy int `json:"occupancy"`
			}
			store := a.svc.Store()
			cages := store.ListCages()
			rows := make([]row, 0, len(cages))
			for _, c := range cages {
				rows = append(rows, row{Cage: c, Occupancy: store.Occupancy(c.ID)})
			}
			return a.print(rows, func(w io.Writer) {
				fmt.Fprintln(w, "CAGE\tMICE\tCAPACITY\tNOTE")
				for _, r := range rows {
					capacity := "-"
					if r.Capacity > 0 {
						capacity = fmt.Sprint(r.Capacity)
					}
					fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", r.ID, r.Occupancy, capacity, r.Note)
				}
			})
		},
	}
}
