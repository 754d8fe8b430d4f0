package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"mousedb/pkg/domain"
)

func newMouseCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mouse",
		Short: "Create, edit, delete, transfer and show mice",
	}
	cmd.AddCommand(
		newMouseCreateCommand(a),
		newMouseEditCommand(a),
		newMouseDeleteCommand(a),
		newMouseTransferCommand(a),
		newMouseShowCommand(a),
	)
	return cmd
}

// parseAssignments turns field=value arguments into an update map.
func parseAssignments(args []string) (map[string]string, error) {
	out := make(map[string]string, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, &domain.CommandError{Kind: domain.ErrInvalidValue, Detail: fmt.Sprintf("expected field=value, got %q", arg)}
		}
		out[strings.TrimSpace(k)] = v
	}
	return out, nil
}

func newMouseCreateCommand(a *app) *cobra.Command {
	var (
		n     domain.NewMouse
		attrs []string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a mouse; its id is derived from the identity fields",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(attrs) > 0 {
				kv, err := parseAssignments(attrs)
				if err != nil {
					return err
				}
				n.Metadata.Attributes = kv
			}
			m, res, err := a.svc.CreateMouse(cmd.Context(), n)
			if err != nil {
				return err
			}
			a.mutated()
			a.printResult(res)
			return a.print(m, func(w io.Writer) { writeMouse(w, m) })
		},
	}
	f := cmd.Flags()
	f.StringVar(&n.Genotype, "genotype", "", "genotype")
	f.StringVar(&n.Sex, "sex", "", "sex")
	f.StringVar(&n.CageID, "cage", "", "cage id")
	f.StringVar(&n.Metadata.BirthDate, "birth-date", "", "birth date, YYYY-MM-DD")
	f.StringVar(&n.Metadata.Toe, "toe", "", "toe clip")
	f.StringVar(&n.Metadata.ParentF, "parent-f", "", "mother id")
	f.StringVar(&n.Metadata.ParentM, "parent-m", "", "father id")
	f.StringVar(&n.Metadata.BreedDate, "breed-date", "", "breeding date, YYYY-MM-DD")
	f.StringVar(&n.Metadata.Notes, "notes", "", "free-form notes")
	f.StringArrayVar(&attrs, "attr", nil, "extra attribute name=value, repeatable")
	for _, name := range []string{"genotype", "sex", "cage"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newMouseEditCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "edit <id> field=value...",
		Short: "Change mutable fields of a mouse",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			updates, err := parseAssignments(args[1:])
			if err != nil {
				return err
			}
			m, res, err := a.svc.EditMouse(cmd.Context(), args[0], updates)
			if err != nil {
				return err
			}
			a.mutated()
			a.printResult(res)
			return a.print(m, func(w io.Writer) { writeMouse(w, m) })
		},
	}
}

func newMouseDeleteCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Tombstone a mouse; its id is never reused",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.svc.DeleteMouse(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			a.mutated()
			a.printResult(res)
			return a.print(map[string]string{"deleted": args[0]}, func(w io.Writer) {
				fmt.Fprintf(w, "deleted mouse %s\n", args[0])
			})
		},
	}
}

func newMouseTransferCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "transfer <id> <cage>",
		Short: "Move a mouse to another cage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, res, err := a.svc.TransferMouse(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			a.mutated()
			a.printResult(res)
			return a.print(m, func(w io.Writer) { writeMouse(w, m) })
		},
	}
}

func newMouseShowCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print one mouse, deleted ones included",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			m, err := a.svc.Store().GetMouse(args[0])
			if err != nil {
				return err
			}
			return a.print(m, func(w io.Writer) { writeMouse(w, m) })
		},
	}
}
