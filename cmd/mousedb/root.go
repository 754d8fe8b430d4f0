package main

import (
	"context"
	"io"

	"github.com/spf13/cobra"
)

// run executes one CLI invocation and returns the exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{out: stdout, errOut: stderr}
	cmd := newRootCommand(a)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	err := cmd.ExecuteContext(ctx)
	a.close()
	if err != nil {
		reportError(stderr, err)
	}
	return exitCode(err)
}

func newRootCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mousedb",
		Short: "Track a mouse colony: cages, mice and their changelog",
		Long: `mousedb keeps the state of a mouse colony. Every invocation loads the colony
from the configured location, runs one command and saves the result when the
command changed anything.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			return a.open(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.commit(cmd.Context())
		},
	}
	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default ./mousedb.yaml or ~/.config/mousedb/config.yaml)")
	cmd.PersistentFlags().StringVar(&a.location, "location", "", "storage location, overrides storage.location")
	cmd.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "print results as JSON")
	cmd.PersistentFlags().BoolVar(&a.trace, "trace", false, "write command spans to stderr as JSON lines")

	cmd.AddCommand(
		newInitCommand(a),
		newCageCommand(a),
		newMouseCommand(a),
		newPopulationCommand(a),
		newRosterCommand(a),
		newAgesCommand(a),
		newChangelogCommand(a),
		newApplyCommand(a),
		newCompactCommand(a),
		newVerifyCommand(a),
		newSavesCommand(a),
	)
	return cmd
}

func newInitCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the Waiting Room and Death Row holding cages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			created, err := a.svc.EnsureHoldingCages(cmd.Context())
			if err != nil {
				return err
			}
			if len(created) > 0 {
				a.mutated()
			}
			return a.print(created, func(w io.Writer) {
				writeCages(w, created)
			})
		},
	}
}
