package main

import (
	"errors"
	"fmt"
	"io"

	"mousedb/pkg/domain"
)

// Exit codes.
const (
	exitOK     = 0
	exitUser   = 1
	exitSystem = 2
)

// systemError marks failures outside the colony commands themselves:
// configuration, storage and snapshot loading.
type systemError struct {
	op  string
	err error
}

func (e *systemError) Error() string { return fmt.Sprintf("%s: %v", e.op, e.err) }
func (e *systemError) Unwrap() error { return e.err }

func system(op string, err error) error {
	if err == nil {
		return nil
	}
	return &systemError{op: op, err: err}
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	var sys *systemError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &sys), !domain.IsRecoverable(err):
		return exitSystem
	default:
		return exitUser
	}
}

// reportError writes err with whatever context the command error carries.
func reportError(w io.Writer, err error) {
	fmt.Fprintf(w, "error: %v\n", err)
	var rv domain.RuleViolationError
	if errors.As(err, &rv) {
		for _, v := range rv.Result.Violations {
			fmt.Fprintf(w, "  %s [%s] %s\n", v.Rule, v.Severity, v.Message)
		}
	}
}
