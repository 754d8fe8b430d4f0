package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds returned by colony commands. Use errors.Is against these and
// errors.As with *CommandError for the entity, id and field involved.
var (
	ErrNotFound                = errors.New("not found")
	ErrDuplicateEntity         = errors.New("duplicate entity")
	ErrDuplicateCage           = errors.New("duplicate cage")
	ErrAmbiguousIdentity       = errors.New("ambiguous identity")
	ErrImmutableFieldViolation = errors.New("immutable field violation")
	ErrNoOpTransfer            = errors.New("no-op transfer")
	ErrCageNotEmpty            = errors.New("cage not empty")
	ErrDanglingMembers         = errors.New("dangling members")
	ErrCorruptSnapshot         = errors.New("corrupt snapshot")
	ErrSchemaVersionMismatch   = errors.New("schema version mismatch")
	ErrInvalidValue            = errors.New("invalid value")

	// ErrIntegrity marks an internal invariant violation. It is not
	// recoverable at the command boundary.
	ErrIntegrity = errors.New("integrity violation")
)

// CommandError carries the context of a failed command.
type CommandError struct {
	Kind   error
	Entity EntityType
	ID     string
	Field  string
	Detail string
}

func (e *CommandError) Error() string {
	var b strings.Builder
	if e.Entity != "" {
		b.WriteString(string(e.Entity))
		if e.ID != "" {
			fmt.Fprintf(&b, " %q", e.ID)
		}
		b.WriteString(": ")
	}
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	} else {
		b.WriteString("command failed")
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " (field %s)", e.Field)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

// Unwrap exposes the error kind to errors.Is.
func (e *CommandError) Unwrap() error { return e.Kind }

// NotFound builds an ErrNotFound error for the given record.
func NotFound(entity EntityType, id string) error {
	return &CommandError{Kind: ErrNotFound, Entity: entity, ID: id}
}

// Invalid builds an ErrInvalidValue error for a field.
func Invalid(entity EntityType, id, field, detail string) error {
	return &CommandError{Kind: ErrInvalidValue, Entity: entity, ID: id, Field: field, Detail: detail}
}

// Corrupt builds an ErrCorruptSnapshot error.
func Corrupt(format string, args ...any) error {
	return &CommandError{Kind: ErrCorruptSnapshot, Entity: EntitySnapshot, Detail: fmt.Sprintf(format, args...)}
}

// IntegrityError reports a divergence between canonical state and derived
// state. It is raised by consistency checks only.
type IntegrityError struct {
	Check  string
	Detail string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check %s failed: %s", e.Check, e.Detail)
}

// Unwrap returns ErrIntegrity.
func (e *IntegrityError) Unwrap() error { return ErrIntegrity }

// IsRecoverable reports whether err leaves the colony usable. Integrity
// failures are the only unrecoverable kind.
func IsRecoverable(err error) bool {
	return err != nil && !errors.Is(err, ErrIntegrity)
}
