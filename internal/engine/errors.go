package engine

import (
	"errors"
	"fmt"
	"strings"

	"tradeline/internal/engine/auth"
	"tradeline/internal/repo"
)

// Kind classifies an engine failure. Every kind except ErrTransientFailure is a
// precondition violation that retrying unchanged will not fix.
type Kind string

func (k Kind) Error() string { return string(k) }

const (
	ErrInvalidTransition       Kind = "invalid_transition"
	ErrProjectNotOpen          Kind = "project_not_open"
	ErrProjectNotActionable    Kind = "project_not_actionable"
	ErrProjectNotCompleted     Kind = "project_not_completed"
	ErrDuplicateApplication    Kind = "duplicate_application"
	ErrApplicationNotPending   Kind = "application_not_pending"
	ErrNotProjectOwner         Kind = "not_project_owner"
	ErrNotAssignedProfessional Kind = "not_assigned_professional"
	ErrReviewAlreadyExists     Kind = "review_already_exists"
	ErrNotFound                Kind = "not_found"
	ErrTransientFailure        Kind = "transient_failure"
	ErrInvalidInput            Kind = "invalid_input"
	ErrForbidden               Kind = "forbidden"
)

// Error carries the kind plus enough state for a caller to decide what to do next.
type Error struct {
	Kind   Kind
	Op     string
	Entity string
	ID     string
	// Status is the entity's current status when the precondition failed.
	Status string
	// Edge is the attempted transition, e.g. "open->assigned".
	Edge string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(string(e.Kind))
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Entity != "" {
		fmt.Fprintf(&b, " (%s %s", e.Entity, e.ID)
		if e.Status != "" {
			fmt.Fprintf(&b, " is %s", e.Status)
		}
		if e.Edge != "" {
			fmt.Fprintf(&b, ", attempted %s", e.Edge)
		}
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so errors.Is(err, ErrProjectNotOpen) works.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// KindOf returns the kind of err, or "" if err is nil. Unclassified errors are transient.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return ErrForbidden
	}
	if errors.Is(err, repo.ErrNotFound) {
		return ErrNotFound
	}
	return ErrTransientFailure
}

func invalidInput(op, format string, args ...any) error {
	return &Error{Kind: ErrInvalidInput, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func notFound(op, entity, id string) error {
	return &Error{Kind: ErrNotFound, Op: op, Entity: entity, ID: id}
}

// wrap classifies an error from the store or a collaborator. Errors that are
// already classified pass through unchanged.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return &Error{Kind: ErrForbidden, Op: op, Err: err}
	}
	if errors.Is(err, repo.ErrNotFound) {
		return &Error{Kind: ErrNotFound, Op: op, Err: err}
	}
	return &Error{Kind: ErrTransientFailure, Op: op, Err: err}
}

func wrapLookup(op, entity, id string, err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return notFound(op, entity, id)
	}
	return wrap(op, err)
}
