package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrAccessDenied = errors.New("access denied")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
)

type ValidationKind string

const (
	ValidationRequired       ValidationKind = "required"
	ValidationTypeMismatch   ValidationKind = "typeMismatch"
	ValidationRangeViolation ValidationKind = "rangeViolation"
	ValidationChoiceInvalid  ValidationKind = "choiceInvalid"
)

// ValidationError reports a value rejected for one column.
type ValidationError struct {
	Kind     ValidationKind `json:"kind"`
	ColumnID uuid.UUID      `json:"column_id"`
	Column   string         `json:"column"`
	Message  string         `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("column %q: %s: %s", e.Column, e.Kind, e.Message)
	}
	return fmt.Sprintf("column %q: %s", e.Column, e.Kind)
}

// ValidationErrors collects every rejected field of a row.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Unwrap lets errors.As find the individual field errors.
func (e ValidationErrors) Unwrap() []error {
	errs := make([]error, len(e))
	for i, err := range e {
		errs[i] = err
	}
	return errs
}

// LockConflictError is returned when a row is locked by another principal.
type LockConflictError struct {
	RowID  uuid.UUID
	Holder uuid.UUID
}

func (e *LockConflictError) Error() string {
	return fmt.Sprintf("row %s is locked by %s", e.RowID, e.Holder)
}
