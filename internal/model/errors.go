package model

import (
	"errors"
	"fmt"
)

// Named failures surfaced by the engine. Callers match with errors.Is;
// the eris-wrapped forms carry the context (location id, value, ...).
var (
	// ErrRowValidation marks a per-row reconciliation failure. It never
	// aborts a batch.
	ErrRowValidation = errors.New("row validation failed")

	// ErrUnknownCategory is a row validation failure for an unmatched
	// risk category string.
	ErrUnknownCategory = fmt.Errorf("unknown category value: %w", ErrRowValidation)

	ErrInsufficientHistory = errors.New("insufficient history")
	ErrModelUnavailable    = errors.New("model unavailable")
	ErrNotFound            = errors.New("not found")
	ErrInvalidOverride     = errors.New("invalid override")
	ErrUnknownStrategy     = errors.New("unknown strategy")
	ErrInvalidHorizon      = errors.New("invalid horizon")
)

// RowError records why a single input row failed reconciliation.
type RowError struct {
	Index   int    `json:"row"`
	Field   string `json:"field,omitempty"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// NewRowError builds a RowError for the 0-based row index.
func NewRowError(index int, field, value string, err error, format string, args ...any) *RowError {
	return &RowError{
		Index:   index,
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

func (e *RowError) Error() string {
	return fmt.Sprintf("Row %d: %s", e.Index, e.Message)
}

// Unwrap exposes ErrRowValidation alongside the underlying cause.
func (e *RowError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrRowValidation}
	}
	return []error{ErrRowValidation, e.Err}
}
