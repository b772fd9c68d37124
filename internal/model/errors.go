package model

import (
	"errors"
	"fmt"

	"github.com/sells-group/taxprep/internal/money"
)

var (
	// ErrNotFound is returned when a return, document or output does not exist.
	ErrNotFound = errors.New("not found")
	// ErrRunInFlight is returned when another run holds the return's lease.
	ErrRunInFlight = errors.New("pipeline run already in flight")
	// ErrUnknownField is returned for a field missing from the policy catalogue.
	ErrUnknownField = errors.New("unknown field")
)

// InputError is a malformed or missing extract field.
type InputError struct {
	DocumentID string
	Field      string
	Reason     string
}

func (e *InputError) Error() string {
	switch {
	case e.DocumentID != "" && e.Field != "":
		return fmt.Sprintf("input error: document %s field %s: %s", e.DocumentID, e.Field, e.Reason)
	case e.DocumentID != "":
		return fmt.Sprintf("input error: document %s: %s", e.DocumentID, e.Reason)
	case e.Field != "":
		return fmt.Sprintf("input error: field %s: %s", e.Field, e.Reason)
	}
	return "input error: " + e.Reason
}

// VarianceBlockedError is returned by operations that require no live
// BLOCKING variance (export) while one remains.
type VarianceBlockedError struct {
	Field   string
	Sources []SourceKind
	Delta   money.Amount
}

func (e *VarianceBlockedError) Error() string {
	if len(e.Sources) == 0 {
		return fmt.Sprintf("variance blocked: line item %q needs attention", e.Field)
	}
	return fmt.Sprintf("variance blocked: field %s sources %v delta %s", e.Field, e.Sources, e.Delta)
}

// RuleEvaluationError is a bad expression or missing variable.
type RuleEvaluationError struct {
	RuleCode string
	Err      error
}

func (e *RuleEvaluationError) Error() string {
	return fmt.Sprintf("rule %s: %v", e.RuleCode, e.Err)
}

func (e *RuleEvaluationError) Unwrap() error { return e.Err }

// InvariantViolation is a computed value that had to be clamped.
type InvariantViolation struct {
	Code   string
	Detail string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant %s violated: %s", e.Code, e.Detail)
}

// StepFailure is an unexpected error inside a pipeline step. It is the only
// error that needs a retry to recover from.
type StepFailure struct {
	ReturnID string
	Step     StepName
	Err      error
}

func (e *StepFailure) Error() string {
	return fmt.Sprintf("step %s failed for return %s: %v", e.Step, e.ReturnID, e.Err)
}

func (e *StepFailure) Unwrap() error { return e.Err }
