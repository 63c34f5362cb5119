package schema

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a validation failure.
type Kind string

const (
	KindMissing Kind = "missing"
	KindType    Kind = "type"
)

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Key    string // Field name
	Kind   Kind
	Reason string // Human-readable reason for failure
	Value  any    // The value that failed validation
}

func (e *ValidationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("field %q: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("field %q: %s (got %T)", e.Key, e.Reason, e.Value)
}

// AggregateError represents multiple validation failures.
type AggregateError struct {
	Errors []error
}

func (e *AggregateError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d validation errors:\n", len(e.Errors))
	for i, err := range e.Errors {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, err.Error())
	}
	return b.String()
}

// Unwrap exposes the individual failures to errors.Is and errors.As.
func (e *AggregateError) Unwrap() []error { return e.Errors }

// ValidationErrors returns all field failures contained in err.
func ValidationErrors(err error) []*ValidationError {
	var aggr *AggregateError
	if errors.As(err, &aggr) {
		out := make([]*ValidationError, 0, len(aggr.Errors))
		for _, e := range aggr.Errors {
			var ve *ValidationError
			if errors.As(e, &ve) {
				out = append(out, ve)
			}
		}
		return out
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return []*ValidationError{ve}
	}
	return nil
}

// Missing returns the names of missing required fields in err.
func Missing(err error) []string {
	return keysOf(err, KindMissing)
}

// Mistyped returns the names of fields in err with the wrong type.
func Mistyped(err error) []string {
	return keysOf(err, KindType)
}

func keysOf(err error, kind Kind) []string {
	var out []string
	for _, ve := range ValidationErrors(err) {
		if ve.Kind == kind {
			out = append(out, ve.Key)
		}
	}
	return out
}
