package funnel

import (
	"errors"
	"fmt"
)

// Recoverable and fatal sentinel errors surfaced to callers.
var (
	// ErrAmbiguousBreakdown is fatal: a multi-property breakdown read a
	// non-string property value, so the joined value would be ambiguous.
	ErrAmbiguousBreakdown = errors.New("multi-property breakdown requires string-typed properties")

	// ErrEmptyBreakdownDomain is recoverable: value discovery found no
	// candidate breakdown values, so the run short-circuits to an empty
	// result set without executing the engine.
	ErrEmptyBreakdownDomain = errors.New("breakdown value domain is empty")
)

// SpecError reports an invalid QuerySpec. Always fatal and always raised
// before any computation — the engine never silently clamps a bad spec.
type SpecError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *SpecError) Error() string {
	return fmt.Sprintf("invalid funnel spec: %s: %s", e.Field, e.Message)
}

func specErrorf(field, format string, args ...interface{}) *SpecError {
	return &SpecError{Field: field, Message: fmt.Sprintf(format, args...)}
}
