package assess

import (
	"fmt"
	"strings"
)

// ValidationError is a single schema violation.
type ValidationError struct {
	Field   string // field path, e.g. "learningModules[2].type"
	Message string
	Value   any
}

// Error returns a formatted error message.
func (v ValidationError) Error() string {
	msg := fmt.Sprintf("%s: %s", v.Field, v.Message)
	if v.Value != nil {
		msg += fmt.Sprintf(", got %v", v.Value)
	}
	return msg
}

// ValidationErrors aggregates every violation found in one pass so callers
// can log complete diagnostics instead of the first failure.
type ValidationErrors struct {
	Errors []ValidationError
}

// Error returns a formatted string of all validation errors.
func (v *ValidationErrors) Error() string {
	switch len(v.Errors) {
	case 0:
		return "no validation errors"
	case 1:
		return v.Errors[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:", len(v.Errors))
	for _, err := range v.Errors {
		sb.WriteString("\n  ")
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// Addf records a violation against a field.
func (v *ValidationErrors) Addf(field string, value any, format string, args ...any) {
	v.Errors = append(v.Errors, ValidationError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
		Value:   value,
	})
}

// ToError returns nil when no violations were recorded.
func (v *ValidationErrors) ToError() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}
