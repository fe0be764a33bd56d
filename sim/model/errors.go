package model

import "fmt"

// ValidationError reports a malformed model: bad stoichiometry, an unknown
// species or rule reference, or a negative rate or diffusion constant.
// It is raised before simulation starts and is never recovered internally.
type ValidationError struct {
	Field  string // path of the offending field, e.g. "reactions[2].reactants[0]"
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("model: %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
