package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/copyd/internal/gate"
)

// ErrUnknownStep is returned for a step name outside the registry.
var ErrUnknownStep = errors.New("unknown pipeline step")

// FieldError describes one rejected input field.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationError lists every problem found in a step payload. It is
// returned before the gate, the store or the provider are touched.
type ValidationError struct {
	Step   Step
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		if f.Path == "" {
			parts = append(parts, f.Message)
			continue
		}
		parts = append(parts, f.Path+": "+f.Message)
	}
	if e.Step == "" {
		return "invalid input: " + strings.Join(parts, "; ")
	}
	return fmt.Sprintf("invalid %s input: %s", e.Step, strings.Join(parts, "; "))
}

// DeniedError wraps a gate decision that refused the request.
type DeniedError struct {
	Decision gate.Decision
}

func (e *DeniedError) Error() string {
	if e.Decision.Message != "" {
		return "request denied: " + e.Decision.Message
	}
	return "request denied: " + string(e.Decision.Reason)
}

// MalformedResponseError means the provider answered with something that
// could not be read as the step's result. Raw keeps the provider text.
type MalformedResponseError struct {
	Step   Step
	Reason string
	Raw    string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed %s response: %s", e.Step, e.Reason)
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsDenied reports whether err is a *DeniedError.
func IsDenied(err error) bool {
	var d *DeniedError
	return errors.As(err, &d)
}

// IsMalformed reports whether err is a *MalformedResponseError.
func IsMalformed(err error) bool {
	var m *MalformedResponseError
	return errors.As(err, &m)
}
