package item

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/multierr"

	"github.com/fanling-notes/fanling/internal/protocol"
)

// FieldError is one failed check on user input.
type FieldError struct {
	Field   string // tag of the form element, e.g. "name-error"
	Message string
}

// ActionResponse is the result of validating user input. It starts as a
// success and becomes a failure on the first AddError; later errors
// accumulate.
type ActionResponse struct {
	failures    []FieldError
	diagnostics map[string]string
}

// NewActionResponse returns a success.
func NewActionResponse() *ActionResponse {
	return &ActionResponse{}
}

// AddError records a failure.
func (ar *ActionResponse) AddError(field, msg string) {
	ar.failures = append(ar.failures, FieldError{Field: field, Message: msg})
}

// Assert records a failure unless cond holds.
func (ar *ActionResponse) Assert(cond bool, field, msg string) {
	if !cond {
		ar.AddError(field, msg)
	}
}

// OK reports whether nothing failed.
func (ar *ActionResponse) OK() bool {
	return len(ar.failures) == 0
}

// Errors returns the failures in the order they were found.
func (ar *ActionResponse) Errors() []FieldError {
	return append([]FieldError(nil), ar.failures...)
}

// Message joins the failure messages.
func (ar *ActionResponse) Message() string {
	msgs := make([]string, len(ar.failures))
	for i, f := range ar.failures {
		msgs[i] = f.Message
	}
	return strings.Join(msgs, " ")
}

// Err combines the failures into one error, nil on success.
func (ar *ActionResponse) Err() error {
	var err error
	for _, f := range ar.failures {
		err = multierr.Append(err, fmt.Errorf("%s: %s", f.Field, f.Message))
	}
	return err
}

// Diagnostic records a detail for tests and the CLI. Diagnostics are not
// part of the presentation.
func (ar *ActionResponse) Diagnostic(key, value string) {
	if ar.diagnostics == nil {
		ar.diagnostics = make(map[string]string)
	}
	ar.diagnostics[key] = value
}

// ToResponse renders the result: a message tag, then one tag per failing
// field. A failure is marked as an error response.
func (ar *ActionResponse) ToResponse() *protocol.Response {
	r := protocol.NewResponse()
	r.AddTag(protocol.TagMessage, ar.Message())
	for _, f := range ar.failures {
		r.AddTag(f.Field, f.Message)
	}
	r.IsError = !ar.OK()
	keys := make([]string, 0, len(ar.diagnostics))
	for k := range ar.diagnostics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		r.Diagnostic(k, ar.diagnostics[k])
	}
	return r
}

// ValidationError wraps a failed ActionResponse for callers that want an
// error.
type ValidationError struct {
	Response *ActionResponse
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Response.Message()
}

// AsValidation extracts a ValidationError.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	ok := errors.As(err, &ve)
	return ve, ok
}
