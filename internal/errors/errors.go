package errors

import (
	"fmt"
	"net/http"
)

// Kind enumerates the failure classes a transformation can surface.
type Kind int

const (
	// KindPayloadTooLarge is raised when a direction's buffered body exceeds
	// its configured limit.
	KindPayloadTooLarge Kind = iota
	// KindJSONParse is raised when the body could not be parsed as JSON and
	// the transformation does not ignore parse errors.
	KindJSONParse
	// KindTemplateRender is raised when rendering a template fails at runtime.
	KindTemplateRender
	// KindTransformationNotFound is raised in functional mode when no
	// transformation resolves for the current function.
	KindTransformationNotFound
)

func (k Kind) String() string {
	switch k {
	case KindPayloadTooLarge:
		return "payload_too_large"
	case KindJSONParse:
		return "json_parse_error"
	case KindTemplateRender:
		return "template_render_error"
	case KindTransformationNotFound:
		return "transformation_not_found"
	}
	return "unknown"
}

// FilterError is an error that maps to a client-visible HTTP status and body.
// The filter inspects the kind to pick the direction-specific surfacing rule.
type FilterError struct {
	Kind       Kind
	Status     int
	Message    string
	underlying error
}

func (e *FilterError) Error() string {
	if e.underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.underlying)
	}
	return e.Message
}

func (e *FilterError) Unwrap() error { return e.underlying }

// Body returns the plaintext body sent to the client.
func (e *FilterError) Body() string { return e.Message }

// New creates a FilterError for the given kind. detail, when non-empty, is
// appended to the canned message so clients see the embedded library's
// description without any template text.
func New(kind Kind, detail string) *FilterError {
	e := &FilterError{Kind: kind}
	switch kind {
	case KindPayloadTooLarge:
		e.Status = http.StatusRequestEntityTooLarge
		e.Message = "payload too large"
	case KindJSONParse, KindTemplateRender:
		e.Status = http.StatusBadRequest
		e.Message = "bad request"
	case KindTransformationNotFound:
		e.Status = http.StatusNotFound
		e.Message = "transformation for function not found"
	default:
		e.Status = http.StatusInternalServerError
		e.Message = "internal error"
	}
	if detail != "" {
		e.Message = e.Message + ": " + detail
	}
	return e
}

// Wrap creates a FilterError for kind carrying err as detail and cause.
func Wrap(kind Kind, err error) *FilterError {
	if err == nil {
		return New(kind, "")
	}
	e := New(kind, err.Error())
	e.underlying = err
	return e
}

// AsFilterError checks whether err is a FilterError.
func AsFilterError(err error) (*FilterError, bool) {
	fe, ok := err.(*FilterError)
	return fe, ok
}
