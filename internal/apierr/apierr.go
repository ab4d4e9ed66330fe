package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a request failure. Each kind maps to exactly one status code.
type Kind int

const (
	Internal Kind = iota
	MissingCredential
	InvalidCredential
	ResourceNotFound
	RateLimitExceeded
	Validation
	PayloadTooLarge
	Unauthorized
)

func (k Kind) String() string {
	switch k {
	case MissingCredential:
		return "missing_credential"
	case InvalidCredential:
		return "invalid_credential"
	case ResourceNotFound:
		return "resource_not_found"
	case RateLimitExceeded:
		return "rate_limit_exceeded"
	case Validation:
		return "validation"
	case PayloadTooLarge:
		return "payload_too_large"
	case Unauthorized:
		return "unauthorized"
	default:
		return "upstream_failure"
	}
}

// Status returns the HTTP status code for the kind.
func (k Kind) Status() int {
	switch k {
	case MissingCredential, Unauthorized:
		return http.StatusUnauthorized
	case InvalidCredential:
		return http.StatusForbidden
	case ResourceNotFound:
		return http.StatusNotFound
	case RateLimitExceeded:
		return http.StatusTooManyRequests
	case Validation:
		return http.StatusBadRequest
	case PayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// Error is the error value carried to the HTTP boundary.
type Error struct {
	Kind    Kind
	Message string
	Details []string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so callers can write
// errors.Is(err, apierr.ErrNotFound).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrMissingCredential = &Error{Kind: MissingCredential, Message: "API key is required"}
	ErrInvalidCredential = &Error{Kind: InvalidCredential, Message: "Invalid API key"}
	ErrNotFound          = &Error{Kind: ResourceNotFound, Message: "Form not found"}
	ErrRateLimited       = &Error{Kind: RateLimitExceeded, Message: "Too many requests"}
	ErrUnauthorized      = &Error{Kind: Unauthorized, Message: "Unauthorized"}
	ErrPayloadTooLarge   = &Error{Kind: PayloadTooLarge, Message: "Payload too large"}
)

const internalMessage = "Internal server error"

// Upstream wraps a store or network failure. The wrapped error is kept for
// logging and never rendered.
func Upstream(err error) *Error {
	return &Error{Kind: Internal, Message: internalMessage, Err: err}
}

// Invalid builds a validation failure with per-field messages.
func Invalid(details ...string) *Error {
	return &Error{Kind: Validation, Message: "Validation failed", Details: details}
}

// From converts any error to an *Error. Unknown errors become upstream failures.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Upstream(err)
}

// Body is the JSON error shape returned to clients.
type Body struct {
	Error        string   `json:"error"`
	Errors       []string `json:"errors,omitempty"`
	RetryAfterMs int64    `json:"retryAfterMs,omitempty"`
}

// Write renders err as a JSON error response. Internal failures never expose
// the wrapped error text.
func Write(w http.ResponseWriter, err error) {
	e := From(err)
	body := Body{Error: e.Message, Errors: e.Details}
	if e.Kind == Internal {
		body = Body{Error: internalMessage}
	}
	WriteBody(w, e.Kind.Status(), body)
}

// WriteBody writes an arbitrary error body with the given status.
func WriteBody(w http.ResponseWriter, status int, body Body) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
