package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"rpcdemo/internal/coalescer"
	"rpcdemo/internal/jsonrpc"
)

// Kind is the flavour of a remote function
type Kind string

const (
	KindQuery   Kind = "query"   // read-only, cacheable, deduplicated
	KindCommand Kind = "command" // side effects, never cached
	KindForm    Kind = "form"    // accepts form-encoded input
	KindBatch   Kind = "batch"   // single key input, coalesced per window
)

var (
	// ErrNotFound is returned when no function is registered under a name
	ErrNotFound = errors.New("remote function not found")
	// ErrDuplicate is returned when registering a name twice
	ErrDuplicate = errors.New("remote function already registered")
	// ErrKindMismatch is returned when a function is invoked through a surface its kind does not support
	ErrKindMismatch = errors.New("remote function kind not allowed here")
)

// Defaulter is implemented by inputs that fill defaults for missing fields before validation
type Defaulter interface {
	ApplyDefaults()
}

// FormDecoder is implemented by form inputs that convert raw form values themselves
type FormDecoder interface {
	DecodeForm(values url.Values) error
}

// Error is an expected failure reported to the caller with its status and message
type Error struct {
	Status  int
	Message string
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

// NewError creates an expected error with an HTTP-style status
func NewError(status int, message string) *Error {
	return &Error{Status: status, Message: message}
}

// Issue is a single input validation problem
type Issue struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// ValidationError is returned when input does not match the function's schema
type ValidationError struct {
	Function string
	Issues   []Issue
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		msgs[i] = issue.Message
	}
	return fmt.Sprintf("invalid input for %s: %s", e.Function, strings.Join(msgs, "; "))
}

// Function is a registered remote function
type Function struct {
	name     string
	kind     Kind
	call     func(ctx context.Context, params json.RawMessage) (interface{}, error)
	callForm func(ctx context.Context, values url.Values) (interface{}, error)
	stats    func() coalescer.Stats
	flush    func()
}

// Name returns the function name
func (f *Function) Name() string {
	return f.name
}

// Kind returns the function kind
func (f *Function) Kind() Kind {
	return f.kind
}

// Info describes a registered function
type Info struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
}

// RPCError converts an error returned by Registry into a JSON-RPC error.
// Unexpected errors are reported without their detail.
func RPCError(err error) *jsonrpc.Error {
	var rpcErr *jsonrpc.Error
	var remoteErr *Error
	var validationErr *ValidationError

	switch {
	case errors.As(err, &rpcErr):
		return rpcErr
	case errors.As(err, &validationErr):
		return jsonrpc.ErrInvalidParams.WithData(map[string]interface{}{
			"issues": validationErr.Issues,
		})
	case errors.As(err, &remoteErr):
		return jsonrpc.NewErrorWithData(jsonrpc.CodeServerError, remoteErr.Message, map[string]interface{}{
			"status": remoteErr.Status,
		})
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrKindMismatch):
		return jsonrpc.ErrMethodNotFound.WithMessage(err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return jsonrpc.NewError(jsonrpc.CodeServerError, "request timed out")
	default:
		return jsonrpc.ErrInternal
	}
}

// HTTPStatus returns the HTTP status matching an error returned by Registry
func HTTPStatus(err error) int {
	var remoteErr *Error
	var validationErr *ValidationError

	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.As(err, &remoteErr):
		return remoteErr.Status
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrKindMismatch):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// IsExpected reports whether err is part of a function's normal contract
// (an *Error, a validation failure, or an unknown name)
func IsExpected(err error) bool {
	var remoteErr *Error
	var validationErr *ValidationError
	return errors.As(err, &remoteErr) || errors.As(err, &validationErr) ||
		errors.Is(err, ErrNotFound) || errors.Is(err, ErrKindMismatch)
}
