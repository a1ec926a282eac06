package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Version is the JSON-RPC version
const Version = "2.0"

// Error codes. Failures raised by a remote function itself use CodeServerError.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeServerError    = -32000
)

// ID is a request id: a string, a number or null
type ID struct {
	value interface{}
}

// NewIDString creates an ID from a string
func NewIDString(s string) ID {
	return ID{value: s}
}

// NewIDInt creates an ID from an integer
func NewIDInt(n int64) ID {
	return ID{value: n}
}

// NewIDNull creates a null ID
func NewIDNull() ID {
	return ID{}
}

// IsNull returns true if the ID is null or was omitted
func (id ID) IsNull() bool {
	return id.value == nil
}

// Value returns the decoded value: string, json.Number, int64 or nil
func (id ID) Value() interface{} {
	return id.value
}

// Int64 returns the ID as an integer when it is an integral number
func (id ID) Int64() (int64, bool) {
	switch v := id.value.(type) {
	case int64:
		return v, true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	}
	return 0, false
}

// String formats the ID for logging
func (id ID) String() string {
	switch v := id.value.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(v)
	default:
		return fmt.Sprint(v)
	}
}

// MarshalJSON implements json.Marshaler
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.value)
}

// UnmarshalJSON implements json.Unmarshaler. Numbers are kept as json.Number
// so large integer ids round-trip unchanged.
func (id *ID) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return err
	}
	switch v.(type) {
	case nil, string, json.Number:
		id.value = v
		return nil
	}
	return fmt.Errorf("id must be a string, number or null")
}

// Error is the error object of a response
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface
func (e *Error) Error() string {
	return e.Message
}

// DecodeData unmarshals the error data into v. Missing data leaves v untouched.
func (e *Error) DecodeData(v interface{}) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// WithMessage returns a copy of e with a more specific message
func (e *Error) WithMessage(message string) *Error {
	return &Error{Code: e.Code, Message: message, Data: e.Data}
}

// WithData returns a copy of e carrying data
func (e *Error) WithData(data interface{}) *Error {
	return NewErrorWithData(e.Code, e.Message, data)
}

// NewError creates a new JSON-RPC error
func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorWithData creates an error carrying data. Data that cannot be
// encoded is dropped.
func NewErrorWithData(code int, message string, data interface{}) *Error {
	e := NewError(code, message)
	if data == nil {
		return e
	}
	if raw, err := json.Marshal(data); err == nil {
		e.Data = raw
	}
	return e
}

var (
	ErrParse          = NewError(CodeParseError, "Parse error")
	ErrInvalidRequest = NewError(CodeInvalidRequest, "Invalid Request")
	ErrMethodNotFound = NewError(CodeMethodNotFound, "Method not found")
	ErrInvalidParams  = NewError(CodeInvalidParams, "Invalid params")
	ErrInternal       = NewError(CodeInternalError, "Internal Error")
)
