package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Request is a call to a remote function. Method carries the function name.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      ID              `json:"id"`

	invalid bool // set for batch elements that were not request objects
}

// Response carries either the result of a call or its error
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      ID              `json:"id"`
}

// NewRequest creates a request, encoding params when they are not nil
func NewRequest(method string, params interface{}, id ID) (*Request, error) {
	req := &Request{JSONRPC: Version, Method: method, ID: id}
	if params == nil {
		return req, nil
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params for %s: %w", method, err)
	}
	req.Params = raw
	return req, nil
}

// Validate reports an invalid request error when the envelope is malformed
func (r *Request) Validate() *Error {
	switch {
	case r.invalid:
		return ErrInvalidRequest
	case r.JSONRPC != Version:
		return NewError(CodeInvalidRequest, fmt.Sprintf("invalid jsonrpc version: %q", r.JSONRPC))
	case r.Method == "":
		return NewError(CodeInvalidRequest, "method is required")
	}
	return nil
}

// IsNotification returns true if the request has no id
func (r *Request) IsNotification() bool {
	return r.ID.IsNull()
}

// Bytes returns the request as JSON bytes
func (r *Request) Bytes() ([]byte, error) {
	return json.Marshal(r)
}

// NewResponse creates a successful response. A nil result is encoded as JSON null.
func NewResponse(id ID, result interface{}) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return NewResponseRaw(id, raw), nil
}

// NewResponseRaw creates a response around an encoded result
func NewResponseRaw(id ID, result json.RawMessage) *Response {
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	return &Response{JSONRPC: Version, Result: result, ID: id}
}

// NewErrorResponse creates an error response
func NewErrorResponse(id ID, err *Error) *Response {
	return &Response{JSONRPC: Version, Error: err, ID: id}
}

// HasError returns true if the response contains an error
func (r *Response) HasError() bool {
	return r.Error != nil
}

// ResultIsNull returns true if the result is missing or JSON null
func (r *Response) ResultIsNull() bool {
	return r == nil || len(r.Result) == 0 || bytes.Equal(r.Result, []byte("null"))
}

// GetResultAs unmarshals the result into v. A null result leaves v untouched.
func (r *Response) GetResultAs(v interface{}) error {
	if r.ResultIsNull() {
		return nil
	}
	return json.Unmarshal(r.Result, v)
}

// Bytes returns the response as JSON bytes
func (r *Response) Bytes() ([]byte, error) {
	return json.Marshal(r)
}

// ParseBatchRequest parses either a single request or a batch array. The
// second return value reports whether the payload was an array.
func ParseBatchRequest(data []byte) ([]*Request, bool, error) {
	requests, isBatch, err := parseBatch[Request](data, func(json.RawMessage, error) *Request {
		return &Request{invalid: true}
	})
	if err != nil {
		return nil, isBatch, err
	}
	if isBatch && len(requests) == 0 {
		return nil, true, ErrInvalidRequest
	}
	return requests, isBatch, nil
}

// ParseResponse parses a single response
func ParseResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &resp, nil
}

// ParseBatchResponse parses either a single response or a batch array
func ParseBatchResponse(data []byte) ([]*Response, bool, error) {
	return parseBatch[Response](data, nil)
}

// MarshalBatchResponse marshals responses as a JSON array
func MarshalBatchResponse(responses []*Response) ([]byte, error) {
	return json.Marshal(responses)
}

// parseBatch decodes a JSON object or an array of objects. Empty input is an
// invalid request, malformed JSON is a plain error. Array elements are decoded
// one by one: an element that is not an object, null included, is replaced by
// onInvalid, or fails the whole array when onInvalid is nil.
func parseBatch[T any](data []byte, onInvalid func(json.RawMessage, error) *T) ([]*T, bool, error) {
	data = bytes.TrimLeft(data, " \t\r\n")
	if len(data) == 0 {
		return nil, false, ErrInvalidRequest
	}

	if data[0] != '[' {
		var item T
		if err := json.Unmarshal(data, &item); err != nil {
			return nil, false, fmt.Errorf("failed to parse message: %w", err)
		}
		return []*T{&item}, false, nil
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, true, fmt.Errorf("failed to parse batch: %w", err)
	}

	items := make([]*T, len(raws))
	for i, raw := range raws {
		item, err := decodeObject[T](raw)
		if err != nil {
			if onInvalid == nil {
				return nil, true, fmt.Errorf("failed to parse batch element %d: %w", i, err)
			}
			item = onInvalid(raw, err)
		}
		items[i] = item
	}
	return items, true, nil
}

// decodeObject decodes raw into a new T. Only JSON objects are accepted.
func decodeObject[T any](raw json.RawMessage) (*T, error) {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("expected an object")
	}
	var item T
	if err := json.Unmarshal(trimmed, &item); err != nil {
		return nil, err
	}
	return &item, nil
}
