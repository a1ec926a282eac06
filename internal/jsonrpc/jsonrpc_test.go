package jsonrpc

import (
	"encoding/json"
	"testing"
)

func TestParseBatchRequest_Single(t *testing.T) {
	reqs, isBatch, err := ParseBatchRequest([]byte(` {"jsonrpc":"2.0","method":"getUserById","params":"a","id":1}`))
	if err != nil {
		t.Fatalf("ParseBatchRequest: %v", err)
	}
	if isBatch {
		t.Error("isBatch = true, want false")
	}
	if len(reqs) != 1 || reqs[0].Method != "getUserById" {
		t.Fatalf("reqs = %+v", reqs)
	}
	if err := reqs[0].Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestParseBatchRequest_Batch(t *testing.T) {
	data := []byte(`[{"jsonrpc":"2.0","method":"a","id":1},{"jsonrpc":"2.0","method":"b","id":"x"}]`)
	reqs, isBatch, err := ParseBatchRequest(data)
	if err != nil {
		t.Fatalf("ParseBatchRequest: %v", err)
	}
	if !isBatch || len(reqs) != 2 {
		t.Fatalf("isBatch=%v len=%d", isBatch, len(reqs))
	}
	if reqs[1].ID.Value() != "x" {
		t.Errorf("ID = %v, want x", reqs[1].ID.Value())
	}
}

func TestParseBatchRequest_Invalid(t *testing.T) {
	cases := []string{"", "   ", "[]", "{not json"}
	for _, c := range cases {
		if _, _, err := ParseBatchRequest([]byte(c)); err == nil {
			t.Errorf("ParseBatchRequest(%q): expected error", c)
		}
	}
}

func TestRequest_Validate(t *testing.T) {
	req := &Request{JSONRPC: "1.0", Method: "x"}
	if err := req.Validate(); err == nil {
		t.Error("expected version error")
	}
	req = &Request{JSONRPC: Version}
	if err := req.Validate(); err == nil {
		t.Error("expected method error")
	}
}

func TestNewResponse_NilResultIsNull(t *testing.T) {
	resp, err := NewResponse(NewIDInt(7), nil)
	if err != nil {
		t.Fatalf("NewResponse: %v", err)
	}
	data, err := resp.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if string(decoded["result"]) != "null" {
		t.Errorf("result = %s, want null", decoded["result"])
	}
	if !resp.ResultIsNull() {
		t.Error("ResultIsNull = false")
	}
}

func TestNewErrorWithData(t *testing.T) {
	e := NewErrorWithData(CodeServerError, "boom", map[string]int{"status": 500})
	if string(e.Data) != `{"status":500}` {
		t.Errorf("data = %s", e.Data)
	}
	if e.Error() != "boom" {
		t.Errorf("Error() = %s", e.Error())
	}
}

func TestParseBatchRequest_NullElement(t *testing.T) {
	reqs, _, err := ParseBatchRequest([]byte(`[null,{"jsonrpc":"2.0","method":"a","id":1}]`))
	if err != nil {
		t.Fatalf("ParseBatchRequest: %v", err)
	}
	if reqs[0] == nil {
		t.Fatal("null element should become an empty request")
	}
	if rpcErr := reqs[0].Validate(); rpcErr == nil || rpcErr.Code != CodeInvalidRequest {
		t.Errorf("Validate = %v, want invalid request", rpcErr)
	}
}

func TestParseBatchRequest_NonObjectElements(t *testing.T) {
	data := []byte(`[1, "x", true, {"jsonrpc":"2.0","method":"getUserById","params":"a","id":2}]`)
	reqs, isBatch, err := ParseBatchRequest(data)
	if err != nil {
		t.Fatalf("ParseBatchRequest: %v", err)
	}
	if !isBatch || len(reqs) != 4 {
		t.Fatalf("isBatch=%v len=%d", isBatch, len(reqs))
	}
	for i := 0; i < 3; i++ {
		if rpcErr := reqs[i].Validate(); rpcErr != ErrInvalidRequest {
			t.Errorf("element %d: Validate = %v, want invalid request", i, rpcErr)
		}
		if !reqs[i].ID.IsNull() {
			t.Errorf("element %d: id = %s, want null", i, reqs[i].ID)
		}
	}
	if rpcErr := reqs[3].Validate(); rpcErr != nil {
		t.Errorf("valid element: Validate = %v", rpcErr)
	}
}

func TestParseBatchResponse_NonObjectElement(t *testing.T) {
	if _, _, err := ParseBatchResponse([]byte(`[1]`)); err == nil {
		t.Error("expected error for non-object response")
	}
}

func TestID_LargeIntegerRoundTrip(t *testing.T) {
	data := []byte(`{"jsonrpc":"2.0","method":"a","id":9007199254740993}`)
	reqs, _, err := ParseBatchRequest(data)
	if err != nil {
		t.Fatalf("ParseBatchRequest: %v", err)
	}
	if n, ok := reqs[0].ID.Int64(); !ok || n != 9007199254740993 {
		t.Errorf("Int64 = %d, %v", n, ok)
	}
	out, err := json.Marshal(reqs[0].ID)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(out) != "9007199254740993" {
		t.Errorf("id = %s", out)
	}

	var frac Request
	if err := json.Unmarshal([]byte(`{"id":1.5}`), &frac); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, ok := frac.ID.Int64(); ok {
		t.Error("fractional id should not be an integer")
	}
}

func TestError_WithMessageAndData(t *testing.T) {
	e := ErrMethodNotFound.WithMessage("remote function not found: nope")
	if e.Code != CodeMethodNotFound || e.Message != "remote function not found: nope" {
		t.Errorf("WithMessage = %+v", e)
	}
	if ErrMethodNotFound.Message != "Method not found" {
		t.Error("WithMessage modified the shared error")
	}

	e = ErrInvalidParams.WithData(map[string]int{"n": 1})
	if e.Code != CodeInvalidParams || string(e.Data) != `{"n":1}` {
		t.Errorf("WithData = %+v", e)
	}
	if ErrInvalidParams.Data != nil {
		t.Error("WithData modified the shared error")
	}
}

func TestRequest_IsNotification(t *testing.T) {
	reqs, _, err := ParseBatchRequest([]byte(`[{"jsonrpc":"2.0","method":"a"},{"jsonrpc":"2.0","method":"a","id":0}]`))
	if err != nil {
		t.Fatalf("ParseBatchRequest: %v", err)
	}
	if !reqs[0].IsNotification() {
		t.Error("request without id should be a notification")
	}
	if reqs[1].IsNotification() {
		t.Error("request with id 0 is not a notification")
	}
}

func TestID(t *testing.T) {
	var req Request
	if err := json.Unmarshal([]byte(`{"id":42}`), &req); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if n, ok := req.ID.Int64(); !ok || n != 42 {
		t.Errorf("Int64 = %d, %v", n, ok)
	}
	if req.ID.String() != "42" {
		t.Errorf("String = %s", req.ID.String())
	}

	if _, ok := NewIDString("7").Int64(); ok {
		t.Error("string id should not be numeric")
	}
	if NewIDString("x").String() != `"x"` {
		t.Errorf("String = %s", NewIDString("x").String())
	}
	if !NewIDNull().IsNull() || NewIDNull().String() != "null" {
		t.Error("null id")
	}

	if err := json.Unmarshal([]byte(`{"id":{"a":1}}`), &req); err == nil {
		t.Error("expected error for object id")
	}
}

func TestError_DecodeData(t *testing.T) {
	e := NewErrorWithData(CodeInvalidParams, "Invalid params", map[string]interface{}{
		"issues": []map[string]string{{"field": "orgId", "message": "OrgId is required"}},
	})
	var data struct {
		Issues []struct {
			Field   string `json:"field"`
			Message string `json:"message"`
		} `json:"issues"`
	}
	if err := e.DecodeData(&data); err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	if len(data.Issues) != 1 || data.Issues[0].Field != "orgId" {
		t.Errorf("issues = %+v", data.Issues)
	}

	if err := NewError(CodeInternalError, "x").DecodeData(&data); err != nil {
		t.Errorf("DecodeData without data: %v", err)
	}
}
