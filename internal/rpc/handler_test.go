package rpc

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"rpcdemo/internal/config"
	"rpcdemo/internal/demo"
	"rpcdemo/internal/jsonrpc"
	"rpcdemo/internal/remote"
)

func newTestServer(t *testing.T, maxBodySize int64) (*httptest.Server, *remote.Registry) {
	t.Helper()
	reg := remote.NewRegistry(remote.Options{}, zerolog.Nop())
	if err := demo.Register(reg, demo.Options{BatchWindow: 20 * time.Millisecond}, zerolog.Nop()); err != nil {
		t.Fatalf("demo.Register() error = %v", err)
	}

	cfg := config.Default()
	cfg.MaxBodySize = maxBodySize

	srv := httptest.NewServer(NewHandler(reg, cfg, zerolog.Nop()))
	t.Cleanup(func() {
		srv.Close()
		reg.Close()
	})
	return srv, reg
}

func postRPC(t *testing.T, srv *httptest.Server, body string) []byte {
	t.Helper()
	resp, err := http.Post(srv.URL+PathRPC, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /rpc error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	return data
}

func decodeRPC(t *testing.T, data []byte) *jsonrpc.Response {
	t.Helper()
	resp, err := jsonrpc.ParseResponse(data)
	if err != nil {
		t.Fatalf("failed to parse response %s: %v", data, err)
	}
	return resp
}

func TestHandler_SingleRequest(t *testing.T) {
	srv, _ := newTestServer(t, 0)

	resp := decodeRPC(t, postRPC(t, srv, `{"jsonrpc":"2.0","id":1,"method":"getUserById","params":"admin"}`))
	if resp.HasError() {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	var user demo.User
	if err := resp.GetResultAs(&user); err != nil {
		t.Fatalf("GetResultAs() error = %v", err)
	}
	if user.Role != "Administrator" {
		t.Errorf("expected Administrator, got %q", user.Role)
	}
}

func TestHandler_BatchCoalesces(t *testing.T) {
	srv, reg := newTestServer(t, 0)

	body := `[
		{"jsonrpc":"2.0","id":1,"method":"getUserById","params":"a"},
		{"jsonrpc":"2.0","id":2,"method":"getUserById","params":"b"},
		{"jsonrpc":"2.0","id":3,"method":"getPostsByUserId","params":"a"},
		{"jsonrpc":"2.0","id":4,"method":"getUserById","params":"a"}
	]`
	responses, isBatch, err := jsonrpc.ParseBatchResponse(postRPC(t, srv, body))
	if err != nil || !isBatch {
		t.Fatalf("expected batch response, err = %v", err)
	}
	if len(responses) != 4 {
		t.Fatalf("expected 4 responses, got %d", len(responses))
	}

	for i, resp := range responses {
		if resp.HasError() {
			t.Fatalf("response %d: unexpected error %+v", i, resp.Error)
		}
		if id, _ := resp.ID.Int64(); int(id) != i+1 {
			t.Errorf("response %d: expected id %d, got %v", i, i+1, resp.ID.Value())
		}
	}

	var user demo.User
	responses[1].GetResultAs(&user)
	if user.ID != "b" {
		t.Errorf("expected user b at index 1, got %+v", user)
	}
	var posts []demo.Post
	responses[2].GetResultAs(&posts)
	if len(posts) != 3 {
		t.Errorf("expected 3 posts, got %d", len(posts))
	}

	stats := reg.BatchStats()[demo.GetUserByID]
	if stats.Batches != 1 || stats.Keys != 2 || stats.Requests != 3 {
		t.Errorf("expected one batch with 2 keys from 3 requests, got %+v", stats)
	}
}

func TestHandler_BatchWithInvalidElement(t *testing.T) {
	srv, _ := newTestServer(t, 0)

	body := `[1, {"jsonrpc":"2.0","id":2,"method":"getUserById","params":"a"}]`
	responses, isBatch, err := jsonrpc.ParseBatchResponse(postRPC(t, srv, body))
	if err != nil || !isBatch {
		t.Fatalf("expected batch response, err = %v", err)
	}
	if len(responses) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(responses))
	}

	if responses[0].Error == nil || responses[0].Error.Code != jsonrpc.CodeInvalidRequest {
		t.Errorf("expected invalid request for element 0, got %+v", responses[0].Error)
	}
	if !responses[0].ID.IsNull() {
		t.Errorf("expected null id for element 0, got %s", responses[0].ID)
	}

	if responses[1].HasError() {
		t.Fatalf("element 1: unexpected error %+v", responses[1].Error)
	}
	var user demo.User
	if err := responses[1].GetResultAs(&user); err != nil || user.ID != "a" {
		t.Errorf("expected user a, got %+v (%v)", user, err)
	}
}

func TestHandler_Errors(t *testing.T) {
	srv, _ := newTestServer(t, 0)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"parse error", `{"jsonrpc":`, jsonrpc.CodeParseError},
		{"empty batch", `[]`, jsonrpc.CodeInvalidRequest},
		{"bad version", `{"jsonrpc":"1.0","id":1,"method":"getUserById"}`, jsonrpc.CodeInvalidRequest},
		{"unknown method", `{"jsonrpc":"2.0","id":1,"method":"nope"}`, jsonrpc.CodeMethodNotFound},
		{"invalid params", `{"jsonrpc":"2.0","id":1,"method":"incrementCounter","params":{}}`, jsonrpc.CodeInvalidParams},
		{"batch key not a string", `{"jsonrpc":"2.0","id":1,"method":"getUserById","params":5}`, jsonrpc.CodeInvalidParams},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := decodeRPC(t, postRPC(t, srv, tt.body))
			if !resp.HasError() {
				t.Fatalf("expected error, got result %s", resp.Result)
			}
			if resp.Error.Code != tt.code {
				t.Errorf("expected code %d, got %d (%s)", tt.code, resp.Error.Code, resp.Error.Message)
			}
		})
	}
}

func TestHandler_ErrorData(t *testing.T) {
	srv, _ := newTestServer(t, 0)

	resp := decodeRPC(t, postRPC(t, srv, `{"jsonrpc":"2.0","id":1,"method":"getErrorQuery"}`))
	if resp.Error == nil || resp.Error.Code != jsonrpc.CodeServerError {
		t.Fatalf("expected server error, got %+v", resp.Error)
	}
	var data struct {
		Status int `json:"status"`
	}
	if err := json.Unmarshal(resp.Error.Data, &data); err != nil || data.Status != http.StatusInternalServerError {
		t.Errorf("expected data.status 500, got %s", resp.Error.Data)
	}

	resp = decodeRPC(t, postRPC(t, srv, `{"jsonrpc":"2.0","id":2,"method":"testForm","params":{"message":""}}`))
	if resp.Error == nil || resp.Error.Code != jsonrpc.CodeInvalidParams {
		t.Fatalf("expected invalid params, got %+v", resp.Error)
	}
	var issues struct {
		Issues []remote.Issue `json:"issues"`
	}
	if err := json.Unmarshal(resp.Error.Data, &issues); err != nil || len(issues.Issues) != 1 {
		t.Fatalf("expected one issue, got %s", resp.Error.Data)
	}
	if issues.Issues[0].Field != "message" || issues.Issues[0].Message != "Message is required" {
		t.Errorf("unexpected issue %+v", issues.Issues[0])
	}
}

func TestHandler_BodyTooLarge(t *testing.T) {
	srv, _ := newTestServer(t, 32)

	resp := decodeRPC(t, postRPC(t, srv, `{"jsonrpc":"2.0","id":1,"method":"getUserById","params":"a-very-long-user-identifier"}`))
	if resp.Error == nil || resp.Error.Code != jsonrpc.CodeInvalidRequest {
		t.Errorf("expected invalid request, got %+v", resp.Error)
	}
}

func readFormResponse(t *testing.T, resp *http.Response) FormResponse {
	t.Helper()
	defer resp.Body.Close()
	var out FormResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode form response: %v", err)
	}
	return out
}

func TestHandler_Form(t *testing.T) {
	srv, _ := newTestServer(t, 0)

	resp, err := http.PostForm(srv.URL+PathForm+demo.TestForm, url.Values{"message": {"hi"}, "count": {"4"}})
	if err != nil {
		t.Fatalf("PostForm() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	out := readFormResponse(t, resp)
	var result demo.TestFormResult
	if err := json.Unmarshal(out.Result, &result); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	if !result.Success || result.Data.Message != "hi" || result.Data.Count != 4 {
		t.Errorf("unexpected result %+v", result)
	}

	resp, err = http.PostForm(srv.URL+PathForm+demo.TestForm, url.Values{"message": {""}})
	if err != nil {
		t.Fatalf("PostForm() error = %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
	if out := readFormResponse(t, resp); out.Error == nil || out.Error.Code != jsonrpc.CodeInvalidParams {
		t.Errorf("expected invalid params error, got %+v", out.Error)
	}

	resp, err = http.PostForm(srv.URL+PathForm+demo.GetDelayedTime, url.Values{})
	if err != nil {
		t.Fatalf("PostForm() error = %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for non-form function, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestHandler_FormRejectsNonFiniteCount(t *testing.T) {
	srv, _ := newTestServer(t, 0)

	for _, count := range []string{"NaN", "Infinity"} {
		resp, err := http.PostForm(srv.URL+PathForm+demo.TestForm, url.Values{"message": {"hi"}, "count": {count}})
		if err != nil {
			t.Fatalf("PostForm() error = %v", err)
		}
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("count=%s: expected 400, got %d", count, resp.StatusCode)
		}
		if out := readFormResponse(t, resp); out.Error == nil || out.Error.Code != jsonrpc.CodeInvalidParams {
			t.Errorf("count=%s: expected invalid params error, got %+v", count, out.Error)
		}
	}
}

func TestHandler_MultipartForm(t *testing.T) {
	srv, _ := newTestServer(t, 0)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("message", "from multipart")
	mw.WriteField("count", "")
	mw.Close()

	resp, err := http.Post(srv.URL+PathForm+demo.TestForm, mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var result demo.TestFormResult
	if err := json.Unmarshal(readFormResponse(t, resp).Result, &result); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	if result.Data.Message != "from multipart" || result.Data.Count != 0 {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestHandler_Query(t *testing.T) {
	srv, _ := newTestServer(t, 0)

	resp, err := http.Get(srv.URL + PathQuery + demo.GetDelayedTime + "?payload=" + url.QueryEscape(`{"delay":5}`))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var result demo.DelayedTime
	if err := json.Unmarshal(readFormResponse(t, resp).Result, &result); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	if result.Delay != 5 {
		t.Errorf("expected delay 5, got %v", result.Delay)
	}

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"command", PathQuery + demo.IncrementCounter, http.StatusNotFound},
		{"unknown", PathQuery + "nope", http.StatusNotFound},
		{"bad payload", PathQuery + demo.GetDelayedTime + "?payload=%7B", http.StatusBadRequest},
		{"expected error", PathQuery + demo.GetErrorQuery, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.path)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Errorf("expected %d, got %d", tt.status, resp.StatusCode)
			}
		})
	}
}

func TestHandler_Functions(t *testing.T) {
	srv, _ := newTestServer(t, 0)

	resp, err := http.Get(srv.URL + PathFunctions)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer resp.Body.Close()

	var infos []remote.Info
	if err := json.NewDecoder(resp.Body).Decode(&infos); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(infos) != 11 {
		t.Errorf("expected 11 functions, got %d", len(infos))
	}
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t, 0)

	resp, err := http.Get(srv.URL + PathRPC)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", resp.StatusCode)
	}
}
