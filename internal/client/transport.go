package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"rpcdemo/internal/jsonrpc"
)

// Transport delivers JSON-RPC requests to a server
type Transport interface {
	Execute(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error)
	ExecuteBatch(ctx context.Context, requests []*jsonrpc.Request) ([]*jsonrpc.Response, error)
	Close()
}

// HTTPTransport sends JSON-RPC over HTTP POST
type HTTPTransport struct {
	url        string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewHTTPTransport creates a transport posting to url
func NewHTTPTransport(url string, timeout time.Duration, logger zerolog.Logger) *HTTPTransport {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}

	return &HTTPTransport{
		url: url,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		logger: logger.With().Str("transport", "http").Logger(),
	}
}

// Execute sends a single JSON-RPC request
func (t *HTTPTransport) Execute(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	reqBytes, err := req.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	body, err := t.post(ctx, reqBytes)
	if err != nil {
		return nil, err
	}

	resp, err := jsonrpc.ParseResponse(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return resp, nil
}

// ExecuteBatch sends requests as one JSON-RPC batch array in a single HTTP request
func (t *HTTPTransport) ExecuteBatch(ctx context.Context, requests []*jsonrpc.Request) ([]*jsonrpc.Response, error) {
	reqBytes, err := json.Marshal(requests)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch request: %w", err)
	}

	body, err := t.post(ctx, reqBytes)
	if err != nil {
		return nil, err
	}

	responses, _, err := jsonrpc.ParseBatchResponse(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse batch response: %w", err)
	}
	return responses, nil
}

func (t *HTTPTransport) post(ctx context.Context, payload []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// Close releases idle connections
func (t *HTTPTransport) Close() {
	t.httpClient.CloseIdleConnections()
}
