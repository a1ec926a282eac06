package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"rpcdemo/internal/jsonrpc"
)

// Call is one element of a batch
type Call struct {
	Method string
	Params interface{}
}

// Client calls remote functions through a Transport
type Client struct {
	transport Transport
	nextID    atomic.Int64
	logger    zerolog.Logger
}

// New creates a new Client
func New(transport Transport, logger zerolog.Logger) *Client {
	return &Client{
		transport: transport,
		logger:    logger.With().Str("component", "client").Logger(),
	}
}

// NewHTTP creates a Client posting to an HTTP JSON-RPC endpoint
func NewHTTP(url string, logger zerolog.Logger) *Client {
	return New(NewHTTPTransport(url, 0, logger), logger)
}

func (c *Client) newRequest(method string, params interface{}) (*jsonrpc.Request, error) {
	return jsonrpc.NewRequest(method, params, jsonrpc.NewIDInt(c.nextID.Add(1)))
}

// Call invokes method and decodes its result into result. A JSON-RPC error
// is returned as *jsonrpc.Error.
func (c *Client) Call(ctx context.Context, method string, params interface{}, result interface{}) error {
	req, err := c.newRequest(method, params)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.transport.Execute(ctx, req)
	if err != nil {
		return err
	}
	if resp.HasError() {
		return resp.Error
	}
	if result == nil {
		return nil
	}
	if err := resp.GetResultAs(result); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}

// CallBatch sends calls as one JSON-RPC batch and returns the responses in call order
func (c *Client) CallBatch(ctx context.Context, calls []Call) ([]*jsonrpc.Response, error) {
	if len(calls) == 0 {
		return nil, nil
	}

	requests := make([]*jsonrpc.Request, len(calls))
	index := make(map[int64]int, len(calls))
	for i, call := range calls {
		req, err := c.newRequest(call.Method, call.Params)
		if err != nil {
			return nil, fmt.Errorf("failed to build request %d: %w", i, err)
		}
		requests[i] = req
		id, _ := req.ID.Int64()
		index[id] = i
	}

	responses, err := c.transport.ExecuteBatch(ctx, requests)
	if err != nil {
		return nil, err
	}

	// Batch responses may come back in any order
	ordered := make([]*jsonrpc.Response, len(calls))
	for _, resp := range responses {
		id, ok := resp.ID.Int64()
		if !ok {
			continue
		}
		if i, exists := index[id]; exists {
			ordered[i] = resp
		}
	}
	for i, resp := range ordered {
		if resp == nil {
			return nil, fmt.Errorf("missing response for %s", calls[i].Method)
		}
	}
	return ordered, nil
}

// Close releases the transport
func (c *Client) Close() {
	c.transport.Close()
}

// decodeResult decodes a batch response element
func decodeResult(resp *jsonrpc.Response, v interface{}) error {
	if resp.HasError() {
		return resp.Error
	}
	return json.Unmarshal(resp.Result, v)
}
