package client

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"rpcdemo/internal/jsonrpc"
)

// WSTransport multiplexes JSON-RPC requests over one WebSocket connection
type WSTransport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	logger  zerolog.Logger

	pending   map[int64]chan *jsonrpc.Response
	pendingMu sync.Mutex
	reqID     atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

// DialWS connects to a WebSocket JSON-RPC endpoint
func DialWS(ctx context.Context, url string, logger zerolog.Logger) (*WSTransport, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect WebSocket: %w", err)
	}

	t := &WSTransport{
		conn:    conn,
		logger:  logger.With().Str("transport", "ws").Logger(),
		pending: make(map[int64]chan *jsonrpc.Response),
		done:    make(chan struct{}),
	}
	go t.readLoop()

	t.logger.Debug().Str("url", url).Msg("WebSocket connected")
	return t, nil
}

// readLoop routes responses to their waiting callers by ID
func (t *WSTransport) readLoop() {
	defer t.Close()

	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			select {
			case <-t.done:
			default:
				t.logger.Debug().Err(err).Msg("read error")
			}
			return
		}

		resp, err := jsonrpc.ParseResponse(data)
		if err != nil {
			t.logger.Warn().Err(err).Msg("unexpected message")
			continue
		}

		id, ok := resp.ID.Int64()
		if !ok {
			t.logger.Warn().Stringer("id", resp.ID).Msg("response without numeric id")
			continue
		}

		t.pendingMu.Lock()
		ch, exists := t.pending[id]
		delete(t.pending, id)
		t.pendingMu.Unlock()

		if exists {
			ch <- resp
		}
	}
}

// Execute sends one request and waits for its response
func (t *WSTransport) Execute(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	reqID := t.reqID.Add(1)
	respChan := make(chan *jsonrpc.Response, 1)

	t.pendingMu.Lock()
	t.pending[reqID] = respChan
	t.pendingMu.Unlock()

	wsReq := *req
	wsReq.ID = jsonrpc.NewIDInt(reqID)

	reqBytes, err := wsReq.Bytes()
	if err == nil {
		t.writeMu.Lock()
		err = t.conn.WriteMessage(websocket.TextMessage, reqBytes)
		t.writeMu.Unlock()
	}
	if err != nil {
		t.forget(reqID)
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	select {
	case resp := <-respChan:
		if resp == nil {
			return nil, fmt.Errorf("connection closed")
		}
		resp.ID = req.ID
		return resp, nil
	case <-ctx.Done():
		t.forget(reqID)
		return nil, ctx.Err()
	}
}

// ExecuteBatch sends every request as its own message. The server handles
// messages concurrently, so calls to batch functions still share a batch.
func (t *WSTransport) ExecuteBatch(ctx context.Context, requests []*jsonrpc.Request) ([]*jsonrpc.Response, error) {
	responses := make([]*jsonrpc.Response, len(requests))
	errs := make([]error, len(requests))

	var wg sync.WaitGroup
	for i, req := range requests {
		wg.Add(1)
		go func(i int, req *jsonrpc.Request) {
			defer wg.Done()
			responses[i], errs[i] = t.Execute(ctx, req)
		}(i, req)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return responses, nil
}

func (t *WSTransport) forget(id int64) {
	t.pendingMu.Lock()
	delete(t.pending, id)
	t.pendingMu.Unlock()
}

// Close closes the connection and fails pending requests
func (t *WSTransport) Close() {
	t.closeOnce.Do(func() {
		close(t.done)

		t.writeMu.Lock()
		t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		t.writeMu.Unlock()
		t.conn.Close()

		t.pendingMu.Lock()
		for id, ch := range t.pending {
			close(ch)
			delete(t.pending, id)
		}
		t.pendingMu.Unlock()
	})
}
