package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"rpcdemo/internal/jsonrpc"
	"rpcdemo/internal/remote"
	"rpcdemo/internal/rpc"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024 // 1MB
	sendBufferSize = 256
)

// Client represents a WebSocket client connection
type Client struct {
	conn     *websocket.Conn
	registry *remote.Registry
	logger   zerolog.Logger

	sendChan  chan []byte
	closeChan chan struct{}
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	inflight  sync.WaitGroup
}

// NewClient creates a new WebSocket client. Calls made for the client are
// cancelled when ctx is done or the client is closed.
func NewClient(ctx context.Context, conn *websocket.Conn, reg *remote.Registry, logger zerolog.Logger) *Client {
	ctx, cancel := context.WithCancel(ctx)
	return &Client{
		conn:      conn,
		registry:  reg,
		logger:    logger,
		sendChan:  make(chan []byte, sendBufferSize),
		closeChan: make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Run starts the client read and write loops and blocks until the connection closes
func (c *Client) Run() {
	ctx := c.ctx

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.writePump(ctx)

	c.readPump(ctx)
	c.inflight.Wait()
}

// readPump reads messages from the WebSocket connection. Every message is
// handled in its own goroutine so calls from separate messages can coalesce.
func (c *Client) readPump(ctx context.Context) {
	defer c.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeChan:
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug().Err(err).Msg("read error")
			}
			return
		}

		c.inflight.Add(1)
		go func() {
			defer c.inflight.Done()
			c.handleMessage(ctx, data)
		}()
	}
}

// writePump writes messages to the WebSocket connection
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeChan:
			return
		case data := <-c.sendChan:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug().Err(err).Msg("write error")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage executes one incoming message and queues its reply
func (c *Client) handleMessage(ctx context.Context, data []byte) {
	requests, isBatch, err := jsonrpc.ParseBatchRequest(data)
	switch {
	case err != nil:
		rpcErr := jsonrpc.ErrParse
		errors.As(err, &rpcErr)
		c.reply(jsonrpc.NewErrorResponse(jsonrpc.NewIDNull(), rpcErr))
	case isBatch:
		c.reply(rpc.ExecuteBatch(ctx, c.registry, requests, c.logger))
	default:
		c.reply(rpc.Execute(ctx, c.registry, requests[0], c.logger))
	}
}

// reply encodes a response or a batch of responses and queues it for the
// write loop. It blocks while the queue is full and gives up once the
// connection is closing.
func (c *Client) reply(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to marshal reply")
		return
	}

	select {
	case c.sendChan <- data:
	case <-c.closeChan:
		c.logger.Debug().Msg("connection closing, reply not sent")
	}
}

// Close closes the client connection and cancels in-flight calls
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closeChan)
		c.cancel()
		c.conn.Close()
		c.logger.Debug().Msg("client closed")
	})
}
