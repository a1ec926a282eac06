package client

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"rpcdemo/internal/jsonrpc"
)

// RetryConfig holds retry configuration
type RetryConfig struct {
	MaxAttempts int
	Backoff     time.Duration // wait before the second attempt, doubled after each failure
}

// RetryTransport retries requests whose delivery failed. JSON-RPC error
// responses are returned as they are.
type RetryTransport struct {
	next   Transport
	config RetryConfig
	logger zerolog.Logger
}

// NewRetryTransport wraps next with retry logic
func NewRetryTransport(next Transport, cfg RetryConfig, logger zerolog.Logger) *RetryTransport {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &RetryTransport{
		next:   next,
		config: cfg,
		logger: logger,
	}
}

// Execute sends a request with retry logic
func (t *RetryTransport) Execute(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	var resp *jsonrpc.Response
	err := t.retry(ctx, req.Method, func() error {
		var err error
		resp, err = t.next.Execute(ctx, req)
		return err
	})
	return resp, err
}

// ExecuteBatch sends a batch with retry logic
func (t *RetryTransport) ExecuteBatch(ctx context.Context, requests []*jsonrpc.Request) ([]*jsonrpc.Response, error) {
	var responses []*jsonrpc.Response
	err := t.retry(ctx, "batch", func() error {
		var err error
		responses, err = t.next.ExecuteBatch(ctx, requests)
		return err
	})
	return responses, err
}

func (t *RetryTransport) retry(ctx context.Context, method string, attempt func() error) error {
	backoff := t.config.Backoff
	var lastErr error

	for i := 0; i < t.config.MaxAttempts; i++ {
		if i > 0 {
			t.logger.Warn().
				Int("attempt", i+1).
				Int("maxAttempts", t.config.MaxAttempts).
				Err(lastErr).
				Str("method", method).
				Msg("retrying request")

			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			backoff *= 2
		}

		lastErr = attempt()
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return lastErr
}

// Close closes the wrapped transport
func (t *RetryTransport) Close() {
	t.next.Close()
}
