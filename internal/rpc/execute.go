package rpc

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"rpcdemo/internal/jsonrpc"
	"rpcdemo/internal/remote"
)

// Execute runs a single JSON-RPC request against the registry
func Execute(ctx context.Context, reg *remote.Registry, req *jsonrpc.Request, logger zerolog.Logger) *jsonrpc.Response {
	if rpcErr := req.Validate(); rpcErr != nil {
		return jsonrpc.NewErrorResponse(req.ID, rpcErr)
	}

	if req.IsNotification() {
		logger.Debug().Str("method", req.Method).Msg("notification answered with a null id")
	}

	result, err := reg.Call(ctx, req.Method, req.Params)
	if err != nil {
		if !remote.IsExpected(err) {
			logger.Error().Err(err).Str("method", req.Method).Msg("request failed")
		}
		return jsonrpc.NewErrorResponse(req.ID, remote.RPCError(err))
	}
	return jsonrpc.NewResponseRaw(req.ID, result)
}

// ExecuteBatch runs every request of a batch concurrently, so calls to batch
// functions within one JSON-RPC batch are coalesced. Responses keep request order.
func ExecuteBatch(ctx context.Context, reg *remote.Registry, requests []*jsonrpc.Request, logger zerolog.Logger) []*jsonrpc.Response {
	responses := make([]*jsonrpc.Response, len(requests))

	var wg sync.WaitGroup
	for i, req := range requests {
		wg.Add(1)
		go func(i int, req *jsonrpc.Request) {
			defer wg.Done()
			responses[i] = Execute(ctx, reg, req, logger)
		}(i, req)
	}
	wg.Wait()

	return responses
}
