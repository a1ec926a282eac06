package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"

	"github.com/rs/zerolog"

	"rpcdemo/internal/config"
	"rpcdemo/internal/jsonrpc"
	"rpcdemo/internal/remote"
)

// Paths served by Handler
const (
	PathRPC       = "/rpc"
	PathForm      = "/form/"
	PathQuery     = "/query/"
	PathFunctions = "/functions"
)

// FormResponse is the body returned for form submissions and plain queries
type FormResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *jsonrpc.Error  `json:"error,omitempty"`
}

// Handler serves remote functions over HTTP
type Handler struct {
	registry    *remote.Registry
	maxBodySize int64
	mux         *http.ServeMux
	logger      zerolog.Logger
}

// NewHandler creates a new Handler
func NewHandler(reg *remote.Registry, cfg *config.Config, logger zerolog.Logger) *Handler {
	h := &Handler{
		registry:    reg,
		maxBodySize: cfg.MaxBodySize,
		mux:         http.NewServeMux(),
		logger:      logger.With().Str("component", "rpc").Logger(),
	}

	h.mux.HandleFunc("POST "+PathRPC, h.handleRPC)
	h.mux.HandleFunc("POST "+PathForm+"{name}", h.handleForm)
	h.mux.HandleFunc("GET "+PathQuery+"{name}", h.handleQuery)
	h.mux.HandleFunc("GET "+PathFunctions, h.handleFunctions)

	return h
}

// ServeHTTP handles HTTP requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// handleRPC serves JSON-RPC 2.0 single and batch requests
func (h *Handler) handleRPC(w http.ResponseWriter, r *http.Request) {
	body, err := h.readBody(r)
	if err != nil {
		h.writeJSONRPCError(w, jsonrpc.NewIDNull(), jsonrpc.NewError(jsonrpc.CodeInvalidRequest, err.Error()))
		return
	}

	requests, isBatch, err := jsonrpc.ParseBatchRequest(body)
	if err != nil {
		var rpcErr *jsonrpc.Error
		if errors.As(err, &rpcErr) {
			h.writeJSONRPCError(w, jsonrpc.NewIDNull(), rpcErr)
			return
		}
		h.writeJSONRPCError(w, jsonrpc.NewIDNull(), jsonrpc.ErrParse)
		return
	}

	ctx := r.Context()
	if isBatch {
		h.logger.Debug().Int("size", len(requests)).Msg("batch request")
		h.writeBatchResponse(w, ExecuteBatch(ctx, h.registry, requests, h.logger))
		return
	}
	h.writeResponse(w, Execute(ctx, h.registry, requests[0], h.logger))
}

// handleForm serves form submissions to form functions
func (h *Handler) handleForm(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	values, err := h.readForm(w, r)
	if err != nil {
		h.writeFormResponse(w, http.StatusBadRequest, nil, jsonrpc.NewError(jsonrpc.CodeInvalidRequest, err.Error()))
		return
	}

	result, err := h.registry.CallForm(r.Context(), name, values)
	if err != nil {
		if !remote.IsExpected(err) {
			h.logger.Error().Err(err).Str("function", name).Msg("form submission failed")
		}
		h.writeFormResponse(w, remote.HTTPStatus(err), nil, remote.RPCError(err))
		return
	}
	h.writeFormResponse(w, http.StatusOK, result, nil)
}

// handleQuery serves queries with a JSON payload in the query string
func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	fn, err := h.registry.Get(name)
	if err == nil && fn.Kind() != remote.KindQuery {
		err = fmt.Errorf("%w: %s is a %s", remote.ErrKindMismatch, name, fn.Kind())
	}
	if err != nil {
		h.writeFormResponse(w, remote.HTTPStatus(err), nil, remote.RPCError(err))
		return
	}

	var params json.RawMessage
	if payload := r.URL.Query().Get("payload"); payload != "" {
		if !json.Valid([]byte(payload)) {
			h.writeFormResponse(w, http.StatusBadRequest, nil, jsonrpc.NewError(jsonrpc.CodeParseError, "payload is not valid JSON"))
			return
		}
		params = json.RawMessage(payload)
	}

	result, err := h.registry.Invoke(r.Context(), fn, params)
	if err != nil {
		if !remote.IsExpected(err) {
			h.logger.Error().Err(err).Str("function", name).Msg("query failed")
		}
		h.writeFormResponse(w, remote.HTTPStatus(err), nil, remote.RPCError(err))
		return
	}
	h.writeFormResponse(w, http.StatusOK, result, nil)
}

// handleFunctions lists registered functions
func (h *Handler) handleFunctions(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.registry.List())
}

// readBody reads the request body up to maxBodySize
func (h *Handler) readBody(r *http.Request) ([]byte, error) {
	if h.maxBodySize <= 0 {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read request body")
		}
		return body, nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body")
	}
	if int64(len(body)) > h.maxBodySize {
		return nil, fmt.Errorf("request body too large")
	}
	return body, nil
}

// readForm parses urlencoded or multipart bodies
func (h *Handler) readForm(w http.ResponseWriter, r *http.Request) (url.Values, error) {
	if h.maxBodySize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(32 << 10); err != nil {
			return nil, fmt.Errorf("failed to parse multipart form: %w", err)
		}
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("failed to parse form: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported content type %q", mediaType)
	}
	return r.PostForm, nil
}

// writeResponse writes a JSON-RPC response
func (h *Handler) writeResponse(w http.ResponseWriter, resp *jsonrpc.Response) {
	data, err := resp.Bytes()
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal response")
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// writeBatchResponse writes a batch of JSON-RPC responses
func (h *Handler) writeBatchResponse(w http.ResponseWriter, responses []*jsonrpc.Response) {
	data, err := jsonrpc.MarshalBatchResponse(responses)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal batch response")
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// writeJSONRPCError writes a JSON-RPC error response
func (h *Handler) writeJSONRPCError(w http.ResponseWriter, id jsonrpc.ID, rpcErr *jsonrpc.Error) {
	h.writeResponse(w, jsonrpc.NewErrorResponse(id, rpcErr))
}

func (h *Handler) writeFormResponse(w http.ResponseWriter, status int, result json.RawMessage, rpcErr *jsonrpc.Error) {
	h.writeJSON(w, status, FormResponse{Result: result, Error: rpcErr})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal response")
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError writes a plain HTTP error
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	http.Error(w, message, status)
}
