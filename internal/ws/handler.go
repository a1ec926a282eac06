package ws

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"rpcdemo/internal/remote"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins
	},
}

// Handler handles WebSocket connections
type Handler struct {
	registry *remote.Registry
	logger   zerolog.Logger

	mu      sync.Mutex
	clients map[*Client]struct{}
	closed  bool
}

// NewHandler creates a new WebSocket handler
func NewHandler(reg *remote.Registry, logger zerolog.Logger) *Handler {
	return &Handler{
		registry: reg,
		logger:   logger.With().Str("component", "ws").Logger(),
		clients:  make(map[*Client]struct{}),
	}
}

// ServeHTTP handles WebSocket upgrade requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to upgrade connection")
		return
	}

	h.logger.Info().
		Str("remoteAddr", r.RemoteAddr).
		Msg("new WebSocket connection")

	client := NewClient(r.Context(), conn, h.registry, h.logger.With().Str("remoteAddr", r.RemoteAddr).Logger())

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		client.Close()
		return
	}
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, client)
		h.mu.Unlock()
	}()

	client.Run()
}

// Close disconnects every client and refuses new ones. Hijacked connections
// are not closed by http.Server.Shutdown.
func (h *Handler) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	if len(clients) > 0 {
		h.logger.Info().Int("clients", len(clients)).Msg("closed WebSocket connections")
	}
}
