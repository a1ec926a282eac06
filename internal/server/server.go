package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"rpcdemo/internal/cache"
	"rpcdemo/internal/config"
	"rpcdemo/internal/demo"
	"rpcdemo/internal/remote"
	"rpcdemo/internal/rpc"
	"rpcdemo/internal/script"
	"rpcdemo/internal/ws"
)

// Server represents the main server
type Server struct {
	cfg           *config.Config
	cache         cache.Cache
	registry      *remote.Registry
	scriptManager *script.Manager
	rpcServer     *http.Server
	wsServer      *http.Server
	rpcListener   net.Listener
	wsListener    net.Listener
	stopStats     chan struct{}
	statsWg       sync.WaitGroup
	logger        zerolog.Logger
}

// New creates a new Server with every demo and scripted function registered
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	queryCache, err := newCache(cfg, logger)
	if err != nil {
		return nil, err
	}

	var policy *cache.Policy
	if cfg.IsCacheEnabled() {
		policy = cache.NewPolicy(cfg.Cache.DisabledFunctions)
		if len(cfg.Cache.DisabledFunctions) > 0 {
			logger.Info().
				Strs("disabledFunctions", cfg.Cache.DisabledFunctions).
				Msg("cache disabled for specific functions")
		}
	}

	registry := remote.NewRegistry(remote.Options{
		Cache:   queryCache,
		Policy:  policy,
		Timeout: cfg.GetRequestTimeoutDuration(),
	}, logger)

	demoOpts := demo.Options{
		DelayScale:   cfg.GetDelayScale(),
		BatchWindow:  cfg.GetBatchWindowDuration(),
		MaxBatchSize: cfg.MaxBatchSize,
	}
	if err := demo.Register(registry, demoOpts, logger); err != nil {
		queryCache.Close()
		return nil, fmt.Errorf("failed to register demo functions: %w", err)
	}

	var scriptMgr *script.Manager
	if cfg.IsScriptsEnabled() {
		scriptMgr = script.NewManager(cfg.GetScriptsTimeoutDuration(), logger)
		if err := scriptMgr.LoadFromDirectory(cfg.GetScriptsDirectory()); err != nil {
			queryCache.Close()
			return nil, fmt.Errorf("failed to load scripts: %w", err)
		}
		if err := registry.Register(scriptMgr.Functions(registry)...); err != nil {
			queryCache.Close()
			return nil, fmt.Errorf("failed to register scripts: %w", err)
		}

		logger.Info().
			Strs("functions", scriptMgr.Names()).
			Str("directory", cfg.GetScriptsDirectory()).
			Msg("scripts enabled")
	} else {
		logger.Info().Msg("scripts disabled")
	}

	return &Server{
		cfg:           cfg,
		cache:         queryCache,
		registry:      registry,
		scriptManager: scriptMgr,
		stopStats:     make(chan struct{}),
		logger:        logger,
	}, nil
}

// newCache creates the query cache selected by config
func newCache(cfg *config.Config, logger zerolog.Logger) (cache.Cache, error) {
	if !cfg.IsCacheEnabled() {
		logger.Info().Msg("cache disabled")
		return cache.NewNoopCache(), nil
	}

	switch cfg.Cache.Backend {
	case config.CacheBackendRedis:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		rc, err := cache.NewRedisCache(ctx, cfg.Cache.RedisURL, cfg.Cache.GetTTLDuration(), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis cache: %w", err)
		}
		logger.Info().
			Int("ttl", cfg.Cache.TTL).
			Msg("redis cache enabled")
		return rc, nil
	default:
		mc, err := cache.NewMemoryCache(cfg.Cache.Size, cfg.Cache.GetTTLDuration())
		if err != nil {
			return nil, fmt.Errorf("failed to create cache: %w", err)
		}
		logger.Info().
			Int("size", cfg.Cache.Size).
			Int("ttl", cfg.Cache.TTL).
			Msg("memory cache enabled")
		return mc, nil
	}
}

// Registry returns the function registry
func (s *Server) Registry() *remote.Registry {
	return s.registry
}

// Start binds both listeners and starts serving
func (s *Server) Start() error {
	rpcAddr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.RPCPort))
	wsAddr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.WSPort))

	var err error
	s.rpcListener, err = net.Listen("tcp", rpcAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", rpcAddr, err)
	}
	s.wsListener, err = net.Listen("tcp", wsAddr)
	if err != nil {
		s.rpcListener.Close()
		return fmt.Errorf("failed to listen on %s: %w", wsAddr, err)
	}

	s.rpcServer = &http.Server{
		Handler:      rpc.NewHandler(s.registry, s.cfg, s.logger),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: s.cfg.GetRequestTimeoutDuration() + 5*time.Second,
		IdleTimeout:  120 * time.Second,
	}
	wsHandler := ws.NewHandler(s.registry, s.logger)
	s.wsServer = &http.Server{
		Handler:     wsHandler,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	s.wsServer.RegisterOnShutdown(wsHandler.Close)

	s.serve(s.rpcServer, s.rpcListener, "RPC")
	s.serve(s.wsServer, s.wsListener, "WebSocket")

	s.logger.Info().
		Str("rpc", fmt.Sprintf("http://%s%s", s.RPCAddr(), rpc.PathRPC)).
		Str("ws", fmt.Sprintf("ws://%s", s.WSAddr())).
		Int("functions", len(s.registry.List())).
		Msg("endpoints available")

	if interval := s.cfg.GetStatsLogIntervalDuration(); interval > 0 {
		s.statsWg.Add(1)
		go s.statsLoop(interval)
	}

	return nil
}

func (s *Server) serve(srv *http.Server, ln net.Listener, name string) {
	go func() {
		s.logger.Info().
			Str("addr", ln.Addr().String()).
			Msgf("starting %s server", name)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msgf("%s server error", name)
		}
	}()
}

// RPCAddr returns the bound HTTP address
func (s *Server) RPCAddr() string {
	if s.rpcListener == nil {
		return ""
	}
	return s.rpcListener.Addr().String()
}

// WSAddr returns the bound WebSocket address
func (s *Server) WSAddr() string {
	if s.wsListener == nil {
		return ""
	}
	return s.wsListener.Addr().String()
}

// statsLoop periodically logs coalescer counters
func (s *Server) statsLoop(interval time.Duration) {
	defer s.statsWg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopStats:
			return
		case <-ticker.C:
			s.logStats()
		}
	}
}

func (s *Server) logStats() {
	for name, stats := range s.registry.BatchStats() {
		s.logger.Info().
			Str("function", name).
			Uint64("batches", stats.Batches).
			Uint64("requests", stats.Requests).
			Uint64("keys", stats.Keys).
			Uint64("failures", stats.Failures).
			Msg("batch stats")
	}

	if reporter, ok := s.cache.(cache.StatsReporter); ok {
		stats := reporter.Stats()
		s.logger.Info().
			Uint64("hits", stats.Hits).
			Uint64("misses", stats.Misses).
			Uint64("evictions", stats.Evictions).
			Int("entries", stats.Entries).
			Msg("cache stats")
	}
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("shutting down server...")

	close(s.stopStats)
	s.statsWg.Wait()

	var rpcErr, wsErr error
	if s.rpcServer != nil {
		rpcErr = s.rpcServer.Shutdown(ctx)
	}
	if s.wsServer != nil {
		wsErr = s.wsServer.Shutdown(ctx)
	}

	// Flush open batches
	s.registry.Close()

	if s.cache != nil {
		s.cache.Close()
	}

	if rpcErr != nil {
		return fmt.Errorf("RPC server shutdown error: %w", rpcErr)
	}
	if wsErr != nil {
		return fmt.Errorf("WebSocket server shutdown error: %w", wsErr)
	}

	s.logStats()
	s.logger.Info().Msg("server stopped")
	return nil
}
