package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"rpcdemo/internal/cache"
	"rpcdemo/internal/coalescer"
)

// Options configures a Registry
type Options struct {
	Cache   cache.Cache   // query result cache, nil disables caching
	Policy  *cache.Policy // queries excluded from caching
	Timeout time.Duration // per call, 0 means no timeout
}

// Registry holds remote functions and executes calls to them
type Registry struct {
	functions map[string]*Function
	cache     cache.Cache
	policy    *cache.Policy
	timeout   time.Duration
	group     singleflight.Group
	logger    zerolog.Logger
	mu        sync.RWMutex
}

// NewRegistry creates a new Registry
func NewRegistry(opts Options, logger zerolog.Logger) *Registry {
	return &Registry{
		functions: make(map[string]*Function),
		cache:     opts.Cache,
		policy:    opts.Policy,
		timeout:   opts.Timeout,
		logger:    logger.With().Str("component", "registry").Logger(),
	}
}

// Register adds functions to the registry
func (r *Registry) Register(fns ...*Function) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, fn := range fns {
		if fn == nil || fn.name == "" {
			return fmt.Errorf("remote function name is required")
		}
		if _, exists := r.functions[fn.name]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicate, fn.name)
		}
		r.functions[fn.name] = fn
		r.logger.Debug().
			Str("function", fn.name).
			Str("kind", string(fn.kind)).
			Msg("registered function")
	}
	return nil
}

// Get returns the function registered under name
func (r *Registry) Get(name string) (*Function, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.functions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return fn, nil
}

// List returns every registered function sorted by name
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.functions))
	for _, fn := range r.functions {
		infos = append(infos, Info{Name: fn.name, Kind: fn.kind})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Call invokes the function registered under name with JSON params
func (r *Registry) Call(ctx context.Context, name string, params json.RawMessage) (json.RawMessage, error) {
	fn, err := r.Get(name)
	if err != nil {
		r.logger.Debug().Str("function", name).Msg("unknown function")
		return nil, err
	}
	return r.Invoke(ctx, fn, params)
}

// CallForm invokes a form function with form values
func (r *Registry) CallForm(ctx context.Context, name string, values url.Values) (json.RawMessage, error) {
	fn, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	if fn.kind != KindForm {
		return nil, fmt.Errorf("%w: %s is a %s", ErrKindMismatch, name, fn.kind)
	}

	start := time.Now()
	result, err := r.run(ctx, fn, func(ctx context.Context) (interface{}, error) {
		return fn.callForm(ctx, values)
	})
	r.logCall(fn, start, err)
	return result, err
}

// Invoke calls fn with JSON params
func (r *Registry) Invoke(ctx context.Context, fn *Function, params json.RawMessage) (json.RawMessage, error) {
	start := time.Now()

	var result json.RawMessage
	var err error
	if fn.kind == KindQuery {
		result, err = r.invokeQuery(ctx, fn, params)
	} else {
		result, err = r.run(ctx, fn, func(ctx context.Context) (interface{}, error) {
			return fn.call(ctx, params)
		})
	}

	r.logCall(fn, start, err)
	return result, err
}

// invokeQuery serves a query from the cache or runs it once for all identical concurrent callers
func (r *Registry) invokeQuery(ctx context.Context, fn *Function, params json.RawMessage) (json.RawMessage, error) {
	key := cache.GenerateKey(fn.name, params)
	cacheable := r.cache != nil && !r.policy.IsDisabled(fn.name)

	if cacheable {
		if data, ok := r.cache.Get(ctx, key); ok {
			r.logger.Debug().
				Str("function", fn.name).
				Str("cacheKey", key).
				Msg("cache hit")
			return data, nil
		}
	}

	// The shared execution must not be cancelled by whichever caller started it
	detached := context.WithoutCancel(ctx)
	ch := r.group.DoChan(key, func() (interface{}, error) {
		data, err := r.run(detached, fn, func(ctx context.Context) (interface{}, error) {
			return fn.call(ctx, params)
		})
		if err == nil && cacheable {
			r.cache.Set(detached, key, data)
		}
		return data, err
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			r.logger.Debug().Str("function", fn.name).Msg("shared in-flight query")
		}
		return res.Val.(json.RawMessage), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// run applies the call timeout and encodes the result
func (r *Registry) run(ctx context.Context, fn *Function, call func(ctx context.Context) (interface{}, error)) (json.RawMessage, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	out, err := call(ctx)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result of %s: %w", fn.name, err)
	}
	return data, nil
}

func (r *Registry) logCall(fn *Function, start time.Time, err error) {
	switch {
	case err == nil:
		r.logger.Debug().
			Str("function", fn.name).
			Str("kind", string(fn.kind)).
			Dur("took", time.Since(start)).
			Msg("call completed")
	case IsExpected(err):
		r.logger.Debug().
			Err(err).
			Str("function", fn.name).
			Msg("call rejected")
	default:
		r.logger.Error().
			Err(err).
			Str("function", fn.name).
			Str("kind", string(fn.kind)).
			Msg("call failed")
	}
}

// BatchStats returns coalescer counters for every batch function
func (r *Registry) BatchStats() map[string]coalescer.Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]coalescer.Stats)
	for name, fn := range r.functions {
		if fn.stats != nil {
			stats[name] = fn.stats()
		}
	}
	return stats
}

// Close dispatches every open batch
func (r *Registry) Close() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, fn := range r.functions {
		if fn.flush != nil {
			fn.flush()
		}
	}
	r.logger.Info().Msg("registry closed")
}
