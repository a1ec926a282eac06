package coalescer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// DefaultWindow is used when Config.Window is zero and no Scheduler is set
const DefaultWindow = 2 * time.Millisecond

// Config for creating a new Coalescer
type Config struct {
	Name         string
	Window       time.Duration // how long a batch stays open; ignored when Scheduler is set
	MaxBatchSize int           // distinct keys per batch, 0 means no limit
	Scheduler    Scheduler
	Context      context.Context // passed to the resolver, defaults to context.Background()
	Logger       zerolog.Logger
}

type batchState int

const (
	stateOpen batchState = iota
	stateClosing
	stateDispatched
	stateSettled
)

// batch accumulates the pending requests of one window
type batch[K comparable, V any] struct {
	keys     []K                // distinct keys in first-seen order
	waiters  map[K][]*Future[V] // key -> every handle waiting on it
	requests int
	state    batchState
}

func newBatch[K comparable, V any]() *batch[K, V] {
	return &batch[K, V]{
		waiters: make(map[K][]*Future[V]),
	}
}

func (b *batch[K, V]) add(key K, f *Future[V]) {
	if _, seen := b.waiters[key]; !seen {
		b.keys = append(b.keys, key)
	}
	b.waiters[key] = append(b.waiters[key], f)
	b.requests++
}

// Coalescer collects requests into batches and dispatches one resolver call per batch
type Coalescer[K comparable, V any] struct {
	name         string
	resolver     Resolver[K, V]
	scheduler    Scheduler
	maxBatchSize int
	ctx          context.Context
	logger       zerolog.Logger

	mu   sync.Mutex
	open *batch[K, V] // at most one open batch at a time

	batches  atomic.Uint64
	requests atomic.Uint64
	keys     atomic.Uint64
	failures atomic.Uint64
}

// New creates a new Coalescer
func New[K comparable, V any](cfg Config, resolver Resolver[K, V]) *Coalescer[K, V] {
	scheduler := cfg.Scheduler
	if scheduler == nil {
		window := cfg.Window
		if window == 0 {
			window = DefaultWindow
		}
		scheduler = AfterScheduler(window)
	}

	ctx := cfg.Context
	if ctx == nil {
		ctx = context.Background()
	}

	return &Coalescer[K, V]{
		name:         cfg.Name,
		resolver:     resolver,
		scheduler:    scheduler,
		maxBatchSize: cfg.MaxBatchSize,
		ctx:          ctx,
		logger:       cfg.Logger.With().Str("component", "coalescer").Str("name", cfg.Name).Logger(),
	}
}

// Name returns the coalescer name
func (c *Coalescer[K, V]) Name() string {
	return c.name
}

// Request adds key to the open batch, opening one if needed, and returns a
// handle that settles once that batch resolves. It never blocks.
func (c *Coalescer[K, V]) Request(key K) *Future[V] {
	f := newFuture[V]()
	c.requests.Add(1)

	c.mu.Lock()
	b := c.open
	opened := false
	if b == nil {
		b = newBatch[K, V]()
		c.open = b
		opened = true
	}
	b.add(key, f)

	var full *batch[K, V]
	if c.maxBatchSize > 0 && len(b.keys) >= c.maxBatchSize {
		full = c.takeLocked()
	}
	c.mu.Unlock()

	if opened && full == nil {
		c.scheduler.Defer(func() { c.close(b) })
	}
	if full != nil {
		go c.dispatch(full)
	}

	return f
}

// Load requests key and waits for the result
func (c *Coalescer[K, V]) Load(ctx context.Context, key K) (V, bool, error) {
	return c.Request(key).Wait(ctx)
}

// LoadMany requests all keys at once, so they share a batch unless
// MaxBatchSize splits them, and waits for every result. The returned error
// is only set when ctx is done before all results arrive.
func (c *Coalescer[K, V]) LoadMany(ctx context.Context, keys []K) ([]Result[V], error) {
	futures := make([]*Future[V], len(keys))
	for i, key := range keys {
		futures[i] = c.Request(key)
	}

	results := make([]Result[V], len(keys))
	for i, f := range futures {
		select {
		case <-f.Done():
			results[i] = f.Result()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return results, nil
}

// Flush dispatches the open batch, if any, and waits until it has settled
func (c *Coalescer[K, V]) Flush() {
	c.mu.Lock()
	b := c.takeLocked()
	c.mu.Unlock()

	if b != nil {
		c.dispatch(b)
	}
}

// Stats returns a snapshot of the counters
func (c *Coalescer[K, V]) Stats() Stats {
	return Stats{
		Batches:  c.batches.Load(),
		Requests: c.requests.Load(),
		Keys:     c.keys.Load(),
		Failures: c.failures.Load(),
	}
}

// takeLocked detaches the open batch. c.mu must be held.
func (c *Coalescer[K, V]) takeLocked() *batch[K, V] {
	b := c.open
	if b == nil {
		return nil
	}
	c.open = nil
	b.state = stateClosing
	return b
}

// close is the deferred end of a window. It is a no-op if b was already
// taken by Flush or by reaching MaxBatchSize.
func (c *Coalescer[K, V]) close(b *batch[K, V]) {
	c.mu.Lock()
	if c.open != b {
		c.mu.Unlock()
		return
	}
	c.takeLocked()
	c.mu.Unlock()

	c.dispatch(b)
}

// dispatch runs the resolver once and settles every waiter of b. Only a
// closing batch is dispatched.
func (c *Coalescer[K, V]) dispatch(b *batch[K, V]) {
	if b.state != stateClosing {
		c.logger.Error().
			Int("state", int(b.state)).
			Int("keys", len(b.keys)).
			Msg("batch dispatched out of order, ignoring")
		return
	}
	b.state = stateDispatched
	c.batches.Add(1)
	c.keys.Add(uint64(len(b.keys)))

	c.logger.Debug().
		Int("keys", len(b.keys)).
		Int("requests", b.requests).
		Msg("dispatching batch")

	start := time.Now()
	values, found, err := c.resolve(b.keys)
	if err != nil {
		c.failures.Add(1)
		c.logger.Error().
			Err(err).
			Int("keys", len(b.keys)).
			Int("requests", b.requests).
			Msg("batch resolver failed")

		var zero V
		for _, key := range b.keys {
			for _, f := range b.waiters[key] {
				f.settle(zero, false, err)
			}
		}
		b.state = stateSettled
		return
	}

	for i, key := range b.keys {
		for _, f := range b.waiters[key] {
			f.settle(values[i], found[i], nil)
		}
	}
	b.state = stateSettled

	c.logger.Debug().
		Int("keys", len(b.keys)).
		Dur("took", time.Since(start)).
		Msg("batch settled")
}

// resolve calls the resolver and looks up every key before anything is
// settled, so a panic anywhere fails the whole batch.
func (c *Coalescer[K, V]) resolve(keys []K) (values []V, found []bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			values, found = nil, nil
			err = fmt.Errorf("resolver panic: %v", r)
		}
	}()

	lookup, err := c.resolver(c.ctx, keys)
	if err != nil {
		return nil, nil, err
	}

	values = make([]V, len(keys))
	found = make([]bool, len(keys))
	if lookup == nil {
		return values, found, nil
	}
	for i, key := range keys {
		values[i], found[i] = lookup.Lookup(key)
	}
	return values, found, nil
}
