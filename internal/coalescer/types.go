package coalescer

import (
	"context"
	"runtime"
	"sync"
	"time"
)

// Lookup resolves a single key against the output of one resolver call.
// A false second return value means the key has no result.
type Lookup[K comparable, V any] interface {
	Lookup(key K) (V, bool)
}

// MapLookup adapts a map to Lookup
type MapLookup[K comparable, V any] map[K]V

// Lookup implements Lookup
func (m MapLookup[K, V]) Lookup(key K) (V, bool) {
	v, ok := m[key]
	return v, ok
}

// LookupFunc adapts a function to Lookup. Resolvers that want to fill
// defaults for unknown keys return one of these.
type LookupFunc[K comparable, V any] func(key K) (V, bool)

// Lookup implements Lookup
func (f LookupFunc[K, V]) Lookup(key K) (V, bool) {
	return f(key)
}

// Resolver fetches the results for a deduplicated set of keys.
// It is invoked exactly once per batch.
type Resolver[K comparable, V any] func(ctx context.Context, keys []K) (Lookup[K, V], error)

// Result is the settled outcome of one request
type Result[V any] struct {
	Value V
	Found bool
	Err   error
}

// Scheduler defers batch dispatch until the current window closes
type Scheduler interface {
	Defer(fn func())
}

// SchedulerFunc adapts a function to Scheduler
type SchedulerFunc func(fn func())

// Defer implements Scheduler
func (f SchedulerFunc) Defer(fn func()) {
	f(fn)
}

// AfterScheduler returns a Scheduler that runs fn once window has elapsed.
// A non-positive window posts a zero-delay continuation: fn runs on a new
// goroutine after yielding the processor once.
func AfterScheduler(window time.Duration) Scheduler {
	if window <= 0 {
		return SchedulerFunc(func(fn func()) {
			go func() {
				runtime.Gosched()
				fn()
			}()
		})
	}
	return SchedulerFunc(func(fn func()) {
		time.AfterFunc(window, fn)
	})
}

// Stats holds cumulative coalescer counters
type Stats struct {
	Batches  uint64 `json:"batches"`
	Requests uint64 `json:"requests"`
	Keys     uint64 `json:"keys"`
	Failures uint64 `json:"failures"`
}

// Future is the completion handle of a single request. It settles exactly once.
type Future[V any] struct {
	done  chan struct{}
	once  sync.Once
	value V
	found bool
	err   error
}

func newFuture[V any]() *Future[V] {
	return &Future[V]{done: make(chan struct{})}
}

// settle records the outcome. Only the first call has an effect.
func (f *Future[V]) settle(value V, found bool, err error) {
	f.once.Do(func() {
		f.value = value
		f.found = found
		f.err = err
		close(f.done)
	})
}

// Done is closed once the future has settled
func (f *Future[V]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future settles or ctx is done. A cancelled wait does
// not withdraw the request from its batch.
func (f *Future[V]) Wait(ctx context.Context) (V, bool, error) {
	select {
	case <-f.done:
		return f.value, f.found, f.err
	case <-ctx.Done():
		var zero V
		return zero, false, ctx.Err()
	}
}

// Result returns the settled outcome. It blocks until the future settles.
func (f *Future[V]) Result() Result[V] {
	<-f.done
	return Result[V]{Value: f.value, Found: f.found, Err: f.err}
}
