package fieldsync

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultCoalesceDelay is how long the coordinator waits after an
// invalidation before refetching, so that a burst of committed mutations
// touching the same collection produces a single fetch.
const DefaultCoalesceDelay = 250 * time.Millisecond

// CoordinatorConfig configures the invalidation coordinator.
type CoordinatorConfig struct {
	// CoalesceDelay is the quiet period before a stale collection is
	// refetched. Repeated invalidations within the window extend it.
	CoalesceDelay time.Duration

	// FetchTimeout bounds each background refetch. Defaults to 30s.
	FetchTimeout time.Duration

	// Logger for refetch failures. Defaults to the standard logger.
	Logger *log.Logger
}

// pendingFetch tracks the coalescing state for one collection key.
type pendingFetch struct {
	timer      *time.Timer
	generation uint64
}

// Coordinator marks collections stale when mutations commit and schedules
// coalesced background refetches. Invalidate never blocks on network I/O:
// the fetch runs on its own goroutine after the coalescing window closes.
//
// Each collection key carries a generation counter. A fetch that started
// before a newer invalidation arrived is superseded; its results are
// discarded so a stale response can never overwrite fresher data.
//
// Refetches are gated on subscribers. A collection with no subscribers when
// its coalescing window closes stays stale and is not rescheduled; a
// consumer that later observes IsStale triggers the refetch itself by
// calling Invalidate again.
type Coordinator struct {
	config  CoordinatorConfig
	cache   *CacheStore
	fetcher Fetcher

	mu      sync.Mutex
	pending map[CollectionKey]*pendingFetch
	closed  bool
	wg      sync.WaitGroup

	invalidations atomic.Uint64
	fetches       atomic.Uint64
	skipped       atomic.Uint64
	superseded    atomic.Uint64
	failures      atomic.Uint64
}

// NewCoordinator creates an invalidation coordinator. The fetcher may be nil,
// in which case collections are marked stale but never refetched; consumers
// see IsStale and refetch on their own schedule.
func NewCoordinator(config CoordinatorConfig, cache *CacheStore, fetcher Fetcher) *Coordinator {
	if config.CoalesceDelay <= 0 {
		config.CoalesceDelay = DefaultCoalesceDelay
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}
	return &Coordinator{
		config:  config,
		cache:   cache,
		fetcher: fetcher,
		pending: make(map[CollectionKey]*pendingFetch),
	}
}

// Invalidate marks the collection stale and schedules a coalesced refetch.
// Safe to call from any goroutine; returns immediately.
func (co *Coordinator) Invalidate(key CollectionKey) {
	co.invalidations.Add(1)
	co.cache.MarkStale(key)

	co.mu.Lock()
	defer co.mu.Unlock()
	if co.closed {
		return
	}

	if p, ok := co.pending[key]; ok {
		// Extend the window and invalidate any in-flight fetch.
		p.generation++
		p.timer.Reset(co.config.CoalesceDelay)
		return
	}

	p := &pendingFetch{generation: 1}
	p.timer = time.AfterFunc(co.config.CoalesceDelay, func() {
		co.fire(key)
	})
	co.pending[key] = p
}

// InvalidateAll invalidates every dependent collection of a policy.
func (co *Coordinator) InvalidateAll(keys []CollectionKey) {
	for _, key := range keys {
		co.Invalidate(key)
	}
}

// fire runs when a coalescing window closes.
func (co *Coordinator) fire(key CollectionKey) {
	co.mu.Lock()
	p, ok := co.pending[key]
	if !ok || co.closed {
		co.mu.Unlock()
		return
	}
	generation := p.generation

	if co.fetcher == nil || !co.cache.HasSubscribers(key) {
		// Nobody is watching; leave the collection stale and let the next
		// subscriber trigger its own fetch.
		delete(co.pending, key)
		co.mu.Unlock()
		co.skipped.Add(1)
		return
	}

	co.wg.Add(1)
	co.mu.Unlock()

	go func() {
		defer co.wg.Done()
		co.fetch(key, generation)
	}()
}

func (co *Coordinator) fetch(key CollectionKey, generation uint64) {
	co.fetches.Add(1)

	ctx, cancel := context.WithTimeout(context.Background(), co.config.FetchTimeout)
	defer cancel()

	records, err := co.fetcher(ctx, key)

	co.mu.Lock()
	p, ok := co.pending[key]
	if !ok || p.generation != generation {
		// A newer invalidation arrived while we were fetching. Discard this
		// result; the newer window will fetch again.
		co.mu.Unlock()
		co.superseded.Add(1)
		return
	}
	delete(co.pending, key)
	co.mu.Unlock()

	if err != nil {
		co.failures.Add(1)
		co.config.Logger.Printf("fieldsync: refetch of %s failed: %v", key, err)
		// Collection stays stale; the next invalidation retries.
		return
	}
	co.cache.MarkFresh(key, records)
}

// Close cancels pending coalescing timers and waits for in-flight fetches.
func (co *Coordinator) Close() {
	co.mu.Lock()
	if co.closed {
		co.mu.Unlock()
		return
	}
	co.closed = true
	for key, p := range co.pending {
		p.timer.Stop()
		delete(co.pending, key)
	}
	co.mu.Unlock()
	co.wg.Wait()
}

// CoordinatorStats reports refetch counters.
type CoordinatorStats struct {
	Invalidations uint64 `json:"invalidations"`
	Fetches       uint64 `json:"fetches"`
	Skipped       uint64 `json:"skipped"`
	Superseded    uint64 `json:"superseded"`
	Failures      uint64 `json:"failures"`
	Pending       int    `json:"pending"`
}

// Stats returns current coordinator counters.
func (co *Coordinator) Stats() CoordinatorStats {
	co.mu.Lock()
	pending := len(co.pending)
	co.mu.Unlock()
	return CoordinatorStats{
		Invalidations: co.invalidations.Load(),
		Fetches:       co.fetches.Load(),
		Skipped:       co.skipped.Load(),
		Superseded:    co.superseded.Load(),
		Failures:      co.failures.Load(),
		Pending:       pending,
	}
}
