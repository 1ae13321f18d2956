package fieldsync

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// Config configures an Engine. Store, Transport, and Policies are required;
// everything else has a sensible default.
type Config struct {
	// Store persists the mutation queue across restarts.
	Store DurableStore

	// Transport sends mutations to the authoritative server.
	Transport Transport

	// Policies maps resource types to their synchronization strategies.
	Policies *PolicyTable

	// Monitor reports connectivity. Defaults to a ManualMonitor that starts
	// online.
	Monitor Monitor

	// Fetcher retrieves collection contents for background refetches.
	// Optional; without it, invalidated collections stay stale until the
	// application refetches.
	Fetcher Fetcher

	// Codec controls compression and encryption of persisted queue records.
	Codec CodecConfig

	// Retry tunes dispatch backoff.
	Retry RetryConfig

	// DispatchTimeout bounds each server round-trip. Default: 30s.
	DispatchTimeout time.Duration

	// MaxConcurrentDispatches bounds simultaneous dispatches across
	// distinct targets. Default: 4.
	MaxConcurrentDispatches int

	// CoalesceDelay is the refetch coalescing window. Default: 250ms.
	CoalesceDelay time.Duration

	// BreakerMaxFailures opens the dispatch circuit after this many
	// consecutive transient failures. 0 disables the breaker.
	BreakerMaxFailures int

	// BreakerResetTimeout is how long the circuit stays open. Default: 30s
	// when the breaker is enabled.
	BreakerResetTimeout time.Duration

	// OnAuthRequired is invoked when a dispatch fails with an
	// authentication error and the mutation is parked. Optional.
	OnAuthRequired func(MutationRequest)

	// Logger receives warnings and dispatch failures. Defaults to the
	// standard logger.
	Logger *log.Logger
}

// Engine is the facade wiring the cache, queue, snapshots, coordinator, and
// executor together.
type Engine struct {
	config      Config
	cache       *CacheStore
	queue       *Queue
	snapshots   *SnapshotManager
	coordinator *Coordinator
	executor    *Executor
	monitor     Monitor

	mu      sync.Mutex
	started bool
	closed  bool
}

// New creates an engine from the configuration. The durable queue is not
// read until Start.
func New(config Config) (*Engine, error) {
	if config.Store == nil {
		return nil, errors.New("store is required")
	}
	if config.Transport == nil {
		return nil, errors.New("transport is required")
	}
	if config.Policies == nil {
		return nil, errors.New("policy table is required")
	}
	if config.Monitor == nil {
		config.Monitor = NewManualMonitor(true)
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	c, err := newCodec(config.Codec)
	if err != nil {
		return nil, err
	}

	cache := NewCacheStore()
	queue := NewQueue(config.Store, c, config.Logger)
	snapshots := NewSnapshotManager(cache)
	coordinator := NewCoordinator(CoordinatorConfig{
		CoalesceDelay: config.CoalesceDelay,
		FetchTimeout:  config.DispatchTimeout,
		Logger:        config.Logger,
	}, cache, config.Fetcher)

	var breaker *CircuitBreaker
	if config.BreakerMaxFailures > 0 {
		resetTimeout := config.BreakerResetTimeout
		if resetTimeout <= 0 {
			resetTimeout = 30 * time.Second
		}
		breaker = NewCircuitBreaker(config.BreakerMaxFailures, resetTimeout)
	}

	executor := newExecutor(executorConfig{
		policies:        config.Policies,
		transport:       config.Transport,
		monitor:         config.Monitor,
		queue:           queue,
		cache:           cache,
		snapshots:       snapshots,
		coordinator:     coordinator,
		retry:           config.Retry,
		dispatchTimeout: config.DispatchTimeout,
		maxConcurrent:   config.MaxConcurrentDispatches,
		breaker:         breaker,
		logger:          config.Logger,
		onAuthRequired:  config.OnAuthRequired,
	})

	return &Engine{
		config:      config,
		cache:       cache,
		queue:       queue,
		snapshots:   snapshots,
		coordinator: coordinator,
		executor:    executor,
		monitor:     config.Monitor,
	}, nil
}

// Start loads the durable queue, adopts any mutations left over from a
// previous session, and begins dispatching. Idempotent.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.mu.Unlock()

	if err := e.queue.Load(ctx); err != nil {
		return err
	}
	e.executor.start(e.queue.ListPending())
	return nil
}

// Close stops dispatching, waits for in-flight work, and closes the durable
// store. Pending mutations remain queued for the next session.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.executor.close()
	e.coordinator.Close()
	return e.config.Store.Close()
}

// Mutate submits a mutation. The cache reflects the optimistic result before
// Mutate returns; the handle resolves when the server round-trip completes.
func (e *Engine) Mutate(ctx context.Context, m Mutation) (*Handle, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	e.mu.Unlock()
	return e.executor.Submit(ctx, m)
}

// RetryMutation releases a mutation parked by an authentication failure.
func (e *Engine) RetryMutation(mutationID string) error {
	return e.executor.RetryMutation(mutationID)
}

// DiscardMutation abandons a pending mutation and rolls back its optimistic
// effect.
func (e *Engine) DiscardMutation(mutationID string) error {
	return e.executor.DiscardMutation(mutationID)
}

// Invalidate marks a collection stale and schedules a coalesced refetch.
func (e *Engine) Invalidate(key CollectionKey) {
	e.coordinator.Invalidate(key)
}

// Cache exposes the collection cache for reads and subscriptions.
func (e *Engine) Cache() *CacheStore {
	return e.cache
}

// Online reports current connectivity.
func (e *Engine) Online() bool {
	return e.monitor.Online()
}

// Diagnostics lists every non-terminal mutation.
func (e *Engine) Diagnostics() []MutationDiagnostic {
	return e.executor.Diagnostics()
}

// EngineStats aggregates per-component counters.
type EngineStats struct {
	Executor    ExecutorStats    `json:"executor"`
	Queue       QueueStats       `json:"queue"`
	Cache       CacheStats       `json:"cache"`
	Snapshots   SnapshotStats    `json:"snapshots"`
	Coordinator CoordinatorStats `json:"coordinator"`
	Online      bool             `json:"online"`
}

// Stats returns a point-in-time snapshot of engine counters.
func (e *Engine) Stats() EngineStats {
	return EngineStats{
		Executor:    e.executor.Stats(),
		Queue:       e.queue.Stats(),
		Cache:       e.cache.Stats(),
		Snapshots:   e.snapshots.Stats(),
		Coordinator: e.coordinator.Stats(),
		Online:      e.monitor.Online(),
	}
}
