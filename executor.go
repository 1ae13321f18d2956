package fieldsync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Mutation is the application-facing description of a change to submit.
type Mutation struct {
	// ResourceType names the collection, e.g. "tools". Must have a policy.
	ResourceType string

	// Operation is create, update, or delete.
	Operation Operation

	// TargetID is the server-side record ID. Required for update and
	// delete; must be empty for create.
	TargetID string

	// Payload is sent to the server.
	Payload map[string]any

	// OptimisticPayload, if set, is applied to the cache instead of
	// Payload. Lets callers optimistically show derived values the server
	// will compute differently.
	OptimisticPayload map[string]any
}

// Handle tracks a submitted mutation to completion.
type Handle struct {
	// MutationID identifies the mutation in diagnostics and in
	// RetryMutation / DiscardMutation.
	MutationID string

	ex    *Executor
	done  chan struct{}
	err   error         // set before done closes
	final MutationState // set before done closes
}

// Wait blocks until the mutation reaches a terminal state or ctx expires.
// Returns nil on commit; a *MutationError on rollback.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return h.err
	}
}

// Done returns a channel closed when the mutation reaches a terminal state.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// State returns the mutation's current state.
func (h *Handle) State() MutationState {
	select {
	case <-h.done:
		return h.final
	default:
		return h.ex.stateOf(h.MutationID)
	}
}

// tracked is the executor's live record of one mutation.
type tracked struct {
	mutation   *MutationRequest
	policy     Policy
	primaryKey CollectionKey
	snapshotID string // "" when no optimistic apply happened
	handle     *Handle
	readyAt    time.Time // next attempt time while retry-pending
	authHold   bool      // parked awaiting RetryMutation / DiscardMutation
	replayed   bool      // adopted from the durable queue at startup
}

func (t *tracked) ready(now time.Time) bool {
	if t.authHold {
		return false
	}
	switch t.mutation.State {
	case StateEnqueued:
		return true
	case StateRetryPending:
		return !now.Before(t.readyAt)
	}
	return false
}

// lane is the FIFO of mutations targeting one record. Only the head may
// dispatch, and only one dispatch per lane runs at a time.
type lane struct {
	queue []*tracked
	busy  bool
}

// executorConfig wires the executor's collaborators. Built by the Engine.
type executorConfig struct {
	policies        *PolicyTable
	transport       Transport
	monitor         Monitor
	queue           *Queue
	cache           *CacheStore
	snapshots       *SnapshotManager
	coordinator     *Coordinator
	retry           RetryConfig
	dispatchTimeout time.Duration
	maxConcurrent   int
	breaker         *CircuitBreaker
	logger          *log.Logger
	onAuthRequired  func(MutationRequest)
}

// Executor owns the per-mutation state machine. It applies optimistic
// updates, schedules dispatches per target in FIFO order with bounded
// cross-target concurrency, and reconciles or rolls back on the outcome.
type Executor struct {
	config executorConfig

	mu      sync.Mutex
	tracked map[string]*tracked
	lanes   map[string]*lane
	timers  map[string]*time.Timer
	started bool
	closed  bool

	sem    chan struct{}
	kick   chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup

	submitted  atomic.Uint64
	committed  atomic.Uint64
	rolledBack atomic.Uint64
	retries    atomic.Uint64
	discarded  atomic.Uint64
}

func newExecutor(config executorConfig) *Executor {
	if config.dispatchTimeout <= 0 {
		config.dispatchTimeout = 30 * time.Second
	}
	if config.maxConcurrent <= 0 {
		config.maxConcurrent = 4
	}
	if config.logger == nil {
		config.logger = log.Default()
	}
	config.retry.applyDefaults()
	return &Executor{
		config:  config,
		tracked: make(map[string]*tracked),
		lanes:   make(map[string]*lane),
		timers:  make(map[string]*time.Timer),
		sem:     make(chan struct{}, config.maxConcurrent),
		kick:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
}

// start launches the dispatch loop and adopts mutations replayed from the
// durable queue.
func (ex *Executor) start(replayed []QueueRecord) {
	ex.mu.Lock()
	if ex.started || ex.closed {
		ex.mu.Unlock()
		return
	}
	ex.started = true
	for i := range replayed {
		rec := replayed[i]
		m := rec.Mutation.Clone()
		policy, ok := ex.config.policies.Lookup(m.ResourceType)
		if !ok {
			// Policy removed between sessions; the queued mutation can no
			// longer dispatch.
			ex.config.logger.Printf("fieldsync: dropping replayed mutation %s: no policy for %q", m.ID, m.ResourceType)
			continue
		}
		t := &tracked{
			mutation:   m,
			policy:     policy,
			primaryKey: NewCollectionKey(m.ResourceType, nil),
			handle:     &Handle{MutationID: m.ID, ex: ex, done: make(chan struct{})},
			replayed:   true,
		}
		ex.tracked[m.ID] = t
		ex.enqueueLaneLocked(t)
	}
	ex.mu.Unlock()

	ex.wg.Add(1)
	go ex.run()
	ex.wake()
}

// close stops the dispatch loop and waits for in-flight dispatches.
func (ex *Executor) close() {
	ex.mu.Lock()
	if ex.closed {
		ex.mu.Unlock()
		return
	}
	ex.closed = true
	for id, timer := range ex.timers {
		timer.Stop()
		delete(ex.timers, id)
	}
	started := ex.started
	ex.mu.Unlock()

	close(ex.stopCh)
	if started {
		ex.wg.Wait()
	}
}

// Submit validates the mutation, applies it optimistically per policy,
// enqueues it durably, and schedules dispatch. The cache reflects the
// optimistic result before Submit returns.
func (ex *Executor) Submit(ctx context.Context, input Mutation) (*Handle, error) {
	m, policy, err := ex.validate(input)
	if err != nil {
		return nil, err
	}

	t := &tracked{
		mutation:   m,
		policy:     policy,
		primaryKey: NewCollectionKey(m.ResourceType, nil),
		handle:     &Handle{MutationID: m.ID, ex: ex, done: make(chan struct{})},
	}

	ex.mu.Lock()
	if ex.closed {
		ex.mu.Unlock()
		return nil, ErrClosed
	}
	ex.tracked[m.ID] = t
	ex.mu.Unlock()
	ex.submitted.Add(1)

	if policy.Strategy.optimistic() {
		t.snapshotID = ex.config.snapshots.Capture(m.ID, t.primaryKey)
		ex.applyOptimistic(t)
		ex.setState(t, StateOptimisticApplied)
	}

	if _, err := ex.config.queue.Append(ctx, *m); err != nil {
		var pe *QueuePersistenceError
		if !errors.As(err, &pe) {
			// Append only degrades to ephemeral on persistence faults;
			// anything else is a hard failure.
			ex.abandon(t, err)
			return nil, err
		}
		// Degraded durability: the mutation continues in-memory for this
		// session. Queue already logged the warning.
	}
	ex.setState(t, StateEnqueued)

	ex.mu.Lock()
	ex.enqueueLaneLocked(t)
	ex.mu.Unlock()
	ex.wake()

	return t.handle, nil
}

func (ex *Executor) validate(input Mutation) (*MutationRequest, Policy, error) {
	if !input.Operation.Valid() {
		return nil, Policy{}, fmt.Errorf("%w: operation %q", ErrInvalidMutation, input.Operation)
	}
	policy, ok := ex.config.policies.Lookup(input.ResourceType)
	if !ok {
		return nil, Policy{}, fmt.Errorf("%w: %q", ErrUnknownResourceType, input.ResourceType)
	}
	switch input.Operation {
	case OpCreate:
		if input.TargetID != "" {
			return nil, Policy{}, fmt.Errorf("%w: create must not set a target ID", ErrInvalidMutation)
		}
		if len(input.Payload) == 0 {
			return nil, Policy{}, fmt.Errorf("%w: create requires a payload", ErrInvalidMutation)
		}
	case OpUpdate:
		if input.TargetID == "" {
			return nil, Policy{}, fmt.Errorf("%w: update requires a target ID", ErrInvalidMutation)
		}
		if len(input.Payload) == 0 {
			return nil, Policy{}, fmt.Errorf("%w: update requires a payload", ErrInvalidMutation)
		}
	case OpDelete:
		if input.TargetID == "" {
			return nil, Policy{}, fmt.Errorf("%w: delete requires a target ID", ErrInvalidMutation)
		}
	}
	return &MutationRequest{
		ID:                newMutationID(),
		ResourceType:      input.ResourceType,
		Operation:         input.Operation,
		TargetID:          input.TargetID,
		Payload:           clonePayload(input.Payload),
		OptimisticPayload: clonePayload(input.OptimisticPayload),
		CreatedAt:         time.Now().UTC(),
		State:             StateCreated,
	}, policy, nil
}

// applyOptimistic writes the mutation's local effect into the primary
// collection. Creates insert a pending placeholder keyed by the mutation ID;
// updates merge fields into the matching record; deletes remove it.
func (ex *Executor) applyOptimistic(t *tracked) {
	m := t.mutation
	payload := m.OptimisticPayload
	if payload == nil {
		payload = m.Payload
	}

	ex.config.cache.Write(t.primaryKey, func(cur CacheEntry, found bool) CacheEntry {
		switch m.Operation {
		case OpCreate:
			placeholder := Record(clonePayload(payload))
			placeholder[RecordIDField] = m.ID
			placeholder[LocalPendingField] = true
			cur.Data = append(cur.Data, placeholder)
		case OpUpdate:
			for i, rec := range cur.Data {
				if rec.ID() == m.TargetID {
					merged := rec.Clone()
					for k, v := range payload {
						merged[k] = cloneValue(v)
					}
					cur.Data[i] = merged
					break
				}
			}
		case OpDelete:
			kept := cur.Data[:0]
			for _, rec := range cur.Data {
				if rec.ID() != m.TargetID {
					kept = append(kept, rec)
				}
			}
			cur.Data = kept
		}
		return cur
	})
}

// run is the dispatch loop. It wakes on submissions, connectivity
// transitions, and retry timers.
func (ex *Executor) run() {
	defer ex.wg.Done()
	onlineCh, unsubscribe := ex.config.monitor.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ex.stopCh:
			return
		case online := <-onlineCh:
			if online {
				ex.dispatchReady()
			}
		case <-ex.kick:
			ex.dispatchReady()
		}
	}
}

func (ex *Executor) wake() {
	select {
	case ex.kick <- struct{}{}:
	default:
	}
}

// dispatchReady starts a dispatch for every lane whose head is ready, up to
// the concurrency bound. Non-head mutations wait: per-target order is FIFO.
func (ex *Executor) dispatchReady() {
	if !ex.config.monitor.Online() {
		return
	}
	now := time.Now()

	ex.mu.Lock()
	defer ex.mu.Unlock()
	if ex.closed {
		return
	}

	for key, l := range ex.lanes {
		if l.busy || len(l.queue) == 0 {
			continue
		}
		t := l.queue[0]
		if !t.ready(now) {
			continue
		}
		select {
		case ex.sem <- struct{}{}:
		default:
			return // concurrency bound reached
		}
		l.busy = true
		if !ex.setStateLocked(t, StateDispatching) {
			l.busy = false
			<-ex.sem
			continue
		}
		ex.wg.Add(1)
		go ex.dispatch(t, key)
	}
}

func (ex *Executor) dispatch(t *tracked, laneKey string) {
	defer ex.wg.Done()
	defer func() {
		ex.mu.Lock()
		if l, ok := ex.lanes[laneKey]; ok {
			l.busy = false
			if len(l.queue) == 0 {
				delete(ex.lanes, laneKey)
			}
		}
		ex.mu.Unlock()
		<-ex.sem
		ex.wake()
	}()

	m := ex.mutationCopy(t)

	ctx, cancel := context.WithTimeout(context.Background(), ex.config.dispatchTimeout)
	defer cancel()

	var result Result
	var err error
	if ex.config.breaker != nil {
		err = ex.config.breaker.Execute(func() error {
			var sendErr error
			result, sendErr = ex.config.transport.Send(ctx, m.ResourceType, m.Operation, m.TargetID, m.Payload)
			return sendErr
		})
	} else {
		result, err = ex.config.transport.Send(ctx, m.ResourceType, m.Operation, m.TargetID, m.Payload)
	}

	if err == nil {
		ex.commit(t, result)
		return
	}
	ex.handleFailure(t, err)
}

// commit reconciles the server's authoritative response into the cache,
// releases the snapshot, removes the durable record, and invalidates
// dependent collections. Server fields always win over optimistic values.
func (ex *Executor) commit(t *tracked, result Result) {
	m := ex.mutationCopy(t)

	if t.policy.Strategy.optimistic() {
		ex.reconcile(t, m, result)
		if t.replayed {
			// Replayed mutations had no optimistic record in this session's
			// cache; a refetch picks up the committed change.
			ex.config.coordinator.Invalidate(t.primaryKey)
		}
		if t.snapshotID != "" {
			if err := ex.config.snapshots.Discard(t.snapshotID); err != nil {
				ex.config.logger.Printf("fieldsync: discard snapshot for %s: %v", m.ID, err)
			}
			t.snapshotID = ""
		}
	} else {
		// Invalidate-only strategies never touched the cache; refetching the
		// primary collection picks up the committed change.
		ex.config.coordinator.Invalidate(t.primaryKey)
	}

	if err := ex.config.queue.Remove(context.Background(), m.ID); err != nil && !errors.Is(err, ErrMutationNotFound) {
		ex.config.logger.Printf("fieldsync: remove committed mutation %s from queue: %v", m.ID, err)
	}

	ex.config.coordinator.InvalidateAll(t.policy.DependentCollections)
	ex.committed.Add(1)
	ex.finish(t, StateCommitted, nil)
}

// reconcile merges the server's returned fields over the optimistic record.
func (ex *Executor) reconcile(t *tracked, m *MutationRequest, result Result) {
	ex.config.cache.Write(t.primaryKey, func(cur CacheEntry, found bool) CacheEntry {
		switch m.Operation {
		case OpCreate:
			// The placeholder carries the mutation ID until the server
			// assigns the real one.
			for i, rec := range cur.Data {
				if rec.ID() != m.ID {
					continue
				}
				merged := rec.Clone()
				for k, v := range result.Fields {
					merged[k] = cloneValue(v)
				}
				delete(merged, LocalPendingField)
				cur.Data[i] = merged
				break
			}
		case OpUpdate:
			for i, rec := range cur.Data {
				if rec.ID() != m.TargetID {
					continue
				}
				merged := rec.Clone()
				for k, v := range result.Fields {
					merged[k] = cloneValue(v)
				}
				cur.Data[i] = merged
				break
			}
		case OpDelete:
			// Optimistic apply already removed it; nothing to merge.
		}
		return cur
	})
}

// handleFailure routes a dispatch error by class: transient failures retry
// with backoff (or re-park when offline), auth failures park the mutation
// for the application, everything else rolls back.
func (ex *Executor) handleFailure(t *tracked, err error) {
	m := ex.mutationCopy(t)
	class := ClassifyError(err)

	ex.mu.Lock()
	t.mutation.LastError = err.Error()
	ex.mu.Unlock()

	switch {
	case errors.Is(err, ErrCircuitOpen):
		// The breaker failed fast without reaching the server, so no
		// attempt was consumed. Requeue and try again once the breaker
		// can half-open.
		var delay time.Duration
		if ex.config.breaker != nil {
			delay = ex.config.breaker.resetTimeout
		}
		ex.mu.Lock()
		t.readyAt = time.Now().Add(delay)
		ex.setStateLocked(t, StateEnqueued)
		if !ex.closed && delay > 0 {
			ex.timers[m.ID] = time.AfterFunc(delay, func() {
				ex.mu.Lock()
				delete(ex.timers, m.ID)
				ex.mu.Unlock()
				ex.wake()
			})
		}
		ex.mu.Unlock()

	case class == ClassAuth:
		ex.mu.Lock()
		t.authHold = true
		ex.setStateLocked(t, StateEnqueued)
		ex.mu.Unlock()
		ex.config.logger.Printf("fieldsync: mutation %s parked awaiting authentication: %v", m.ID, err)
		if ex.config.onAuthRequired != nil {
			ex.config.onAuthRequired(*ex.mutationCopy(t))
		}

	case IsRetryableClass(class):
		if !ex.config.monitor.Online() {
			// Connectivity dropped mid-dispatch. Requeue without consuming
			// an attempt; the online transition redispatches.
			ex.setState(t, StateEnqueued)
			return
		}
		ex.mu.Lock()
		t.mutation.RetryCount++
		attempts := t.mutation.RetryCount
		ex.mu.Unlock()
		ex.retries.Add(1)

		if attempts >= ex.config.retry.MaxAttempts {
			ex.rollback(t, &MutationError{
				MutationID: m.ID,
				Class:      class,
				Attempts:   attempts,
				Cause:      err,
			})
			return
		}
		delay := ex.config.retry.backoffFor(attempts)
		ex.mu.Lock()
		t.readyAt = time.Now().Add(delay)
		ex.setStateLocked(t, StateRetryPending)
		if !ex.closed {
			ex.timers[m.ID] = time.AfterFunc(delay, func() {
				ex.mu.Lock()
				delete(ex.timers, m.ID)
				ex.mu.Unlock()
				ex.wake()
			})
		}
		ex.mu.Unlock()

	default:
		// Validation and unclassified rejections are final: the server will
		// never accept this mutation.
		ex.rollback(t, &MutationError{
			MutationID: m.ID,
			Class:      class,
			Attempts:   m.RetryCount + 1,
			Cause:      err,
		})
	}
}

// rollback restores the cache to its exact pre-mutation value, removes the
// durable record, and resolves the handle with the failure.
func (ex *Executor) rollback(t *tracked, merr *MutationError) {
	ex.setState(t, StateFailed)

	if t.snapshotID != "" {
		if err := ex.config.snapshots.Restore(t.snapshotID); err != nil {
			ex.config.logger.Printf("fieldsync: restore snapshot for %s: %v", merr.MutationID, err)
		}
		t.snapshotID = ""
	}

	if err := ex.config.queue.Remove(context.Background(), merr.MutationID); err != nil && !errors.Is(err, ErrMutationNotFound) {
		ex.config.logger.Printf("fieldsync: remove failed mutation %s from queue: %v", merr.MutationID, err)
	}

	ex.rolledBack.Add(1)
	ex.finish(t, StateRolledBack, merr)
}

// abandon unwinds a mutation that failed before it was enqueued.
func (ex *Executor) abandon(t *tracked, err error) {
	ex.config.logger.Printf("fieldsync: abandoning mutation %s before enqueue: %v", t.mutation.ID, err)
	if t.snapshotID != "" {
		if rerr := ex.config.snapshots.Restore(t.snapshotID); rerr != nil {
			ex.config.logger.Printf("fieldsync: restore snapshot for %s: %v", t.mutation.ID, rerr)
		}
		t.snapshotID = ""
	}
	ex.mu.Lock()
	delete(ex.tracked, t.mutation.ID)
	ex.mu.Unlock()
}

// finish moves the mutation to a terminal state, drops all executor
// bookkeeping for it, and resolves the handle exactly once.
func (ex *Executor) finish(t *tracked, terminal MutationState, err error) {
	ex.mu.Lock()
	ex.setStateLocked(t, terminal)
	ex.removeFromLaneLocked(t)
	delete(ex.tracked, t.mutation.ID)
	ex.mu.Unlock()

	if err != nil {
		t.handle.err = err
	}
	t.handle.final = terminal
	close(t.handle.done)
}

// RetryMutation releases a mutation parked by an authentication failure so
// it dispatches again, after the application refreshes credentials.
func (ex *Executor) RetryMutation(mutationID string) error {
	ex.mu.Lock()
	t, ok := ex.tracked[mutationID]
	if !ok {
		ex.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrMutationNotFound, mutationID)
	}
	t.authHold = false
	ex.mu.Unlock()
	ex.wake()
	return nil
}

// DiscardMutation abandons a parked or pending mutation, rolling back its
// optimistic effect. In-flight dispatches cannot be discarded.
func (ex *Executor) DiscardMutation(mutationID string) error {
	ex.mu.Lock()
	t, ok := ex.tracked[mutationID]
	if !ok || t.mutation.State.Terminal() {
		ex.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrMutationNotFound, mutationID)
	}
	if t.mutation.State == StateDispatching {
		ex.mu.Unlock()
		return fmt.Errorf("mutation %s is dispatching and cannot be discarded", mutationID)
	}
	// Discard is an explicit override, so skip the legal-edge check and
	// move straight to failed before the terminal transition.
	t.mutation.State = StateFailed
	ex.mu.Unlock()

	ex.discarded.Add(1)
	merr := &MutationError{
		MutationID: mutationID,
		Class:      ClassValidation,
		Attempts:   t.mutation.RetryCount,
		Cause:      errors.New("discarded by application"),
	}
	if t.snapshotID != "" {
		if err := ex.config.snapshots.Restore(t.snapshotID); err != nil {
			ex.config.logger.Printf("fieldsync: restore snapshot for %s: %v", mutationID, err)
		}
		t.snapshotID = ""
	}
	if err := ex.config.queue.Remove(context.Background(), mutationID); err != nil && !errors.Is(err, ErrMutationNotFound) {
		ex.config.logger.Printf("fieldsync: remove discarded mutation %s from queue: %v", mutationID, err)
	}
	ex.rolledBack.Add(1)
	ex.finish(t, StateRolledBack, merr)
	return nil
}

// setState transitions the mutation, enforcing the legal edges.
func (ex *Executor) setState(t *tracked, to MutationState) bool {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.setStateLocked(t, to)
}

func (ex *Executor) setStateLocked(t *tracked, to MutationState) bool {
	from := t.mutation.State
	if from == to {
		return true
	}
	if !transitionAllowed(from, to) {
		ex.config.logger.Printf("fieldsync: illegal state transition %s -> %s for mutation %s", from, to, t.mutation.ID)
		return false
	}
	t.mutation.State = to
	return true
}

func (ex *Executor) enqueueLaneLocked(t *tracked) {
	key := t.mutation.targetKey()
	l, ok := ex.lanes[key]
	if !ok {
		l = &lane{}
		ex.lanes[key] = l
	}
	l.queue = append(l.queue, t)
}

func (ex *Executor) removeFromLaneLocked(t *tracked) {
	key := t.mutation.targetKey()
	l, ok := ex.lanes[key]
	if !ok {
		return
	}
	for i, queued := range l.queue {
		if queued == t {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			break
		}
	}
	if len(l.queue) == 0 && !l.busy {
		delete(ex.lanes, key)
	}
}

func (ex *Executor) mutationCopy(t *tracked) *MutationRequest {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return t.mutation.Clone()
}

func (ex *Executor) stateOf(mutationID string) MutationState {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if t, ok := ex.tracked[mutationID]; ok {
		return t.mutation.State
	}
	return StateCommitted
}

// MutationDiagnostic describes one tracked mutation for inspection.
type MutationDiagnostic struct {
	ID           string        `json:"id"`
	ResourceType string        `json:"resource_type"`
	Operation    Operation     `json:"operation"`
	TargetID     string        `json:"target_id,omitempty"`
	State        MutationState `json:"state"`
	RetryCount   int           `json:"retry_count"`
	NextAttempt  time.Time     `json:"next_attempt,omitempty"`
	AuthHold     bool          `json:"auth_hold,omitempty"`
	LastError    string        `json:"last_error,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Diagnostics returns every non-terminal tracked mutation, oldest first.
func (ex *Executor) Diagnostics() []MutationDiagnostic {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	out := make([]MutationDiagnostic, 0, len(ex.tracked))
	for _, t := range ex.tracked {
		m := t.mutation
		if m.State.Terminal() {
			continue
		}
		out = append(out, MutationDiagnostic{
			ID:           m.ID,
			ResourceType: m.ResourceType,
			Operation:    m.Operation,
			TargetID:     m.TargetID,
			State:        m.State,
			RetryCount:   m.RetryCount,
			NextAttempt:  t.readyAt,
			AuthHold:     t.authHold,
			LastError:    m.LastError,
			CreatedAt:    m.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ExecutorStats reports cumulative dispatch counters.
type ExecutorStats struct {
	Submitted  uint64 `json:"submitted"`
	Committed  uint64 `json:"committed"`
	RolledBack uint64 `json:"rolled_back"`
	Retries    uint64 `json:"retries"`
	Discarded  uint64 `json:"discarded"`
	Pending    int    `json:"pending"`
}

// Stats returns current executor counters.
func (ex *Executor) Stats() ExecutorStats {
	ex.mu.Lock()
	pending := 0
	for _, t := range ex.tracked {
		if !t.mutation.State.Terminal() {
			pending++
		}
	}
	ex.mu.Unlock()
	return ExecutorStats{
		Submitted:  ex.submitted.Load(),
		Committed:  ex.committed.Load(),
		RolledBack: ex.rolledBack.Load(),
		Retries:    ex.retries.Load(),
		Discarded:  ex.discarded.Load(),
		Pending:    pending,
	}
}
