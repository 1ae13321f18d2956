package fieldsync

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// RecordIDField is the field every resource record is keyed by.
const RecordIDField = "id"

// LocalPendingField tags placeholder records created optimistically before
// the server has confirmed them.
const LocalPendingField = "_pending"

// Record is a single resource record as held in the cache. Field values are
// JSON-compatible (strings, numbers, bools, nested maps and slices).
type Record map[string]any

// ID returns the record's identifier, or "" if unset.
func (r Record) ID() string {
	id, _ := r[RecordIDField].(string)
	return id
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneRecords deep-copies a record slice.
func cloneRecords(records []Record) []Record {
	if records == nil {
		return nil
	}
	out := make([]Record, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = cloneValue(inner)
		}
		return out
	case Record:
		return map[string]any(val.Clone())
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = cloneValue(inner)
		}
		return out
	default:
		return val
	}
}

// clonePayload deep-copies a mutation payload.
func clonePayload(p map[string]any) map[string]any {
	if p == nil {
		return nil
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

// Operation is the kind of mutation applied to a resource.
type Operation string

const (
	// OpCreate inserts a new resource record.
	OpCreate Operation = "create"
	// OpUpdate merges fields into an existing record.
	OpUpdate Operation = "update"
	// OpDelete removes a record.
	OpDelete Operation = "delete"
)

// Valid reports whether the operation is one of create/update/delete.
func (op Operation) Valid() bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// MutationState is a state in the per-mutation state machine.
type MutationState int

const (
	// StateCreated is the initial state after validation.
	StateCreated MutationState = iota
	// StateOptimisticApplied means the optimistic payload is in the cache
	// and a snapshot of the prior value is held.
	StateOptimisticApplied
	// StateEnqueued means the mutation is durably queued and waiting to
	// dispatch (or waiting for connectivity).
	StateEnqueued
	// StateDispatching means a server round-trip is in flight.
	StateDispatching
	// StateRetryPending means a transient failure occurred and the next
	// attempt is scheduled.
	StateRetryPending
	// StateCommitted is terminal: the server confirmed the mutation.
	StateCommitted
	// StateFailed means the mutation failed non-retryably; rollback is in
	// progress.
	StateFailed
	// StateRolledBack is terminal: the cache was restored to its
	// pre-mutation value.
	StateRolledBack
)

var stateNames = map[MutationState]string{
	StateCreated:           "created",
	StateOptimisticApplied: "optimistic-applied",
	StateEnqueued:          "enqueued",
	StateDispatching:       "dispatching",
	StateRetryPending:      "retry-pending",
	StateCommitted:         "committed",
	StateFailed:            "failed",
	StateRolledBack:        "rolled-back",
}

var stateValues = func() map[string]MutationState {
	m := make(map[string]MutationState, len(stateNames))
	for s, n := range stateNames {
		m[n] = s
	}
	return m
}()

// String returns the state name.
func (s MutationState) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether the state is committed or rolled back.
func (s MutationState) Terminal() bool {
	return s == StateCommitted || s == StateRolledBack
}

// MarshalJSON encodes the state as its name.
func (s MutationState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a state name.
func (s *MutationState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	state, ok := stateValues[name]
	if !ok {
		return fmt.Errorf("unknown mutation state %q", name)
	}
	*s = state
	return nil
}

// legalTransitions lists the permitted state machine edges. Transitions not
// listed here are programming errors; the executor refuses them so a
// mutation can never commit twice or resurrect from a terminal state.
var legalTransitions = map[MutationState][]MutationState{
	StateCreated:           {StateOptimisticApplied, StateEnqueued},
	StateOptimisticApplied: {StateEnqueued},
	StateEnqueued:          {StateDispatching},
	StateDispatching:       {StateCommitted, StateRetryPending, StateFailed, StateEnqueued},
	StateRetryPending:      {StateDispatching, StateFailed},
	StateFailed:            {StateRolledBack},
}

func transitionAllowed(from, to MutationState) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// MutationRequest is the engine's record of a single mutation. It is owned
// exclusively by the Executor; other components see copies.
type MutationRequest struct {
	ID                string         `json:"id"`
	ResourceType      string         `json:"resource_type"`
	Operation         Operation      `json:"operation"`
	TargetID          string         `json:"target_id,omitempty"`
	Payload           map[string]any `json:"payload,omitempty"`
	OptimisticPayload map[string]any `json:"optimistic_payload,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	State             MutationState  `json:"state"`
	RetryCount        int            `json:"retry_count"`
	LastError         string         `json:"last_error,omitempty"`
}

// targetKey identifies the per-target FIFO lane for ordering. Creates use
// their own mutation ID as the target so unrelated creates dispatch
// concurrently while anything referencing the placeholder queues behind it.
func (m *MutationRequest) targetKey() string {
	if m.TargetID != "" {
		return m.ResourceType + "/" + m.TargetID
	}
	return m.ResourceType + "/" + m.ID
}

// Clone deep-copies the request.
func (m *MutationRequest) Clone() *MutationRequest {
	out := *m
	out.Payload = clonePayload(m.Payload)
	out.OptimisticPayload = clonePayload(m.OptimisticPayload)
	return &out
}

// QueueRecord is a persisted mutation plus its queue sequence number.
// Sequence numbers strictly increase, are never reused, and survive restarts
// so replay order is deterministic.
type QueueRecord struct {
	Seq      uint64          `json:"seq"`
	Mutation MutationRequest `json:"mutation"`

	// Ephemeral marks records that could not be persisted (degraded
	// durability); they live only in memory for the current session.
	Ephemeral bool `json:"-"`
}

// newMutationID allocates a random mutation identifier.
func newMutationID() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// Fall back to a timestamp; uniqueness is still near-certain in
		// combination with the queue sequence.
		return fmt.Sprintf("mut-%d", time.Now().UnixNano())
	}
	return "mut-" + hex.EncodeToString(buf[:])
}
