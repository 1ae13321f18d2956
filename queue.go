package fieldsync

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"
)

const (
	queueKeyPrefix = "queue/"
	queueSeqKey    = "queue/seq"
)

func queueRecordKey(seq uint64) string {
	return fmt.Sprintf("%s%020d", queueKeyPrefix, seq)
}

// Queue is the ordered, durable list of pending mutations — the only
// structure mutated while offline. Records are persisted to the DurableStore
// before any network attempt, so no mutation is lost to a crash between user
// action and dispatch. Sequence numbers strictly increase and are never
// reused, even across restarts.
type Queue struct {
	store  DurableStore
	codec  *codec
	logger *log.Logger

	mu      sync.Mutex
	records []*QueueRecord // sorted by Seq
	byID    map[string]*QueueRecord
	lastSeq uint64

	appended  int64
	removed   int64
	ephemeral int64
}

// NewQueue creates a queue persisting through store. Call Load before use to
// recover records from a previous session.
func NewQueue(store DurableStore, codec *codec, logger *log.Logger) *Queue {
	if logger == nil {
		logger = log.Default()
	}
	return &Queue{
		store:  store,
		codec:  codec,
		logger: logger,
		byID:   make(map[string]*QueueRecord),
	}
}

// Load reads all persisted records, restoring them in sequence order. The
// sequence high-water mark is recovered from both the meta key and the
// surviving records so numbers from removed records are never reused.
func (q *Queue) Load(ctx context.Context) error {
	keys, err := q.store.ListKeys(ctx, queueKeyPrefix)
	if err != nil {
		return fmt.Errorf("list queue keys: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.records = nil
	q.byID = make(map[string]*QueueRecord)
	q.lastSeq = 0

	for _, key := range keys {
		if key == queueSeqKey {
			raw, err := q.store.Get(ctx, key)
			if err != nil {
				continue
			}
			if seq, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 64); err == nil && seq > q.lastSeq {
				q.lastSeq = seq
			}
			continue
		}

		raw, err := q.store.Get(ctx, key)
		if err != nil {
			q.logger.Printf("fieldsync: skipping unreadable queue record %s: %v", key, err)
			continue
		}
		plain, err := q.codec.Decode(raw)
		if err != nil {
			return fmt.Errorf("decode queue record %s: %w", key, err)
		}
		var rec QueueRecord
		if err := json.Unmarshal(plain, &rec); err != nil {
			return fmt.Errorf("%w: queue record %s: %v", ErrStoreCorruption, key, err)
		}

		// Replayed work re-enters the pipeline at Enqueued; the cache is
		// cold on restart and is rebuilt by fetches plus replay.
		rec.Mutation.State = StateEnqueued

		q.records = append(q.records, &rec)
		q.byID[rec.Mutation.ID] = &rec
		if rec.Seq > q.lastSeq {
			q.lastSeq = rec.Seq
		}
	}

	sort.Slice(q.records, func(i, j int) bool { return q.records[i].Seq < q.records[j].Seq })
	return nil
}

// Append assigns the next sequence number and durably persists the record
// before returning. If persistence fails the record proceeds in-memory for
// this session and a *QueuePersistenceError is returned alongside the
// record: correctness of the in-session cache is unaffected, only
// durability is degraded.
func (q *Queue) Append(ctx context.Context, mutation MutationRequest) (*QueueRecord, error) {
	q.mu.Lock()
	q.lastSeq++
	rec := &QueueRecord{Seq: q.lastSeq, Mutation: mutation}
	q.records = append(q.records, rec)
	q.byID[mutation.ID] = rec
	q.appended++
	q.mu.Unlock()

	if err := q.persist(ctx, rec); err != nil {
		q.mu.Lock()
		rec.Ephemeral = true
		q.ephemeral++
		q.mu.Unlock()
		q.logger.Printf("fieldsync: WARNING: queue persistence failed for %s, continuing in-memory: %v", mutation.ID, err)
		return rec, &QueuePersistenceError{MutationID: mutation.ID, Cause: err}
	}

	if err := q.persistSeq(ctx); err != nil {
		// The record itself is durable; only the high-water mark lagged.
		q.logger.Printf("fieldsync: WARNING: queue sequence checkpoint failed: %v", err)
	}

	return rec, nil
}

func (q *Queue) persist(ctx context.Context, rec *QueueRecord) error {
	plain, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal queue record: %w", err)
	}
	envelope, err := q.codec.Encode(plain)
	if err != nil {
		return err
	}
	return q.store.Set(ctx, queueRecordKey(rec.Seq), envelope)
}

func (q *Queue) persistSeq(ctx context.Context) error {
	q.mu.Lock()
	seq := q.lastSeq
	q.mu.Unlock()
	return q.store.Set(ctx, queueSeqKey, []byte(strconv.FormatUint(seq, 10)))
}

// Remove deletes the record for a resolved mutation from memory and from
// the durable store.
func (q *Queue) Remove(ctx context.Context, mutationID string) error {
	q.mu.Lock()
	rec, ok := q.byID[mutationID]
	if ok {
		delete(q.byID, mutationID)
		for i, r := range q.records {
			if r.Mutation.ID == mutationID {
				q.records = append(q.records[:i], q.records[i+1:]...)
				break
			}
		}
		q.removed++
	}
	q.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrMutationNotFound, mutationID)
	}
	if rec.Ephemeral {
		return nil
	}
	if err := q.store.Delete(ctx, queueRecordKey(rec.Seq)); err != nil {
		return fmt.Errorf("delete queue record %d: %w", rec.Seq, err)
	}
	return nil
}

// PeekNext returns a copy of the lowest-sequence unresolved record.
func (q *Queue) PeekNext() (QueueRecord, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.records) == 0 {
		return QueueRecord{}, false
	}
	rec := *q.records[0]
	rec.Mutation = *q.records[0].Mutation.Clone()
	return rec, true
}

// ListPending returns copies of all unresolved records in sequence order,
// for replay and diagnostics.
func (q *Queue) ListPending() []QueueRecord {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]QueueRecord, len(q.records))
	for i, rec := range q.records {
		out[i] = *rec
		out[i].Mutation = *rec.Mutation.Clone()
	}
	return out
}

// Len returns the number of unresolved records.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records)
}

// QueueStats contains queue counters.
type QueueStats struct {
	Pending   int    `json:"pending"`
	Appended  int64  `json:"appended"`
	Removed   int64  `json:"removed"`
	Ephemeral int64  `json:"ephemeral"`
	LastSeq   uint64 `json:"last_seq"`
}

// Stats returns queue statistics.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Pending:   len(q.records),
		Appended:  q.appended,
		Removed:   q.removed,
		Ephemeral: q.ephemeral,
		LastSeq:   q.lastSeq,
	}
}
