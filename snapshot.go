package fieldsync

import (
	"fmt"
	"sync"
	"time"
)

// Snapshot is the captured prior value of a cache entry, held until the
// owning mutation resolves. Snapshots are never persisted: after a restart,
// in-flight optimistic state is reconstructed by queue replay, not from
// snapshots.
type Snapshot struct {
	ID         string
	MutationID string
	Key        CollectionKey
	Prior      CacheEntry
	Existed    bool
	TakenAt    time.Time
}

// SnapshotManager captures pre-mutation cache values so a failed mutation
// can be rolled back. Every captured snapshot is consumed exactly once: by
// Restore on failure or Discard on commit. Live() exposes the outstanding
// count so tests can detect leaks.
type SnapshotManager struct {
	cache *CacheStore

	mu     sync.Mutex
	snaps  map[string]*Snapshot
	nextID uint64

	captured  int64
	restored  int64
	discarded int64
}

// NewSnapshotManager creates a snapshot manager writing restores through the
// given cache store.
func NewSnapshotManager(cache *CacheStore) *SnapshotManager {
	return &SnapshotManager{
		cache: cache,
		snaps: make(map[string]*Snapshot),
	}
}

// Capture deep-copies the current entry for key and returns the snapshot ID.
// Called atomically with the optimistic write (before it, under the caller's
// per-mutation sequencing).
func (sm *SnapshotManager) Capture(mutationID string, key CollectionKey) string {
	prior, existed := sm.cache.Read(key)

	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.nextID++
	id := fmt.Sprintf("snap-%d", sm.nextID)
	sm.snaps[id] = &Snapshot{
		ID:         id,
		MutationID: mutationID,
		Key:        key,
		Prior:      prior,
		Existed:    existed,
		TakenAt:    time.Now(),
	}
	sm.captured++
	return id
}

// Restore writes the captured value back through the cache store's normal
// write path (observers are notified like any other write) and consumes the
// snapshot. Restoring an unknown or already-consumed snapshot is an error.
func (sm *SnapshotManager) Restore(snapshotID string) error {
	sm.mu.Lock()
	snap, ok := sm.snaps[snapshotID]
	if ok {
		delete(sm.snaps, snapshotID)
		sm.restored++
	}
	sm.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSnapshotNotFound, snapshotID)
	}

	sm.cache.restore(snap.Key, snap.Prior, snap.Existed)
	return nil
}

// Discard frees the snapshot without restoring. Discarding an unknown or
// already-consumed snapshot is an error.
func (sm *SnapshotManager) Discard(snapshotID string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if _, ok := sm.snaps[snapshotID]; !ok {
		return fmt.Errorf("%w: %s", ErrSnapshotNotFound, snapshotID)
	}
	delete(sm.snaps, snapshotID)
	sm.discarded++
	return nil
}

// Live returns the number of outstanding snapshots. A nonzero value after
// all mutations reach a terminal state indicates a leak.
func (sm *SnapshotManager) Live() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.snaps)
}

// SnapshotStats contains snapshot lifecycle counters.
type SnapshotStats struct {
	Live      int   `json:"live"`
	Captured  int64 `json:"captured"`
	Restored  int64 `json:"restored"`
	Discarded int64 `json:"discarded"`
}

// Stats returns snapshot statistics.
func (sm *SnapshotManager) Stats() SnapshotStats {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return SnapshotStats{
		Live:      len(sm.snaps),
		Captured:  sm.captured,
		Restored:  sm.restored,
		Discarded: sm.discarded,
	}
}
