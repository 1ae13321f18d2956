package fieldsync

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// CollectionKey identifies one cached collection: a resource type plus a
// serialized query signature, e.g. "tools" or "tools?site=north".
type CollectionKey string

// NewCollectionKey builds a collection key from a resource type and query
// parameters. Parameters are serialized in sorted order so equal queries
// always map to the same key.
func NewCollectionKey(resourceType string, params map[string]string) CollectionKey {
	if len(params) == 0 {
		return CollectionKey(resourceType)
	}
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	key := resourceType + "?"
	for i, name := range names {
		if i > 0 {
			key += "&"
		}
		key += fmt.Sprintf("%s=%s", name, params[name])
	}
	return CollectionKey(key)
}

// CacheEntry is the cached state of one collection.
type CacheEntry struct {
	Key  CollectionKey `json:"key"`
	Data []Record      `json:"data"`

	// IsStale marks the entry as possibly outdated relative to the server.
	// It is cleared only by a completed server fetch (MarkFresh), never by
	// an optimistic local write.
	IsStale       bool      `json:"is_stale"`
	LastFetchedAt time.Time `json:"last_fetched_at"`
}

// Clone deep-copies the entry.
func (e CacheEntry) Clone() CacheEntry {
	out := e
	out.Data = cloneRecords(e.Data)
	return out
}

// findRecord returns the index of the record with the given ID, or -1.
func (e CacheEntry) findRecord(id string) int {
	for i, r := range e.Data {
		if r.ID() == id {
			return i
		}
	}
	return -1
}

// ChangeHandler observes cache entry changes. Handlers receive a deep copy;
// this fan-out is read-only and not part of the write path's correctness.
type ChangeHandler func(entry CacheEntry)

// CacheStore holds all cached collection data. It is the single writer for
// cache state: every component mutates collections through Write/MarkStale/
// MarkFresh, and no component holds a private mutable copy. Writes to the
// same key are serialized (later writes queue behind earlier ones); writes
// to different keys proceed independently.
type CacheStore struct {
	mu       sync.Mutex
	entries  map[CollectionKey]*CacheEntry
	keyLocks map[CollectionKey]*sync.Mutex

	subMu  sync.RWMutex
	subs   map[CollectionKey]map[uint64]ChangeHandler
	nextID uint64

	writeCount  atomic.Int64
	notifyCount atomic.Int64
}

// NewCacheStore creates an empty cache store.
func NewCacheStore() *CacheStore {
	return &CacheStore{
		entries:  make(map[CollectionKey]*CacheEntry),
		keyLocks: make(map[CollectionKey]*sync.Mutex),
		subs:     make(map[CollectionKey]map[uint64]ChangeHandler),
	}
}

// lockKey returns the per-key write mutex, creating it on first use.
func (c *CacheStore) lockKey(key CollectionKey) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.keyLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		c.keyLocks[key] = lock
	}
	return lock
}

// Read returns a deep copy of the entry for key.
func (c *CacheStore) Read(key CollectionKey) (CacheEntry, bool) {
	c.mu.Lock()
	entry, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return CacheEntry{}, false
	}
	out := entry.Clone()
	c.mu.Unlock()
	return out, true
}

// Write applies a pure function to the current entry and stores the result
// as a single atomic step for the key. The mutator receives a deep copy of
// the current entry (zero-valued with found=false if absent) and returns the
// next entry's data.
//
// Freshness is owned by the fetch path: whatever the mutator returns, the
// stored entry keeps the prior IsStale flag and LastFetchedAt (new entries
// start stale). Use MarkFresh to claim freshness after a server fetch.
func (c *CacheStore) Write(key CollectionKey, fn func(cur CacheEntry, found bool) CacheEntry) {
	lock := c.lockKey(key)
	lock.Lock()

	c.mu.Lock()
	cur, found := c.entries[key]
	var curCopy CacheEntry
	if found {
		curCopy = cur.Clone()
	} else {
		curCopy = CacheEntry{Key: key}
	}
	var priorStale bool
	var priorFetched time.Time
	if found {
		priorStale = cur.IsStale
		priorFetched = cur.LastFetchedAt
	} else {
		priorStale = true
	}
	c.mu.Unlock()

	next := fn(curCopy, found)
	next.Key = key
	next.IsStale = priorStale
	next.LastFetchedAt = priorFetched

	c.mu.Lock()
	stored := next.Clone()
	c.entries[key] = &stored
	c.mu.Unlock()

	lock.Unlock()

	c.writeCount.Add(1)
	c.notify(key, next)
}

// MarkStale flags the entry as possibly outdated. An absent entry is
// created empty and stale so the flag is observable by future subscribers.
func (c *CacheStore) MarkStale(key CollectionKey) {
	lock := c.lockKey(key)
	lock.Lock()

	c.mu.Lock()
	entry, ok := c.entries[key]
	if !ok {
		entry = &CacheEntry{Key: key}
		c.entries[key] = entry
	}
	entry.IsStale = true
	out := entry.Clone()
	c.mu.Unlock()

	lock.Unlock()
	c.notify(key, out)
}

// MarkFresh replaces the entry's data with a completed server fetch result,
// clears the stale flag, and stamps the fetch time. This is the only way an
// entry becomes fresh.
func (c *CacheStore) MarkFresh(key CollectionKey, data []Record) {
	lock := c.lockKey(key)
	lock.Lock()

	entry := CacheEntry{
		Key:           key,
		Data:          cloneRecords(data),
		IsStale:       false,
		LastFetchedAt: time.Now(),
	}
	c.mu.Lock()
	stored := entry.Clone()
	c.entries[key] = &stored
	c.mu.Unlock()

	lock.Unlock()

	c.writeCount.Add(1)
	c.notify(key, entry)
}

// restore reinstates a snapshotted entry verbatim, including its freshness
// fields, or removes the entry if it did not exist before the mutation.
// Rollbacks go through here so observers are notified like any other write.
func (c *CacheStore) restore(key CollectionKey, entry CacheEntry, existed bool) {
	lock := c.lockKey(key)
	lock.Lock()

	c.mu.Lock()
	if existed {
		stored := entry.Clone()
		stored.Key = key
		c.entries[key] = &stored
	} else {
		delete(c.entries, key)
		entry = CacheEntry{Key: key, IsStale: true}
	}
	c.mu.Unlock()

	lock.Unlock()

	c.writeCount.Add(1)
	c.notify(key, entry)
}

// Subscribe registers a change handler for a collection key and returns an
// unsubscribe function.
//
// Subscribing does not replay missed refetches: a collection invalidated
// while it had no subscribers stays stale. A new subscriber that finds
// IsStale set requests the refetch itself via Engine.Invalidate.
func (c *CacheStore) Subscribe(key CollectionKey, handler ChangeHandler) (unsubscribe func()) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	c.nextID++
	id := c.nextID
	if c.subs[key] == nil {
		c.subs[key] = make(map[uint64]ChangeHandler)
	}
	c.subs[key][id] = handler

	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		if handlers, ok := c.subs[key]; ok {
			delete(handlers, id)
			if len(handlers) == 0 {
				delete(c.subs, key)
			}
		}
	}
}

// HasSubscribers reports whether any live subscription exists for key.
func (c *CacheStore) HasSubscribers(key CollectionKey) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subs[key]) > 0
}

func (c *CacheStore) notify(key CollectionKey, entry CacheEntry) {
	c.subMu.RLock()
	handlers := make([]ChangeHandler, 0, len(c.subs[key]))
	for _, h := range c.subs[key] {
		handlers = append(handlers, h)
	}
	c.subMu.RUnlock()

	for _, h := range handlers {
		c.notifyCount.Add(1)
		h(entry.Clone())
	}
}

// Keys returns all cached collection keys.
func (c *CacheStore) Keys() []CollectionKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]CollectionKey, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	return keys
}

// CollectionStatus is the diagnostics view of one cached collection.
type CollectionStatus struct {
	Key           CollectionKey `json:"key"`
	Records       int           `json:"records"`
	IsStale       bool          `json:"is_stale"`
	LastFetchedAt time.Time     `json:"last_fetched_at"`
}

// CacheStats contains cache statistics.
type CacheStats struct {
	Entries       int   `json:"entries"`
	StaleEntries  int   `json:"stale_entries"`
	Writes        int64 `json:"writes"`
	Notifications int64 `json:"notifications"`
}

// Status returns the diagnostics view of every cached collection, sorted by
// key.
func (c *CacheStore) Status() []CollectionStatus {
	c.mu.Lock()
	out := make([]CollectionStatus, 0, len(c.entries))
	for key, entry := range c.entries {
		out = append(out, CollectionStatus{
			Key:           key,
			Records:       len(entry.Data),
			IsStale:       entry.IsStale,
			LastFetchedAt: entry.LastFetchedAt,
		})
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Stats returns cache statistics.
func (c *CacheStore) Stats() CacheStats {
	c.mu.Lock()
	entries := len(c.entries)
	stale := 0
	for _, e := range c.entries {
		if e.IsStale {
			stale++
		}
	}
	c.mu.Unlock()

	return CacheStats{
		Entries:       entries,
		StaleEntries:  stale,
		Writes:        c.writeCount.Load(),
		Notifications: c.notifyCount.Load(),
	}
}
