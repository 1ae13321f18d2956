// Package fieldsync is an offline-first mutation synchronization engine for
// clients of a single authoritative server.
//
// The engine lets an application keep mutating its local view of server-owned
// resources (tools, parts, work orders, ...) while disconnected. Mutations are
// applied optimistically to an in-memory cache, durably queued, and dispatched
// to the server once connectivity returns. Server responses are reconciled
// back into the cache: authoritative fields always win over optimistic
// guesses, dependent collections are invalidated and refetched in the
// background, and non-retryable failures roll the cache back to its exact
// pre-mutation value.
//
// The core pieces are:
//
//   - DurableStore: an async, crash-durable key-value interface with
//     in-memory, file, SQLite, and S3 implementations.
//   - CacheStore: the single-writer cache of collection data with per-key
//     write serialization and change subscriptions.
//   - SnapshotManager: pre-mutation value capture for rollback.
//   - Queue: the ordered, durable list of pending mutations.
//   - Coordinator: stale marking and coalesced background refetches.
//   - Executor: the per-mutation state machine and dispatch scheduler.
//   - Engine: a facade wiring all of the above from a single Config.
//
// A minimal setup:
//
//	policies, _ := fieldsync.LoadPolicies(policyYAML)
//	eng, err := fieldsync.New(fieldsync.Config{
//	    Store:     fieldsync.NewMemoryStore(),
//	    Transport: transport,
//	    Policies:  policies,
//	    Fetcher:   fetcher,
//	})
//	if err != nil {
//	    return err
//	}
//	defer eng.Close()
//	eng.Start(ctx)
//
//	handle, err := eng.Mutate(ctx, fieldsync.Mutation{
//	    ResourceType: "tools",
//	    Operation:    fieldsync.OpUpdate,
//	    TargetID:     "tool-1",
//	    Payload:      map[string]any{"status": "checked_out"},
//	})
//
// The cache reflects the optimistic result as soon as Mutate returns; the
// handle resolves when the server round-trip completes.
package fieldsync
