// Package coordinator implements the resharding coordinator's persistence
// engine: the component that makes each step of a resharding operation
// durable in the sharding catalog, together with the read-only view routers
// and shards use to follow the operation.
//
// # Overview
//
// A resharding operation moves a sharded namespace from one shard key to
// another. An external driver decides when the operation advances; this
// package turns each decision into catalog writes and guarantees that the
// writes are safe to repeat after a crash.
//
// # Architecture
//
//	┌─────────────────────────────────────────┐
//	│              COORDINATOR                │
//	├─────────────────────────────────────────┤
//	│                                         │
//	│  ┌───────────────────────────────────┐  │
//	│  │   Persistence                     │  │
//	│  │   - Initialize / Transition       │  │
//	│  │   - Commit (with count fence)     │  │
//	│  │   - Remove / Abort cleanup        │  │
//	│  └───────────────┬───────────────────┘  │
//	│                  │                      │
//	│  ┌───────────────▼───────────────────┐  │
//	│  │   storage.Catalog                 │  │
//	│  │   operations, collections,        │  │
//	│  │   chunks, zones                   │  │
//	│  └───────────────▲───────────────────┘  │
//	│                  │                      │
//	│  ┌───────────────┴───────────────────┐  │
//	│  │   CatalogReader                   │  │
//	│  │   - entries with resharding state │  │
//	│  │   - routing info per epoch        │  │
//	│  └───────────────────────────────────┘  │
//	│                                         │
//	│  ShardRegistry   HealthMonitor  Metrics │
//	└─────────────────────────────────────────┘
//
// # Core Components
//
// Persistence: the engine. Each operation validates its input, reads what
// it needs, checks the transition against the durable document, writes the
// catalog records in a fixed order and finally writes the coordinator
// document. With postcondition checks enabled it re-reads the catalog and
// verifies the promised state.
//
// ShardCollection registers an ordinary sharded namespace, the starting
// point of every operation.
//
// CatalogReader: read path for routers and shards. It filters chunks to the
// entry's epoch and zones to the entry's key pattern, so the leftovers of a
// commit in progress are never served.
//
// ShardRegistry: the shards operations may name. The engine rejects
// documents naming unknown shards.
//
// HealthMonitor: periodic probes of the catalog store and registered
// shards, reported through the server's health endpoint.
//
// # Operation Lifecycle
//
//	initializing ─► initialized ─► preparing-to-donate ─► cloning
//	     ─► mirroring ─► committed ─► dropping ─► done
//
//	any state but done ─► error
//
//	PersistInitialStateAndCatalogUpdates    initializing|initialized → initialized
//	PersistStateTransition                  → preparing-to-donate, cloning,
//	                                          mirroring, dropping, error
//	PersistCommittedState                   mirroring → committed
//	RemoveCoordinatorDocAndReshardingFields dropping → done
//	RemoveAbortedOperation                  error → removed
//
// # Crash Safety
//
// No operation runs in a single catalog transaction. Instead:
//   - Inserts are no-ops when the identical record exists
//   - Bulk changes are keyed by record identity (chunk id, zone minimum)
//   - The coordinator document is written last, so the durable state
//     always names the last step that completed in full
//   - Commit counts records wherever a partial attempt left them
//
// Re-invoking the same call with the same arguments converges on the state
// a clean run produces.
//
// # Error Handling
//
// Every failure is a *resharding.Error carrying a Kind and a stable code.
// resharding.DispositionOf maps it to retry, reconcile or escalate.
// Catalog failures that are not one of the store's sentinels become
// KindInfrastructure after the configured retry policy gives up.
//
// # Usage Example
//
//	store, _ := storage.OpenBoltStore("/var/lib/reshard/catalog.db")
//	registry := coordinator.NewShardRegistry()
//	registry.RegisterList("shard0000=db0:27018,shard0001=db1:27018")
//
//	engine := coordinator.NewPersistence(store,
//	    coordinator.WithLogger(logger),
//	    coordinator.WithShardRegistry(registry),
//	    coordinator.WithMetrics(coordinator.NewMetrics(prometheus.DefaultRegisterer)),
//	)
//
//	doc := catalog.NewCoordinatorDocument("app.users", collUUID,
//	    catalog.NewKeyPattern("region"), []string{"shard0000"}, []string{"shard0001"})
//	err := engine.PersistInitialStateAndCatalogUpdates(ctx, doc, chunks, zones)
//
// # Thread Safety
//
// All exported types are safe for concurrent use. The engine assumes a
// single writer per operation id; serializing the driver is the caller's
// job.
package coordinator
