// Package storage persists the sharding catalog the resharding coordinator
// reads and writes: coordinator documents, collection entries, chunks and
// zones.
//
// # Overview
//
// The coordinator never talks to a database directly. It depends on the
// Catalog interface, which groups four record stores and a health probe:
//
//	┌─────────────────────────────────────┐
//	│        Persistence Engine           │
//	│      (internal/coordinator)         │
//	└─────────────────────────────────────┘
//	                 │
//	                 ▼
//	┌─────────────────────────────────────┐
//	│         Catalog Interface           │
//	│ (Operation/Collection/Chunk/Zone)   │
//	└─────────────────────────────────────┘
//	        │                     │
//	        ▼                     ▼
//	┌───────────────┐     ┌───────────────┐
//	│ DocumentStore │     │  MongoStore   │
//	└───────────────┘     └───────────────┘
//	        │
//	   ┌────┴─────┐
//	   ▼          ▼
//	┌────────┐ ┌────────┐
//	│ Memory │ │  Bolt  │
//	└────────┘ └────────┘
//
// # Implementations
//
// DocumentStore: BSON documents in a bucketed Backend
//   - MemoryBackend keeps buckets in maps behind a sync.RWMutex
//   - BoltBackend keeps them in a single bbolt file and survives restarts
//   - Chunk and zone keys are prefixed with their namespace so per-namespace
//     scans and relabels touch only that namespace
//
// MongoStore: the config database of a MongoDB replica set
//   - reshardingOperations, collections, chunks and tags collections
//   - Majority read and write concern
//   - A unique index on the operation namespace
//
// # Atomicity
//
// Every Catalog method is atomic on its own: a relabel either moves all of a
// namespace's chunks or none. Nothing is atomic across methods. Callers that
// need a multi-record change to survive a crash must order their writes so
// that replaying the sequence from the start converges.
//
// # Error Handling
//
// ErrNotFound: the requested record doesn't exist
//
// ErrDuplicateKey: a different coordinator document already has this id
//
// ErrConflictingOperation: another coordinator document already owns the
// namespace
//
// Every other error is an infrastructure failure whose outcome is unknown.
// Sentinels are wrapped with context; match them with errors.Is.
//
// # Usage Examples
//
//	store, err := storage.OpenBoltStore("/var/lib/reshard/catalog.db")
//	if err != nil {
//	    log.Fatalf("Failed to open catalog: %v", err)
//	}
//	defer store.Close()
//
//	entry, err := store.GetCollection(ctx, "db.coll")
//	if errors.Is(err, storage.ErrNotFound) {
//	    log.Println("Collection is not sharded")
//	}
package storage
