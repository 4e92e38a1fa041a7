// Package catalog defines the durable document shapes used by the resharding
// coordinator: the coordinator document stored in config.reshardingOperations,
// and the collection, chunk and zone records it mirrors state into.
//
// # Documents
//
// Four logical collections hold the state of a resharding operation:
//
//	┌──────────────────────────┐      ┌──────────────────────────┐
//	│ reshardingOperations     │      │ collections              │
//	│  CoordinatorDocument     │─────▶│  CollectionEntry         │
//	│  (one per operation)     │      │  + ReshardingFields      │
//	└──────────────────────────┘      └──────────────────────────┘
//	                                          │
//	                              ┌───────────┴───────────┐
//	                              ▼                       ▼
//	                      ┌──────────────┐        ┌──────────────┐
//	                      │ chunks       │        │ tags         │
//	                      │  Chunk       │        │  Zone        │
//	                      └──────────────┘        └──────────────┘
//
// Every shape carries bson struct tags; the BSON encoding is the persisted
// layout in every storage backend. Epochs are ObjectIDs, timestamps are
// BSON timestamps and identifiers are UUIDs.
//
// # Namespaces
//
// An operation resharding "db.coll" writes its new incarnation under the
// temporary namespace "db.system.resharding.<operation id>". At commit the
// temporary records are relabeled to the original namespace.
//
// The types in this package carry no behaviour beyond small accessors and
// equality helpers. Validation and state derivation live in the resharding
// package.
package catalog
