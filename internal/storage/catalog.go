package storage

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/dreamware/reshard/internal/catalog"
)

var (
	// ErrNotFound is returned when the requested record doesn't exist.
	ErrNotFound = errors.New("catalog record not found")

	// ErrDuplicateKey is returned when inserting a coordinator document whose
	// id exists with different content.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrConflictingOperation is returned when inserting a coordinator
	// document for a namespace that already has one.
	ErrConflictingOperation = errors.New("namespace already has a resharding operation")
)

// OperationStore persists coordinator documents. At most one document may
// exist per original namespace.
type OperationStore interface {
	// InsertOperation stores a new document. Inserting a document identical
	// to the stored one succeeds without writing.
	InsertOperation(ctx context.Context, doc catalog.CoordinatorDocument) error
	GetOperation(ctx context.Context, id uuid.UUID) (catalog.CoordinatorDocument, error)
	FindOperationByNamespace(ctx context.Context, ns catalog.Namespace) (catalog.CoordinatorDocument, error)
	ListOperations(ctx context.Context) ([]catalog.CoordinatorDocument, error)
	// ReplaceOperation returns ErrNotFound if no document has doc.ID.
	ReplaceOperation(ctx context.Context, doc catalog.CoordinatorDocument) error
	// DeleteOperation is a no-op if the document doesn't exist.
	DeleteOperation(ctx context.Context, id uuid.UUID) error
}

// CollectionStore persists collection entries keyed by namespace.
type CollectionStore interface {
	GetCollection(ctx context.Context, ns catalog.Namespace) (catalog.CollectionEntry, error)
	ListCollections(ctx context.Context) ([]catalog.CollectionEntry, error)
	// PutCollection inserts or replaces the entry.
	PutCollection(ctx context.Context, e catalog.CollectionEntry) error
	// SetReshardingFields replaces only the resharding fields of an existing
	// entry; nil removes them. Returns ErrNotFound if the entry is missing.
	SetReshardingFields(ctx context.Context, ns catalog.Namespace, f *catalog.ReshardingFields) error
	// DeleteCollection is a no-op if the entry doesn't exist.
	DeleteCollection(ctx context.Context, ns catalog.Namespace) error
}

// ChunkStore persists chunks. Each call is atomic.
type ChunkStore interface {
	// UpsertChunks inserts or replaces chunks by namespace and id.
	UpsertChunks(ctx context.Context, chunks []catalog.Chunk) error
	FindChunks(ctx context.Context, ns catalog.Namespace) ([]catalog.Chunk, error)
	// RelabelChunks moves every chunk of from to namespace to and stamps it
	// with epoch, keeping ids, ranges, owners and major/minor versions.
	RelabelChunks(ctx context.Context, from, to catalog.Namespace, epoch primitive.ObjectID) (int, error)
	// DeleteChunks removes the chunks of ns not in keepEpoch. A zero
	// keepEpoch removes all of them.
	DeleteChunks(ctx context.Context, ns catalog.Namespace, keepEpoch primitive.ObjectID) (int, error)
	// DeleteChunksExcept removes the chunks of ns whose id is not in keep.
	DeleteChunksExcept(ctx context.Context, ns catalog.Namespace, keep []primitive.ObjectID) (int, error)
}

// ZoneStore persists zones keyed by namespace and range minimum. Each call is
// atomic.
type ZoneStore interface {
	UpsertZones(ctx context.Context, zones []catalog.Zone) error
	FindZones(ctx context.Context, ns catalog.Namespace) ([]catalog.Zone, error)
	// RelabelZones moves every zone of from to namespace to, replacing any
	// zone of to with the same minimum.
	RelabelZones(ctx context.Context, from, to catalog.Namespace) (int, error)
	DeleteZones(ctx context.Context, ns catalog.Namespace) (int, error)
}

// Catalog is the durable sharding catalog the coordinator writes to.
type Catalog interface {
	OperationStore
	CollectionStore
	ChunkStore
	ZoneStore

	// Ping checks that the catalog can serve requests.
	Ping(ctx context.Context) error
	Stats(ctx context.Context) (CatalogStats, error)
	Close() error
}

// CatalogStats counts the records in a catalog.
type CatalogStats struct {
	Operations  int `json:"operations"`
	Collections int `json:"collections"`
	Chunks      int `json:"chunks"`
	Zones       int `json:"zones"`
}
