package storage

import (
	"bytes"
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/dreamware/reshard/internal/catalog"
)

const (
	bucketOperations     = "operations"
	bucketOperationsByNs = "operations_by_ns"
	bucketCollections    = "collections"
	bucketChunks         = "chunks"
	bucketZones          = "zones"
)

var catalogBuckets = []string{
	bucketOperations,
	bucketOperationsByNs,
	bucketCollections,
	bucketChunks,
	bucketZones,
}

// DocumentStore implements Catalog on a Backend, storing every record as a
// BSON document. Each method runs in a single backend transaction.
type DocumentStore struct {
	backend Backend
}

// NewDocumentStore wraps backend. The backend must hold the catalog buckets.
func NewDocumentStore(backend Backend) *DocumentStore {
	return &DocumentStore{backend: backend}
}

// NewMemoryStore returns an empty catalog held in memory.
func NewMemoryStore() *DocumentStore {
	return NewDocumentStore(NewMemoryBackend())
}

// OpenBoltStore opens the catalog kept in the bbolt file at path.
func OpenBoltStore(path string) (*DocumentStore, error) {
	backend, err := OpenBoltBackend(path, catalogBuckets...)
	if err != nil {
		return nil, err
	}
	return NewDocumentStore(backend), nil
}

// nsPrefix scopes chunk and zone keys to a namespace. The NUL separator
// cannot appear in a valid namespace.
func nsPrefix(ns catalog.Namespace) string {
	return string(ns) + "\x00"
}

func chunkKey(c catalog.Chunk) string {
	return nsPrefix(c.Namespace) + c.ID.Hex()
}

func getDoc(tx Txn, bucket, key string, out interface{}) error {
	data, err := tx.Get(bucket, key)
	if errors.Is(err, ErrKeyNotFound) {
		return errors.Wrapf(ErrNotFound, "%s/%s", bucket, key)
	}
	if err != nil {
		return err
	}
	return errors.Wrapf(bson.Unmarshal(data, out), "decode %s/%s", bucket, key)
}

func putDoc(tx Txn, bucket, key string, v interface{}) error {
	data, err := bson.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s/%s", bucket, key)
	}
	return tx.Put(bucket, key, data)
}

func (s *DocumentStore) InsertOperation(ctx context.Context, doc catalog.CoordinatorDocument) error {
	data, err := bson.Marshal(doc)
	if err != nil {
		return errors.Wrapf(err, "encode operation %s", doc.ID)
	}
	key := doc.ID.String()
	return s.backend.Update(ctx, func(tx Txn) error {
		existing, err := tx.Get(bucketOperations, key)
		switch {
		case err == nil:
			if bytes.Equal(existing, data) {
				return nil
			}
			return errors.Wrapf(ErrDuplicateKey, "operation %s", doc.ID)
		case !errors.Is(err, ErrKeyNotFound):
			return err
		}

		owner, err := tx.Get(bucketOperationsByNs, string(doc.Namespace))
		switch {
		case err == nil:
			return errors.Wrapf(ErrConflictingOperation, "%s is owned by operation %s", doc.Namespace, owner)
		case !errors.Is(err, ErrKeyNotFound):
			return err
		}

		if err := tx.Put(bucketOperations, key, data); err != nil {
			return err
		}
		return tx.Put(bucketOperationsByNs, string(doc.Namespace), []byte(key))
	})
}

func (s *DocumentStore) GetOperation(ctx context.Context, id uuid.UUID) (catalog.CoordinatorDocument, error) {
	var doc catalog.CoordinatorDocument
	err := s.backend.View(ctx, func(tx Txn) error {
		return getDoc(tx, bucketOperations, id.String(), &doc)
	})
	return doc, err
}

func (s *DocumentStore) FindOperationByNamespace(ctx context.Context, ns catalog.Namespace) (catalog.CoordinatorDocument, error) {
	var doc catalog.CoordinatorDocument
	err := s.backend.View(ctx, func(tx Txn) error {
		id, err := tx.Get(bucketOperationsByNs, string(ns))
		if errors.Is(err, ErrKeyNotFound) {
			return errors.Wrapf(ErrNotFound, "operation for %s", ns)
		}
		if err != nil {
			return err
		}
		return getDoc(tx, bucketOperations, string(id), &doc)
	})
	return doc, err
}

func (s *DocumentStore) ListOperations(ctx context.Context) ([]catalog.CoordinatorDocument, error) {
	var docs []catalog.CoordinatorDocument
	err := s.backend.View(ctx, func(tx Txn) error {
		return tx.ForEach(bucketOperations, "", func(key string, value []byte) error {
			var doc catalog.CoordinatorDocument
			if err := bson.Unmarshal(value, &doc); err != nil {
				return errors.Wrapf(err, "decode operation %s", key)
			}
			docs = append(docs, doc)
			return nil
		})
	})
	return docs, err
}

func (s *DocumentStore) ReplaceOperation(ctx context.Context, doc catalog.CoordinatorDocument) error {
	key := doc.ID.String()
	return s.backend.Update(ctx, func(tx Txn) error {
		var existing catalog.CoordinatorDocument
		if err := getDoc(tx, bucketOperations, key, &existing); err != nil {
			return err
		}
		if existing.Namespace != doc.Namespace {
			if err := tx.Delete(bucketOperationsByNs, string(existing.Namespace)); err != nil {
				return err
			}
			if err := tx.Put(bucketOperationsByNs, string(doc.Namespace), []byte(key)); err != nil {
				return err
			}
		}
		return putDoc(tx, bucketOperations, key, doc)
	})
}

func (s *DocumentStore) DeleteOperation(ctx context.Context, id uuid.UUID) error {
	key := id.String()
	return s.backend.Update(ctx, func(tx Txn) error {
		var existing catalog.CoordinatorDocument
		err := getDoc(tx, bucketOperations, key, &existing)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		owner, err := tx.Get(bucketOperationsByNs, string(existing.Namespace))
		if err == nil && string(owner) == key {
			if err := tx.Delete(bucketOperationsByNs, string(existing.Namespace)); err != nil {
				return err
			}
		}
		return tx.Delete(bucketOperations, key)
	})
}

func (s *DocumentStore) GetCollection(ctx context.Context, ns catalog.Namespace) (catalog.CollectionEntry, error) {
	var e catalog.CollectionEntry
	err := s.backend.View(ctx, func(tx Txn) error {
		return getDoc(tx, bucketCollections, string(ns), &e)
	})
	return e, err
}

func (s *DocumentStore) ListCollections(ctx context.Context) ([]catalog.CollectionEntry, error) {
	var entries []catalog.CollectionEntry
	err := s.backend.View(ctx, func(tx Txn) error {
		return tx.ForEach(bucketCollections, "", func(key string, value []byte) error {
			var e catalog.CollectionEntry
			if err := bson.Unmarshal(value, &e); err != nil {
				return errors.Wrapf(err, "decode collection %s", key)
			}
			entries = append(entries, e)
			return nil
		})
	})
	return entries, err
}

func (s *DocumentStore) PutCollection(ctx context.Context, e catalog.CollectionEntry) error {
	return s.backend.Update(ctx, func(tx Txn) error {
		return putDoc(tx, bucketCollections, string(e.Namespace), e)
	})
}

func (s *DocumentStore) SetReshardingFields(ctx context.Context, ns catalog.Namespace, f *catalog.ReshardingFields) error {
	return s.backend.Update(ctx, func(tx Txn) error {
		var e catalog.CollectionEntry
		if err := getDoc(tx, bucketCollections, string(ns), &e); err != nil {
			return err
		}
		e.ReshardingFields = f
		return putDoc(tx, bucketCollections, string(ns), e)
	})
}

func (s *DocumentStore) DeleteCollection(ctx context.Context, ns catalog.Namespace) error {
	return s.backend.Update(ctx, func(tx Txn) error {
		return tx.Delete(bucketCollections, string(ns))
	})
}

func (s *DocumentStore) UpsertChunks(ctx context.Context, chunks []catalog.Chunk) error {
	return s.backend.Update(ctx, func(tx Txn) error {
		for _, c := range chunks {
			if err := putDoc(tx, bucketChunks, chunkKey(c), c); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *DocumentStore) FindChunks(ctx context.Context, ns catalog.Namespace) ([]catalog.Chunk, error) {
	var chunks []catalog.Chunk
	err := s.backend.View(ctx, func(tx Txn) error {
		return forEachChunk(tx, ns, func(_ string, c catalog.Chunk) error {
			chunks = append(chunks, c)
			return nil
		})
	})
	return chunks, err
}

func (s *DocumentStore) RelabelChunks(ctx context.Context, from, to catalog.Namespace, epoch primitive.ObjectID) (int, error) {
	n := 0
	err := s.backend.Update(ctx, func(tx Txn) error {
		n = 0
		return forEachChunk(tx, from, func(key string, c catalog.Chunk) error {
			if err := tx.Delete(bucketChunks, key); err != nil {
				return err
			}
			c.Namespace = to
			c.Version.Epoch = epoch
			n++
			return putDoc(tx, bucketChunks, chunkKey(c), c)
		})
	})
	return n, err
}

func (s *DocumentStore) DeleteChunks(ctx context.Context, ns catalog.Namespace, keepEpoch primitive.ObjectID) (int, error) {
	n := 0
	err := s.backend.Update(ctx, func(tx Txn) error {
		n = 0
		return forEachChunk(tx, ns, func(key string, c catalog.Chunk) error {
			if !keepEpoch.IsZero() && c.Version.Epoch == keepEpoch {
				return nil
			}
			n++
			return tx.Delete(bucketChunks, key)
		})
	})
	return n, err
}

func (s *DocumentStore) DeleteChunksExcept(ctx context.Context, ns catalog.Namespace, keep []primitive.ObjectID) (int, error) {
	kept := make(map[primitive.ObjectID]bool, len(keep))
	for _, id := range keep {
		kept[id] = true
	}
	n := 0
	err := s.backend.Update(ctx, func(tx Txn) error {
		n = 0
		return forEachChunk(tx, ns, func(key string, c catalog.Chunk) error {
			if kept[c.ID] {
				return nil
			}
			n++
			return tx.Delete(bucketChunks, key)
		})
	})
	return n, err
}

func forEachChunk(tx Txn, ns catalog.Namespace, fn func(key string, c catalog.Chunk) error) error {
	return tx.ForEach(bucketChunks, nsPrefix(ns), func(key string, value []byte) error {
		var c catalog.Chunk
		if err := bson.Unmarshal(value, &c); err != nil {
			return errors.Wrapf(err, "decode chunk %q", key)
		}
		return fn(key, c)
	})
}

func (s *DocumentStore) UpsertZones(ctx context.Context, zones []catalog.Zone) error {
	return s.backend.Update(ctx, func(tx Txn) error {
		for _, z := range zones {
			key, err := z.Key()
			if err != nil {
				return errors.Wrapf(err, "zone %s of %s", z.Tag, z.Namespace)
			}
			if err := putDoc(tx, bucketZones, key, z); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *DocumentStore) FindZones(ctx context.Context, ns catalog.Namespace) ([]catalog.Zone, error) {
	var zones []catalog.Zone
	err := s.backend.View(ctx, func(tx Txn) error {
		return forEachZone(tx, ns, func(_ string, z catalog.Zone) error {
			zones = append(zones, z)
			return nil
		})
	})
	return zones, err
}

func (s *DocumentStore) RelabelZones(ctx context.Context, from, to catalog.Namespace) (int, error) {
	n := 0
	err := s.backend.Update(ctx, func(tx Txn) error {
		n = 0
		return forEachZone(tx, from, func(key string, z catalog.Zone) error {
			if err := tx.Delete(bucketZones, key); err != nil {
				return err
			}
			z.Namespace = to
			newKey, err := z.Key()
			if err != nil {
				return err
			}
			n++
			return putDoc(tx, bucketZones, newKey, z)
		})
	})
	return n, err
}

func (s *DocumentStore) DeleteZones(ctx context.Context, ns catalog.Namespace) (int, error) {
	n := 0
	err := s.backend.Update(ctx, func(tx Txn) error {
		n = 0
		return forEachZone(tx, ns, func(key string, _ catalog.Zone) error {
			n++
			return tx.Delete(bucketZones, key)
		})
	})
	return n, err
}

func forEachZone(tx Txn, ns catalog.Namespace, fn func(key string, z catalog.Zone) error) error {
	return tx.ForEach(bucketZones, nsPrefix(ns), func(key string, value []byte) error {
		var z catalog.Zone
		if err := bson.Unmarshal(value, &z); err != nil {
			return errors.Wrapf(err, "decode zone %q", key)
		}
		return fn(key, z)
	})
}

// Ping opens and discards a read transaction.
func (s *DocumentStore) Ping(ctx context.Context) error {
	return s.backend.View(ctx, func(Txn) error { return nil })
}

func (s *DocumentStore) Stats(ctx context.Context) (CatalogStats, error) {
	if err := ctx.Err(); err != nil {
		return CatalogStats{}, err
	}
	b := s.backend.Stats().Buckets
	return CatalogStats{
		Operations:  b[bucketOperations],
		Collections: b[bucketCollections],
		Chunks:      b[bucketChunks],
		Zones:       b[bucketZones],
	}, nil
}

func (s *DocumentStore) Close() error {
	return s.backend.Close()
}

var _ Catalog = (*DocumentStore)(nil)
