package coordinator

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/dreamware/reshard/internal/catalog"
	"github.com/dreamware/reshard/internal/resharding"
	"github.com/dreamware/reshard/internal/storage"
)

const opShardCollection = "shard_collection"

// ShardCollection registers an ordinary sharded namespace with its chunks
// and zones. A previous registration of the same collection is replaced
// whole: its zones, and every chunk not in the new set, whatever its epoch.
//
// A zero epoch is filled in: with the existing entry's epoch when the
// collection is already registered, with a fresh one otherwise. Chunks are
// stamped with that epoch. The new chunks and zones are written before the
// entry, so a reader never finds it without its placement, and the chunks
// they replace are deleted after it.
//
// Returns:
//   - KindInvalidDocument for malformed input or an unregistered owner shard
//   - KindConflictingOperation if the namespace is being resharded, or is
//     registered under another uuid
func (p *Persistence) ShardCollection(ctx context.Context, entry catalog.CollectionEntry, chunks []catalog.Chunk, zones []catalog.Zone) (err error) {
	start := time.Now()
	defer func() {
		p.metrics.observe(opShardCollection, start, err)
		if err != nil {
			p.logger.Warn("collection registration failed",
				zap.Stringer("namespace", entry.Namespace),
				zap.Stringer("kind", resharding.KindOf(err)),
				zap.Error(err))
			return
		}
		p.logger.Info("collection registered",
			zap.Stringer("namespace", entry.Namespace),
			zap.Stringer("epoch", entry.Epoch),
			zap.Int("chunks", len(chunks)),
			zap.Int("zones", len(zones)))
	}()

	if err := resharding.CheckCollectionRegistration(entry, chunks, zones); err != nil {
		return err
	}
	if p.registry != nil {
		for _, c := range chunks {
			if !p.registry.Has(c.Shard) {
				return resharding.Errorf(resharding.KindInvalidDocument, "shard %s is not registered", c.Shard)
			}
		}
	}

	err = p.call(ctx, "find operation by namespace", func(ctx context.Context) error {
		_, err := p.store.FindOperationByNamespace(ctx, entry.Namespace)
		return err
	})
	switch {
	case err == nil:
		return resharding.Errorf(resharding.KindConflictingOperation,
			"namespace %s has a resharding operation", entry.Namespace)
	case !errors.Is(err, storage.ErrNotFound):
		return err
	}

	existing, err := p.getCollection(ctx, entry.Namespace)
	if err != nil {
		return err
	}
	if existing != nil {
		if existing.ReshardingFields != nil {
			return resharding.Errorf(resharding.KindConflictingOperation,
				"namespace %s is being resharded by operation %s", entry.Namespace, existing.ReshardingFields.OperationID)
		}
		if existing.UUID != entry.UUID {
			return resharding.Errorf(resharding.KindConflictingOperation,
				"namespace %s is registered with uuid %s", entry.Namespace, existing.UUID)
		}
		if entry.Epoch.IsZero() {
			entry.Epoch = existing.Epoch
		}
	}
	if entry.Epoch.IsZero() {
		entry.Epoch = p.newEpoch()
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = p.timestamp()
	}

	stamped := make([]catalog.Chunk, len(chunks))
	keep := make([]primitive.ObjectID, len(chunks))
	for i, c := range chunks {
		c.Version.Epoch = entry.Epoch
		stamped[i] = c
		keep[i] = c.ID
	}
	if err := p.call(ctx, "insert chunks", func(ctx context.Context) error {
		return p.store.UpsertChunks(ctx, stamped)
	}); err != nil {
		return err
	}
	if err := p.call(ctx, "delete old zones", func(ctx context.Context) error {
		_, err := p.store.DeleteZones(ctx, entry.Namespace)
		return err
	}); err != nil {
		return err
	}
	if len(zones) > 0 {
		if err := p.call(ctx, "insert zones", func(ctx context.Context) error {
			return p.store.UpsertZones(ctx, zones)
		}); err != nil {
			return err
		}
	}
	if err := p.call(ctx, "put collection entry", func(ctx context.Context) error {
		return p.store.PutCollection(ctx, entry)
	}); err != nil {
		return err
	}
	// Readers of the previous entry route with its chunks until the entry
	// above replaces it.
	return p.call(ctx, "delete replaced chunks", func(ctx context.Context) error {
		_, err := p.store.DeleteChunksExcept(ctx, entry.Namespace, keep)
		return err
	})
}
