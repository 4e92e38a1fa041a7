package coordinator

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/reshard/internal/catalog"
	"github.com/dreamware/reshard/internal/resharding"
	"github.com/dreamware/reshard/internal/storage"
)

// RoutingInfo is what a router needs to route requests for one namespace:
// its entry and the chunks and zones that belong to the entry's incarnation.
type RoutingInfo struct {
	Collection catalog.CollectionEntry `bson:"collection"`
	Chunks     []catalog.Chunk         `bson:"chunks"`
	Zones      []catalog.Zone          `bson:"zones"`
}

// CatalogReader is the read-only view of the catalog served to shards and
// routers. It hides the intermediate records a commit in progress leaves
// behind: only chunks in the entry's epoch and zones under the entry's key
// pattern are returned.
type CatalogReader struct {
	store storage.Catalog
}

// NewCatalogReader creates a reader over store.
func NewCatalogReader(store storage.Catalog) *CatalogReader {
	return &CatalogReader{store: store}
}

// Collection returns the entry of ns. A missing entry is reported as
// KindNamespaceNotFound; an entry that breaks the read-path invariants as
// KindInvariantViolation.
func (r *CatalogReader) Collection(ctx context.Context, ns catalog.Namespace) (catalog.CollectionEntry, error) {
	e, err := r.store.GetCollection(ctx, ns)
	if errors.Is(err, storage.ErrNotFound) {
		return catalog.CollectionEntry{}, resharding.Wrap(resharding.KindNamespaceNotFound, err, "namespace %s is not sharded", ns)
	}
	if err != nil {
		return catalog.CollectionEntry{}, resharding.Wrap(resharding.KindInfrastructure, err, "read collection %s", ns)
	}
	if err := resharding.ValidateCollectionEntry(e); err != nil {
		return catalog.CollectionEntry{}, err
	}
	return e, nil
}

// RoutingInfo returns the entry of ns with its current chunks and zones.
func (r *CatalogReader) RoutingInfo(ctx context.Context, ns catalog.Namespace) (RoutingInfo, error) {
	entry, err := r.Collection(ctx, ns)
	if err != nil {
		return RoutingInfo{}, err
	}

	var chunks []catalog.Chunk
	var zones []catalog.Zone
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		chunks, err = r.store.FindChunks(gctx, ns)
		return err
	})
	g.Go(func() (err error) {
		zones, err = r.store.FindZones(gctx, ns)
		return err
	})
	if err := g.Wait(); err != nil {
		return RoutingInfo{}, resharding.Wrap(resharding.KindInfrastructure, err, "read placement of %s", ns)
	}

	info := RoutingInfo{
		Collection: entry,
		Chunks:     make([]catalog.Chunk, 0, len(chunks)),
		Zones:      make([]catalog.Zone, 0, len(zones)),
	}
	for _, c := range chunks {
		if c.Version.Epoch == entry.Epoch {
			info.Chunks = append(info.Chunks, c)
		}
	}
	for _, z := range zones {
		if entry.KeyPattern.MatchesRange(z.Range) {
			info.Zones = append(info.Zones, z)
		}
	}
	return info, nil
}

// Operation returns the coordinator document with the given id.
func (r *CatalogReader) Operation(ctx context.Context, id uuid.UUID) (catalog.CoordinatorDocument, error) {
	doc, err := r.store.GetOperation(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return catalog.CoordinatorDocument{}, resharding.Wrap(resharding.KindNoSuchCoordinatorDocument, err,
			"no coordinator document for operation %s", id)
	}
	if err != nil {
		return catalog.CoordinatorDocument{}, resharding.Wrap(resharding.KindInfrastructure, err, "read operation %s", id)
	}
	return doc, nil
}

// Operations returns every coordinator document.
func (r *CatalogReader) Operations(ctx context.Context) ([]catalog.CoordinatorDocument, error) {
	docs, err := r.store.ListOperations(ctx)
	if err != nil {
		return nil, resharding.Wrap(resharding.KindInfrastructure, err, "list operations")
	}
	return docs, nil
}
