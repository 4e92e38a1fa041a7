package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/dreamware/reshard/internal/catalog"
	"github.com/dreamware/reshard/internal/storage"
)

var (
	testClock = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	fetchTS   = &primitive.Timestamp{T: 1709294400, I: 7}
)

// scenario is one resharding of db.coll from {a: 1} to {b: 1}. Every id is
// fixed when the scenario is built so independent stores seeded from it end
// up byte-identical.
type scenario struct {
	doc       catalog.CoordinatorDocument
	original  catalog.CollectionEntry
	oldChunks []catalog.Chunk
	oldZones  []catalog.Zone
	chunks    []catalog.Chunk
	zones     []catalog.Zone
	tempEpoch primitive.ObjectID
	newEpoch  primitive.ObjectID
}

func newScenario() scenario {
	oldKey := catalog.NewKeyPattern("a")
	newKey := catalog.NewKeyPattern("b")
	original := catalog.CollectionEntry{
		Namespace:  "db.coll",
		UUID:       uuid.New(),
		Epoch:      primitive.NewObjectID(),
		UpdatedAt:  testClock.Add(-time.Hour),
		KeyPattern: oldKey,
	}
	doc := catalog.NewCoordinatorDocument(original.Namespace, original.UUID, newKey,
		[]string{"shard0000", "shard0001"}, []string{"shard0002", "shard0003"})

	s := scenario{
		doc:       doc,
		original:  original,
		tempEpoch: primitive.NewObjectID(),
		newEpoch:  primitive.NewObjectID(),
	}
	s.oldChunks = []catalog.Chunk{
		chunkOf(original.Namespace, catalog.GlobalMin(oldKey), bound("a", -100), "shard0000", original.Epoch),
		chunkOf(original.Namespace, bound("a", -100), bound("a", 100), "shard0001", original.Epoch),
		chunkOf(original.Namespace, bound("a", 100), catalog.GlobalMax(oldKey), "shard0000", original.Epoch),
	}
	s.oldZones = []catalog.Zone{
		{Namespace: original.Namespace, Tag: "legacy", Range: catalog.ChunkRange{Min: bound("a", 0), Max: bound("a", 50)}},
	}
	s.chunks = []catalog.Chunk{
		chunkOf(doc.TempNamespace, catalog.GlobalMin(newKey), bound("b", 0), "shard0002", primitive.NilObjectID),
		chunkOf(doc.TempNamespace, bound("b", 0), catalog.GlobalMax(newKey), "shard0003", primitive.NilObjectID),
	}
	s.zones = []catalog.Zone{
		{Namespace: doc.TempNamespace, Tag: "east", Range: catalog.ChunkRange{Min: catalog.GlobalMin(newKey), Max: bound("b", 0)}},
		{Namespace: doc.TempNamespace, Tag: "west", Range: catalog.ChunkRange{Min: bound("b", 0), Max: catalog.GlobalMax(newKey)}},
	}
	return s
}

func bound(field string, v int32) bson.D {
	return bson.D{{Key: field, Value: v}}
}

func chunkOf(ns catalog.Namespace, min, max bson.D, shard string, epoch primitive.ObjectID) catalog.Chunk {
	return catalog.Chunk{
		ID:        primitive.NewObjectID(),
		Namespace: ns,
		Range:     catalog.ChunkRange{Min: min, Max: max},
		Shard:     shard,
		Version:   catalog.ChunkVersion{Major: 1, Epoch: epoch},
	}
}

// seed writes the original namespace as it was before the operation.
func (s scenario) seed(t *testing.T, store storage.Catalog) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.PutCollection(ctx, s.original))
	require.NoError(t, store.UpsertChunks(ctx, s.oldChunks))
	require.NoError(t, store.UpsertZones(ctx, s.oldZones))
}

// at returns the operation's document in state st with the fields that
// state requires.
func (s scenario) at(st catalog.CoordinatorState) catalog.CoordinatorDocument {
	doc := s.doc.WithState(st)
	if st.RequiresFetchTimestamp() || st == catalog.CoordinatorError {
		ts := *fetchTS
		doc.FetchTimestamp = &ts
	}
	if st == catalog.CoordinatorError {
		doc.AbortReason = "recipient shard0002 failed"
	}
	return doc
}

// engine returns a Persistence with a fixed clock and epoch source.
func (s scenario) engine(store storage.Catalog, opts ...Option) *Persistence {
	base := []Option{
		WithClock(func() time.Time { return testClock }),
		WithEpochSource(func() primitive.ObjectID { return s.tempEpoch }),
		WithPostconditionChecks(true),
	}
	return NewPersistence(store, append(base, opts...)...)
}

// driveTo runs the operation forward until it is durable in state st. Only
// states reached by initialize or a plain transition are supported, plus
// committed.
func (s scenario) driveTo(t *testing.T, p *Persistence, st catalog.CoordinatorState) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, p.PersistInitialStateAndCatalogUpdates(ctx, s.doc, s.chunks, s.zones))
	for _, next := range []catalog.CoordinatorState{
		catalog.CoordinatorPreparingToDonate,
		catalog.CoordinatorCloning,
		catalog.CoordinatorMirroring,
		catalog.CoordinatorCommitted,
		catalog.CoordinatorDropping,
	} {
		if !st.AtLeast(next) {
			return
		}
		if next == catalog.CoordinatorCommitted {
			require.NoError(t, p.PersistCommittedState(ctx, s.at(next), s.newEpoch, len(s.chunks), len(s.zones)))
			continue
		}
		require.NoError(t, p.PersistStateTransition(ctx, s.at(next)))
	}
}

// catalogDump is every record the scenario can touch.
type catalogDump struct {
	Operations     []catalog.CoordinatorDocument
	Collections    []catalog.CollectionEntry
	OriginalChunks []catalog.Chunk
	TempChunks     []catalog.Chunk
	OriginalZones  []catalog.Zone
	TempZones      []catalog.Zone
}

func dump(t *testing.T, store storage.Catalog, s scenario) catalogDump {
	t.Helper()
	ctx := context.Background()
	var d catalogDump
	var err error
	d.Operations, err = store.ListOperations(ctx)
	require.NoError(t, err)
	d.Collections, err = store.ListCollections(ctx)
	require.NoError(t, err)
	d.OriginalChunks, err = store.FindChunks(ctx, s.doc.Namespace)
	require.NoError(t, err)
	d.TempChunks, err = store.FindChunks(ctx, s.doc.TempNamespace)
	require.NoError(t, err)
	d.OriginalZones, err = store.FindZones(ctx, s.doc.Namespace)
	require.NoError(t, err)
	d.TempZones, err = store.FindZones(ctx, s.doc.TempNamespace)
	require.NoError(t, err)
	return d
}

var errInjected = errors.New("injected catalog failure")

// faultyCatalog fails the n-th write it sees. With afterApply set the write
// is applied first, which models a lost acknowledgement.
type faultyCatalog struct {
	storage.Catalog

	mu         sync.Mutex
	writes     int
	failAt     int
	afterApply bool
	failed     bool
}

func newFaultyCatalog(inner storage.Catalog, failAt int, afterApply bool) *faultyCatalog {
	return &faultyCatalog{Catalog: inner, failAt: failAt, afterApply: afterApply}
}

func (f *faultyCatalog) write(apply func() error) error {
	f.mu.Lock()
	f.writes++
	fail := f.writes == f.failAt
	if fail {
		f.failed = true
	}
	f.mu.Unlock()

	if !fail {
		return apply()
	}
	if f.afterApply {
		if err := apply(); err != nil {
			return err
		}
	}
	return errInjected
}

func (f *faultyCatalog) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func (f *faultyCatalog) InsertOperation(ctx context.Context, doc catalog.CoordinatorDocument) error {
	return f.write(func() error { return f.Catalog.InsertOperation(ctx, doc) })
}

func (f *faultyCatalog) ReplaceOperation(ctx context.Context, doc catalog.CoordinatorDocument) error {
	return f.write(func() error { return f.Catalog.ReplaceOperation(ctx, doc) })
}

func (f *faultyCatalog) DeleteOperation(ctx context.Context, id uuid.UUID) error {
	return f.write(func() error { return f.Catalog.DeleteOperation(ctx, id) })
}

func (f *faultyCatalog) PutCollection(ctx context.Context, e catalog.CollectionEntry) error {
	return f.write(func() error { return f.Catalog.PutCollection(ctx, e) })
}

func (f *faultyCatalog) SetReshardingFields(ctx context.Context, ns catalog.Namespace, fields *catalog.ReshardingFields) error {
	return f.write(func() error { return f.Catalog.SetReshardingFields(ctx, ns, fields) })
}

func (f *faultyCatalog) DeleteCollection(ctx context.Context, ns catalog.Namespace) error {
	return f.write(func() error { return f.Catalog.DeleteCollection(ctx, ns) })
}

func (f *faultyCatalog) UpsertChunks(ctx context.Context, chunks []catalog.Chunk) error {
	return f.write(func() error { return f.Catalog.UpsertChunks(ctx, chunks) })
}

func (f *faultyCatalog) RelabelChunks(ctx context.Context, from, to catalog.Namespace, epoch primitive.ObjectID) (n int, err error) {
	err = f.write(func() (err error) {
		n, err = f.Catalog.RelabelChunks(ctx, from, to, epoch)
		return err
	})
	return n, err
}

func (f *faultyCatalog) DeleteChunks(ctx context.Context, ns catalog.Namespace, keepEpoch primitive.ObjectID) (n int, err error) {
	err = f.write(func() (err error) {
		n, err = f.Catalog.DeleteChunks(ctx, ns, keepEpoch)
		return err
	})
	return n, err
}

func (f *faultyCatalog) DeleteChunksExcept(ctx context.Context, ns catalog.Namespace, keep []primitive.ObjectID) (n int, err error) {
	err = f.write(func() (err error) {
		n, err = f.Catalog.DeleteChunksExcept(ctx, ns, keep)
		return err
	})
	return n, err
}

func (f *faultyCatalog) UpsertZones(ctx context.Context, zones []catalog.Zone) error {
	return f.write(func() error { return f.Catalog.UpsertZones(ctx, zones) })
}

func (f *faultyCatalog) RelabelZones(ctx context.Context, from, to catalog.Namespace) (n int, err error) {
	err = f.write(func() (err error) {
		n, err = f.Catalog.RelabelZones(ctx, from, to)
		return err
	})
	return n, err
}

func (f *faultyCatalog) DeleteZones(ctx context.Context, ns catalog.Namespace) (n int, err error) {
	err = f.write(func() (err error) {
		n, err = f.Catalog.DeleteZones(ctx, ns)
		return err
	})
	return n, err
}

// flakyCatalog fails the first n reads of collection entries.
type flakyCatalog struct {
	storage.Catalog

	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyCatalog) GetCollection(ctx context.Context, ns catalog.Namespace) (catalog.CollectionEntry, error) {
	f.mu.Lock()
	f.calls++
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return catalog.CollectionEntry{}, errInjected
	}
	return f.Catalog.GetCollection(ctx, ns)
}
