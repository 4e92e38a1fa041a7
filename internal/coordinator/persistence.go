package coordinator

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/reshard/internal/catalog"
	"github.com/dreamware/reshard/internal/resharding"
	"github.com/dreamware/reshard/internal/storage"
)

// Operation names used in logs and metrics.
const (
	opInitialize = "initialize"
	opTransition = "transition"
	opCommit     = "commit"
	opRemove     = "remove"
	opAbort      = "remove_aborted"
)

// transitionTargets are the states PersistStateTransition may write. The
// other states have their own operation.
var transitionTargets = map[catalog.CoordinatorState]bool{
	catalog.CoordinatorPreparingToDonate: true,
	catalog.CoordinatorCloning:           true,
	catalog.CoordinatorMirroring:         true,
	catalog.CoordinatorDropping:          true,
	catalog.CoordinatorError:             true,
}

// Persistence is the resharding coordinator's persistence engine. It turns a
// target-state coordinator document into the catalog writes that state
// requires, and keeps the resharding fields of both namespaces in step with
// the document.
//
// Every operation is synchronous and safe to re-invoke with the same
// arguments after a crash or an indeterminate failure: writes are ordered so
// that a partial prefix followed by a full replay converges on the same
// catalog state as a single clean run. Initialize writes the coordinator
// document first, so a crash leaves a durable operation to recover; every
// later operation writes the document last. A document in the initialized
// state therefore does not prove the scaffolding exists, and the transitions
// out of it check for it.
//
// Thread Safety:
// A Persistence may be shared, but callers must not run two operations for
// the same operation id concurrently. Different operations are independent.
//
// Example:
//
//	engine := coordinator.NewPersistence(store,
//	    coordinator.WithLogger(logger),
//	    coordinator.WithRetry(func() backoff.BackOff { return backoff.NewExponentialBackOff() }),
//	)
//	if err := engine.PersistInitialStateAndCatalogUpdates(ctx, doc, chunks, zones); err != nil {
//	    switch resharding.DispositionOf(err) { ... }
//	}
type Persistence struct {
	store               storage.Catalog
	logger              *zap.Logger
	metrics             *Metrics
	registry            *ShardRegistry
	newBackOff          func() backoff.BackOff
	now                 func() time.Time
	newEpoch            func() primitive.ObjectID
	checkPostconditions bool
}

// NewPersistence creates an engine writing to store.
func NewPersistence(store storage.Catalog, opts ...Option) *Persistence {
	p := &Persistence{
		store:    store,
		logger:   zap.NewNop(),
		now:      time.Now,
		newEpoch: primitive.NewObjectID,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PersistInitialStateAndCatalogUpdates makes a new operation durable in the
// initialized state together with its catalog scaffolding.
//
// The document may be in the initializing or initialized state; it is
// always persisted as initialized. chunks and zones describe the initial
// placement of the temporary namespace under the new shard key.
//
// Writes, in order:
//  1. The coordinator document (a no-op if the identical document exists)
//  2. The initial chunks, stamped with the temporary namespace's epoch
//  3. The initial zones
//  4. The temporary namespace's entry with recipient fields, created once
//  5. Donor fields on the original namespace's entry
//
// Routers only discover the operation through the donor fields, so they never
// find a temporary namespace without its entry and placement.
//
// Returns:
//   - KindNamespaceNotFound if the original namespace has no entry; nothing
//     is written
//   - KindConflictingOperation if another operation owns the namespace
//   - KindIllegalTransition if the operation was already persisted and has
//     moved past initialized
//   - KindInvalidDocument for malformed input
func (p *Persistence) PersistInitialStateAndCatalogUpdates(ctx context.Context, doc catalog.CoordinatorDocument, chunks []catalog.Chunk, zones []catalog.Zone) (err error) {
	start := time.Now()
	defer func() { p.finish(opInitialize, doc, start, err) }()

	if err := resharding.CheckInitialRequest(doc, chunks, zones); err != nil {
		return err
	}
	if err := p.checkShardsKnown(doc); err != nil {
		return err
	}
	doc = doc.WithState(catalog.CoordinatorInitialized)

	original, err := p.getCollection(ctx, doc.Namespace)
	if err != nil {
		return err
	}
	if err := resharding.CheckOriginalEntry(doc, original); err != nil {
		return err
	}

	err = p.call(ctx, "insert coordinator document", func(ctx context.Context) error {
		return p.store.InsertOperation(ctx, doc)
	})
	switch {
	case errors.Is(err, storage.ErrDuplicateKey):
		return resharding.Wrap(resharding.KindIllegalTransition, err,
			"operation %s is already persisted in another state", doc.ID)
	case errors.Is(err, storage.ErrConflictingOperation):
		return resharding.Wrap(resharding.KindConflictingOperation, err,
			"namespace %s already has a resharding operation", doc.Namespace)
	case err != nil:
		return err
	}

	temp, err := p.getCollection(ctx, doc.TempNamespace)
	if err != nil {
		return err
	}
	if temp == nil {
		temp = &catalog.CollectionEntry{
			Namespace:        doc.TempNamespace,
			UUID:             doc.ID,
			Epoch:            p.newEpoch(),
			UpdatedAt:        p.timestamp(),
			KeyPattern:       slices.Clone(doc.ReshardingKey),
			DefaultCollation: original.DefaultCollation,
			Unique:           original.Unique,
		}
	}
	temp.ReshardingFields = resharding.ProjectRecipient(doc)

	stamped := make([]catalog.Chunk, len(chunks))
	for i, c := range chunks {
		c.Version.Epoch = temp.Epoch
		stamped[i] = c
	}
	if err := p.call(ctx, "insert initial chunks", func(ctx context.Context) error {
		return p.store.UpsertChunks(ctx, stamped)
	}); err != nil {
		return err
	}
	if err := p.call(ctx, "insert initial zones", func(ctx context.Context) error {
		return p.store.UpsertZones(ctx, zones)
	}); err != nil {
		return err
	}
	if err := p.call(ctx, "create temporary collection entry", func(ctx context.Context) error {
		return p.store.PutCollection(ctx, *temp)
	}); err != nil {
		return err
	}

	donor := resharding.ProjectDonor(doc)
	if !original.ReshardingFields.Equal(donor) {
		if err := p.setFields(ctx, doc.Namespace, donor); err != nil {
			return err
		}
	}

	if p.checkPostconditions {
		snap, err := p.Snapshot(ctx, doc)
		if err != nil {
			return err
		}
		return resharding.VerifyInitialized(doc, snap, stamped, zones)
	}
	return nil
}

// PersistStateTransition advances a persisted operation to doc.State and
// re-projects the resharding fields onto every catalog entry that carries
// them for this operation. Entries that carry no fields, or another
// operation's fields, are left alone.
//
// doc.State must be preparing-to-donate, cloning, mirroring, dropping or
// error. Re-invoking with the state already persisted repairs any entry a
// crash left behind. Moving into the donate, clone or mirror phase needs the
// scaffolding of a finished initialize: the donor fields on the original
// entry and the temporary entry. An operation whose initialize stopped half
// way may still move into error.
//
// Returns:
//   - KindNoSuchCoordinatorDocument if no document exists for doc.ID;
//     nothing is written
//   - KindIllegalTransition if doc cannot follow the persisted document, or
//     initialize has not finished; nothing is written
func (p *Persistence) PersistStateTransition(ctx context.Context, doc catalog.CoordinatorDocument) (err error) {
	start := time.Now()
	defer func() { p.finish(opTransition, doc, start, err) }()

	if !transitionTargets[doc.State] {
		return resharding.Errorf(resharding.KindInvalidDocument,
			"state %s is not reached through a plain state transition", doc.State)
	}
	if err := resharding.ValidateDocument(doc); err != nil {
		return err
	}

	persisted, err := p.getOperation(ctx, doc)
	if err != nil {
		return err
	}
	if persisted == nil {
		return resharding.Errorf(resharding.KindNoSuchCoordinatorDocument,
			"no coordinator document for operation %s", doc.ID)
	}
	if err := resharding.CheckTransition(*persisted, doc); err != nil {
		return err
	}
	original, err := p.getCollection(ctx, doc.Namespace)
	if err != nil {
		return err
	}
	temp, err := p.getCollection(ctx, doc.TempNamespace)
	if err != nil {
		return err
	}
	if err := resharding.CheckScaffolding(doc, original, temp); err != nil {
		return err
	}

	if !catalog.SameDocument(*persisted, doc) {
		if err := p.replaceOperation(ctx, doc); err != nil {
			return err
		}
	}
	if err := p.mirror(ctx, doc, original, temp); err != nil {
		return err
	}

	if p.checkPostconditions {
		snap, err := p.Snapshot(ctx, doc)
		if err != nil {
			return err
		}
		return resharding.VerifyMirrored(doc, snap)
	}
	return nil
}

// PersistCommittedState performs the metadata cut-over: the temporary
// namespace's chunks and zones become the original namespace's, under
// newEpoch and the new shard key.
//
// Before writing anything the commit fence checks that the new incarnation
// owns exactly expectedChunks chunks and expectedZones zones, counting
// records a partial earlier attempt already moved.
//
// Writes, in order:
//  1. Relabel the temporary chunks to the original namespace in newEpoch
//  2. Drop the original namespace's old zones
//  3. Relabel the temporary zones
//  4. Replace the original entry with the new incarnation: the temporary
//     entry's uuid, newEpoch, the new key and committed donor fields
//  5. Delete the original namespace's chunks from older epochs
//  6. Delete the temporary entry
//  7. Persist the coordinator document as committed
//
// Routers key their cache on the original entry's epoch, so until step 4
// they keep routing with the old epoch's chunks, which are untouched; from
// step 4 on they load only chunks in newEpoch.
//
// Returns:
//   - KindConsistencyFence on a count mismatch; nothing is written
//   - KindNoSuchCoordinatorDocument if no document exists for doc.ID
//   - KindIllegalTransition unless the persisted document is mirroring or
//     already committed
func (p *Persistence) PersistCommittedState(ctx context.Context, doc catalog.CoordinatorDocument, newEpoch primitive.ObjectID, expectedChunks, expectedZones int) (err error) {
	start := time.Now()
	defer func() { p.finish(opCommit, doc, start, err) }()

	if doc.State != catalog.CoordinatorCommitted {
		return resharding.Errorf(resharding.KindInvalidDocument,
			"commit needs a committed document, got %s", doc.State)
	}
	if newEpoch.IsZero() {
		return resharding.Errorf(resharding.KindInvalidDocument, "new epoch is unset")
	}
	if err := resharding.ValidateDocument(doc); err != nil {
		return err
	}

	snap, err := p.Snapshot(ctx, doc)
	if err != nil {
		return err
	}
	if snap.Operation == nil {
		return resharding.Errorf(resharding.KindNoSuchCoordinatorDocument,
			"no coordinator document for operation %s", doc.ID)
	}
	persisted := *snap.Operation
	if err := resharding.CheckTransition(persisted, doc); err != nil {
		return err
	}
	if snap.Original == nil {
		return resharding.Errorf(resharding.KindNamespaceNotFound, "namespace %s is not sharded", doc.Namespace)
	}
	if !snap.Original.ParticipatesIn(doc.ID) {
		return resharding.Errorf(resharding.KindInvariantViolation,
			"original entry %s does not carry the fields of operation %s", doc.Namespace, doc.ID)
	}

	counts := resharding.CountsFor(snap, newEpoch)
	if err := resharding.CheckCommitFence(counts, expectedChunks, expectedZones); err != nil {
		return err
	}
	cutOver := snap.Original.Epoch == newEpoch
	if !cutOver && snap.Temp == nil {
		return resharding.Errorf(resharding.KindInvariantViolation,
			"temporary entry %s is missing before the cut-over", doc.TempNamespace)
	}

	if counts.TempChunks > 0 {
		if err := p.call(ctx, "relabel chunks", func(ctx context.Context) error {
			_, err := p.store.RelabelChunks(ctx, doc.TempNamespace, doc.Namespace, newEpoch)
			return err
		}); err != nil {
			return err
		}
	}
	// Once the temporary zones are gone the original namespace holds the new
	// ones, which must survive a replay.
	if counts.TempZones > 0 || expectedZones == 0 {
		if err := p.call(ctx, "delete old zones", func(ctx context.Context) error {
			_, err := p.store.DeleteZones(ctx, doc.Namespace)
			return err
		}); err != nil {
			return err
		}
	}
	if counts.TempZones > 0 {
		if err := p.call(ctx, "relabel zones", func(ctx context.Context) error {
			_, err := p.store.RelabelZones(ctx, doc.TempNamespace, doc.Namespace)
			return err
		}); err != nil {
			return err
		}
	}

	donor := resharding.ProjectDonor(doc)
	if !cutOver {
		entry := catalog.CollectionEntry{
			Namespace:        doc.Namespace,
			UUID:             snap.Temp.UUID,
			Epoch:            newEpoch,
			UpdatedAt:        p.timestamp(),
			KeyPattern:       slices.Clone(doc.ReshardingKey),
			DefaultCollation: snap.Temp.DefaultCollation,
			Unique:           snap.Temp.Unique,
			ReshardingFields: donor,
		}
		if err := p.call(ctx, "swap original collection entry", func(ctx context.Context) error {
			return p.store.PutCollection(ctx, entry)
		}); err != nil {
			return err
		}
	} else if !snap.Original.ReshardingFields.Equal(donor) {
		if err := p.setFields(ctx, doc.Namespace, donor); err != nil {
			return err
		}
	}

	if err := p.call(ctx, "delete old chunks", func(ctx context.Context) error {
		_, err := p.store.DeleteChunks(ctx, doc.Namespace, newEpoch)
		return err
	}); err != nil {
		return err
	}
	if snap.Temp != nil {
		if err := p.call(ctx, "delete temporary collection entry", func(ctx context.Context) error {
			return p.store.DeleteCollection(ctx, doc.TempNamespace)
		}); err != nil {
			return err
		}
	}
	if !catalog.SameDocument(persisted, doc) {
		if err := p.replaceOperation(ctx, doc); err != nil {
			return err
		}
	}

	if p.checkPostconditions {
		snap, err := p.Snapshot(ctx, doc)
		if err != nil {
			return err
		}
		return resharding.VerifyCommitted(doc, newEpoch, snap, expectedChunks, expectedZones)
	}
	return nil
}

// RemoveCoordinatorDocAndReshardingFields finishes a successful operation:
// it strips the resharding fields from the original entry, which stays as
// an ordinary collection entry, and deletes the coordinator document.
//
// doc must be in the done state. A replay after success is a no-op.
func (p *Persistence) RemoveCoordinatorDocAndReshardingFields(ctx context.Context, doc catalog.CoordinatorDocument) (err error) {
	start := time.Now()
	defer func() { p.finish(opRemove, doc, start, err) }()

	if doc.State != catalog.CoordinatorDone {
		return resharding.Errorf(resharding.KindInvalidDocument,
			"removal needs a done document, got %s", doc.State)
	}
	if err := resharding.ValidateDocument(doc); err != nil {
		return err
	}

	persisted, err := p.getOperation(ctx, doc)
	if err != nil {
		return err
	}
	if persisted != nil {
		if err := resharding.CheckTransition(*persisted, doc); err != nil {
			return err
		}
	}

	original, err := p.getCollection(ctx, doc.Namespace)
	if err != nil {
		return err
	}
	if original == nil {
		return resharding.Errorf(resharding.KindNamespaceNotFound, "namespace %s is not sharded", doc.Namespace)
	}
	if original.ParticipatesIn(doc.ID) {
		if err := p.setFields(ctx, doc.Namespace, nil); err != nil {
			return err
		}
	}
	if persisted != nil {
		if err := p.deleteOperation(ctx, doc); err != nil {
			return err
		}
	}

	if p.checkPostconditions {
		snap, err := p.Snapshot(ctx, doc)
		if err != nil {
			return err
		}
		return resharding.VerifyRemoved(doc, snap)
	}
	return nil
}

// RemoveAbortedOperation cleans up after an operation persisted in the
// error state. Before the cut-over it removes the temporary entry and then
// its chunks and zones; in every case it strips the operation's resharding fields from
// the original entry and deletes the coordinator document.
//
// A commit that stopped half way must be finished with PersistCommittedState
// first; aborting it would leave the original namespace with chunks from two
// epochs.
func (p *Persistence) RemoveAbortedOperation(ctx context.Context, doc catalog.CoordinatorDocument) (err error) {
	start := time.Now()
	defer func() { p.finish(opAbort, doc, start, err) }()

	if doc.State != catalog.CoordinatorError {
		return resharding.Errorf(resharding.KindInvalidDocument,
			"abort cleanup needs an error document, got %s", doc.State)
	}
	if err := resharding.ValidateDocument(doc); err != nil {
		return err
	}

	snap, err := p.Snapshot(ctx, doc)
	if err != nil {
		return err
	}
	if snap.Operation != nil && snap.Operation.State != catalog.CoordinatorError {
		return resharding.Errorf(resharding.KindIllegalTransition,
			"operation %s is %s, not error", doc.ID, snap.Operation.State)
	}
	if o := snap.Original; o != nil && o.ParticipatesIn(doc.ID) && o.UUID != doc.ID &&
		catalog.CountChunksInEpoch(snap.OriginalChunks, o.Epoch) != len(snap.OriginalChunks) {
		return resharding.Errorf(resharding.KindInvariantViolation,
			"namespace %s holds chunks from an unfinished commit", doc.Namespace)
	}

	// The entry goes first so no reader finds it without its placement.
	if snap.Temp != nil {
		if err := p.call(ctx, "delete temporary collection entry", func(ctx context.Context) error {
			return p.store.DeleteCollection(ctx, doc.TempNamespace)
		}); err != nil {
			return err
		}
	}
	if len(snap.TempChunks) > 0 {
		if err := p.call(ctx, "delete temporary chunks", func(ctx context.Context) error {
			_, err := p.store.DeleteChunks(ctx, doc.TempNamespace, primitive.NilObjectID)
			return err
		}); err != nil {
			return err
		}
	}
	if len(snap.TempZones) > 0 {
		if err := p.call(ctx, "delete temporary zones", func(ctx context.Context) error {
			_, err := p.store.DeleteZones(ctx, doc.TempNamespace)
			return err
		}); err != nil {
			return err
		}
	}
	if snap.Original != nil && snap.Original.ParticipatesIn(doc.ID) {
		if err := p.setFields(ctx, doc.Namespace, nil); err != nil {
			return err
		}
	}
	if snap.Operation != nil {
		if err := p.deleteOperation(ctx, doc); err != nil {
			return err
		}
	}

	if p.checkPostconditions {
		snap, err := p.Snapshot(ctx, doc)
		if err != nil {
			return err
		}
		if snap.Temp != nil || len(snap.TempChunks) > 0 || len(snap.TempZones) > 0 {
			return resharding.Errorf(resharding.KindInvariantViolation,
				"temporary namespace %s still has records", doc.TempNamespace)
		}
		if snap.Original == nil {
			return nil
		}
		return resharding.VerifyRemoved(doc, snap)
	}
	return nil
}

// Snapshot reads every catalog record operation doc touches. The reads run
// concurrently and are not a point-in-time view.
func (p *Persistence) Snapshot(ctx context.Context, doc catalog.CoordinatorDocument) (resharding.Snapshot, error) {
	var s resharding.Snapshot
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		op, err := p.getOperation(gctx, doc)
		s.Operation = op
		return err
	})
	g.Go(func() error {
		e, err := p.getCollection(gctx, doc.Namespace)
		s.Original = e
		return err
	})
	g.Go(func() error {
		e, err := p.getCollection(gctx, doc.TempNamespace)
		s.Temp = e
		return err
	})
	g.Go(func() error {
		return p.call(gctx, "read original chunks", func(ctx context.Context) (err error) {
			s.OriginalChunks, err = p.store.FindChunks(ctx, doc.Namespace)
			return err
		})
	})
	g.Go(func() error {
		return p.call(gctx, "read temporary chunks", func(ctx context.Context) (err error) {
			s.TempChunks, err = p.store.FindChunks(ctx, doc.TempNamespace)
			return err
		})
	})
	g.Go(func() error {
		return p.call(gctx, "read original zones", func(ctx context.Context) (err error) {
			s.OriginalZones, err = p.store.FindZones(ctx, doc.Namespace)
			return err
		})
	})
	g.Go(func() error {
		return p.call(gctx, "read temporary zones", func(ctx context.Context) (err error) {
			s.TempZones, err = p.store.FindZones(ctx, doc.TempNamespace)
			return err
		})
	})

	if err := g.Wait(); err != nil {
		return resharding.Snapshot{}, err
	}
	return s, nil
}

// mirror re-projects doc onto the given entries where they carry this
// operation's fields. Nil entries are skipped.
func (p *Persistence) mirror(ctx context.Context, doc catalog.CoordinatorDocument, entries ...*catalog.CollectionEntry) error {
	for _, entry := range entries {
		if entry == nil || !entry.ParticipatesIn(doc.ID) {
			continue
		}
		ns := entry.Namespace
		want, err := resharding.Project(doc, ns)
		if err != nil {
			return err
		}
		if entry.ReshardingFields.Equal(want) {
			continue
		}
		if err := p.setFields(ctx, ns, want); err != nil {
			return err
		}
	}
	return nil
}

func (p *Persistence) checkShardsKnown(doc catalog.CoordinatorDocument) error {
	if p.registry == nil {
		return nil
	}
	for _, e := range doc.Shards {
		if !p.registry.Has(e.ID) {
			return resharding.Errorf(resharding.KindInvalidDocument, "shard %s is not registered", e.ID)
		}
	}
	return nil
}

// getOperation returns nil if the document doesn't exist.
func (p *Persistence) getOperation(ctx context.Context, doc catalog.CoordinatorDocument) (*catalog.CoordinatorDocument, error) {
	var out catalog.CoordinatorDocument
	err := p.call(ctx, "read coordinator document", func(ctx context.Context) (err error) {
		out, err = p.store.GetOperation(ctx, doc.ID)
		return err
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// getCollection returns nil if the entry doesn't exist.
func (p *Persistence) getCollection(ctx context.Context, ns catalog.Namespace) (*catalog.CollectionEntry, error) {
	var out catalog.CollectionEntry
	err := p.call(ctx, "read collection entry", func(ctx context.Context) (err error) {
		out, err = p.store.GetCollection(ctx, ns)
		return err
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *Persistence) replaceOperation(ctx context.Context, doc catalog.CoordinatorDocument) error {
	err := p.call(ctx, "update coordinator document", func(ctx context.Context) error {
		return p.store.ReplaceOperation(ctx, doc)
	})
	if errors.Is(err, storage.ErrNotFound) {
		return resharding.Wrap(resharding.KindNoSuchCoordinatorDocument, err,
			"coordinator document for operation %s disappeared", doc.ID)
	}
	return err
}

func (p *Persistence) deleteOperation(ctx context.Context, doc catalog.CoordinatorDocument) error {
	return p.call(ctx, "delete coordinator document", func(ctx context.Context) error {
		return p.store.DeleteOperation(ctx, doc.ID)
	})
}

func (p *Persistence) setFields(ctx context.Context, ns catalog.Namespace, f *catalog.ReshardingFields) error {
	err := p.call(ctx, "update resharding fields", func(ctx context.Context) error {
		return p.store.SetReshardingFields(ctx, ns, f)
	})
	if errors.Is(err, storage.ErrNotFound) {
		return resharding.Wrap(resharding.KindNamespaceNotFound, err, "namespace %s is not sharded", ns)
	}
	return err
}

// call runs one catalog call under the retry policy. Catalog sentinels and
// typed errors are returned as they are for the caller to map; anything
// else is an infrastructure failure with an unknown outcome.
func (p *Persistence) call(ctx context.Context, what string, fn func(context.Context) error) error {
	var policy backoff.BackOff = &backoff.StopBackOff{}
	if p.newBackOff != nil {
		policy = p.newBackOff()
	}
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if isCatalogSentinel(err) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		p.logger.Debug("catalog call failed", zap.String("call", what), zap.Int("attempt", attempt), zap.Error(err))
		return err
	}, backoff.WithContext(policy, ctx))

	if err == nil || isCatalogSentinel(err) {
		return err
	}
	return resharding.Wrap(resharding.KindInfrastructure, err, "%s", what)
}

func isCatalogSentinel(err error) bool {
	var typed *resharding.Error
	return errors.Is(err, storage.ErrNotFound) ||
		errors.Is(err, storage.ErrDuplicateKey) ||
		errors.Is(err, storage.ErrConflictingOperation) ||
		errors.As(err, &typed)
}

// timestamp returns the clock reading at the precision the catalog keeps.
func (p *Persistence) timestamp() time.Time {
	return p.now().UTC().Truncate(time.Millisecond)
}

// finish logs and records the outcome of one operation.
func (p *Persistence) finish(operation string, doc catalog.CoordinatorDocument, start time.Time, err error) {
	p.metrics.observe(operation, start, err)
	fields := []zap.Field{
		zap.String("operation", operation),
		zap.Stringer("operationId", doc.ID),
		zap.Stringer("namespace", doc.Namespace),
		zap.String("state", string(doc.State)),
		zap.Duration("took", time.Since(start)),
	}
	if err != nil {
		p.logger.Warn("persistence operation failed", append(fields,
			zap.Stringer("kind", resharding.KindOf(err)),
			zap.String("disposition", string(resharding.DispositionOf(err))),
			zap.Error(err))...)
		return
	}
	p.logger.Info("persistence operation succeeded", fields...)
}
