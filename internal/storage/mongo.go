package storage

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/dreamware/reshard/internal/catalog"
)

const (
	configDatabase = "config"

	collOperations  = "reshardingOperations"
	collCollections = "collections"
	collChunks      = "chunks"
	collTags        = "tags"
)

// MongoStore implements Catalog on the config database of a MongoDB replica
// set. Reads and writes use majority concern so a write acknowledged here
// survives failover.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// zoneID is the _id of a zone document; zones are unique per namespace and
// range minimum.
type zoneID struct {
	Namespace catalog.Namespace `bson:"ns"`
	Min       bson.D            `bson:"min"`
}

type zoneDocument struct {
	ID           zoneID `bson:"_id"`
	catalog.Zone `bson:",inline"`
}

func newZoneDocument(z catalog.Zone) zoneDocument {
	return zoneDocument{ID: zoneID{Namespace: z.Namespace, Min: z.Range.Min}, Zone: z}
}

// OpenMongoStore connects to uri and makes sure the catalog indexes exist.
func OpenMongoStore(ctx context.Context, uri string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "connect to catalog")
	}
	db := client.Database(configDatabase, options.Database().
		SetWriteConcern(writeconcern.Majority()).
		SetReadConcern(readconcern.Majority()))
	s := &MongoStore{client: client, db: db}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.db.Collection(collOperations).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "nss", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return errors.Wrap(err, "create operations index")
	}
	_, err = s.db.Collection(collChunks).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "ns", Value: 1}, {Key: "lastmodEpoch", Value: 1}},
	})
	if err != nil {
		return errors.Wrap(err, "create chunks index")
	}
	_, err = s.db.Collection(collTags).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "ns", Value: 1}},
	})
	return errors.Wrap(err, "create tags index")
}

func (s *MongoStore) operations() *mongo.Collection  { return s.db.Collection(collOperations) }
func (s *MongoStore) collections() *mongo.Collection { return s.db.Collection(collCollections) }
func (s *MongoStore) chunks() *mongo.Collection      { return s.db.Collection(collChunks) }
func (s *MongoStore) tags() *mongo.Collection        { return s.db.Collection(collTags) }

func notFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return errors.Wrapf(ErrNotFound, format, args...)
	}
	return errors.Wrapf(err, format, args...)
}

func (s *MongoStore) InsertOperation(ctx context.Context, doc catalog.CoordinatorDocument) error {
	_, err := s.operations().InsertOne(ctx, doc)
	if !mongo.IsDuplicateKeyError(err) {
		return errors.Wrapf(err, "insert operation %s", doc.ID)
	}
	// Either the id or the namespace index was hit.
	var existing catalog.CoordinatorDocument
	ferr := s.operations().FindOne(ctx, bson.M{"_id": doc.ID}).Decode(&existing)
	switch {
	case ferr == nil && catalog.SameDocument(existing, doc):
		return nil
	case ferr == nil:
		return errors.Wrapf(ErrDuplicateKey, "operation %s", doc.ID)
	case errors.Is(ferr, mongo.ErrNoDocuments):
		return errors.Wrapf(ErrConflictingOperation, "namespace %s", doc.Namespace)
	default:
		return errors.Wrapf(ferr, "read operation %s", doc.ID)
	}
}

func (s *MongoStore) GetOperation(ctx context.Context, id uuid.UUID) (catalog.CoordinatorDocument, error) {
	var doc catalog.CoordinatorDocument
	err := s.operations().FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	return doc, notFound(err, "operation %s", id)
}

func (s *MongoStore) FindOperationByNamespace(ctx context.Context, ns catalog.Namespace) (catalog.CoordinatorDocument, error) {
	var doc catalog.CoordinatorDocument
	err := s.operations().FindOne(ctx, bson.M{"nss": ns}).Decode(&doc)
	return doc, notFound(err, "operation for %s", ns)
}

func (s *MongoStore) ListOperations(ctx context.Context) ([]catalog.CoordinatorDocument, error) {
	cur, err := s.operations().Find(ctx, bson.D{})
	if err != nil {
		return nil, errors.Wrap(err, "list operations")
	}
	var docs []catalog.CoordinatorDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decode operations")
	}
	return docs, nil
}

func (s *MongoStore) ReplaceOperation(ctx context.Context, doc catalog.CoordinatorDocument) error {
	res, err := s.operations().ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc)
	if err != nil {
		return errors.Wrapf(err, "replace operation %s", doc.ID)
	}
	if res.MatchedCount == 0 {
		return errors.Wrapf(ErrNotFound, "operation %s", doc.ID)
	}
	return nil
}

func (s *MongoStore) DeleteOperation(ctx context.Context, id uuid.UUID) error {
	_, err := s.operations().DeleteOne(ctx, bson.M{"_id": id})
	return errors.Wrapf(err, "delete operation %s", id)
}

func (s *MongoStore) GetCollection(ctx context.Context, ns catalog.Namespace) (catalog.CollectionEntry, error) {
	var e catalog.CollectionEntry
	err := s.collections().FindOne(ctx, bson.M{"_id": ns}).Decode(&e)
	return e, notFound(err, "collection %s", ns)
}

func (s *MongoStore) ListCollections(ctx context.Context) ([]catalog.CollectionEntry, error) {
	cur, err := s.collections().Find(ctx, bson.D{})
	if err != nil {
		return nil, errors.Wrap(err, "list collections")
	}
	var entries []catalog.CollectionEntry
	if err := cur.All(ctx, &entries); err != nil {
		return nil, errors.Wrap(err, "decode collections")
	}
	return entries, nil
}

func (s *MongoStore) PutCollection(ctx context.Context, e catalog.CollectionEntry) error {
	_, err := s.collections().ReplaceOne(ctx, bson.M{"_id": e.Namespace}, e, options.Replace().SetUpsert(true))
	return errors.Wrapf(err, "put collection %s", e.Namespace)
}

func (s *MongoStore) SetReshardingFields(ctx context.Context, ns catalog.Namespace, f *catalog.ReshardingFields) error {
	update := bson.M{"$unset": bson.M{"reshardingFields": ""}}
	if f != nil {
		update = bson.M{"$set": bson.M{"reshardingFields": f}}
	}
	res, err := s.collections().UpdateOne(ctx, bson.M{"_id": ns}, update)
	if err != nil {
		return errors.Wrapf(err, "set resharding fields of %s", ns)
	}
	if res.MatchedCount == 0 {
		return errors.Wrapf(ErrNotFound, "collection %s", ns)
	}
	return nil
}

func (s *MongoStore) DeleteCollection(ctx context.Context, ns catalog.Namespace) error {
	_, err := s.collections().DeleteOne(ctx, bson.M{"_id": ns})
	return errors.Wrapf(err, "delete collection %s", ns)
}

func (s *MongoStore) UpsertChunks(ctx context.Context, chunks []catalog.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(chunks))
	for _, c := range chunks {
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": c.ID}).
			SetReplacement(c).
			SetUpsert(true))
	}
	_, err := s.chunks().BulkWrite(ctx, models)
	return errors.Wrap(err, "upsert chunks")
}

func (s *MongoStore) FindChunks(ctx context.Context, ns catalog.Namespace) ([]catalog.Chunk, error) {
	cur, err := s.chunks().Find(ctx, bson.M{"ns": ns}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, errors.Wrapf(err, "find chunks of %s", ns)
	}
	var chunks []catalog.Chunk
	if err := cur.All(ctx, &chunks); err != nil {
		return nil, errors.Wrapf(err, "decode chunks of %s", ns)
	}
	return chunks, nil
}

func (s *MongoStore) RelabelChunks(ctx context.Context, from, to catalog.Namespace, epoch primitive.ObjectID) (int, error) {
	res, err := s.chunks().UpdateMany(ctx, bson.M{"ns": from},
		bson.M{"$set": bson.M{"ns": to, "lastmodEpoch": epoch}})
	if err != nil {
		return 0, errors.Wrapf(err, "relabel chunks of %s", from)
	}
	return int(res.MatchedCount), nil
}

func (s *MongoStore) DeleteChunks(ctx context.Context, ns catalog.Namespace, keepEpoch primitive.ObjectID) (int, error) {
	filter := bson.M{"ns": ns}
	if !keepEpoch.IsZero() {
		filter["lastmodEpoch"] = bson.M{"$ne": keepEpoch}
	}
	res, err := s.chunks().DeleteMany(ctx, filter)
	if err != nil {
		return 0, errors.Wrapf(err, "delete chunks of %s", ns)
	}
	return int(res.DeletedCount), nil
}

func (s *MongoStore) DeleteChunksExcept(ctx context.Context, ns catalog.Namespace, keep []primitive.ObjectID) (int, error) {
	if keep == nil {
		keep = []primitive.ObjectID{}
	}
	res, err := s.chunks().DeleteMany(ctx, bson.M{"ns": ns, "_id": bson.M{"$nin": keep}})
	if err != nil {
		return 0, errors.Wrapf(err, "delete chunks of %s", ns)
	}
	return int(res.DeletedCount), nil
}

func (s *MongoStore) UpsertZones(ctx context.Context, zones []catalog.Zone) error {
	if len(zones) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(zones))
	for _, z := range zones {
		d := newZoneDocument(z)
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": d.ID}).
			SetReplacement(d).
			SetUpsert(true))
	}
	_, err := s.tags().BulkWrite(ctx, models)
	return errors.Wrap(err, "upsert zones")
}

func (s *MongoStore) FindZones(ctx context.Context, ns catalog.Namespace) ([]catalog.Zone, error) {
	docs, err := s.findZoneDocuments(ctx, ns)
	if err != nil {
		return nil, err
	}
	zones := make([]catalog.Zone, 0, len(docs))
	for _, d := range docs {
		zones = append(zones, d.Zone)
	}
	return zones, nil
}

func (s *MongoStore) findZoneDocuments(ctx context.Context, ns catalog.Namespace) ([]zoneDocument, error) {
	cur, err := s.tags().Find(ctx, bson.M{"ns": ns})
	if err != nil {
		return nil, errors.Wrapf(err, "find zones of %s", ns)
	}
	var docs []zoneDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrapf(err, "decode zones of %s", ns)
	}
	return docs, nil
}

// RelabelZones rewrites the zones in a transaction because the namespace is
// part of the zone _id.
func (s *MongoStore) RelabelZones(ctx context.Context, from, to catalog.Namespace) (int, error) {
	sess, err := s.client.StartSession()
	if err != nil {
		return 0, errors.Wrap(err, "start session")
	}
	defer sess.EndSession(ctx)

	n, err := sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		docs, err := s.findZoneDocuments(sc, from)
		if err != nil {
			return 0, err
		}
		for _, d := range docs {
			d.Zone.Namespace = to
			moved := newZoneDocument(d.Zone)
			_, err := s.tags().ReplaceOne(sc, bson.M{"_id": moved.ID}, moved, options.Replace().SetUpsert(true))
			if err != nil {
				return 0, err
			}
		}
		if _, err := s.tags().DeleteMany(sc, bson.M{"ns": from}); err != nil {
			return 0, err
		}
		return len(docs), nil
	})
	if err != nil {
		return 0, errors.Wrapf(err, "relabel zones of %s", from)
	}
	return n.(int), nil
}

func (s *MongoStore) DeleteZones(ctx context.Context, ns catalog.Namespace) (int, error) {
	res, err := s.tags().DeleteMany(ctx, bson.M{"ns": ns})
	if err != nil {
		return 0, errors.Wrapf(err, "delete zones of %s", ns)
	}
	return int(res.DeletedCount), nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return errors.Wrap(s.client.Ping(ctx, readpref.Primary()), "ping catalog")
}

func (s *MongoStore) Stats(ctx context.Context) (CatalogStats, error) {
	var stats CatalogStats
	counts := []struct {
		coll *mongo.Collection
		dst  *int
	}{
		{s.operations(), &stats.Operations},
		{s.collections(), &stats.Collections},
		{s.chunks(), &stats.Chunks},
		{s.tags(), &stats.Zones},
	}
	for _, c := range counts {
		n, err := c.coll.EstimatedDocumentCount(ctx)
		if err != nil {
			return CatalogStats{}, errors.Wrapf(err, "count %s", c.coll.Name())
		}
		*c.dst = int(n)
	}
	return stats, nil
}

func (s *MongoStore) Close() error {
	return s.client.Disconnect(context.Background())
}

var _ Catalog = (*MongoStore)(nil)
