package resharding

import (
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/dreamware/reshard/internal/catalog"
)

func newDoc() catalog.CoordinatorDocument {
	return catalog.NewCoordinatorDocument("db.coll", uuid.New(), catalog.NewKeyPattern("newKey"),
		[]string{"shard0000", "shard0001"}, []string{"shard0002", "shard0003"})
}

func tempChunk(doc catalog.CoordinatorDocument, shard string, min, max interface{}) catalog.Chunk {
	return catalog.Chunk{
		ID:        primitive.NewObjectID(),
		Namespace: doc.TempNamespace,
		Range: catalog.ChunkRange{
			Min: bson.D{{Key: "newKey", Value: min}},
			Max: bson.D{{Key: "newKey", Value: max}},
		},
		Shard:   shard,
		Version: catalog.ChunkVersion{Major: 1},
	}
}

func tempZone(doc catalog.CoordinatorDocument, tag string, min, max interface{}) catalog.Zone {
	return catalog.Zone{
		Namespace: doc.TempNamespace,
		Tag:       tag,
		Range: catalog.ChunkRange{
			Min: bson.D{{Key: "newKey", Value: min}},
			Max: bson.D{{Key: "newKey", Value: max}},
		},
	}
}

func ts(t uint32) *primitive.Timestamp {
	return &primitive.Timestamp{T: t, I: 1}
}
