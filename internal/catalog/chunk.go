package catalog

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ChunkVersion is the placement version of a chunk. Major and Minor are
// monotonic within an epoch; a new epoch starts a new incarnation of the
// namespace.
type ChunkVersion struct {
	Major uint32             `bson:"major"`
	Minor uint32             `bson:"minor"`
	Epoch primitive.ObjectID `bson:"lastmodEpoch"`
}

// Chunk records which shard owns a range of a namespace's key space.
// Chunks are keyed by ID, which never changes across a relabel.
type Chunk struct {
	ID        primitive.ObjectID `bson:"_id"`
	Namespace Namespace          `bson:"ns"`
	Range     ChunkRange         `bson:",inline"`
	Shard     string             `bson:"shard"`
	Version   ChunkVersion       `bson:",inline"`
}

// Zone is a named key range used as a placement hint. Zones are keyed by
// namespace and range minimum.
type Zone struct {
	Namespace Namespace  `bson:"ns"`
	Tag       string     `bson:"tag"`
	Range     ChunkRange `bson:",inline"`
}

// Key returns the storage key of the zone.
func (z Zone) Key() (string, error) {
	return ZoneKey(z.Namespace, z.Range.Min)
}

// ZoneKey returns the storage key for the zone of ns starting at min.
func ZoneKey(ns Namespace, min bson.D) (string, error) {
	bk, err := boundKey(min)
	if err != nil {
		return "", err
	}
	return string(ns) + "\x00" + bk, nil
}

// CountChunksInEpoch returns how many chunks belong to the given epoch.
func CountChunksInEpoch(chunks []Chunk, epoch primitive.ObjectID) int {
	n := 0
	for _, c := range chunks {
		if c.Version.Epoch == epoch {
			n++
		}
	}
	return n
}
