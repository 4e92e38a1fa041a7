package catalog

import (
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CollectionEntry is the sharding metadata of one namespace.
type CollectionEntry struct {
	Namespace        Namespace          `bson:"_id"`
	UUID             uuid.UUID          `bson:"uuid"`
	Epoch            primitive.ObjectID `bson:"lastmodEpoch"`
	UpdatedAt        time.Time          `bson:"lastmod"`
	KeyPattern       KeyPattern         `bson:"key"`
	DefaultCollation bson.D             `bson:"defaultCollation,omitempty"`
	Unique           bool               `bson:"unique"`
	ReshardingFields *ReshardingFields  `bson:"reshardingFields,omitempty"`
}

// ParticipatesIn reports whether the entry carries resharding fields for the
// given operation.
func (e CollectionEntry) ParticipatesIn(operationID uuid.UUID) bool {
	return e.ReshardingFields != nil && e.ReshardingFields.OperationID == operationID
}

// ReshardingFields mirror the coordinator state onto a collection entry so
// routers and shards can discover an in-progress operation. Exactly one of
// DonorFields and RecipientFields is set.
type ReshardingFields struct {
	OperationID     uuid.UUID        `bson:"uuid"`
	State           CoordinatorState `bson:"state"`
	DonorFields     *DonorFields     `bson:"donorFields,omitempty"`
	RecipientFields *RecipientFields `bson:"recipientFields,omitempty"`
}

// Equal compares two field sets by their BSON encoding. Two nil values are
// equal.
func (f *ReshardingFields) Equal(o *ReshardingFields) bool {
	if f == nil || o == nil {
		return f == nil && o == nil
	}
	return SameDocument(f, o)
}

// DonorFields are carried by the original namespace's entry.
type DonorFields struct {
	ReshardingKey     KeyPattern `bson:"reshardingKey"`
	RecipientShardIDs []string   `bson:"recipientShardIds"`
}

// RecipientFields are carried by the temporary namespace's entry.
type RecipientFields struct {
	OriginalNamespace Namespace            `bson:"originalNamespace"`
	FetchTimestamp    *primitive.Timestamp `bson:"fetchTimestamp,omitempty"`
	DonorShardIDs     []string             `bson:"donorShardIds"`
}
