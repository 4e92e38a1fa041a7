package cluster

import (
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/dreamware/reshard/internal/catalog"
)

// InitializeRequest is the body of POST /operations/initialize.
type InitializeRequest struct {
	Operation catalog.CoordinatorDocument `bson:"operation"`
	Chunks    []catalog.Chunk             `bson:"chunks"`
	Zones     []catalog.Zone              `bson:"zones"`
}

// OperationRequest is the body of the transition, remove and abort
// endpoints.
type OperationRequest struct {
	Operation catalog.CoordinatorDocument `bson:"operation"`
}

// CommitRequest is the body of POST /operations/commit.
type CommitRequest struct {
	Operation      catalog.CoordinatorDocument `bson:"operation"`
	NewEpoch       primitive.ObjectID          `bson:"newEpoch"`
	ExpectedChunks int                         `bson:"expectedChunks"`
	ExpectedZones  int                         `bson:"expectedZones"`
}

// OperationsResponse lists coordinator documents.
type OperationsResponse struct {
	Operations []catalog.CoordinatorDocument `bson:"operations"`
}

// ShardInfo names a shard and where it is reachable.
type ShardInfo struct {
	ID   string `bson:"id" json:"id"`
	Host string `bson:"host" json:"host"`
}

// ShardsResponse lists registered shards.
type ShardsResponse struct {
	Shards []ShardInfo `bson:"shards" json:"shards"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code    int    `bson:"code" json:"code"`
	Kind    string `bson:"kind" json:"kind"`
	Message string `bson:"message" json:"message"`
}

// RoutingResponse is the body of GET /routing/{ns}: the entry of a
// namespace with the chunks and zones of its current incarnation.
type RoutingResponse struct {
	Collection catalog.CollectionEntry `bson:"collection"`
	Chunks     []catalog.Chunk         `bson:"chunks"`
	Zones      []catalog.Zone          `bson:"zones"`
}

// ShardCollectionRequest is the body of POST /collections. It registers an
// ordinary sharded namespace, which is how a namespace comes to exist before
// it can be resharded.
type ShardCollectionRequest struct {
	Collection catalog.CollectionEntry `bson:"collection"`
	Chunks     []catalog.Chunk         `bson:"chunks"`
	Zones      []catalog.Zone          `bson:"zones"`
}
