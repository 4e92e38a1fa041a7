// Package cluster defines the HTTP API between the resharding coordinator
// and its callers: the driver that advances operations, and the routers and
// shards that read the catalog.
//
// # Overview
//
// Catalog documents carry BSON types with no plain JSON equivalent (ObjectID
// epochs, timestamps, MinKey/MaxKey bounds, binary UUIDs). Bodies are
// therefore canonical extended JSON, so a document read back from the API is
// byte-for-byte the document the catalog stores. Error bodies are plain JSON.
//
// # Endpoints
//
//	POST /operations/initialize   InitializeRequest
//	POST /operations/transition   OperationRequest
//	POST /operations/commit       CommitRequest
//	POST /operations/remove       OperationRequest
//	POST /operations/abort        OperationRequest
//	GET  /operations              OperationsResponse
//	GET  /operations/{id}         catalog.CoordinatorDocument
//	POST /collections             ShardCollectionRequest
//	GET  /collections/{ns}        catalog.CollectionEntry
//	GET  /routing/{ns}            RoutingResponse
//	GET  /shards                  ShardsResponse
//	POST /shards                  ShardInfo
//
// # Errors
//
// A failed call answers with an ErrorResponse carrying the stable code and
// kind name of the underlying resharding error:
//
//	404  NamespaceNotFound, NoSuchCoordinatorDocument
//	409  ConsistencyFence, IllegalTransition, ConflictingOperation
//	400  InvalidDocument
//	500  InvariantViolation
//	503  Infrastructure
//
// Client rebuilds the *resharding.Error, so resharding.DispositionOf works on
// the caller's side exactly as it does in process.
//
// # Usage Example
//
//	c := cluster.NewClient("http://coordinator:8080")
//	err := c.Commit(ctx, cluster.CommitRequest{
//	    Operation:      doc,
//	    NewEpoch:       primitive.NewObjectID(),
//	    ExpectedChunks: 128,
//	})
//	if resharding.KindOf(err) == resharding.KindConsistencyFence {
//	    // cloning is not finished; move the operation to error
//	}
package cluster
