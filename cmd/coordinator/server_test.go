package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/dreamware/reshard/internal/catalog"
	"github.com/dreamware/reshard/internal/cluster"
	"github.com/dreamware/reshard/internal/coordinator"
	"github.com/dreamware/reshard/internal/resharding"
	"github.com/dreamware/reshard/internal/storage"
)

type testEnv struct {
	url      string
	client   *cluster.Client
	registry *coordinator.ShardRegistry
	monitor  *coordinator.HealthMonitor
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	store := storage.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	registry := coordinator.NewShardRegistry()
	reg := prometheus.NewRegistry()
	engine := coordinator.NewPersistence(store, engineOptions(config{Postconditions: true}, zap.NewNop(), reg, registry)...)
	monitor := coordinator.NewHealthMonitor(time.Hour, zap.NewNop())
	srv := newServer(engine, coordinator.NewCatalogReader(store), registry, monitor, zap.NewNop())

	ts := httptest.NewServer(srv.routes(reg))
	t.Cleanup(ts.Close)
	return testEnv{url: ts.URL, client: cluster.NewClient(ts.URL), registry: registry, monitor: monitor}
}

// reshardCase reshards db.coll from {a: 1} on shard0000 to {b: 1} on
// shard0001.
type reshardCase struct {
	original catalog.CollectionEntry
	chunks   []catalog.Chunk
	doc      catalog.CoordinatorDocument
	temp     []catalog.Chunk
}

func newReshardCase() reshardCase {
	oldKey, newKey := catalog.NewKeyPattern("a"), catalog.NewKeyPattern("b")
	original := catalog.CollectionEntry{
		Namespace:  "db.coll",
		UUID:       uuid.New(),
		KeyPattern: oldKey,
	}
	doc := catalog.NewCoordinatorDocument(original.Namespace, original.UUID, newKey,
		[]string{"shard0000"}, []string{"shard0001"})
	return reshardCase{
		original: original,
		chunks: []catalog.Chunk{{
			ID:        primitive.NewObjectID(),
			Namespace: original.Namespace,
			Range:     catalog.ChunkRange{Min: catalog.GlobalMin(oldKey), Max: catalog.GlobalMax(oldKey)},
			Shard:     "shard0000",
			Version:   catalog.ChunkVersion{Major: 1},
		}},
		doc: doc,
		temp: []catalog.Chunk{
			{
				ID:        primitive.NewObjectID(),
				Namespace: doc.TempNamespace,
				Range:     catalog.ChunkRange{Min: catalog.GlobalMin(newKey), Max: bson.D{{Key: "b", Value: int64(0)}}},
				Shard:     "shard0001",
				Version:   catalog.ChunkVersion{Major: 1},
			},
			{
				ID:        primitive.NewObjectID(),
				Namespace: doc.TempNamespace,
				Range:     catalog.ChunkRange{Min: bson.D{{Key: "b", Value: int64(0)}}, Max: catalog.GlobalMax(newKey)},
				Shard:     "shard0001",
				Version:   catalog.ChunkVersion{Major: 1},
			},
		},
	}
}

func (c reshardCase) at(st catalog.CoordinatorState) catalog.CoordinatorDocument {
	doc := c.doc.WithState(st)
	if st.RequiresFetchTimestamp() || st == catalog.CoordinatorError {
		doc.FetchTimestamp = &primitive.Timestamp{T: 1709294400, I: 1}
	}
	if st == catalog.CoordinatorError {
		doc.AbortReason = "recipient failed to clone"
	}
	return doc
}

// setup registers both shards and the original namespace.
func (c reshardCase) setup(t *testing.T, env testEnv) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, env.client.RegisterShard(ctx, cluster.ShardInfo{ID: "shard0000", Host: "localhost:9000"}))
	require.NoError(t, env.client.RegisterShard(ctx, cluster.ShardInfo{ID: "shard0001", Host: "localhost:9001"}))
	require.NoError(t, env.client.ShardCollection(ctx, cluster.ShardCollectionRequest{
		Collection: c.original,
		Chunks:     c.chunks,
	}))
}

func TestServerLifecycle(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	c := newReshardCase()
	c.setup(t, env)

	before, err := env.client.RoutingInfo(ctx, c.original.Namespace)
	require.NoError(t, err)
	require.Len(t, before.Chunks, 1)
	assert.True(t, before.Collection.KeyPattern.Equal(c.original.KeyPattern))

	require.NoError(t, env.client.Initialize(ctx, c.doc, c.temp, nil))
	for _, st := range []catalog.CoordinatorState{
		catalog.CoordinatorPreparingToDonate,
		catalog.CoordinatorCloning,
		catalog.CoordinatorMirroring,
	} {
		require.NoError(t, env.client.Transition(ctx, c.at(st)), "transition to %s", st)
	}

	persisted, err := env.client.Operation(ctx, c.doc.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.CoordinatorMirroring, persisted.State)

	newEpoch := primitive.NewObjectID()
	require.NoError(t, env.client.Commit(ctx, cluster.CommitRequest{
		Operation:      c.at(catalog.CoordinatorCommitted),
		NewEpoch:       newEpoch,
		ExpectedChunks: len(c.temp),
	}))

	after, err := env.client.RoutingInfo(ctx, c.original.Namespace)
	require.NoError(t, err)
	assert.Equal(t, newEpoch, after.Collection.Epoch)
	assert.Equal(t, c.doc.ID, after.Collection.UUID)
	assert.True(t, after.Collection.KeyPattern.Equal(c.doc.ReshardingKey))
	assert.Len(t, after.Chunks, len(c.temp))
	for _, ch := range after.Chunks {
		assert.Equal(t, "shard0001", ch.Shard)
		assert.Equal(t, newEpoch, ch.Version.Epoch)
	}

	_, err = env.client.Collection(ctx, c.doc.TempNamespace)
	assert.Equal(t, resharding.KindNamespaceNotFound, resharding.KindOf(err))

	require.NoError(t, env.client.Transition(ctx, c.at(catalog.CoordinatorDropping)))
	require.NoError(t, env.client.Remove(ctx, c.at(catalog.CoordinatorDone)))

	entry, err := env.client.Collection(ctx, c.original.Namespace)
	require.NoError(t, err)
	assert.Nil(t, entry.ReshardingFields)

	_, err = env.client.Operation(ctx, c.doc.ID)
	assert.Equal(t, resharding.KindNoSuchCoordinatorDocument, resharding.KindOf(err))
	assert.Equal(t, resharding.DispositionReconcile, resharding.DispositionOf(err))

	ops, err := env.client.Operations(ctx)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestServerAbort(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	c := newReshardCase()
	c.setup(t, env)

	require.NoError(t, env.client.Initialize(ctx, c.doc, c.temp, nil))
	require.NoError(t, env.client.Transition(ctx, c.at(catalog.CoordinatorPreparingToDonate)))
	require.NoError(t, env.client.Transition(ctx, c.at(catalog.CoordinatorCloning)))

	ops, err := env.client.Operations(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)

	require.NoError(t, env.client.Transition(ctx, c.at(catalog.CoordinatorError)))
	require.NoError(t, env.client.Abort(ctx, c.at(catalog.CoordinatorError)))

	_, err = env.client.RoutingInfo(ctx, c.doc.TempNamespace)
	assert.Equal(t, resharding.KindNamespaceNotFound, resharding.KindOf(err))

	info, err := env.client.RoutingInfo(ctx, c.original.Namespace)
	require.NoError(t, err)
	assert.Nil(t, info.Collection.ReshardingFields)
	assert.Len(t, info.Chunks, len(c.chunks))
}

func TestServerErrors(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	c := newReshardCase()
	c.setup(t, env)
	require.NoError(t, env.client.Initialize(ctx, c.doc, c.temp, nil))
	for _, st := range []catalog.CoordinatorState{
		catalog.CoordinatorPreparingToDonate,
		catalog.CoordinatorCloning,
		catalog.CoordinatorMirroring,
	} {
		require.NoError(t, env.client.Transition(ctx, c.at(st)))
	}

	t.Run("typed errors", func(t *testing.T) {
		tests := []struct {
			name string
			call func() error
			want resharding.Kind
		}{
			{"unknown namespace", func() error {
				other := newReshardCase()
				other.doc.Namespace = "db.missing"
				other.doc.TempNamespace = catalog.TempReshardingNamespace(other.doc.Namespace, other.doc.ID)
				for i := range other.temp {
					other.temp[i].Namespace = other.doc.TempNamespace
				}
				return env.client.Initialize(ctx, other.doc, other.temp, nil)
			}, resharding.KindNamespaceNotFound},
			{"second operation", func() error {
				second := newReshardCase()
				second.doc.Namespace = c.doc.Namespace
				second.doc.CollectionUUID = c.original.UUID
				second.doc.TempNamespace = catalog.TempReshardingNamespace(second.doc.Namespace, second.doc.ID)
				for i := range second.temp {
					second.temp[i].Namespace = second.doc.TempNamespace
				}
				return env.client.Initialize(ctx, second.doc, second.temp, nil)
			}, resharding.KindConflictingOperation},
			{"skipped state", func() error {
				return env.client.Transition(ctx, c.at(catalog.CoordinatorDropping))
			}, resharding.KindIllegalTransition},
			{"commit fence", func() error {
				return env.client.Commit(ctx, cluster.CommitRequest{
					Operation:      c.at(catalog.CoordinatorCommitted),
					NewEpoch:       primitive.NewObjectID(),
					ExpectedChunks: len(c.temp) + 1,
				})
			}, resharding.KindConsistencyFence},
			{"missing collection", func() error {
				_, err := env.client.Collection(ctx, "db.missing")
				return err
			}, resharding.KindNamespaceNotFound},
			{"shard without host", func() error {
				return env.client.RegisterShard(ctx, cluster.ShardInfo{ID: "shard0009"})
			}, resharding.KindInvalidDocument},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := tt.call()
				require.Error(t, err)
				assert.Equal(t, tt.want, resharding.KindOf(err), "error: %v", err)
				assert.Equal(t, tt.want.Code(), resharding.CodeOf(err))
			})
		}
	})

	t.Run("status codes", func(t *testing.T) {
		tests := []struct {
			name   string
			method string
			path   string
			body   string
			status int
		}{
			{"bad body", http.MethodPost, "/operations/initialize", "{not json", http.StatusBadRequest},
			{"bad operation id", http.MethodGet, "/operations/not-a-uuid", "", http.StatusBadRequest},
			{"bad namespace", http.MethodGet, "/collections/nodot", "", http.StatusBadRequest},
			{"missing routing", http.MethodGet, "/routing/db.missing", "", http.StatusNotFound},
			{"missing operation", http.MethodGet, "/operations/" + uuid.NewString(), "", http.StatusNotFound},
			{"wrong method", http.MethodPut, "/shards", "", http.StatusMethodNotAllowed},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				req, err := http.NewRequest(tt.method, env.url+tt.path, strings.NewReader(tt.body))
				require.NoError(t, err)
				resp, err := http.DefaultClient.Do(req)
				require.NoError(t, err)
				defer resp.Body.Close()
				assert.Equal(t, tt.status, resp.StatusCode)

				if tt.status == http.StatusMethodNotAllowed {
					return
				}
				var body cluster.ErrorResponse
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
				assert.NotEmpty(t, body.Kind)
				assert.NotZero(t, body.Code)
			})
		}
	})
}

func TestServerShards(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	require.NoError(t, env.client.RegisterShard(ctx, cluster.ShardInfo{ID: "shard0001", Host: "localhost:9001"}))
	require.NoError(t, env.client.RegisterShard(ctx, cluster.ShardInfo{ID: "shard0000", Host: "localhost:9000"}))
	require.NoError(t, env.client.RegisterShard(ctx, cluster.ShardInfo{ID: "shard0000", Host: "localhost:9100"}))

	shards, err := env.client.Shards(ctx)
	require.NoError(t, err)
	assert.Equal(t, []cluster.ShardInfo{
		{ID: "shard0000", Host: "localhost:9100"},
		{ID: "shard0001", Host: "localhost:9001"},
	}, shards)
	assert.True(t, env.registry.Has("shard0001"))
}

func TestServerHealth(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	down := errors.New("connection refused")

	probes := func(catalogErr, shardErr error) []coordinator.Probe {
		return []coordinator.Probe{
			{Name: coordinator.CatalogProbe, Check: func(context.Context) error { return catalogErr }},
			{Name: "shard0000", Check: func(context.Context) error { return shardErr }},
		}
	}
	health := func() (int, healthResponse) {
		resp, err := http.Get(env.url + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()
		var body healthResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		return resp.StatusCode, body
	}

	env.monitor.CheckNow(ctx, probes(nil, nil))
	status, body := health()
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body.Status)
	assert.Len(t, body.Components, 2)

	for i := 0; i < 3; i++ {
		env.monitor.CheckNow(ctx, probes(nil, down))
	}
	status, body = health()
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, coordinator.StatusUnhealthy, body.Components["shard0000"].Status)

	for i := 0; i < 3; i++ {
		env.monitor.CheckNow(ctx, probes(down, down))
	}
	status, body = health()
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "unavailable", body.Status)
}

func TestServerMetrics(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	c := newReshardCase()
	c.setup(t, env)
	require.NoError(t, env.client.Initialize(ctx, c.doc, c.temp, nil))

	resp, err := http.Get(env.url + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(data)
	assert.Contains(t, text, `reshard_persistence_operations_total{operation="initialize",outcome="success"} 1`)
	assert.Contains(t, text, `reshard_persistence_operations_total{operation="shard_collection",outcome="success"} 1`)
	assert.Contains(t, text, `reshard_http_requests_total{code="204",method="post"}`)
}
