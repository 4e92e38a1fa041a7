package main

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dreamware/reshard/internal/catalog"
	"github.com/dreamware/reshard/internal/cluster"
	"github.com/dreamware/reshard/internal/coordinator"
	"github.com/dreamware/reshard/internal/resharding"
)

// server exposes the persistence engine and the catalog reader over HTTP.
type server struct {
	engine   *coordinator.Persistence
	reader   *coordinator.CatalogReader
	registry *coordinator.ShardRegistry
	monitor  *coordinator.HealthMonitor
	logger   *zap.Logger
}

func newServer(engine *coordinator.Persistence, reader *coordinator.CatalogReader, registry *coordinator.ShardRegistry, monitor *coordinator.HealthMonitor, logger *zap.Logger) *server {
	return &server{
		engine:   engine,
		reader:   reader,
		registry: registry,
		monitor:  monitor,
		logger:   logger,
	}
}

// routes builds the coordinator's handler. Request counts are recorded on
// reg, which /metrics also serves.
func (s *server) routes(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /operations/initialize", s.handleInitialize)
	mux.HandleFunc("POST /operations/transition", s.handleTransition)
	mux.HandleFunc("POST /operations/commit", s.handleCommit)
	mux.HandleFunc("POST /operations/remove", s.handleRemove)
	mux.HandleFunc("POST /operations/abort", s.handleAbort)
	mux.HandleFunc("GET /operations", s.handleListOperations)
	mux.HandleFunc("GET /operations/{id}", s.handleGetOperation)
	mux.HandleFunc("POST /collections", s.handleShardCollection)
	mux.HandleFunc("GET /collections/{ns}", s.handleGetCollection)
	mux.HandleFunc("GET /routing/{ns}", s.handleRouting)
	mux.HandleFunc("GET /shards", s.handleListShards)
	mux.HandleFunc("POST /shards", s.handleRegisterShard)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	requests := promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
		Namespace: "reshard",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by status code and method",
	}, []string{"code", "method"})
	return promhttp.InstrumentHandlerCounter(requests, mux)
}

// decode reads an extended JSON request body into v. A malformed body is
// answered here and reported as false.
func (s *server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := cluster.ReadJSON(r.Body, v); err != nil {
		s.fail(w, r, resharding.Wrap(resharding.KindInvalidDocument, err, "decode request"))
		return false
	}
	return true
}

func (s *server) fail(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Debug("request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Stringer("kind", resharding.KindOf(err)),
		zap.Error(err))
	cluster.WriteError(w, err)
}

// done answers a write with 204 or the error.
func (s *server) done(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var req cluster.InitializeRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.done(w, r, s.engine.PersistInitialStateAndCatalogUpdates(r.Context(), req.Operation, req.Chunks, req.Zones))
}

func (s *server) handleTransition(w http.ResponseWriter, r *http.Request) {
	var req cluster.OperationRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.done(w, r, s.engine.PersistStateTransition(r.Context(), req.Operation))
}

func (s *server) handleCommit(w http.ResponseWriter, r *http.Request) {
	var req cluster.CommitRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.done(w, r, s.engine.PersistCommittedState(r.Context(), req.Operation, req.NewEpoch, req.ExpectedChunks, req.ExpectedZones))
}

func (s *server) handleRemove(w http.ResponseWriter, r *http.Request) {
	var req cluster.OperationRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.done(w, r, s.engine.RemoveCoordinatorDocAndReshardingFields(r.Context(), req.Operation))
}

func (s *server) handleAbort(w http.ResponseWriter, r *http.Request) {
	var req cluster.OperationRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.done(w, r, s.engine.RemoveAbortedOperation(r.Context(), req.Operation))
}

func (s *server) handleListOperations(w http.ResponseWriter, r *http.Request) {
	docs, err := s.reader.Operations(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if docs == nil {
		docs = []catalog.CoordinatorDocument{}
	}
	cluster.WriteJSON(w, http.StatusOK, cluster.OperationsResponse{Operations: docs})
}

func (s *server) handleGetOperation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.fail(w, r, resharding.Wrap(resharding.KindInvalidDocument, err, "operation id %q", r.PathValue("id")))
		return
	}
	doc, err := s.reader.Operation(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	cluster.WriteJSON(w, http.StatusOK, doc)
}

func (s *server) handleShardCollection(w http.ResponseWriter, r *http.Request) {
	var req cluster.ShardCollectionRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.done(w, r, s.engine.ShardCollection(r.Context(), req.Collection, req.Chunks, req.Zones))
}

// namespace reads the {ns} path segment.
func namespace(r *http.Request) (catalog.Namespace, error) {
	ns := catalog.Namespace(r.PathValue("ns"))
	if !ns.Valid() {
		return "", resharding.Errorf(resharding.KindInvalidDocument, "invalid namespace %q", ns)
	}
	return ns, nil
}

func (s *server) handleGetCollection(w http.ResponseWriter, r *http.Request) {
	ns, err := namespace(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	entry, err := s.reader.Collection(r.Context(), ns)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	cluster.WriteJSON(w, http.StatusOK, entry)
}

func (s *server) handleRouting(w http.ResponseWriter, r *http.Request) {
	ns, err := namespace(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	info, err := s.reader.RoutingInfo(r.Context(), ns)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	cluster.WriteJSON(w, http.StatusOK, cluster.RoutingResponse{
		Collection: info.Collection,
		Chunks:     info.Chunks,
		Zones:      info.Zones,
	})
}

func (s *server) handleListShards(w http.ResponseWriter, r *http.Request) {
	shards := s.registry.All()
	resp := cluster.ShardsResponse{Shards: make([]cluster.ShardInfo, 0, len(shards))}
	for _, sh := range shards {
		resp.Shards = append(resp.Shards, cluster.ShardInfo{ID: sh.ID, Host: sh.Host})
	}
	cluster.WriteJSON(w, http.StatusOK, resp)
}

func (s *server) handleRegisterShard(w http.ResponseWriter, r *http.Request) {
	var req cluster.ShardInfo
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.registry.Register(req.ID, req.Host); err != nil {
		s.fail(w, r, resharding.Wrap(resharding.KindInvalidDocument, err, "register shard"))
		return
	}
	s.logger.Info("shard registered", zap.String("shard", req.ID), zap.String("host", req.Host))
	w.WriteHeader(http.StatusNoContent)
}

// healthResponse is the body of GET /health.
type healthResponse struct {
	Status     string                                  `json:"status"`
	Components map[string]*coordinator.ComponentHealth `json:"components"`
}

// handleHealth reports every monitored component. The coordinator is only
// unavailable when its catalog is unhealthy; an unhealthy shard degrades it.
func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Components: s.monitor.All()}
	status := http.StatusOK
	for name, c := range resp.Components {
		if c.Status != coordinator.StatusUnhealthy {
			continue
		}
		if name == coordinator.CatalogProbe {
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
			break
		}
		resp.Status = "degraded"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
