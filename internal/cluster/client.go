package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/dreamware/reshard/internal/catalog"
	"github.com/dreamware/reshard/internal/resharding"
)

// maxBodyBytes bounds request and response bodies.
const maxBodyBytes = 64 << 20

var httpClient = &http.Client{Timeout: 30 * time.Second}

// Marshal encodes v as canonical extended JSON, which keeps every BSON type
// of catalog documents intact across the wire.
func Marshal(v interface{}) ([]byte, error) {
	return bson.MarshalExtJSON(v, true, false)
}

// Unmarshal decodes canonical or relaxed extended JSON into v.
func Unmarshal(data []byte, v interface{}) error {
	return bson.UnmarshalExtJSON(data, false, v)
}

// ReadJSON decodes an extended JSON body into v.
func ReadJSON(r io.Reader, v interface{}) error {
	data, err := io.ReadAll(io.LimitReader(r, maxBodyBytes))
	if err != nil {
		return err
	}
	return Unmarshal(data, v)
}

// WriteJSON writes v as an extended JSON document with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := Marshal(v)
	if err != nil {
		WriteError(w, resharding.Wrap(resharding.KindInvariantViolation, err, "encode response"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// StatusFor maps an error to the HTTP status reported for it.
func StatusFor(err error) int {
	switch resharding.KindOf(err) {
	case resharding.KindNamespaceNotFound, resharding.KindNoSuchCoordinatorDocument:
		return http.StatusNotFound
	case resharding.KindConsistencyFence, resharding.KindIllegalTransition, resharding.KindConflictingOperation:
		return http.StatusConflict
	case resharding.KindInvalidDocument:
		return http.StatusBadRequest
	case resharding.KindInvariantViolation:
		return http.StatusInternalServerError
	default:
		return http.StatusServiceUnavailable
	}
}

// WriteError writes err as an ErrorResponse.
func WriteError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(StatusFor(err))
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Code:    resharding.CodeOf(err),
		Kind:    resharding.KindOf(err).String(),
		Message: err.Error(),
	})
}

// Err rebuilds the typed error the server reported.
func (e ErrorResponse) Err() error {
	return &resharding.Error{Kind: resharding.ParseKind(e.Kind), Code: e.Code, Msg: e.Message}
}

// PostJSON sends body as extended JSON and decodes the reply into out,
// which may be nil. Error replies come back as *resharding.Error.
func PostJSON(ctx context.Context, url string, body, out interface{}) error {
	reqBody, err := Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return do(req, out)
}

// GetJSON fetches url and decodes the extended JSON reply into out.
func GetJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return do(req, out)
}

func do(req *http.Request, out interface{}) error {
	resp, err := httpClient.Do(req)
	if err != nil {
		return resharding.Wrap(resharding.KindInfrastructure, err, "%s %s", req.Method, req.URL)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e ErrorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if json.Unmarshal(data, &e) == nil && e.Kind != "" {
			return e.Err()
		}
		return fmt.Errorf("http %s: %d", req.URL, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return errors.Wrapf(ReadJSON(resp.Body, out), "decode %s", req.URL)
}

// Client talks to a coordinator's HTTP API.
type Client struct {
	base string
}

// NewClient returns a client for the coordinator at base, e.g.
// "http://localhost:8080".
func NewClient(base string) *Client {
	return &Client{base: strings.TrimRight(base, "/")}
}

// Initialize persists a new operation with its initial placement.
func (c *Client) Initialize(ctx context.Context, doc catalog.CoordinatorDocument, chunks []catalog.Chunk, zones []catalog.Zone) error {
	return PostJSON(ctx, c.base+"/operations/initialize", InitializeRequest{Operation: doc, Chunks: chunks, Zones: zones}, nil)
}

// Transition advances a persisted operation.
func (c *Client) Transition(ctx context.Context, doc catalog.CoordinatorDocument) error {
	return PostJSON(ctx, c.base+"/operations/transition", OperationRequest{Operation: doc}, nil)
}

// Commit performs the metadata cut-over.
func (c *Client) Commit(ctx context.Context, req CommitRequest) error {
	return PostJSON(ctx, c.base+"/operations/commit", req, nil)
}

// Remove finishes a done operation.
func (c *Client) Remove(ctx context.Context, doc catalog.CoordinatorDocument) error {
	return PostJSON(ctx, c.base+"/operations/remove", OperationRequest{Operation: doc}, nil)
}

// Abort cleans up an operation in the error state.
func (c *Client) Abort(ctx context.Context, doc catalog.CoordinatorDocument) error {
	return PostJSON(ctx, c.base+"/operations/abort", OperationRequest{Operation: doc}, nil)
}

// Operation fetches one coordinator document.
func (c *Client) Operation(ctx context.Context, id uuid.UUID) (catalog.CoordinatorDocument, error) {
	var doc catalog.CoordinatorDocument
	err := GetJSON(ctx, c.base+"/operations/"+id.String(), &doc)
	return doc, err
}

// Operations lists every coordinator document.
func (c *Client) Operations(ctx context.Context) ([]catalog.CoordinatorDocument, error) {
	var resp OperationsResponse
	err := GetJSON(ctx, c.base+"/operations", &resp)
	return resp.Operations, err
}

// Collection fetches the catalog entry of ns.
func (c *Client) Collection(ctx context.Context, ns catalog.Namespace) (catalog.CollectionEntry, error) {
	var e catalog.CollectionEntry
	err := GetJSON(ctx, c.base+"/collections/"+url.PathEscape(string(ns)), &e)
	return e, err
}

// ShardCollection registers a namespace's catalog entry and initial chunks.
func (c *Client) ShardCollection(ctx context.Context, req ShardCollectionRequest) error {
	return PostJSON(ctx, c.base+"/collections", req, nil)
}

// RoutingInfo fetches what a router needs to route requests for ns.
func (c *Client) RoutingInfo(ctx context.Context, ns catalog.Namespace) (RoutingResponse, error) {
	var info RoutingResponse
	err := GetJSON(ctx, c.base+"/routing/"+url.PathEscape(string(ns)), &info)
	return info, err
}

// Shards lists the registered shards.
func (c *Client) Shards(ctx context.Context) ([]ShardInfo, error) {
	var resp ShardsResponse
	err := GetJSON(ctx, c.base+"/shards", &resp)
	return resp.Shards, err
}

// RegisterShard adds a shard or updates its host.
func (c *Client) RegisterShard(ctx context.Context, shard ShardInfo) error {
	return PostJSON(ctx, c.base+"/shards", shard, nil)
}
