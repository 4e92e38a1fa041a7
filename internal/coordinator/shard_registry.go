package coordinator

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/exp/slices"
)

// ShardInfo describes one shard that may take part in resharding operations,
// either as a donor or as a recipient.
//
// Thread Safety:
// ShardInfo values are immutable once registered. The registry returns
// copies to prevent external modification.
//
// Example:
//
//	info := &ShardInfo{
//	    ID:   "shard0000",
//	    Host: "shard0000.example.net:27018",
//	}
type ShardInfo struct {
	// ID is the shard identifier used in coordinator documents and chunk
	// ownership records.
	ID string `json:"id"`

	// Host is the address the shard's primary is reachable at.
	Host string `json:"host"`
}

// ShardRegistry is the coordinator's list of known shards. The persistence
// engine consults it so that no operation names a donor or recipient the
// cluster doesn't have, and no chunk is assigned to one.
//
// Architecture:
//
//	┌─────────────────────────────────────┐
//	│         ShardRegistry               │
//	├─────────────────────────────────────┤
//	│  shards: map[shardID]→host          │
//	│  mu: RWMutex for thread safety      │
//	├─────────────────────────────────────┤
//	│  "shard0001" → "10.0.0.2:27018"     │
//	└─────────────────────────────────────┘
//
// Concurrency Model:
//   - Read operations use RLock for parallel access
//   - Write operations use Lock for exclusive access
//   - All returned data is copied to prevent races
type ShardRegistry struct {
	shards map[string]*ShardInfo
	mu     sync.RWMutex
}

// NewShardRegistry creates an empty registry.
//
// Example:
//
//	registry := NewShardRegistry()
//	registry.Register("shard0000", "localhost:27018")
func NewShardRegistry() *ShardRegistry {
	return &ShardRegistry{
		shards: make(map[string]*ShardInfo),
	}
}

// Register adds a shard or updates its host.
//
// Parameters:
//   - id: Shard identifier, must be non-empty
//   - host: Address of the shard, must be non-empty
//
// Returns:
//   - nil on success
//   - Error if either argument is empty
//
// Thread Safety:
// This method is thread-safe and can be called concurrently.
func (r *ShardRegistry) Register(id, host string) error {
	if id == "" {
		return errors.New("shard ID cannot be empty")
	}
	if host == "" {
		return fmt.Errorf("shard %s has no host", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.shards[id] = &ShardInfo{ID: id, Host: host}
	return nil
}

// Remove forgets a shard. Removing an unknown shard is not an error.
func (r *ShardRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.shards, id)
}

// Get returns a copy of the shard's info, or nil if it isn't registered.
func (r *ShardRegistry) Get(id string) *ShardInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info := r.shards[id]
	if info == nil {
		return nil
	}
	return &ShardInfo{ID: info.ID, Host: info.Host}
}

// Has reports whether the shard is registered.
func (r *ShardRegistry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.shards[id]
	return ok
}

// All returns copies of every registered shard, sorted by ID.
func (r *ShardRegistry) All() []*ShardInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*ShardInfo, 0, len(r.shards))
	for _, info := range r.shards {
		all = append(all, &ShardInfo{ID: info.ID, Host: info.Host})
	}
	slices.SortFunc(all, func(a, b *ShardInfo) int {
		return strings.Compare(a.ID, b.ID)
	})
	return all
}

// Len returns the number of registered shards.
func (r *ShardRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.shards)
}

// RegisterList registers shards from a comma-separated list of id=host
// pairs, as accepted on the command line.
//
// Example:
//
//	err := registry.RegisterList("shard0000=localhost:27018,shard0001=localhost:27019")
func (r *ShardRegistry) RegisterList(list string) error {
	for _, item := range strings.Split(list, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		id, host, ok := strings.Cut(item, "=")
		if !ok {
			return fmt.Errorf("shard %q: expected id=host", item)
		}
		if err := r.Register(strings.TrimSpace(id), strings.TrimSpace(host)); err != nil {
			return err
		}
	}
	return nil
}
