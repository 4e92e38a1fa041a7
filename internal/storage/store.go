package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// ErrKeyNotFound is returned by Txn.Get when a key doesn't exist in a bucket
var ErrKeyNotFound = errors.New("key not found")

// Backend is a bucketed key-value store with atomic read-write transactions.
// All implementations must be safe for concurrent use.
type Backend interface {
	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(Txn) error) error

	// Update runs fn in a read-write transaction. Either every write fn made
	// becomes visible or, when fn or the commit fails, none does.
	Update(ctx context.Context, fn func(Txn) error) error

	// Stats returns per-bucket statistics
	Stats() StoreStats

	Close() error
}

// Txn is the view of the backend inside a transaction. Values returned by
// Get and ForEach are owned by the caller.
type Txn interface {
	// Get returns ErrKeyNotFound if the key doesn't exist
	Get(bucket, key string) ([]byte, error)

	// Put overwrites any existing value for the key
	Put(bucket, key string, value []byte) error

	// Delete is a no-op if the key doesn't exist
	Delete(bucket, key string) error

	// ForEach calls fn for every key with the given prefix, in key order.
	ForEach(bucket, prefix string, fn func(key string, value []byte) error) error
}

// StoreStats contains statistics about the store
type StoreStats struct {
	Keys    int            // Number of keys across all buckets
	Bytes   int            // Total size of all values in bytes
	Buckets map[string]int // Keys per bucket
}

// MemoryBackend implements Backend with in-memory buckets.
// Uses sync.RWMutex for thread-safe concurrent access; a write transaction
// works on copies of the buckets it touches and swaps them in on success.
type MemoryBackend struct {
	mu      sync.RWMutex                 // Protects concurrent access
	buckets map[string]map[string][]byte // Bucket name -> key-value storage
}

// NewMemoryBackend creates a new in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		buckets: make(map[string]map[string][]byte),
	}
}

// View runs fn under the read lock.
func (m *MemoryBackend) View(ctx context.Context, fn func(Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	return fn(&memoryTxn{base: m.buckets})
}

// Update runs fn under the write lock and commits its writes if fn succeeds.
func (m *MemoryBackend) Update(ctx context.Context, fn func(Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTxn{base: m.buckets, writable: true, staged: make(map[string]map[string][]byte)}
	if err := fn(tx); err != nil {
		return err
	}
	for name, bucket := range tx.staged {
		m.buckets[name] = bucket
	}
	return nil
}

// Stats returns storage statistics
func (m *MemoryBackend) Stats() StoreStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := StoreStats{Buckets: make(map[string]int, len(m.buckets))}
	for name, bucket := range m.buckets {
		stats.Buckets[name] = len(bucket)
		stats.Keys += len(bucket)
		for _, value := range bucket {
			stats.Bytes += len(value)
		}
	}
	return stats
}

// Close is a no-op; the data is dropped with the backend.
func (m *MemoryBackend) Close() error {
	return nil
}

type memoryTxn struct {
	base     map[string]map[string][]byte
	staged   map[string]map[string][]byte
	writable bool
}

func (t *memoryTxn) bucket(name string) map[string][]byte {
	if b, ok := t.staged[name]; ok {
		return b
	}
	return t.base[name]
}

// writableBucket copies the bucket into the staging area on first write.
func (t *memoryTxn) writableBucket(name string) (map[string][]byte, error) {
	if !t.writable {
		return nil, errors.New("write in read-only transaction")
	}
	if b, ok := t.staged[name]; ok {
		return b, nil
	}
	orig := t.base[name]
	b := make(map[string][]byte, len(orig)+1)
	for k, v := range orig {
		b[k] = v
	}
	t.staged[name] = b
	return b, nil
}

// Get returns a copy of the value to prevent external modification
func (t *memoryTxn) Get(bucket, key string) ([]byte, error) {
	value, exists := t.bucket(bucket)[key]
	if !exists {
		return nil, ErrKeyNotFound
	}
	return copyBytes(value), nil
}

// Put makes a copy of the value to prevent external modification
func (t *memoryTxn) Put(bucket, key string, value []byte) error {
	b, err := t.writableBucket(bucket)
	if err != nil {
		return err
	}
	b[key] = copyBytes(value)
	return nil
}

func (t *memoryTxn) Delete(bucket, key string) error {
	if _, exists := t.bucket(bucket)[key]; !exists {
		return nil
	}
	b, err := t.writableBucket(bucket)
	if err != nil {
		return err
	}
	delete(b, key)
	return nil
}

func (t *memoryTxn) ForEach(bucket, prefix string, fn func(key string, value []byte) error) error {
	b := t.bucket(bucket)
	keys := make([]string, 0, len(b))
	for key := range b {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	// Snapshot values first so fn may write to the same bucket.
	values := make([][]byte, len(keys))
	for i, key := range keys {
		values[i] = copyBytes(b[key])
	}
	for i, key := range keys {
		if err := fn(key, values[i]); err != nil {
			return err
		}
	}
	return nil
}

func copyBytes(value []byte) []byte {
	result := make([]byte, len(value))
	copy(result, value)
	return result
}
