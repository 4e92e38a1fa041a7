package storage

import (
	"bytes"
	"context"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// BoltBackend implements Backend on a single bbolt file. Buckets are created
// when the file is opened.
type BoltBackend struct {
	db *bolt.DB
}

// OpenBoltBackend opens or creates the bbolt file at path and makes sure the
// given buckets exist.
func OpenBoltBackend(path string, buckets ...string) (*BoltBackend, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open bolt file %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return errors.Wrapf(err, "create bucket %s", name)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltBackend{db: db}, nil
}

func (b *BoltBackend) View(ctx context.Context, fn func(Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.View(func(tx *bolt.Tx) error {
		return fn(&boltTxn{tx: tx})
	})
}

func (b *BoltBackend) Update(ctx context.Context, fn func(Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return fn(&boltTxn{tx: tx})
	})
}

func (b *BoltBackend) Stats() StoreStats {
	stats := StoreStats{Buckets: make(map[string]int)}
	_ = b.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, bucket *bolt.Bucket) error {
			n := 0
			err := bucket.ForEach(func(_, v []byte) error {
				n++
				stats.Bytes += len(v)
				return nil
			})
			stats.Buckets[string(name)] = n
			stats.Keys += n
			return err
		})
	})
	return stats
}

func (b *BoltBackend) Close() error {
	return b.db.Close()
}

type boltTxn struct {
	tx *bolt.Tx
}

func (t *boltTxn) bucket(name string) (*bolt.Bucket, error) {
	b := t.tx.Bucket([]byte(name))
	if b == nil {
		return nil, errors.Errorf("bucket %s does not exist", name)
	}
	return b, nil
}

func (t *boltTxn) Get(bucket, key string) ([]byte, error) {
	b, err := t.bucket(bucket)
	if err != nil {
		return nil, err
	}
	v := b.Get([]byte(key))
	if v == nil {
		return nil, ErrKeyNotFound
	}
	// bbolt values are only valid for the life of the transaction.
	return copyBytes(v), nil
}

func (t *boltTxn) Put(bucket, key string, value []byte) error {
	b, err := t.bucket(bucket)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), value)
}

func (t *boltTxn) Delete(bucket, key string) error {
	b, err := t.bucket(bucket)
	if err != nil {
		return err
	}
	return b.Delete([]byte(key))
}

func (t *boltTxn) ForEach(bucket, prefix string, fn func(key string, value []byte) error) error {
	b, err := t.bucket(bucket)
	if err != nil {
		return err
	}
	type kv struct {
		key   string
		value []byte
	}
	// Collect before calling fn; bbolt cursors break if the bucket changes.
	var items []kv
	p := []byte(prefix)
	c := b.Cursor()
	for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
		items = append(items, kv{key: string(k), value: copyBytes(v)})
	}
	for _, it := range items {
		if err := fn(it.key, it.value); err != nil {
			return err
		}
	}
	return nil
}
