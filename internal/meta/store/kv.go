// Package store is the embedded key-value layer the meta service's Raft
// state machine applies committed entries into (spec.md §4.2, §4.3). The
// spec explicitly does not mandate the on-disk encoding of this store
// (§1 Non-goals), so this package wraps go.etcd.io/bbolt the way the
// teacher's friggdb/backend/local wraps the filesystem: one small
// reader/writer type behind a narrow interface, namespaced keys, no
// business logic.
package store

import (
	"bytes"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var rootBucket = []byte("robustmq")

// KV is the namespaced embedded key-value store. Keys are UTF-8 strings
// with '/'-separated segments, matching the journal index key scheme in
// spec.md §4.3 and the meta-service KV RPCs in §6.
type KV struct {
	db *bolt.DB
}

func Open(path string) (*KV, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open kv store %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(rootBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &KV{db: db}, nil
}

func (k *KV) Close() error {
	return k.db.Close()
}

func (k *KV) Set(key string, value []byte) error {
	return k.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(rootBucket).Put([]byte(key), value)
	})
}

func (k *KV) Get(key string) ([]byte, bool, error) {
	var out []byte
	err := k.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(rootBucket).Get([]byte(key))
		if v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, out != nil, err
}

func (k *KV) Exists(key string) (bool, error) {
	_, ok, err := k.Get(key)
	return ok, err
}

func (k *KV) Delete(key string) error {
	return k.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(rootBucket).Delete([]byte(key))
	})
}

// GetPrefix returns all key/value pairs whose key starts with prefix, in
// key order, mirroring the GetPrefix RPC from spec.md §6.
func (k *KV) GetPrefix(prefix string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	err := k.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(rootBucket).Cursor()
		p := []byte(prefix)
		for key, v := c.Seek(p); key != nil && bytes.HasPrefix(key, p); key, v = c.Next() {
			out[string(key)] = append([]byte(nil), v...)
		}
		return nil
	})
	return out, err
}

// DeletePrefix removes every key under prefix; used when tearing down a
// shard or segment's index namespace.
func (k *KV) DeletePrefix(prefix string) error {
	return k.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(rootBucket)
		c := b.Cursor()
		p := []byte(prefix)
		var toDelete [][]byte
		for key, _ := c.Seek(p); key != nil && bytes.HasPrefix(key, p); key, _ = c.Next() {
			toDelete = append(toDelete, append([]byte(nil), key...))
		}
		for _, key := range toDelete {
			if err := b.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// Snapshot serialises the full namespace for Raft snapshotting (§4.2).
func (k *KV) Snapshot() (map[string][]byte, error) {
	return k.GetPrefix("")
}

// Restore replaces the entire namespace's contents, used when installing a
// Raft snapshot on a lagging follower.
func (k *KV) Restore(data map[string][]byte) error {
	return k.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(rootBucket); err != nil {
			return err
		}
		nb, err := tx.CreateBucket(rootBucket)
		if err != nil {
			return err
		}
		for key, v := range data {
			if err := nb.Put([]byte(key), v); err != nil {
				return err
			}
		}
		return nil
	})
}
