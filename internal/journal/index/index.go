// Package index maintains the journal engine's per-segment secondary
// indexes (spec.md §4.3 "Segment files" key scheme) in an embedded bbolt
// store, reusing internal/meta/store.KV's narrow Get/Set/GetPrefix/Delete
// surface and internal/meta/store's key-builder functions — the journal
// engine's index store is a separate bbolt file from the meta service's
// (spec.md: "Indexes are kept in a separate embedded KV"), but the same
// simple wrapper shape fits both, so this package builds its own KV
// around the same store.KV type rather than re-deriving a bbolt wrapper
// from scratch.
package index

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/dgraph-io/ristretto/z"

	"github.com/robustmq/robustmq/internal/errs"
	"github.com/robustmq/robustmq/internal/meta/store"
)

type Store struct {
	kv *store.KV

	mu        sync.Mutex
	tagBlooms map[string]*z.Bloom
	keyBlooms map[string]*z.Bloom
	complete  map[string]bool
}

func Open(path string) (*Store, error) {
	kv, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	return &Store{
		kv:        kv,
		tagBlooms: make(map[string]*z.Bloom),
		keyBlooms: make(map[string]*z.Bloom),
		complete:  make(map[string]bool),
	}, nil
}

func (s *Store) Close() error { return s.kv.Close() }

func bloomMapKey(shard string, seg uint64) string { return fmt.Sprintf("%s/%d", shard, seg) }

// EnableBloom marks a segment's tag/key bloom filters as trustworthy,
// letting ListTagOffsets/ListKeyOffsets skip the bbolt prefix scan on a
// definite miss instead of always touching the kv store. Callers must
// only call this for a segment whose indexing this process will observe
// in full from here on (a freshly created segment, or one recovered via
// a full rescan from byte zero) — a bloom filter seeded from a partial
// replay would report false negatives for entries it never saw. Grounded
// on friggdb.go's use of ristretto/z.Bloom in front of its block index.
func (s *Store) EnableBloom(shard string, seg uint64) {
	k := bloomMapKey(shard, seg)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.complete[k] = true
	s.tagBlooms[k] = z.NewBloomFilter(10000, 0.01)
	s.keyBlooms[k] = z.NewBloomFilter(10000, 0.01)
}

func encodeU64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func decodeU64(b []byte) uint64 { return binary.BigEndian.Uint64(b) }

func encodeI64(v int64) []byte { return encodeU64(uint64(v)) }

func decodeI64(b []byte) int64 { return int64(decodeU64(b)) }

// PutOffsetStart/PutOffsetEnd record a segment's offset span. EndOffset
// of -1 marks the segment still active (spec.md §3 JournalSegmentMeta).
func (s *Store) PutOffsetStart(shard string, seg uint64, offset int64) error {
	return s.kv.Set(store.IndexOffsetStartKey(shard, seg), encodeI64(offset))
}

func (s *Store) PutOffsetEnd(shard string, seg uint64, offset int64) error {
	return s.kv.Set(store.IndexOffsetEndKey(shard, seg), encodeI64(offset))
}

func (s *Store) GetOffsetEnd(shard string, seg uint64) (int64, bool, error) {
	raw, ok, err := s.kv.Get(store.IndexOffsetEndKey(shard, seg))
	if err != nil || !ok {
		return 0, ok, err
	}
	return decodeI64(raw), true, nil
}

// PutPosition records the file byte offset a record was written at, so
// reads can look the position up directly by offset instead of scanning
// the segment file from the start (spec.md §4.3 read path step 3).
func (s *Store) PutPosition(shard string, seg uint64, offset int64, filePosition int64) error {
	return s.kv.Set(store.IndexOffsetPositionKey(shard, seg, offset), encodeI64(filePosition))
}

func (s *Store) GetPosition(shard string, seg uint64, offset int64) (int64, bool, error) {
	raw, ok, err := s.kv.Get(store.IndexOffsetPositionKey(shard, seg, offset))
	if err != nil || !ok {
		return 0, ok, err
	}
	return decodeI64(raw), true, nil
}

func (s *Store) PutTimestamp(shard string, seg uint64, ts int64, offset int64) error {
	return s.kv.Set(store.IndexTimestampKey(shard, seg, ts), encodeI64(offset))
}

// NearestTimestampOffset returns the offset of the first index entry at
// or after ts within the segment.
func (s *Store) NearestTimestampOffset(shard string, seg uint64, ts int64) (int64, bool, error) {
	entries, err := s.kv.GetPrefix(store.IndexTimestampPrefix(shard, seg))
	if err != nil {
		return 0, false, err
	}
	var best int64 = -1
	var bestOffset int64
	for key, raw := range entries {
		keyTS := timestampFromKey(key)
		if keyTS >= ts && (best == -1 || keyTS < best) {
			best = keyTS
			bestOffset = decodeI64(raw)
		}
	}
	if best == -1 {
		return 0, false, nil
	}
	return bestOffset, true, nil
}

func timestampFromKey(key string) int64 {
	// key suffix is "time-<020d>"
	if len(key) < 20 {
		return 0
	}
	suffix := key[len(key)-20:]
	var ts int64
	for _, c := range suffix {
		if c < '0' || c > '9' {
			return 0
		}
		ts = ts*10 + int64(c-'0')
	}
	return ts
}

func (s *Store) PutTag(shard string, seg uint64, tag string, offset int64) error {
	s.addToBloom(s.tagBlooms, shard, seg, tag)
	return s.kv.Set(store.IndexTagKey(shard, seg, tag, offset), nil)
}

func (s *Store) ListTagOffsets(shard string, seg uint64, tag string) ([]int64, error) {
	if s.bloomMiss(s.tagBlooms, shard, seg, tag) {
		return nil, nil
	}
	entries, err := s.kv.GetPrefix(store.IndexTagPrefix(shard, seg, tag))
	if err != nil {
		return nil, err
	}
	return offsetsFromSuffixes(entries), nil
}

func (s *Store) PutKey(shard string, seg uint64, key string, offset int64) error {
	s.addToBloom(s.keyBlooms, shard, seg, key)
	return s.kv.Set(store.IndexKeyKey(shard, seg, key, offset), nil)
}

func (s *Store) ListKeyOffsets(shard string, seg uint64, key string) ([]int64, error) {
	if s.bloomMiss(s.keyBlooms, shard, seg, key) {
		return nil, nil
	}
	entries, err := s.kv.GetPrefix(store.IndexKeyPrefix(shard, seg, key))
	if err != nil {
		return nil, err
	}
	return offsetsFromSuffixes(entries), nil
}

func (s *Store) addToBloom(blooms map[string]*z.Bloom, shard string, seg uint64, entry string) {
	k := bloomMapKey(shard, seg)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.complete[k] {
		return
	}
	blooms[k].Add([]byte(entry))
}

// bloomMiss reports whether entry is definitely absent from a segment
// whose bloom filter this process has populated in full. For any segment
// not marked complete (see EnableBloom) it always reports false, falling
// through to the real bbolt scan rather than risking a false negative.
func (s *Store) bloomMiss(blooms map[string]*z.Bloom, shard string, seg uint64, entry string) bool {
	k := bloomMapKey(shard, seg)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.complete[k] {
		return false
	}
	return !blooms[k].Has([]byte(entry))
}

func offsetsFromSuffixes(entries map[string][]byte) []int64 {
	var out []int64
	for key := range entries {
		suffix := key[len(key)-20:]
		var v int64
		valid := true
		for _, c := range suffix {
			if c < '0' || c > '9' {
				valid = false
				break
			}
			v = v*10 + int64(c-'0')
		}
		if valid {
			out = append(out, v)
		}
	}
	return out
}

func (s *Store) PutBuildLastOffset(shard string, seg uint64, offset int64) error {
	return s.kv.Set(store.IndexBuildLastOffsetKey(shard, seg), encodeI64(offset))
}

func (s *Store) GetBuildLastOffset(shard string, seg uint64) (int64, bool, error) {
	raw, ok, err := s.kv.Get(store.IndexBuildLastOffsetKey(shard, seg))
	if err != nil || !ok {
		return 0, ok, err
	}
	return decodeI64(raw), true, nil
}

// DeleteSegmentIndexes removes every index entry for a segment (garbage
// collection, spec.md §4.3).
func (s *Store) DeleteSegmentIndexes(shard string, seg uint64) error {
	k := bloomMapKey(shard, seg)
	s.mu.Lock()
	delete(s.tagBlooms, k)
	delete(s.keyBlooms, k)
	delete(s.complete, k)
	s.mu.Unlock()

	if err := s.kv.DeletePrefix(store.IndexPrefix(shard, seg)); err != nil {
		return errs.Wrap(errs.Internal, err)
	}
	return nil
}
