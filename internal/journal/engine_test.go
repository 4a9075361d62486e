package journal

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"

	"github.com/robustmq/robustmq/internal/journal/backend/local"
	"github.com/robustmq/robustmq/internal/journal/index"
)

// fakeMeta stands in for the meta service's JournalSegmentMeta cache: it
// tracks the offset span of every segment created through EnsureShard /
// the sealed-segment hook, so tests can exercise Read without a real Raft
// cluster.
type fakeMeta struct {
	mu       sync.Mutex
	spans    map[string][]span // shardKey -> spans in creation order
	nextSeq  map[string]uint64
	assigned map[string]bool
}

type span struct {
	seq   uint64
	start int64
}

func newFakeMeta() *fakeMeta {
	return &fakeMeta{spans: make(map[string][]span), nextSeq: make(map[string]uint64), assigned: make(map[string]bool)}
}

func (f *fakeMeta) EnsureShard(_ context.Context, namespace, shardName string) (uint64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := namespace + "/" + shardName
	if !f.assigned[key] {
		f.assigned[key] = true
		f.spans[key] = append(f.spans[key], span{seq: 0, start: 0})
		f.nextSeq[key] = 1
	}
	spans := f.spans[key]
	return spans[len(spans)-1].seq, spans[len(spans)-1].start, nil
}

func (f *fakeMeta) onSealed(_ context.Context, namespace, shardName string, sealedSeq uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := namespace + "/" + shardName
	seq := f.nextSeq[key]
	f.nextSeq[key] = seq + 1
	return seq, nil
}

func (f *fakeMeta) recordSpanStart(namespace, shardName string, seq uint64, start int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := namespace + "/" + shardName
	f.spans[key] = append(f.spans[key], span{seq: seq, start: start})
}

func (f *fakeMeta) SegmentForOffset(namespace, shardName string, offset int64) (uint64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := namespace + "/" + shardName
	spans := append([]span(nil), f.spans[key]...)
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	var best *span
	for i := range spans {
		if spans[i].start <= offset {
			best = &spans[i]
		}
	}
	if best == nil {
		return 0, false
	}
	return best.seq, true
}

func (f *fakeMeta) ActiveSegment(namespace, shardName string) (uint64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := namespace + "/" + shardName
	spans := f.spans[key]
	if len(spans) == 0 {
		return 0, false
	}
	return spans[len(spans)-1].seq, true
}

func newTestEngine(t *testing.T, segmentMaxBytes int64) (*Engine, *fakeMeta) {
	t.Helper()
	root := t.TempDir()
	idx, err := index.Open(filepath.Join(root, "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	be, err := local.New(filepath.Join(root, "backend"))
	require.NoError(t, err)

	meta := newFakeMeta()

	e := NewEngine(Config{
		LocalRoot:       filepath.Join(root, "active"),
		SegmentMaxBytes: segmentMaxBytes,
		Backend:         be,
		Index:           idx,
		Locator:         meta,
		Opener:          meta,
		OnSealed: func(ctx context.Context, namespace, shardName string, sealedSeq uint64) (uint64, error) {
			seq, err := meta.onSealed(ctx, namespace, shardName, sealedSeq)
			if err == nil {
				start := int64(0)
				if end, ok, _ := idx.GetOffsetEnd(shardName, sealedSeq); ok {
					start = end + 1
				}
				meta.recordSpanStart(namespace, shardName, seq, start)
			}
			return seq, err
		},
	}, log.NewNopLogger())
	return e, meta
}

func TestEngineWriteThenRead(t *testing.T) {
	e, _ := newTestEngine(t, 1<<20)
	ctx := context.Background()

	offsets, err := e.Write(ctx, "default", "shard-0", []Record{
		{Key: "device-1", Tags: []string{"alert"}, Payload: []byte("hello")},
		{Key: "device-2", Payload: []byte("world")},
	})
	require.NoError(t, err)
	require.Equal(t, []int64{0, 1}, offsets)

	recs, err := e.Read(ctx, "default", "shard-0", 0, 10, 1<<20)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, []byte("hello"), recs[0].Payload)
	require.Equal(t, []byte("world"), recs[1].Payload)
}

func TestEngineReadByTagAndKey(t *testing.T) {
	e, _ := newTestEngine(t, 1<<20)
	ctx := context.Background()

	_, err := e.Write(ctx, "default", "shard-0", []Record{
		{Key: "device-1", Tags: []string{"alert"}, Payload: []byte("a")},
		{Key: "device-2", Tags: []string{"info"}, Payload: []byte("b")},
		{Key: "device-1", Tags: []string{"alert"}, Payload: []byte("c")},
	})
	require.NoError(t, err)

	byTag, err := e.ReadByTag(ctx, "default", "shard-0", 0, "alert")
	require.NoError(t, err)
	require.Len(t, byTag, 2)

	byKey, err := e.ReadByKey(ctx, "default", "shard-0", 0, "device-2")
	require.NoError(t, err)
	require.Len(t, byKey, 1)
	require.Equal(t, []byte("b"), byKey[0].Payload)
}

func TestEngineRollsSegmentAndReadsFirstSegment(t *testing.T) {
	// Small enough that every record forces a roll to a new segment.
	e, meta := newTestEngine(t, 40)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := e.Write(ctx, "default", "shard-0", []Record{{Payload: []byte("0123456789")}})
		require.NoError(t, err)
	}

	active, ok := meta.ActiveSegment("default", "shard-0")
	require.True(t, ok)
	require.Greater(t, active, uint64(0))

	first, err := e.Read(ctx, "default", "shard-0", 0, 1, 1<<20)
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.Equal(t, int64(0), first[0].Offset)
}

func TestEngineGarbageCollect(t *testing.T) {
	e, _ := newTestEngine(t, 1<<20)
	ctx := context.Background()

	_, err := e.Write(ctx, "default", "shard-0", []Record{{Payload: []byte("x")}})
	require.NoError(t, err)
	require.NoError(t, e.CloseShard("default", "shard-0"))

	require.NoError(t, e.GarbageCollect(ctx, "default", "shard-0", 0))

	_, err = e.Read(ctx, "default", "shard-0", 0, 1, 1<<20)
	require.Error(t, err)
}

func TestEngineEvictsOldestFetchedSegmentOnceOverBudget(t *testing.T) {
	root := t.TempDir()
	idx, err := index.Open(filepath.Join(root, "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	be, err := local.New(filepath.Join(root, "backend"))
	require.NoError(t, err)

	meta := newFakeMeta()
	onSealed := func(ctx context.Context, namespace, shardName string, sealedSeq uint64) (uint64, error) {
		seq, err := meta.onSealed(ctx, namespace, shardName, sealedSeq)
		if err == nil {
			meta.recordSpanStart(namespace, shardName, seq, sealedSeq+1)
		}
		return seq, err
	}

	// First pass with eviction disabled: write two segments, push both
	// to the backend, and measure seg0's on-disk size so the bounded
	// pass below can be given a budget that fits exactly one segment.
	warmup := NewEngine(Config{
		LocalRoot:       filepath.Join(root, "active"),
		SegmentMaxBytes: 1, // roll after every record
		Backend:         be,
		Index:           idx,
		Locator:         meta,
		Opener:          meta,
		OnSealed:        onSealed,
	}, log.NewNopLogger())

	ctx := context.Background()
	_, err = warmup.Write(ctx, "default", "shard-0", []Record{{Payload: []byte("aaaaaaaaaa")}})
	require.NoError(t, err)
	_, err = warmup.Write(ctx, "default", "shard-0", []Record{{Payload: []byte("bbbbbbbbbb")}})
	require.NoError(t, err)
	require.NoError(t, warmup.CloseShard("default", "shard-0"))

	seg0 := filepath.Join(warmup.shardDir("default", "shard-0"), "00000000000000000000.seg")
	seg1 := filepath.Join(warmup.shardDir("default", "shard-0"), "00000000000000000001.seg")
	stat0, err := os.Stat(seg0)
	require.NoError(t, err)
	require.NoError(t, os.Remove(seg0))
	require.NoError(t, os.Remove(seg1))

	e := NewEngine(Config{
		LocalRoot:       filepath.Join(root, "active"),
		SegmentMaxBytes: 1,
		Backend:         be,
		Index:           idx,
		Locator:         meta,
		Opener:          meta,
		OnSealed:        onSealed,
		CacheMaxBytes:   stat0.Size(), // room for exactly one fetched segment
	}, log.NewNopLogger())

	// Fetch seg0 back, then seg1: the budget only fits one, so fetching
	// seg1 must evict seg0's local copy.
	_, err = e.ensureSegmentLocal(ctx, "default", "shard-0", 0)
	require.NoError(t, err)
	_, err = e.ensureSegmentLocal(ctx, "default", "shard-0", 1)
	require.NoError(t, err)

	_, statErr := os.Stat(seg0)
	require.True(t, os.IsNotExist(statErr), "seg0 should have been evicted")
	_, statErr = os.Stat(seg1)
	require.NoError(t, statErr, "seg1 should still be present")
}

func TestEngineRecoversSegmentFromBackendWhenLocalMissing(t *testing.T) {
	e, _ := newTestEngine(t, 1<<20)
	ctx := context.Background()

	_, err := e.Write(ctx, "default", "shard-0", []Record{{Payload: []byte("persisted")}})
	require.NoError(t, err)
	require.NoError(t, e.CloseShard("default", "shard-0"))

	path := filepath.Join(e.shardDir("default", "shard-0"), "00000000000000000000.seg")
	f, err := os.Open(path)
	require.NoError(t, err)
	stat, err := f.Stat()
	require.NoError(t, err)
	require.NoError(t, e.backend.WriteSegment(ctx, "default", "shard-0", 0, f, stat.Size()))
	require.NoError(t, f.Close())
	require.NoError(t, os.Remove(path))

	recs, err := e.Read(ctx, "default", "shard-0", 0, 1, 1<<20)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, []byte("persisted"), recs[0].Payload)
}
