package router

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"

	"github.com/robustmq/robustmq/internal/journal"
	"github.com/robustmq/robustmq/internal/journal/backend/local"
	"github.com/robustmq/robustmq/internal/journal/index"
	"github.com/robustmq/robustmq/internal/meta/model"
)

type fakeReplicas struct {
	replicas []model.SegmentReplica
}

func (f fakeReplicas) Replicas(_, _ string, _ uint64) ([]model.SegmentReplica, bool) {
	if len(f.replicas) == 0 {
		return nil, false
	}
	return f.replicas, true
}

type fakeRemote struct {
	writeFn func(nodeID uint64, records []journal.Record) ([]int64, error)
	readFn  func(nodeID uint64, offset int64) ([]journal.Record, error)
}

func (f fakeRemote) Write(_ context.Context, nodeID uint64, _, _ string, records []journal.Record) ([]int64, error) {
	return f.writeFn(nodeID, records)
}

func (f fakeRemote) Read(_ context.Context, nodeID uint64, _, _ string, offset int64, _ int, _ int64) ([]journal.Record, error) {
	return f.readFn(nodeID, offset)
}

func newTestLocalEngine(t *testing.T) *journal.Engine {
	t.Helper()
	root := t.TempDir()
	idx, err := index.Open(filepath.Join(root, "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	be, err := local.New(filepath.Join(root, "backend"))
	require.NoError(t, err)

	return journal.NewEngine(journal.Config{
		LocalRoot:       filepath.Join(root, "active"),
		SegmentMaxBytes: 1 << 20,
		Backend:         be,
		Index:           idx,
		Locator:         staticLocator{},
		Opener:          staticOpener{},
	}, log.NewNopLogger())
}

type staticLocator struct{}

func (staticLocator) SegmentForOffset(_, _ string, _ int64) (uint64, bool) { return 0, true }
func (staticLocator) ActiveSegment(_, _ string) (uint64, bool)             { return 0, true }

type staticOpener struct{}

func (staticOpener) EnsureShard(_ context.Context, _, _ string) (uint64, int64, error) {
	return 0, 0, nil
}

func TestWriteGoesLocalWhenSelfIsLeader(t *testing.T) {
	eng := newTestLocalEngine(t)
	remote := fakeRemote{writeFn: func(uint64, []journal.Record) ([]int64, error) {
		t.Fatal("should not forward when self is leader")
		return nil, nil
	}}
	members := fakeReplicas{replicas: []model.SegmentReplica{{NodeID: 1}, {NodeID: 2}}}
	r := New(LocalNode{NodeID: 1}, eng, remote, members)

	offsets, err := r.Write(context.Background(), "default", "shard-0", 0, []journal.Record{{Payload: []byte("x")}})
	require.NoError(t, err)
	require.Equal(t, []int64{0}, offsets)
}

func TestWriteForwardsToLeaderWhenSelfIsFollower(t *testing.T) {
	eng := newTestLocalEngine(t)
	forwarded := false
	remote := fakeRemote{writeFn: func(nodeID uint64, records []journal.Record) ([]int64, error) {
		forwarded = true
		require.Equal(t, uint64(1), nodeID)
		return []int64{0}, nil
	}}
	members := fakeReplicas{replicas: []model.SegmentReplica{{NodeID: 1}, {NodeID: 2}}}
	r := New(LocalNode{NodeID: 2}, eng, remote, members)

	_, err := r.Write(context.Background(), "default", "shard-0", 0, []journal.Record{{Payload: []byte("x")}})
	require.NoError(t, err)
	require.True(t, forwarded)
}

func TestReadMergesAcrossRemoteReplicasWhenNoLocalReplica(t *testing.T) {
	eng := newTestLocalEngine(t)
	remote := fakeRemote{readFn: func(nodeID uint64, offset int64) ([]journal.Record, error) {
		return []journal.Record{{Offset: offset, Payload: []byte("from-remote")}}, nil
	}}
	members := fakeReplicas{replicas: []model.SegmentReplica{{NodeID: 9}, {NodeID: 10}}}
	r := New(LocalNode{NodeID: 1}, eng, remote, members)

	recs, err := r.Read(context.Background(), "default", "shard-0", 0, 0, 10, 1<<20)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, []byte("from-remote"), recs[0].Payload)
}

func TestReadReturnsNotFoundWhenNoReplicaKnown(t *testing.T) {
	eng := newTestLocalEngine(t)
	remote := fakeRemote{}
	members := fakeReplicas{}
	r := New(LocalNode{NodeID: 1}, eng, remote, members)

	_, err := r.Read(context.Background(), "default", "shard-0", 0, 0, 10, 1<<20)
	require.Error(t, err)
}
