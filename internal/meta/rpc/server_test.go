package rpc

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robustmq/robustmq/internal/meta/model"
	"github.com/robustmq/robustmq/internal/meta/state"
	"github.com/robustmq/robustmq/internal/meta/store"
)

// fakeProposer applies proposed entries straight to the machine, as if
// a single-node raft group had just committed them, so tests can assert
// on the read side (Cache/KV) without standing up raftnode.
type fakeProposer struct {
	machine *state.Machine
	index   uint64
	leader  bool
}

func (p *fakeProposer) Propose(_ context.Context, data []byte) error {
	p.index++
	return p.machine.Apply(p.index, data)
}

func (p *fakeProposer) IsLeader() bool { return p.leader }

func newTestServer(t *testing.T) (*Server, *fakeProposer) {
	t.Helper()
	kv, err := store.Open(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	cache := state.NewCache()
	machine := state.NewMachine(kv, cache, nil)
	proposer := &fakeProposer{machine: machine, leader: true}
	return NewServer(1, machine, proposer), proposer
}

func TestCreateAndListUser(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, model.User{ClusterName: "c1", Username: "alice"}))
	require.NoError(t, s.CreateUser(ctx, model.User{ClusterName: "c1", Username: "bob"}))
	require.NoError(t, s.CreateUser(ctx, model.User{ClusterName: "other", Username: "carol"}))

	users, err := s.ListUser(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, users, 2)

	require.NoError(t, s.DeleteUser(ctx, "c1", "alice"))
	users, err = s.ListUser(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.Equal(t, "bob", users[0].Username)
}

func TestRegisterNodeThenNodeListAndClusterStatus(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, s.RegisterNode(ctx, model.BrokerNode{ClusterName: "c1", ClusterType: model.ClusterTypeMQTT, NodeID: 1}))
	require.NoError(t, s.RegisterNode(ctx, model.BrokerNode{ClusterName: "c1", ClusterType: model.ClusterTypeMQTT, NodeID: 2}))

	nodes, err := s.NodeList(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	status, err := s.ClusterStatus(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, uint64(1), status.Leader)
	require.Len(t, status.Members, 2)
}

func TestCreateNextSegmentRollsOverActiveSegment(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, s.CreateShard(ctx, model.JournalShard{ClusterName: "c1", Namespace: "ns", ShardName: "sh0"}))

	seg, err := s.CreateNextSegment(ctx, "c1", "ns", "sh0")
	require.NoError(t, err)
	require.Equal(t, uint64(1), seg.SegmentSeq)

	active, ok, err := s.GetActiveSegment(ctx, "c1", "ns", "sh0")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), active.SegmentSeq)

	seg2, err := s.CreateNextSegment(ctx, "c1", "ns", "sh0")
	require.NoError(t, err)
	require.Equal(t, uint64(2), seg2.SegmentSeq)
}

func TestGetShareSubLeaderDeterministic(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, s.RegisterNode(ctx, model.BrokerNode{ClusterName: "c1", ClusterType: model.ClusterTypeMQTT, NodeID: 1}))
	require.NoError(t, s.RegisterNode(ctx, model.BrokerNode{ClusterName: "c1", ClusterType: model.ClusterTypeMQTT, NodeID: 2}))
	require.NoError(t, s.RegisterNode(ctx, model.BrokerNode{ClusterName: "c1", ClusterType: model.ClusterTypeMQTT, NodeID: 3}))

	leaderA, err := s.GetShareSubLeader(ctx, "c1", "group-a")
	require.NoError(t, err)
	leaderAAgain, err := s.GetShareSubLeader(ctx, "c1", "group-a")
	require.NoError(t, err)
	require.Equal(t, leaderA, leaderAAgain)
	require.Contains(t, []uint64{1, 2, 3}, leaderA)
}

func TestResourceConfigRoundTrip(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	_, ok, err := s.GetResourceConfig(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.SetResourceConfig(ctx, "k", []byte("v")))
	v, ok, err := s.GetResourceConfig(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), v)

	require.NoError(t, s.DeleteResourceConfig(ctx, "k"))
	_, ok, err = s.GetResourceConfig(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestIdempotentDataRoundTrip(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	ok, err := s.ExistsIdempotentData(ctx, "req-1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.SetIdempotentData(ctx, "req-1"))
	ok, err = s.ExistsIdempotentData(ctx, "req-1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.DeleteIdempotentData(ctx, "req-1"))
	ok, err = s.ExistsIdempotentData(ctx, "req-1")
	require.NoError(t, err)
	require.False(t, ok)
}
