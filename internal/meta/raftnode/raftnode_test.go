package raftnode

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/raft/v3"
	"go.etcd.io/etcd/raft/v3/raftpb"

	"github.com/robustmq/robustmq/internal/meta/state"
	"github.com/robustmq/robustmq/internal/meta/store"
)

type noopTransport struct{}

func (noopTransport) Send([]raftpb.Message) {}

func TestSingleNodeBecomesLeaderAndApplies(t *testing.T) {
	kv, err := store.Open(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	machine := state.NewMachine(kv, state.NewCache(), nil)

	node := New(Config{
		NodeID:       1,
		Peers:        []raft.Peer{{ID: 1}},
		TickInterval: 5 * time.Millisecond,
	}, kv, machine, noopTransport{}, log.NewNopLogger())

	go node.Run()
	t.Cleanup(node.Stop)

	leadership := node.WatchLeadership()
	select {
	case ls := <-leadership:
		require.Equal(t, IsLeader, ls)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for single-node leadership")
	}
	require.True(t, node.IsLeader())

	entry := buildProbeEntry(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, node.Propose(ctx, entry))

	// Propose only returns once handleReady has run Machine.Apply for
	// this exact entry, so the applied index is already visible here
	// with no polling needed.
	require.Greater(t, machine.LastAppliedIndex(), uint64(0))
}

func buildProbeEntry(t *testing.T) []byte {
	t.Helper()
	entry := state.StorageData{Type: state.KvSet, Payload: []byte(`{"key":"/probe","value":"MQ=="}`)}
	raw, err := json.Marshal(entry)
	require.NoError(t, err)
	return raw
}
