package controller

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"

	"github.com/robustmq/robustmq/internal/meta/model"
	"github.com/robustmq/robustmq/internal/meta/state"
)

type recordingProposer struct {
	proposed []state.StorageData
}

func (p *recordingProposer) Propose(_ context.Context, data []byte) error {
	var entry state.StorageData
	if err := json.Unmarshal(data, &entry); err != nil {
		return err
	}
	p.proposed = append(p.proposed, entry)
	return nil
}

type recordingNotifier struct {
	wills []string
}

func (n *recordingNotifier) SendLastWill(_ uint64, clientID string, _ model.LastWill) error {
	n.wills = append(n.wills, clientID)
	return nil
}

func (n *recordingNotifier) DeleteSession(string, string) error { return nil }

func TestSessionExpirySweepsOnlyPastDeadline(t *testing.T) {
	cache := state.NewCache()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	cache.PutSession("k1", &model.Session{ClusterName: "c", ClientID: "expired", SessionExpiry: 60, LastUpdateTime: now.Add(-2 * time.Minute)})
	cache.PutSession("k2", &model.Session{ClusterName: "c", ClientID: "fresh", SessionExpiry: 600, LastUpdateTime: now.Add(-10 * time.Second)})
	connID := uint64(1)
	cache.PutSession("k3", &model.Session{ClusterName: "c", ClientID: "connected", SessionExpiry: 1, ConnectionID: &connID, LastUpdateTime: now.Add(-time.Hour)})

	proposer := &recordingProposer{}
	se := NewSessionExpiry("c", cache, proposer, log.NewNopLogger())
	se.now = func() time.Time { return now }

	se.sweep(context.Background())

	require.Len(t, proposer.proposed, 1)
	require.Equal(t, state.MqttDeleteSession, proposer.proposed[0].Type)
}

func TestLastWillFireOnlyWhenDueAndDisconnected(t *testing.T) {
	cache := state.NewCache()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	due := &model.Session{ClusterName: "c", ClientID: "due", LastWill: &model.LastWill{Topic: "t", ReadyAt: now.Add(-time.Second)}}
	notDue := &model.Session{ClusterName: "c", ClientID: "not-due", LastWill: &model.LastWill{Topic: "t", ReadyAt: now.Add(time.Hour)}}
	cache.PutSession("k1", due)
	cache.PutSession("k2", notDue)

	proposer := &recordingProposer{}
	notifier := &recordingNotifier{}
	lw := NewLastWillFire("c", cache, proposer, notifier, log.NewNopLogger())
	lw.now = func() time.Time { return now }

	lw.sweep(context.Background())

	require.Equal(t, []string{"due"}, notifier.wills)
	require.Len(t, proposer.proposed, 1)
	require.Equal(t, state.MqttUpdateSession, proposer.proposed[0].Type)
}

func TestRetainExpiryPrefersMessageExpiryOverClusterDefault(t *testing.T) {
	cache := state.NewCache()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// Message-level expiry of 30s has passed even though the cluster
	// default (1h) has not: message-level wins.
	cache.PutTopic("t1", &model.Topic{ClusterName: "c", TopicName: "t1", Retain: &model.RetainMessage{
		Timestamp: now.Add(-time.Minute), ExpiryInterval: 30,
	}})
	cache.PutTopic("t2", &model.Topic{ClusterName: "c", TopicName: "t2", Retain: &model.RetainMessage{
		Timestamp: now.Add(-time.Minute),
	}})

	proposer := &recordingProposer{}
	re := NewRetainExpiry("c", cache, proposer, time.Hour, log.NewNopLogger())
	re.now = func() time.Time { return now }

	re.sweep(context.Background())

	require.Len(t, proposer.proposed, 1)
}

func TestElectSharedSubLeaderIsDeterministic(t *testing.T) {
	members := []uint64{3, 1, 2}
	first, ok := ElectSharedSubLeader("group", "topic/a", members)
	require.True(t, ok)
	second, _ := ElectSharedSubLeader("group", "topic/a", []uint64{1, 2, 3})
	require.Equal(t, first, second)

	other, _ := ElectSharedSubLeader("group", "topic/b", members)
	_ = other // not asserted equal; different topic may or may not collide, just exercising the path
}
