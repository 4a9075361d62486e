package cache

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robustmq/robustmq/internal/meta/model"
	"github.com/robustmq/robustmq/internal/meta/state"
)

type fakeReadThrough struct {
	topics map[string]*model.Topic
}

func (f fakeReadThrough) GetTopic(cluster, name string) (*model.Topic, bool, error) {
	t, ok := f.topics[cluster+"/"+name]
	return t, ok, nil
}
func (f fakeReadThrough) GetUser(string, string) (*model.User, bool, error) { return nil, false, nil }
func (f fakeReadThrough) GetSession(string, string) (*model.Session, bool, error) {
	return nil, false, nil
}

func TestTopicReadsThroughOnMiss(t *testing.T) {
	rt := fakeReadThrough{topics: map[string]*model.Topic{
		"default/a/b": {ClusterName: "default", TopicName: "a/b"},
	}}
	c := New(rt)

	topic, err := c.Topic("default", "a/b")
	require.NoError(t, err)
	require.NotNil(t, topic)

	// second read should now be served from the local map, not read-through
	rt.topics["default/a/b"] = nil
	topic2, err := c.Topic("default", "a/b")
	require.NoError(t, err)
	require.Equal(t, topic, topic2)
}

func TestReconcileTopicSetAndDelete(t *testing.T) {
	c := New(fakeReadThrough{topics: map[string]*model.Topic{}})
	payload, err := json.Marshal(model.Topic{ClusterName: "default", TopicName: "x"})
	require.NoError(t, err)

	require.NoError(t, c.Reconcile("default", state.CacheUpdate{
		ClusterName: "default", ResourceType: "topic", Action: state.CacheActionSet, Payload: payload,
	}))
	c.mu.RLock()
	_, ok := c.topics["default/x"]
	c.mu.RUnlock()
	require.True(t, ok)

	require.NoError(t, c.Reconcile("default", state.CacheUpdate{
		ClusterName: "default", ResourceType: "topic", Action: state.CacheActionDelete, Payload: payload,
	}))
	c.mu.RLock()
	_, ok = c.topics["default/x"]
	c.mu.RUnlock()
	require.False(t, ok)
}

func TestReconcileTopicDropsStaleRaftIndex(t *testing.T) {
	c := New(fakeReadThrough{topics: map[string]*model.Topic{}})
	fresh, err := json.Marshal(model.Topic{ClusterName: "default", TopicName: "x", Retain: &model.RetainMessage{Payload: []byte("v2")}})
	require.NoError(t, err)
	stale, err := json.Marshal(model.Topic{ClusterName: "default", TopicName: "x", Retain: &model.RetainMessage{Payload: []byte("v1")}})
	require.NoError(t, err)

	require.NoError(t, c.Reconcile("default", state.CacheUpdate{
		ClusterName: "default", ResourceType: "topic", Action: state.CacheActionSet, Payload: fresh, RaftIndex: 5,
	}))
	// An update carrying a lower (or equal) RaftIndex than one already
	// applied for this resource must be dropped, not stomp the newer value.
	require.NoError(t, c.Reconcile("default", state.CacheUpdate{
		ClusterName: "default", ResourceType: "topic", Action: state.CacheActionSet, Payload: stale, RaftIndex: 3,
	}))

	got, err := c.Topic("default", "x")
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), got.Retain.Payload)
}

func TestReconcileAclAppendsThenFilters(t *testing.T) {
	c := New(fakeReadThrough{})
	rule := model.Acl{ResourceType: model.ResourceUser, ResourceName: "alice", Topic: "a", Action: model.ActionPublish, Permission: model.PermissionAllow}
	payload, err := json.Marshal(aclEntry{ClusterName: "default", Acl: rule})
	require.NoError(t, err)

	require.NoError(t, c.Reconcile("default", state.CacheUpdate{ResourceType: "acl", Action: state.CacheActionSet, Payload: payload}))
	require.Len(t, c.Acls("default", "alice"), 1)

	require.NoError(t, c.Reconcile("default", state.CacheUpdate{ResourceType: "acl", Action: state.CacheActionDelete, Payload: payload}))
	require.Len(t, c.Acls("default", "alice"), 0)
}
