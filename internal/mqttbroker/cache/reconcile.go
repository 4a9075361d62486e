package cache

import (
	"encoding/json"

	"github.com/robustmq/robustmq/internal/meta/model"
	"github.com/robustmq/robustmq/internal/meta/state"
)

// aclEntry mirrors internal/meta/state's own wire shape for
// MqttSetAcl/MqttDeleteAcl payloads: one rule plus the cluster it
// belongs to, merged into (or filtered out of) the per-resource rule
// list the same way the meta service's own Machine does.
type aclEntry struct {
	ClusterName string    `json:"cluster_name"`
	Acl         model.Acl `json:"acl"`
}

// Reconcile applies one CacheUpdate pushed over the inner-RPC
// back-channel (spec.md §4.2). An update tagged with a RaftIndex is
// applied at most once per resource, so re-delivery is a no-op. An
// untagged (RaftIndex 0) update is always applied: a topic, user,
// session or blacklist entry is overwritten with itself, while an acl
// Set appends its rule again.
func (c *Cache) Reconcile(cluster string, update state.CacheUpdate) error {
	switch update.ResourceType {
	case "topic":
		return c.reconcileTopic(cluster, update)
	case "user":
		return c.reconcileUser(cluster, update)
	case "session":
		return c.reconcileSession(cluster, update)
	case "acl":
		return c.reconcileAcl(cluster, update)
	case "blacklist":
		return c.reconcileBlacklist(cluster, update)
	default:
		return nil
	}
}

func (c *Cache) reconcileTopic(cluster string, update state.CacheUpdate) error {
	var t model.Topic
	if err := json.Unmarshal(update.Payload, &t); err != nil {
		return err
	}
	if !c.admit("topic", topicKey(cluster, t.TopicName), update.RaftIndex) {
		return nil
	}
	if update.Action == state.CacheActionDelete {
		c.DeleteTopic(cluster, t.TopicName)
		return nil
	}
	c.PutTopic(cluster, t.TopicName, &t)
	return nil
}

func (c *Cache) reconcileUser(cluster string, update state.CacheUpdate) error {
	var u model.User
	if err := json.Unmarshal(update.Payload, &u); err != nil {
		return err
	}
	if !c.admit("user", userKey(cluster, u.Username), update.RaftIndex) {
		return nil
	}
	if update.Action == state.CacheActionDelete {
		c.DeleteUser(cluster, u.Username)
		return nil
	}
	c.PutUser(cluster, u.Username, &u)
	return nil
}

func (c *Cache) reconcileSession(cluster string, update state.CacheUpdate) error {
	var s model.Session
	if err := json.Unmarshal(update.Payload, &s); err != nil {
		return err
	}
	if !c.admit("session", sessKey(cluster, s.ClientID), update.RaftIndex) {
		return nil
	}
	if update.Action == state.CacheActionDelete {
		c.DeleteSession(cluster, s.ClientID)
		return nil
	}
	c.PutSession(cluster, s.ClientID, &s)
	return nil
}

func (c *Cache) reconcileAcl(cluster string, update state.CacheUpdate) error {
	var e aclEntry
	if err := json.Unmarshal(update.Payload, &e); err != nil {
		return err
	}
	if !c.admit("acl", cluster+"/"+e.Acl.ResourceName, update.RaftIndex) {
		return nil
	}
	existing := c.Acls(cluster, e.Acl.ResourceName)
	if update.Action == state.CacheActionDelete {
		filtered := existing[:0:0]
		for _, a := range existing {
			if a.Topic != e.Acl.Topic || a.Action != e.Acl.Action || a.Permission != e.Acl.Permission {
				filtered = append(filtered, a)
			}
		}
		c.PutAcls(cluster, e.Acl.ResourceName, filtered)
		return nil
	}
	c.PutAcls(cluster, e.Acl.ResourceName, append(existing, &e.Acl))
	return nil
}

func (c *Cache) reconcileBlacklist(cluster string, update state.CacheUpdate) error {
	var b model.Blacklist
	if err := json.Unmarshal(update.Payload, &b); err != nil {
		return err
	}
	key := string(b.BlacklistType) + "/" + b.ResourceName
	if !c.admit("blacklist", cluster+"/"+key, update.RaftIndex) {
		return nil
	}
	if update.Action == state.CacheActionDelete {
		c.DeleteBlacklist(cluster, key)
		return nil
	}
	c.PutBlacklist(cluster, key, &b)
	return nil
}
