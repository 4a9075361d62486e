package state

import (
	"sync"

	"github.com/robustmq/robustmq/internal/meta/model"
	"github.com/robustmq/robustmq/internal/meta/store"
)

// Cache is the meta service's in-memory read model. §5 calls for
// "reads from the state cache are lock-free concurrent", so every map is a
// sync.Map rather than the RWMutex-guarded plain maps the MQTT broker
// side uses for its own local caches (internal/mqttbroker/cache) — the
// meta-service cache is read far more often than it's written (only on
// Raft apply), which is exactly sync.Map's designed-for access pattern.
type Cache struct {
	clusters  sync.Map // clusterName -> *model.Cluster
	nodes     sync.Map // "cluster/type/nodeID" -> *model.BrokerNode
	users     sync.Map // "cluster/username" -> *model.User
	acls      sync.Map // "cluster/resourceType/resourceName" -> []*model.Acl
	blacklist sync.Map // "cluster/type/name" -> *model.Blacklist
	sessions  sync.Map // "cluster/clientID" -> *model.Session
	topics    sync.Map // "cluster/topicName" -> *model.Topic
	subs      sync.Map // "cluster/clientID/subPath" -> *model.Subscription
	connectors sync.Map // "cluster/name" -> *model.Connector
	autoSubs  sync.Map // "cluster/topic" -> *model.AutoSubscribeRule
	rewrites  sync.Map // "cluster/sourcePattern" -> *model.TopicRewriteRule
	shards    sync.Map // "cluster/namespace/shard" -> *model.JournalShard
	segments  sync.Map // "cluster/namespace/shard/seq" -> *model.JournalSegment
	segmentMetas sync.Map // "shard/seq" -> *model.JournalSegmentMeta
	offsets   sync.Map // "cluster/group/namespace/shard" -> *model.OffsetCommit
}

func NewCache() *Cache { return &Cache{} }

func (c *Cache) PutNode(n *model.BrokerNode, key string)      { c.nodes.Store(key, n) }
func (c *Cache) DeleteNode(key string)                         { c.nodes.Delete(key) }
func (c *Cache) GetNode(key string) (*model.BrokerNode, bool) {
	v, ok := c.nodes.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*model.BrokerNode), true
}
func (c *Cache) ListNodes(prefix func(key string) bool) []*model.BrokerNode {
	var out []*model.BrokerNode
	c.nodes.Range(func(k, v any) bool {
		if prefix(k.(string)) {
			out = append(out, v.(*model.BrokerNode))
		}
		return true
	})
	return out
}

func (c *Cache) PutUser(key string, u *model.User)   { c.users.Store(key, u) }
func (c *Cache) DeleteUser(key string)                { c.users.Delete(key) }
func (c *Cache) GetUser(key string) (*model.User, bool) {
	v, ok := c.users.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*model.User), true
}
func (c *Cache) RangeUsers(cluster string, fn func(*model.User) bool) {
	c.users.Range(func(_, v any) bool {
		u := v.(*model.User)
		if u.ClusterName == cluster {
			return fn(u)
		}
		return true
	})
}

func (c *Cache) PutBlacklist(key string, b *model.Blacklist) { c.blacklist.Store(key, b) }
func (c *Cache) DeleteBlacklist(key string)                   { c.blacklist.Delete(key) }
func (c *Cache) RangeBlacklist(cluster string, fn func(*model.Blacklist) bool) {
	c.blacklist.Range(func(_, v any) bool {
		b := v.(*model.Blacklist)
		if b.ClusterName == cluster {
			return fn(b)
		}
		return true
	})
}

func (c *Cache) PutAcl(key string, a []*model.Acl) { c.acls.Store(key, a) }
func (c *Cache) DeleteAcl(key string)                { c.acls.Delete(key) }
func (c *Cache) GetAcl(key string) ([]*model.Acl, bool) {
	v, ok := c.acls.Load(key)
	if !ok {
		return nil, false
	}
	return v.([]*model.Acl), true
}

// RangeAcls flattens every per-resource rule slice stored under cluster
// into individual *model.Acl entries, for ListAcl (§6).
func (c *Cache) RangeAcls(cluster string, fn func(*model.Acl) bool) {
	prefix := store.AclPrefix(cluster)
	c.acls.Range(func(k, v any) bool {
		key := k.(string)
		if len(key) < len(prefix) || key[:len(prefix)] != prefix {
			return true
		}
		for _, a := range v.([]*model.Acl) {
			if !fn(a) {
				return false
			}
		}
		return true
	})
}

func (c *Cache) PutSession(key string, s *model.Session) { c.sessions.Store(key, s) }
func (c *Cache) DeleteSession(key string)                 { c.sessions.Delete(key) }
func (c *Cache) GetSession(key string) (*model.Session, bool) {
	v, ok := c.sessions.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*model.Session), true
}
func (c *Cache) RangeSessions(cluster string, fn func(*model.Session) bool) {
	c.sessions.Range(func(_, v any) bool {
		s := v.(*model.Session)
		if s.ClusterName == cluster {
			return fn(s)
		}
		return true
	})
}

func (c *Cache) PutTopic(key string, t *model.Topic) { c.topics.Store(key, t) }
func (c *Cache) DeleteTopic(key string)                { c.topics.Delete(key) }
func (c *Cache) GetTopic(key string) (*model.Topic, bool) {
	v, ok := c.topics.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*model.Topic), true
}
func (c *Cache) RangeTopics(cluster string, fn func(*model.Topic) bool) {
	c.topics.Range(func(_, v any) bool {
		t := v.(*model.Topic)
		if t.ClusterName == cluster {
			return fn(t)
		}
		return true
	})
}

func (c *Cache) PutSubscribe(key string, s *model.Subscription) { c.subs.Store(key, s) }
func (c *Cache) DeleteSubscribe(key string)                       { c.subs.Delete(key) }
func (c *Cache) RangeSubscribes(cluster string, fn func(*model.Subscription) bool) {
	c.subs.Range(func(_, v any) bool {
		s := v.(*model.Subscription)
		if s.ClusterName == cluster {
			return fn(s)
		}
		return true
	})
}

func (c *Cache) PutConnector(key string, conn *model.Connector) { c.connectors.Store(key, conn) }
func (c *Cache) DeleteConnector(key string)                       { c.connectors.Delete(key) }
func (c *Cache) GetConnector(key string) (*model.Connector, bool) {
	v, ok := c.connectors.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*model.Connector), true
}
func (c *Cache) RangeConnectors(cluster string, fn func(string, *model.Connector) bool) {
	c.connectors.Range(func(k, v any) bool {
		conn := v.(*model.Connector)
		if conn.ClusterName == cluster {
			return fn(k.(string), conn)
		}
		return true
	})
}

func (c *Cache) PutAutoSubscribeRule(key string, r *model.AutoSubscribeRule) { c.autoSubs.Store(key, r) }
func (c *Cache) DeleteAutoSubscribeRule(key string)                           { c.autoSubs.Delete(key) }
func (c *Cache) RangeAutoSubscribeRules(cluster string, fn func(*model.AutoSubscribeRule) bool) {
	c.autoSubs.Range(func(_, v any) bool {
		r := v.(*model.AutoSubscribeRule)
		if r.ClusterName == cluster {
			return fn(r)
		}
		return true
	})
}

func (c *Cache) PutRewriteRule(key string, r *model.TopicRewriteRule) { c.rewrites.Store(key, r) }
func (c *Cache) DeleteRewriteRule(key string)                          { c.rewrites.Delete(key) }
func (c *Cache) RangeRewriteRules(cluster string, fn func(*model.TopicRewriteRule) bool) {
	c.rewrites.Range(func(_, v any) bool {
		r := v.(*model.TopicRewriteRule)
		if r.ClusterName == cluster {
			return fn(r)
		}
		return true
	})
}

func (c *Cache) PutShard(key string, s *model.JournalShard) { c.shards.Store(key, s) }
func (c *Cache) DeleteShard(key string)                       { c.shards.Delete(key) }
func (c *Cache) GetShard(key string) (*model.JournalShard, bool) {
	v, ok := c.shards.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*model.JournalShard), true
}
func (c *Cache) RangeShards(clusterName, namespace string, fn func(*model.JournalShard) bool) {
	prefix := store.ShardPrefix(clusterName, namespace)
	c.shards.Range(func(k, v any) bool {
		key := k.(string)
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			return fn(v.(*model.JournalShard))
		}
		return true
	})
}

func (c *Cache) PutSegment(key string, s *model.JournalSegment) { c.segments.Store(key, s) }
func (c *Cache) DeleteSegment(key string)                         { c.segments.Delete(key) }
func (c *Cache) GetSegment(key string) (*model.JournalSegment, bool) {
	v, ok := c.segments.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*model.JournalSegment), true
}
func (c *Cache) RangeSegments(shardKeyPrefix string, fn func(string, *model.JournalSegment) bool) {
	c.segments.Range(func(k, v any) bool {
		key := k.(string)
		if len(key) >= len(shardKeyPrefix) && key[:len(shardKeyPrefix)] == shardKeyPrefix {
			return fn(key, v.(*model.JournalSegment))
		}
		return true
	})
}

func (c *Cache) PutSegmentMeta(key string, m *model.JournalSegmentMeta) { c.segmentMetas.Store(key, m) }
func (c *Cache) DeleteSegmentMeta(key string)                            { c.segmentMetas.Delete(key) }
func (c *Cache) GetSegmentMeta(key string) (*model.JournalSegmentMeta, bool) {
	v, ok := c.segmentMetas.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*model.JournalSegmentMeta), true
}
func (c *Cache) RangeSegmentMetas(shardName string, fn func(*model.JournalSegmentMeta) bool) {
	c.segmentMetas.Range(func(_, v any) bool {
		m := v.(*model.JournalSegmentMeta)
		if m.ShardName == shardName {
			return fn(m)
		}
		return true
	})
}

func (c *Cache) PutOffset(key string, o *model.OffsetCommit) { c.offsets.Store(key, o) }
func (c *Cache) GetOffset(key string) (*model.OffsetCommit, bool) {
	v, ok := c.offsets.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*model.OffsetCommit), true
}
