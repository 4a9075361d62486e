package state

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/robustmq/robustmq/internal/errs"
	"github.com/robustmq/robustmq/internal/meta/model"
	"github.com/robustmq/robustmq/internal/meta/store"
)

// CacheUpdateAction mirrors the action field of UpdateMqttCache (§6).
type CacheUpdateAction string

const (
	CacheActionSet    CacheUpdateAction = "Set"
	CacheActionDelete CacheUpdateAction = "Delete"
)

// CacheUpdate is the inner-RPC payload pushed from the meta-service leader
// to every broker in the affected cluster after a mutation (§4.2
// "Cache-update back-channel"). RaftIndex lets a receiving broker discard
// out-of-order pushes (§5 "Ordering guarantees").
type CacheUpdate struct {
	ClusterName  string
	ResourceType string
	Action       CacheUpdateAction
	Payload      []byte
	RaftIndex    uint64
}

// Sink receives cache-update pushes destined for every broker in a
// cluster. In production this is backed by the inner-RPC client pool; the
// spec puts gRPC transport out of scope (§1), so Machine depends only on
// this narrow interface (SPEC_FULL.md §C) and a concrete broker-calling
// implementation is injected by the caller.
type Sink interface {
	Broadcast(clusterName string, update CacheUpdate)
}

// Machine is the Raft-applied state machine (§4.2). Apply runs entries
// one at a time from a single goroutine, matching "The applier executes in
// a single task (no concurrent apply)".
type Machine struct {
	kv    *store.KV
	cache *Cache
	sink  Sink

	mu        sync.Mutex // serialises Apply; raft already guarantees single-writer, this just documents/enforces it
	lastIndex uint64
}

func NewMachine(kv *store.KV, cache *Cache, sink Sink) *Machine {
	return &Machine{kv: kv, cache: cache, sink: sink}
}

// Apply decodes one committed log entry, mutates the KV store, mutates the
// cache, and enqueues any resulting cache-update broadcasts. raftIndex is
// the entry's Raft log index, used both for CacheUpdate ordering and to
// make Apply idempotent: re-applying an index at or below lastIndex is a
// no-op, matching the testable property "UpdateMqttCache applied twice
// with the same Raft index leaves identical cache state" (§8).
func (m *Machine) Apply(raftIndex uint64, raw []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if raftIndex <= m.lastIndex && m.lastIndex != 0 {
		return nil
	}

	var entry StorageData
	if err := json.Unmarshal(raw, &entry); err != nil {
		return errs.Wrap(errs.Internal, err)
	}

	if err := m.apply(entry, raftIndex); err != nil {
		return err
	}

	m.lastIndex = raftIndex
	return nil
}

func (m *Machine) apply(entry StorageData, raftIndex uint64) error {
	switch entry.Type {
	case ClusterAddNode:
		return m.applyAddNode(entry.Payload, raftIndex)
	case ClusterDeleteNode:
		return m.applyDeleteNode(entry.Payload, raftIndex)
	case ClusterAddCluster:
		return m.applyAddCluster(entry.Payload)

	case KvSet:
		return m.applyKvSet(entry.Payload)
	case KvDelete:
		return m.applyKvDelete(entry.Payload)

	case MqttSetUser:
		return m.applySetUser(entry.Payload, raftIndex)
	case MqttDeleteUser:
		return m.applyDeleteUser(entry.Payload, raftIndex)
	case MqttSetAcl:
		return m.applySetAcl(entry.Payload, raftIndex)
	case MqttDeleteAcl:
		return m.applyDeleteAcl(entry.Payload, raftIndex)
	case MqttSetBlacklist:
		return m.applySetBlacklist(entry.Payload, raftIndex)
	case MqttDeleteBlacklist:
		return m.applyDeleteBlacklist(entry.Payload, raftIndex)

	case MqttSetSession, MqttUpdateSession:
		return m.applySetSession(entry.Payload, raftIndex)
	case MqttDeleteSession:
		return m.applyDeleteSession(entry.Payload, raftIndex)

	case MqttSetTopic:
		return m.applySetTopic(entry.Payload, raftIndex)
	case MqttDeleteTopic:
		return m.applyDeleteTopic(entry.Payload, raftIndex)
	case MqttSetTopicRetainMessage:
		return m.applySetRetain(entry.Payload, raftIndex)

	case MqttSetSubscribe:
		return m.applySetSubscribe(entry.Payload, raftIndex)
	case MqttDeleteSubscribe:
		return m.applyDeleteSubscribe(entry.Payload, raftIndex)

	case MqttSetConnector:
		return m.applySetConnector(entry.Payload, raftIndex)
	case MqttDeleteConnector:
		return m.applyDeleteConnector(entry.Payload, raftIndex)

	case MqttSetAutoSubscribeRule:
		return m.applySetAutoSubscribeRule(entry.Payload, raftIndex)
	case MqttDeleteAutoSubscribeRule:
		return m.applyDeleteAutoSubscribeRule(entry.Payload, raftIndex)

	case MqttSetTopicRewriteRule:
		return m.applySetRewriteRule(entry.Payload, raftIndex)
	case MqttDeleteTopicRewriteRule:
		return m.applyDeleteRewriteRule(entry.Payload, raftIndex)

	case JournalSetShard:
		return m.applySetShard(entry.Payload)
	case JournalDeleteShard:
		return m.applyDeleteShard(entry.Payload)
	case JournalSetSegment:
		return m.applySetSegment(entry.Payload)
	case JournalDeleteSegment:
		return m.applyDeleteSegment(entry.Payload)
	case JournalSetSegmentMeta:
		return m.applySetSegmentMeta(entry.Payload)
	case JournalDeleteSegmentMeta:
		return m.applyDeleteSegmentMeta(entry.Payload)

	case OffsetSet:
		return m.applySetOffset(entry.Payload)

	default:
		return errs.New(errs.Internal, fmt.Sprintf("unknown storage data type %q", entry.Type))
	}
}

func decode[T any](payload []byte) (T, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, errs.Wrap(errs.Internal, err)
	}
	return v, nil
}

func (m *Machine) broadcast(clusterName, resourceType string, action CacheUpdateAction, payload []byte, raftIndex uint64) {
	if m.sink == nil {
		return
	}
	m.sink.Broadcast(clusterName, CacheUpdate{
		ClusterName:  clusterName,
		ResourceType: resourceType,
		Action:       action,
		Payload:      payload,
		RaftIndex:    raftIndex,
	})
}

func (m *Machine) applyAddNode(payload []byte, idx uint64) error {
	n, err := decode[model.BrokerNode](payload)
	if err != nil {
		return err
	}
	key := store.NodeKey(n.ClusterName, string(n.ClusterType), n.NodeID)
	if err := m.kv.Set(key, payload); err != nil {
		return errs.Wrap(errs.Internal, err)
	}
	m.cache.PutNode(&n, key)
	m.broadcast(n.ClusterName, "node", CacheActionSet, payload, idx)
	return nil
}

func (m *Machine) applyDeleteNode(payload []byte, idx uint64) error {
	n, err := decode[model.BrokerNode](payload)
	if err != nil {
		return err
	}
	key := store.NodeKey(n.ClusterName, string(n.ClusterType), n.NodeID)
	if err := m.kv.Delete(key); err != nil {
		return errs.Wrap(errs.Internal, err)
	}
	m.cache.DeleteNode(key)
	m.broadcast(n.ClusterName, "node", CacheActionDelete, payload, idx)
	return nil
}

func (m *Machine) applyAddCluster(payload []byte) error {
	c, err := decode[model.Cluster](payload)
	if err != nil {
		return err
	}
	if err := m.kv.Set(store.ClusterKey(c.ClusterName), payload); err != nil {
		return errs.Wrap(errs.Internal, err)
	}
	m.cache.clusters.Store(c.ClusterName, &c)
	return nil
}

type kvPair struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

func (m *Machine) applyKvSet(payload []byte) error {
	p, err := decode[kvPair](payload)
	if err != nil {
		return err
	}
	return errs.Wrap(errs.Internal, m.kv.Set(p.Key, p.Value))
}

func (m *Machine) applyKvDelete(payload []byte) error {
	p, err := decode[kvPair](payload)
	if err != nil {
		return err
	}
	return errs.Wrap(errs.Internal, m.kv.Delete(p.Key))
}

func (m *Machine) applySetUser(payload []byte, idx uint64) error {
	u, err := decode[model.User](payload)
	if err != nil {
		return err
	}
	key := store.UserKey(u.ClusterName, u.Username)
	if err := m.kv.Set(key, payload); err != nil {
		return errs.Wrap(errs.Internal, err)
	}
	m.cache.PutUser(key, &u)
	m.broadcast(u.ClusterName, "user", CacheActionSet, payload, idx)
	return nil
}

func (m *Machine) applyDeleteUser(payload []byte, idx uint64) error {
	u, err := decode[model.User](payload)
	if err != nil {
		return err
	}
	key := store.UserKey(u.ClusterName, u.Username)
	if err := m.kv.Delete(key); err != nil {
		return errs.Wrap(errs.Internal, err)
	}
	m.cache.DeleteUser(key)
	m.broadcast(u.ClusterName, "user", CacheActionDelete, payload, idx)
	return nil
}

type aclEntry struct {
	ClusterName string    `json:"cluster_name"`
	Acl         model.Acl `json:"acl"`
}

func (m *Machine) applySetAcl(payload []byte, idx uint64) error {
	e, err := decode[aclEntry](payload)
	if err != nil {
		return err
	}
	key := store.AclKey(e.ClusterName, string(e.Acl.ResourceType), e.Acl.ResourceName)
	existing, _ := m.cache.GetAcl(key)
	existing = append(existing, &e.Acl)
	raw, merr := json.Marshal(existing)
	if merr != nil {
		return errs.Wrap(errs.Internal, merr)
	}
	if err := m.kv.Set(key, raw); err != nil {
		return errs.Wrap(errs.Internal, err)
	}
	m.cache.PutAcl(key, existing)
	m.broadcast(e.ClusterName, "acl", CacheActionSet, payload, idx)
	return nil
}

func (m *Machine) applyDeleteAcl(payload []byte, idx uint64) error {
	e, err := decode[aclEntry](payload)
	if err != nil {
		return err
	}
	key := store.AclKey(e.ClusterName, string(e.Acl.ResourceType), e.Acl.ResourceName)
	existing, ok := m.cache.GetAcl(key)
	if ok {
		filtered := existing[:0]
		for _, a := range existing {
			if a.Topic != e.Acl.Topic || a.Action != e.Acl.Action || a.Permission != e.Acl.Permission {
				filtered = append(filtered, a)
			}
		}
		if len(filtered) == 0 {
			m.cache.DeleteAcl(key)
			_ = m.kv.Delete(key)
		} else {
			raw, _ := json.Marshal(filtered)
			m.cache.PutAcl(key, filtered)
			_ = m.kv.Set(key, raw)
		}
	}
	m.broadcast(e.ClusterName, "acl", CacheActionDelete, payload, idx)
	return nil
}

func (m *Machine) applySetBlacklist(payload []byte, idx uint64) error {
	b, err := decode[model.Blacklist](payload)
	if err != nil {
		return err
	}
	key := store.BlacklistKey(b.ClusterName, string(b.BlacklistType), b.ResourceName)
	if err := m.kv.Set(key, payload); err != nil {
		return errs.Wrap(errs.Internal, err)
	}
	m.cache.PutBlacklist(key, &b)
	m.broadcast(b.ClusterName, "blacklist", CacheActionSet, payload, idx)
	return nil
}

func (m *Machine) applyDeleteBlacklist(payload []byte, idx uint64) error {
	b, err := decode[model.Blacklist](payload)
	if err != nil {
		return err
	}
	key := store.BlacklistKey(b.ClusterName, string(b.BlacklistType), b.ResourceName)
	if err := m.kv.Delete(key); err != nil {
		return errs.Wrap(errs.Internal, err)
	}
	m.cache.DeleteBlacklist(key)
	m.broadcast(b.ClusterName, "blacklist", CacheActionDelete, payload, idx)
	return nil
}

func (m *Machine) applySetSession(payload []byte, idx uint64) error {
	s, err := decode[model.Session](payload)
	if err != nil {
		return err
	}
	key := store.SessionKey(s.ClusterName, s.ClientID)
	if err := m.kv.Set(key, payload); err != nil {
		return errs.Wrap(errs.Internal, err)
	}
	m.cache.PutSession(key, &s)
	m.broadcast(s.ClusterName, "session", CacheActionSet, payload, idx)
	return nil
}

func (m *Machine) applyDeleteSession(payload []byte, idx uint64) error {
	s, err := decode[model.Session](payload)
	if err != nil {
		return err
	}
	key := store.SessionKey(s.ClusterName, s.ClientID)
	if err := m.kv.Delete(key); err != nil {
		return errs.Wrap(errs.Internal, err)
	}
	m.cache.DeleteSession(key)
	m.broadcast(s.ClusterName, "session", CacheActionDelete, payload, idx)
	return nil
}

func (m *Machine) applySetTopic(payload []byte, idx uint64) error {
	t, err := decode[model.Topic](payload)
	if err != nil {
		return err
	}
	key := store.TopicKey(t.ClusterName, t.TopicName)
	if err := m.kv.Set(key, payload); err != nil {
		return errs.Wrap(errs.Internal, err)
	}
	m.cache.PutTopic(key, &t)
	m.broadcast(t.ClusterName, "topic", CacheActionSet, payload, idx)
	return nil
}

func (m *Machine) applyDeleteTopic(payload []byte, idx uint64) error {
	t, err := decode[model.Topic](payload)
	if err != nil {
		return err
	}
	key := store.TopicKey(t.ClusterName, t.TopicName)
	if err := m.kv.Delete(key); err != nil {
		return errs.Wrap(errs.Internal, err)
	}
	m.cache.DeleteTopic(key)
	m.broadcast(t.ClusterName, "topic", CacheActionDelete, payload, idx)
	return nil
}

type retainEntry struct {
	ClusterName string              `json:"cluster_name"`
	TopicName   string              `json:"topic_name"`
	Retain      *model.RetainMessage `json:"retain"`
}

// applySetRetain upserts or clears (nil/empty-payload Retain) the retained
// message on a topic, per §4.1 "Retained forwarding" and the testable
// property in §8 ("until a later retain=true with empty payload clears it").
func (m *Machine) applySetRetain(payload []byte, idx uint64) error {
	e, err := decode[retainEntry](payload)
	if err != nil {
		return err
	}
	key := store.TopicKey(e.ClusterName, e.TopicName)
	topic, ok := m.cache.GetTopic(key)
	if !ok {
		topic = &model.Topic{ClusterName: e.ClusterName, TopicName: e.TopicName}
	}
	if e.Retain == nil || len(e.Retain.Payload) == 0 {
		topic.Retain = nil
	} else {
		topic.Retain = e.Retain
	}
	raw, merr := json.Marshal(topic)
	if merr != nil {
		return errs.Wrap(errs.Internal, merr)
	}
	if err := m.kv.Set(key, raw); err != nil {
		return errs.Wrap(errs.Internal, err)
	}
	m.cache.PutTopic(key, topic)
	m.broadcast(e.ClusterName, "topic", CacheActionSet, raw, idx)
	return nil
}

func (m *Machine) applySetSubscribe(payload []byte, idx uint64) error {
	s, err := decode[model.Subscription](payload)
	if err != nil {
		return err
	}
	key := store.SubscribeKey(s.ClusterName, s.ClientID, s.SubPath)
	if err := m.kv.Set(key, payload); err != nil {
		return errs.Wrap(errs.Internal, err)
	}
	m.cache.PutSubscribe(key, &s)
	m.broadcast(s.ClusterName, "subscribe", CacheActionSet, payload, idx)
	return nil
}

func (m *Machine) applyDeleteSubscribe(payload []byte, idx uint64) error {
	s, err := decode[model.Subscription](payload)
	if err != nil {
		return err
	}
	key := store.SubscribeKey(s.ClusterName, s.ClientID, s.SubPath)
	if err := m.kv.Delete(key); err != nil {
		return errs.Wrap(errs.Internal, err)
	}
	m.cache.DeleteSubscribe(key)
	m.broadcast(s.ClusterName, "subscribe", CacheActionDelete, payload, idx)
	return nil
}

func (m *Machine) applySetConnector(payload []byte, idx uint64) error {
	c, err := decode[model.Connector](payload)
	if err != nil {
		return err
	}
	key := store.ConnectorKey(c.ClusterName, c.ConnectorName)
	if err := m.kv.Set(key, payload); err != nil {
		return errs.Wrap(errs.Internal, err)
	}
	m.cache.PutConnector(key, &c)
	m.broadcast(c.ClusterName, "connector", CacheActionSet, payload, idx)
	return nil
}

func (m *Machine) applyDeleteConnector(payload []byte, idx uint64) error {
	c, err := decode[model.Connector](payload)
	if err != nil {
		return err
	}
	key := store.ConnectorKey(c.ClusterName, c.ConnectorName)
	if err := m.kv.Delete(key); err != nil {
		return errs.Wrap(errs.Internal, err)
	}
	m.cache.DeleteConnector(key)
	m.broadcast(c.ClusterName, "connector", CacheActionDelete, payload, idx)
	return nil
}

func (m *Machine) applySetAutoSubscribeRule(payload []byte, idx uint64) error {
	r, err := decode[model.AutoSubscribeRule](payload)
	if err != nil {
		return err
	}
	key := store.AutoSubscribeKey(r.ClusterName, r.Topic)
	if err := m.kv.Set(key, payload); err != nil {
		return errs.Wrap(errs.Internal, err)
	}
	m.cache.PutAutoSubscribeRule(key, &r)
	m.broadcast(r.ClusterName, "autosubscribe", CacheActionSet, payload, idx)
	return nil
}

func (m *Machine) applyDeleteAutoSubscribeRule(payload []byte, idx uint64) error {
	r, err := decode[model.AutoSubscribeRule](payload)
	if err != nil {
		return err
	}
	key := store.AutoSubscribeKey(r.ClusterName, r.Topic)
	if err := m.kv.Delete(key); err != nil {
		return errs.Wrap(errs.Internal, err)
	}
	m.cache.DeleteAutoSubscribeRule(key)
	m.broadcast(r.ClusterName, "autosubscribe", CacheActionDelete, payload, idx)
	return nil
}

func (m *Machine) applySetRewriteRule(payload []byte, idx uint64) error {
	r, err := decode[model.TopicRewriteRule](payload)
	if err != nil {
		return err
	}
	key := store.RewriteRuleKey(r.ClusterName, r.Timestamp, r.SourcePattern)
	if err := m.kv.Set(key, payload); err != nil {
		return errs.Wrap(errs.Internal, err)
	}
	m.cache.PutRewriteRule(key, &r)
	m.broadcast(r.ClusterName, "rewrite", CacheActionSet, payload, idx)
	return nil
}

func (m *Machine) applyDeleteRewriteRule(payload []byte, idx uint64) error {
	r, err := decode[model.TopicRewriteRule](payload)
	if err != nil {
		return err
	}
	key := store.RewriteRuleKey(r.ClusterName, r.Timestamp, r.SourcePattern)
	if err := m.kv.Delete(key); err != nil {
		return errs.Wrap(errs.Internal, err)
	}
	m.cache.DeleteRewriteRule(key)
	m.broadcast(r.ClusterName, "rewrite", CacheActionDelete, payload, idx)
	return nil
}

func (m *Machine) applySetShard(payload []byte) error {
	s, err := decode[model.JournalShard](payload)
	if err != nil {
		return err
	}
	key := store.ShardKey(s.ClusterName, s.Namespace, s.ShardName)
	if err := m.kv.Set(key, payload); err != nil {
		return errs.Wrap(errs.Internal, err)
	}
	m.cache.PutShard(key, &s)
	return nil
}

func (m *Machine) applyDeleteShard(payload []byte) error {
	s, err := decode[model.JournalShard](payload)
	if err != nil {
		return err
	}
	key := store.ShardKey(s.ClusterName, s.Namespace, s.ShardName)
	if err := m.kv.Delete(key); err != nil {
		return errs.Wrap(errs.Internal, err)
	}
	m.cache.DeleteShard(key)
	return nil
}

func (m *Machine) applySetSegment(payload []byte) error {
	s, err := decode[model.JournalSegment](payload)
	if err != nil {
		return err
	}
	key := store.SegmentKey(s.ClusterName, s.Namespace, s.ShardName, s.SegmentSeq)
	if err := m.kv.Set(key, payload); err != nil {
		return errs.Wrap(errs.Internal, err)
	}
	m.cache.PutSegment(key, &s)
	return nil
}

func (m *Machine) applyDeleteSegment(payload []byte) error {
	s, err := decode[model.JournalSegment](payload)
	if err != nil {
		return err
	}
	key := store.SegmentKey(s.ClusterName, s.Namespace, s.ShardName, s.SegmentSeq)
	if err := m.kv.Delete(key); err != nil {
		return errs.Wrap(errs.Internal, err)
	}
	m.cache.DeleteSegment(key)
	return nil
}

func (m *Machine) applySetSegmentMeta(payload []byte) error {
	meta, err := decode[model.JournalSegmentMeta](payload)
	if err != nil {
		return err
	}
	key := store.SegmentMetaKey(meta.ShardName, meta.SegmentSeq)
	if err := m.kv.Set(key, payload); err != nil {
		return errs.Wrap(errs.Internal, err)
	}
	m.cache.PutSegmentMeta(key, &meta)
	return nil
}

func (m *Machine) applyDeleteSegmentMeta(payload []byte) error {
	meta, err := decode[model.JournalSegmentMeta](payload)
	if err != nil {
		return err
	}
	key := store.SegmentMetaKey(meta.ShardName, meta.SegmentSeq)
	if err := m.kv.Delete(key); err != nil {
		return errs.Wrap(errs.Internal, err)
	}
	m.cache.DeleteSegmentMeta(key)
	return nil
}

func (m *Machine) applySetOffset(payload []byte) error {
	o, err := decode[model.OffsetCommit](payload)
	if err != nil {
		return err
	}
	key := store.OffsetKey(o.ClusterName, o.Group, o.Namespace, o.ShardName)
	if err := m.kv.Set(key, payload); err != nil {
		return errs.Wrap(errs.Internal, err)
	}
	m.cache.PutOffset(key, &o)
	return nil
}

// Cache exposes the read model for RPC handlers.
func (m *Machine) Cache() *Cache { return m.cache }

// KV exposes the embedded store for RPC handlers that need a raw read
// (e.g. cold-cache lookups after a broker cache miss, §4.2 "a drop means
// the broker reads through on next access").
func (m *Machine) KV() *store.KV { return m.kv }

// LastAppliedIndex returns the highest Raft index applied so far.
func (m *Machine) LastAppliedIndex() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastIndex
}
