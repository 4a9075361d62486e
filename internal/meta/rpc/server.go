package rpc

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sort"
	"time"

	"github.com/robustmq/robustmq/internal/errs"
	"github.com/robustmq/robustmq/internal/meta/model"
	"github.com/robustmq/robustmq/internal/meta/state"
	"github.com/robustmq/robustmq/internal/meta/store"
)

// Proposer submits a StorageData entry to the Raft log and reports
// whether this node currently holds leadership. raftnode.Node satisfies
// this directly. Server never touches the KV store or cache on a write;
// every mutation goes through Raft like controller writes do, so a
// follower serving a write RPC gets the same errs.Unavailable a client
// already knows how to retry against another member (rpc.Client.Call).
type Proposer interface {
	Propose(ctx context.Context, data []byte) error
	IsLeader() bool
}

// Server is the meta service's own ClientService implementation: it
// binds the RPC surface (spec.md §6) to the Raft-replicated state
// machine instead of a network client. A concrete wire transport (gRPC,
// or anything else) puts this behind whatever server stub it generates;
// that transport is out of scope (§1), so Server only needs to satisfy
// ClientService's Go signature.
type Server struct {
	nodeID   uint64
	machine  *state.Machine
	proposer Proposer
}

func NewServer(nodeID uint64, machine *state.Machine, proposer Proposer) *Server {
	return &Server{nodeID: nodeID, machine: machine, proposer: proposer}
}

func propose(ctx context.Context, p Proposer, entryType state.EntryType, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return errs.Wrap(errs.Internal, err)
	}
	entry := state.StorageData{Type: entryType, Payload: payload}
	raw, err := json.Marshal(entry)
	if err != nil {
		return errs.Wrap(errs.Internal, err)
	}
	return p.Propose(ctx, raw)
}

func (s *Server) RegisterNode(ctx context.Context, node model.BrokerNode) error {
	if err := propose(ctx, s.proposer, state.ClusterAddCluster, model.Cluster{ClusterName: node.ClusterName, CreateTime: time.Now()}); err != nil {
		return err
	}
	return propose(ctx, s.proposer, state.ClusterAddNode, node)
}

func (s *Server) UnRegisterNode(ctx context.Context, clusterName string, nodeID uint64) error {
	node, ok := s.machine.Cache().GetNode(store.NodeKey(clusterName, string(model.ClusterTypeMQTT), nodeID))
	if !ok {
		return nil
	}
	return propose(ctx, s.proposer, state.ClusterDeleteNode, node)
}

func (s *Server) Heartbeat(ctx context.Context, clusterName string, nodeID uint64) error {
	key := store.NodeKey(clusterName, string(model.ClusterTypeMQTT), nodeID)
	node, ok := s.machine.Cache().GetNode(key)
	if !ok {
		return errs.New(errs.NotFound, "node not registered")
	}
	node.StartTime = time.Now()
	return propose(ctx, s.proposer, state.ClusterAddNode, *node)
}

func (s *Server) ClusterStatus(ctx context.Context, clusterName string) (ClusterStatusReply, error) {
	var members []uint64
	for _, n := range s.machine.Cache().ListNodes(func(key string) bool { return true }) {
		if n.ClusterName == clusterName {
			members = append(members, n.NodeID)
		}
	}
	leader := uint64(0)
	if s.proposer.IsLeader() {
		leader = s.nodeID
	}
	return ClusterStatusReply{Leader: leader, Members: members, Term: 0}, nil
}

func (s *Server) NodeList(ctx context.Context, clusterName string) ([]model.BrokerNode, error) {
	var out []model.BrokerNode
	for _, n := range s.machine.Cache().ListNodes(func(key string) bool { return true }) {
		if n.ClusterName == clusterName {
			out = append(out, *n)
		}
	}
	return out, nil
}

func (s *Server) CreateUser(ctx context.Context, u model.User) error {
	return propose(ctx, s.proposer, state.MqttSetUser, u)
}

func (s *Server) DeleteUser(ctx context.Context, clusterName, username string) error {
	return propose(ctx, s.proposer, state.MqttDeleteUser, model.User{ClusterName: clusterName, Username: username})
}

func (s *Server) ListUser(ctx context.Context, clusterName string) ([]model.User, error) {
	var out []model.User
	s.machine.Cache().RangeUsers(clusterName, func(u *model.User) bool {
		out = append(out, *u)
		return true
	})
	return out, nil
}

func (s *Server) CreateAcl(ctx context.Context, clusterName string, a model.Acl) error {
	return propose(ctx, s.proposer, state.MqttSetAcl, aclEntry{ClusterName: clusterName, Acl: a})
}

func (s *Server) DeleteAcl(ctx context.Context, clusterName string, a model.Acl) error {
	return propose(ctx, s.proposer, state.MqttDeleteAcl, aclEntry{ClusterName: clusterName, Acl: a})
}

func (s *Server) ListAcl(ctx context.Context, clusterName string) ([]model.Acl, error) {
	var out []model.Acl
	s.machine.Cache().RangeAcls(clusterName, func(a *model.Acl) bool {
		out = append(out, *a)
		return true
	})
	return out, nil
}

// aclEntry mirrors state.aclEntry's JSON shape (unexported there, so
// Server builds its own wire-compatible copy rather than reaching into
// another package's internals).
type aclEntry struct {
	ClusterName string    `json:"cluster_name"`
	Acl         model.Acl `json:"acl"`
}

func (s *Server) CreateBlacklist(ctx context.Context, b model.Blacklist) error {
	return propose(ctx, s.proposer, state.MqttSetBlacklist, b)
}

func (s *Server) DeleteBlacklist(ctx context.Context, clusterName string, blacklistType, resourceName string) error {
	return propose(ctx, s.proposer, state.MqttDeleteBlacklist, model.Blacklist{
		ClusterName: clusterName, BlacklistType: model.BlacklistType(blacklistType), ResourceName: resourceName,
	})
}

func (s *Server) ListBlacklist(ctx context.Context, clusterName string) ([]model.Blacklist, error) {
	var out []model.Blacklist
	s.machine.Cache().RangeBlacklist(clusterName, func(b *model.Blacklist) bool {
		out = append(out, *b)
		return true
	})
	return out, nil
}

func (s *Server) CreateSession(ctx context.Context, sess model.Session) error {
	return propose(ctx, s.proposer, state.MqttSetSession, sess)
}

func (s *Server) UpdateSession(ctx context.Context, sess model.Session) error {
	return propose(ctx, s.proposer, state.MqttUpdateSession, sess)
}

func (s *Server) DeleteSession(ctx context.Context, clusterName, clientID string) error {
	return propose(ctx, s.proposer, state.MqttDeleteSession, model.Session{ClusterName: clusterName, ClientID: clientID})
}

func (s *Server) ListSession(ctx context.Context, clusterName string) ([]model.Session, error) {
	var out []model.Session
	s.machine.Cache().RangeSessions(clusterName, func(sess *model.Session) bool {
		out = append(out, *sess)
		return true
	})
	return out, nil
}

func (s *Server) CreateTopic(ctx context.Context, t model.Topic) error {
	return propose(ctx, s.proposer, state.MqttSetTopic, t)
}

func (s *Server) DeleteTopic(ctx context.Context, clusterName, topicName string) error {
	return propose(ctx, s.proposer, state.MqttDeleteTopic, model.Topic{ClusterName: clusterName, TopicName: topicName})
}

func (s *Server) ListTopic(ctx context.Context, clusterName string) ([]model.Topic, error) {
	var out []model.Topic
	s.machine.Cache().RangeTopics(clusterName, func(t *model.Topic) bool {
		out = append(out, *t)
		return true
	})
	return out, nil
}

// retainEntry mirrors state.retainEntry's JSON shape.
type retainEntry struct {
	ClusterName string               `json:"cluster_name"`
	TopicName   string               `json:"topic_name"`
	Retain      *model.RetainMessage `json:"retain"`
}

func (s *Server) SetTopicRetainMessage(ctx context.Context, clusterName, topicName string, retain *model.RetainMessage) error {
	return propose(ctx, s.proposer, state.MqttSetTopicRetainMessage, retainEntry{ClusterName: clusterName, TopicName: topicName, Retain: retain})
}

// SaveLastWillMessage queues a will on the session record (the session
// is the system of record for last-will, per internal/meta/controller's
// last-will-fire sweep over model.Session.LastWill).
func (s *Server) SaveLastWillMessage(ctx context.Context, clusterName, clientID string, will model.LastWill) error {
	sess, ok := s.machine.Cache().GetSession(store.SessionKey(clusterName, clientID))
	if !ok {
		return errs.New(errs.NotFound, "session not found")
	}
	updated := *sess
	updated.LastWill = &will
	return propose(ctx, s.proposer, state.MqttUpdateSession, updated)
}

func (s *Server) CreateSubscribe(ctx context.Context, sub model.Subscription) error {
	return propose(ctx, s.proposer, state.MqttSetSubscribe, sub)
}

func (s *Server) DeleteSubscribe(ctx context.Context, clusterName, clientID, subPath string) error {
	return propose(ctx, s.proposer, state.MqttDeleteSubscribe, model.Subscription{ClusterName: clusterName, ClientID: clientID, SubPath: subPath})
}

func (s *Server) ListSubscribe(ctx context.Context, clusterName string) ([]model.Subscription, error) {
	var out []model.Subscription
	s.machine.Cache().RangeSubscribes(clusterName, func(sub *model.Subscription) bool {
		out = append(out, *sub)
		return true
	})
	return out, nil
}

func (s *Server) SetAutoSubscribeRule(ctx context.Context, r model.AutoSubscribeRule) error {
	return propose(ctx, s.proposer, state.MqttSetAutoSubscribeRule, r)
}

func (s *Server) DeleteAutoSubscribeRule(ctx context.Context, clusterName, topic string) error {
	return propose(ctx, s.proposer, state.MqttDeleteAutoSubscribeRule, model.AutoSubscribeRule{ClusterName: clusterName, Topic: topic})
}

func (s *Server) ListAutoSubscribeRule(ctx context.Context, clusterName string) ([]model.AutoSubscribeRule, error) {
	var out []model.AutoSubscribeRule
	s.machine.Cache().RangeAutoSubscribeRules(clusterName, func(r *model.AutoSubscribeRule) bool {
		out = append(out, *r)
		return true
	})
	return out, nil
}

func (s *Server) CreateTopicRewriteRule(ctx context.Context, r model.TopicRewriteRule) error {
	return propose(ctx, s.proposer, state.MqttSetTopicRewriteRule, r)
}

func (s *Server) DeleteTopicRewriteRule(ctx context.Context, clusterName, sourcePattern string) error {
	var match *model.TopicRewriteRule
	s.machine.Cache().RangeRewriteRules(clusterName, func(r *model.TopicRewriteRule) bool {
		if r.SourcePattern == sourcePattern {
			match = r
			return false
		}
		return true
	})
	if match == nil {
		return nil
	}
	return propose(ctx, s.proposer, state.MqttDeleteTopicRewriteRule, *match)
}

func (s *Server) ListTopicRewriteRule(ctx context.Context, clusterName string) ([]model.TopicRewriteRule, error) {
	var out []model.TopicRewriteRule
	s.machine.Cache().RangeRewriteRules(clusterName, func(r *model.TopicRewriteRule) bool {
		out = append(out, *r)
		return true
	})
	return out, nil
}

func (s *Server) CreateConnector(ctx context.Context, c model.Connector) error {
	return propose(ctx, s.proposer, state.MqttSetConnector, c)
}

func (s *Server) UpdateConnector(ctx context.Context, c model.Connector) error {
	return propose(ctx, s.proposer, state.MqttSetConnector, c)
}

func (s *Server) DeleteConnector(ctx context.Context, clusterName, connectorName string) error {
	return propose(ctx, s.proposer, state.MqttDeleteConnector, model.Connector{ClusterName: clusterName, ConnectorName: connectorName})
}

func (s *Server) ListConnector(ctx context.Context, clusterName string) ([]model.Connector, error) {
	var out []model.Connector
	s.machine.Cache().RangeConnectors(clusterName, func(_ string, c *model.Connector) bool {
		out = append(out, *c)
		return true
	})
	return out, nil
}

func (s *Server) ConnectorHeartbeat(ctx context.Context, clusterName, connectorName string) error {
	c, ok := s.machine.Cache().GetConnector(store.ConnectorKey(clusterName, connectorName))
	if !ok {
		return errs.New(errs.NotFound, "connector not found")
	}
	updated := *c
	updated.LastHeartbeat = time.Now()
	return propose(ctx, s.proposer, state.MqttSetConnector, updated)
}

// GetShareSubLeader elects the shared-subscription group leader by
// hashing group against the sorted set of online broker IDs (Open
// Question resolution, DESIGN.md "Shared-subscription leader election":
// a deterministic hash of (group, broker set) rather than round-robin,
// so every broker derives the same answer from the same RPC without a
// persisted pointer, and the assignment only moves for the groups whose
// slot changes when the broker set itself changes).
func (s *Server) GetShareSubLeader(ctx context.Context, clusterName, group string) (uint64, error) {
	var nodes []uint64
	for _, n := range s.machine.Cache().ListNodes(func(string) bool { return true }) {
		if n.ClusterName == clusterName {
			nodes = append(nodes, n.NodeID)
		}
	}
	if len(nodes) == 0 {
		return 0, errs.New(errs.Unavailable, "no nodes online")
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })

	h := fnv.New32a()
	_, _ = h.Write([]byte(group))
	return nodes[h.Sum32()%uint32(len(nodes))], nil
}

type kvPair struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

func (s *Server) KVSet(ctx context.Context, key string, value []byte) error {
	return propose(ctx, s.proposer, state.KvSet, kvPair{Key: key, Value: value})
}

func (s *Server) KVGet(ctx context.Context, key string) ([]byte, bool, error) {
	return s.machine.KV().Get(key)
}

func (s *Server) KVDelete(ctx context.Context, key string) error {
	return propose(ctx, s.proposer, state.KvDelete, kvPair{Key: key})
}

func (s *Server) KVExists(ctx context.Context, key string) (bool, error) {
	return s.machine.KV().Exists(key)
}

func (s *Server) KVGetPrefix(ctx context.Context, prefix string) (map[string][]byte, error) {
	return s.machine.KV().GetPrefix(prefix)
}

func (s *Server) ListShard(ctx context.Context, clusterName, namespace string) ([]model.JournalShard, error) {
	var out []model.JournalShard
	s.machine.Cache().RangeShards(clusterName, namespace, func(sh *model.JournalShard) bool {
		out = append(out, *sh)
		return true
	})
	return out, nil
}

func (s *Server) CreateShard(ctx context.Context, sh model.JournalShard) error {
	if sh.Status == "" {
		sh.Status = model.ShardRun
	}
	if sh.CreateTime.IsZero() {
		sh.CreateTime = time.Now()
	}
	return propose(ctx, s.proposer, state.JournalSetShard, sh)
}

func (s *Server) DeleteShard(ctx context.Context, clusterName, namespace, shardName string) error {
	sh, ok := s.machine.Cache().GetShard(store.ShardKey(clusterName, namespace, shardName))
	if !ok {
		return nil
	}
	return propose(ctx, s.proposer, state.JournalDeleteShard, *sh)
}

func (s *Server) ListSegment(ctx context.Context, clusterName, namespace, shardName string) ([]model.JournalSegment, error) {
	var out []model.JournalSegment
	prefix := store.SegmentPrefix(clusterName, namespace, shardName)
	s.machine.Cache().RangeSegments(prefix, func(_ string, seg *model.JournalSegment) bool {
		out = append(out, *seg)
		return true
	})
	return out, nil
}

// CreateNextSegment seals whatever segment is currently Write and opens
// segment_seq = shard.ActiveSegmentSeq+1 as the new Write segment (spec.md
// §4.3 "roll-over: seal current, open segment_seq+1"). The caller (the
// journal engine's OnSealed hook) is responsible for
// supplying the sealed segment's end offset via UpdateSegmentMeta
// separately; this call only manages the shard/segment metadata records.
func (s *Server) CreateNextSegment(ctx context.Context, clusterName, namespace, shardName string) (model.JournalSegment, error) {
	shardKey := store.ShardKey(clusterName, namespace, shardName)
	sh, ok := s.machine.Cache().GetShard(shardKey)
	if !ok {
		return model.JournalSegment{}, errs.New(errs.NotFound, "shard not found")
	}

	next := sh.ActiveSegmentSeq + 1
	if sh.LastSegmentSeq >= sh.ActiveSegmentSeq {
		next = sh.LastSegmentSeq + 1
	}

	curKey := store.SegmentKey(clusterName, namespace, shardName, sh.ActiveSegmentSeq)
	if cur, ok := s.machine.Cache().GetSegment(curKey); ok && cur.Status == model.SegmentWrite {
		sealed := *cur
		sealed.Status = model.SegmentSealUp
		if err := propose(ctx, s.proposer, state.JournalSetSegment, sealed); err != nil {
			return model.JournalSegment{}, err
		}
	}

	segment := model.JournalSegment{
		ClusterName: clusterName,
		Namespace:   namespace,
		ShardName:   shardName,
		SegmentSeq:  next,
		Status:      model.SegmentWrite,
		CreateTime:  time.Now(),
	}
	if err := propose(ctx, s.proposer, state.JournalSetSegment, segment); err != nil {
		return model.JournalSegment{}, err
	}

	updatedShard := *sh
	updatedShard.ActiveSegmentSeq = next
	updatedShard.LastSegmentSeq = next
	if err := propose(ctx, s.proposer, state.JournalSetShard, updatedShard); err != nil {
		return model.JournalSegment{}, err
	}
	return segment, nil
}

func (s *Server) DeleteSegment(ctx context.Context, clusterName, namespace, shardName string, segmentSeq uint64) error {
	key := store.SegmentKey(clusterName, namespace, shardName, segmentSeq)
	seg, ok := s.machine.Cache().GetSegment(key)
	if !ok {
		return nil
	}
	return propose(ctx, s.proposer, state.JournalDeleteSegment, *seg)
}

func (s *Server) UpdateSegmentStatus(ctx context.Context, clusterName, namespace, shardName string, segmentSeq uint64, status model.SegmentStatus) error {
	key := store.SegmentKey(clusterName, namespace, shardName, segmentSeq)
	seg, ok := s.machine.Cache().GetSegment(key)
	if !ok {
		return errs.New(errs.NotFound, "segment not found")
	}
	updated := *seg
	updated.Status = status
	return propose(ctx, s.proposer, state.JournalSetSegment, updated)
}

func (s *Server) ListSegmentMeta(ctx context.Context, namespace, shardName string) ([]model.JournalSegmentMeta, error) {
	var out []model.JournalSegmentMeta
	s.machine.Cache().RangeSegmentMetas(shardName, func(m *model.JournalSegmentMeta) bool {
		out = append(out, *m)
		return true
	})
	return out, nil
}

func (s *Server) UpdateSegmentMeta(ctx context.Context, m model.JournalSegmentMeta) error {
	return propose(ctx, s.proposer, state.JournalSetSegmentMeta, m)
}

func (s *Server) GetActiveSegment(ctx context.Context, clusterName, namespace, shardName string) (model.JournalSegment, bool, error) {
	sh, ok := s.machine.Cache().GetShard(store.ShardKey(clusterName, namespace, shardName))
	if !ok {
		return model.JournalSegment{}, false, nil
	}
	key := store.SegmentKey(clusterName, namespace, shardName, sh.ActiveSegmentSeq)
	seg, ok := s.machine.Cache().GetSegment(key)
	if !ok {
		return model.JournalSegment{}, false, nil
	}
	return *seg, true, nil
}

func (s *Server) SaveOffsetData(ctx context.Context, o model.OffsetCommit) error {
	return propose(ctx, s.proposer, state.OffsetSet, o)
}

func (s *Server) GetOffsetData(ctx context.Context, clusterName, group, namespace, shardName string) (model.OffsetCommit, bool, error) {
	o, ok := s.machine.Cache().GetOffset(store.OffsetKey(clusterName, group, namespace, shardName))
	if !ok {
		return model.OffsetCommit{}, false, nil
	}
	return *o, true, nil
}

// Resource config and idempotency records have no bespoke EntryType:
// they are arbitrary key/value pairs, so Server reuses the generic
// KvSet/KvDelete apply path with a namespaced key rather than growing
// the state machine's dispatch table for what KVSet/KVGet already cover.
func resourceConfigKey(key string) string { return "/resource_config/" + key }
func idempotentKey(key string) string     { return "/idempotent/" + key }

func (s *Server) SetResourceConfig(ctx context.Context, key string, value []byte) error {
	return s.KVSet(ctx, resourceConfigKey(key), value)
}

func (s *Server) GetResourceConfig(ctx context.Context, key string) ([]byte, bool, error) {
	return s.KVGet(ctx, resourceConfigKey(key))
}

func (s *Server) DeleteResourceConfig(ctx context.Context, key string) error {
	return s.KVDelete(ctx, resourceConfigKey(key))
}

func (s *Server) SetIdempotentData(ctx context.Context, key string) error {
	return s.KVSet(ctx, idempotentKey(key), []byte{1})
}

func (s *Server) ExistsIdempotentData(ctx context.Context, key string) (bool, error) {
	return s.KVExists(ctx, idempotentKey(key))
}

func (s *Server) DeleteIdempotentData(ctx context.Context, key string) error {
	return s.KVDelete(ctx, idempotentKey(key))
}
