// Package rpc defines the meta service's RPC surface as plain Go
// interfaces (spec.md §6). gRPC/tonic wire plumbing is explicitly out of
// scope (§1), so ClientService and InnerService describe only the call
// shapes a real transport (gRPC, or anything else) would expose; a
// concrete server implementation binds them to the state machine and
// controllers, and a concrete client implementation (Client, in client.go) binds
// them to whatever network transport cmd/mqtt-broker wires in.
package rpc

import (
	"context"

	"github.com/robustmq/robustmq/internal/meta/model"
)

// ClusterStatusReply mirrors spec.md §6 "ClusterStatus() -> {leader,
// members, term}".
type ClusterStatusReply struct {
	Leader  uint64
	Members []uint64
	Term    uint64
}

// ClientService is the broker-facing meta-service RPC surface (spec.md
// §6 "Broker-facing meta-service RPCs").
type ClientService interface {
	RegisterNode(ctx context.Context, node model.BrokerNode) error
	UnRegisterNode(ctx context.Context, clusterName string, nodeID uint64) error
	Heartbeat(ctx context.Context, clusterName string, nodeID uint64) error
	ClusterStatus(ctx context.Context, clusterName string) (ClusterStatusReply, error)
	NodeList(ctx context.Context, clusterName string) ([]model.BrokerNode, error)

	CreateUser(ctx context.Context, u model.User) error
	DeleteUser(ctx context.Context, clusterName, username string) error
	ListUser(ctx context.Context, clusterName string) ([]model.User, error)

	CreateAcl(ctx context.Context, clusterName string, a model.Acl) error
	DeleteAcl(ctx context.Context, clusterName string, a model.Acl) error
	ListAcl(ctx context.Context, clusterName string) ([]model.Acl, error)

	CreateBlacklist(ctx context.Context, b model.Blacklist) error
	DeleteBlacklist(ctx context.Context, clusterName string, blacklistType, resourceName string) error
	ListBlacklist(ctx context.Context, clusterName string) ([]model.Blacklist, error)

	CreateSession(ctx context.Context, s model.Session) error
	UpdateSession(ctx context.Context, s model.Session) error
	DeleteSession(ctx context.Context, clusterName, clientID string) error
	ListSession(ctx context.Context, clusterName string) ([]model.Session, error)

	CreateTopic(ctx context.Context, t model.Topic) error
	DeleteTopic(ctx context.Context, clusterName, topicName string) error
	ListTopic(ctx context.Context, clusterName string) ([]model.Topic, error)
	SetTopicRetainMessage(ctx context.Context, clusterName, topicName string, retain *model.RetainMessage) error

	SaveLastWillMessage(ctx context.Context, clusterName, clientID string, will model.LastWill) error

	CreateSubscribe(ctx context.Context, s model.Subscription) error
	DeleteSubscribe(ctx context.Context, clusterName, clientID, subPath string) error
	ListSubscribe(ctx context.Context, clusterName string) ([]model.Subscription, error)

	SetAutoSubscribeRule(ctx context.Context, r model.AutoSubscribeRule) error
	DeleteAutoSubscribeRule(ctx context.Context, clusterName, topic string) error
	ListAutoSubscribeRule(ctx context.Context, clusterName string) ([]model.AutoSubscribeRule, error)

	CreateTopicRewriteRule(ctx context.Context, r model.TopicRewriteRule) error
	DeleteTopicRewriteRule(ctx context.Context, clusterName, sourcePattern string) error
	ListTopicRewriteRule(ctx context.Context, clusterName string) ([]model.TopicRewriteRule, error)

	CreateConnector(ctx context.Context, c model.Connector) error
	UpdateConnector(ctx context.Context, c model.Connector) error
	DeleteConnector(ctx context.Context, clusterName, connectorName string) error
	ListConnector(ctx context.Context, clusterName string) ([]model.Connector, error)
	ConnectorHeartbeat(ctx context.Context, clusterName, connectorName string) error

	GetShareSubLeader(ctx context.Context, clusterName, group string) (uint64, error)

	KVSet(ctx context.Context, key string, value []byte) error
	KVGet(ctx context.Context, key string) ([]byte, bool, error)
	KVDelete(ctx context.Context, key string) error
	KVExists(ctx context.Context, key string) (bool, error)
	KVGetPrefix(ctx context.Context, prefix string) (map[string][]byte, error)

	// Journal engine wire API (spec.md §6 "Journal engine wire API").
	ListShard(ctx context.Context, clusterName, namespace string) ([]model.JournalShard, error)
	CreateShard(ctx context.Context, s model.JournalShard) error
	DeleteShard(ctx context.Context, clusterName, namespace, shardName string) error
	ListSegment(ctx context.Context, clusterName, namespace, shardName string) ([]model.JournalSegment, error)
	CreateNextSegment(ctx context.Context, clusterName, namespace, shardName string) (model.JournalSegment, error)
	DeleteSegment(ctx context.Context, clusterName, namespace, shardName string, segmentSeq uint64) error
	UpdateSegmentStatus(ctx context.Context, clusterName, namespace, shardName string, segmentSeq uint64, status model.SegmentStatus) error
	ListSegmentMeta(ctx context.Context, namespace, shardName string) ([]model.JournalSegmentMeta, error)
	UpdateSegmentMeta(ctx context.Context, m model.JournalSegmentMeta) error
	GetActiveSegment(ctx context.Context, clusterName, namespace, shardName string) (model.JournalSegment, bool, error)

	SaveOffsetData(ctx context.Context, o model.OffsetCommit) error
	GetOffsetData(ctx context.Context, clusterName, group, namespace, shardName string) (model.OffsetCommit, bool, error)

	SetResourceConfig(ctx context.Context, key string, value []byte) error
	GetResourceConfig(ctx context.Context, key string) ([]byte, bool, error)
	DeleteResourceConfig(ctx context.Context, key string) error

	SetIdempotentData(ctx context.Context, key string) error
	ExistsIdempotentData(ctx context.Context, key string) (bool, error)
	DeleteIdempotentData(ctx context.Context, key string) error
}

// InnerService is the meta-service-to-broker back-channel (spec.md §6
// "Inner-RPC (meta -> broker)"). Nothing in this module implements or
// calls it; the controllers and state.Machine push to brokers through the
// narrower controller.Notifier and state.Sink interfaces.
type InnerService interface {
	UpdateMqttCache(ctx context.Context, clusterName, resourceType string, action string, payload []byte, raftIndex uint64) error
	DeleteSession(ctx context.Context, clusterName string, clientIDs []string) error
	SendLastWillMessage(ctx context.Context, clientID string, lastWillMessageBytes []byte) error
}
