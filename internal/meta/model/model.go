// Package model holds the cluster-wide metadata types owned exclusively by
// the meta service's replicated state machine (spec.md §3 "Data model").
// Every type here is JSON-serialisable: the spec leaves the embedded KV's
// on-disk encoding unspecified (§1 Non-goals), and JSON keeps StorageData
// payloads self-describing without requiring a protobuf toolchain, which
// the spec puts out of scope anyway (gRPC/tonic plumbing, §1).
package model

import "time"

// Cluster is the singleton deployment record, created on first node
// registration.
type Cluster struct {
	ClusterName string    `json:"cluster_name"`
	CreateTime  time.Time `json:"create_time"`
}

type ClusterType string

const (
	ClusterTypeMeta    ClusterType = "meta"
	ClusterTypeMQTT    ClusterType = "mqtt"
	ClusterTypeJournal ClusterType = "journal"
	ClusterTypeKafka   ClusterType = "kafka"
)

// BrokerNode is a registered process in the cluster. node_id is unique
// within (cluster_name, cluster_type).
type BrokerNode struct {
	ClusterType   ClusterType     `json:"cluster_type"`
	ClusterName   string          `json:"cluster_name"`
	NodeID        uint64          `json:"node_id"`
	NodeIP        string          `json:"node_ip"`
	NodeInnerAddr string          `json:"node_inner_addr"`
	RegisterTime  time.Time       `json:"register_time"`
	StartTime     time.Time       `json:"start_time"`
	Extend        map[string]any  `json:"extend,omitempty"`
}

// User is a cluster-scoped MQTT credential.
type User struct {
	ClusterName string    `json:"cluster_name"`
	Username    string    `json:"username"`
	Password    string    `json:"password"`
	IsSuperuser bool      `json:"is_superuser"`
	CreateTime  time.Time `json:"create_time"`
}

type ResourceType string

const (
	ResourceUser     ResourceType = "User"
	ResourceClientID ResourceType = "ClientId"
)

type AclAction string

const (
	ActionPublish   AclAction = "Publish"
	ActionSubscribe AclAction = "Subscribe"
	ActionAll       AclAction = "All"
)

type Permission string

const (
	PermissionAllow Permission = "Allow"
	PermissionDeny  Permission = "Deny"
)

// Acl is a single access-control rule, keyed by resource type then scanned
// linearly (§4.1 "ACL evaluation").
type Acl struct {
	ResourceType ResourceType `json:"resource_type"`
	ResourceName string       `json:"resource_name"`
	Topic        string       `json:"topic"`
	IP           string       `json:"ip"`
	Action       AclAction    `json:"action"`
	Permission   Permission   `json:"permission"`
}

type BlacklistType string

const (
	BlacklistUser          BlacklistType = "User"
	BlacklistClientID      BlacklistType = "ClientId"
	BlacklistIP            BlacklistType = "Ip"
	BlacklistUserMatch     BlacklistType = "UserMatch"
	BlacklistClientIDMatch BlacklistType = "ClientIdMatch"
	BlacklistIPCIDR        BlacklistType = "IpCIDR"
)

// Blacklist bans a resource until EndTime. *Match variants are regex,
// IpCIDR carries CIDR notation (§3).
type Blacklist struct {
	ClusterName   string        `json:"cluster_name"`
	BlacklistType BlacklistType `json:"blacklist_type"`
	ResourceName  string        `json:"resource_name"`
	EndTime       int64         `json:"end_time"` // unix seconds
	Desc          string        `json:"desc"`
}

// Topic is a created MQTT topic plus at most one retained message.
type Topic struct {
	ClusterName string    `json:"cluster_name"`
	TopicName   string    `json:"topic_name"`
	TopicID     string    `json:"topic_id"`
	CreateTime  time.Time `json:"create_time"`

	Retain *RetainMessage `json:"retain,omitempty"`
}

// RetainMessage is at-most-one per topic (§3, §4.1 "Retained forwarding").
type RetainMessage struct {
	Payload    []byte            `json:"payload"`
	Properties map[string]string `json:"properties,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	ExpiryInterval uint32        `json:"expiry_interval,omitempty"` // seconds; 0 = cluster default (design note §9)
}

// Session is the durable per-client session record. At most one live
// connection per client_id (§3 invariant).
type Session struct {
	ClusterName           string     `json:"cluster_name"`
	ClientID               string     `json:"client_id"`
	ConnectionID            *uint64    `json:"connection_id,omitempty"`
	BrokerID                *uint64    `json:"broker_id,omitempty"`
	SessionExpiry           uint32     `json:"session_expiry"`
	LastWillDelayInterval   *uint32    `json:"last_will_delay_interval,omitempty"`
	LastWill                *LastWill  `json:"last_will,omitempty"`
	CreateTime              time.Time  `json:"create_time"`
	LastUpdateTime          time.Time  `json:"last_update_time"`
}

// LastWill is queued at CONNECT time and fired by the meta service's
// last-will controller after LastWillDelayInterval once the session ends
// abnormally (§4.1 "Last-will").
type LastWill struct {
	Topic      string            `json:"topic"`
	Payload    []byte            `json:"payload"`
	QoS        byte              `json:"qos"`
	Retain     bool              `json:"retain"`
	Properties map[string]string `json:"properties,omitempty"`
	ReadyAt    time.Time         `json:"ready_at"`
}

// Subscription is a single (client_id, sub_path) entry. sub_path may carry
// the $share/<group>/ or $exclusive prefixes (§3, §4.1).
type Subscription struct {
	ClusterName            string    `json:"cluster_name"`
	ClientID               string    `json:"client_id"`
	SubPath                string    `json:"sub_path"`
	QoS                    byte      `json:"qos"`
	NoLocal                bool      `json:"no_local"`
	RetainAsPublished      bool      `json:"retain_as_published"`
	RetainHandling         byte      `json:"retain_handling"`
	SubscriptionIdentifier *uint32   `json:"subscription_identifier,omitempty"`
	CreateTime             time.Time `json:"create_time"`
}

type ConnectorType string

const (
	ConnectorFile          ConnectorType = "File"
	ConnectorKafka         ConnectorType = "Kafka"
	ConnectorPulsar        ConnectorType = "Pulsar"
	ConnectorElasticsearch ConnectorType = "Elasticsearch"
	ConnectorGreptimeDB    ConnectorType = "GreptimeDB"
)

type ConnectorStatus string

const (
	ConnectorIdle    ConnectorStatus = "Idle"
	ConnectorRunning ConnectorStatus = "Running"
	ConnectorFailed  ConnectorStatus = "Failed"
)

// Connector describes a replicated egress pipeline from a topic to an
// external sink. Running on exactly one broker at a time (§3 invariant).
type Connector struct {
	ClusterName   string          `json:"cluster_name"`
	ConnectorName string          `json:"connector_name"`
	ConnectorType ConnectorType   `json:"connector_type"`
	Config        map[string]any  `json:"config"`
	TopicID       string          `json:"topic_id"`
	Status        ConnectorStatus `json:"status"`
	BrokerID      *uint64         `json:"broker_id,omitempty"`
	CreateTime    time.Time       `json:"create_time"`
	UpdateTime    time.Time       `json:"update_time"`
	LastHeartbeat time.Time       `json:"last_heartbeat"`
}

// AutoSubscribeRule is applied at session creation (§3).
type AutoSubscribeRule struct {
	ClusterName       string `json:"cluster_name"`
	Topic             string `json:"topic"`
	QoS               byte   `json:"qos"`
	NoLocal           bool   `json:"no_local"`
	RetainAsPublished bool   `json:"retain_as_published"`
	RetainHandling    byte   `json:"retain_handling"`
}

// TopicRewriteRule is applied at publish/subscribe time, ordered by
// Timestamp ascending with first-match-wins (§3).
type TopicRewriteRule struct {
	ClusterName    string    `json:"cluster_name"`
	Action         AclAction `json:"action"`
	SourcePattern  string    `json:"source_pattern"`
	DestTopic      string    `json:"dest_topic"`
	Timestamp      int64     `json:"timestamp"`
}

type SegmentStatus string

const (
	SegmentIdle          SegmentStatus = "Idle"
	SegmentWrite         SegmentStatus = "Write"
	SegmentPrepareSealUp SegmentStatus = "PrepareSealUp"
	SegmentSealUp        SegmentStatus = "SealUp"
	SegmentPreDelete     SegmentStatus = "PreDelete"
	SegmentDeleted       SegmentStatus = "Deleted"
)

type ShardStatus string

const (
	ShardRun           ShardStatus = "Run"
	ShardPrepareDelete ShardStatus = "PrepareDelete"
	ShardDeleted       ShardStatus = "Deleted"
)

// JournalShard is a named append-only log composed of an ordered chain of
// segments (§3, §4.3).
type JournalShard struct {
	ClusterName      string      `json:"cluster_name"`
	Namespace        string      `json:"namespace"`
	ShardName        string      `json:"shard_name"`
	ReplicaCount     int         `json:"replica_count"`
	StartSegmentSeq  uint64      `json:"start_segment_seq"`
	ActiveSegmentSeq uint64      `json:"active_segment_seq"`
	LastSegmentSeq   uint64      `json:"last_segment_seq"`
	Status           ShardStatus `json:"status"`
	CreateTime       time.Time   `json:"create_time"`
}

// SegmentReplica is one replica assignment for a segment.
type SegmentReplica struct {
	NodeID   uint64 `json:"node_id"`
	DataFold string `json:"data_fold"`
}

// JournalSegment is a file-backed range of offsets within a shard. Exactly
// one segment per shard is Write at a time (§3 invariant).
type JournalSegment struct {
	ClusterName string           `json:"cluster_name"`
	Namespace   string           `json:"namespace"`
	ShardName   string           `json:"shard_name"`
	SegmentSeq  uint64           `json:"segment_seq"`
	Replicas    []SegmentReplica `json:"replicas"`
	Status      SegmentStatus    `json:"status"`
	CreateTime  time.Time        `json:"create_time"`
}

// JournalSegmentMeta tracks the offset/time range of a segment.
// EndOffset == -1 while the segment is active (§3).
type JournalSegmentMeta struct {
	ShardName      string `json:"shard_name"`
	SegmentSeq     uint64 `json:"segment_seq"`
	StartOffset    int64  `json:"start_offset"`
	EndOffset      int64  `json:"end_offset"`
	StartTimestamp int64  `json:"start_timestamp"`
	EndTimestamp   int64  `json:"end_timestamp"`
}

// OffsetCommit records a consumer group's committed read position.
type OffsetCommit struct {
	ClusterName string    `json:"cluster_name"`
	Group       string    `json:"group"`
	Namespace   string    `json:"namespace"`
	ShardName   string    `json:"shard_name"`
	Offset      int64     `json:"offset"`
	Timestamp   time.Time `json:"timestamp"`
}
