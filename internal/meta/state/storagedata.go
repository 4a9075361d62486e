// Package state implements the meta service's Raft-applied state machine
// (spec.md §4.2): decoding committed StorageData entries, mutating the
// embedded KV store, mutating the in-memory read cache, and queuing
// cache-update pushes to affected brokers. The apply discipline runs on a
// single goroutine per Machine, matching "The applier executes in a single
// task (no concurrent apply)".
package state

// EntryType enumerates every StorageData payload kind from spec.md §4.2.
type EntryType string

const (
	ClusterAddNode    EntryType = "ClusterAddNode"
	ClusterDeleteNode EntryType = "ClusterDeleteNode"
	ClusterAddCluster EntryType = "ClusterAddCluster"

	KvSet    EntryType = "KvSet"
	KvDelete EntryType = "KvDelete"

	MqttSetUser      EntryType = "MqttSetUser"
	MqttDeleteUser   EntryType = "MqttDeleteUser"
	MqttSetAcl       EntryType = "MqttSetAcl"
	MqttDeleteAcl    EntryType = "MqttDeleteAcl"
	MqttSetBlacklist EntryType = "MqttSetBlacklist"
	MqttDeleteBlacklist EntryType = "MqttDeleteBlacklist"

	MqttSetSession    EntryType = "MqttSetSession"
	MqttUpdateSession EntryType = "MqttUpdateSession"
	MqttDeleteSession EntryType = "MqttDeleteSession"

	MqttSetTopic               EntryType = "MqttSetTopic"
	MqttDeleteTopic            EntryType = "MqttDeleteTopic"
	MqttSetTopicRetainMessage  EntryType = "MqttSetTopicRetainMessage"

	MqttSetSubscribe    EntryType = "MqttSetSubscribe"
	MqttDeleteSubscribe EntryType = "MqttDeleteSubscribe"

	MqttSetConnector    EntryType = "MqttSetConnector"
	MqttDeleteConnector EntryType = "MqttDeleteConnector"

	MqttSetAutoSubscribeRule    EntryType = "MqttSetAutoSubscribeRule"
	MqttDeleteAutoSubscribeRule EntryType = "MqttDeleteAutoSubscribeRule"

	MqttSetTopicRewriteRule    EntryType = "MqttSetTopicRewriteRule"
	MqttDeleteTopicRewriteRule EntryType = "MqttDeleteTopicRewriteRule"

	JournalSetShard       EntryType = "JournalSetShard"
	JournalDeleteShard    EntryType = "JournalDeleteShard"
	JournalSetSegment     EntryType = "JournalSetSegment"
	JournalDeleteSegment  EntryType = "JournalDeleteSegment"
	JournalSetSegmentMeta EntryType = "JournalSetSegmentMeta"
	JournalDeleteSegmentMeta EntryType = "JournalDeleteSegmentMeta"

	OffsetSet EntryType = "OffsetSet"
)

// StorageData is a single committed Raft log entry: a type tag plus an
// opaque, self-describing payload (JSON-encoded, per SPEC_FULL.md §A). All
// writers (the client-write RPC handlers) and the Machine applier must
// agree on the payload shape for a given Type.
type StorageData struct {
	Type    EntryType `json:"type"`
	Payload []byte    `json:"payload"`
}
