package store

import "fmt"

// Key builders for every entity the Raft state machine owns (spec.md §3,
// §4.3). Centralising them here keeps the apply discipline in state.Machine
// from hand-rolling fmt.Sprintf at each call site, the way the teacher
// centralises block/meta file-name builders in friggdb/backend/local.

func ClusterKey(name string) string { return fmt.Sprintf("/cluster/%s", name) }

func NodeKey(clusterName string, clusterType string, nodeID uint64) string {
	return fmt.Sprintf("/node/%s/%s/%d", clusterName, clusterType, nodeID)
}

func NodePrefix(clusterName string, clusterType string) string {
	return fmt.Sprintf("/node/%s/%s/", clusterName, clusterType)
}

func UserKey(clusterName, username string) string {
	return fmt.Sprintf("/mqtt/user/%s/%s", clusterName, username)
}

func UserPrefix(clusterName string) string { return fmt.Sprintf("/mqtt/user/%s/", clusterName) }

func AclKey(clusterName string, resourceType, resourceName string) string {
	return fmt.Sprintf("/mqtt/acl/%s/%s/%s", clusterName, resourceType, resourceName)
}

func AclPrefix(clusterName string) string { return fmt.Sprintf("/mqtt/acl/%s/", clusterName) }

func BlacklistKey(clusterName string, blacklistType, resourceName string) string {
	return fmt.Sprintf("/mqtt/blacklist/%s/%s/%s", clusterName, blacklistType, resourceName)
}

func BlacklistPrefix(clusterName string) string {
	return fmt.Sprintf("/mqtt/blacklist/%s/", clusterName)
}

func SessionKey(clusterName, clientID string) string {
	return fmt.Sprintf("/mqtt/session/%s/%s", clusterName, clientID)
}

func SessionPrefix(clusterName string) string { return fmt.Sprintf("/mqtt/session/%s/", clusterName) }

func TopicKey(clusterName, topicName string) string {
	return fmt.Sprintf("/mqtt/topic/%s/%s", clusterName, topicName)
}

func TopicPrefix(clusterName string) string { return fmt.Sprintf("/mqtt/topic/%s/", clusterName) }

func SubscribeKey(clusterName, clientID, subPath string) string {
	return fmt.Sprintf("/mqtt/subscribe/%s/%s/%s", clusterName, clientID, subPath)
}

func SubscribePrefix(clusterName string) string {
	return fmt.Sprintf("/mqtt/subscribe/%s/", clusterName)
}

func ConnectorKey(clusterName, connectorName string) string {
	return fmt.Sprintf("/mqtt/connector/%s/%s", clusterName, connectorName)
}

func ConnectorPrefix(clusterName string) string {
	return fmt.Sprintf("/mqtt/connector/%s/", clusterName)
}

func AutoSubscribeKey(clusterName, topic string) string {
	return fmt.Sprintf("/mqtt/autosubscribe/%s/%s", clusterName, topic)
}

func AutoSubscribePrefix(clusterName string) string {
	return fmt.Sprintf("/mqtt/autosubscribe/%s/", clusterName)
}

func RewriteRuleKey(clusterName string, timestamp int64, sourcePattern string) string {
	return fmt.Sprintf("/mqtt/rewrite/%s/%020d/%s", clusterName, timestamp, sourcePattern)
}

func RewriteRulePrefix(clusterName string) string { return fmt.Sprintf("/mqtt/rewrite/%s/", clusterName) }

func ShardKey(clusterName, namespace, shardName string) string {
	return fmt.Sprintf("/journal/shard/%s/%s/%s", clusterName, namespace, shardName)
}

func ShardPrefix(clusterName, namespace string) string {
	return fmt.Sprintf("/journal/shard/%s/%s/", clusterName, namespace)
}

func SegmentKey(clusterName, namespace, shardName string, segmentSeq uint64) string {
	return fmt.Sprintf("/journal/segment/%s/%s/%s/%020d", clusterName, namespace, shardName, segmentSeq)
}

func SegmentPrefix(clusterName, namespace, shardName string) string {
	return fmt.Sprintf("/journal/segment/%s/%s/%s/", clusterName, namespace, shardName)
}

func SegmentMetaKey(shardName string, segmentSeq uint64) string {
	return fmt.Sprintf("/journal/segmentmeta/%s/%020d", shardName, segmentSeq)
}

func OffsetKey(clusterName, group, namespace, shardName string) string {
	return fmt.Sprintf("/offset/%s/%s/%s/%s", clusterName, group, namespace, shardName)
}

// Journal segment index keys, per spec.md §4.3 "Segment files".

func IndexPrefix(shardName string, seg uint64) string {
	return fmt.Sprintf("/index/%s/%d/", shardName, seg)
}

func IndexOffsetStartKey(shardName string, seg uint64) string {
	return fmt.Sprintf("/index/%s/%d/offset/start", shardName, seg)
}

func IndexOffsetEndKey(shardName string, seg uint64) string {
	return fmt.Sprintf("/index/%s/%d/offset/end", shardName, seg)
}

func IndexOffsetPositionKey(shardName string, seg uint64, offset int64) string {
	return fmt.Sprintf("/index/%s/%d/offset/position-%020d", shardName, seg, offset)
}

func IndexTimestampKey(shardName string, seg uint64, ts int64) string {
	return fmt.Sprintf("/index/%s/%d/timestamp/time-%020d", shardName, seg, ts)
}

func IndexTimestampPrefix(shardName string, seg uint64) string {
	return fmt.Sprintf("/index/%s/%d/timestamp/time-", shardName, seg)
}

func IndexTagKey(shardName string, seg uint64, tag string, offset int64) string {
	return fmt.Sprintf("/index/%s/%d/tag/%s/%020d", shardName, seg, tag, offset)
}

func IndexTagPrefix(shardName string, seg uint64, tag string) string {
	return fmt.Sprintf("/index/%s/%d/tag/%s/", shardName, seg, tag)
}

func IndexKeyKey(shardName string, seg uint64, key string, offset int64) string {
	return fmt.Sprintf("/index/%s/%d/key/%s/%020d", shardName, seg, key, offset)
}

func IndexKeyPrefix(shardName string, seg uint64, key string) string {
	return fmt.Sprintf("/index/%s/%d/key/%s/", shardName, seg, key)
}

func IndexBuildLastOffsetKey(shardName string, seg uint64) string {
	return fmt.Sprintf("/index/%s/%d/build/last/offset", shardName, seg)
}
