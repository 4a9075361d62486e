// Package router implements the journal engine's client-side request
// routing (spec.md §4.3: "client-side request routing to segment
// leaders, read merging across replicas"). It has no direct friggdb
// counterpart (friggdb has no replica/leader concept — compaction
// pushes to a single backend), so it is grounded on spec.md §4.3's read
// and write path descriptions directly. It makes a single attempt per
// replica call; it does not retry.
package router

import (
	"context"
	"sort"

	"github.com/robustmq/robustmq/internal/errs"
	"github.com/robustmq/robustmq/internal/journal"
	"github.com/robustmq/robustmq/internal/meta/model"
)

// SegmentReplicas resolves a segment's ordered replica list (first is
// leader, spec.md §3 "Journal segment"); it is the client-side mirror
// of what the meta service tracks for each JournalSegment.
type SegmentReplicas interface {
	Replicas(namespace, shardName string, segmentSeq uint64) ([]model.SegmentReplica, bool)
}

// LocalNode identifies this process by node id; Router compares it with
// a segment's replica list to tell whether this node is a replica, and
// whether it is the leader (first) replica.
type LocalNode struct {
	NodeID uint64
}

// RemoteEngine is a thin RPC-shaped view of another node's journal
// engine, used to forward writes to the leader replica and to fan out
// reads to replicas that aren't local (spec.md §4.3 step 4: "fan out
// via ReadByRemote to the leader and merge results ordered by offset").
type RemoteEngine interface {
	Write(ctx context.Context, nodeID uint64, namespace, shardName string, records []journal.Record) ([]int64, error)
	Read(ctx context.Context, nodeID uint64, namespace, shardName string, offset int64, maxRecords int, maxBytes int64) ([]journal.Record, error)
}

// Router picks where a write or read actually executes for a given
// segment, given this node's local engine, its own node id, and a view
// of the other replicas.
type Router struct {
	self    LocalNode
	local   *journal.Engine
	remote  RemoteEngine
	members SegmentReplicas
}

func New(self LocalNode, local *journal.Engine, remote RemoteEngine, members SegmentReplicas) *Router {
	return &Router{self: self, local: local, remote: remote, members: members}
}

// Write routes to the segment's leader replica: locally if this node is
// the leader, otherwise forwarded over RemoteEngine (spec.md §4.3 write
// path: "writes are issued to [the leader]").
func (r *Router) Write(ctx context.Context, namespace, shardName string, activeSeq uint64, records []journal.Record) ([]int64, error) {
	replicas, ok := r.members.Replicas(namespace, shardName, activeSeq)
	if !ok || len(replicas) == 0 {
		return nil, errs.New(errs.NotFound, "no replica set known for segment")
	}
	leader := replicas[0]
	if leader.NodeID == r.self.NodeID {
		return r.local.Write(ctx, namespace, shardName, records)
	}
	return r.remote.Write(ctx, leader.NodeID, namespace, shardName, records)
}

// Read serves from a local replica when this node holds one for the
// segment covering the offset; otherwise it fans out to every other
// replica and merges, de-duplicating by offset and keeping the result
// ordered ascending (spec.md §4.3 step 4-5: reads are eventually
// complete from any replica, merged ordered by offset).
func (r *Router) Read(ctx context.Context, namespace, shardName string, segmentSeq uint64, offset int64, maxRecords int, maxBytes int64) ([]journal.Record, error) {
	replicas, ok := r.members.Replicas(namespace, shardName, segmentSeq)
	if !ok || len(replicas) == 0 {
		return nil, errs.New(errs.NotFound, "no replica set known for segment")
	}

	if r.hasLocalReplica(replicas) {
		recs, err := r.local.Read(ctx, namespace, shardName, offset, maxRecords, maxBytes)
		if err == nil && len(recs) > 0 {
			return recs, nil
		}
		if err != nil && !errs.Is(err, errs.NotFound) {
			return nil, err
		}
	}

	merged := map[int64]journal.Record{}
	for _, replica := range replicas {
		if replica.NodeID == r.self.NodeID {
			continue
		}
		recs, err := r.remote.Read(ctx, replica.NodeID, namespace, shardName, offset, maxRecords, maxBytes)
		if err != nil {
			continue
		}
		for _, rec := range recs {
			merged[rec.Offset] = rec
		}
		if len(merged) >= maxRecords {
			break
		}
	}

	if len(merged) == 0 {
		return nil, errs.New(errs.NotFound, "offset not yet replicated on any reachable replica")
	}

	out := make([]journal.Record, 0, len(merged))
	for _, rec := range merged {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	if len(out) > maxRecords {
		out = out[:maxRecords]
	}
	return out, nil
}

func (r *Router) hasLocalReplica(replicas []model.SegmentReplica) bool {
	for _, replica := range replicas {
		if replica.NodeID == r.self.NodeID {
			return true
		}
	}
	return false
}
