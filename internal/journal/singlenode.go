package journal

import (
	"context"
	"fmt"
	"sync"

	"github.com/robustmq/robustmq/internal/journal/index"
)

// SingleNodeMeta is the default SegmentLocator/ShardOpener for a
// standalone deployment: one active segment per shard, rolled over in
// place, with no meta-service round trip. It mirrors the bootstrap case
// spec.md §4.3 describes for a shard's first segment ("start_offset=0,
// segment_seq=0") and the roll-over case ("seal current, open
// segment_seq+1"). A clustered deployment replaces this with a
// SegmentLocator/ShardOpener pair backed by internal/meta/rpc.Client's
// CreateShard/CreateNextSegment/GetActiveSegment calls instead of this
// in-memory map; that client-side adapter isn't wired up yet.
type SingleNodeMeta struct {
	idx *index.Store

	mu    sync.Mutex
	shard map[string]*singleNodeShard
}

type singleNodeShard struct {
	activeSeq    uint64
	startOffsets map[uint64]int64
}

func NewSingleNodeMeta(idx *index.Store) *SingleNodeMeta {
	return &SingleNodeMeta{idx: idx, shard: make(map[string]*singleNodeShard)}
}

func singleNodeKey(namespace, shardName string) string { return namespace + "/" + shardName }

func (m *SingleNodeMeta) EnsureShard(_ context.Context, namespace, shardName string) (uint64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := singleNodeKey(namespace, shardName)
	if s, ok := m.shard[k]; ok {
		return s.activeSeq, s.startOffsets[s.activeSeq], nil
	}
	m.shard[k] = &singleNodeShard{activeSeq: 0, startOffsets: map[uint64]int64{0: 0}}
	return 0, 0, nil
}

func (m *SingleNodeMeta) SegmentForOffset(namespace, shardName string, offset int64) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.shard[singleNodeKey(namespace, shardName)]
	if !ok {
		return 0, false
	}
	best, found := uint64(0), false
	for seq, start := range s.startOffsets {
		if start <= offset && (!found || seq > best) {
			best, found = seq, true
		}
	}
	return best, found
}

func (m *SingleNodeMeta) ActiveSegment(namespace, shardName string) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.shard[singleNodeKey(namespace, shardName)]
	if !ok {
		return 0, false
	}
	return s.activeSeq, true
}

// OnSealed is the shard.SealedSegmentHook implementation: it reads the
// sealed segment's end offset back out of the index (already written by
// the caller before invoking this hook) to compute the next segment's
// start offset.
func (m *SingleNodeMeta) OnSealed(_ context.Context, namespace, shardName string, sealedSeq uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.shard[singleNodeKey(namespace, shardName)]
	if !ok {
		return 0, fmt.Errorf("OnSealed: unknown shard %s/%s", namespace, shardName)
	}

	sealedEnd, found, err := m.idx.GetOffsetEnd(shardName, sealedSeq)
	if err != nil {
		return 0, err
	}
	nextStart := int64(0)
	if found {
		nextStart = sealedEnd + 1
	}

	next := sealedSeq + 1
	s.activeSeq = next
	s.startOffsets[next] = nextStart
	return next, nil
}
