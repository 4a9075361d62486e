package controller

import (
	"hash/fnv"
	"sort"
)

// ElectSharedSubLeader picks the broker that owns delivery for a
// $share/<group>/<topic> subscription. Resolved Open Question
// (SPEC_FULL.md, spec.md §9): deterministic hash of (group, topic) over
// the live broker set, not round-robin, so re-evaluating the assignment
// after a membership change doesn't require persisting a rotation
// pointer — any node can recompute the same answer from the current
// broker set alone. members may be passed in any order: a sorted copy is
// hashed into, so the result is stable across calls.
func ElectSharedSubLeader(group, topic string, members []uint64) (uint64, bool) {
	if len(members) == 0 {
		return 0, false
	}
	sorted := make([]uint64, len(members))
	copy(sorted, members)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	h := fnv.New64a()
	_, _ = h.Write([]byte(group))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(topic))
	idx := h.Sum64() % uint64(len(sorted))
	return sorted[idx], true
}
