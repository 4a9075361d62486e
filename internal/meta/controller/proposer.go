package controller

import (
	"context"
	"encoding/json"

	"github.com/robustmq/robustmq/internal/errs"
	"github.com/robustmq/robustmq/internal/meta/state"
)

// Proposer submits a StorageData entry to the Raft log. raftnode.Node
// satisfies this directly; controllers never mutate the KV store or
// cache themselves; they go through Raft like any other client write so
// every replica, not just the leader that detected the condition, ends
// up with the same state (spec.md §4.2 apply discipline).
type Proposer interface {
	Propose(ctx context.Context, data []byte) error
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
