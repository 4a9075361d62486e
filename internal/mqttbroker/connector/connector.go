// Package connector runs egress pipelines from a topic's journal shard
// to an external sink (spec.md §3 "Connector"). Grounded on
// internal/meta/controller's leader-gated Controller shape (a connector
// is itself just a long-running task assigned to exactly one broker by
// the meta service's connector scheduler) and on friggdb/compactor.go's
// poll-read-then-advance-bookmark loop for the read side.
package connector

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/robustmq/robustmq/internal/journal"
)

// Sink delivers one record's payload to an external system.
type Sink interface {
	Write(ctx context.Context, payload []byte) error
	Close() error
}

// Source reads records from a topic's journal shard starting at offset.
type Source interface {
	Read(ctx context.Context, namespace, shardName string, offset int64, maxRecords int, maxBytes int64) ([]journal.Record, error)
}

// OffsetTracker persists the connector's read cursor (spec.md §3
// OffsetCommit) so a restart resumes instead of re-delivering from
// zero.
type OffsetTracker interface {
	GetOffset(connectorName string) (int64, bool, error)
	PutOffset(connectorName string, offset int64) error
}

// Pipeline polls a shard for new records and forwards each payload to a
// Sink, committing its offset after each successful batch.
type Pipeline struct {
	Name      string
	Namespace string
	ShardName string
	Source    Source
	Sink      Sink
	Offsets   OffsetTracker
	PollEvery time.Duration
	BatchSize int
	MaxBytes  int64
	Logger    log.Logger
}

func (p *Pipeline) Run(ctx context.Context) error {
	defer p.Sink.Close()

	offset, _, err := p.Offsets.GetOffset(p.Name)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(p.PollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			next, err := p.deliverBatch(ctx, offset)
			if err != nil {
				level.Error(p.Logger).Log("msg", "connector delivery failed", "connector", p.Name, "err", err)
				continue
			}
			offset = next
		}
	}
}

func (p *Pipeline) deliverBatch(ctx context.Context, offset int64) (int64, error) {
	records, err := p.Source.Read(ctx, p.Namespace, p.ShardName, offset, p.BatchSize, p.MaxBytes)
	if err != nil {
		return offset, err
	}
	if len(records) == 0 {
		return offset, nil
	}
	for _, rec := range records {
		if err := p.Sink.Write(ctx, rec.Payload); err != nil {
			return offset, err
		}
		offset = rec.Offset + 1
	}
	if err := p.Offsets.PutOffset(p.Name, offset); err != nil {
		return offset, err
	}
	return offset, nil
}
