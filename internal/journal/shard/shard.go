// Package shard implements one journal shard's write path: a single
// goroutine (fed by a request channel) assigns offsets in a total order
// and appends to the active segment file, matching spec.md §5 "Per-shard
// writes are serialised through a per-shard actor (an mpsc channel
// feeding one task) so that offsets are assigned in a total order."
// Grounded on friggdb/wal/head_block.go's single-writer append file plus
// friggdb/compactor_block.go's roll-to-next-block pattern, adapted from
// trace-id-keyed blocks to RobustMQ's dense offset-addressed segments.
package shard

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/robustmq/robustmq/internal/errs"
	"github.com/robustmq/robustmq/internal/journal"
	"github.com/robustmq/robustmq/internal/journal/backend"
	"github.com/robustmq/robustmq/internal/journal/index"
	"github.com/robustmq/robustmq/internal/journal/segment"
)

// SealedSegmentHook is invoked after a segment is sealed locally, giving
// the caller (the engine, backed by the meta service) a chance to
// transition the segment's status through Raft and create the next one.
// Returning the next segment's sequence number lets the caller control
// numbering (meta-service-assigned) rather than the shard actor guessing.
type SealedSegmentHook func(ctx context.Context, namespace, shardName string, sealedSeq uint64) (nextSeq uint64, err error)

type writeRequest struct {
	records []journal.Record
	replyCh chan writeReply
}

type writeReply struct {
	offsets []int64
	err     error
}

// Config configures one shard actor.
type Config struct {
	Namespace       string
	ShardName       string
	LocalDir        string // staging directory for the active segment file
	SegmentMaxBytes int64
	Backend         backend.Backend
	Index           *index.Store
	OnSealed        SealedSegmentHook
}

// Shard owns the active segment for one (namespace, shard) pair.
type Shard struct {
	cfg    Config
	logger log.Logger

	reqCh  chan writeRequest
	done   chan struct{}
	cancel context.CancelFunc

	activeSeq  uint64
	nextOffset int64
	writer     *segment.Writer
	bytesInSeg int64
}

// Open starts a shard actor for segmentSeq, recovering the active
// segment file if one already exists (spec.md §4.3 crash recovery).
func Open(ctx context.Context, cfg Config, segmentSeq uint64, startOffset int64, logger log.Logger) (*Shard, error) {
	if err := os.MkdirAll(cfg.LocalDir, 0o755); err != nil {
		return nil, errs.Wrap(errs.Internal, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s := &Shard{
		cfg:        cfg,
		logger:     logger,
		reqCh:      make(chan writeRequest, 64),
		done:       make(chan struct{}),
		cancel:     cancel,
		activeSeq:  segmentSeq,
		nextOffset: startOffset,
	}

	if err := s.openOrRecoverActiveSegment(); err != nil {
		cancel()
		return nil, err
	}

	go s.run(runCtx)
	return s, nil
}

func (s *Shard) segmentPath(seq uint64) string {
	return filepath.Join(s.cfg.LocalDir, fmt.Sprintf("%020d.seg", seq))
}

func (s *Shard) openOrRecoverActiveSegment() error {
	path := s.segmentPath(s.activeSeq)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		w, err := segment.CreateWriter(path, segment.Header{SegmentSeq: uint32(s.activeSeq), CreatedAt: time.Now()})
		if err != nil {
			return err
		}
		s.writer = w
		s.bytesInSeg = w.Position()
		s.cfg.Index.EnableBloom(s.cfg.ShardName, s.activeSeq)
		return s.cfg.Index.PutOffsetStart(s.cfg.ShardName, s.activeSeq, s.nextOffset)
	}

	// Recovery: rebuild indexes from build/last/offset forward, then
	// reopen the file for append at its current end.
	lastOffset, _, err := s.cfg.Index.GetBuildLastOffset(s.cfg.ShardName, s.activeSeq)
	if err != nil {
		return err
	}

	reader, err := segment.OpenReader(path)
	if err != nil {
		return errs.Wrap(errs.Internal, err)
	}
	hdr, err := reader.Header()
	if err != nil {
		reader.Close()
		return err
	}
	_ = hdr

	resumeOffset := lastOffset
	resumePos, ok, err := s.cfg.Index.GetPosition(s.cfg.ShardName, s.activeSeq, resumeOffset)
	if err != nil {
		reader.Close()
		return err
	}
	if !ok {
		resumePos = 17 // nothing indexed yet: full rescan from the first record, past the 17-byte file header
		// A full rescan replays every record in the segment, so the
		// in-memory tag/key bloom filters built up along the way will
		// be complete; a partial-resume recovery skips earlier records
		// and must not enable them (see index.Store.EnableBloom).
		s.cfg.Index.EnableBloom(s.cfg.ShardName, s.activeSeq)
	}

	endPos := resumePos
	scanErr := reader.ScanFrom(resumePos, func(pos int64, payload []byte, corrupt bool) (bool, error) {
		endPos = pos + 8 + int64(len(payload)) // length(u32) + crc32(u32) frame, then payload
		if corrupt {
			level.Error(s.logger).Log("msg", "segment record corrupt during recovery, skipping", "shard", s.cfg.ShardName, "seg", s.activeSeq, "pos", pos)
			return true, nil
		}
		rec, err := journal.DecodeRecord(payload)
		if err != nil {
			return true, nil
		}
		if err := s.indexRecord(rec, pos); err != nil {
			return false, err
		}
		if rec.Offset >= s.nextOffset {
			s.nextOffset = rec.Offset + 1
		}
		return true, nil
	})
	reader.Close()
	if scanErr != nil {
		return scanErr
	}

	w, err := segment.OpenWriter(path, endPos)
	if err != nil {
		return err
	}
	s.writer = w
	s.bytesInSeg = endPos
	return nil
}

func (s *Shard) indexRecord(rec journal.Record, filePos int64) error {
	if err := s.cfg.Index.PutPosition(s.cfg.ShardName, s.activeSeq, rec.Offset, filePos); err != nil {
		return err
	}
	if err := s.cfg.Index.PutTimestamp(s.cfg.ShardName, s.activeSeq, rec.Timestamp.UnixNano(), rec.Offset); err != nil {
		return err
	}
	for _, tag := range rec.Tags {
		if err := s.cfg.Index.PutTag(s.cfg.ShardName, s.activeSeq, tag, rec.Offset); err != nil {
			return err
		}
	}
	if rec.Key != "" {
		if err := s.cfg.Index.PutKey(s.cfg.ShardName, s.activeSeq, rec.Key, rec.Offset); err != nil {
			return err
		}
	}
	return s.cfg.Index.PutBuildLastOffset(s.cfg.ShardName, s.activeSeq, rec.Offset)
}

// Append submits records for the shard's single writer goroutine to
// assign offsets to and persist, in submission order.
func (s *Shard) Append(ctx context.Context, records []journal.Record) ([]int64, error) {
	reply := make(chan writeReply, 1)
	select {
	case s.reqCh <- writeRequest{records: records, replyCh: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, errs.New(errs.Unavailable, "shard actor stopped")
	}

	select {
	case r := <-reply:
		return r.offsets, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Shard) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			_ = s.writer.Close()
			return
		case req := <-s.reqCh:
			offsets, err := s.handleWrite(ctx, req.records)
			req.replyCh <- writeReply{offsets: offsets, err: err}
		}
	}
}

func (s *Shard) handleWrite(ctx context.Context, records []journal.Record) ([]int64, error) {
	offsets := make([]int64, 0, len(records))
	for i := range records {
		rec := records[i]
		rec.Offset = s.nextOffset
		rec.Timestamp = timeOrNow(rec.Timestamp)

		payload, err := journal.EncodeRecord(rec)
		if err != nil {
			return nil, err
		}
		pos, err := s.writer.Append(payload)
		if err != nil {
			return nil, errs.Wrap(errs.Internal, err)
		}
		if err := s.indexRecord(rec, pos); err != nil {
			return nil, err
		}

		s.nextOffset++
		s.bytesInSeg = s.writer.Position()
		offsets = append(offsets, rec.Offset)

		if s.bytesInSeg >= s.cfg.SegmentMaxBytes {
			if err := s.rollSegment(ctx); err != nil {
				return offsets, err
			}
		}
	}
	if err := s.writer.Flush(); err != nil {
		return offsets, errs.Wrap(errs.Internal, err)
	}
	return offsets, nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

func (s *Shard) rollSegment(ctx context.Context) error {
	sealedSeq := s.activeSeq
	if err := s.writer.Flush(); err != nil {
		return errs.Wrap(errs.Internal, err)
	}
	if err := s.cfg.Index.PutOffsetEnd(s.cfg.ShardName, sealedSeq, s.nextOffset-1); err != nil {
		return err
	}
	if err := s.writer.Close(); err != nil {
		return errs.Wrap(errs.Internal, err)
	}

	if s.cfg.Backend != nil {
		f, err := os.Open(s.segmentPath(sealedSeq))
		if err == nil {
			stat, _ := f.Stat()
			pushErr := s.cfg.Backend.WriteSegment(ctx, s.cfg.Namespace, s.cfg.ShardName, sealedSeq, f, stat.Size())
			f.Close()
			if pushErr != nil {
				level.Error(s.logger).Log("msg", "failed to push sealed segment to backend", "shard", s.cfg.ShardName, "seg", sealedSeq, "err", pushErr)
			}
		}
	}

	nextSeq := sealedSeq + 1
	if s.cfg.OnSealed != nil {
		seq, err := s.cfg.OnSealed(ctx, s.cfg.Namespace, s.cfg.ShardName, sealedSeq)
		if err != nil {
			return err
		}
		nextSeq = seq
	}

	w, err := segment.CreateWriter(s.segmentPath(nextSeq), segment.Header{SegmentSeq: uint32(nextSeq), CreatedAt: time.Now()})
	if err != nil {
		return errs.Wrap(errs.Internal, err)
	}
	s.cfg.Index.EnableBloom(s.cfg.ShardName, nextSeq)
	if err := s.cfg.Index.PutOffsetStart(s.cfg.ShardName, nextSeq, s.nextOffset); err != nil {
		return err
	}

	s.activeSeq = nextSeq
	s.writer = w
	s.bytesInSeg = w.Position()
	return nil
}

// ActiveSegmentSeq reports the currently open segment, used by read
// paths deciding whether a requested offset is still in the active
// (locally writable) segment or a sealed one.
func (s *Shard) ActiveSegmentSeq() uint64 { return s.activeSeq }

// Close stops the shard actor and flushes the active segment. The
// writer itself is closed by the actor goroutine as it exits.
func (s *Shard) Close() error {
	s.cancel()
	<-s.done
	return nil
}
