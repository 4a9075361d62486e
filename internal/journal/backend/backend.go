// Package backend abstracts where segment file bytes physically live
// (spec.md §1 "adapters: S3, MinIO, etc."). The three-interface split
// (Writer/Reader/Compactor) is grounded directly on
// friggdb/backend/backend.go's own Writer/Reader/Compactor split, with
// block-ID-keyed methods replaced by (namespace, shard, segmentSeq)-keyed
// ones to match the journal engine's addressing scheme.
package backend

import (
	"context"
	"errors"
	"io"
)

var ErrSegmentDoesNotExist = errors.New("backend: segment does not exist")

// Writer persists a sealed segment's bytes to the backend (the write path
// itself writes the active segment locally through segment.Writer; Writer
// here is used once a segment transitions to SealUp so it can be pushed
// to durable/shared storage).
type Writer interface {
	WriteSegment(ctx context.Context, namespace, shard string, segmentSeq uint64, r io.Reader, size int64) error
}

// Reader fetches segment bytes back, in full or by byte range (range
// reads support resuming a partial local cache fetch).
type Reader interface {
	ReadSegment(ctx context.Context, namespace, shard string, segmentSeq uint64) (io.ReadCloser, error)
	ReadSegmentRange(ctx context.Context, namespace, shard string, segmentSeq uint64, offset, length int64) (io.ReadCloser, error)
	ListSegments(ctx context.Context, namespace, shard string) ([]uint64, error)
}

// Compactor removes a deleted segment's backing bytes (spec.md §4.3
// garbage collection: "each replica deletes local files and index
// entries").
type Compactor interface {
	DeleteSegment(ctx context.Context, namespace, shard string, segmentSeq uint64) error
}

// Backend is the full adapter surface the journal engine depends on.
type Backend interface {
	Writer
	Reader
	Compactor
}
