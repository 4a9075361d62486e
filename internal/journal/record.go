// Package journal implements the append-only, offset-addressed journal
// storage engine (spec.md §4.3): shard/segment lifecycle, segment files
// with offset/tag/key/timestamp secondary indexes, and a client-facing
// Write/Read API. Grounded on grafana-tempo's friggdb package, which is
// structurally the same kind of engine (append-only blocks with a
// pluggable storage backend and a secondary bloom/record index), adapted
// from friggdb's trace-id-keyed blocks to RobustMQ's namespace/shard/
// segment/offset model.
package journal

import (
	"encoding/json"
	"time"

	"github.com/robustmq/robustmq/internal/errs"
)

// Record is one application-supplied message plus the routing metadata
// the engine indexes on (spec.md §4.3 "for every tag and key in the
// record writes additional secondary-index entries").
type Record struct {
	Offset    int64             `json:"offset"`
	Timestamp time.Time         `json:"timestamp"`
	Key       string            `json:"key,omitempty"`
	Tags      []string          `json:"tags,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Payload   []byte            `json:"payload"`
}

func EncodeRecord(r Record) ([]byte, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, err)
	}
	return raw, nil
}

func DecodeRecord(raw []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return Record{}, errs.Wrap(errs.Internal, err)
	}
	return r, nil
}
