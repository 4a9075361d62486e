// Package local is the default journal backend: segments live as plain
// files under a root directory. Grounded on
// friggdb/backend/local/local.go's readerWriter (a single root path plus
// per-entity filename builders, os.MkdirAll on write, io.ReadFull on
// read).
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/robustmq/robustmq/internal/journal/backend"
)

type Backend struct {
	root string
}

func New(root string) (*Backend, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Backend{root: root}, nil
}

func (b *Backend) shardDir(namespace, shard string) string {
	return filepath.Join(b.root, namespace, shard)
}

func (b *Backend) segmentPath(namespace, shard string, seq uint64) string {
	return filepath.Join(b.shardDir(namespace, shard), fmt.Sprintf("%020d.seg", seq))
}

func (b *Backend) WriteSegment(_ context.Context, namespace, shard string, seq uint64, r io.Reader, _ int64) error {
	dir := b.shardDir(namespace, shard)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.Create(b.segmentPath(namespace, shard, seq))
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, r)
	return err
}

func (b *Backend) ReadSegment(_ context.Context, namespace, shard string, seq uint64) (io.ReadCloser, error) {
	f, err := os.Open(b.segmentPath(namespace, shard, seq))
	if os.IsNotExist(err) {
		return nil, backend.ErrSegmentDoesNotExist
	}
	return f, err
}

func (b *Backend) ReadSegmentRange(_ context.Context, namespace, shard string, seq uint64, offset, length int64) (io.ReadCloser, error) {
	f, err := os.Open(b.segmentPath(namespace, shard, seq))
	if os.IsNotExist(err) {
		return nil, backend.ErrSegmentDoesNotExist
	}
	if err != nil {
		return nil, err
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}
	return struct {
		io.Reader
		io.Closer
	}{Reader: io.LimitReader(f, length), Closer: f}, nil
}

func (b *Backend) ListSegments(_ context.Context, namespace, shard string) ([]uint64, error) {
	entries, err := os.ReadDir(b.shardDir(namespace, shard))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var seqs []uint64
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), ".seg")
		if name == e.Name() {
			continue
		}
		seq, err := strconv.ParseUint(name, 10, 64)
		if err != nil {
			continue
		}
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs, nil
}

func (b *Backend) DeleteSegment(_ context.Context, namespace, shard string, seq uint64) error {
	err := os.Remove(b.segmentPath(namespace, shard, seq))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
