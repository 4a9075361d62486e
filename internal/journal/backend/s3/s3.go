// Package s3 is the journal engine's S3/MinIO-compatible backend
// (spec.md §1 "adapters: S3, MinIO, etc."). Grounded on the teacher's own
// vendored minio-go/v7 dependency and on friggdb/backend/gcs/gcs.go's
// shape (object-key builder per entity, PutObject/GetObject wrapping the
// SDK client) ported from GCS's client to minio-go's, since minio-go is
// what the example pack actually vendors for S3-compatible storage.
package s3

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"

	"github.com/robustmq/robustmq/internal/journal/backend"
)

type Backend struct {
	client *minio.Client
	bucket string
}

func New(client *minio.Client, bucket string) *Backend {
	return &Backend{client: client, bucket: bucket}
}

func objectKey(namespace, shard string, seq uint64) string {
	return fmt.Sprintf("%s/%s/%020d.seg", namespace, shard, seq)
}

func (b *Backend) WriteSegment(ctx context.Context, namespace, shard string, seq uint64, r io.Reader, size int64) error {
	_, err := b.client.PutObject(ctx, b.bucket, objectKey(namespace, shard, seq), r, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	return err
}

func (b *Backend) ReadSegment(ctx context.Context, namespace, shard string, seq uint64) (io.ReadCloser, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, objectKey(namespace, shard, seq), minio.GetObjectOptions{})
	if err != nil {
		return nil, translateErr(err)
	}
	return obj, nil
}

func (b *Backend) ReadSegmentRange(ctx context.Context, namespace, shard string, seq uint64, offset, length int64) (io.ReadCloser, error) {
	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(offset, offset+length-1); err != nil {
		return nil, err
	}
	obj, err := b.client.GetObject(ctx, b.bucket, objectKey(namespace, shard, seq), opts)
	if err != nil {
		return nil, translateErr(err)
	}
	return obj, nil
}

func (b *Backend) ListSegments(ctx context.Context, namespace, shard string) ([]uint64, error) {
	prefix := fmt.Sprintf("%s/%s/", namespace, shard)
	var seqs []uint64
	for obj := range b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		var seq uint64
		name := obj.Key[len(prefix):]
		if _, err := fmt.Sscanf(name, "%020d.seg", &seq); err == nil {
			seqs = append(seqs, seq)
		}
	}
	return seqs, nil
}

func (b *Backend) DeleteSegment(ctx context.Context, namespace, shard string, seq uint64) error {
	err := b.client.RemoveObject(ctx, b.bucket, objectKey(namespace, shard, seq), minio.RemoveObjectOptions{})
	if err != nil {
		return translateErr(err)
	}
	return nil
}

func translateErr(err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" {
		return backend.ErrSegmentDoesNotExist
	}
	return err
}
