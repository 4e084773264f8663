package storage

import (
	"context"
	"io"
)

// ObjectStorage is the read side of an S3-compatible store used to fetch
// submission sources and test case files.
type ObjectStorage interface {
	// GetObject opens a reader for an object. Caller must close it.
	GetObject(ctx context.Context, bucket, objectKey string) (io.ReadCloser, error)

	// StatObject returns size and ETag for an object.
	StatObject(ctx context.Context, bucket, objectKey string) (ObjectStat, error)

	// BucketExists reports whether bucket is reachable.
	BucketExists(ctx context.Context, bucket string) (bool, error)
}

// ObjectStat contains object metadata.
type ObjectStat struct {
	SizeBytes   int64
	ETag        string
	ContentType string
}
