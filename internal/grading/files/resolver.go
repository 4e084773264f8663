// Package files resolves the paths stored on submission and test case rows.
// A path of the form s3://bucket/key is read from object storage; anything
// else is a local file.
package files

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"instagrade/internal/common/storage"
	appErr "instagrade/pkg/errors"

	"github.com/google/uuid"
)

// DefaultMaxBytes bounds how much of one file is read.
const DefaultMaxBytes = 16 << 20

// ErrNotFound is returned when the file or object does not exist.
var ErrNotFound = errors.New("file not found")

var objectSchemes = []string{"s3://", "minio://"}

// Resolver reads and localizes paths. store may be nil, in which case object
// paths fail with StorageError.
type Resolver struct {
	store         storage.ObjectStorage
	defaultBucket string
	maxBytes      int64
}

func NewResolver(store storage.ObjectStorage, defaultBucket string, maxBytes int64) *Resolver {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Resolver{store: store, defaultBucket: defaultBucket, maxBytes: maxBytes}
}

// ObjectRef is a parsed object path.
type ObjectRef struct {
	Bucket string
	Key    string
}

// ParseObjectPath splits an object path. ok is false for local paths.
// A path with a single segment after the scheme uses defaultBucket.
func ParseObjectPath(path, defaultBucket string) (ObjectRef, bool) {
	for _, scheme := range objectSchemes {
		if !strings.HasPrefix(path, scheme) {
			continue
		}
		rest := strings.TrimPrefix(path, scheme)
		bucket, key, found := strings.Cut(rest, "/")
		if !found {
			return ObjectRef{Bucket: defaultBucket, Key: bucket}, true
		}
		return ObjectRef{Bucket: bucket, Key: key}, true
	}
	return ObjectRef{}, false
}

// ReadText returns the content of path.
func (r *Resolver) ReadText(ctx context.Context, path string) (string, error) {
	if path == "" {
		return "", ErrNotFound
	}
	rc, err := r.open(ctx, path)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, r.maxBytes))
	if err != nil {
		return "", appErr.Wrapf(err, appErr.StorageError, "read %s", path)
	}
	return string(data), nil
}

// Localize returns a local path holding the content of path. Local paths
// are returned unchanged. Objects are downloaded into dir.
func (r *Resolver) Localize(ctx context.Context, path, dir string) (string, error) {
	ref, isObject := ParseObjectPath(path, r.defaultBucket)
	if !isObject {
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				return "", ErrNotFound
			}
			return "", appErr.Wrapf(err, appErr.StorageError, "stat %s", path)
		}
		return path, nil
	}
	if r.store == nil {
		return "", appErr.Newf(appErr.StorageError, "object storage not configured for %s", path)
	}
	stat, err := r.store.StatObject(ctx, ref.Bucket, ref.Key)
	if err != nil {
		if storage.IsNotFound(err) {
			return "", ErrNotFound
		}
		return "", appErr.Wrapf(err, appErr.StorageError, "stat %s", path)
	}
	if stat.SizeBytes > r.maxBytes {
		return "", appErr.Newf(appErr.StorageError, "%s is %d bytes, limit %d", path, stat.SizeBytes, r.maxBytes)
	}

	rc, err := r.open(ctx, path)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	local := filepath.Join(dir, uuid.NewString()+"-"+filepath.Base(ref.Key))
	f, err := os.OpenFile(local, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.StorageError, "create %s", local)
	}
	if _, err := io.Copy(f, io.LimitReader(rc, r.maxBytes)); err != nil {
		_ = f.Close()
		return "", appErr.Wrapf(err, appErr.StorageError, "download %s", path)
	}
	if err := f.Close(); err != nil {
		return "", appErr.Wrapf(err, appErr.StorageError, "close %s", local)
	}
	return local, nil
}

// Ping checks that the default bucket is reachable, when storage is configured.
func (r *Resolver) Ping(ctx context.Context) error {
	if r.store == nil || r.defaultBucket == "" {
		return nil
	}
	ok, err := r.store.BucketExists(ctx, r.defaultBucket)
	if err != nil {
		return appErr.Wrap(err, appErr.StorageError)
	}
	if !ok {
		return appErr.Newf(appErr.StorageError, "bucket %s does not exist", r.defaultBucket)
	}
	return nil
}

func (r *Resolver) open(ctx context.Context, path string) (io.ReadCloser, error) {
	ref, isObject := ParseObjectPath(path, r.defaultBucket)
	if !isObject {
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, ErrNotFound
			}
			return nil, appErr.Wrapf(err, appErr.StorageError, "open %s", path)
		}
		return f, nil
	}
	if r.store == nil {
		return nil, appErr.Newf(appErr.StorageError, "object storage not configured for %s", path)
	}
	rc, err := r.store.GetObject(ctx, ref.Bucket, ref.Key)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, appErr.Wrapf(err, appErr.StorageError, "get %s/%s", ref.Bucket, ref.Key)
	}
	return rc, nil
}
