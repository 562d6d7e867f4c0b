package objectstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/buildbeaver/workflow-engine/common/gerror"
)

// LocalStore is a filesystem-backed Store for tests and local development, grounded on the
// teacher's LocalBlobStore. Buckets map to subdirectories of root; presigning has no real
// network meaning here, so it returns a file:// URL rather than failing outright.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) *LocalStore {
	return &LocalStore{root: root}
}

func (s *LocalStore) EnsureBucket(ctx context.Context, bucket string) error {
	if err := os.MkdirAll(filepath.Join(s.root, bucket), 0700); err != nil {
		return errors.Wrapf(err, "error ensuring bucket %s", bucket)
	}
	return nil
}

func (s *LocalStore) Put(ctx context.Context, bucket, key string, source io.Reader, contentType string) error {
	path := s.path(bucket, key)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return errors.Wrapf(err, "error making object directory for %s/%s", bucket, key)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "error opening %s/%s for writing", bucket, key)
	}
	defer f.Close()
	if _, err := io.Copy(f, source); err != nil {
		return errors.Wrapf(err, "error writing object %s/%s", bucket, key)
	}
	return f.Sync()
}

func (s *LocalStore) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(bucket, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, gerror.NewErrNotFound(fmt.Sprintf("object %s/%s not found", bucket, key))
		}
		return nil, errors.Wrapf(err, "error opening %s/%s for reading", bucket, key)
	}
	return f, nil
}

func (s *LocalStore) Presign(ctx context.Context, bucket, key string, expiresIn time.Duration) (string, error) {
	return "file://" + s.path(bucket, key), nil
}

func (s *LocalStore) path(bucket, key string) string {
	return filepath.Join(s.root, bucket, filepath.FromSlash(key))
}
