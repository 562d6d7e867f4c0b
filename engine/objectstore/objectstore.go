// Package objectstore is the external object-store collaborator (spec §6): the engine itself
// never holds artifact bytes, only the bucket/key reference recorded by the journal. This
// package defines that contract and the two implementations a deployment picks between.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Store is the contract every object-store backend must satisfy. It intentionally mirrors
// spec §6's four operations and nothing more: listing, deletion, and range reads belong to the
// workers that actually produce/consume artifact bytes, not to the engine.
type Store interface {
	// EnsureBucket creates bucket if it does not already exist. Idempotent.
	EnsureBucket(ctx context.Context, bucket string) error
	// Put uploads all data read from source to bucket/key.
	Put(ctx context.Context, bucket, key string, source io.Reader, contentType string) error
	// Get returns a reader positioned at the start of bucket/key. The caller must close it.
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	// Presign returns a time-limited URL a caller outside the engine can use to download
	// bucket/key directly, valid for roughly expiresIn.
	Presign(ctx context.Context, bucket, key string, expiresIn time.Duration) (string, error)
}

// BuildKey constructs an object key following the convention a TaskArtifact's bucket/key pair
// is expected to use: {kind}/{job_id}/{task_key}[/{filename}|/{task_key}{ext}]. Exactly one of
// filename/ext should be set; if both are empty the bare directory-style prefix is returned.
func BuildKey(kind, jobID, taskKey, filename, ext string) string {
	base := fmt.Sprintf("%s/%s/%s", kind, jobID, taskKey)
	switch {
	case filename != "":
		return base + "/" + filename
	case ext != "":
		return fmt.Sprintf("%s/%s%s", base, taskKey, ext)
	default:
		return base + "/"
	}
}
