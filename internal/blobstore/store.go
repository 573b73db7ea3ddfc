// Package blobstore holds the storage capability: put uploaded bytes,
// read them back, and check a reference still resolves.
package blobstore

import (
	"context"
	"io"
)

// Store is the blob storage interface. Put returns the opaque storage
// reference recorded on the application; Stat reports common.ErrNotFound
// when a reference no longer resolves.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader) (storageRef string, err error)
	Get(ctx context.Context, storageRef string) (io.ReadCloser, error)
	Stat(ctx context.Context, storageRef string) error
}
