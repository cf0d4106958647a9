package storage

import (
	"context"
	"io"
	"time"
)

// BlobStorage stores attachment content by key. Metadata (file name, content
// type, size, owner) lives in Postgres; only the bytes live here. S3Storage
// backs production, FilesystemStorage backs local development and tests.
type BlobStorage interface {
	// Put stores content under key, replacing any existing object.
	Put(ctx context.Context, key string, content io.Reader, contentType string) error

	// Get opens the object at key. The caller closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists reports whether an object is stored under key.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes the object at key. Deleting a missing key is not an
	// error.
	Delete(ctx context.Context, key string) error

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error
}

// Presigner is implemented by backends that can mint time-limited download
// URLs. Handlers type-assert for it and fall back to streaming through the
// server when the backend cannot presign.
type Presigner interface {
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}
