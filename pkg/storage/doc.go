// Package storage provides the infrastructure tier: PostgreSQL connection
// management with read replicas, the shared Redis client, and blob storage
// for task attachments.
//
// # Layout
//
// The root package holds the configuration struct, the BlobStorage contract,
// and the filesystem backend used in development and tests. The postgres
// subpackage holds everything that needs live infrastructure: the
// ConnectionManager, the Redis wrapper, the S3 backend, and the core schema
// migrations.
//
// # Blob storage
//
// Attachment bytes are stored by key; all metadata stays in Postgres. Both
// backends implement BlobStorage:
//
//	blobs, err := storage.NewFilesystemStorage("/var/lib/taskhive/blobs")
//	// or
//	blobs, err := postgres.NewS3Storage(cfg)
//
// S3Storage additionally implements Presigner, which handlers use to hand
// out time-limited download URLs instead of streaming objects through the
// API.
//
// # Schema
//
// postgres.RunCoreMigrations creates the organizations, users, api_tokens,
// tasks and task_attachments tables. The authorization tables (permissions,
// roles, role_permissions, memberships) belong to pkg/rbac and are applied
// by rbac.RunMigrations after the core schema, since memberships references
// both users and roles.
package storage
