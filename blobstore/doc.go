// Package blobstore provides read access to immutable blobs: published
// tables and ingest batches.
//
// Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: local filesystem with mmap support
//   - MemoryStore: in-memory, for tests
//   - s3.Store: Amazon S3 with range reads and managed downloads
//   - minio.Store: MinIO and other S3-compatible services
//
// Stores that can fetch a whole object more efficiently than ranged
// ReadAt calls implement Fetcher; use ReadAll to pick the best path.
package blobstore
