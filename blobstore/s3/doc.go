// Package s3 provides an S3 implementation of the blobstore.BlobStore interface.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("countries/"),
//	    s3.WithRegion("eu-central-1"),
//	)
//
//	src := ingest.ConcatSource(store, "batches/")
//
// # Features
//
//   - Range reads (ReadAt) for tables stored in S3
//   - Managed, concurrent whole-object downloads for ingest batches
//   - Automatic pagination for listing
//   - Configurable prefix for multi-tenant isolation
package s3
