package main

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hupe1980/countrydb/blobstore"
	miniostore "github.com/hupe1980/countrydb/blobstore/minio"
	s3store "github.com/hupe1980/countrydb/blobstore/s3"
	"github.com/hupe1980/countrydb/ingest"
)

// openSource turns the source section into an ingest.Source.
func openSource(ctx context.Context, sc sourceConfig) (ingest.Source, error) {
	if sc.Kind == "" || sc.Kind == "file" {
		if sc.Path == "" {
			return nil, fmt.Errorf("source: path is required for kind file")
		}
		return ingest.FileSource(sc.Path), nil
	}

	if sc.Bucket == "" {
		return nil, fmt.Errorf("source: bucket is required for kind %s", sc.Kind)
	}
	var store blobstore.BlobStore
	switch sc.Kind {
	case "s3":
		s, err := s3store.New(ctx, sc.Bucket,
			s3store.WithRegion(sc.S3.Region),
			s3store.WithEndpoint(sc.S3.Endpoint),
			s3store.WithPathStyle(sc.S3.PathStyle),
		)
		if err != nil {
			return nil, err
		}
		store = s
	case "minio":
		client, err := minio.New(sc.MinIO.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(sc.MinIO.AccessKey, sc.MinIO.SecretKey, ""),
			Secure: sc.MinIO.Secure,
		})
		if err != nil {
			return nil, fmt.Errorf("source: minio client: %w", err)
		}
		store = miniostore.NewStore(client, sc.Bucket, "")
	default:
		return nil, fmt.Errorf("source: unknown kind %q", sc.Kind)
	}

	if sc.Key != "" {
		return ingest.BlobSource(store, sc.Key), nil
	}
	return ingest.ConcatSource(store, sc.Prefix), nil
}
