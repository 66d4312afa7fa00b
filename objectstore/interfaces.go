// Package objectstore implements the S3-compatible object store abstraction
// as specified in section 4.1 of the design specification (C1). It provides
// a region-aware client that lists buckets, paginates object listings,
// downloads objects atomically, and uploads derived artifacts.
package objectstore

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// API defines the subset of S3 operations objectstore.Client depends on.
// Generalizes the teacher's aws.S3Client to the operations section 4.1
// requires (bucket listing, region discovery, paginated object listing, and
// object get/put).
type API interface {
	ListBuckets(ctx context.Context, params *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error)
	GetBucketLocation(ctx context.Context, params *s3.GetBucketLocationInput, optFns ...func(*s3.Options)) (*s3.GetBucketLocationOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Compile-time check that the real SDK client satisfies API.
var _ API = (*s3.Client)(nil)
