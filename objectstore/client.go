package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Object is a single entry in a ListPage response.
type Object struct {
	Key  string
	Size int64
}

// Page is the result of one ListPage call, mirroring a single
// ListObjectsV2 page with Delimiter='/' as specified in section 4.1.
type Page struct {
	Objects        []Object
	CommonPrefixes []string
	Next           *string
}

// Client wraps an S3-compatible endpoint with signature v4, as specified in
// section 4.1 of the design specification (C1). It is region-aware: each
// bucket's region is discovered once and cached, and a region-bound client
// is used as a fallback whenever the default client's operation fails,
// since the bucket's actual region may differ from the configured default
// endpoint.
type Client struct {
	defaultRegion string
	defaultClient API
	newClient     func(region string) API
	logger        *zap.Logger

	mu            sync.Mutex
	regionOf      map[string]string // bucket -> region, cached per section 4.1
	clientsByRegn map[string]API
}

// NewClient creates a Client bound to the given default region. newClient
// builds a region-specific API implementation from a region string; this
// indirection lets tests substitute an in-memory fake (per section 9,
// "Duck-typed S3 SDK... abstract behind a small interface so unit tests can
// substitute an in-memory store").
func NewClient(defaultRegion string, defaultClient API, newClient func(region string) API, logger *zap.Logger) *Client {
	return &Client{
		defaultRegion: defaultRegion,
		defaultClient: defaultClient,
		newClient:     newClient,
		logger:        logger,
		regionOf:      make(map[string]string),
		clientsByRegn: make(map[string]API),
	}
}

// ListBuckets returns every bucket name visible to the configured
// credentials, as specified in section 4.1.
func (c *Client) ListBuckets(ctx context.Context) ([]string, error) {
	var names []string
	err := c.withBackoff(func() error {
		out, err := c.defaultClient.ListBuckets(ctx, &s3.ListBucketsInput{})
		if err != nil {
			return err
		}
		names = names[:0]
		for _, b := range out.Buckets {
			if b.Name != nil {
				names = append(names, *b.Name)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list buckets: %w", err)
	}
	return names, nil
}

// BucketRegion returns the region a bucket lives in, caching the result per
// section 4.1. An empty location constraint means us-east-1, per section
// 4.1's fallback rule.
func (c *Client) BucketRegion(ctx context.Context, bucket string) (string, error) {
	c.mu.Lock()
	if region, ok := c.regionOf[bucket]; ok {
		c.mu.Unlock()
		return region, nil
	}
	c.mu.Unlock()

	var region string
	err := c.withBackoff(func() error {
		out, err := c.defaultClient.GetBucketLocation(ctx, &s3.GetBucketLocationInput{Bucket: &bucket})
		if err != nil {
			return err
		}
		region = string(out.LocationConstraint)
		if region == "" {
			region = "us-east-1"
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to get region for bucket %s: %w", bucket, err)
	}

	c.mu.Lock()
	c.regionOf[bucket] = region
	c.mu.Unlock()
	return region, nil
}

// regionClient returns (creating and caching if needed) the API client
// bound to the given region. Safe for concurrent use; the AWS SDK's own
// clients are themselves safe for concurrent use per section 5.
func (c *Client) regionClient(region string) API {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.clientsByRegn[region]; ok {
		return cl
	}
	cl := c.newClient(region)
	c.clientsByRegn[region] = cl
	return cl
}

// withFallback runs op against the default client; if that fails, it
// resolves the bucket's region and retries once against a region-bound
// client, per section 4.1's contract ("any operation must be re-tried
// through a region-specific client if the default client fails").
func (c *Client) withFallback(ctx context.Context, bucket string, op func(API) error) error {
	defaultErr := op(c.defaultClient)
	if defaultErr == nil {
		return nil
	}

	region, regionErr := c.BucketRegion(ctx, bucket)
	if regionErr != nil {
		return defaultErr
	}

	regional := c.regionClient(region)
	if regionErr := op(regional); regionErr != nil {
		return fmt.Errorf("default client failed (%v), region client for %s also failed: %w", defaultErr, region, regionErr)
	}
	return nil
}

// withBackoff retries a transient low-level S3 call a bounded number of
// times with a constant delay. This is distinct from the worker pool's
// file-level retry/backoff (section 4.5): it absorbs brief network jitter
// on an individual API call, not a whole file-processing attempt.
func (c *Client) withBackoff(op func() error) error {
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(200*time.Millisecond), 2)
	return backoff.Retry(op, policy)
}

// ListPage lists one page of objects under prefix with Delimiter='/', as
// specified in section 4.1.
func (c *Client) ListPage(ctx context.Context, bucket, prefix, delimiter string, continuationToken *string) (Page, error) {
	if delimiter == "" {
		delimiter = "/"
	}

	var page Page
	err := c.withFallback(ctx, bucket, func(api API) error {
		return c.withBackoff(func() error {
			out, err := api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
				Bucket:            &bucket,
				Prefix:            &prefix,
				Delimiter:         &delimiter,
				ContinuationToken: continuationToken,
			})
			if err != nil {
				return err
			}

			objects := make([]Object, 0, len(out.Contents))
			for _, obj := range out.Contents {
				if obj.Key == nil {
					continue
				}
				size := int64(0)
				if obj.Size != nil {
					size = *obj.Size
				}
				objects = append(objects, Object{Key: *obj.Key, Size: size})
			}

			prefixes := make([]string, 0, len(out.CommonPrefixes))
			for _, p := range out.CommonPrefixes {
				if p.Prefix != nil {
					prefixes = append(prefixes, *p.Prefix)
				}
			}

			page = Page{Objects: objects, CommonPrefixes: prefixes}
			if out.IsTruncated != nil && *out.IsTruncated {
				page.Next = out.NextContinuationToken
			}
			return nil
		})
	})
	if err != nil {
		return Page{}, fmt.Errorf("failed to list bucket %s prefix %s: %w", bucket, prefix, err)
	}
	return page, nil
}

// Download streams an object to a local path atomically: it writes to a
// temp file in the same directory and renames on success, per section 4.1.
func (c *Client) Download(ctx context.Context, bucket, key, localPath string) error {
	dir := filepath.Dir(localPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create download directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	err = c.withFallback(ctx, bucket, func(api API) error {
		out, err := api.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})
		if err != nil {
			return err
		}
		defer func() { _ = out.Body.Close() }()

		if _, seekErr := tmp.Seek(0, io.SeekStart); seekErr != nil {
			return seekErr
		}
		if truncErr := tmp.Truncate(0); truncErr != nil {
			return truncErr
		}
		_, err = io.Copy(tmp, out.Body)
		return err
	})
	closeErr := tmp.Close()
	if err != nil {
		return fmt.Errorf("failed to download %s/%s: %w", bucket, key, err)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close temp file for %s/%s: %w", bucket, key, closeErr)
	}

	if err := os.Rename(tmpPath, localPath); err != nil {
		return fmt.Errorf("failed to finalize download for %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Upload writes bytes to a derived key, as specified in section 4.1. It
// first attempts a best-effort marker PutObject on the parent "folder" so
// that S3-compatible consoles that render prefixes as folders show an
// intermediate entry; failures of the marker put are ignored, per section
// 4.1 ("ignore failures on those marker puts").
func (c *Client) Upload(ctx context.Context, bucket, key string, data []byte, acl string) error {
	dir := parentFolder(key)
	if dir != "" {
		markerKey := dir + "/"
		_ = c.withFallback(ctx, bucket, func(api API) error {
			_, err := api.PutObject(ctx, &s3.PutObjectInput{Bucket: &bucket, Key: &markerKey})
			return err
		})
	}

	err := c.withFallback(ctx, bucket, func(api API) error {
		input := &s3.PutObjectInput{
			Bucket: &bucket,
			Key:    &key,
			Body:   bytes.NewReader(data),
		}
		if acl != "" {
			input.ACL = types.ObjectCannedACL(acl)
		}
		_, err := api.PutObject(ctx, input)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s/%s: %w", bucket, key, err)
	}
	return nil
}

// parentFolder returns the directory portion of a key, or "" if the key has
// no parent.
func parentFolder(key string) string {
	dir := filepath.Dir(key)
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}

// NewSDKClientFactory returns a function that builds an API-satisfying S3
// client bound to the given AWS config, overriding the region and
// region-templated Wasabi endpoint per call, as specified in section 6.
func NewSDKClientFactory(cfg aws.Config) func(region string) API {
	return func(region string) API {
		endpoint := Endpoint(region)
		return s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.Region = region
			o.BaseEndpoint = &endpoint
			o.UsePathStyle = true
		})
	}
}

// Endpoint returns the Wasabi endpoint URL for the given region, per
// section 6. Duplicated here (rather than importing config) to keep
// objectstore free of a dependency on the config package; config.Endpoint
// computes the same value for the default client built in the cmd/ entrypoints.
func Endpoint(region string) string {
	if region == "" {
		region = "us-east-1"
	}
	return "https://s3." + region + ".wasabisys.com"
}
