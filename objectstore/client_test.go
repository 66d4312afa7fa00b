package objectstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// fakeAPI is an in-memory stand-in for the S3 SDK, per section 9's
// duck-typed abstraction requirement.
type fakeAPI struct {
	buckets        []string
	region         string
	objects        map[string][]byte // bucket/key -> body
	failListOnce   bool
	failList       bool
	failGetOnce    bool
	listed         int
	putKeys        []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{objects: make(map[string][]byte)}
}

func (f *fakeAPI) ListBuckets(ctx context.Context, params *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error) {
	out := &s3.ListBucketsOutput{}
	for _, b := range f.buckets {
		name := b
		out.Buckets = append(out.Buckets, types.Bucket{Name: &name})
	}
	return out, nil
}

func (f *fakeAPI) GetBucketLocation(ctx context.Context, params *s3.GetBucketLocationInput, optFns ...func(*s3.Options)) (*s3.GetBucketLocationOutput, error) {
	return &s3.GetBucketLocationOutput{LocationConstraint: types.BucketLocationConstraint(f.region)}, nil
}

func (f *fakeAPI) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.listed++
	if f.failListOnce {
		f.failListOnce = false
		return nil, errors.New("simulated transient failure")
	}
	if f.failList {
		return nil, errors.New("simulated persistent failure")
	}
	prefix := ""
	if params.Prefix != nil {
		prefix = *params.Prefix
	}
	seen := map[string]bool{}
	out := &s3.ListObjectsV2Output{}
	for key := range f.objects {
		bucketPrefix := *params.Bucket + "/"
		if !hasPrefix(key, bucketPrefix) {
			continue
		}
		rel := key[len(bucketPrefix):]
		if !hasPrefix(rel, prefix) {
			continue
		}
		rest := rel[len(prefix):]
		if idx := indexByte(rest, '/'); idx >= 0 {
			sub := prefix + rest[:idx+1]
			if !seen[sub] {
				seen[sub] = true
				p := sub
				out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: &p})
			}
			continue
		}
		k := rel
		size := int64(len(f.objects[key]))
		out.Contents = append(out.Contents, types.Object{Key: &k, Size: &size})
	}
	return out, nil
}

func (f *fakeAPI) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.failGetOnce {
		f.failGetOnce = false
		return nil, errors.New("simulated transient failure")
	}
	body, ok := f.objects[*params.Bucket+"/"+*params.Key]
	if !ok {
		return nil, errors.New("not found")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func (f *fakeAPI) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.putKeys = append(f.putKeys, *params.Key)
	var buf bytes.Buffer
	if params.Body != nil {
		_, _ = io.Copy(&buf, params.Body)
	}
	f.objects[*params.Bucket+"/"+*params.Key] = buf.Bytes()
	return &s3.PutObjectOutput{}, nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func newTestClient(api *fakeAPI) *Client {
	return NewClient("us-east-1", api, func(region string) API { return api }, nil)
}

func TestListBuckets(t *testing.T) {
	api := newFakeAPI()
	api.buckets = []string{"b1", "b2"}
	c := newTestClient(api)

	names, err := c.ListBuckets(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(names) != 2 || names[0] != "b1" || names[1] != "b2" {
		t.Errorf("unexpected bucket list: %v", names)
	}
}

func TestBucketRegionCachesAndFallsBackToUsEast1(t *testing.T) {
	api := newFakeAPI()
	api.region = ""
	c := newTestClient(api)

	region, err := c.BucketRegion(context.Background(), "b1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if region != "us-east-1" {
		t.Errorf("expected fallback to us-east-1, got %s", region)
	}

	c.regionOf["b1"] = "eu-west-1"
	region2, err := c.BucketRegion(context.Background(), "b1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if region2 != "eu-west-1" {
		t.Errorf("expected cached region, got %s", region2)
	}
}

func TestListPageSeparatesObjectsAndPrefixes(t *testing.T) {
	api := newFakeAPI()
	api.objects["b1/a.mp3"] = []byte("x")
	api.objects["b1/nested/b.wav"] = []byte("y")
	c := newTestClient(api)

	page, err := c.ListPage(context.Background(), "b1", "", "/", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Objects) != 1 || page.Objects[0].Key != "a.mp3" {
		t.Errorf("unexpected objects: %v", page.Objects)
	}
	if len(page.CommonPrefixes) != 1 || page.CommonPrefixes[0] != "nested/" {
		t.Errorf("unexpected prefixes: %v", page.CommonPrefixes)
	}
}

func TestListPageFallsBackOnDefaultClientFailure(t *testing.T) {
	api := newFakeAPI()
	api.objects["b1/a.mp3"] = []byte("x")

	fallback := newFakeAPI()
	fallback.objects["b1/a.mp3"] = []byte("x")

	c := NewClient("us-east-1", api, func(region string) API { return fallback }, nil)
	api.failList = true

	page, err := c.ListPage(context.Background(), "b1", "", "/", nil)
	if err != nil {
		t.Fatalf("expected fallback to succeed, got: %v", err)
	}
	if len(page.Objects) != 1 {
		t.Errorf("expected one object from fallback client, got %d", len(page.Objects))
	}
	if fallback.listed != 1 {
		t.Errorf("expected the fallback client to be listed once, got %d", fallback.listed)
	}
}

func TestDownloadWritesAtomically(t *testing.T) {
	api := newFakeAPI()
	api.objects["b1/a.mp3"] = []byte("audio-bytes")
	c := newTestClient(api)

	dir := t.TempDir()
	dest := filepath.Join(dir, "a.mp3")

	if err := c.Download(context.Background(), "b1", "a.mp3", dest); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("expected file to exist: %v", err)
	}
	if string(data) != "audio-bytes" {
		t.Errorf("unexpected file contents: %s", data)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, e := range entries {
		if e.Name() != "a.mp3" {
			t.Errorf("expected no leftover temp files, found %s", e.Name())
		}
	}
}

func TestUploadCreatesMarkerAndObject(t *testing.T) {
	api := newFakeAPI()
	c := newTestClient(api)

	err := c.Upload(context.Background(), "b1", "a/transcripts/file_transcript.txt", []byte("hello"), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if string(api.objects["b1/a/transcripts/file_transcript.txt"]) != "hello" {
		t.Errorf("expected uploaded content to be stored")
	}

	foundMarker := false
	for _, k := range api.putKeys {
		if k == "a/transcripts/" {
			foundMarker = true
		}
	}
	if !foundMarker {
		t.Errorf("expected a best-effort marker put for the parent folder, got puts: %v", api.putKeys)
	}
}
