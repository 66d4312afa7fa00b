// Package mock provides the in-memory object-store fake the integration
// test drives the full scan/process/upload cycle against, replacing the
// teacher's S3/DynamoDB/streamer fakes (mock.S3Client, mock.DynamoDBClient,
// mock.S3Streamer) with one fake matching this domain's narrower
// scanner.Lister/pipeline.Store surface (section 9: "Duck-typed S3 SDK...
// abstract behind a small interface so unit tests can substitute an
// in-memory store").
package mock

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gurre/audio-pipeline/objectstore"
)

// MemoryStore is an in-memory stand-in for objectstore.Client, holding
// objects as bucket/key -> bytes.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: map[string][]byte{}}
}

// Put seeds an object directly, bypassing Upload's marker-put behavior.
func (m *MemoryStore) Put(bucket, key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucket+"/"+key] = data
}

// Get returns a previously uploaded object's bytes.
func (m *MemoryStore) Get(bucket, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[bucket+"/"+key]
	return data, ok
}

// ListBuckets returns every distinct bucket name that has at least one
// object.
func (m *MemoryStore) ListBuckets(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := map[string]bool{}
	for path := range m.objects {
		bucket := strings.SplitN(path, "/", 2)[0]
		seen[bucket] = true
	}
	names := make([]string, 0, len(seen))
	for b := range seen {
		names = append(names, b)
	}
	sort.Strings(names)
	return names, nil
}

// BucketRegion always reports a fixed region; region fallback is not
// exercised by this fake.
func (m *MemoryStore) BucketRegion(ctx context.Context, bucket string) (string, error) {
	return "us-east-1", nil
}

// ListPage implements a single-page, Delimiter='/' listing over the
// in-memory object set, matching objectstore.Client.ListPage's contract.
func (m *MemoryStore) ListPage(ctx context.Context, bucket, prefix, delimiter string, continuationToken *string) (objectstore.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if delimiter == "" {
		delimiter = "/"
	}

	var objects []objectstore.Object
	prefixSet := map[string]bool{}
	full := bucket + "/"

	for path, data := range m.objects {
		if !strings.HasPrefix(path, full) {
			continue
		}
		key := strings.TrimPrefix(path, full)
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := strings.TrimPrefix(key, prefix)
		if idx := strings.Index(rest, delimiter); idx >= 0 {
			prefixSet[prefix+rest[:idx+1]] = true
			continue
		}
		objects = append(objects, objectstore.Object{Key: key, Size: int64(len(data))})
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })

	prefixes := make([]string, 0, len(prefixSet))
	for p := range prefixSet {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)

	return objectstore.Page{Objects: objects, CommonPrefixes: prefixes}, nil
}

// Download copies an in-memory object to localPath.
func (m *MemoryStore) Download(ctx context.Context, bucket, key, localPath string) error {
	data, ok := m.Get(bucket, key)
	if !ok {
		return fmt.Errorf("object %s/%s not found", bucket, key)
	}
	return writeFile(localPath, data)
}

// Upload stores data under bucket/key, matching objectstore.Client's
// public contract; the marker-folder PutObject is not modeled since this
// fake has no concept of console-visible folders.
func (m *MemoryStore) Upload(ctx context.Context, bucket, key string, data []byte, acl string) error {
	m.Put(bucket, key, data)
	return nil
}
