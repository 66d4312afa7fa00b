package scanner

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/gurre/audio-pipeline/objectstore"
)

// fakeLister is an in-memory object tree keyed by "bucket/key".
type fakeLister struct {
	buckets []string
	objects map[string][]string // bucket -> keys
}

func newFakeLister(buckets []string, objects map[string][]string) *fakeLister {
	return &fakeLister{buckets: buckets, objects: objects}
}

func (f *fakeLister) ListBuckets(ctx context.Context) ([]string, error) {
	return f.buckets, nil
}

func (f *fakeLister) BucketRegion(ctx context.Context, bucket string) (string, error) {
	return "us-east-1", nil
}

func (f *fakeLister) ListPage(ctx context.Context, bucket, prefix, delimiter string, token *string) (objectstore.Page, error) {
	keys := f.objects[bucket]
	seenPrefixes := map[string]bool{}
	var page objectstore.Page

	var matching []string
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			matching = append(matching, k)
		}
	}
	sort.Strings(matching)

	for _, k := range matching {
		rest := k[len(prefix):]
		if idx := strings.Index(rest, "/"); idx >= 0 {
			sub := prefix + rest[:idx+1]
			if !seenPrefixes[sub] {
				seenPrefixes[sub] = true
				page.CommonPrefixes = append(page.CommonPrefixes, sub)
			}
			continue
		}
		page.Objects = append(page.Objects, objectstore.Object{Key: k})
	}
	return page, nil
}

type fakeProgress struct {
	has map[string]bool
}

func (f *fakeProgress) Has(path, operation string) bool {
	return f.has[path+"|"+operation]
}

type fakeInFlight struct {
	current map[string]bool
}

func (f *fakeInFlight) Contains(path string) bool {
	return f.current[path]
}

func TestScannerFindsAudioAcrossBucketsInOrder(t *testing.T) {
	objects := map[string][]string{
		"b1": {"a.mp3", "a.txt", "nested/b.wav"},
		"b2": {"c.flac"},
	}
	lister := newFakeLister([]string{"b1", "b2"}, objects)
	progress := &fakeProgress{has: map[string]bool{}}
	inFlight := &fakeInFlight{current: map[string]bool{}}

	s := New(lister, progress, inFlight, nil)
	batch, err := s.Next(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"b1/a.mp3", "b1/nested/b.wav", "b2/c.flac"}
	if len(batch) != len(want) {
		t.Fatalf("expected %d entries, got %d: %v", len(want), len(batch), batch)
	}
	for i, ref := range batch {
		if ref.Path() != want[i] {
			t.Errorf("entry %d: expected %s, got %s", i, want[i], ref.Path())
		}
	}
}

func TestScannerExcludesAlreadyDownloaded(t *testing.T) {
	objects := map[string][]string{"b1": {"a.mp3", "b.mp3"}}
	lister := newFakeLister([]string{"b1"}, objects)
	progress := &fakeProgress{has: map[string]bool{"b1/a.mp3|downloaded": true}}
	inFlight := &fakeInFlight{current: map[string]bool{}}

	s := New(lister, progress, inFlight, nil)
	batch, err := s.Next(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batch) != 1 || batch[0].Path() != "b1/b.mp3" {
		t.Errorf("expected only b.mp3, got %v", batch)
	}
}

func TestScannerExcludesInFlight(t *testing.T) {
	objects := map[string][]string{"b1": {"a.mp3", "b.mp3"}}
	lister := newFakeLister([]string{"b1"}, objects)
	progress := &fakeProgress{has: map[string]bool{}}
	inFlight := &fakeInFlight{current: map[string]bool{"b1/a.mp3": true}}

	s := New(lister, progress, inFlight, nil)
	batch, err := s.Next(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batch) != 1 || batch[0].Path() != "b1/b.mp3" {
		t.Errorf("expected only b.mp3, got %v", batch)
	}
}

func TestScannerBatchBound(t *testing.T) {
	var keys []string
	for i := 0; i < MaxBatch+50; i++ {
		keys = append(keys, fmt.Sprintf("file%04d.mp3", i))
	}
	objects := map[string][]string{"b1": keys}
	lister := newFakeLister([]string{"b1"}, objects)
	progress := &fakeProgress{has: map[string]bool{}}
	inFlight := &fakeInFlight{current: map[string]bool{}}

	s := New(lister, progress, inFlight, nil)
	batch, err := s.Next(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batch) != MaxBatch {
		t.Errorf("expected batch capped at %d, got %d", MaxBatch, len(batch))
	}
}

func TestScannerStartPathNarrowsRoot(t *testing.T) {
	objects := map[string][]string{"b1": {"a.mp3", "sub/b.mp3"}}
	lister := newFakeLister([]string{"b1"}, objects)
	progress := &fakeProgress{has: map[string]bool{}}
	inFlight := &fakeInFlight{current: map[string]bool{}}

	s := New(lister, progress, inFlight, nil)
	batch, err := s.Next(context.Background(), "sub")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batch) != 1 || batch[0].Path() != "b1/sub/b.mp3" {
		t.Errorf("expected only sub/b.mp3, got %v", batch)
	}
}
