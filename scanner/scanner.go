package scanner

import (
	"context"
	"fmt"
	"strings"

	"github.com/gurre/audio-pipeline/objectstore"
	"go.uber.org/zap"
)

// MaxBatch is the maximum number of FileRefs a single Next() call returns,
// per section 4.4 (MAX_BATCH = 200).
const MaxBatch = 200

// Lister is the subset of objectstore.Client the scanner depends on. A
// narrow interface, per section 9's guidance to keep the S3 dependency
// duck-typed so unit tests can substitute an in-memory store.
type Lister interface {
	ListBuckets(ctx context.Context) ([]string, error)
	BucketRegion(ctx context.Context, bucket string) (string, error)
	ListPage(ctx context.Context, bucket, prefix, delimiter string, continuationToken *string) (objectstore.Page, error)
}

// ProgressChecker reports whether a (path, operation) pair has already been
// recorded, per section 4.2's Has() contract.
type ProgressChecker interface {
	Has(path, operation string) bool
}

// InFlightChecker reports whether a path is currently present in the
// OperationLog's current list, per section 4.3.
type InFlightChecker interface {
	Contains(path string) bool
}

// Scanner implements the recursive, bounded, filtered enumeration specified
// in section 4.4 (C4).
type Scanner struct {
	store    Lister
	progress ProgressChecker
	inFlight InFlightChecker
	logger   *zap.Logger
}

// New creates a Scanner.
func New(store Lister, progress ProgressChecker, inFlight InFlightChecker, logger *zap.Logger) *Scanner {
	return &Scanner{store: store, progress: progress, inFlight: inFlight, logger: logger}
}

// Next produces a batch of at most MaxBatch unprocessed audio FileRefs,
// per the algorithm in section 4.4:
//
//  1. List all buckets.
//  2. For each bucket, traverse recursively with Delimiter='/', depth-first,
//     lexicographic within each directory.
//  3. Include an entry iff it is audio, not already downloaded, and not
//     currently in flight.
//  4. Short-circuit as soon as the batch reaches MaxBatch.
//
// startPath optionally narrows the recursion root to a bucket-relative
// prefix across every bucket, per section 4.4.
func (s *Scanner) Next(ctx context.Context, startPath string) ([]FileRef, error) {
	buckets, err := s.store.ListBuckets(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	root := normalizeStartPath(startPath)

	batch := make([]FileRef, 0, MaxBatch)
	for _, bucket := range buckets {
		if len(batch) >= MaxBatch {
			break
		}
		if _, err := s.store.BucketRegion(ctx, bucket); err != nil {
			s.logf("skipping bucket %s: failed to resolve region: %v", bucket, err)
			continue
		}
		s.scanPrefix(ctx, bucket, root, &batch)
	}

	return batch, nil
}

// scanPrefix recursively enumerates one bucket/prefix, depth-first,
// appending matches to batch and short-circuiting once MaxBatch is
// reached. Errors on an individual prefix are logged and skipped; the scan
// continues with the next sibling, per section 4.4.
func (s *Scanner) scanPrefix(ctx context.Context, bucket, prefix string, batch *[]FileRef) {
	var token *string
	for {
		if len(*batch) >= MaxBatch {
			return
		}

		page, err := s.store.ListPage(ctx, bucket, prefix, "/", token)
		if err != nil {
			s.logf("skipping prefix %s in bucket %s: %v", prefix, bucket, err)
			return
		}

		for _, obj := range page.Objects {
			if !IsAudioFile(obj.Key) {
				continue
			}
			ref := NewFileRef(bucket, obj.Key)
			if s.progress.Has(ref.Path(), "downloaded") {
				continue
			}
			if s.inFlight.Contains(ref.Path()) {
				continue
			}
			*batch = append(*batch, ref)
			if len(*batch) >= MaxBatch {
				return
			}
		}

		for _, sub := range page.CommonPrefixes {
			s.scanPrefix(ctx, bucket, sub, batch)
			if len(*batch) >= MaxBatch {
				return
			}
		}

		if page.Next == nil {
			return
		}
		token = page.Next
	}
}

func (s *Scanner) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Sugar().Infof(format, args...)
	}
}

// normalizeStartPath ensures a non-empty start path ends with a trailing
// slash, matching original_source's wasabi_manager.py scan_path_recursive
// handling of the operator-supplied starting path.
func normalizeStartPath(startPath string) string {
	startPath = strings.TrimSpace(startPath)
	if startPath == "" {
		return ""
	}
	if !strings.HasSuffix(startPath, "/") {
		startPath += "/"
	}
	return startPath
}
