// Package scanner implements the recursive, bounded, filtered enumeration
// of audio objects specified in section 4.4 of the design specification
// (C4), plus the data model (section 3: FileRef, the audio-file predicate,
// and the derived-key rule) that section 4.4 and downstream components
// depend on.
package scanner

import (
	"strings"
)

// FileRef identifies a single object in the store, as defined in section 3.
// Immutable once constructed; produced by Scanner and consumed by every
// downstream component (workerpool, pipeline, oplog).
type FileRef struct {
	Bucket string
	Key    string
}

// Path returns the "bucket/key" form used as the canonical identity for
// ProgressStore lookups and OperationLog entries, per section 3.
func (f FileRef) Path() string {
	return f.Bucket + "/" + f.Key
}

// NewFileRef constructs a FileRef from a bucket and key.
func NewFileRef(bucket, key string) FileRef {
	return FileRef{Bucket: bucket, Key: key}
}

// audioExtensions is the fixed suffix set from section 3's audio-file
// predicate.
var audioExtensions = []string{
	".mp3", ".wav", ".m4a", ".aac", ".ogg", ".flac", ".wma", ".alac", ".aiff",
}

// IsAudioFile reports whether key's lower-cased suffix is one of the fixed
// audio extensions, per section 3.
func IsAudioFile(key string) bool {
	lower := strings.ToLower(key)
	for _, ext := range audioExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// splitKey splits a key into its parent directory and basename, without the
// leading/trailing slash semantics of path/filepath (which treats "/" as
// the OS separator and is not appropriate for S3 keys on all platforms).
func splitKey(key string) (dir, base string) {
	idx := strings.LastIndex(key, "/")
	if idx < 0 {
		return "", key
	}
	return key[:idx], key[idx+1:]
}

// stripExt removes the last "." extension from a basename, if present.
func stripExt(base string) string {
	idx := strings.LastIndex(base, ".")
	if idx < 0 {
		return base
	}
	return base[:idx]
}

// joinKey joins key segments with "/", skipping empty segments.
func joinKey(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "/")
}

// TranscriptKeyOf derives the transcript key for a source key, per the
// derived-key rule in section 3: parent directory unchanged, a new
// "transcripts" child folder is appended, basename extension stripped, and
// "_transcript.txt" appended.
func TranscriptKeyOf(key string) string {
	return derivedKeyOf(key, "transcripts", "_transcript", ".txt")
}

// SummaryKeyOf derives the summary key for a source key, per the
// derived-key rule in section 3: parent directory unchanged, a new
// "summaries" child folder is appended, basename extension stripped, and
// "_summary.txt" appended.
func SummaryKeyOf(key string) string {
	return derivedKeyOf(key, "summaries", "_summary", ".txt")
}

func derivedKeyOf(key, subfolder, suffix, newExt string) string {
	dir, base := splitKey(key)
	stem := stripExt(base)
	return joinKey(dir, subfolder, stem+suffix+newExt)
}
