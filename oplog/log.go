// Package oplog implements the in-memory live operation log with a
// persistent mirror, as specified in section 4.3 of the design
// specification (C3). It distinguishes in-flight, completed, and failed
// work, and exposes a deep-copy Snapshot for safe concurrent reads.
package oplog

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// Status values for a LogEntry, per section 3.
const (
	StatusProcessing = "processing"
	StatusRetrying   = "retrying"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// maxCompleted bounds the completed ring buffer, per section 3
// ("a bounded ring buffer of the last N=100 entries").
const maxCompleted = 100

// timestampLayout mirrors original_source's
// datetime.now().strftime("%Y-%m-%d %H:%M:%S").
const timestampLayout = "2006-01-02 15:04:05"

// FileRef is the minimal identity oplog needs from a scanner.FileRef,
// expressed locally to avoid a dependency cycle between oplog and scanner.
type FileRef struct {
	Bucket string
	Key    string
}

// Path returns the "bucket/key" identity used for entry matching.
func (f FileRef) Path() string {
	return f.Bucket + "/" + f.Key
}

// LogEntry is a single operation-log record, as defined in section 3.
type LogEntry struct {
	Bucket          string   `json:"bucket"`
	Key             string   `json:"key"`
	Path            string   `json:"path"`
	Timestamp       string   `json:"timestamp"`
	Status          string   `json:"status"`
	Error           string   `json:"error,omitempty"`
	UploadLocations []string `json:"upload_locations,omitempty"`
}

// Snapshot is the deep-copied state returned by Log.Snapshot, per section 3.
type Snapshot struct {
	Current   []LogEntry `json:"current"`
	Completed []LogEntry `json:"completed"`
}

// Log implements the OperationLog specified in section 4.3. All mutations
// hold a single exclusive lock and write the persistent mirror from within
// the lock, per section 4.3 and section 5.
type Log struct {
	mu        sync.Mutex
	current   []LogEntry
	completed []LogEntry
	mirrorPath string
	now       func() time.Time
}

// New creates a Log that mirrors its state to mirrorPath on every mutation.
// An empty mirrorPath disables persistence (used by tests).
func New(mirrorPath string) *Log {
	return &Log{mirrorPath: mirrorPath, now: time.Now}
}

// Load reads a previously persisted mirror, if any, restoring current and
// completed from disk. A missing file is not an error.
func (l *Log) Load() error {
	if l.mirrorPath == "" {
		return nil
	}
	data, err := os.ReadFile(l.mirrorPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read operation log mirror: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to decode operation log mirror: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.current = snap.Current
	l.completed = snap.Completed
	return nil
}

// Enter inserts or overwrites an entry in current with status "processing",
// per section 4.3.
func (l *Log) Enter(ref FileRef) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := LogEntry{
		Bucket:    ref.Bucket,
		Key:       ref.Key,
		Path:      ref.Path(),
		Timestamp: l.now().Format(timestampLayout),
		Status:    StatusProcessing,
	}

	if i := indexByPath(l.current, ref.Path()); i >= 0 {
		l.current[i] = entry
	} else {
		l.current = append(l.current, entry)
	}
	return l.persist()
}

// Retry updates the matching current entry to "retrying" with the given
// reason attached, per section 4.3.
func (l *Log) Retry(ref FileRef, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if i := indexByPath(l.current, ref.Path()); i >= 0 {
		l.current[i].Status = StatusRetrying
		l.current[i].Error = reason
		l.current[i].Timestamp = l.now().Format(timestampLayout)
	} else {
		l.current = append(l.current, LogEntry{
			Bucket:    ref.Bucket,
			Key:       ref.Key,
			Path:      ref.Path(),
			Timestamp: l.now().Format(timestampLayout),
			Status:    StatusRetrying,
			Error:     reason,
		})
	}
	return l.persist()
}

// Finish removes the matching current entry and prepends a completed entry
// carrying the same path and the given upload locations, truncating
// completed to the last maxCompleted entries, per section 4.3.
func (l *Log) Finish(ref FileRef, uploadLocations []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := LogEntry{
		Bucket:          ref.Bucket,
		Key:             ref.Key,
		Path:            ref.Path(),
		Timestamp:       l.now().Format(timestampLayout),
		Status:          StatusCompleted,
		UploadLocations: uploadLocations,
	}

	if i := indexByPath(l.current, ref.Path()); i >= 0 {
		l.current = append(l.current[:i], l.current[i+1:]...)
	}

	l.completed = append([]LogEntry{entry}, l.completed...)
	if len(l.completed) > maxCompleted {
		l.completed = l.completed[:maxCompleted]
	}
	return l.persist()
}

// Fail updates the matching current entry to "failed" with the given
// reason, retaining it in current for operator visibility, per section 4.3.
func (l *Log) Fail(ref FileRef, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if i := indexByPath(l.current, ref.Path()); i >= 0 {
		l.current[i].Status = StatusFailed
		l.current[i].Error = reason
		l.current[i].Timestamp = l.now().Format(timestampLayout)
	} else {
		l.current = append(l.current, LogEntry{
			Bucket:    ref.Bucket,
			Key:       ref.Key,
			Path:      ref.Path(),
			Timestamp: l.now().Format(timestampLayout),
			Status:    StatusFailed,
			Error:     reason,
		})
	}
	return l.persist()
}

// Snapshot returns a deep copy of the current state, per section 4.3.
func (l *Log) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Snapshot{
		Current:   append([]LogEntry(nil), l.current...),
		Completed: append([]LogEntry(nil), l.completed...),
	}
}

// ClearCurrent empties current, per section 4.3 (used on shutdown).
func (l *Log) ClearCurrent() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.current = nil
	return l.persist()
}

// Contains reports whether path is present in current, satisfying
// scanner.InFlightChecker.
func (l *Log) Contains(path string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return indexByPath(l.current, path) >= 0
}

func indexByPath(entries []LogEntry, path string) int {
	for i, e := range entries {
		if e.Path == path {
			return i
		}
	}
	return -1
}

// persist writes the mirror file atomically (tempfile + rename), matching
// the persistence style of the teacher's checkpoint.FileStore. Must be
// called with l.mu held.
func (l *Log) persist() error {
	if l.mirrorPath == "" {
		return nil
	}

	data, err := json.Marshal(Snapshot{Current: l.current, Completed: l.completed})
	if err != nil {
		return fmt.Errorf("failed to encode operation log mirror: %w", err)
	}

	dir := filepath.Dir(l.mirrorPath)
	tmp, err := os.CreateTemp(dir, ".oplog-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for operation log mirror: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := bytes.NewReader(data).WriteTo(tmp); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write operation log mirror: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to sync operation log mirror: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close operation log mirror: %w", err)
	}
	if err := os.Rename(tmpPath, l.mirrorPath); err != nil {
		return fmt.Errorf("failed to finalize operation log mirror: %w", err)
	}
	return nil
}
