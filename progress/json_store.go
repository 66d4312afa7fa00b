package progress

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// timestampLayout mirrors original_source's
// datetime.now().strftime("%Y-%m-%d %H:%M:%S"), kept consistent with
// oplog's mirror format.
const timestampLayout = "2006-01-02 15:04:05"

// key joins path and operation into the map key used by JSONStore and
// MemoryStore.
func key(path, operation string) string {
	return path + "|" + operation
}

// JSONStore is the single-file JSON ProgressStore from section 4.2 and
// section 6: a map keyed by "path|operation", atomically rewritten
// (tempfile, fsync, rename) on every mutation, matching the teacher's
// checkpoint.FileStore persistence style.
type JSONStore struct {
	mu      sync.Mutex
	path    string
	records map[string]Record
	now     func() time.Time
}

// NewJSONStore creates a JSONStore backed by path. The file is not read
// until Load is called.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path, records: map[string]Record{}, now: time.Now}
}

// Load reads the persisted file, if any. A missing file is not an error.
// If the payload is in the legacy flat schema (section 3: bucket -> key
// -> {transcribed, summarized}) rather than the canonical (path,
// operation) array, it is migrated via MigrateFlatState and the result
// is persisted back in the canonical shape, per section 6's read-time
// migration decision.
func (s *JSONStore) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read progress store: %w", err)
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		flat, ferr := DecodeFlatState(data)
		if ferr != nil {
			return fmt.Errorf("failed to decode progress store: %w", err)
		}
		return MigrateFlatState(flat, s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.records[key(r.Path, r.Operation)] = r
	}
	return nil
}

// Has reports whether a record exists for (path, operation), per the
// ProgressStore contract in section 4.2.
func (s *JSONStore) Has(path, operation string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[key(path, operation)]
	return ok
}

// Record inserts a record for (path, operation) if absent, persisting the
// whole map atomically. Re-recording an existing key is a no-op, per
// section 4.2's idempotency requirement and section 3's
// never-mutated-once-written invariant.
func (s *JSONStore) Record(ctx context.Context, path, operation, localIdentifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(path, operation)
	if _, exists := s.records[k]; exists {
		return nil
	}
	s.records[k] = Record{
		Path:            path,
		Operation:       operation,
		ProcessedAt:     s.now().Format(timestampLayout),
		LocalIdentifier: localIdentifier,
	}
	return s.persist()
}

// FindByOperationSubstring implements SubstringFinder for the
// reconciliation scanner's filename-correlation heuristic (section 4.7).
func (s *JSONStore) FindByOperationSubstring(operation, identifier string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.Operation == operation && identifier != "" && strings.Contains(r.Path, identifier) {
			return r, true
		}
	}
	return Record{}, false
}

// persist must be called with s.mu held.
func (s *JSONStore) persist() error {
	records := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		records = append(records, r)
	}

	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to encode progress store: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".progress-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for progress store: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := bytes.NewReader(data).WriteTo(tmp); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write progress store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to sync progress store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close progress store: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to finalize progress store: %w", err)
	}
	return nil
}
