// Package progress implements the durable ProgressStore specified in
// section 4.2 of the design specification (C2): a key-value record of
// per-file processing outcomes keyed by (path, operation).
package progress

import (
	"context"
)

// Record is a single persisted outcome, as defined in section 3
// (ProcessedRecord). Once written it is never mutated.
type Record struct {
	Path            string `json:"path"`
	Operation       string `json:"operation"`
	ProcessedAt     string `json:"processed_at"`
	LocalIdentifier string `json:"local_identifier,omitempty"`
}

// Operation values a Record may carry, per section 3.
const (
	OpDownloaded = "downloaded"
	OpUploaded   = "uploaded"
)

// Store is the ProgressStore contract from section 4.2: a point-query,
// idempotent-write key-value store over (path, operation).
type Store interface {
	Has(path, operation string) bool
	Record(ctx context.Context, path, operation, localIdentifier string) error
}

// FindByOperationSubstring returns the first record of the given operation
// whose path contains identifier as a substring, used by the reconciliation variant's
// filename-correlation heuristic in section 4.7. Implementations that index
// records by path only need to support this one query shape; order among
// matches is unspecified, matching section 4.7's "first match wins" rule.
type SubstringFinder interface {
	FindByOperationSubstring(operation, identifier string) (Record, bool)
}
