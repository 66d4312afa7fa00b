package progress

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq" // registers the "postgres" driver
)

// PostgresStore is the relational alternative to JSONStore named in
// section 6: a processed_files table with a unique index on
// (file_path, operation).
//
//	CREATE TABLE processed_files (
//	    id              BIGSERIAL PRIMARY KEY,
//	    file_path       TEXT NOT NULL,
//	    operation       TEXT NOT NULL,
//	    processed_at    TIMESTAMPTZ NOT NULL,
//	    local_timestamp TEXT,
//	    UNIQUE (file_path, operation)
//	);
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresStore opens a connection pool against dsn (a
// "postgres://..." connection string) and returns a PostgresStore. It does
// not create the schema; operators are expected to apply it via migration.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres progress store: %w", err)
	}
	return &PostgresStore{db: db, now: time.Now}, nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Has reports whether a row exists for (path, operation).
func (s *PostgresStore) Has(path, operation string) bool {
	var exists bool
	err := s.db.QueryRow(
		`SELECT EXISTS(SELECT 1 FROM processed_files WHERE file_path = $1 AND operation = $2)`,
		path, operation,
	).Scan(&exists)
	if err != nil {
		return false
	}
	return exists
}

// Record inserts a row for (path, operation) if absent. The unique index on
// (file_path, operation) makes the insert idempotent: a conflicting insert
// is discarded rather than erroring, matching section 4.2's no-op
// requirement on re-recording.
func (s *PostgresStore) Record(ctx context.Context, path, operation, localIdentifier string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO processed_files (file_path, operation, processed_at, local_timestamp)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (file_path, operation) DO NOTHING`,
		path, operation, s.now(), localIdentifier,
	)
	if err != nil {
		return fmt.Errorf("failed to record progress: %w", err)
	}
	return nil
}

// FindByOperationSubstring implements SubstringFinder via a LIKE query,
// used by the reconciliation scanner's filename-correlation heuristic
// (section 4.7). identifier is wrapped with wildcards and underscores in
// it are not treated as SQL wildcards by escaping, keeping the match a
// literal substring search.
func (s *PostgresStore) FindByOperationSubstring(operation, identifier string) (Record, bool) {
	if identifier == "" {
		return Record{}, false
	}
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(identifier)
	var r Record
	var localIdentifier sql.NullString
	var processedAt time.Time
	err := s.db.QueryRow(
		`SELECT file_path, operation, processed_at, local_timestamp
		 FROM processed_files
		 WHERE operation = $1 AND file_path LIKE '%' || $2 || '%'
		 LIMIT 1`,
		operation, escaped,
	).Scan(&r.Path, &r.Operation, &processedAt, &localIdentifier)
	if err != nil {
		return Record{}, false
	}
	r.ProcessedAt = processedAt.Format(timestampLayout)
	r.LocalIdentifier = localIdentifier.String
	return r, true
}
