package learning

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/zaikaman/forgedeploy/internal/project"
)

const schema = `
CREATE TABLE IF NOT EXISTS failures (
	id          TEXT PRIMARY KEY,
	target      TEXT NOT NULL,
	runtime     TEXT NOT NULL,
	attempt     INTEGER NOT NULL,
	error       TEXT NOT NULL,
	raw_log     TEXT NOT NULL,
	file_count  INTEGER NOT NULL,
	resolved    INTEGER NOT NULL DEFAULT 0,
	resolution  TEXT,
	created_at  TEXT NOT NULL,
	resolved_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_failures_target ON failures(target);
`

// Store is a local sqlite-backed learning collaborator, used when no remote
// learning service is configured. Concurrent sessions write distinct rows
// keyed by uuid, so no coordination is needed beyond sqlite's own locking.
type Store struct {
	db *sql.DB
}

// DefaultStorePath is the on-disk location of the local learning database.
func DefaultStorePath() string {
	baseDir, err := os.UserHomeDir()
	if err != nil {
		baseDir = os.TempDir()
	}
	return filepath.Join(baseDir, ".forgedeploy", "learning.db")
}

// OpenStore opens (creating if needed) the sqlite store at path.
func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open learning store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize learning store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CaptureFailure inserts one failed attempt and returns its id.
func (s *Store) CaptureFailure(ctx context.Context, fs project.FileSet, errMsg, rawLog string, attempt int, target, runtime string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO failures (id, target, runtime, attempt, error, raw_log, file_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, target, runtime, attempt, errMsg, rawLog, fs.Len(), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return "", fmt.Errorf("failed to capture failure: %w", err)
	}
	return id, nil
}

// MarkResolved flags a captured failure as fixed with a description of what
// resolved it.
func (s *Store) MarkResolved(ctx context.Context, failureID, description string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE failures SET resolved = 1, resolution = ?, resolved_at = ? WHERE id = ?`,
		description, time.Now().UTC().Format(time.RFC3339), failureID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark failure resolved: %w", err)
	}
	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("unknown failure id %s", failureID)
	}
	return nil
}

// ListFailures returns captured failures for target, newest first. An empty
// target lists everything.
func (s *Store) ListFailures(ctx context.Context, target string) ([]FailureRecord, error) {
	query := `SELECT id, target, runtime, attempt, error, resolved, COALESCE(resolution, ''), created_at
		  FROM failures`
	args := []any{}
	if target != "" {
		query += ` WHERE target = ?`
		args = append(args, target)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list failures: %w", err)
	}
	defer rows.Close()

	var records []FailureRecord
	for rows.Next() {
		var r FailureRecord
		var resolved int
		if err := rows.Scan(&r.ID, &r.Target, &r.Runtime, &r.Attempt, &r.Error, &resolved, &r.Resolution, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan failure row: %w", err)
		}
		r.Resolved = resolved != 0
		records = append(records, r)
	}
	return records, rows.Err()
}
