package history

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists counters in a local SQLite file. WAL mode plus a busy timeout
// make it safe for every process of the application to share one file.
type SQLiteStore struct {
	sqlDB     *sql.DB
	namespace string
	timeout   time.Duration
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS crash_counts (
	namespace  TEXT    NOT NULL,
	version    TEXT    NOT NULL,
	count      INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (namespace, version)
)`

// OpenSQLite opens (creating if needed) the counter database at path.
func OpenSQLite(path, namespace string, timeout time.Duration) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := "file:" + cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(sqliteSchema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{sqlDB: sqlDB, namespace: normaliseNamespace(namespace), timeout: timeout}, nil
}

// Close releases the SQLite connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Get returns the stored count for version.
func (s *SQLiteStore) Get(ctx context.Context, version string) (int, error) {
	key, err := normaliseVersion(version)
	if err != nil {
		return 0, err
	}
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var count int
	err = s.sqlDB.QueryRowContext(ctx,
		`SELECT count FROM crash_counts WHERE namespace = ? AND version = ?`,
		s.namespace, key,
	).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get crash count: %w", err)
	}
	return count, nil
}

// Put upserts count, keeping the larger value when another process wrote first.
func (s *SQLiteStore) Put(ctx context.Context, version string, count int) error {
	key, err := normaliseVersion(version)
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO crash_counts (namespace, version, count, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (namespace, version) DO UPDATE SET
	count = MAX(crash_counts.count, excluded.count),
	updated_at = excluded.updated_at
`,
		s.namespace,
		key,
		count,
		time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("put crash count: %w", err)
	}
	return nil
}

// List returns every counter in the namespace.
func (s *SQLiteStore) List(ctx context.Context) (map[string]int, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT version, count FROM crash_counts WHERE namespace = ? ORDER BY version`,
		s.namespace,
	)
	if err != nil {
		return nil, fmt.Errorf("list crash counts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			version string
			count   int
		)
		if err := rows.Scan(&version, &count); err != nil {
			return nil, fmt.Errorf("scan crash count: %w", err)
		}
		out[version] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate crash counts: %w", err)
	}
	return out, nil
}

// Reset removes the counter for version.
func (s *SQLiteStore) Reset(ctx context.Context, version string) error {
	key, err := normaliseVersion(version)
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM crash_counts WHERE namespace = ? AND version = ?`,
		s.namespace, key,
	); err != nil {
		return fmt.Errorf("reset crash count: %w", err)
	}
	return nil
}

var _ Store = (*SQLiteStore)(nil)
