package profile

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps profiles in a single-table SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// Open opens (and creates if needed) the profile database at path and
// ensures the profiles table exists.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("profile db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create profile db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open profile db: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if _, err := db.ExecContext(pctx, `
CREATE TABLE IF NOT EXISTS profiles (
  app        TEXT PRIMARY KEY,
  profile    JSON NOT NULL,
  updated_at TEXT NOT NULL
);`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap profile db: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Get loads the profile stored for app.
func (s *SQLiteStore) Get(ctx context.Context, app string) (*Profile, error) {
	var blob string
	err := s.db.QueryRowContext(ctx, `SELECT profile FROM profiles WHERE app = ?;`, app).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, app)
	}
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", app, err)
	}

	var p Profile
	if err := json.Unmarshal([]byte(blob), &p); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", app, err)
	}
	return &p, nil
}

// Put stores or replaces the profile for app.
func (s *SQLiteStore) Put(ctx context.Context, app string, p *Profile) error {
	blob, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile %s: %w", app, err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx, `
INSERT INTO profiles(app, profile, updated_at)
VALUES(?, ?, ?)
ON CONFLICT(app) DO UPDATE SET profile = excluded.profile, updated_at = excluded.updated_at;
`, app, string(blob), now)
	if err != nil {
		return fmt.Errorf("store profile %s: %w", app, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
