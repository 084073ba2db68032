// Package sqlite is the default durable usermap.Store, backed by the
// pure-Go SQLite driver. One database file holds the user table; hosts
// with their own identity storage implement usermap.Store directly
// instead.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-uuid"
	_ "modernc.org/sqlite"

	"github.com/openpath/oidcrp/usermap"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id          TEXT PRIMARY KEY,
	external_id TEXT NOT NULL,
	name        TEXT NOT NULL DEFAULT '',
	email       TEXT NOT NULL DEFAULT '',
	locale      TEXT NOT NULL DEFAULT '',
	disabled    INTEGER NOT NULL DEFAULT 0,
	deleted     INTEGER NOT NULL DEFAULT 0,
	groups      TEXT NOT NULL DEFAULT '[]',
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS users_external_id ON users (external_id);
`

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Store implements usermap.Store over a SQLite file.
type Store struct {
	db *sql.DB
}

// Open opens the store at path, creating the schema when absent.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// GetByExternalID implements usermap.Store.
func (s *Store) GetByExternalID(ctx context.Context, externalID string) (*usermap.User, error) {
	const query = `
SELECT id, external_id, name, email, locale, disabled, deleted, groups, created_at, updated_at
FROM users WHERE external_id = ?1;
`
	var (
		u          usermap.User
		disabled   int64
		deleted    int64
		groupsJSON string
		createdAt  int64
		updatedAt  int64
	)
	err := s.db.QueryRowContext(ctx, query, externalID).Scan(
		&u.ID, &u.ExternalID, &u.Name, &u.Email, &u.Locale,
		&disabled, &deleted, &groupsJSON, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, usermap.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user by external id: %w", err)
	}
	u.Disabled = disabled != 0
	u.Deleted = deleted != 0
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	if err := json.Unmarshal([]byte(groupsJSON), &u.Groups); err != nil {
		return nil, fmt.Errorf("decode stored groups: %w", err)
	}
	return &u, nil
}

// Create implements usermap.Store. The store assigns the record id.
func (s *Store) Create(ctx context.Context, u *usermap.User) (*usermap.User, error) {
	const query = `
INSERT INTO users (id, external_id, name, email, locale, disabled, deleted, groups, created_at, updated_at)
VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8, ?9, ?10);
`
	id, err := uuid.GenerateUUID()
	if err != nil {
		return nil, fmt.Errorf("generate user id: %w", err)
	}
	groupsJSON, err := encodeGroups(u.Groups)
	if err != nil {
		return nil, err
	}
	cp := u.Clone()
	cp.ID = id
	_, err = s.db.ExecContext(ctx, query,
		cp.ID, cp.ExternalID, cp.Name, cp.Email, cp.Locale,
		boolToInt(cp.Disabled), boolToInt(cp.Deleted), groupsJSON,
		toMillis(cp.CreatedAt), toMillis(cp.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return cp, nil
}

// Update implements usermap.Store.
func (s *Store) Update(ctx context.Context, u *usermap.User) error {
	const query = `
UPDATE users
SET name = ?2, email = ?3, locale = ?4, disabled = ?5, deleted = ?6, groups = ?7, updated_at = ?8
WHERE id = ?1;
`
	groupsJSON, err := encodeGroups(u.Groups)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, query,
		u.ID, u.Name, u.Email, u.Locale,
		boolToInt(u.Disabled), boolToInt(u.Deleted), groupsJSON,
		toMillis(u.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if affected == 0 {
		return usermap.ErrNotFound
	}
	return nil
}

func encodeGroups(groups []string) (string, error) {
	if groups == nil {
		groups = []string{}
	}
	out, err := json.Marshal(groups)
	if err != nil {
		return "", fmt.Errorf("encode groups: %w", err)
	}
	return string(out), nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
