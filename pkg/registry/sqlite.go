// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/jllopis/hubnet/pkg/identity"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists records in SQLite. Insertion order is rowid order.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens the database at path and ensures the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store, err := NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLiteStore creates a SQLite-backed store and ensures schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureRegistrySchema(db); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Add implements Store.
func (s *SQLiteStore) Add(ctx context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	extra, err := encodeExtra(rec.Extra)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO registry_records (
			kind, name, host, port, category, active, relevance, goodness, description, extra_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		string(rec.Kind),
		rec.Identity.Name,
		rec.Identity.Host,
		rec.Identity.Port,
		rec.Category,
		rec.Active,
		rec.Relevance,
		rec.Goodness,
		rec.Description,
		extra,
	)
	if err != nil && isUniqueViolation(err) {
		return ErrExists
	}
	return err
}

// SetActive implements Store.
func (s *SQLiteStore) SetActive(ctx context.Context, id identity.Node, active bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE registry_records SET active = ? WHERE name = ? AND host = ? AND port = ?
	`, active, id.Name, id.Host, id.Port)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ActiveProviders implements Store.
func (s *SQLiteStore) ActiveProviders(ctx context.Context, categories []string, exclude identity.Set) ([]Record, error) {
	records, err := s.query(ctx, "WHERE kind = ? AND active = 1", string(KindPublic))
	if err != nil {
		return nil, err
	}
	return filterProviders(records, categories, exclude), nil
}

// ActivePeerHubs implements Store.
func (s *SQLiteStore) ActivePeerHubs(ctx context.Context) ([]identity.Node, error) {
	records, err := s.query(ctx, "WHERE kind = ? AND active = 1", string(KindHub))
	if err != nil {
		return nil, err
	}
	return filterPeerHubs(records), nil
}

// Categories implements Store.
func (s *SQLiteStore) Categories(ctx context.Context) ([]Category, error) {
	records, err := s.query(ctx, "WHERE kind = ?", string(KindPublic))
	if err != nil {
		return nil, err
	}
	return distinctCategories(records), nil
}

// Lookup implements Store.
func (s *SQLiteStore) Lookup(ctx context.Context, name, host string) ([]Record, error) {
	return s.query(ctx, "WHERE name = ? AND host = ?", name, host)
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, kind Kind) ([]Record, error) {
	if kind == "" {
		return s.query(ctx, "")
	}
	return s.query(ctx, "WHERE kind = ?", string(kind))
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) query(ctx context.Context, where string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, name, host, port, category, active, relevance, goodness, description, extra_json
		FROM registry_records `+where+` ORDER BY rowid ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec       Record
			kind      string
			extraJSON string
		)
		if err := rows.Scan(
			&kind,
			&rec.Identity.Name,
			&rec.Identity.Host,
			&rec.Identity.Port,
			&rec.Category,
			&rec.Active,
			&rec.Relevance,
			&rec.Goodness,
			&rec.Description,
			&extraJSON,
		); err != nil {
			return nil, err
		}
		rec.Kind = Kind(kind)
		if extraJSON != "" {
			_ = json.Unmarshal([]byte(extraJSON), &rec.Extra)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func encodeExtra(extra map[string]string) (string, error) {
	if len(extra) == 0 {
		return "", nil
	}
	data, err := json.Marshal(extra)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func ensureRegistrySchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS registry_records (
			kind TEXT NOT NULL,
			name TEXT NOT NULL,
			host TEXT NOT NULL,
			port TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			active BOOLEAN NOT NULL DEFAULT 0,
			relevance REAL NOT NULL DEFAULT 0,
			goodness REAL NOT NULL DEFAULT 0,
			description TEXT NOT NULL DEFAULT '',
			extra_json TEXT NOT NULL DEFAULT '',
			UNIQUE (kind, name, host, port)
		)
	`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_registry_records_name_host ON registry_records(name, host)`)
	return err
}
