// Package projectstore is the reference implementation of the project API
// consumed by the editor: projects kept in SQLite, owned by the subject of
// the caller's bearer token.
package projectstore

import (
	"context"
	"database/sql"
	"html"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	_ "modernc.org/sqlite"

	"github.com/conneroisu/playpen/internal/buffer"
	"github.com/conneroisu/playpen/internal/errors"
	"github.com/conneroisu/playpen/internal/persistence"
)

// MaxNameLen bounds project names, in runes.
const MaxNameLen = 120

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id         TEXT PRIMARY KEY,
	owner      TEXT NOT NULL,
	name       TEXT NOT NULL,
	html       TEXT NOT NULL DEFAULT '',
	css        TEXT NOT NULL DEFAULT '',
	js         TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_projects_owner ON projects(owner, updated_at DESC);
`

// Record is a stored project.
type Record struct {
	ID        string         `json:"id"`
	Owner     string         `json:"-"`
	Name      string         `json:"name"`
	Sources   buffer.Sources `json:"-"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// SQLiteStore keeps projects in a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	policy *bluemonday.Policy
	now    func() time.Time
}

// Open opens (and migrates) the database at path. ":memory:" gives a
// private in-memory database.
func Open(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.NewStorageError(errors.ErrCodeStorage, "create database dir", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.NewStorageError(errors.ErrCodeStorage, "open database", err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range append(pragmas, schema) {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, errors.NewStorageError(errors.ErrCodeStorage, "initialize database", err).
				WithContext("statement", strings.Fields(p)[0])
		}
	}

	return &SQLiteStore{
		db:     db,
		policy: bluemonday.StrictPolicy(),
		now:    time.Now,
	}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CleanName strips markup from a project name and bounds its length.
// Names that end up empty become persistence.DefaultProjectName.
func (s *SQLiteStore) CleanName(name string) string {
	// Sanitize escapes entities; names are stored as plain text and escaped
	// on output instead.
	name = html.UnescapeString(s.policy.Sanitize(name))
	name = strings.Join(strings.Fields(name), " ")
	if utf8.RuneCountInString(name) > MaxNameLen {
		name = string([]rune(name)[:MaxNameLen])
	}
	if name == "" {
		return persistence.DefaultProjectName
	}
	return name
}

// Create stores an empty project for owner.
func (s *SQLiteStore) Create(ctx context.Context, owner, name string) (Record, error) {
	now := s.now().UTC()
	rec := Record{
		ID:        uuid.NewString(),
		Owner:     owner,
		Name:      s.CleanName(name),
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, owner, name, html, css, js, created_at, updated_at)
		 VALUES (?, ?, ?, '', '', '', ?, ?)`,
		rec.ID, rec.Owner, rec.Name, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return Record{}, errors.NewStorageError(errors.ErrCodeStorage, "create project", err)
	}
	return rec, nil
}

// Get returns project id of owner. Projects of other owners are reported
// as missing.
func (s *SQLiteStore) Get(ctx context.Context, owner, id string) (Record, error) {
	var (
		rec              Record
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner, name, html, css, js, created_at, updated_at
		 FROM projects WHERE id = ? AND owner = ?`, id, owner).
		Scan(&rec.ID, &rec.Owner, &rec.Name,
			&rec.Sources.HTML, &rec.Sources.CSS, &rec.Sources.JS,
			&created, &updated)
	if err == sql.ErrNoRows {
		return Record{}, errors.ErrProjectNotFound(id)
	}
	if err != nil {
		return Record{}, errors.NewStorageError(errors.ErrCodeStorage, "get project", err)
	}
	rec.CreatedAt = time.UnixMilli(created).UTC()
	rec.UpdatedAt = time.UnixMilli(updated).UTC()
	return rec, nil
}

// List returns the projects of owner, most recently updated first.
func (s *SQLiteStore) List(ctx context.Context, owner string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, created_at, updated_at
		 FROM projects WHERE owner = ? ORDER BY updated_at DESC, id`, owner)
	if err != nil {
		return nil, errors.NewStorageError(errors.ErrCodeStorage, "list projects", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var (
			rec              Record
			created, updated int64
		)
		if err := rows.Scan(&rec.ID, &rec.Name, &created, &updated); err != nil {
			return nil, errors.NewStorageError(errors.ErrCodeStorage, "scan project", err)
		}
		rec.Owner = owner
		rec.CreatedAt = time.UnixMilli(created).UTC()
		rec.UpdatedAt = time.UnixMilli(updated).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageError(errors.ErrCodeStorage, "list projects", err)
	}
	return records, nil
}

// Update replaces all three sources of project id.
func (s *SQLiteStore) Update(ctx context.Context, owner, id string, src buffer.Sources) (time.Time, error) {
	now := s.now().UTC()
	return now, s.exec(ctx, id, "update project",
		`UPDATE projects SET html = ?, css = ?, js = ?, updated_at = ? WHERE id = ? AND owner = ?`,
		src.HTML, src.CSS, src.JS, now.UnixMilli(), id, owner)
}

// Rename changes the name of project id and returns the cleaned name.
func (s *SQLiteStore) Rename(ctx context.Context, owner, id, name string) (string, error) {
	clean := s.CleanName(name)
	return clean, s.exec(ctx, id, "rename project",
		`UPDATE projects SET name = ?, updated_at = ? WHERE id = ? AND owner = ?`,
		clean, s.now().UTC().UnixMilli(), id, owner)
}

// Delete removes project id.
func (s *SQLiteStore) Delete(ctx context.Context, owner, id string) error {
	return s.exec(ctx, id, "delete project",
		`DELETE FROM projects WHERE id = ? AND owner = ?`, id, owner)
}

func (s *SQLiteStore) exec(ctx context.Context, id, what, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.NewStorageError(errors.ErrCodeStorage, what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.NewStorageError(errors.ErrCodeStorage, what, err)
	}
	if n == 0 {
		return errors.ErrProjectNotFound(id)
	}
	return nil
}
