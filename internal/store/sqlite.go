package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/golang/glog"
	_ "modernc.org/sqlite"
)

// SQLite is the default single-node backend. It also keeps document versions.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(dbPath string) (*SQLite, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Concurrent writers on separate connections fail with SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	glog.Infof("Database initialized at %s", dbPath)
	return &SQLite{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		content BLOB NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS document_versions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT DEFAULT '',
		content TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		created_by TEXT DEFAULT '',
		is_auto BOOLEAN DEFAULT FALSE,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (room_id) REFERENCES documents(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_document_versions_room_id ON document_versions(room_id);
	`

	_, err := db.Exec(schema)
	return err
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// Document operations

func (s *SQLite) FindOrCreate(ctx context.Context, roomID string) (*Document, error) {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO documents (id, content) VALUES (?, ?) ON CONFLICT(id) DO NOTHING",
		roomID, []byte(EmptyContent),
	)
	if err != nil {
		return nil, unavailable("find or create", err)
	}
	doc, err := s.Get(ctx, roomID)
	if errors.Is(err, ErrNotFound) {
		return nil, unavailable("find or create", err)
	}
	return doc, err
}

func (s *SQLite) Get(ctx context.Context, roomID string) (*Document, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, content, created_at, updated_at FROM documents WHERE id = ?",
		roomID,
	)

	var doc Document
	var content []byte
	err := row.Scan(&doc.RoomID, &content, &doc.CreatedAt, &doc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get", err)
	}
	doc.Content = json.RawMessage(content)
	return &doc, nil
}

func (s *SQLite) Save(ctx context.Context, roomID string, content json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, content, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			updated_at = CURRENT_TIMESTAMP
	`, roomID, []byte(emptyIfNil(content)))
	if err != nil {
		return unavailable("save", err)
	}
	return nil
}

func (s *SQLite) List(ctx context.Context, limit, offset int) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, created_at, updated_at FROM documents ORDER BY updated_at DESC, id ASC LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, unavailable("list", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.RoomID, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, unavailable("list", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list", err)
	}
	return docs, nil
}

func (s *SQLite) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&count); err != nil {
		return 0, unavailable("count", err)
	}
	return count, nil
}

// Version operations

const versionColumns = "id, room_id, name, description, content, content_hash, created_by, is_auto, created_at"

func scanVersion(row interface{ Scan(...any) error }) (*Version, error) {
	var v Version
	err := row.Scan(&v.ID, &v.RoomID, &v.Name, &v.Description, &v.Content, &v.ContentHash, &v.CreatedBy, &v.IsAuto, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *SQLite) CreateVersion(ctx context.Context, v Version) (*Version, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO document_versions (room_id, name, description, content, content_hash, created_by, is_auto)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, v.RoomID, v.Name, v.Description, v.Content, v.ContentHash, v.CreatedBy, v.IsAuto)
	if err != nil {
		return nil, unavailable("create version", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, unavailable("create version", err)
	}

	return s.GetVersion(ctx, int(id))
}

// GetVersion returns ErrNotFound for an unknown id.
func (s *SQLite) GetVersion(ctx context.Context, id int) (*Version, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+versionColumns+" FROM document_versions WHERE id = ?", id)
	v, err := scanVersion(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get version", err)
	}
	return v, nil
}

// ListVersions returns a room's versions, newest first.
func (s *SQLite) ListVersions(ctx context.Context, roomID string, limit, offset int) ([]Version, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+versionColumns+`
		FROM document_versions
		WHERE room_id = ?
		ORDER BY id DESC
		LIMIT ? OFFSET ?
	`, roomID, limit, offset)
	if err != nil {
		return nil, unavailable("list versions", err)
	}
	defer rows.Close()

	var versions []Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, unavailable("list versions", err)
		}
		versions = append(versions, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list versions", err)
	}
	return versions, nil
}

func (s *SQLite) CountVersions(ctx context.Context, roomID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM document_versions WHERE room_id = ?", roomID).Scan(&count)
	if err != nil {
		return 0, unavailable("count versions", err)
	}
	return count, nil
}

// LatestVersion returns ErrNotFound when the room has no versions.
func (s *SQLite) LatestVersion(ctx context.Context, roomID string) (*Version, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+versionColumns+`
		FROM document_versions
		WHERE room_id = ?
		ORDER BY id DESC
		LIMIT 1
	`, roomID)
	v, err := scanVersion(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("latest version", err)
	}
	return v, nil
}

func (s *SQLite) DeleteVersion(ctx context.Context, id int) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM document_versions WHERE id = ?", id); err != nil {
		return unavailable("delete version", err)
	}
	return nil
}

// DeleteOldAutoVersions removes auto versions beyond the most recent keep.
func (s *SQLite) DeleteOldAutoVersions(ctx context.Context, roomID string, keep int) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM document_versions
		WHERE room_id = ? AND is_auto = TRUE AND id NOT IN (
			SELECT id FROM document_versions
			WHERE room_id = ? AND is_auto = TRUE
			ORDER BY id DESC
			LIMIT ?
		)
	`, roomID, roomID, keep)
	if err != nil {
		return unavailable("delete old versions", err)
	}
	return nil
}
