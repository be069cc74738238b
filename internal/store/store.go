package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound           = errors.New("document not found")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Content every document starts with
var EmptyContent = json.RawMessage(`""`)

// The persisted state of one room
type Document struct {
	RoomID    string          `json:"room_id"`
	Content   json.RawMessage `json:"content"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Store is the durable document persistence used by the realtime layer.
// Content is opaque: it is stored and returned unchanged.
type Store interface {
	// FindOrCreate returns the document for roomID, creating it with
	// EmptyContent if absent. Concurrent first calls observe one document.
	FindOrCreate(ctx context.Context, roomID string) (*Document, error)

	// Get returns ErrNotFound if the room has never been created.
	Get(ctx context.Context, roomID string) (*Document, error)

	// Save overwrites the content. The last write wins.
	Save(ctx context.Context, roomID string, content json.RawMessage) error

	Close() error
}

// Catalog is implemented by stores that can enumerate documents.
type Catalog interface {
	List(ctx context.Context, limit, offset int) ([]Document, error)
	Count(ctx context.Context) (int, error)
}

type Version struct {
	ID          int       `json:"id"`
	RoomID      string    `json:"room_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Content     string    `json:"content"`
	ContentHash string    `json:"content_hash"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	IsAuto      bool      `json:"is_auto"`
}

// VersionStore is implemented by stores that keep named snapshots.
type VersionStore interface {
	CreateVersion(ctx context.Context, v Version) (*Version, error)
	GetVersion(ctx context.Context, id int) (*Version, error)
	ListVersions(ctx context.Context, roomID string, limit, offset int) ([]Version, error)
	CountVersions(ctx context.Context, roomID string) (int, error)
	LatestVersion(ctx context.Context, roomID string) (*Version, error)
	DeleteVersion(ctx context.Context, id int) error
	DeleteOldAutoVersions(ctx context.Context, roomID string, keep int) error
}

// Open returns the backend named by kind, configured from dsn.
func Open(ctx context.Context, kind, dsn string) (Store, error) {
	switch kind {
	case "", "sqlite":
		return NewSQLite(dsn)
	case "postgres":
		return NewPostgres(ctx, dsn)
	case "redis":
		return NewRedis(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown store %q", kind)
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(ErrStorageUnavailable, err))
}

func emptyIfNil(content json.RawMessage) json.RawMessage {
	if len(content) == 0 {
		return EmptyContent
	}
	return content
}
