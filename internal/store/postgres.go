package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/golang/glog"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres stores documents in a shared database so several server
// processes can persist to the same place.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, unavailable("connect", err)
	}

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			content BYTEA NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		pool.Close()
		return nil, err
	}

	glog.Infof("Connected to PostgreSQL")
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) FindOrCreate(ctx context.Context, roomID string) (*Document, error) {
	_, err := p.pool.Exec(ctx,
		"INSERT INTO documents (id, content) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING",
		roomID, []byte(EmptyContent),
	)
	if err != nil {
		return nil, unavailable("find or create", err)
	}
	doc, err := p.Get(ctx, roomID)
	if errors.Is(err, ErrNotFound) {
		return nil, unavailable("find or create", err)
	}
	return doc, err
}

func (p *Postgres) Get(ctx context.Context, roomID string) (*Document, error) {
	var doc Document
	var content []byte
	err := p.pool.QueryRow(ctx,
		"SELECT id, content, created_at, updated_at FROM documents WHERE id = $1",
		roomID,
	).Scan(&doc.RoomID, &content, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get", err)
	}
	doc.Content = json.RawMessage(content)
	return &doc, nil
}

func (p *Postgres) Save(ctx context.Context, roomID string, content json.RawMessage) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO documents (id, content) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content, updated_at = now()
	`, roomID, []byte(emptyIfNil(content)))
	if err != nil {
		return unavailable("save", err)
	}
	return nil
}

func (p *Postgres) List(ctx context.Context, limit, offset int) ([]Document, error) {
	rows, err := p.pool.Query(ctx,
		"SELECT id, created_at, updated_at FROM documents ORDER BY updated_at DESC, id ASC LIMIT $1 OFFSET $2",
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

func (p *Postgres) Count(ctx context.Context) (int, error) {
	var count int
	if err := p.pool.QueryRow(ctx, "SELECT COUNT(*) FROM documents").Scan(&count); err != nil {
		return 0, unavailable("count", err)
	}
	return count, nil
}
