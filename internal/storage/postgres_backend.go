package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"keyrelay-go/internal/migrations"
)

// PostgresBackend stores token records as JSONB rows in relay_tokens.
// Schema changes go through the migrations package, never ad-hoc DDL here.
type PostgresBackend struct {
	db  *sql.DB
	dsn string
}

// NewPostgresBackend creates a new PostgreSQL storage backend
func NewPostgresBackend(dsn string) *PostgresBackend {
	return &PostgresBackend{dsn: dsn}
}

func (p *PostgresBackend) Initialize(ctx context.Context) error {
	db, err := sql.Open("postgres", p.dsn)
	if err != nil {
		return fmt.Errorf("postgres open failed: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return fmt.Errorf("postgres ping failed: %w", err)
	}

	if err := migrations.PostgresUp(p.dsn); err != nil {
		db.Close()
		return fmt.Errorf("postgres migrations failed: %w", err)
	}
	p.db = db
	return nil
}

func (p *PostgresBackend) Close() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *PostgresBackend) Health(ctx context.Context) error {
	if p.db == nil {
		return fmt.Errorf("postgres not initialized")
	}
	return p.db.PingContext(ctx)
}

func (p *PostgresBackend) GetToken(ctx context.Context, id string) (map[string]interface{}, error) {
	var raw []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT doc FROM relay_tokens WHERE id = $1`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, &ErrNotFound{Key: id}
	}
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode token %s: %w", id, err)
	}
	return doc, nil
}

func (p *PostgresBackend) SetToken(ctx context.Context, id string, doc map[string]interface{}) error {
	if id == "" {
		return fmt.Errorf("empty token id")
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode token %s: %w", id, err)
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO relay_tokens (id, doc, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`,
		id, raw)
	return err
}

func (p *PostgresBackend) DeleteToken(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM relay_tokens WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &ErrNotFound{Key: id}
	}
	return nil
}

func (p *PostgresBackend) ListTokens(ctx context.Context) (map[string]map[string]interface{}, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, doc FROM relay_tokens`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]map[string]interface{})
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		var doc map[string]interface{}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode token %s: %w", id, err)
		}
		out[id] = doc
	}
	return out, rows.Err()
}

func (p *PostgresBackend) GetStorageStats(ctx context.Context) (StorageStats, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM relay_tokens`).Scan(&count)
	if err != nil {
		return StorageStats{Backend: "postgres"}, err
	}
	return StorageStats{
		Backend:    "postgres",
		Healthy:    p.Health(ctx) == nil,
		TokenCount: count,
	}, nil
}
