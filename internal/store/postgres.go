package store

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

//go:embed migrations/001_storage_blobs.sql
var storageBlobsSchema string

type blobRow struct {
	Key   string `db:"key"`
	Value []byte `db:"value"`
}

// Postgres stores blobs in the storage_blobs table
type Postgres struct {
	db   *sqlx.DB
	keys Keys
}

// NewPostgres connects, tunes the pool and applies the schema
func NewPostgres(databaseURL string, keys Keys) (*Postgres, error) {
	if err := keys.validate(); err != nil {
		return nil, err
	}

	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(storageBlobsSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Postgres{db: db, keys: keys}, nil
}

// Close closes the database connection
func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) Load(ctx context.Context) (Snapshot, error) {
	query, args, err := sqlx.In("SELECT key, value FROM storage_blobs WHERE key IN (?)", p.keys.all())
	if err != nil {
		return Empty(), err
	}
	query = p.db.Rebind(query)

	var rows []blobRow
	if err := p.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return Empty(), fmt.Errorf("failed to load blobs: %w", err)
	}

	blobs := make(map[string][]byte, len(rows))
	for _, r := range rows {
		blobs[r.Key] = r.Value
	}
	return decode(p.keys, blobs)
}

// Save upserts every blob in one transaction
func (p *Postgres) Save(ctx context.Context, snap Snapshot) error {
	blobs, err := encode(p.keys, snap)
	if err != nil {
		return err
	}

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for key, value := range blobs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO storage_blobs (key, value, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
			key, string(value))
		if err != nil {
			return fmt.Errorf("failed to save blob %s: %w", key, err)
		}
	}

	return tx.Commit()
}
