package infra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"asset-gateway/middleware/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const getAssetSQL = `SELECT id, user_id, storage_key, COALESCE(content_type, ''), COALESCE(filename, ''), created_at
FROM assets WHERE id = $1`

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresAssets lê os registros de propriedade. Nunca escreve.
type PostgresAssets struct {
	db rowQuerier
}

func NewPostgresAssets(db rowQuerier) *PostgresAssets {
	return &PostgresAssets{db: db}
}

// NewPostgresPool abre o pool e valida a conexão.
func NewPostgresPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: DATABASE_URL: %v", domain.ErrConfiguration, err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}

func (r *PostgresAssets) GetAsset(ctx context.Context, id string) (domain.Asset, error) {
	var a domain.Asset
	err := r.db.QueryRow(ctx, getAssetSQL, id).Scan(
		&a.ID,
		&a.OwnerPrincipalID,
		&a.StorageKey,
		&a.ContentType,
		&a.Filename,
		&a.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Asset{}, domain.ErrAssetNotFound
	}
	if err != nil {
		return domain.Asset{}, fmt.Errorf("get asset %s: %w", id, err)
	}
	return a, nil
}
