package dedupe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sungwon/ses-relay/internal/storage"
)

// PostgresStore keeps records in the delivery_records table. Expiry is
// evaluated against the database clock; expired rows are overwritten in place.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(db *storage.DB) *PostgresStore {
	return &PostgresStore{pool: db.Pool}
}

const (
	getRecordSQL = `SELECT value FROM delivery_records
WHERE record_key = $1 AND expires_at > now()`

	setRecordSQL = `INSERT INTO delivery_records (record_key, value, created_at, expires_at)
VALUES ($1, $2, now(), now() + make_interval(secs => $3))
ON CONFLICT (record_key) DO UPDATE
SET value = EXCLUDED.value, created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at`

	setRecordNXSQL = `INSERT INTO delivery_records (record_key, value, created_at, expires_at)
VALUES ($1, $2, now(), now() + make_interval(secs => $3))
ON CONFLICT (record_key) DO UPDATE
SET value = EXCLUDED.value, created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at
WHERE delivery_records.expires_at <= now()
RETURNING record_key`

	deleteRecordSQL = `DELETE FROM delivery_records WHERE record_key = $1`

	purgeExpiredSQL = `DELETE FROM delivery_records WHERE expires_at <= now()`
)

func (p *PostgresStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := p.pool.QueryRow(ctx, getRecordSQL, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("select delivery record: %w", err)
	}
	return value, true, nil
}

func (p *PostgresStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if _, err := p.pool.Exec(ctx, setRecordSQL, key, value, ttl.Seconds()); err != nil {
		return fmt.Errorf("upsert delivery record: %w", err)
	}
	return nil
}

// SetNX inserts key unless a live row already holds it. The conditional
// upsert is a single statement, so two concurrent callers cannot both win.
func (p *PostgresStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	var got string
	err := p.pool.QueryRow(ctx, setRecordNXSQL, key, value, ttl.Seconds()).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert delivery record: %w", err)
	}
	return true, nil
}

func (p *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := p.pool.Exec(ctx, deleteRecordSQL, key); err != nil {
		return fmt.Errorf("delete delivery record: %w", err)
	}
	return nil
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// PurgeExpired removes rows whose TTL has elapsed and reports how many went.
func (p *PostgresStore) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := p.pool.Exec(ctx, purgeExpiredSQL)
	if err != nil {
		return 0, fmt.Errorf("purge expired delivery records: %w", err)
	}
	return tag.RowsAffected(), nil
}
