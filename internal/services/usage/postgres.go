package usage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prompt-refiner-go/internal/models"
)

// PostgresStore keeps one row per user in a usage table.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresStore connects to databaseURL and creates the table if needed.
func NewPostgresStore(ctx context.Context, databaseURL, table string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	store := &PostgresStore{
		pool:  pool,
		table: pgx.Identifier{table}.Sanitize(),
	}
	if err := store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (p *PostgresStore) ensureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			user_id    TEXT PRIMARY KEY,
			day        TEXT NOT NULL,
			count      INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, p.table)
	if _, err := p.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create usage table: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, userID string) (*models.UsageRecord, error) {
	query := fmt.Sprintf(`SELECT day, count FROM %s WHERE user_id = $1`, p.table)

	record := models.UsageRecord{UserID: userID}
	err := p.pool.QueryRow(ctx, query, userID).Scan(&record.Date, &record.Count)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (p *PostgresStore) Put(ctx context.Context, record *models.UsageRecord) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (user_id, day, count) VALUES ($1, $2, $3)
		ON CONFLICT (user_id)
		DO UPDATE SET day = EXCLUDED.day, count = EXCLUDED.count, updated_at = NOW()`, p.table)

	_, err := p.pool.Exec(ctx, query, record.UserID, record.Date, record.Count)
	return err
}

func (p *PostgresStore) Increment(ctx context.Context, userID, day string) (int, error) {
	query := fmt.Sprintf(`
		INSERT INTO %[1]s AS u (user_id, day, count) VALUES ($1, $2, 1)
		ON CONFLICT (user_id)
		DO UPDATE SET
			count = CASE WHEN u.day = EXCLUDED.day THEN u.count + 1 ELSE 1 END,
			day = EXCLUDED.day,
			updated_at = NOW()
		RETURNING count`, p.table)

	var count int
	if err := p.pool.QueryRow(ctx, query, userID, day).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
