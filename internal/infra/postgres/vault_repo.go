package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// VaultRepository implements the ledger vault on PostgreSQL. Primary
// records are one row per user in ledgers; snapshots append to
// ledger_snapshots.
type VaultRepository struct {
	pool *pgxpool.Pool
}

// NewVaultRepository creates a PostgreSQL-backed ledger vault.
func NewVaultRepository(pool *pgxpool.Pool) *VaultRepository {
	return &VaultRepository{pool: pool}
}

// Schema is the DDL for the vault tables. Applied by the deployment, and
// by the integration test harness.
const Schema = `
CREATE TABLE IF NOT EXISTS ledgers (
	user_id    TEXT PRIMARY KEY,
	data       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS ledger_snapshots (
	id         UUID PRIMARY KEY,
	user_id    TEXT NOT NULL,
	data       JSONB NOT NULL,
	label      TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ledger_snapshots_user ON ledger_snapshots (user_id, created_at);
`

// FetchLedger returns the user's ledger blob, or nil if never stored.
func (r *VaultRepository) FetchLedger(ctx context.Context, userID string) ([]byte, error) {
	query := `SELECT data FROM ledgers WHERE user_id = $1`

	var data []byte
	err := r.pool.QueryRow(ctx, query, userID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ledger: %w", err)
	}
	return data, nil
}

// StoreLedger upserts the user's primary ledger record.
func (r *VaultRepository) StoreLedger(ctx context.Context, userID string, data []byte) (string, error) {
	query := `
		INSERT INTO ledgers (user_id, data, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET data = $2, updated_at = $3
	`

	if _, err := r.pool.Exec(ctx, query, userID, data, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("failed to store ledger: %w", err)
	}
	return userID, nil
}

// SnapshotLedger appends an immutable timestamped copy. Returns "" when
// the user has no primary record yet.
func (r *VaultRepository) SnapshotLedger(ctx context.Context, userID string, data []byte, timestamp string) (string, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM ledgers WHERE user_id = $1)`, userID).Scan(&exists)
	if err != nil {
		return "", fmt.Errorf("failed to check ledger existence: %w", err)
	}
	if !exists {
		return "", nil
	}

	id := uuid.New()
	query := `
		INSERT INTO ledger_snapshots (id, user_id, data, label, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := r.pool.Exec(ctx, query, id, userID, data, timestamp, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("failed to snapshot ledger: %w", err)
	}
	return id.String(), nil
}
