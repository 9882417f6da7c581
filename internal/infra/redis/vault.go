// Package redis implements the ledger vault on a Redis key/value store.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/dpyc/tollbooth/pkg/logger"
)

const (
	// ledgerKeyPrefix is the key namespace for primary ledger records.
	ledgerKeyPrefix = "tollbooth:ledger:"

	// snapshotKeyPrefix is the key namespace for immutable snapshots.
	snapshotKeyPrefix = "tollbooth:snapshot:"
)

// Vault stores ledger blobs in Redis. Primary records live at
// tollbooth:ledger:<user>, snapshots at tollbooth:snapshot:<user>:<ts>.
// Records have no TTL; the ledger is the system of record, not a cache.
type Vault struct {
	client *redis.Client
	logger *logger.Logger
}

// NewVault creates a Redis-backed ledger vault.
func NewVault(client *redis.Client, log *logger.Logger) *Vault {
	return &Vault{
		client: client,
		logger: log.WithField("component", "redis_vault"),
	}
}

func ledgerKey(userID string) string {
	return ledgerKeyPrefix + userID
}

func snapshotKey(userID, timestamp string) string {
	return fmt.Sprintf("%s%s:%s", snapshotKeyPrefix, userID, timestamp)
}

// FetchLedger returns the user's ledger blob, or nil if never stored.
func (v *Vault) FetchLedger(ctx context.Context, userID string) ([]byte, error) {
	data, err := v.client.Get(ctx, ledgerKey(userID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		v.logger.Error("vault error", "operation", "fetch", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to fetch ledger: %w", err)
	}
	return data, nil
}

// StoreLedger overwrites the user's primary ledger record.
func (v *Vault) StoreLedger(ctx context.Context, userID string, data []byte) (string, error) {
	key := ledgerKey(userID)
	if err := v.client.Set(ctx, key, data, 0).Err(); err != nil {
		v.logger.Error("vault error", "operation", "store", "user_id", userID, "error", err)
		return "", fmt.Errorf("failed to store ledger: %w", err)
	}
	return key, nil
}

// SnapshotLedger appends an immutable timestamped copy. Returns "" when
// the user has no primary record yet: snapshotting a user that was never
// stored would only preserve an empty ledger.
func (v *Vault) SnapshotLedger(ctx context.Context, userID string, data []byte, timestamp string) (string, error) {
	exists, err := v.client.Exists(ctx, ledgerKey(userID)).Result()
	if err != nil {
		return "", fmt.Errorf("failed to check ledger existence: %w", err)
	}
	if exists == 0 {
		return "", nil
	}

	key := snapshotKey(userID, timestamp)
	if err := v.client.Set(ctx, key, data, 0).Err(); err != nil {
		v.logger.Error("vault error", "operation", "snapshot", "user_id", userID, "error", err)
		return "", fmt.Errorf("failed to snapshot ledger: %w", err)
	}
	return key, nil
}
