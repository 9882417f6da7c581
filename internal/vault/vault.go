// Package vault defines the durable store contract for user ledgers.
//
// Concrete implementations live under internal/infra. The cache treats
// the store as an opaque capability: any failure is "durability unknown"
// and is logged, never fatal.
package vault

import "context"

// Backend is the persistence contract the ledger cache writes through.
type Backend interface {
	// FetchLedger returns the latest ledger blob for a user, or nil if
	// the user has never been stored.
	FetchLedger(ctx context.Context, userID string) ([]byte, error)

	// StoreLedger writes the current ledger blob for a user and returns
	// an opaque identifier. Overwrites are idempotent.
	StoreLedger(ctx context.Context, userID string, data []byte) (string, error)

	// SnapshotLedger appends an immutable timestamped copy and returns
	// its opaque identifier, or "" if the user has no primary record yet.
	SnapshotLedger(ctx context.Context, userID string, data []byte, timestamp string) (string, error)
}
