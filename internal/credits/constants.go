// Package credits implements the operator-facing purchase, settlement,
// balance, and metering operations over the ledger cache and the BTCPay
// payment provider.
package credits

// Version is the tollbooth release reported by the status diagnostics.
const Version = "0.3.0"

const (
	// MaxInvoiceSats caps a single invoice at 0.01 BTC.
	MaxInvoiceSats int64 = 1_000_000

	// LowBalanceFloorAPISats is the minimum low-balance warning threshold.
	LowBalanceFloorAPISats int64 = 100

	// RoyaltyPayoutMaxSats is the sanity ceiling for royalty payouts.
	// 2% of a 5M-sat purchase is 100,000 sats; anything above is a
	// misconfigured rate, not a royalty.
	RoyaltyPayoutMaxSats int64 = 100_000

	// DefaultTopUpSats is suggested when no settled invoice gives a better
	// reference.
	DefaultTopUpSats int64 = 1000
)

// ToolTier is the per-call cost of a metered tool in api_sats.
type ToolTier int64

const (
	TierFree  ToolTier = 0
	TierRead  ToolTier = 1
	TierWrite ToolTier = 5
	TierHeavy ToolTier = 10
)
