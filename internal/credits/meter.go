package credits

import (
	"context"
	"fmt"

	"github.com/dpyc/tollbooth/internal/ledger"
)

// Charge meters one tool call: debits the tier cost from the user's
// balance and books usage. A configured seed balance is granted once per
// user, guarded by the seed sentinel, before the first debit is
// attempted. Free-tier calls are allowed without touching the ledger.
func (s *Service) Charge(ctx context.Context, userID, toolName string, tier ToolTier) *ChargeResult {
	cost := int64(tier)
	if cost <= 0 {
		return &ChargeResult{Allowed: true}
	}

	result := &ChargeResult{Charged: cost}
	s.cache.Update(ctx, userID, func(l *ledger.UserLedger) {
		if s.cfg.SeedBalanceSats > 0 && !l.HasCredited(ledger.SeedBalanceSentinel) {
			l.CreditDeposit(s.cfg.SeedBalanceSats, ledger.SeedBalanceSentinel)
			result.SeedApplied = true
		}
		result.Allowed = l.Debit(toolName, cost)
		result.BalanceAPISats = l.BalanceAPISats
		if result.Allowed {
			result.Warning = ComputeLowBalanceWarning(l, s.cfg.SeedBalanceSats, LowBalanceFloorAPISats)
		}
	})

	if result.SeedApplied {
		s.logger.Info("seed balance granted",
			"user_id", userID, "seed_sats", s.cfg.SeedBalanceSats)
	}
	if !result.Allowed {
		result.Charged = 0
		result.Error = fmt.Sprintf(
			"insufficient balance: %d api_sats available, %d required; purchase credits to continue",
			result.BalanceAPISats, cost)
	}
	return result
}

// Refund rolls back a charge after the metered call failed. Must only be
// called with the amount a matching Charge actually debited.
func (s *Service) Refund(ctx context.Context, userID, toolName string, apiSats int64) int64 {
	if apiSats <= 0 {
		return 0
	}
	var balance int64
	s.cache.Update(ctx, userID, func(l *ledger.UserLedger) {
		l.RollbackDebit(toolName, apiSats)
		balance = l.BalanceAPISats
	})
	s.logger.Info("charge refunded",
		"user_id", userID, "tool", toolName, "api_sats", apiSats)
	return balance
}
