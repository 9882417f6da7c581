package credits

import (
	"context"
	"fmt"
	"time"

	"github.com/dpyc/tollbooth/internal/ledger"
)

// CheckBalance returns the user's balance, tier, today's usage, and an
// invoice summary. Read-only.
func (s *Service) CheckBalance(ctx context.Context, userID string) *BalanceResult {
	tierName, multiplier := resolveTier(userID, s.cfg.BTCPayTierConfig, s.cfg.BTCPayUserTiers, s.logger)
	result := &BalanceResult{
		Success:    true,
		Tier:       tierName,
		Multiplier: multiplier,
	}

	today := time.Now().UTC().Format("2006-01-02")
	s.cache.View(ctx, userID, func(l *ledger.UserLedger) {
		result.BalanceAPISats = l.BalanceAPISats
		result.TotalDepositedAPISats = l.TotalDepositedAPISats
		result.TotalConsumedAPISats = l.TotalConsumedAPISats
		result.PendingInvoices = len(l.PendingInvoices)
		result.LastDepositAt = l.LastDepositAt
		result.SeedBalanceGranted = l.HasCredited(ledger.SeedBalanceSentinel)

		if todayLog, ok := l.DailyLog[today]; ok && len(todayLog) > 0 {
			result.TodayUsage = make(map[string]ledger.ToolUsage, len(todayLog))
			for tool, u := range todayLog {
				result.TodayUsage[tool] = *u
			}
		}

		if len(l.Invoices) > 0 {
			summary := &InvoiceSummary{TotalInvoices: len(l.Invoices)}
			for _, rec := range l.Invoices {
				switch rec.Status {
				case ledger.StatusSettled:
					summary.SettledCount++
					summary.TotalRealSats += rec.AmountSats
					summary.TotalAPISatsCredited += rec.APISatsCredited
				case ledger.StatusPending:
					summary.PendingCount++
				}
			}
			result.InvoiceSummary = summary
		}
	})

	return result
}

// ComputeLowBalanceWarning returns a top-up advisory when the balance is
// below the warning threshold, nil otherwise. The threshold is derived
// from the most recent settled invoice, falling back to the seed balance
// and then the configured floor.
func ComputeLowBalanceWarning(l *ledger.UserLedger, seedBalanceSats, lowBalanceFloor int64) *LowBalanceWarning {
	var lastSettled *ledger.InvoiceRecord
	for _, rec := range l.Invoices {
		if rec.Status != ledger.StatusSettled {
			continue
		}
		if lastSettled == nil || rec.SettledAt > lastSettled.SettledAt {
			lastSettled = rec
		}
	}

	var reference int64
	switch {
	case lastSettled != nil:
		reference = lastSettled.APISatsCredited
	case seedBalanceSats > 0 && l.HasCredited(ledger.SeedBalanceSentinel):
		reference = seedBalanceSats
	default:
		reference = lowBalanceFloor
	}

	threshold := max(reference/5, lowBalanceFloor)
	if l.BalanceAPISats >= threshold {
		return nil
	}

	suggested := DefaultTopUpSats
	if lastSettled != nil && lastSettled.AmountSats > 0 {
		suggested = lastSettled.AmountSats
	}
	suggested = min(suggested, MaxInvoiceSats)

	return &LowBalanceWarning{
		BalanceAPISats:     l.BalanceAPISats,
		ThresholdAPISats:   threshold,
		SuggestedTopUpSats: suggested,
		Message: fmt.Sprintf(
			"Low balance: %d api_sats remaining (warning threshold: %d). Consider topping up.",
			l.BalanceAPISats, threshold),
	}
}
