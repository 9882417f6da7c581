package credits

import (
	"context"
	"fmt"
)

// attemptRoyaltyPayout pays a fraction of a settled invoice to the
// originator's Lightning Address. Returns nil when the royalty is below
// the minimum. Best-effort: provider failures are reported in the
// result, never as an error, so settlement is unaffected.
func (s *Service) attemptRoyaltyPayout(ctx context.Context, invoiceAmountSats int64) *RoyaltyResult {
	royaltySats := int64(float64(invoiceAmountSats) * s.cfg.RoyaltyPercent)
	if royaltySats < s.cfg.RoyaltyMinSats {
		return nil
	}

	if royaltySats > RoyaltyPayoutMaxSats {
		s.logger.Error("royalty payout exceeds ceiling, refusing",
			"royalty_sats", royaltySats,
			"ceiling_sats", RoyaltyPayoutMaxSats,
			"royalty_percent", s.cfg.RoyaltyPercent,
			"invoice_amount_sats", invoiceAmountSats,
		)
		return &RoyaltyResult{
			RoyaltySats:    royaltySats,
			RoyaltyAddress: s.cfg.RoyaltyAddress,
			RoyaltyError: fmt.Sprintf(
				"royalty amount (%d sats) exceeds safety ceiling (%d sats), payout refused",
				royaltySats, RoyaltyPayoutMaxSats),
		}
	}

	payout, err := s.btcpay.CreatePayout(ctx, s.cfg.RoyaltyAddress, royaltySats, "")
	if err != nil {
		s.logger.Warn("royalty payout failed", "error", err)
		return &RoyaltyResult{
			RoyaltySats:    royaltySats,
			RoyaltyAddress: s.cfg.RoyaltyAddress,
			RoyaltyError:   err.Error(),
		}
	}

	state := payout.State
	if state == "" {
		state = "Unknown"
	}
	return &RoyaltyResult{
		RoyaltySats:    royaltySats,
		RoyaltyAddress: s.cfg.RoyaltyAddress,
		PayoutID:       payout.ID,
		PayoutState:    state,
	}
}
