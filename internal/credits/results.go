package credits

import "github.com/dpyc/tollbooth/internal/ledger"

// Operator-facing operations report failures in-band: a result with
// Success=false and a populated Error, not a Go error. Go errors are
// reserved for plumbing the operator cannot act on.

// PurchaseResult is the outcome of a purchase operation.
type PurchaseResult struct {
	Success         bool   `json:"success"`
	Error           string `json:"error,omitempty"`
	InvoiceID       string `json:"invoice_id,omitempty"`
	AmountSats      int64  `json:"amount_sats,omitempty"`
	CheckoutLink    string `json:"checkout_link,omitempty"`
	Expiration      int64  `json:"expiration,omitempty"`
	Tier            string `json:"tier,omitempty"`
	Multiplier      int64  `json:"multiplier,omitempty"`
	ExpectedCredits int64  `json:"expected_credits,omitempty"`
	CertificateJTI  string `json:"certificate_jti,omitempty"`
	Message         string `json:"message,omitempty"`
}

// RoyaltyResult reports a royalty payout attempt. RoyaltyError is set
// when the payout was refused or the provider failed; settlement is
// unaffected either way.
type RoyaltyResult struct {
	RoyaltySats    int64  `json:"royalty_sats"`
	RoyaltyAddress string `json:"royalty_address"`
	PayoutID       string `json:"payout_id,omitempty"`
	PayoutState    string `json:"payout_state,omitempty"`
	RoyaltyError   string `json:"royalty_error,omitempty"`
}

// PaymentResult is the outcome of a payment status check.
type PaymentResult struct {
	Success          bool           `json:"success"`
	Error            string         `json:"error,omitempty"`
	InvoiceID        string         `json:"invoice_id,omitempty"`
	Status           string         `json:"status,omitempty"`
	AdditionalStatus string         `json:"additional_status,omitempty"`
	CreditsGranted   int64          `json:"credits_granted"`
	Multiplier       int64          `json:"multiplier,omitempty"`
	BalanceAPISats   int64          `json:"balance_api_sats"`
	RoyaltyPayout    *RoyaltyResult `json:"royalty_payout,omitempty"`
	Message          string         `json:"message,omitempty"`
}

// InvoiceSummary aggregates a ledger's invoice history.
type InvoiceSummary struct {
	TotalInvoices        int   `json:"total_invoices"`
	SettledCount         int   `json:"settled_count"`
	PendingCount         int   `json:"pending_count"`
	TotalRealSats        int64 `json:"total_real_sats"`
	TotalAPISatsCredited int64 `json:"total_api_sats_credited"`
}

// BalanceResult is the read-only balance and usage view for a user.
type BalanceResult struct {
	Success               bool                        `json:"success"`
	Tier                  string                      `json:"tier"`
	Multiplier            int64                       `json:"multiplier"`
	BalanceAPISats        int64                       `json:"balance_api_sats"`
	TotalDepositedAPISats int64                       `json:"total_deposited_api_sats"`
	TotalConsumedAPISats  int64                       `json:"total_consumed_api_sats"`
	PendingInvoices       int                         `json:"pending_invoices"`
	LastDepositAt         string                      `json:"last_deposit_at,omitempty"`
	SeedBalanceGranted    bool                        `json:"seed_balance_granted,omitempty"`
	TodayUsage            map[string]ledger.ToolUsage `json:"today_usage,omitempty"`
	InvoiceSummary        *InvoiceSummary             `json:"invoice_summary,omitempty"`
}

// RestoreResult is the outcome of a credit restoration.
type RestoreResult struct {
	Success        bool   `json:"success"`
	Error          string `json:"error,omitempty"`
	InvoiceID      string `json:"invoice_id"`
	Source         string `json:"source,omitempty"` // "vault_record" or "btcpay"
	AmountSats     int64  `json:"amount_sats,omitempty"`
	Multiplier     int64  `json:"multiplier,omitempty"`
	CreditsGranted int64  `json:"credits_granted"`
	BalanceAPISats int64  `json:"balance_api_sats"`
	Message        string `json:"message,omitempty"`
}

// ReconcileAction records one invoice handled during reconciliation.
type ReconcileAction struct {
	InvoiceID string `json:"invoice_id"`
	Action    string `json:"action"` // "credited" or "removed"
	APISats   int64  `json:"api_sats,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// ReconcileResult summarizes a pending-invoice reconciliation sweep.
type ReconcileResult struct {
	Reconciled int               `json:"reconciled"`
	Actions    []ReconcileAction `json:"actions"`
}

// LowBalanceWarning advises a user to top up. Nil means the balance is
// healthy.
type LowBalanceWarning struct {
	BalanceAPISats     int64  `json:"balance_api_sats"`
	ThresholdAPISats   int64  `json:"threshold_api_sats"`
	SuggestedTopUpSats int64  `json:"suggested_top_up_sats"`
	Message            string `json:"message"`
}

// ChargeResult is the outcome of metering one tool call.
type ChargeResult struct {
	Allowed        bool               `json:"allowed"`
	Charged        int64              `json:"charged"`
	BalanceAPISats int64              `json:"balance_api_sats"`
	SeedApplied    bool               `json:"seed_applied,omitempty"`
	Warning        *LowBalanceWarning `json:"warning,omitempty"`
	Error          string             `json:"error,omitempty"`
}
