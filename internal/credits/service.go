package credits

import (
	"context"
	"fmt"
	"time"

	"github.com/dpyc/tollbooth/internal/certificate"
	"github.com/dpyc/tollbooth/internal/ledger"
	"github.com/dpyc/tollbooth/internal/ledgercache"
	"github.com/dpyc/tollbooth/pkg/config"
	"github.com/dpyc/tollbooth/pkg/logger"
)

// Service wires the payment provider, the ledger cache, and the
// certificate verifier into the operator-facing credit operations.
type Service struct {
	btcpay   PaymentProvider
	cache    *ledgercache.Cache
	verifier *certificate.Verifier
	cfg      *config.Config
	logger   *logger.Logger
}

// NewService creates a credit service.
func NewService(provider PaymentProvider, cache *ledgercache.Cache, verifier *certificate.Verifier, cfg *config.Config, log *logger.Logger) *Service {
	return &Service{
		btcpay:   provider,
		cache:    cache,
		verifier: verifier,
		cfg:      cfg,
		logger:   log.WithField("component", "credits"),
	}
}

func (s *Service) multiplier(userID string) int64 {
	_, m := resolveTier(userID, s.cfg.BTCPayTierConfig, s.cfg.BTCPayUserTiers, s.logger)
	return m
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// PurchaseCredits creates a provider invoice after verifying an
// Authority-signed certificate. amountSats is the gross amount the
// operator asked the Authority to certify; the certificate's net_sats
// (gross minus tax) is what actually gets invoiced.
func (s *Service) PurchaseCredits(ctx context.Context, userID string, amountSats int64, certToken string) *PurchaseResult {
	_ = amountSats // the certificate is authoritative for the invoice amount
	// Trust gate: an operator without an Authority key is misconfigured.
	if s.cfg.AuthorityPublicKey == "" {
		return &PurchaseResult{
			Success: false,
			Error: "operator misconfigured: authority public key is required; " +
				"a tollbooth operator cannot operate without a trusted authority",
		}
	}
	if certToken == "" {
		return &PurchaseResult{
			Success: false,
			Error: "a valid authority certificate is required for every credit purchase; " +
				"request one from the authority first",
		}
	}

	claims, err := s.verifier.Verify(certToken, s.cfg.AuthorityPublicKey)
	if err != nil {
		return &PurchaseResult{Success: false, Error: fmt.Sprintf("certificate rejected: %v", err)}
	}

	result := s.createPurchaseInvoice(ctx, userID, claims.NetSats, map[string]interface{}{
		"certificate_jti": claims.JTI,
	})
	if result.Success {
		result.CertificateJTI = claims.JTI
	}
	return result
}

// PurchaseTaxCredits creates a provider invoice without certificate
// verification. Used by the Authority against its own store, where no
// third-party authorization is meaningful.
func (s *Service) PurchaseTaxCredits(ctx context.Context, userID string, amountSats int64) *PurchaseResult {
	return s.createPurchaseInvoice(ctx, userID, amountSats, map[string]interface{}{
		"purpose": "tax_credit_purchase",
	})
}

// createPurchaseInvoice is the shared purchase path: validate amount,
// create the provider invoice, record it pending, flush.
func (s *Service) createPurchaseInvoice(ctx context.Context, userID string, amountSats int64, extraMetadata map[string]interface{}) *PurchaseResult {
	if amountSats <= 0 {
		return &PurchaseResult{Success: false, Error: "amount_sats must be positive"}
	}
	if amountSats > MaxInvoiceSats {
		return &PurchaseResult{
			Success: false,
			Error:   fmt.Sprintf("amount_sats exceeds maximum of %d sats (0.01 BTC) per invoice", MaxInvoiceSats),
		}
	}

	metadata := map[string]interface{}{
		"user_id": userID,
		"purpose": "credit_purchase",
	}
	for k, v := range extraMetadata {
		metadata[k] = v
	}

	invoice, err := s.btcpay.CreateInvoice(ctx, amountSats, metadata)
	if err != nil {
		return &PurchaseResult{Success: false, Error: fmt.Sprintf("btcpay error: %v", err)}
	}

	tierName, multiplier := resolveTier(userID, s.cfg.BTCPayTierConfig, s.cfg.BTCPayUserTiers, s.logger)
	expectedCredits := amountSats * multiplier

	// Record the pending invoice and flush immediately so it survives
	// cache loss even before payment.
	createdAt := nowISO()
	s.cache.Update(ctx, userID, func(l *ledger.UserLedger) {
		l.AddPending(invoice.ID)
		l.RecordInvoiceCreated(invoice.ID, amountSats, multiplier, createdAt)
	})
	if !s.cache.FlushUser(ctx, userID) {
		s.logger.Warn("failed to flush pending invoice",
			"invoice_id", invoice.ID, "user_id", userID)
	}

	return &PurchaseResult{
		Success:         true,
		InvoiceID:       invoice.ID,
		AmountSats:      amountSats,
		CheckoutLink:    invoice.CheckoutLink,
		Expiration:      invoice.ExpirationTime,
		Tier:            tierName,
		Multiplier:      multiplier,
		ExpectedCredits: expectedCredits,
		Message: fmt.Sprintf(
			"Invoice created for %d sats. Pay here: %s. Tier: %s (%dx), you will receive %d credits on settlement. After paying, check the payment with invoice_id %q.",
			amountSats, invoice.CheckoutLink, tierName, multiplier, expectedCredits, invoice.ID),
	}
}

// CheckPayment polls a provider invoice and credits the user on
// settlement. Safe to call repeatedly: credited_invoices is the
// idempotency set, so credits are granted at most once per invoice.
func (s *Service) CheckPayment(ctx context.Context, userID, invoiceID string) *PaymentResult {
	invoice, err := s.btcpay.GetInvoice(ctx, invoiceID)
	if err != nil {
		return &PaymentResult{Success: false, Error: fmt.Sprintf("btcpay error: %v", err)}
	}

	status := invoice.Status
	if status == "" {
		status = "Unknown"
	}

	result := &PaymentResult{
		Success:          true,
		InvoiceID:        invoiceID,
		Status:           status,
		AdditionalStatus: invoice.AdditionalStatus,
	}

	switch status {
	case "New":
		result.Message = "Invoice created, awaiting payment."

	case "Processing":
		result.Message = "Payment seen, waiting for confirmation."

	case "Settled":
		amountSats := invoice.AmountSats()
		multiplier := s.multiplier(userID)
		settledAt := nowISO()

		var alreadyCredited bool
		var credited int64
		s.cache.Update(ctx, userID, func(l *ledger.UserLedger) {
			if l.HasCredited(invoiceID) {
				alreadyCredited = true
				return
			}
			credited = amountSats * multiplier
			l.CreditDeposit(credited, invoiceID)
			l.RecordInvoiceSettled(invoiceID, credited, settledAt, status)
		})

		if alreadyCredited {
			result.Message = "Payment already credited."
		} else {
			if !s.cache.FlushUser(ctx, userID) {
				s.logger.Error("failed to flush credits, in memory only until next flush",
					"credits", credited, "user_id", userID, "invoice_id", invoiceID)
			}
			result.CreditsGranted = credited
			result.Multiplier = multiplier
			result.Message = fmt.Sprintf("Payment settled! %d credits added to your balance.", credited)

			if s.cfg.RoyaltyEnabled() {
				result.RoyaltyPayout = s.attemptRoyaltyPayout(ctx, amountSats)
			}
		}

	case "Expired":
		s.settleTerminal(ctx, userID, invoiceID, ledger.StatusExpired, status)
		result.Message = "Invoice expired. Create a new one with a fresh purchase."

	case "Invalid":
		s.settleTerminal(ctx, userID, invoiceID, ledger.StatusInvalid, status)
		result.Message = "Payment invalid."

	default:
		result.Message = fmt.Sprintf("Unknown invoice status: %s", status)
	}

	s.cache.View(ctx, userID, func(l *ledger.UserLedger) {
		result.BalanceAPISats = l.BalanceAPISats
	})
	return result
}

func (s *Service) settleTerminal(ctx context.Context, userID, invoiceID, status, btcpayStatus string) {
	s.cache.Update(ctx, userID, func(l *ledger.UserLedger) {
		l.RemovePending(invoiceID)
		l.RecordInvoiceTerminal(invoiceID, status, btcpayStatus)
	})
	s.cache.FlushUser(ctx, userID)
}

// RestoreCredits recovers a paid invoice whose crediting did not persist.
// Sources in order: the idempotency guard, the local invoice record, and
// finally the provider. Never double-credits.
func (s *Service) RestoreCredits(ctx context.Context, userID, invoiceID string) *RestoreResult {
	var (
		alreadyCredited bool
		balance         int64
		record          *ledger.InvoiceRecord
	)
	s.cache.View(ctx, userID, func(l *ledger.UserLedger) {
		alreadyCredited = l.HasCredited(invoiceID)
		balance = l.BalanceAPISats
		if rec, ok := l.Invoices[invoiceID]; ok {
			recCopy := *rec
			record = &recCopy
		}
	})

	if alreadyCredited {
		return &RestoreResult{
			Success:        true,
			InvoiceID:      invoiceID,
			CreditsGranted: 0,
			BalanceAPISats: balance,
			Message:        "Invoice already credited, no duplicate credits applied.",
		}
	}

	// Vault-first: a settled local record restores without a provider call.
	if record != nil && record.Status == ledger.StatusSettled && record.APISatsCredited > 0 {
		credited := record.APISatsCredited
		s.cache.Update(ctx, userID, func(l *ledger.UserLedger) {
			l.CreditDeposit(credited, invoiceID)
			balance = l.BalanceAPISats
		})
		if !s.cache.FlushUser(ctx, userID) {
			s.logger.Error("failed to flush vault-restored credits",
				"credits", credited, "user_id", userID, "invoice_id", invoiceID)
		}
		return &RestoreResult{
			Success:        true,
			InvoiceID:      invoiceID,
			Source:         "vault_record",
			AmountSats:     record.AmountSats,
			Multiplier:     record.Multiplier,
			CreditsGranted: credited,
			BalanceAPISats: balance,
			Message:        fmt.Sprintf("Restored %d credits from vault invoice record.", credited),
		}
	}

	invoice, err := s.btcpay.GetInvoice(ctx, invoiceID)
	if err != nil {
		return &RestoreResult{Success: false, InvoiceID: invoiceID, Error: fmt.Sprintf("btcpay error: %v", err)}
	}
	status := invoice.Status
	if status == "" {
		status = "Unknown"
	}
	if status != "Settled" {
		return &RestoreResult{
			Success:   false,
			InvoiceID: invoiceID,
			Error:     fmt.Sprintf("invoice status is %q, not \"Settled\", cannot restore", status),
		}
	}

	amountSats := invoice.AmountSats()
	multiplier := s.multiplier(userID)
	credited := amountSats * multiplier
	settledAt := nowISO()

	s.cache.Update(ctx, userID, func(l *ledger.UserLedger) {
		l.CreditDeposit(credited, invoiceID)
		l.RecordInvoiceSettled(invoiceID, credited, settledAt, status)
		balance = l.BalanceAPISats
	})
	if !s.cache.FlushUser(ctx, userID) {
		s.logger.Error("failed to flush restored credits",
			"credits", credited, "user_id", userID, "invoice_id", invoiceID)
	}

	return &RestoreResult{
		Success:        true,
		InvoiceID:      invoiceID,
		Source:         "btcpay",
		AmountSats:     amountSats,
		Multiplier:     multiplier,
		CreditsGranted: credited,
		BalanceAPISats: balance,
		Message:        fmt.Sprintf("Restored %d credits from invoice %s.", credited, invoiceID),
	}
}

// ReconcilePending sweeps a user's pending invoices against the provider:
// settled invoices are credited, terminal ones removed, provider errors
// skipped. One flush at the end if anything changed.
func (s *Service) ReconcilePending(ctx context.Context, userID string) *ReconcileResult {
	var pending []string
	s.cache.View(ctx, userID, func(l *ledger.UserLedger) {
		pending = append(pending, l.PendingInvoices...)
	})
	result := &ReconcileResult{Actions: []ReconcileAction{}}
	if len(pending) == 0 {
		return result
	}

	multiplier := s.multiplier(userID)
	changed := false

	for _, invoiceID := range pending {
		invoice, err := s.btcpay.GetInvoice(ctx, invoiceID)
		if err != nil {
			s.logger.Warn("reconciliation: skipping invoice",
				"invoice_id", invoiceID, "error", err)
			continue
		}
		status := invoice.Status

		switch status {
		case "Settled":
			amountSats := invoice.AmountSats()
			settledAt := nowISO()
			var credited int64
			s.cache.Update(ctx, userID, func(l *ledger.UserLedger) {
				if l.HasCredited(invoiceID) {
					return
				}
				credited = amountSats * multiplier
				l.CreditDeposit(credited, invoiceID)
				l.RecordInvoiceSettled(invoiceID, credited, settledAt, status)
			})
			if credited > 0 {
				changed = true
				result.Actions = append(result.Actions, ReconcileAction{
					InvoiceID: invoiceID,
					Action:    "credited",
					APISats:   credited,
				})
			}

		case "Expired", "Invalid":
			s.cache.Update(ctx, userID, func(l *ledger.UserLedger) {
				l.RemovePending(invoiceID)
				l.RecordInvoiceTerminal(invoiceID, status, status)
			})
			changed = true
			result.Actions = append(result.Actions, ReconcileAction{
				InvoiceID: invoiceID,
				Action:    "removed",
				Reason:    status,
			})
		}
	}

	if changed {
		s.cache.FlushUser(ctx, userID)
	}
	result.Reconciled = len(result.Actions)
	return result
}
