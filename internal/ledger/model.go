// Package ledger holds the per-user credit ledger for tool-call metering.
//
// Pure data model, no I/O. All api_sats values are integer API credits,
// not real Bitcoin satoshis. Real BTC amounts use amount_sats and only
// appear in invoice contexts.
package ledger

import "time"

// Invoice record status values. BTCPayStatus carries the raw provider
// string separately.
const (
	StatusPending = "Pending"
	StatusSettled = "Settled"
	StatusExpired = "Expired"
	StatusInvalid = "Invalid"
)

// SeedBalanceSentinel is the invoice id under which a starter balance is
// credited. Its presence in CreditedInvoices means the seed was applied.
const SeedBalanceSentinel = "seed_balance_v1"

// DefaultRetentionDays is the daily-log retention used by RotateDailyLog
// callers that have no override.
const DefaultRetentionDays = 30

// ToolUsage is an aggregate usage counter for a single tool.
type ToolUsage struct {
	Calls   int64
	APISats int64
}

// InvoiceRecord is an append-only record of a single provider invoice.
type InvoiceRecord struct {
	InvoiceID       string
	AmountSats      int64 // real BTC satoshis, never api_sats
	APISatsCredited int64 // multiplied credits granted at settlement
	Multiplier      int64 // 0 means unknown (retroactive record)
	Status          string
	CreatedAt       string // ISO datetime; empty for retroactive records
	SettledAt       string
	BTCPayStatus    string
}

// UserLedger tracks one user's credit balance and usage.
//
// Debit returns false on insufficient balance rather than failing.
// Mutations must happen under the owning cache entry's per-user mutex.
type UserLedger struct {
	BalanceAPISats        int64
	TotalDepositedAPISats int64
	TotalConsumedAPISats  int64
	PendingInvoices       []string
	CreditedInvoices      []string
	LastDepositAt         string
	DailyLog              map[string]map[string]*ToolUsage
	History               map[string]*ToolUsage
	Invoices              map[string]*InvoiceRecord
}

// New returns an empty ledger with initialized containers.
func New() *UserLedger {
	return &UserLedger{
		PendingInvoices:  []string{},
		CreditedInvoices: []string{},
		DailyLog:         map[string]map[string]*ToolUsage{},
		History:          map[string]*ToolUsage{},
		Invoices:         map[string]*InvoiceRecord{},
	}
}

func today() string {
	return time.Now().UTC().Format("2006-01-02")
}

// RecordInvoiceCreated records a newly created invoice in Pending status.
func (l *UserLedger) RecordInvoiceCreated(invoiceID string, amountSats, multiplier int64, createdAt string) {
	l.Invoices[invoiceID] = &InvoiceRecord{
		InvoiceID:    invoiceID,
		AmountSats:   amountSats,
		Multiplier:   multiplier,
		Status:       StatusPending,
		CreatedAt:    createdAt,
		BTCPayStatus: "New",
	}
}

// RecordInvoiceSettled updates an invoice record to Settled with credit
// info. Creates a retroactive record (amount and multiplier unknown) if
// the invoice was not tracked at creation.
func (l *UserLedger) RecordInvoiceSettled(invoiceID string, apiSatsCredited int64, settledAt, btcpayStatus string) {
	if rec, ok := l.Invoices[invoiceID]; ok {
		rec.Status = StatusSettled
		rec.APISatsCredited = apiSatsCredited
		rec.SettledAt = settledAt
		rec.BTCPayStatus = btcpayStatus
		return
	}
	l.Invoices[invoiceID] = &InvoiceRecord{
		InvoiceID:       invoiceID,
		APISatsCredited: apiSatsCredited,
		Status:          StatusSettled,
		SettledAt:       settledAt,
		BTCPayStatus:    btcpayStatus,
	}
}

// RecordInvoiceTerminal updates an existing invoice record to a terminal
// state (Expired/Invalid). No-op for unknown invoices.
func (l *UserLedger) RecordInvoiceTerminal(invoiceID, status, btcpayStatus string) {
	if rec, ok := l.Invoices[invoiceID]; ok {
		rec.Status = status
		rec.BTCPayStatus = btcpayStatus
	}
}

// Debit deducts apiSats from the balance and books the call against the
// daily and lifetime counters. Returns false (no change) on negative
// amounts or insufficient balance.
func (l *UserLedger) Debit(toolName string, apiSats int64) bool {
	if apiSats < 0 {
		return false
	}
	if l.BalanceAPISats < apiSats {
		return false
	}

	l.BalanceAPISats -= apiSats
	l.TotalConsumedAPISats += apiSats

	day := today()
	dayLog, ok := l.DailyLog[day]
	if !ok {
		dayLog = map[string]*ToolUsage{}
		l.DailyLog[day] = dayLog
	}
	usage, ok := dayLog[toolName]
	if !ok {
		usage = &ToolUsage{}
		dayLog[toolName] = usage
	}
	usage.Calls++
	usage.APISats += apiSats

	agg, ok := l.History[toolName]
	if !ok {
		agg = &ToolUsage{}
		l.History[toolName] = agg
	}
	agg.Calls++
	agg.APISats += apiSats

	return true
}

// CreditDeposit adds credits from a settled invoice: balance and deposit
// total grow, the invoice moves from pending to credited.
func (l *UserLedger) CreditDeposit(apiSats int64, invoiceID string) {
	l.BalanceAPISats += apiSats
	l.TotalDepositedAPISats += apiSats
	l.LastDepositAt = today()
	l.RemovePending(invoiceID)
	if !l.HasCredited(invoiceID) {
		l.CreditedInvoices = append(l.CreditedInvoices, invoiceID)
	}
}

// RollbackDebit undoes a previous debit (e.g. the tool call failed after
// charging). Counters floor at zero; the balance does not, so callers
// must only roll back a debit that actually succeeded.
func (l *UserLedger) RollbackDebit(toolName string, apiSats int64) {
	l.BalanceAPISats += apiSats
	l.TotalConsumedAPISats -= apiSats

	if usage, ok := l.DailyLog[today()][toolName]; ok {
		usage.Calls = max(0, usage.Calls-1)
		usage.APISats = max(0, usage.APISats-apiSats)
	}
	if agg, ok := l.History[toolName]; ok {
		agg.Calls = max(0, agg.Calls-1)
		agg.APISats = max(0, agg.APISats-apiSats)
	}
}

// RotateDailyLog deletes per-day entries older than retentionDays. The
// lifetime history already includes them (booked at debit time), so they
// are only dropped, never re-added.
func (l *UserLedger) RotateDailyLog(retentionDays int) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Format("2006-01-02")
	for day := range l.DailyLog {
		if day < cutoff {
			delete(l.DailyLog, day)
		}
	}
}

// HasCredited reports whether invoiceID is in the credited set.
func (l *UserLedger) HasCredited(invoiceID string) bool {
	for _, id := range l.CreditedInvoices {
		if id == invoiceID {
			return true
		}
	}
	return false
}

// HasPending reports whether invoiceID is in the pending list.
func (l *UserLedger) HasPending(invoiceID string) bool {
	for _, id := range l.PendingInvoices {
		if id == invoiceID {
			return true
		}
	}
	return false
}

// AddPending appends invoiceID to the pending list if not already there.
func (l *UserLedger) AddPending(invoiceID string) {
	if !l.HasPending(invoiceID) {
		l.PendingInvoices = append(l.PendingInvoices, invoiceID)
	}
}

// RemovePending deletes invoiceID from the pending list if present.
func (l *UserLedger) RemovePending(invoiceID string) {
	for i, id := range l.PendingInvoices {
		if id == invoiceID {
			l.PendingInvoices = append(l.PendingInvoices[:i], l.PendingInvoices[i+1:]...)
			return
		}
	}
}
