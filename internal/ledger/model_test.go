package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebit_Success(t *testing.T) {
	l := New()
	l.BalanceAPISats = 100

	ok := l.Debit("search", 5)

	require.True(t, ok)
	assert.Equal(t, int64(95), l.BalanceAPISats)
	assert.Equal(t, int64(5), l.TotalConsumedAPISats)

	day := time.Now().UTC().Format("2006-01-02")
	require.Contains(t, l.DailyLog, day)
	assert.Equal(t, int64(1), l.DailyLog[day]["search"].Calls)
	assert.Equal(t, int64(5), l.DailyLog[day]["search"].APISats)
	assert.Equal(t, int64(1), l.History["search"].Calls)
	assert.Equal(t, int64(5), l.History["search"].APISats)
}

func TestDebit_InsufficientBalance(t *testing.T) {
	l := New()
	l.BalanceAPISats = 3

	ok := l.Debit("search", 5)

	require.False(t, ok)
	assert.Equal(t, int64(3), l.BalanceAPISats)
	assert.Equal(t, int64(0), l.TotalConsumedAPISats)
	assert.Empty(t, l.DailyLog)
}

func TestDebit_NegativeAmount(t *testing.T) {
	l := New()
	l.BalanceAPISats = 100

	ok := l.Debit("search", -1)

	require.False(t, ok)
	assert.Equal(t, int64(100), l.BalanceAPISats)
}

func TestDebit_ZeroAmount(t *testing.T) {
	l := New()

	ok := l.Debit("ping", 0)

	require.True(t, ok)
	assert.Equal(t, int64(0), l.BalanceAPISats)
	assert.Equal(t, int64(1), l.History["ping"].Calls)
}

func TestRollbackDebit_RestoresPriorState(t *testing.T) {
	l := New()
	l.BalanceAPISats = 100
	require.True(t, l.Debit("write", 5))
	require.True(t, l.Debit("write", 5))

	l.RollbackDebit("write", 5)

	assert.Equal(t, int64(95), l.BalanceAPISats)
	assert.Equal(t, int64(5), l.TotalConsumedAPISats)
	day := time.Now().UTC().Format("2006-01-02")
	assert.Equal(t, int64(1), l.DailyLog[day]["write"].Calls)
	assert.Equal(t, int64(5), l.DailyLog[day]["write"].APISats)
	assert.Equal(t, int64(1), l.History["write"].Calls)
}

func TestRollbackDebit_CountersFloorAtZero(t *testing.T) {
	l := New()
	l.BalanceAPISats = 10
	require.True(t, l.Debit("write", 5))

	l.RollbackDebit("write", 5)
	l.RollbackDebit("write", 5)

	// Balance is deliberately not floored; the counters are.
	assert.Equal(t, int64(15), l.BalanceAPISats)
	day := time.Now().UTC().Format("2006-01-02")
	assert.Equal(t, int64(0), l.DailyLog[day]["write"].Calls)
	assert.Equal(t, int64(0), l.DailyLog[day]["write"].APISats)
	assert.Equal(t, int64(0), l.History["write"].Calls)
}

func TestCreditDeposit(t *testing.T) {
	l := New()
	l.AddPending("inv-1")

	l.CreditDeposit(500, "inv-1")

	assert.Equal(t, int64(500), l.BalanceAPISats)
	assert.Equal(t, int64(500), l.TotalDepositedAPISats)
	assert.Equal(t, time.Now().UTC().Format("2006-01-02"), l.LastDepositAt)
	assert.False(t, l.HasPending("inv-1"))
	assert.True(t, l.HasCredited("inv-1"))
}

func TestCreditDeposit_NoDuplicateCreditedEntry(t *testing.T) {
	l := New()

	l.CreditDeposit(100, "inv-1")
	l.CreditDeposit(100, "inv-1")

	assert.Equal(t, []string{"inv-1"}, l.CreditedInvoices)
}

func TestAddPending_NoDuplicates(t *testing.T) {
	l := New()

	l.AddPending("inv-1")
	l.AddPending("inv-1")

	assert.Equal(t, []string{"inv-1"}, l.PendingInvoices)
}

func TestRecordInvoiceLifecycle(t *testing.T) {
	l := New()

	l.RecordInvoiceCreated("inv-1", 980, 100, "2026-08-24T00:00:00Z")
	rec := l.Invoices["inv-1"]
	require.NotNil(t, rec)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, int64(980), rec.AmountSats)
	assert.Equal(t, int64(100), rec.Multiplier)
	assert.Equal(t, "New", rec.BTCPayStatus)

	l.RecordInvoiceSettled("inv-1", 98000, "2026-08-24T01:00:00Z", "Settled")
	assert.Equal(t, StatusSettled, rec.Status)
	assert.Equal(t, int64(98000), rec.APISatsCredited)
	assert.Equal(t, "2026-08-24T01:00:00Z", rec.SettledAt)
}

func TestRecordInvoiceSettled_RetroactiveRecord(t *testing.T) {
	l := New()

	l.RecordInvoiceSettled("inv-lost", 500, "2026-08-24T01:00:00Z", "Settled")

	rec := l.Invoices["inv-lost"]
	require.NotNil(t, rec)
	assert.Equal(t, StatusSettled, rec.Status)
	assert.Equal(t, int64(0), rec.AmountSats)
	assert.Equal(t, int64(0), rec.Multiplier)
	assert.Empty(t, rec.CreatedAt)
}

func TestRecordInvoiceTerminal_UnknownInvoiceIsNoop(t *testing.T) {
	l := New()

	l.RecordInvoiceTerminal("inv-unknown", StatusExpired, "Expired")

	assert.Empty(t, l.Invoices)
}

func TestRotateDailyLog(t *testing.T) {
	l := New()
	old := time.Now().UTC().AddDate(0, 0, -40).Format("2006-01-02")
	recent := time.Now().UTC().AddDate(0, 0, -5).Format("2006-01-02")
	l.DailyLog[old] = map[string]*ToolUsage{"search": {Calls: 3, APISats: 3}}
	l.DailyLog[recent] = map[string]*ToolUsage{"search": {Calls: 1, APISats: 1}}
	l.History["search"] = &ToolUsage{Calls: 4, APISats: 4}

	l.RotateDailyLog(DefaultRetentionDays)

	assert.NotContains(t, l.DailyLog, old)
	assert.Contains(t, l.DailyLog, recent)
	// History was booked at debit time; rotation must not touch it.
	assert.Equal(t, int64(4), l.History["search"].Calls)
}
