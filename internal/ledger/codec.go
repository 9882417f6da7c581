package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// SchemaVersion is the current ledger blob schema.
const SchemaVersion = 3

// ErrCorrupt is returned by Decode alongside a fresh ledger when the blob
// cannot be interpreted. Corruption must never block a user, so callers
// get a usable ledger either way and log the error.
var ErrCorrupt = errors.New("ledger blob is corrupt")

type usageJSON struct {
	Calls   int64 `json:"calls"`
	APISats int64 `json:"api_sats"`
}

type invoiceJSON struct {
	InvoiceID       string `json:"invoice_id"`
	AmountSats      int64  `json:"amount_sats"`
	APISatsCredited int64  `json:"api_sats_credited"`
	Multiplier      int64  `json:"multiplier"`
	Status          string `json:"status"`
	CreatedAt       string `json:"created_at"`
	SettledAt       string `json:"settled_at"`
	BTCPayStatus    string `json:"btcpay_status"`
}

type ledgerJSON struct {
	V                     int                              `json:"v"`
	BalanceAPISats        int64                            `json:"balance_api_sats"`
	TotalDepositedAPISats int64                            `json:"total_deposited_api_sats"`
	TotalConsumedAPISats  int64                            `json:"total_consumed_api_sats"`
	PendingInvoices       []string                         `json:"pending_invoices"`
	CreditedInvoices      []string                         `json:"credited_invoices"`
	LastDepositAt         string                           `json:"last_deposit_at"`
	DailyLog              map[string]map[string]*usageJSON `json:"daily_log"`
	History               map[string]*usageJSON            `json:"history"`
	Invoices              map[string]*invoiceJSON          `json:"invoices"`
}

// Encode serializes the ledger as a versioned JSON blob.
func (l *UserLedger) Encode() ([]byte, error) {
	out := ledgerJSON{
		V:                     SchemaVersion,
		BalanceAPISats:        l.BalanceAPISats,
		TotalDepositedAPISats: l.TotalDepositedAPISats,
		TotalConsumedAPISats:  l.TotalConsumedAPISats,
		PendingInvoices:       l.PendingInvoices,
		CreditedInvoices:      l.CreditedInvoices,
		LastDepositAt:         l.LastDepositAt,
		DailyLog:              map[string]map[string]*usageJSON{},
		History:               map[string]*usageJSON{},
		Invoices:              map[string]*invoiceJSON{},
	}
	for day, tools := range l.DailyLog {
		dayOut := map[string]*usageJSON{}
		for tool, u := range tools {
			dayOut[tool] = &usageJSON{Calls: u.Calls, APISats: u.APISats}
		}
		out.DailyLog[day] = dayOut
	}
	for tool, u := range l.History {
		out.History[tool] = &usageJSON{Calls: u.Calls, APISats: u.APISats}
	}
	for id, rec := range l.Invoices {
		out.Invoices[id] = &invoiceJSON{
			InvoiceID:       rec.InvoiceID,
			AmountSats:      rec.AmountSats,
			APISatsCredited: rec.APISatsCredited,
			Multiplier:      rec.Multiplier,
			Status:          rec.Status,
			CreatedAt:       rec.CreatedAt,
			SettledAt:       rec.SettledAt,
			BTCPayStatus:    rec.BTCPayStatus,
		}
	}
	return json.MarshalIndent(out, "", "  ")
}

// Decode deserializes a ledger blob. A corrupt or non-object blob yields
// a fresh ledger and ErrCorrupt; unknown fields are ignored. Legacy v1
// keys (balance_sats, total_deposited_sats, total_consumed_sats, and
// "sats" inside usage counters) are accepted.
func Decode(data []byte) (*UserLedger, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return New(), fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return New(), fmt.Errorf("%w: not a JSON object", ErrCorrupt)
	}

	l := New()
	l.BalanceAPISats = intField(obj, "balance_api_sats", "balance_sats")
	l.TotalDepositedAPISats = intField(obj, "total_deposited_api_sats", "total_deposited_sats")
	l.TotalConsumedAPISats = intField(obj, "total_consumed_api_sats", "total_consumed_sats")
	l.PendingInvoices = stringList(obj["pending_invoices"])
	l.CreditedInvoices = stringList(obj["credited_invoices"])
	l.LastDepositAt = stringValue(obj["last_deposit_at"])

	if rawDaily, ok := obj["daily_log"].(map[string]interface{}); ok {
		for day, toolsRaw := range rawDaily {
			tools, ok := toolsRaw.(map[string]interface{})
			if !ok {
				continue
			}
			dayLog := map[string]*ToolUsage{}
			for tool, uRaw := range tools {
				if u := decodeUsage(uRaw); u != nil {
					dayLog[tool] = u
				}
			}
			l.DailyLog[day] = dayLog
		}
	}

	if rawHistory, ok := obj["history"].(map[string]interface{}); ok {
		for tool, uRaw := range rawHistory {
			if u := decodeUsage(uRaw); u != nil {
				l.History[tool] = u
			}
		}
	}

	if rawInvoices, ok := obj["invoices"].(map[string]interface{}); ok {
		for id, recRaw := range rawInvoices {
			rec, ok := recRaw.(map[string]interface{})
			if !ok {
				continue
			}
			l.Invoices[id] = &InvoiceRecord{
				InvoiceID:       stringValue(rec["invoice_id"]),
				AmountSats:      intField(rec, "amount_sats"),
				APISatsCredited: intField(rec, "api_sats_credited"),
				Multiplier:      invoiceMultiplier(rec),
				Status:          stringOr(rec["status"], StatusPending),
				CreatedAt:       stringValue(rec["created_at"]),
				SettledAt:       stringValue(rec["settled_at"]),
				BTCPayStatus:    stringValue(rec["btcpay_status"]),
			}
		}
	}

	return l, nil
}

// decodeUsage accepts both the current api_sats key and the legacy sats key.
func decodeUsage(raw interface{}) *ToolUsage {
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return nil
	}
	return &ToolUsage{
		Calls:   intField(obj, "calls"),
		APISats: intField(obj, "api_sats", "sats"),
	}
}

// invoiceMultiplier defaults a missing multiplier to 1 (0 is reserved for
// retroactive records that explicitly store it).
func invoiceMultiplier(rec map[string]interface{}) int64 {
	if _, ok := rec["multiplier"]; !ok {
		return 1
	}
	return intField(rec, "multiplier")
}

// intField reads the first present key as an int64, tolerating numbers
// and numeric strings.
func intField(obj map[string]interface{}, keys ...string) int64 {
	for _, key := range keys {
		v, ok := obj[key]
		if !ok || v == nil {
			continue
		}
		switch n := v.(type) {
		case json.Number:
			if i, err := n.Int64(); err == nil {
				return i
			}
			if f, err := n.Float64(); err == nil {
				return int64(f)
			}
		case string:
			if i, err := strconv.ParseInt(n, 10, 64); err == nil {
				return i
			}
		case float64:
			return int64(n)
		}
	}
	return 0
}

func stringValue(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func stringOr(v interface{}, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}

func stringList(v interface{}) []string {
	out := []string{}
	items, ok := v.([]interface{})
	if !ok {
		return out
	}
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
