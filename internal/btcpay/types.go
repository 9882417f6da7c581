package btcpay

import "strconv"

// Invoice status values reported by the Greenfield API.
const (
	StatusNew        = "New"
	StatusProcessing = "Processing"
	StatusSettled    = "Settled"
	StatusExpired    = "Expired"
	StatusInvalid    = "Invalid"
)

// PayoutMethodLightning is the payout method id for Lightning payouts.
const PayoutMethodLightning = "BTC-LN"

// Health is the response of GET /health.
type Health struct {
	Synchronized bool `json:"synchronized"`
}

// Store is the subset of store metadata this core reads.
type Store struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// APIKeyInfo describes the current credential and its permission list.
type APIKeyInfo struct {
	APIKey      string   `json:"apiKey"`
	Label       string   `json:"label"`
	Permissions []string `json:"permissions"`
}

// Invoice is a Greenfield invoice. Amount is a string in the invoice
// currency (SATS for invoices this core creates); BTCPay may render it
// with a fractional part after internal conversions.
type Invoice struct {
	ID               string                 `json:"id"`
	Status           string                 `json:"status"`
	AdditionalStatus string                 `json:"additionalStatus"`
	Amount           string                 `json:"amount"`
	Currency         string                 `json:"currency"`
	CheckoutLink     string                 `json:"checkoutLink"`
	ExpirationTime   int64                  `json:"expirationTime"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// AmountSats parses the invoice amount as integer satoshis: parse as
// floating-point, then truncate. Callers must never multiply before
// truncation. An empty or unparseable amount reads as 0, which crediting
// treats as worthless rather than failing the whole settlement.
func (i *Invoice) AmountSats() int64 {
	f, err := strconv.ParseFloat(i.Amount, 64)
	if err != nil {
		return 0
	}
	return int64(f)
}

// Payout is a Greenfield store payout.
type Payout struct {
	ID          string `json:"id"`
	State       string `json:"state"`
	Destination string `json:"destination"`
	Amount      string `json:"amount"`
}

// PayoutProcessor describes a configured payout processor.
type PayoutProcessor struct {
	Name          string   `json:"name"`
	FriendlyName  string   `json:"friendlyName"`
	PayoutMethods []string `json:"payoutMethods"`
}
