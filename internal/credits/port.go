package credits

import (
	"context"

	"github.com/dpyc/tollbooth/internal/btcpay"
)

// PaymentProvider is the slice of the BTCPay client the credit
// operations depend on.
type PaymentProvider interface {
	HealthCheck(ctx context.Context) (*btcpay.Health, error)
	GetStore(ctx context.Context) (*btcpay.Store, error)
	GetAPIKeyInfo(ctx context.Context) (*btcpay.APIKeyInfo, error)
	CreateInvoice(ctx context.Context, amountSats int64, metadata map[string]interface{}) (*btcpay.Invoice, error)
	GetInvoice(ctx context.Context, invoiceID string) (*btcpay.Invoice, error)
	CreatePayout(ctx context.Context, destination string, amountSats int64, payoutMethod string) (*btcpay.Payout, error)
	GetPayoutProcessors(ctx context.Context) ([]btcpay.PayoutProcessor, error)
}
