package btcpay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSatsToBTCString(t *testing.T) {
	tests := []struct {
		name string
		sats int64
		want string
	}{
		{"one sat", 1, "0.00000001"},
		{"one BTC", 100_000_000, "1.00000000"},
		{"typical royalty", 19, "0.00000019"},
		{"just under one BTC", 99_999_999, "0.99999999"},
		{"zero", 0, "0.00000000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SatsToBTCString(tt.sats)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSatsToBTCString_Negative(t *testing.T) {
	_, err := SatsToBTCString(-1)
	assert.Error(t, err)
}

func TestSatsToBTCString_AboveCeiling(t *testing.T) {
	_, err := SatsToBTCString(DefaultConversionCeiling + 1)
	assert.Error(t, err)
}

func TestSatsToBTCStringCeiling_CustomCeiling(t *testing.T) {
	got, err := SatsToBTCStringCeiling(500, 500)
	require.NoError(t, err)
	assert.Equal(t, "0.00000500", got)

	_, err = SatsToBTCStringCeiling(501, 500)
	assert.Error(t, err)
}

func TestInvoiceAmountSats(t *testing.T) {
	tests := []struct {
		amount string
		want   int64
	}{
		{"980", 980},
		{"980.7", 980}, // truncate, never round
		{"0", 0},
		{"", 0},
		{"garbage", 0},
	}
	for _, tt := range tests {
		inv := Invoice{Amount: tt.amount}
		assert.Equal(t, tt.want, inv.AmountSats(), "amount %q", tt.amount)
	}
}
