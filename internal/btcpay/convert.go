package btcpay

import "fmt"

// DefaultConversionCeiling is 1 BTC in satoshis. Any single amount above
// this is almost certainly a unit-mismatch bug (sats confused with BTC).
const DefaultConversionCeiling int64 = 100_000_000

// SatsToBTCString converts satoshis to the 8-decimal-place BTC string the
// BTCPay payout API expects, refusing negative values or values above the
// default ceiling.
func SatsToBTCString(sats int64) (string, error) {
	return SatsToBTCStringCeiling(sats, DefaultConversionCeiling)
}

// SatsToBTCStringCeiling is SatsToBTCString with an explicit ceiling.
func SatsToBTCStringCeiling(sats, maxSats int64) (string, error) {
	if sats < 0 {
		return "", fmt.Errorf("sats must be non-negative, got %d", sats)
	}
	if sats > maxSats {
		return "", fmt.Errorf("sats (%d) exceeds ceiling (%d)", sats, maxSats)
	}
	return fmt.Sprintf("%d.%08d", sats/100_000_000, sats%100_000_000), nil
}
