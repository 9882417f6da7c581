package credits

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/dpyc/tollbooth/internal/btcpay"
	"github.com/dpyc/tollbooth/internal/certificate"
)

// AuthorityStatus reports the trust chain configuration.
type AuthorityStatus struct {
	PublicKeyConfigured            bool   `json:"public_key_configured"`
	PublicKeyValid                 bool   `json:"public_key_valid,omitempty"`
	PublicKeyFingerprint           string `json:"public_key_fingerprint,omitempty"`
	PublicKeyError                 string `json:"public_key_error,omitempty"`
	CertificateVerificationEnabled bool   `json:"certificate_verification_enabled"`
}

// PermissionsStatus compares the credential's permissions against what
// the configured features require.
type PermissionsStatus struct {
	Permissions []string `json:"permissions,omitempty"`
	Required    []string `json:"required,omitempty"`
	Present     []string `json:"present,omitempty"`
	Missing     []string `json:"missing,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// RoyaltyStatus reports the royalty side-payout configuration.
type RoyaltyStatus struct {
	Enabled bool    `json:"enabled"`
	Address string  `json:"address,omitempty"`
	Percent float64 `json:"percent"`
	MinSats int64   `json:"min_sats"`
}

// StatusReport is the diagnostic view of provider connectivity,
// credentials, and tollbooth configuration. ServerReachable and
// StoreName are nil when the provider connection is not configured.
type StatusReport struct {
	BTCPayHost         string             `json:"btcpay_host,omitempty"`
	BTCPayStoreID      string             `json:"btcpay_store_id,omitempty"`
	BTCPayAPIKeyStatus string             `json:"btcpay_api_key_status"`
	Versions           map[string]string  `json:"versions"`
	TierConfig         string             `json:"tier_config"`
	UserTiers          string             `json:"user_tiers"`
	AuthorityConfig    AuthorityStatus    `json:"authority_config"`
	RoyaltyConfig      RoyaltyStatus      `json:"royalty_config"`
	ServerReachable    *bool              `json:"server_reachable"`
	StoreName          *string            `json:"store_name"`
	APIKeyPermissions  *PermissionsStatus `json:"api_key_permissions,omitempty"`
	PayoutProcessors   int                `json:"payout_processors,omitempty"`
}

func configSummary(raw, unit string) string {
	if raw == "" {
		return "missing"
	}
	var parsed map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return "invalid JSON"
	}
	return fmt.Sprintf("%d %s(s)", len(parsed), unit)
}

// Status reports configuration state, provider connectivity, and
// credential permissions. Purely diagnostic, never mutates anything.
func (s *Service) Status(ctx context.Context) *StatusReport {
	cfg := s.cfg
	report := &StatusReport{
		BTCPayHost:    cfg.BTCPayHost,
		BTCPayStoreID: cfg.BTCPayStoreID,
		Versions: map[string]string{
			"tollbooth": Version,
			"go":        runtime.Version(),
		},
		TierConfig: configSummary(cfg.BTCPayTierConfig, "tier"),
		UserTiers:  configSummary(cfg.BTCPayUserTiers, "user"),
		RoyaltyConfig: RoyaltyStatus{
			Enabled: cfg.RoyaltyEnabled(),
			Address: cfg.RoyaltyAddress,
			Percent: cfg.RoyaltyPercent,
			MinSats: cfg.RoyaltyMinSats,
		},
	}
	if cfg.BTCPayAPIKey != "" {
		report.BTCPayAPIKeyStatus = "present"
	} else {
		report.BTCPayAPIKeyStatus = "missing"
	}

	report.AuthorityConfig = AuthorityStatus{
		PublicKeyConfigured: cfg.AuthorityPublicKey != "",
	}
	if cfg.AuthorityPublicKey != "" {
		if _, err := certificate.ParsePublicKey(cfg.AuthorityPublicKey); err != nil {
			report.AuthorityConfig.PublicKeyError = err.Error()
		} else {
			report.AuthorityConfig.PublicKeyValid = true
			report.AuthorityConfig.PublicKeyFingerprint = certificate.Fingerprint(cfg.AuthorityPublicKey)
			report.AuthorityConfig.CertificateVerificationEnabled = true
		}
	}

	if !cfg.BTCPayConfigured() || s.btcpay == nil {
		return report
	}

	reachable := false
	if _, err := s.btcpay.HealthCheck(ctx); err == nil {
		reachable = true
	}
	report.ServerReachable = &reachable

	var storeName *string
	if store, err := s.btcpay.GetStore(ctx); err == nil {
		storeName = &store.Name
	} else if btcpay.IsAuthError(err) {
		unauthorized := "unauthorized"
		storeName = &unauthorized
	}
	report.StoreName = storeName

	report.APIKeyPermissions = s.checkPermissions(ctx)

	if cfg.RoyaltyEnabled() {
		if procs, err := s.btcpay.GetPayoutProcessors(ctx); err == nil {
			report.PayoutProcessors = len(procs)
		}
	}

	return report
}

func (s *Service) checkPermissions(ctx context.Context) *PermissionsStatus {
	keyInfo, err := s.btcpay.GetAPIKeyInfo(ctx)
	if err != nil {
		return &PermissionsStatus{Error: err.Error()}
	}

	required := []string{
		"btcpay.store.cancreateinvoice",
		"btcpay.store.canviewinvoices",
	}
	if s.cfg.RoyaltyEnabled() {
		required = append(required, "btcpay.store.cancreatenonapprovedpullpayments")
	}

	have := make(map[string]bool, len(keyInfo.Permissions))
	for _, p := range keyInfo.Permissions {
		have[p] = true
	}
	status := &PermissionsStatus{
		Permissions: keyInfo.Permissions,
		Required:    required,
	}
	for _, p := range required {
		if have[p] {
			status.Present = append(status.Present, p)
		} else {
			status.Missing = append(status.Missing, p)
		}
	}
	return status
}
