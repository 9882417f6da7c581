// Package certificate verifies EdDSA-signed purchase certificates issued
// by the Authority, with single-use token anti-replay.
package certificate

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"
)

const pemHeader = "-----BEGIN PUBLIC KEY-----"
const pemFooter = "-----END PUBLIC KEY-----"

// NormalizePublicKey accepts either a full PEM block or a bare base64 body
// and returns a full PEM block. Configuration often carries the bare body
// (env vars and newlines do not mix well).
func NormalizePublicKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" || strings.Contains(key, pemHeader) {
		return key
	}
	return pemHeader + "\n" + key + "\n" + pemFooter + "\n"
}

// ParsePublicKey parses a PEM or bare-base64 Ed25519 public key.
func ParsePublicKey(key string) (ed25519.PublicKey, error) {
	block, _ := pem.Decode([]byte(NormalizePublicKey(key)))
	if block == nil {
		return nil, fmt.Errorf("not a valid PEM block")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	pub, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, want Ed25519", parsed)
	}
	return pub, nil
}

// Fingerprint returns a short display identifier for a public key: the
// last eight characters of its base64 body. Empty for an empty key.
func Fingerprint(key string) string {
	body := strings.TrimSpace(NormalizePublicKey(key))
	body = strings.TrimPrefix(body, pemHeader)
	body = strings.TrimSuffix(strings.TrimSpace(body), pemFooter)
	body = strings.Join(strings.Fields(body), "")
	if len(body) <= 8 {
		return body
	}
	return body[len(body)-8:]
}
