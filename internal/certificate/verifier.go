package certificate

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ProtocolBaseCertificate is the certificate protocol this verifier
// understands by default.
const ProtocolBaseCertificate = "dpyp-01-base-certificate"

// Error is a certificate validation failure. Every failure mode shares
// one kind; the message distinguishes them.
type Error struct {
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }
func (e *Error) Unwrap() error { return e.Err }

// IsError reports whether err is a certificate validation failure.
func IsError(err error) bool {
	var ce *Error
	return errors.As(err, &ce)
}

// Claims are the verified certificate contents.
type Claims struct {
	OperatorID  string
	AmountSats  int64
	TaxPaidSats int64
	NetSats     int64
	JTI         string
	Protocol    string
}

type certClaims struct {
	AmountSats  int64  `json:"amount_sats"`
	TaxPaidSats int64  `json:"tax_paid_sats"`
	NetSats     int64  `json:"net_sats"`
	Protocol    string `json:"dpyc_protocol"`
	jwt.RegisteredClaims
}

// Verifier validates Authority-signed EdDSA certificates. The token
// store is shared process-wide and injected so tests can isolate replay
// state.
type Verifier struct {
	store     *TokenStore
	protocols map[string]struct{}
}

// NewVerifier creates a verifier accepting the given protocols. An empty
// list means the default base-certificate protocol only.
func NewVerifier(store *TokenStore, protocols ...string) *Verifier {
	if len(protocols) == 0 {
		protocols = []string{ProtocolBaseCertificate}
	}
	set := make(map[string]struct{}, len(protocols))
	for _, p := range protocols {
		set[p] = struct{}{}
	}
	return &Verifier{store: store, protocols: set}
}

// Verify checks signature, expiry, required claims, protocol, and replay,
// and returns the extracted claims.
func (v *Verifier) Verify(token, publicKey string) (*Claims, error) {
	pub, err := ParsePublicKey(publicKey)
	if err != nil {
		return nil, &Error{Message: fmt.Sprintf("invalid authority public key: %v", err), Err: err}
	}

	var claims certClaims
	_, err = jwt.ParseWithClaims(token, &claims,
		func(t *jwt.Token) (interface{}, error) { return pub, nil },
		jwt.WithValidMethods([]string{"EdDSA"}),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, &Error{Message: "certificate has expired", Err: err}
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, &Error{Message: "certificate signature is invalid, possible tampering", Err: err}
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, &Error{Message: fmt.Sprintf("certificate could not be decoded: %v", err), Err: err}
		default:
			return nil, &Error{Message: fmt.Sprintf("invalid certificate: %v", err), Err: err}
		}
	}

	if claims.ID == "" {
		return nil, &Error{Message: "certificate missing jti claim"}
	}
	if claims.ExpiresAt == nil {
		return nil, &Error{Message: "certificate missing exp claim"}
	}
	if claims.Protocol == "" {
		return nil, &Error{Message: "certificate missing dpyc_protocol claim"}
	}
	if _, ok := v.protocols[claims.Protocol]; !ok {
		return nil, &Error{Message: fmt.Sprintf("certificate protocol %q is not understood", claims.Protocol)}
	}

	if !v.store.CheckAndRecord(claims.ID, claims.ExpiresAt.Unix()) {
		return nil, &Error{Message: fmt.Sprintf("certificate replay detected, jti %s already used", claims.ID)}
	}

	return &Claims{
		OperatorID:  claims.Subject,
		AmountSats:  claims.AmountSats,
		TaxPaidSats: claims.TaxPaidSats,
		NetSats:     claims.NetSats,
		JTI:         claims.ID,
		Protocol:    claims.Protocol,
	}, nil
}
