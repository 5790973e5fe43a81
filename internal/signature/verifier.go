// Package signature authenticates mutating requests with an HMAC-SHA256
// signature over the raw request body.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"budgetapp/internal/core"
)

// HeaderName carries the hex signature on mutating requests.
const HeaderName = "X-Signature"

// Verifier checks body signatures against a shared secret.
type Verifier struct {
	secret   []byte
	required bool
}

// NewVerifier copies secret so later mutation by the caller has no effect.
// When required is false, Check accepts every request.
func NewVerifier(secret []byte, required bool) *Verifier {
	s := make([]byte, len(secret))
	copy(s, secret)
	return &Verifier{secret: s, required: required}
}

// Sign returns the lowercase hex HMAC-SHA256 of body.
func (v *Verifier) Sign(body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signatureHex is the signature of rawBody.
// Empty bodies and empty signatures never verify.
func (v *Verifier) Verify(rawBody []byte, signatureHex string) bool {
	if len(rawBody) == 0 || signatureHex == "" {
		return false
	}
	expected := v.Sign(rawBody)
	return hmac.Equal([]byte(expected), []byte(signatureHex))
}

// Required reports whether Check enforces signatures.
func (v *Verifier) Required() bool {
	return v.required
}

// Check is the request gate: a missing header and a wrong signature are
// distinct failures so callers can answer 400 and 403 respectively.
func (v *Verifier) Check(rawBody []byte, header string) error {
	if !v.required {
		return nil
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return &core.AuthError{Kind: core.AuthMissing}
	}
	if !v.Verify(rawBody, header) {
		return &core.AuthError{Kind: core.AuthInvalid}
	}
	return nil
}
