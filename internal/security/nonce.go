package security

import (
	"crypto/rand"
	"encoding/base64"
)

// NewNonce returns 16 random bytes, base64 encoded, for a per-request CSP nonce.
func NewNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
