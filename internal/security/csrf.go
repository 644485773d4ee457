package security

import (
	"crypto/hmac"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
)

var (
	ErrCSRFMissing  = errors.New("CSRF token missing")
	ErrCSRFMismatch = errors.New("CSRF token mismatch")
)

// CSRFGuard issues and checks double-submit CSRF tokens. The token lives in a
// readable cookie and must be echoed by the client on every mutating request.
type CSRFGuard struct {
	devBypass bool
}

// NewCSRFGuard creates a guard. devBypass lets mutating requests through when
// neither the cookie nor the submitted token is present; config validation
// only allows it in development.
func NewCSRFGuard(devBypass bool) *CSRFGuard {
	return &CSRFGuard{devBypass: devBypass}
}

// Issue creates a cryptographically random token as 64 hex characters.
func (g *CSRFGuard) Issue() (string, error) {
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(randomBytes), nil
}

// Check applies the double-submit policy for a request method.
func (g *CSRFGuard) Check(method, cookieValue, submitted string) error {
	if IsSafeMethod(method) {
		return nil
	}
	if cookieValue == "" && submitted == "" && g.devBypass {
		return nil
	}
	if cookieValue == "" || submitted == "" {
		return ErrCSRFMissing
	}
	if !ValidateCSRF(cookieValue, submitted) {
		return ErrCSRFMismatch
	}
	return nil
}

// ValidateCSRF reports whether both values are present and byte-equal.
func ValidateCSRF(cookieValue, submitted string) bool {
	if cookieValue == "" || submitted == "" {
		return false
	}
	return hmac.Equal([]byte(cookieValue), []byte(submitted))
}

// IsSafeMethod reports whether the method is exempt from CSRF checks.
func IsSafeMethod(method string) bool {
	return method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions
}
