// Package token generates URL-safe secrets for subscriber verification and
// unsubscribe links.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// defaultBytes yields 43 URL-safe characters, matching the entropy of the
// tokens the service has always issued.
const defaultBytes = 32

// New returns a cryptographically random URL-safe token.
func New() (string, error) {
	return NewN(defaultBytes)
}

// NewN returns a token built from n random bytes.
func NewN(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("token length must be > 0, got %d", n)
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
