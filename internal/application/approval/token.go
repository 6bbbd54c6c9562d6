package approval

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// tokenBytes is the entropy of an approval token. Tokens are single-use:
// the approval row's transition out of pending revokes them.
const tokenBytes = 32

// NewToken returns a fresh URL-safe approval token.
func NewToken() (string, error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate approval token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
