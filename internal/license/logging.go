package license

import (
	"crypto/sha256"
	"fmt"
)

// MaskToken masks a token for logs, keeping only its first and last four
// characters.
func MaskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 12 {
		return "****"
	}
	return token[:4] + "****" + token[len(token)-4:]
}

// TokenHash returns a short SHA-256 prefix of token for correlating audit
// log lines without disclosing the token.
func TokenHash(token string) string {
	if token == "" {
		return ""
	}
	h := sha256.Sum256([]byte(token))
	return fmt.Sprintf("%x", h)[:16]
}
