package license

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Secret is the HMAC key shared with the license issuer. Release builds
// override it with:
//
//	go build -ldflags "-X shopmgr/internal/license.Secret=..."
var Secret = "CHANGE_ME_SECRET_2025_11"

// PublicKeyHex is the hex-encoded Ed25519 public key used for version 2
// tokens. Empty disables the Ed25519 path.
var PublicKeyHex = ""

// Sign returns the lowercase hex HMAC-SHA256 of message keyed with secret.
func Sign(message, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

// Verify reports whether digestHex is the HMAC-SHA256 of message under
// secret. The comparison does not short-circuit on the first differing byte.
func Verify(message, secret, digestHex string) bool {
	expected := Sign(message, secret)
	return hmac.Equal([]byte(expected), []byte(digestHex))
}

// ParsePublicKey decodes a hex-encoded Ed25519 public key.
func ParsePublicKey(keyHex string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// Ed25519Verify reports whether signatureHex is a valid Ed25519 signature of
// message. Only lowercase hex is accepted so that a token has exactly one
// valid textual form.
func Ed25519Verify(message string, key ed25519.PublicKey, signatureHex string) bool {
	if len(key) != ed25519.PublicKeySize || len(signatureHex) != 2*ed25519.SignatureSize {
		return false
	}
	if !isLowerHex(signatureHex) {
		return false
	}
	sig, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}
	return ed25519.Verify(key, []byte(message), sig)
}

func isLowerHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}
