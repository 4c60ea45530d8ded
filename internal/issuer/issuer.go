// Package issuer produces signed license tokens. It is vendor tooling used by
// cmd/licensegen and by tests; the application runtime never imports it.
package issuer

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"shopmgr/internal/license"
)

var (
	// ErrNoPrivateKey is returned when a version 2 token is requested from an
	// Issuer without an Ed25519 private key.
	ErrNoPrivateKey = errors.New("ed25519 private key not configured")
	// ErrNoSecret is returned when a version 1 token is requested from an
	// Issuer without an HMAC secret.
	ErrNoSecret = errors.New("hmac secret not configured")
)

// Issuer signs license payloads.
type Issuer struct {
	secret     string
	privateKey ed25519.PrivateKey
}

// New creates an Issuer. secret signs version 1 tokens; privateKey, which may
// be nil, signs version 2 tokens.
func New(secret string, privateKey ed25519.PrivateKey) *Issuer {
	return &Issuer{secret: secret, privateKey: privateKey}
}

// Issue encodes and signs p, returning the token in wire form.
func (i *Issuer) Issue(p license.Payload) (string, error) {
	encoded, err := license.Encode(p)
	if err != nil {
		return "", err
	}

	var signature string
	switch p.SchemeVersion() {
	case license.VersionEd25519:
		if i.privateKey == nil {
			return "", ErrNoPrivateKey
		}
		signature = hex.EncodeToString(ed25519.Sign(i.privateKey, []byte(encoded)))
	default:
		if i.secret == "" {
			return "", ErrNoSecret
		}
		signature = license.Sign(encoded, i.secret)
	}

	return encoded + license.Separator + signature, nil
}

// Full is a convenience payload for a non-expiring license.
func Full(deviceID string) license.Payload {
	return license.Payload{DeviceID: deviceID, Type: license.TypeFull}
}

// TimeLimited is a convenience payload for a license ending at expiresAt.
func TimeLimited(deviceID string, expiresAt time.Time) license.Payload {
	return license.Payload{DeviceID: deviceID, Type: license.TypeTimeLimited, ExpiresAt: &expiresAt}
}

// GenerateKeyPair creates a new Ed25519 key pair, hex encoded.
func GenerateKeyPair() (publicHex, privateHex string, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generate ed25519 key: %w", err)
	}
	return hex.EncodeToString(pub), hex.EncodeToString(priv), nil
}

// ParsePrivateKey decodes a hex Ed25519 private key. Both the 32-byte seed and
// the 64-byte expanded form are accepted.
func ParsePrivateKey(keyHex string) (ed25519.PrivateKey, error) {
	raw, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	default:
		return nil, fmt.Errorf("private key must be %d or %d bytes, got %d",
			ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
	}
}
