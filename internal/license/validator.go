package license

import (
	"crypto/ed25519"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"shopmgr/internal/clock"
)

// Separator splits the encoded payload from the signature in a token.
const Separator = "."

// Validator checks license tokens against the current device. It holds no
// per-token state and is safe for concurrent use.
type Validator struct {
	secret    string
	publicKey ed25519.PublicKey
	keySet    bool
	clock     clock.Clock
	logger    *slog.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithSecret overrides the build-embedded HMAC secret.
func WithSecret(secret string) Option {
	return func(v *Validator) { v.secret = secret }
}

// WithPublicKey overrides the build-embedded Ed25519 public key. A nil key
// disables version 2 tokens.
func WithPublicKey(key ed25519.PublicKey) Option {
	return func(v *Validator) {
		v.publicKey = key
		v.keySet = true
	}
}

// WithClock sets the time source used for expiry checks.
func WithClock(c clock.Clock) Option {
	return func(v *Validator) { v.clock = c }
}

// WithLogger sets the logger used for rejection diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) { v.logger = logger }
}

// NewValidator creates a Validator using the build-embedded keys unless
// overridden by opts.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{
		secret: Secret,
		clock:  clock.Real{},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(v)
	}
	v.logger = v.logger.With(slog.String("component", "license_validator"))

	if !v.keySet && PublicKeyHex != "" {
		key, err := ParsePublicKey(PublicKeyHex)
		if err != nil {
			v.logger.Warn("embedded license public key is invalid, version 2 tokens disabled",
				slog.String("error", err.Error()))
		} else {
			v.publicKey = key
		}
	}
	return v
}

// Validate accepts or rejects token for deviceID. On success it returns the
// decoded payload; on failure the error wraps one of the Err* sentinels.
func (v *Validator) Validate(token, deviceID string) (Payload, error) {
	if token == "" || !strings.Contains(token, Separator) {
		return v.reject(token, ErrMalformedToken)
	}

	encoded, signature, _ := strings.Cut(token, Separator)

	payload, err := Decode(encoded)
	if err != nil {
		return v.reject(token, fmt.Errorf("%w: %w", ErrInvalidPayload, err))
	}

	if payload.DeviceID != deviceID {
		return v.reject(token, ErrDeviceMismatch)
	}

	if !v.verifySignature(payload.SchemeVersion(), encoded, signature) {
		return v.reject(token, ErrBadSignature)
	}

	if payload.Expired(v.clock.Now()) {
		return v.reject(token, fmt.Errorf("%w at %s", ErrExpired, payload.ExpiresAt.Format(time.RFC3339)))
	}

	return payload, nil
}

func (v *Validator) verifySignature(version int, encoded, signature string) bool {
	switch version {
	case VersionEd25519:
		if v.publicKey == nil {
			return false
		}
		return Ed25519Verify(encoded, v.publicKey, signature)
	default:
		return Verify(encoded, v.secret, signature)
	}
}

func (v *Validator) reject(token string, err error) (Payload, error) {
	v.logger.Debug("license token rejected",
		slog.String("reason", string(ReasonOf(err))),
		slog.String("token_masked", MaskToken(token)),
		slog.String("token_hash", TokenHash(token)),
	)
	return Payload{}, err
}
