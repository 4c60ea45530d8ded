package storage

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// Scrypt parameters for DeriveSealKey.
const (
	sealScryptN      = 32768
	sealScryptR      = 8
	sealScryptP      = 1
	sealScryptKeyLen = 32
)

const sealedPrefix = "sealed1:"

// KeySealSalt holds the hex scrypt salt, stored unsealed next to the data.
const KeySealSalt = "shop_seal_salt"

const sealSaltLen = 16

// DeriveSealKey derives an AES-256 key from passphrase and salt with scrypt.
func DeriveSealKey(passphrase string, salt []byte) ([]byte, error) {
	if passphrase == "" {
		return nil, errors.New("seal passphrase cannot be empty")
	}
	if len(salt) < 16 {
		return nil, errors.New("seal salt must be at least 16 bytes")
	}

	key, err := scrypt.Key([]byte(passphrase), salt, sealScryptN, sealScryptR, sealScryptP, sealScryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("derive seal key: %w", err)
	}
	return key, nil
}

// LoadOrCreateSalt returns the salt kept under KeySealSalt in store,
// creating a random one on first use. Concurrent callers agree on one salt.
func LoadOrCreateSalt(ctx context.Context, store Store) ([]byte, error) {
	fresh := make([]byte, sealSaltLen)
	if _, err := rand.Read(fresh); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	if _, err := store.SetIfAbsent(ctx, KeySealSalt, hex.EncodeToString(fresh)); err != nil {
		return nil, fmt.Errorf("store salt: %w", err)
	}

	stored, ok, err := store.Get(ctx, KeySealSalt)
	if err != nil {
		return nil, fmt.Errorf("read salt: %w", err)
	}
	if !ok {
		return nil, errors.New("salt vanished after write")
	}
	salt, err := hex.DecodeString(stored)
	if err != nil || len(salt) < sealSaltLen {
		return nil, fmt.Errorf("%w: seal salt", ErrCorrupt)
	}
	return salt, nil
}

// SealedStore encrypts and authenticates values with AES-256-GCM before
// handing them to the wrapped Store. The key name is bound as additional
// data, so a value copied to another key fails to open.
//
// A value that fails to open is reported as ErrCorrupt.
type SealedStore struct {
	inner Store
	aead  cipher.AEAD
}

// NewSealedStore wraps inner. key must be 32 bytes, see DeriveSealKey.
func NewSealedStore(inner Store, key []byte) (*SealedStore, error) {
	if len(key) != sealScryptKeyLen {
		return nil, fmt.Errorf("seal key must be %d bytes, got %d", sealScryptKeyLen, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &SealedStore{inner: inner, aead: aead}, nil
}

func (s *SealedStore) Get(ctx context.Context, key string) (string, bool, error) {
	sealed, ok, err := s.inner.Get(ctx, key)
	if err != nil || !ok {
		return "", ok, err
	}

	value, err := s.open(key, sealed)
	if err != nil {
		return "", false, fmt.Errorf("%w: %s: %w", ErrCorrupt, key, err)
	}
	return value, true, nil
}

func (s *SealedStore) Set(ctx context.Context, key, value string) error {
	sealed, err := s.seal(key, value)
	if err != nil {
		return err
	}
	return s.inner.Set(ctx, key, sealed)
}

func (s *SealedStore) SetIfAbsent(ctx context.Context, key, value string) (bool, error) {
	sealed, err := s.seal(key, value)
	if err != nil {
		return false, err
	}
	return s.inner.SetIfAbsent(ctx, key, sealed)
}

func (s *SealedStore) Remove(ctx context.Context, key string) error {
	return s.inner.Remove(ctx, key)
}

func (s *SealedStore) seal(key, value string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	out := s.aead.Seal(nonce, nonce, []byte(value), []byte(key))
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(out), nil
}

func (s *SealedStore) open(key, sealed string) (string, error) {
	encoded, ok := strings.CutPrefix(sealed, sealedPrefix)
	if !ok {
		return "", errors.New("value is not sealed")
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	if len(raw) < s.aead.NonceSize()+s.aead.Overhead() {
		return "", errors.New("sealed value too short")
	}

	nonce, ciphertext := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, ciphertext, []byte(key))
	if err != nil {
		return "", fmt.Errorf("authenticate: %w", err)
	}
	return string(plain), nil
}
