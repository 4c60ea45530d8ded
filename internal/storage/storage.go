// Package storage provides the durable key/value store the entitlement
// subsystem uses to remember the trial start and the activated license.
//
// Values are opaque strings. Callers treat any read failure as "absent", so
// implementations report errors faithfully and leave recovery to the caller.
package storage

import (
	"context"
	"errors"
)

// Well-known keys. They match the keys used by earlier releases of the shop
// application so existing installations keep their trial and license.
const (
	KeyTrial   = "shop_trial"
	KeyLicense = "shop_license"
)

// ErrCorrupt is returned when a stored value exists but cannot be trusted,
// for example because it fails authentication in a SealedStore.
var ErrCorrupt = errors.New("stored value is corrupt")

// Store is a string key/value store.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set writes value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// SetIfAbsent writes value only if key has no value yet. It reports
	// whether the write happened. The check and the write are atomic.
	SetIfAbsent(ctx context.Context, key, value string) (bool, error)

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
}
