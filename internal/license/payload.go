package license

import (
	"fmt"
	"time"
)

// Type is the kind of license carried by a payload.
type Type string

const (
	// TypeFull never expires.
	TypeFull Type = "full"
	// TypeTimeLimited is valid until Payload.ExpiresAt.
	TypeTimeLimited Type = "time"
)

// Valid reports whether t is a known license type.
func (t Type) Valid() bool {
	return t == TypeFull || t == TypeTimeLimited
}

// Signature scheme versions carried in the payload "v" field.
const (
	VersionHMAC    = 1
	VersionEd25519 = 2
)

// Payload is the decoded content of a license token.
type Payload struct {
	DeviceID  string
	Type      Type
	ExpiresAt *time.Time
	// Version selects the signature scheme. Zero is treated as VersionHMAC
	// and is omitted from the encoding; any other value is written as is.
	Version int
}

// SchemeVersion returns the effective signature scheme of the payload.
func (p Payload) SchemeVersion() int {
	if p.Version == 0 {
		return VersionHMAC
	}
	return p.Version
}

// Expired reports whether a time-limited payload has passed its expiry at now.
// Full licenses never expire. The expiry instant itself is still valid.
func (p Payload) Expired(now time.Time) bool {
	if p.Type != TypeTimeLimited || p.ExpiresAt == nil {
		return false
	}
	return p.ExpiresAt.Before(now)
}

// check enforces the structural invariants shared by Encode and Decode.
func (p Payload) check() error {
	if p.DeviceID == "" {
		return fmt.Errorf("missing device id")
	}
	if !p.Type.Valid() {
		return fmt.Errorf("unknown license type %q", p.Type)
	}
	if p.Type == TypeTimeLimited && p.ExpiresAt == nil {
		return fmt.Errorf("time-limited license without expiry")
	}
	if p.Type == TypeFull && p.ExpiresAt != nil {
		return fmt.Errorf("full license with expiry")
	}
	switch p.SchemeVersion() {
	case VersionHMAC, VersionEd25519:
	default:
		return fmt.Errorf("unsupported payload version %d", p.Version)
	}
	return nil
}
