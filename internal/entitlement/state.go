package entitlement

import (
	"time"

	"shopmgr/internal/license"
	"shopmgr/internal/trial"
)

// Reason explains an AccessState. Precedence is Licensed, then Trial, then
// Expired.
type Reason string

const (
	ReasonLicensed Reason = "licensed"
	ReasonTrial    Reason = "trial"
	ReasonExpired  Reason = "expired"
)

// LicenseInfo is the display form of an accepted license.
type LicenseInfo struct {
	Type      license.Type `json:"type"`
	ExpiresAt *time.Time   `json:"expires_at,omitempty"`
	Version   int          `json:"version"`
}

// AccessState is the single entitlement decision the application obeys. It
// is derived on every resolution and never persisted.
type AccessState struct {
	Allowed  bool         `json:"allowed"`
	Reason   Reason       `json:"reason"`
	DeviceID string       `json:"device_id"`
	License  *LicenseInfo `json:"license,omitempty"`
	Trial    *trial.Info  `json:"trial,omitempty"`

	// LicenseRejection is set when a stored license was present but ignored.
	LicenseRejection license.Reason `json:"license_rejection,omitempty"`

	ResolvedAt time.Time `json:"resolved_at"`
}
