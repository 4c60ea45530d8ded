// Package api holds the JSON contracts of the shopmgr HTTP API, version 1.
package api

import (
	"net/http"
	"strings"
	"time"
)

// ActivateLicenseRequest is the body of POST /api/license/activate.
type ActivateLicenseRequest struct {
	Token string `json:"token" validate:"required,max=4096,contains=."`
}

// Bind trims surrounding whitespace pasted along with the code.
func (a *ActivateLicenseRequest) Bind(*http.Request) error {
	a.Token = strings.TrimSpace(a.Token)
	return nil
}

// LicenseView describes an accepted or stored license. The token itself is
// never returned, only a masked form.
type LicenseView struct {
	TokenMasked string     `json:"token_masked"`
	Type        string     `json:"type"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Version     int        `json:"version"`
}

// ActivateLicenseResponse is returned when a token was accepted and stored.
type ActivateLicenseResponse struct {
	Success     bool        `json:"success"`
	Message     string      `json:"message"`
	License     LicenseView `json:"license"`
	ActivatedAt time.Time   `json:"activated_at"`
	TraceID     string      `json:"trace_id,omitempty"`
}

// StoredLicenseResponse is returned by GET /api/license. Valid is false with
// a Rejection code when the stored token is no longer accepted.
type StoredLicenseResponse struct {
	License   *LicenseView `json:"license,omitempty"`
	Valid     bool         `json:"valid"`
	Rejection string       `json:"rejection,omitempty"`
	Message   string       `json:"message,omitempty"`
}

// DeviceResponse shows the id a license must be issued for.
type DeviceResponse struct {
	DeviceID string `json:"device_id"`
	Known    bool   `json:"known"`
}

// HealthResponse is returned by GET /api/health.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks"`
	Timestamp time.Time         `json:"timestamp"`
}
