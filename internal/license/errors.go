package license

import (
	"errors"
)

// Rejection reasons returned by Validator.Validate. They are ordinary,
// recoverable errors; match them with errors.Is.
var (
	ErrMalformedToken = errors.New("malformed license token")
	ErrInvalidPayload = errors.New("invalid license payload")
	ErrDeviceMismatch = errors.New("license belongs to a different device")
	ErrBadSignature   = errors.New("license signature mismatch")
	ErrExpired        = errors.New("license expired")
)

// Reason is a stable, machine-readable rejection code.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonMalformedToken Reason = "malformed_token"
	ReasonInvalidPayload Reason = "invalid_payload"
	ReasonDeviceMismatch Reason = "device_mismatch"
	ReasonBadSignature   Reason = "bad_signature"
	ReasonExpired        Reason = "expired"
	ReasonUnknown        Reason = "unknown"
)

// ReasonOf maps a validation error to its Reason. nil maps to ReasonNone.
func ReasonOf(err error) Reason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, ErrMalformedToken):
		return ReasonMalformedToken
	case errors.Is(err, ErrInvalidPayload):
		return ReasonInvalidPayload
	case errors.Is(err, ErrDeviceMismatch):
		return ReasonDeviceMismatch
	case errors.Is(err, ErrBadSignature):
		return ReasonBadSignature
	case errors.Is(err, ErrExpired):
		return ReasonExpired
	default:
		return ReasonUnknown
	}
}

// Message returns a short user-facing explanation for a rejection reason.
func (r Reason) Message() string {
	switch r {
	case ReasonMalformedToken:
		return "The license code format is not valid"
	case ReasonInvalidPayload:
		return "The license code content is not valid"
	case ReasonDeviceMismatch:
		return "This license code is not for this device"
	case ReasonBadSignature:
		return "The license code is not valid (signature mismatch)"
	case ReasonExpired:
		return "The license has expired"
	case ReasonNone:
		return ""
	default:
		return "The license code could not be verified"
	}
}
