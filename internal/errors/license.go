package errors

import (
	"net/http"

	"shopmgr/internal/license"
)

// FromRejection converts a license validation error into a 422 problem whose
// type and "reason" extension carry the stable rejection code.
func FromRejection(err error, instance string) *ProblemDetails {
	reason := license.ReasonOf(err)
	if reason == license.ReasonNone {
		reason = license.ReasonUnknown
	}

	return NewProblemDetails(
		http.StatusUnprocessableEntity,
		TypeLicensePrefix+string(reason),
		"License Rejected",
		reason.Message(),
		instance,
	).WithExtension("reason", string(reason))
}

// EntitlementRequired is returned to API clients whose device has neither a
// valid license nor trial days left.
func EntitlementRequired(instance, activationPage string) *ProblemDetails {
	return NewProblemDetails(
		http.StatusForbidden,
		TypeEntitlementRequired,
		"Activation Required",
		"The trial period has ended. Enter a license code to continue.",
		instance,
	).WithExtension("activation_url", activationPage)
}

// LicenseNotFound reports that no license is stored on this device.
func LicenseNotFound(instance string) *ProblemDetails {
	return NewProblemDetails(
		http.StatusNotFound,
		TypeLicenseNotFound,
		"License Not Found",
		"No license has been activated on this device",
		instance,
	)
}

// Validation reports a malformed request body.
func Validation(instance, detail string, fieldErrors map[string]string) *ProblemDetails {
	problem := NewProblemDetails(http.StatusBadRequest, TypeValidation, "Validation Failed", detail, instance)
	if len(fieldErrors) > 0 {
		problem.WithExtension("errors", fieldErrors)
	}
	return problem
}

// RateLimited is returned when a client exceeds its activation budget.
func RateLimited(instance string, retryAfterSeconds int) *ProblemDetails {
	return NewProblemDetails(
		http.StatusTooManyRequests,
		TypeRateLimit,
		"Rate Limit Exceeded",
		"Too many license attempts. Please try again later.",
		instance,
	).WithExtension("retry_after", retryAfterSeconds)
}
