// Package device identifies the machine a license is bound to.
package device

import (
	"context"
	"log/slog"
	"strings"
)

// Unknown is the device id used when the machine cannot be identified.
// Licenses are never issued for it, so it only ever matches the trial path.
const Unknown = "unknown"

// IdentityProvider returns a stable identifier for the current machine. It
// must not need network access.
type IdentityProvider interface {
	MachineID(ctx context.Context) (string, error)
}

// Resolve asks p for the machine id and falls back to Unknown on any error
// or empty result.
func Resolve(ctx context.Context, p IdentityProvider, logger *slog.Logger) string {
	if p == nil {
		return Unknown
	}

	id, err := p.MachineID(ctx)
	if err != nil {
		if logger != nil {
			logger.WarnContext(ctx, "device identity unavailable, using sentinel",
				slog.String("error", err.Error()))
		}
		return Unknown
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return Unknown
	}
	return id
}

// Static is an IdentityProvider that always returns the same id.
type Static string

func (s Static) MachineID(context.Context) (string, error) {
	return string(s), nil
}

// ProviderFunc adapts a function to IdentityProvider.
type ProviderFunc func(ctx context.Context) (string, error)

func (f ProviderFunc) MachineID(ctx context.Context) (string, error) {
	return f(ctx)
}
