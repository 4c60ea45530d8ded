package device

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/keygen-sh/machineid"
)

const containerIDFile = ".shopmgr-device-id"

// MachineIDProvider reads the operating system's machine id. When an app id
// is set the id is returned as an HMAC keyed by the app id, so the raw OS
// identifier is never shown to the user.
type MachineIDProvider struct {
	appID    string
	stateDir string
	logger   *slog.Logger

	// overridable in tests
	readID        func() (string, error)
	readProtected func(appID string) (string, error)
	inContainer   func() bool
}

// NewMachineIDProvider creates a provider. stateDir holds a generated id when
// running inside a container, where the OS machine id changes with every
// image rebuild; it may be empty.
func NewMachineIDProvider(appID, stateDir string, logger *slog.Logger) *MachineIDProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &MachineIDProvider{
		appID:         appID,
		stateDir:      stateDir,
		logger:        logger.With(slog.String("component", "machine_id")),
		readID:        machineid.ID,
		readProtected: machineid.ProtectedID,
		inContainer:   isRunningInContainer,
	}
}

func (p *MachineIDProvider) MachineID(ctx context.Context) (string, error) {
	if p.stateDir != "" && p.inContainer() {
		id, err := p.containerID()
		if err == nil {
			return p.protect(id), nil
		}
		p.logger.DebugContext(ctx, "container device id unavailable",
			slog.String("error", err.Error()))
	}

	if p.appID == "" {
		id, err := p.readID()
		if err != nil {
			return "", fmt.Errorf("read machine id: %w", err)
		}
		return strings.TrimSpace(id), nil
	}

	id, err := p.readProtected(p.appID)
	if err != nil {
		return "", fmt.Errorf("read protected machine id: %w", err)
	}
	return id, nil
}

func (p *MachineIDProvider) protect(id string) string {
	if p.appID == "" {
		return id
	}
	sum := sha256.Sum256([]byte(p.appID + "-" + id))
	return hex.EncodeToString(sum[:])
}

// containerID returns the id persisted in stateDir, creating it on first use.
func (p *MachineIDProvider) containerID() (string, error) {
	path := filepath.Join(p.stateDir, containerIDFile)

	if content, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(content)); id != "" {
			return id, nil
		}
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate device id: %w", err)
	}
	id := hex.EncodeToString(buf)

	if err := os.MkdirAll(p.stateDir, 0o700); err != nil {
		return "", fmt.Errorf("create state dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(id), 0o600); err != nil {
		return "", fmt.Errorf("persist device id: %w", err)
	}
	p.logger.Info("generated container device id", slog.String("path", path))
	return id, nil
}

func isRunningInContainer() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return true
	}
	return strings.Contains(os.Getenv("container"), "podman")
}
