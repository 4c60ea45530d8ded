package device

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Fingerprint is a hardware-derived device identity with the factors it was
// computed from.
type Fingerprint struct {
	ID          string    `json:"id"`
	Hostname    string    `json:"hostname"`
	MACAddress  string    `json:"mac_address"`
	CPUID       string    `json:"cpu_id"`
	OS          string    `json:"os"`
	Platform    string    `json:"platform"`
	GeneratedAt time.Time `json:"generated_at"`
}

// FingerprintProvider derives a device id from the primary MAC address, the
// hostname and CPU information. It is used where the OS machine id is not
// readable. Results are cached for cacheDuration.
type FingerprintProvider struct {
	logger        *slog.Logger
	cacheMu       sync.RWMutex
	cache         *Fingerprint
	cacheExpiry   time.Time
	cacheDuration time.Duration

	macAddress func() (string, error)
	hostname   func() (string, error)
	cpuID      func() (string, error)
}

// NewFingerprintProvider creates a FingerprintProvider with a one hour cache.
func NewFingerprintProvider(logger *slog.Logger) *FingerprintProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &FingerprintProvider{
		logger:        logger.With(slog.String("component", "fingerprint")),
		cacheDuration: time.Hour,
		macAddress:    primaryMACAddress,
		hostname:      normalizedHostname,
		cpuID:         cpuID,
	}
}

func (p *FingerprintProvider) MachineID(ctx context.Context) (string, error) {
	fp, err := p.Generate(ctx)
	if err != nil {
		return "", err
	}
	return fp.ID, nil
}

// Generate returns the cached fingerprint or computes a new one. Individual
// factors that cannot be read are replaced by fixed placeholders; only when
// every hardware factor is missing does Generate fail.
func (p *FingerprintProvider) Generate(ctx context.Context) (*Fingerprint, error) {
	p.cacheMu.RLock()
	if p.cache != nil && time.Now().Before(p.cacheExpiry) {
		cached := *p.cache
		p.cacheMu.RUnlock()
		return &cached, nil
	}
	p.cacheMu.RUnlock()

	start := time.Now()
	missing := 0
	factor := func(name, fallback string, read func() (string, error)) string {
		v, err := read()
		if err != nil || v == "" {
			missing++
			p.logger.WarnContext(ctx, "fingerprint factor unavailable, using fallback",
				slog.String("factor", name),
				slog.Any("error", err))
			return fallback
		}
		return v
	}

	mac := factor("mac_address", "unknown-mac", p.macAddress)
	host := factor("hostname", "unknown-host", p.hostname)
	cpu := factor("cpu_id", "unknown-cpu", p.cpuID)
	if missing == 3 {
		return nil, errors.New("no hardware factors available for fingerprint")
	}

	sum := sha256.Sum256([]byte(strings.Join([]string{mac, host, cpu, runtime.GOOS, runtime.GOARCH}, "|")))
	fp := &Fingerprint{
		ID:          hex.EncodeToString(sum[:]),
		Hostname:    host,
		MACAddress:  mac,
		CPUID:       cpu,
		OS:          runtime.GOOS,
		Platform:    runtime.GOARCH,
		GeneratedAt: time.Now(),
	}

	p.cacheMu.Lock()
	p.cache = fp
	p.cacheExpiry = time.Now().Add(p.cacheDuration)
	p.cacheMu.Unlock()

	p.logger.DebugContext(ctx, "device fingerprint generated",
		slog.String("os", fp.OS),
		slog.String("platform", fp.Platform),
		slog.Duration("generation_time", time.Since(start)))

	out := *fp
	return &out, nil
}

// primaryMACAddress prefers the first up, non-loopback interface.
func primaryMACAddress() (string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("list network interfaces: %w", err)
	}

	valid := func(iface net.Interface) bool {
		mac := iface.HardwareAddr.String()
		return mac != "" && mac != "00:00:00:00:00:00"
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if valid(iface) {
			return iface.HardwareAddr.String(), nil
		}
	}
	for _, iface := range interfaces {
		if valid(iface) {
			return iface.HardwareAddr.String(), nil
		}
	}
	return "", errors.New("no valid MAC address found")
}

func normalizedHostname() (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("read hostname: %w", err)
	}
	hostname = strings.ToLower(strings.TrimSpace(hostname))
	if hostname == "" {
		return "", errors.New("hostname is empty")
	}
	return hostname, nil
}

func cpuID() (string, error) {
	var raw string
	switch runtime.GOOS {
	case "windows":
		raw = os.Getenv("PROCESSOR_IDENTIFIER")
		if raw == "" {
			raw = "windows-" + runtime.GOARCH + "-" + os.Getenv("PROCESSOR_ARCHITECTURE")
		}
	case "linux":
		raw = "linux-" + runtime.GOARCH
		if data, err := os.ReadFile("/proc/cpuinfo"); err == nil {
			for _, line := range strings.Split(string(data), "\n") {
				if strings.HasPrefix(line, "model name") {
					raw = line
					break
				}
			}
		}
	case "darwin":
		raw = "darwin-" + runtime.GOARCH
		if hostType := os.Getenv("HOSTTYPE"); hostType != "" {
			raw += "-" + hostType
		}
	default:
		raw = runtime.GOOS + "-" + runtime.GOARCH
	}

	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:8]), nil
}
