package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix namespaces environment overrides.
const EnvPrefix = "SHOP"

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Storage   StorageConfig   `yaml:"storage" envconfig:"STORAGE"`
	Device    DeviceConfig    `yaml:"device" envconfig:"DEVICE"`
	Trial     TrialConfig     `yaml:"trial" envconfig:"TRIAL"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
	Push      PushConfig      `yaml:"push" envconfig:"PUSH"`
	Paths     PathsConfig     `yaml:"paths" envconfig:"PATHS"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string          `yaml:"host" envconfig:"HOST" validate:"required"`
	Port            int             `yaml:"port" envconfig:"PORT" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration   `yaml:"read_timeout" envconfig:"READ_TIMEOUT" validate:"gt=0"`
	WriteTimeout    time.Duration   `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" validate:"gt=0"`
	IdleTimeout     time.Duration   `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" validate:"gt=0"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" validate:"gt=0"`
	ActivationPage  string          `yaml:"activation_page" envconfig:"ACTIVATION_PAGE" validate:"required,startswith=/,ne=/"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	// TrustProxy honors X-Forwarded-For and X-Real-IP when keying clients.
	// Leave off unless a reverse proxy sits in front of the server.
	TrustProxy      bool            `yaml:"trust_proxy" envconfig:"TRUST_PROXY"`
}

// RateLimitConfig limits license activation attempts per client address.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" validate:"gt=0"`
	Burst   int     `yaml:"burst" envconfig:"BURST" validate:"min=1"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn error"`
	Output   string `yaml:"output" envconfig:"OUTPUT" validate:"oneof=console file both"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" validate:"required_unless=Output console"`
}

// StorageConfig selects where the trial record and license are kept.
type StorageConfig struct {
	Driver string `yaml:"driver" envconfig:"DRIVER" validate:"oneof=sqlite memory"`
	Path   string `yaml:"path" envconfig:"DB_PATH" validate:"required_if=Driver sqlite"`
	// Seal encrypts and authenticates stored values with a device-bound key.
	Seal bool `yaml:"seal" envconfig:"SEAL"`
}

// DeviceConfig selects the device identity source.
type DeviceConfig struct {
	Source   string `yaml:"source" envconfig:"SOURCE" validate:"oneof=machineid fingerprint static"`
	AppID    string `yaml:"app_id" envconfig:"APP_ID"`
	StaticID string `yaml:"static_id" envconfig:"STATIC_ID" validate:"required_if=Source static"`
}

// TrialConfig contains the trial length.
type TrialConfig struct {
	Days int `yaml:"days" envconfig:"DAYS" validate:"min=1,max=365"`
}

// TelemetryConfig controls metrics and tracing.
type TelemetryConfig struct {
	ServiceName   string `yaml:"service_name" envconfig:"SERVICE_NAME" validate:"required"`
	Metrics       bool   `yaml:"metrics" envconfig:"METRICS"`
	Tracing       bool   `yaml:"tracing" envconfig:"TRACING"`
	TraceExporter string `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER" validate:"oneof=stdout none"`
}

// PushConfig controls the live entitlement websocket.
type PushConfig struct {
	Interval time.Duration `yaml:"interval" envconfig:"INTERVAL" validate:"gte=1s"`
}

// PathsConfig contains file system paths configuration
type PathsConfig struct {
	DataDir string `yaml:"data_dir" envconfig:"DATA_DIR" validate:"required"`
	WebDir  string `yaml:"web_dir" envconfig:"WEB_DIR" validate:"required"`
	LogsDir string `yaml:"logs_dir" envconfig:"LOGS_DIR" validate:"required"`
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			ActivationPage:  "/settings",
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     0.5,
				Burst:   5,
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Output:   "both",
			FilePath: "shopmgr.log",
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   "shop.db",
			Seal:   false,
		},
		Device: DeviceConfig{
			Source: "machineid",
		},
		Trial: TrialConfig{
			Days: 7,
		},
		Telemetry: TelemetryConfig{
			ServiceName:   "shopmgr",
			Metrics:       true,
			Tracing:       false,
			TraceExporter: "none",
		},
		Push: PushConfig{
			Interval: time.Minute,
		},
		Paths: PathsConfig{
			DataDir: "data",
			WebDir:  "web",
			LogsDir: "logs",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (or
// the first config.yaml found when path is empty) and SHOP_* environment
// variables, then resolves paths against the executable directory.
func Load(path string) (*Config, error) {
	paths, err := GetPaths()
	if err != nil {
		return nil, fmt.Errorf("failed to get paths: %w", err)
	}
	return load(path, paths.ExecutableDir)
}

func load(path, baseDir string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = findConfigFile(baseDir)
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	cfg.resolvePaths(baseDir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile overlays the YAML file onto c. Keys missing from the file keep
// their current values.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

// resolvePaths makes directories absolute against baseDir. Log and database
// files that are relative are placed under the logs and data directories.
func (c *Config) resolvePaths(baseDir string) {
	abs := func(p, dir string) string {
		if p == "" || filepath.IsAbs(p) || p == ":memory:" {
			return p
		}
		return filepath.Join(dir, p)
	}

	c.Paths.DataDir = abs(c.Paths.DataDir, baseDir)
	c.Paths.WebDir = abs(c.Paths.WebDir, baseDir)
	c.Paths.LogsDir = abs(c.Paths.LogsDir, baseDir)
	c.Logging.FilePath = abs(c.Logging.FilePath, c.Paths.LogsDir)
	c.Storage.Path = abs(c.Storage.Path, c.Paths.DataDir)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks c against its struct tags.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// Address returns host:port for the HTTP listener.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// findConfigFile returns the first config file found, or "".
func findConfigFile(baseDir string) string {
	locations := []string{
		filepath.Join(baseDir, "config.yaml"),
		filepath.Join(baseDir, "configs", "config.yaml"),
		"config.yaml",
		filepath.Join("configs", "config.yaml"),
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}
	return ""
}
