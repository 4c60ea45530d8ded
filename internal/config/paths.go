package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Paths contains the resolved application directories.
type Paths struct {
	ExecutableDir string
	DataDir       string
	WebDir        string
	StaticDir     string
	LogsDir       string
}

// GetPaths returns the default application paths relative to the executable
// location. Paths are always relative to the executable directory, never the
// current working directory.
func GetPaths() (*Paths, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get executable path: %w", err)
	}

	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve executable symlinks: %w", err)
	}

	return pathsFrom(filepath.Dir(exe)), nil
}

func pathsFrom(exeDir string) *Paths {
	// dist/
	//   ├── config.yaml
	//   ├── data/     (shop.db)
	//   ├── logs/
	//   └── web/
	return &Paths{
		ExecutableDir: exeDir,
		DataDir:       filepath.Join(exeDir, "data"),
		WebDir:        filepath.Join(exeDir, "web"),
		StaticDir:     filepath.Join(exeDir, "web", "static"),
		LogsDir:       filepath.Join(exeDir, "logs"),
	}
}

// Dirs returns the directories of a loaded configuration.
func (c *Config) Dirs() *Paths {
	exeDir := filepath.Dir(c.Paths.DataDir)
	if p, err := GetPaths(); err == nil {
		exeDir = p.ExecutableDir
	}
	return &Paths{
		ExecutableDir: exeDir,
		DataDir:       c.Paths.DataDir,
		WebDir:        c.Paths.WebDir,
		StaticDir:     filepath.Join(c.Paths.WebDir, "static"),
		LogsDir:       c.Paths.LogsDir,
	}
}

// EnsureDirectories creates the data and logs directories. The web directory
// is shipped with the application and is not created.
func (p *Paths) EnsureDirectories() error {
	for _, dir := range []string{p.DataDir, p.LogsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
		slog.Debug("Ensured directory exists", slog.String("directory", dir))
	}
	return nil
}

// LogPathResolution logs the resolved directories.
func (p *Paths) LogPathResolution(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("Path resolution summary",
		slog.Group("directories",
			slog.String("executable", p.ExecutableDir),
			slog.String("data", p.DataDir),
			slog.String("logs", p.LogsDir),
			slog.String("web", p.WebDir),
		))
}
