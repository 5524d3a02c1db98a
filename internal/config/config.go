// ABOUTME: KPI configuration management with backend selection.
// ABOUTME: Handles settings, environment overrides, and the storage backend factory.

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/adrg/xdg"
	"github.com/harperreed/kpi/internal/charm"
	"github.com/harperreed/kpi/internal/storage"
	"github.com/joho/godotenv"
)

// Backends lists the supported storage backends.
var Backends = []string{"sqlite", "badger", "charm"}

// Config stores kpi tool configuration.
type Config struct {
	// Backend selects the storage backend: "sqlite" (default), "badger", or "charm".
	Backend string `json:"backend,omitempty"`

	// DataDir is the root directory for data storage.
	// SQLite puts kpi.db here, badger a badger/ folder. Supports ~ expansion.
	// Defaults to ~/.local/share/kpi.
	DataDir string `json:"data_dir,omitempty"`

	// LogMode is "quiet" (default), "dev", or "prod".
	LogMode string `json:"log_mode,omitempty"`

	// HTTPAddr is the listen address of `kpi serve`.
	HTTPAddr string `json:"http_addr,omitempty"`

	// PreviewMonths is the trailing window used by formula previews.
	PreviewMonths int `json:"preview_months,omitempty"`
}

// GetBackend returns the configured backend, defaulting to "sqlite".
func (c *Config) GetBackend() string {
	if c.Backend == "" {
		return "sqlite"
	}
	return c.Backend
}

// GetDataDir returns the configured data directory with ~ expanded,
// defaulting to the standard XDG data directory.
func (c *Config) GetDataDir() string {
	if c.DataDir == "" {
		return storage.DataDir()
	}
	return ExpandPath(c.DataDir)
}

// GetLogMode returns the log mode, defaulting to "quiet".
func (c *Config) GetLogMode() string {
	if c.LogMode == "" {
		return "quiet"
	}
	return c.LogMode
}

// GetHTTPAddr returns the HTTP listen address, defaulting to localhost:8420.
func (c *Config) GetHTTPAddr() string {
	if c.HTTPAddr == "" {
		return "127.0.0.1:8420"
	}
	return c.HTTPAddr
}

// GetPreviewMonths returns the preview window, defaulting to 3.
func (c *Config) GetPreviewMonths() int {
	if c.PreviewMonths <= 0 {
		return 3
	}
	return c.PreviewMonths
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if path == "" {
		return ""
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// OpenStorage creates a Repository implementation based on the configured backend.
func (c *Config) OpenStorage() (storage.Repository, error) {
	return c.OpenBackend(c.GetBackend())
}

// OpenBackend opens the named backend under the configured data directory.
func (c *Config) OpenBackend(backend string) (storage.Repository, error) {
	dataDir := c.GetDataDir()

	switch backend {
	case "sqlite":
		return storage.Open(filepath.Join(dataDir, "kpi.db"))
	case "badger":
		return storage.OpenBadgerStore(filepath.Join(dataDir, "badger"))
	case "charm":
		return charm.OpenStore(charm.DefaultDBName)
	default:
		return nil, fmt.Errorf("unknown backend: %q (want one of %s)", backend, strings.Join(Backends, ", "))
	}
}

// GetConfigPath returns the config file path.
func GetConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		configDir = xdg.ConfigHome
	}
	return filepath.Join(configDir, "kpi", "config.json")
}

// Load reads config from disk and applies KPI_* environment overrides.
// A .env file in the working directory is loaded first if present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}
	data, err := os.ReadFile(GetConfigPath())
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if backend := os.Getenv("KPI_BACKEND"); backend != "" {
		cfg.Backend = backend
	}
	if dir := os.Getenv("KPI_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}
	if mode := os.Getenv("KPI_LOG_MODE"); mode != "" {
		cfg.LogMode = mode
	}
	if addr := os.Getenv("KPI_HTTP_ADDR"); addr != "" {
		cfg.HTTPAddr = addr
	}
	if months := os.Getenv("KPI_PREVIEW_MONTHS"); months != "" {
		if n, err := strconv.Atoi(months); err == nil {
			cfg.PreviewMonths = n
		}
	}
}

// Save writes config to disk.
func (c *Config) Save() error {
	path := GetConfigPath()
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
