package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"
)

// AppDirectoryName is the per-user application data directory name.
const AppDirectoryName = "remotesupportctl"

const configFileName = "config.json"

// Config is the small set of operator-editable settings this CLI needs
// beyond what settings.Store persists: where to connect, who's
// operating it, and where files land on disk.
type Config struct {
	SessionID   string `json:"session_id"`
	Technician  string `json:"technician"`
	PortalURL   string `json:"portal_url"`
	DownloadDir string `json:"download_dir"`
	SharedRoot  string `json:"shared_root"`
}

// ResolveDataDir returns the OS-aware app data directory, honoring an
// explicit override via REMOTESUPPORTCTL_DATA_DIR.
func ResolveDataDir() (string, error) {
	if override := os.Getenv("REMOTESUPPORTCTL_DATA_DIR"); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.json for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// LoadOrCreate reads config.json from dataDir, creating a default one
// (with a freshly generated session id) if none exists yet.
func LoadOrCreate(dataDir string) (*Config, string, error) {
	path := ConfigPath(dataDir)

	raw, err := os.ReadFile(path)
	if err == nil {
		var cfg Config
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, path, fmt.Errorf("parse config: %w", err)
		}
		return &cfg, path, nil
	}
	if !os.IsNotExist(err) {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{
		SessionID:   uuid.NewString(),
		Technician:  "operator",
		PortalURL:   "ws://localhost:8080/control",
		DownloadDir: filepath.Join(dataDir, "downloads"),
		SharedRoot:  filepath.Join(dataDir, "shared"),
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, path, fmt.Errorf("create data directory: %w", err)
	}
	if err := Save(path, cfg); err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// Save marshals and writes config.json to disk.
func Save(path string, cfg *Config) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
