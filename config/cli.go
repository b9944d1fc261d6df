package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// CLIConfig is the offline client's per-repository configuration, stored
// as .codemirror.toml in the repository root.
type CLIConfig struct {
	ServerURL   string        `toml:"server_url"`
	UserID      string        `toml:"user_id"`
	Depth       string        `toml:"depth"`
	AutoSync    bool          `toml:"auto_sync"`
	SyncTimeout time.Duration `toml:"sync_timeout"`
	// KeepRuns bounds how many past runs the offline cache retains per repo.
	KeepRuns int `toml:"keep_runs"`
}

// CLIConfigName is the per-repo config filename the client looks for.
const CLIConfigName = ".codemirror.toml"

// DefaultCLIConfig returns the client defaults used when no config file
// exists.
func DefaultCLIConfig() *CLIConfig {
	return &CLIConfig{
		ServerURL:   "http://localhost:8080",
		Depth:       "standard",
		AutoSync:    false,
		SyncTimeout: 30 * time.Second,
		KeepRuns:    10,
	}
}

// LoadCLIConfig reads the repo-local config, falling back to defaults when
// the file does not exist.
func LoadCLIConfig(repoPath string) (*CLIConfig, error) {
	cfg := DefaultCLIConfig()

	data, err := os.ReadFile(filepath.Join(repoPath, CLIConfigName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", CLIConfigName, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", CLIConfigName, err)
	}
	return cfg, nil
}

// SaveCLIConfig writes the config back to the repository root.
func SaveCLIConfig(repoPath string, cfg *CLIConfig) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	path := filepath.Join(repoPath, CLIConfigName)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
