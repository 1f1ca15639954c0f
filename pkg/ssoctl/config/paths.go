package config

import (
	"os"
	"path/filepath"
)

const (
	defaultConfigDirName = "ssoctl"
	defaultConfigFile    = "config.yaml"
	defaultStateFile     = "state.json"
)

func DefaultConfigPath() string {
	if env := os.Getenv("SSOCTL_CONFIG"); env != "" {
		return env
	}
	base, err := os.UserConfigDir()
	if err == nil {
		return filepath.Join(base, defaultConfigDirName, defaultConfigFile)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".ssoctl", defaultConfigFile)
}

// DefaultStatePath locates the persisted auth state record. Per-profile
// records live side by side as state-<profile>.json.
func DefaultStatePath(profile string) string {
	if env := os.Getenv("SSOCTL_STATE"); env != "" {
		return env
	}
	name := defaultStateFile
	if profile != "" {
		name = "state-" + profile + ".json"
	}
	base, err := os.UserConfigDir()
	if err == nil {
		return filepath.Join(base, defaultConfigDirName, name)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".ssoctl", name)
}
