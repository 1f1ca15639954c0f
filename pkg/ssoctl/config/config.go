package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"
)

const (
	VersionV1 = "v1"
)

// Config is the user-edited profile file. Secrets never live here; they go
// through the state record and the credential cipher.
type Config struct {
	Version        string    `yaml:"version"`
	CurrentProfile string    `yaml:"current-profile,omitempty"`
	Profiles       []Profile `yaml:"profiles,omitempty"`
	Settings       Settings  `yaml:"settings,omitempty"`
}

type Settings struct {
	OutputFormat string `yaml:"output-format,omitempty"`
	Browser      string `yaml:"browser,omitempty"`
}

// Profile names one identity portal.
type Profile struct {
	Name                  string `yaml:"name"`
	StartURL              string `yaml:"start-url"`
	Region                string `yaml:"region"`
	CAFile                string `yaml:"ca-file,omitempty"`
	InsecureSkipTLSVerify bool   `yaml:"insecure-skip-tls-verify,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		Version: VersionV1,
		Settings: Settings{
			OutputFormat: "table",
		},
	}
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Version == "" {
		cfg.Version = VersionV1
	}
	return &cfg, nil
}

func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if cfg.Version == "" {
		cfg.Version = VersionV1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	content, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, content, 0o600)
}

func (c *Config) FindProfile(name string) (*Profile, error) {
	for i := range c.Profiles {
		if c.Profiles[i].Name == name {
			return &c.Profiles[i], nil
		}
	}
	return nil, fmt.Errorf("profile not found: %s", name)
}

// SetProfile adds or replaces the named profile.
func (c *Config) SetProfile(profile Profile) {
	for i := range c.Profiles {
		if c.Profiles[i].Name == profile.Name {
			c.Profiles[i] = profile
			return
		}
	}
	c.Profiles = append(c.Profiles, profile)
}

func (c *Config) CurrentProfileOrDefault() string {
	if c.CurrentProfile != "" {
		return c.CurrentProfile
	}
	if len(c.Profiles) > 0 {
		return c.Profiles[0].Name
	}
	return ""
}

func (c *Config) Validate() error {
	if c.Version == "" {
		return errors.New("config version missing")
	}
	for _, p := range c.Profiles {
		if strings.TrimSpace(p.Name) == "" {
			return errors.New("profile name cannot be empty")
		}
		if strings.TrimSpace(p.StartURL) == "" {
			return fmt.Errorf("profile %s start-url is required", p.Name)
		}
		if strings.TrimSpace(p.Region) == "" {
			return fmt.Errorf("profile %s region is required", p.Name)
		}
	}
	return nil
}
