// Package config stores lpctl profiles: which CDC deployment a command talks to.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

const (
	defaultOpsURL        = "http://localhost:8080"
	defaultServiceConfig = "./config.yaml"
)

type Config struct {
	CurrentProfile string              `yaml:"current_profile"`
	Profiles       map[string]*Profile `yaml:"profiles"`
	Defaults       *Profile            `yaml:"defaults"`
	path           string
}

// Profile points at one deployment. OpsURL serves /status and friends;
// ServiceConfig is the service's own config file, used by commands that open
// its stores directly.
type Profile struct {
	OpsURL        string `yaml:"ops_url"`
	ServiceConfig string `yaml:"service_config"`
}

func Default() *Config {
	return &Config{
		CurrentProfile: "default",
		Profiles:       make(map[string]*Profile),
		Defaults: &Profile{
			OpsURL:        defaultOpsURL,
			ServiceConfig: defaultServiceConfig,
		},
	}
}

// DefaultPath is ~/.lpctl/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".lpctl", "config.yaml"), nil
}

func Load(cfgFile string) (*Config, error) {
	if cfgFile == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		cfgFile = p
	}

	cfg := Default()
	cfg.path = cfgFile

	data, err := os.ReadFile(cfgFile)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", cfgFile, err)
		}
	}
	if cfg.Profiles == nil {
		cfg.Profiles = make(map[string]*Profile)
	}
	if cfg.Defaults == nil {
		cfg.Defaults = Default().Defaults
	}

	if v := os.Getenv("LPCTL_OPS_URL"); v != "" {
		cfg.Defaults.OpsURL = v
	}
	if v := os.Getenv("LPCTL_SERVICE_CONFIG"); v != "" {
		cfg.Defaults.ServiceConfig = v
	}

	return cfg, nil
}

func (c *Config) Save() error {
	if c.path == "" {
		p, err := DefaultPath()
		if err != nil {
			return err
		}
		c.path = p
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0700); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(c.path, data, 0600)
}

// SaveProfile stores p under name and makes it current.
func (c *Config) SaveProfile(name string, p *Profile) error {
	if c.Profiles == nil {
		c.Profiles = make(map[string]*Profile)
	}
	c.Profiles[name] = p
	c.CurrentProfile = name
	return c.Save()
}

func (c *Config) GetProfile(name string) (*Profile, error) {
	if name == "" {
		name = c.CurrentProfile
	}

	profile, ok := c.Profiles[name]
	if !ok {
		return nil, fmt.Errorf("profile '%s' not found", name)
	}

	return profile, nil
}

// Resolve returns the named profile with empty fields filled from Defaults.
// An unknown name resolves to Defaults alone.
func (c *Config) Resolve(name string) Profile {
	out := Profile{}
	if c.Defaults != nil {
		out = *c.Defaults
	}
	p, err := c.GetProfile(name)
	if err != nil {
		return out
	}
	if p.OpsURL != "" {
		out.OpsURL = p.OpsURL
	}
	if p.ServiceConfig != "" {
		out.ServiceConfig = p.ServiceConfig
	}
	return out
}

// ProfileNames lists profiles in name order.
func (c *Config) ProfileNames() []string {
	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Config) RemoveProfile(name string) error {
	if _, ok := c.Profiles[name]; !ok {
		return fmt.Errorf("profile '%s' not found", name)
	}

	delete(c.Profiles, name)

	if c.CurrentProfile == name {
		c.CurrentProfile = ""
	}

	return c.Save()
}
