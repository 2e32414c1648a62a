package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultRetention     = "168h"
	defaultPreviewLength = 50
)

type Config struct {
	ServerURL     string `yaml:"server_url"`
	DisplayName   string `yaml:"display_name"`
	Color         string `yaml:"color"`
	Retention     string `yaml:"retention"`
	PreviewLength int    `yaml:"preview_length"`
}

func NewConfig(serverURL, displayName, color string) (*Config, error) {
	cfg := &Config{
		ServerURL:   serverURL,
		DisplayName: displayName,
		Color:       color,
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile loads a Config from a YAML file.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server URL cannot be empty")
	}

	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("parse server URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("server URL scheme must be ws or wss, got %q", u.Scheme)
	}

	if c.DisplayName == "" {
		return fmt.Errorf("display name cannot be empty")
	}

	if c.Retention == "" {
		c.Retention = defaultRetention
	}
	if _, err := time.ParseDuration(c.Retention); err != nil {
		return fmt.Errorf("parse retention: %w", err)
	}

	if c.PreviewLength <= 0 {
		c.PreviewLength = defaultPreviewLength
	}
	return nil
}

// RetentionWindow returns the parsed message retention duration. Config
// validation guarantees the value parses.
func (c *Config) RetentionWindow() time.Duration {
	d, _ := time.ParseDuration(c.Retention)
	return d
}
