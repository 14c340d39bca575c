package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models rideline.yml.
type Config struct {
	Dispatch struct {
		TaxiCapacity int `yaml:"taxi_capacity" json:"taxi_capacity"`
	} `yaml:"dispatch" json:"dispatch"`
	Drafts struct {
		AutosaveIntervalSeconds int `yaml:"autosave_interval_seconds" json:"autosave_interval_seconds"`
	} `yaml:"drafts" json:"drafts"`
	Gateway   GatewayConfig   `yaml:"gateway" json:"gateway"`
	Addresses AddressesConfig `yaml:"addresses" json:"addresses"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	Server    ServerConfig    `yaml:"server" json:"server"`
}

type GatewayConfig struct {
	// Mode is "http" for the remote request service or "memory" for an
	// in-process gateway that forgets everything on exit.
	Mode           string `yaml:"mode" json:"mode"`
	BaseURL        string `yaml:"base_url" json:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
	BearerToken    string `yaml:"bearer_token" json:"-"`
}

type AddressesConfig struct {
	// Source is "file" (employee directory YAML) or "http".
	Source        string `yaml:"source" json:"source"`
	DirectoryFile string `yaml:"directory_file" json:"directory_file"`
	BaseURL       string `yaml:"base_url" json:"base_url"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

type ServerConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	BasePath string `yaml:"base_path" json:"base_path"`
	// JWTSecret verifies HS256 bearer tokens. Usually set through
	// RIDELINE_JWT_SECRET rather than the file.
	JWTSecret    string `yaml:"jwt_secret" json:"-"`
	AuthDisabled bool   `yaml:"auth_disabled" json:"auth_disabled"`
}

// AutosaveInterval returns the draft autosave period.
func (c *Config) AutosaveInterval() time.Duration {
	return time.Duration(c.Drafts.AutosaveIntervalSeconds) * time.Second
}

// GatewayTimeout returns the request gateway HTTP timeout.
func (c *Config) GatewayTimeout() time.Duration {
	return time.Duration(c.Gateway.TimeoutSeconds) * time.Second
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Dispatch.TaxiCapacity <= 0 {
		return fmt.Errorf("config.dispatch.taxi_capacity must be positive")
	}
	if c.Drafts.AutosaveIntervalSeconds <= 0 {
		return fmt.Errorf("config.drafts.autosave_interval_seconds must be positive")
	}
	switch c.Gateway.Mode {
	case "http":
		if strings.TrimSpace(c.Gateway.BaseURL) == "" {
			return fmt.Errorf("config.gateway.base_url is required for mode http")
		}
	case "memory":
	default:
		return fmt.Errorf("config.gateway.mode must be 'http' or 'memory'")
	}
	if c.Gateway.TimeoutSeconds <= 0 {
		return fmt.Errorf("config.gateway.timeout_seconds must be positive")
	}
	switch c.Addresses.Source {
	case "file":
		if strings.TrimSpace(c.Addresses.DirectoryFile) == "" {
			return fmt.Errorf("config.addresses.directory_file is required for source file")
		}
	case "http":
		if strings.TrimSpace(c.Addresses.BaseURL) == "" {
			return fmt.Errorf("config.addresses.base_url is required for source http")
		}
	default:
		return fmt.Errorf("config.addresses.source must be 'file' or 'http'")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("config.logging.format must be 'json' or 'console'")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "rideline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with rl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing keys fall
// back to the defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `dispatch:
  taxi_capacity: 4

drafts:
  autosave_interval_seconds: 30

gateway:
  mode: http
  base_url: http://127.0.0.1:9090
  timeout_seconds: 10
  bearer_token: ""

addresses:
  source: file
  directory_file: employees.yml
  base_url: ""

logging:
  level: info
  format: json

server:
  addr: 127.0.0.1:8080
  base_path: /v0
  jwt_secret: ""
  auth_disabled: false
`
