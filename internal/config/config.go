package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

const (
	BackendLocal = "local"
	BackendS3    = "s3"
)

// Config models navigator.yml.
type Config struct {
	Catalog struct {
		Workspace string `yaml:"workspace"`
	} `yaml:"catalog"`
	Taxonomy struct {
		// File overlays the built-in taxonomies when set.
		File string `yaml:"file"`
	} `yaml:"taxonomy"`
	Artifacts struct {
		Backend   string `yaml:"backend"`
		Dir       string `yaml:"dir"`
		Bucket    string `yaml:"bucket"`
		Prefix    string `yaml:"prefix"`
		Region    string `yaml:"region"`
		Endpoint  string `yaml:"endpoint"`
		PathStyle bool   `yaml:"path_style"`
	} `yaml:"artifacts"`
	Export struct {
		CDNBaseURL string `yaml:"cdn_base_url"`
	} `yaml:"export"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Log struct {
		Level string `yaml:"level"`
		Dev   bool   `yaml:"dev"`
	} `yaml:"log"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WithHint(errors.Newf("config %s not found", path), "write one with nav config init")
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Artifacts.Backend {
	case BackendLocal:
		if c.Artifacts.Dir == "" {
			return errors.New("config.artifacts.dir is required for the local backend")
		}
	case BackendS3:
		if c.Artifacts.Bucket == "" {
			return errors.New("config.artifacts.bucket is required for the s3 backend")
		}
	default:
		return errors.Newf("config.artifacts.backend must be %q or %q", BackendLocal, BackendS3)
	}
	if c.Export.CDNBaseURL != "" && !strings.HasPrefix(c.Export.CDNBaseURL, "http") {
		return errors.Newf("config.export.cdn_base_url %q is not an http url", c.Export.CDNBaseURL)
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return errors.New("config.server.base_path must start with /")
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return errors.Newf("config.log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "navigator.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Omitted
// sections keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "invalid config yaml")
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

const defaultTemplate = `catalog:
  workspace: .

taxonomy:
  file: ""

artifacts:
  backend: local
  dir: .navigator/artifacts
  prefix: ingest

export:
  cdn_base_url: ""

server:
  addr: 127.0.0.1:8080
  base_path: /v0

log:
  level: info
  dev: false
`
