// Package config loads service configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all service settings.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Model     ModelConfig     `yaml:"model"`
	Storage   StorageConfig   `yaml:"storage"`
	Simulator SimulatorConfig `yaml:"simulator"`
	Live      LiveConfig      `yaml:"live"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"` // HTTP listen address, e.g. ":5000"
}

type ModelConfig struct {
	BundleDir    string `yaml:"bundle_dir"`    // directory holding trained model artifacts
	DefaultModel string `yaml:"default_model"` // model when a request names none
	Seed         int64  `yaml:"seed"`          // training seed
}

type StorageConfig struct {
	DatabasePath string `yaml:"database_path"` // SQLite file, ":memory:" for ephemeral
}

type SimulatorConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Interval Duration `yaml:"interval"`
	Seed     int64    `yaml:"seed"` // 0 means time-based
}

// Duration adds YAML support for values like "2s" or "500ms".
type Duration time.Duration

// UnmarshalYAML accepts a Go duration string or a bare number of seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs float64
	if err := value.Decode(&secs); err != nil {
		return fmt.Errorf("invalid duration %q", value.Value)
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type LiveConfig struct {
	Buffer int `yaml:"buffer"` // per-subscriber channel capacity
}

// Default returns the configuration used when no file or overrides exist.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":5000"},
		Model: ModelConfig{
			BundleDir:    "models",
			DefaultModel: "random_forest",
			Seed:         42,
		},
		Storage:   StorageConfig{DatabasePath: "alerts.db"},
		Simulator: SimulatorConfig{Enabled: true, Interval: Duration(5 * time.Second)},
		Live:      LiveConfig{Buffer: 16},
	}
}

// Load reads configuration from a YAML file and applies environment
// overrides on top. A missing file is not an error; defaults are used.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	applyDefaults(cfg)
	cfg.fromEnv()
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	d := Default()
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = d.Server.Addr
	}
	if cfg.Model.BundleDir == "" {
		cfg.Model.BundleDir = d.Model.BundleDir
	}
	if cfg.Model.DefaultModel == "" {
		cfg.Model.DefaultModel = d.Model.DefaultModel
	}
	if cfg.Model.Seed == 0 {
		cfg.Model.Seed = d.Model.Seed
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = d.Storage.DatabasePath
	}
	if cfg.Simulator.Interval <= 0 {
		cfg.Simulator.Interval = d.Simulator.Interval
	}
	if cfg.Live.Buffer <= 0 {
		cfg.Live.Buffer = d.Live.Buffer
	}
}

// fromEnv overrides settings from GOTHREATML_* environment variables.
func (c *Config) fromEnv() {
	c.Server.Addr = getEnv("GOTHREATML_ADDR", c.Server.Addr)
	c.Model.BundleDir = getEnv("GOTHREATML_BUNDLE_DIR", c.Model.BundleDir)
	c.Model.DefaultModel = getEnv("GOTHREATML_DEFAULT_MODEL", c.Model.DefaultModel)
	c.Model.Seed = getEnvInt64("GOTHREATML_SEED", c.Model.Seed)
	c.Storage.DatabasePath = getEnv("GOTHREATML_DB_PATH", c.Storage.DatabasePath)
	c.Simulator.Enabled = getEnvBool("GOTHREATML_SIMULATOR", c.Simulator.Enabled)
	c.Simulator.Interval = Duration(getEnvDuration("GOTHREATML_SIMULATOR_INTERVAL", c.Simulator.Interval.Std()))
	c.Simulator.Seed = getEnvInt64("GOTHREATML_SIMULATOR_SEED", c.Simulator.Seed)
	c.Live.Buffer = int(getEnvInt64("GOTHREATML_LIVE_BUFFER", int64(c.Live.Buffer)))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
