package config

import (
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Storage   StorageConfig   `toml:"storage"`
	Server    ServerConfig    `toml:"server"`
	Highlight HighlightConfig `toml:"highlight"`
	Logging   LoggingConfig   `toml:"logging"`
	Verify    VerifyConfig    `toml:"verify"`
}

type StorageConfig struct {
	Driver  string `toml:"driver"`
	DSN     string `toml:"dsn"`
	Timeout string `toml:"timeout"`
}

type ServerConfig struct {
	Addr          string `toml:"addr"`
	UserAgent     string `toml:"user_agent"`
	FetchTimeout  string `toml:"fetch_timeout"`
	RespectRobots bool   `toml:"respect_robots"`
}

type HighlightConfig struct {
	DefaultColor string `toml:"default_color"`
	PositionMode string `toml:"position_mode"`
	BaseZ        int    `toml:"base_z"`
}

// VerifyConfig controls re-checking stored pages against their live copy.
type VerifyConfig struct {
	Workers int    `toml:"workers"`
	Delay   string `toml:"delay"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns the configuration used when no file overrides a field.
func Default() *Config {
	var cfg Config
	cfg.Storage.Driver = "sqlite"
	cfg.Storage.DSN = "hilight.db"
	cfg.Storage.Timeout = "5s"
	cfg.Server.Addr = ":8080"
	cfg.Server.UserAgent = "hilight/1.0"
	cfg.Server.FetchTimeout = "10s"
	cfg.Server.RespectRobots = true
	cfg.Highlight.DefaultColor = "#ffff00"
	cfg.Highlight.PositionMode = "follow"
	cfg.Highlight.BaseZ = 10
	cfg.Verify.Workers = 4
	cfg.Verify.Delay = "1s"
	cfg.Logging.Format = "text"
	cfg.Logging.Level = "info"
	return &cfg
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()

	err := toml.Unmarshal(data, cfg)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *StorageConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 5 * time.Second // Fallback
	}
	return d
}

func (c *ServerConfig) GetFetchTimeout() time.Duration {
	d, err := time.ParseDuration(c.FetchTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// GetDelay is the pause between two fetches from the same host.
func (c *VerifyConfig) GetDelay() time.Duration {
	d, err := time.ParseDuration(c.Delay)
	if err != nil {
		return time.Second
	}
	return d
}
