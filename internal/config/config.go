package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"sync-profile/internal/source/opcua"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Sources        []SourceConfig `yaml:"sources"`
	WindowCapacity int            `yaml:"window_capacity"`
	Publish        PublishConfig  `yaml:"publish"`
	HTTP           HTTPConfig     `yaml:"http"`
	Redis          RedisConfig    `yaml:"redis"`
	OPCUA          opcua.Config   `yaml:"opcua"`
	Log            LogConfig      `yaml:"log"`
}

// SourceConfig names a monitored source. NodeID is only used by the OPC UA
// collector and defaults to Name.
type SourceConfig struct {
	Name   string `yaml:"name"`
	NodeID string `yaml:"node_id"`
}

type PublishConfig struct {
	QueueSize   int           `yaml:"queue_size"`
	SinkTimeout time.Duration `yaml:"sink_timeout"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// RedisConfig enables the Redis sink when Addr is set.
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads a YAML file. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return &cfg, nil
}

// Finalize applies overrides from the environment and the command line, fills
// defaults and validates the result. Positional source names replace the
// configured list.
func (c *Config) Finalize(sourceNames []string) error {
	if len(sourceNames) > 0 {
		c.Sources = c.Sources[:0]
		for _, n := range sourceNames {
			c.Sources = append(c.Sources, SourceConfig{Name: n})
		}
	}
	c.applyEnv()
	c.applyDefaults()
	return c.validate()
}

func (c *Config) applyEnv() {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
	}
	if port := os.Getenv("PORT"); port != "" {
		c.HTTP.Addr = ":" + port
	}
}

func (c *Config) applyDefaults() {
	if c.WindowCapacity <= 0 {
		c.WindowCapacity = 100
	}
	if c.Publish.QueueSize <= 0 {
		c.Publish.QueueSize = 10_000
	}
	if c.Publish.SinkTimeout <= 0 {
		c.Publish.SinkTimeout = 2 * time.Second
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "pv:"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	for i := range c.Sources {
		if c.Sources[i].NodeID == "" {
			c.Sources[i].NodeID = c.Sources[i].Name
		}
	}
	if c.OPCUA.Enabled() {
		c.OPCUA.ApplyDefaults()
	}
}

func (c *Config) validate() error {
	if len(c.Sources) == 0 {
		return errors.New("at least one source must be configured")
	}
	seen := make(map[string]bool, len(c.Sources))
	for i, s := range c.Sources {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("sources[%d]: name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("sources[%d]: duplicate name %q", i, s.Name)
		}
		seen[s.Name] = true
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if c.OPCUA.Enabled() {
		if err := c.OPCUA.Validate(); err != nil {
			return fmt.Errorf("opcua config: %w", err)
		}
	}
	return nil
}

// SourceNames returns the names in configuration order.
func (c *Config) SourceNames() []string {
	out := make([]string, len(c.Sources))
	for i, s := range c.Sources {
		out[i] = s.Name
	}
	return out
}

// Nodes maps the configured sources to OPC UA monitored items.
func (c *Config) Nodes() []opcua.Node {
	out := make([]opcua.Node, len(c.Sources))
	for i, s := range c.Sources {
		out[i] = opcua.Node{NodeID: s.NodeID, Source: s.Name}
	}
	return out
}

func (c *Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}
