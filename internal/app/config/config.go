package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/channelaccess/snapshot/internal/adapters/opcua"
)

// EnvPrefix marks environment overrides. Double underscores separate
// sections: PVSNAP_OPCUA__ENDPOINT sets opcua.endpoint.
const EnvPrefix = "PVSNAP_"

const (
	TransportOPCUA = "opcua"
	TransportSim   = "sim"
)

type Config struct {
	Transport     string            `yaml:"transport"`
	Timeout       time.Duration     `yaml:"timeout"`
	MaxConcurrent int               `yaml:"max_concurrent"`
	Macros        map[string]string `yaml:"macros"`
	Restore       RestoreConfig     `yaml:"restore"`
	OPCUA         opcua.Config      `yaml:"opcua"`
	Sim           SimConfig         `yaml:"sim"`
	Metrics       MetricsConfig     `yaml:"metrics"`
	Journal       JournalConfig     `yaml:"journal"`
	Audit         AuditConfig       `yaml:"audit"`
	Log           LogConfig         `yaml:"log"`
}

type RestoreConfig struct {
	SkipEqual bool `yaml:"skip_equal"`
}

// SimConfig describes the PVs served by the in-memory transport.
type SimConfig struct {
	PVs []SimPV `yaml:"pvs"`
}

type SimPV struct {
	Name        string        `yaml:"name"`
	Value       any           `yaml:"value"`
	Delay       time.Duration `yaml:"delay"`
	Unreachable bool          `yaml:"unreachable"`
}

type MetricsConfig struct {
	// Addr serves /metrics while the engine is open; empty disables it.
	Addr string `yaml:"addr"`
	// Textfile is rewritten after every operation when set.
	Textfile string `yaml:"textfile"`
}

type JournalConfig struct {
	Dir string `yaml:"dir"`
}

type AuditConfig struct {
	ConnString string `yaml:"conn_string"`
	Table      string `yaml:"table"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load reads the YAML file at path (optional) and applies environment
// overrides on top.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	envTransformer := func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "__", ".")
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformer), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a validated-ready configuration for the sim transport.
func Default() *Config {
	cfg := &Config{Transport: TransportSim}
	cfg.ApplyDefaults()
	return cfg
}

func (c *Config) ApplyDefaults() {
	if c.Transport == "" {
		c.Transport = TransportOPCUA
	}
	c.Transport = strings.ToLower(c.Transport)
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.Audit.Table == "" {
		c.Audit.Table = "pvsnap_operations"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	if c.Transport == TransportOPCUA {
		c.OPCUA.ApplyDefaults()
	}
}

func (c *Config) Validate() error {
	switch c.Transport {
	case TransportOPCUA:
		if err := c.OPCUA.Validate(); err != nil {
			return fmt.Errorf("opcua config: %w", err)
		}
	case TransportSim:
		for i, pv := range c.Sim.PVs {
			if pv.Name == "" {
				return fmt.Errorf("sim.pvs[%d].name is required", i)
			}
		}
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxConcurrent < 0 {
		return fmt.Errorf("max_concurrent must not be negative")
	}
	return nil
}
