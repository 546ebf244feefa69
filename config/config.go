// Package config loads the market server configuration from TOML.
package config

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/xerrors"

	"github.com/Godyy/go-market/market"
)

// Duration is a time.Duration decoded from strings like "30s".
type Duration time.Duration

// UnmarshalText implements interface for TOML decoding
func (dur *Duration) UnmarshalText(text []byte) error {
	d, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*dur = Duration(d)
	return err
}

func (dur Duration) MarshalText() ([]byte, error) {
	d := time.Duration(dur)
	return []byte(d.String()), nil
}

type Config struct {
	Server   ServerConfig
	Metrics  MetricsConfig
	Logging  LoggingConfig
	Services []ServiceConfig
}

type ServerConfig struct {
	// Network is one of tcp, tcp4 or tcp6.
	Network       string
	ListenAddress string

	SendBufferSize    int
	ReceiveBufferSize int
	// MaxMessageSize bounds one request in bytes. 0 means unbounded.
	MaxMessageSize int

	// IdleGrace closes sessions with nothing pending after this long. 0
	// keeps them open.
	IdleGrace    Duration
	IdleInterval Duration

	// FinalizePeriods makes end_period close the offering period.
	FinalizePeriods bool
}

type MetricsConfig struct {
	// ListenAddress serves /metrics when set.
	ListenAddress string
	Namespace     string
}

type LoggingConfig struct {
	// Level applies to every subsystem.
	Level string
	// Subsystems overrides the level per logger name.
	Subsystems map[string]string
}

type ServiceConfig struct {
	ID       string
	Name     string
	Resource string
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Network:           "tcp",
			ListenAddress:     "0.0.0.0:5555",
			SendBufferSize:    8192,
			ReceiveBufferSize: 8192,
			IdleInterval:      Duration(250 * time.Millisecond),
		},
		Metrics: MetricsConfig{
			Namespace: "market",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads path on top of the defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := FromReader(f, Default())
	if err != nil {
		return nil, xerrors.Errorf("load %s: %w", path, err)
	}
	return cfg, nil
}

// FromReader decodes TOML from r on top of def. Unknown keys are rejected.
func FromReader(r io.Reader, def *Config) (*Config, error) {
	cfg := *def
	meta, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return nil, xerrors.Errorf("decode config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, xerrors.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	switch c.Server.Network {
	case "tcp", "tcp4", "tcp6":
	default:
		result = multierror.Append(result, xerrors.Errorf("Server.Network: unknown network %q", c.Server.Network))
	}
	if c.Server.ListenAddress == "" {
		result = multierror.Append(result, xerrors.New("Server.ListenAddress: empty"))
	}
	if c.Server.SendBufferSize <= 0 {
		result = multierror.Append(result, xerrors.New("Server.SendBufferSize: must be positive"))
	}
	if c.Server.ReceiveBufferSize <= 0 {
		result = multierror.Append(result, xerrors.New("Server.ReceiveBufferSize: must be positive"))
	}
	if c.Server.MaxMessageSize < 0 {
		result = multierror.Append(result, xerrors.New("Server.MaxMessageSize: negative"))
	}
	if c.Server.IdleGrace < 0 {
		result = multierror.Append(result, xerrors.New("Server.IdleGrace: negative"))
	}

	seen := make(map[string]bool, len(c.Services))
	for i, s := range c.Services {
		if s.ID == "" {
			result = multierror.Append(result, xerrors.Errorf("Services[%d]: empty ID", i))
			continue
		}
		if seen[s.ID] {
			result = multierror.Append(result, xerrors.Errorf("Services[%d]: duplicate ID %q", i, s.ID))
		}
		seen[s.ID] = true
	}
	return result.ErrorOrNil()
}

// MarketServices returns the configured services for a registry.
func (c *Config) MarketServices() []*market.Service {
	out := make([]*market.Service, len(c.Services))
	for i, s := range c.Services {
		out[i] = &market.Service{ID: s.ID, Name: s.Name, Resource: s.Resource}
	}
	return out
}
