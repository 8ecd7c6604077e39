package conn

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration decodes yaml values given either as Go duration strings
// ("30s", "1.5m") or as plain numbers of seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("conn: invalid duration: %w", err)
	}
	if v, err := time.ParseDuration(s); err == nil {
		*d = Duration(v)
		return nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		*d = Duration(time.Duration(secs * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("conn: invalid duration %q", s)
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// BreakerConfig holds the circuit-breaker policy shared by all named
// breakers of a connection.
type BreakerConfig struct {
	// FailureThreshold is the number of failures inside Window that
	// trips a breaker open.
	FailureThreshold int `yaml:"failure_threshold"`

	// Window bounds how long a recorded failure stays relevant.
	Window Duration `yaml:"window"`

	// CoolDown is how long an open breaker rejects calls before it
	// admits trial traffic.
	CoolDown Duration `yaml:"cool_down"`

	// HalfOpenMax is the number of trial calls admitted while
	// half-open.
	HalfOpenMax int `yaml:"half_open_max"`
}

// Config describes a connection. The zero value is not usable; apply
// defaults with withDefaults or start from DefaultConfig.
type Config struct {
	Dialect string `yaml:"dialect"`
	DSN     string `yaml:"dsn"`

	// QueryTimeout is the per-operation time budget. A batch shares a
	// single budget across all of its statements.
	QueryTimeout Duration `yaml:"query_timeout"`

	// SlowThreshold marks the latency above which an operation is
	// logged and counted as slow.
	SlowThreshold Duration `yaml:"slow_threshold"`

	// MaxInFlight caps concurrently executing statements. Acquiring a
	// slot is bounded by a fraction of the query timeout; failing to
	// acquire yields an ExhaustedError without touching the backend.
	MaxInFlight int64 `yaml:"max_in_flight"`

	// StatementCacheSize bounds the prepared-statement LRU cache.
	StatementCacheSize int `yaml:"statement_cache_size"`

	Breaker BreakerConfig `yaml:"breaker"`

	// Breakers optionally shares a breaker group across connections.
	// When nil each connection gets a private group.
	Breakers *BreakerGroup `yaml:"-"`

	// Logger defaults to slog.Default.
	Logger *slog.Logger `yaml:"-"`
}

// DefaultConfig returns a Config with the standard defaults and no
// dialect or DSN set.
func DefaultConfig() *Config {
	c := &Config{}
	c.withDefaults()
	return c
}

func (c *Config) withDefaults() {
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = Duration(60 * time.Second)
	}
	if c.SlowThreshold <= 0 {
		c.SlowThreshold = Duration(200 * time.Millisecond)
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = 64
	}
	if c.StatementCacheSize <= 0 {
		c.StatementCacheSize = 256
	}
	if c.Breaker.FailureThreshold <= 0 {
		c.Breaker.FailureThreshold = 5
	}
	if c.Breaker.Window <= 0 {
		c.Breaker.Window = Duration(60 * time.Second)
	}
	if c.Breaker.CoolDown <= 0 {
		c.Breaker.CoolDown = Duration(30 * time.Second)
	}
	if c.Breaker.HalfOpenMax <= 0 {
		c.Breaker.HalfOpenMax = 1
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// LoadConfig reads a yaml connection config from path and fills in
// defaults for anything unset.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("conn: read config: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("conn: parse config: %w", err)
	}
	c.withDefaults()
	return &c, nil
}
