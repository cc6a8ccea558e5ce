// Package config resolves the core's tunables from a YAML file and process
// environment: load defaults, overlay the file, overlay the environment,
// then validate.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the service's operational tunables.
type Config struct {
	TTLMin             time.Duration  `yaml:"ttl_min"`
	TTLMax             time.Duration  `yaml:"ttl_max"`
	RefreshThreshold   time.Duration  `yaml:"refresh_threshold"`
	SchedulerInterval  time.Duration  `yaml:"scheduler_interval"`
	SeedOnStartup      bool           `yaml:"seed_on_startup"`
	RateLimitWindow    time.Duration  `yaml:"rate_limit_window"`
	Quotas             map[string]int `yaml:"quotas"` // upstream -> max requests per window
	MaxRetries         int            `yaml:"max_retries"`
	BaseDelay          time.Duration  `yaml:"base_delay"`
	Port               int            `yaml:"port"`
	UpstreamTimeout    time.Duration  `yaml:"upstream_timeout"`
	UpstreamCredential string         `yaml:"upstream_credential"`
	InboundRPS         float64        `yaml:"inbound_rps"`
	InboundBurst       int            `yaml:"inbound_burst"`
	FallbacksPath      string         `yaml:"fallbacks_path"`
	Circuit            CircuitConfig  `yaml:"circuit"`
}

// CircuitConfig configures the gobreaker put around each single attempt of a
// market-data adapter (one breaker per key).
type CircuitConfig struct {
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
	OpenTimeout         time.Duration `yaml:"open_timeout"`
}

// durationValue decodes "300s"-style strings, and bare numbers read as
// seconds, into a time.Duration. yaml.v3 has no native time.Duration
// handling for the string form.
type durationValue time.Duration

func (d *durationValue) UnmarshalYAML(value *yaml.Node) error {
	if parsed, err := time.ParseDuration(value.Value); err == nil {
		*d = durationValue(parsed)
		return nil
	}
	secs, err := strconv.ParseFloat(value.Value, 64)
	if err != nil {
		return fmt.Errorf("invalid duration %q", value.Value)
	}
	*d = durationValue(time.Duration(secs * float64(time.Second)))
	return nil
}

// UnmarshalYAML decodes over the Config's current values, so fields absent
// from the file keep their defaults.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	type rawCircuit struct {
		ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
		OpenTimeout         durationValue `yaml:"open_timeout"`
	}
	type rawConfig struct {
		TTLMin             durationValue  `yaml:"ttl_min"`
		TTLMax             durationValue  `yaml:"ttl_max"`
		RefreshThreshold   durationValue  `yaml:"refresh_threshold"`
		SchedulerInterval  durationValue  `yaml:"scheduler_interval"`
		SeedOnStartup      bool           `yaml:"seed_on_startup"`
		RateLimitWindow    durationValue  `yaml:"rate_limit_window"`
		Quotas             map[string]int `yaml:"quotas"`
		MaxRetries         int            `yaml:"max_retries"`
		BaseDelay          durationValue  `yaml:"base_delay"`
		Port               int            `yaml:"port"`
		UpstreamTimeout    durationValue  `yaml:"upstream_timeout"`
		UpstreamCredential string         `yaml:"upstream_credential"`
		InboundRPS         float64        `yaml:"inbound_rps"`
		InboundBurst       int            `yaml:"inbound_burst"`
		FallbacksPath      string         `yaml:"fallbacks_path"`
		Circuit            rawCircuit     `yaml:"circuit"`
	}

	raw := rawConfig{
		TTLMin:             durationValue(c.TTLMin),
		TTLMax:             durationValue(c.TTLMax),
		RefreshThreshold:   durationValue(c.RefreshThreshold),
		SchedulerInterval:  durationValue(c.SchedulerInterval),
		SeedOnStartup:      c.SeedOnStartup,
		RateLimitWindow:    durationValue(c.RateLimitWindow),
		Quotas:             c.Quotas,
		MaxRetries:         c.MaxRetries,
		BaseDelay:          durationValue(c.BaseDelay),
		Port:               c.Port,
		UpstreamTimeout:    durationValue(c.UpstreamTimeout),
		UpstreamCredential: c.UpstreamCredential,
		InboundRPS:         c.InboundRPS,
		InboundBurst:       c.InboundBurst,
		FallbacksPath:      c.FallbacksPath,
		Circuit: rawCircuit{
			ConsecutiveFailures: c.Circuit.ConsecutiveFailures,
			OpenTimeout:         durationValue(c.Circuit.OpenTimeout),
		},
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	*c = Config{
		TTLMin:             time.Duration(raw.TTLMin),
		TTLMax:             time.Duration(raw.TTLMax),
		RefreshThreshold:   time.Duration(raw.RefreshThreshold),
		SchedulerInterval:  time.Duration(raw.SchedulerInterval),
		SeedOnStartup:      raw.SeedOnStartup,
		RateLimitWindow:    time.Duration(raw.RateLimitWindow),
		Quotas:             raw.Quotas,
		MaxRetries:         raw.MaxRetries,
		BaseDelay:          time.Duration(raw.BaseDelay),
		Port:               raw.Port,
		UpstreamTimeout:    time.Duration(raw.UpstreamTimeout),
		UpstreamCredential: raw.UpstreamCredential,
		InboundRPS:         raw.InboundRPS,
		InboundBurst:       raw.InboundBurst,
		FallbacksPath:      raw.FallbacksPath,
		Circuit: CircuitConfig{
			ConsecutiveFailures: raw.Circuit.ConsecutiveFailures,
			OpenTimeout:         time.Duration(raw.Circuit.OpenTimeout),
		},
	}
	return nil
}

// Default returns the reference configuration.
func Default() Config {
	return Config{
		TTLMin:            300 * time.Second,
		TTLMax:            600 * time.Second,
		RefreshThreshold:  60 * time.Second,
		SchedulerInterval: 30 * time.Second,
		SeedOnStartup:     true,
		RateLimitWindow:   60 * time.Second,
		Quotas: map[string]int{
			"marketdata": 5,
		},
		MaxRetries:      5,
		BaseDelay:       16 * time.Second,
		Port:            3001,
		UpstreamTimeout: 5 * time.Second,
		InboundRPS:      50,
		InboundBurst:    100,
		FallbacksPath:   "configs/fallbacks.yaml",
		Circuit: CircuitConfig{
			ConsecutiveFailures: 3,
			OpenTimeout:         60 * time.Second,
		},
	}
}

// Load reads path (if non-empty and present) over the defaults, then applies
// the environment-variable overrides (PORT, UPSTREAM_CREDENTIAL), then
// validates.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: invalid: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	if v := os.Getenv("UPSTREAM_CREDENTIAL"); v != "" {
		cfg.UpstreamCredential = v
	}
}

// Validate enforces the ordering invariants the refresh-liveness guarantee
// depends on: scheduler_interval < refresh_threshold <= ttl_min.
func (c Config) Validate() error {
	if c.TTLMin <= 0 || c.TTLMax <= 0 {
		return fmt.Errorf("ttl_min and ttl_max must be positive")
	}
	if c.TTLMax < c.TTLMin {
		return fmt.Errorf("ttl_max (%s) must be >= ttl_min (%s)", c.TTLMax, c.TTLMin)
	}
	if c.RefreshThreshold > c.TTLMin {
		return fmt.Errorf("refresh_threshold (%s) must be <= ttl_min (%s)", c.RefreshThreshold, c.TTLMin)
	}
	if c.SchedulerInterval >= c.RefreshThreshold {
		return fmt.Errorf("scheduler_interval (%s) must be < refresh_threshold (%s)", c.SchedulerInterval, c.RefreshThreshold)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be >= 1")
	}
	if c.BaseDelay <= 0 {
		return fmt.Errorf("base_delay must be positive")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	for upstream, limit := range c.Quotas {
		if limit <= 0 {
			return fmt.Errorf("quota for %s must be positive, got %d", upstream, limit)
		}
	}
	return nil
}
