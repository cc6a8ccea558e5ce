package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMissingFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadParsesDurationStrings(t *testing.T) {
	path := writeFile(t, "pricecache.yaml", `
ttl_min: 120s
ttl_max: 4m
refresh_threshold: 45s
scheduler_interval: 10s
base_delay: 2s
quotas:
  marketdata: 3
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 120*time.Second, cfg.TTLMin)
	assert.Equal(t, 4*time.Minute, cfg.TTLMax)
	assert.Equal(t, 45*time.Second, cfg.RefreshThreshold)
	assert.Equal(t, 10*time.Second, cfg.SchedulerInterval)
	assert.Equal(t, 2*time.Second, cfg.BaseDelay)
	assert.Equal(t, map[string]int{"marketdata": 3}, cfg.Quotas)
	// Fields absent from the file keep their defaults.
	assert.Equal(t, Default().Port, cfg.Port)
	assert.Equal(t, Default().MaxRetries, cfg.MaxRetries)
}

func TestLoadParsesBareNumbersAsSeconds(t *testing.T) {
	path := writeFile(t, "pricecache.yaml", "ttl_min: 90\nttl_max: 180\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.TTLMin)
	assert.Equal(t, 180*time.Second, cfg.TTLMax)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("UPSTREAM_CREDENTIAL", "sekrit")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "sekrit", cfg.UpstreamCredential)
}

func TestValidateRejectsBadOrdering(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"ttl_max below ttl_min", func(c *Config) { c.TTLMax = c.TTLMin - time.Second }},
		{"refresh threshold above ttl_min", func(c *Config) { c.RefreshThreshold = c.TTLMin + time.Second }},
		{"scheduler interval at refresh threshold", func(c *Config) { c.SchedulerInterval = c.RefreshThreshold }},
		{"zero retries", func(c *Config) { c.MaxRetries = 0 }},
		{"negative quota", func(c *Config) { c.Quotas = map[string]int{"marketdata": -1} }},
		{"port out of range", func(c *Config) { c.Port = 70000 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateAllowsRefreshThresholdEqualTTLMin(t *testing.T) {
	// Degenerate but allowed: the scheduler simply refreshes every entry
	// on every tick.
	cfg := Default()
	cfg.RefreshThreshold = cfg.TTLMin
	cfg.SchedulerInterval = cfg.RefreshThreshold - time.Second
	assert.NoError(t, cfg.Validate())
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeFile(t, "bad.yaml", "ttl_min: [not a duration\n")
	_, err := Load(path)
	require.Error(t, err)
}
