package config

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(APIKeyEnv, "")

	cfg, err := Load(afero.NewMemMapFs(), "")
	require.NoError(t, err)

	assert.Equal(t, 1500*time.Millisecond, cfg.Timeout.Std())
	assert.Equal(t, 64, cfg.Workers)
	assert.Equal(t, 1, cfg.HostLimit)
	assert.Equal(t, 30*time.Second, cfg.Cooldown.Std())
	assert.Equal(t, 20, cfg.KeywordLimit)
	assert.Equal(t, "text", cfg.Format)
	assert.Empty(t, cfg.CachePath)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFile(t *testing.T) {
	t.Setenv(APIKeyEnv, "")

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/vulnscan.yaml", []byte(`
targets: [10.0.0.0/30, db.internal]
ports: 22,80,443
timeout: 3s
workers: 16
host_parallelism: 4
enrich: true
nvd_api_key: from-file
osv_rps: 5
cache_path: /tmp/cve.db
cache_max_age: 24h
format: json
fail_on: high
`), 0o644))

	cfg, err := Load(fs, "/etc/vulnscan.yaml")
	require.NoError(t, err)

	assert.Equal(t, []string{"10.0.0.0/30", "db.internal"}, cfg.Targets)
	assert.Equal(t, "22,80,443", cfg.Ports)
	assert.Equal(t, 3*time.Second, cfg.Timeout.Std())
	assert.Equal(t, 16, cfg.Workers)
	assert.Equal(t, 4, cfg.HostLimit)
	assert.True(t, cfg.Enrich)
	assert.Equal(t, "from-file", cfg.NVDAPIKey)
	assert.Equal(t, 5.0, cfg.OSVRate)
	assert.Equal(t, 24*time.Hour, cfg.CacheMaxAge.Std())
	assert.Equal(t, 30*time.Second, cfg.Cooldown.Std(), "unset keys keep defaults")
	assert.NoError(t, cfg.Validate())
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Setenv(APIKeyEnv, " env-key ")

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "c.yaml", []byte("nvd_api_key: from-file\n"), 0o644))

	cfg, err := Load(fs, "c.yaml")
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.NVDAPIKey)
}

func TestLoadErrors(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "bad.yaml", []byte("timeout: soon\n"), 0o644))

	_, err := Load(fs, "missing.yaml")
	assert.Error(t, err)

	_, err = Load(fs, "bad.yaml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero timeout", func(c *Config) { c.Timeout = 0 }},
		{"no workers", func(c *Config) { c.Workers = 0 }},
		{"no host parallelism", func(c *Config) { c.HostLimit = 0 }},
		{"negative rate", func(c *Config) { c.MITRERate = -1 }},
		{"format", func(c *Config) { c.Format = "xml" }},
		{"fail-on", func(c *Config) { c.FailOn = "urgent" }},
		{"sub-second cache age", func(c *Config) { c.CacheMaxAge = Duration(500 * time.Millisecond) }},
		{"negative cache age", func(c *Config) { c.CacheMaxAge = Duration(-time.Hour) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateCacheAge(t *testing.T) {
	cfg := Default()
	cfg.CacheMaxAge = 0
	assert.NoError(t, cfg.Validate())

	cfg.CacheMaxAge = Duration(time.Second)
	assert.NoError(t, cfg.Validate())
}
