package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("file values override defaults", func(t *testing.T) {
		path := writeConfig(t, `
github:
  token: ghp_test
  hourly_quota: 1000
cache:
  eviction_policy: lfu
batch:
  parallelism: 4
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "ghp_test", cfg.GitHub.Token)
		assert.Equal(t, 1000, cfg.GitHub.HourlyQuota)
		assert.Equal(t, "lfu", cfg.Cache.EvictionPolicy)
		assert.Equal(t, 4, cfg.Batch.Parallelism)

		// Untouched fields keep their defaults.
		assert.Equal(t, 100, cfg.GitHub.PageSize)
		assert.Equal(t, "json", cfg.Output.Format)
		assert.True(t, cfg.Resources.PullRequests.Enabled)
	})

	t.Run("missing token fails validation", func(t *testing.T) {
		path := writeConfig(t, "github:\n  hourly_quota: 100\n")
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Token")
	})

	t.Run("bad eviction policy fails validation", func(t *testing.T) {
		path := writeConfig(t, "github:\n  token: x\ncache:\n  eviction_policy: random\n")
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("missing file errors", func(t *testing.T) {
		_, err := Load("/nonexistent/config.yaml")
		assert.Error(t, err)
	})
}

func TestValidateListsEveryFailingField(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.GitHub.Token = ""
	cfg.Output.Format = "xml"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GitHub.Token")
	assert.Contains(t, err.Error(), "Output.Format")
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("RS_GITHUB_TOKEN", "env-token")
	t.Setenv("RS_GITHUB_HOURLY_QUOTA", "2500")
	t.Setenv("RS_GITHUB_USE_GRAPHQL", "true")

	cfg := &Config{}
	ApplyDefaults(cfg)
	ApplyEnvOverrides(cfg)

	assert.Equal(t, "env-token", cfg.GitHub.Token)
	assert.Equal(t, 2500, cfg.GitHub.HourlyQuota)
	assert.True(t, cfg.GitHub.UseGraphQL)
}

func TestDurationHelpers(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	assert.Equal(t, "750ms", cfg.GitHub.MinSpacing().String())
	assert.Equal(t, "30s", cfg.GitHub.RequestTimeout().String())
	assert.Equal(t, "1h0m0s", cfg.Cache.TTL().String())
	assert.Equal(t, "1m0s", cfg.Cache.SweepInterval().String())
}

func TestRedacted(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.GitHub.Token = "ghp_secret"
	cfg.State.RedisURL = "redis://:password@localhost:6379/0"

	red := cfg.Redacted()
	assert.Equal(t, "****", red.GitHub.Token)
	assert.Equal(t, "****", red.State.RedisURL)
	// The original is untouched.
	assert.Equal(t, "ghp_secret", cfg.GitHub.Token)

	data, err := cfg.RedactedJSON()
	require.NoError(t, err)
	assert.NotContains(t, string(data), "ghp_secret")
	assert.NotContains(t, string(data), "password")
}
