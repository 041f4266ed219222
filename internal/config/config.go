// Package config provides configuration loading, validation, and defaults for
// reposcribe.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for reposcribe.
type Config struct {
	Log       LogConfig       `yaml:"log"       json:"log"`
	GitHub    GitHubConfig    `yaml:"github"    json:"github"`
	Output    OutputConfig    `yaml:"output"    json:"output"`
	Cache     CacheConfig     `yaml:"cache"     json:"cache"`
	State     StateConfig     `yaml:"state"     json:"state"`
	Batch     BatchConfig     `yaml:"batch"     json:"batch"`
	Server    ServerConfig    `yaml:"server"    json:"server"`
	Resources ResourcesConfig `yaml:"resources" json:"resources"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"  json:"level"  env:"RS_LOG_LEVEL"  validate:"omitempty,oneof=trace debug info warn error fatal panic"`
	Format string `yaml:"format" json:"format" env:"RS_LOG_FORMAT" validate:"omitempty,oneof=text json"`
}

// GitHubConfig holds GitHub API connection settings.
type GitHubConfig struct {
	Token                 string `yaml:"token"                   json:"token"                   env:"RS_GITHUB_TOKEN"            validate:"required"`
	BaseURL               string `yaml:"base_url"                json:"base_url"                env:"RS_GITHUB_BASE_URL"         validate:"omitempty,url"`
	HourlyQuota           int    `yaml:"hourly_quota"            json:"hourly_quota"            env:"RS_GITHUB_HOURLY_QUOTA"     validate:"omitempty,min=1"`
	MaxConcurrent         int    `yaml:"max_concurrent"          json:"max_concurrent"          env:"RS_GITHUB_MAX_CONCURRENT"   validate:"omitempty,min=1"`
	MinSpacingMillis      int    `yaml:"min_spacing_ms"          json:"min_spacing_ms"          env:"RS_GITHUB_MIN_SPACING_MS"   validate:"omitempty,min=0"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds" json:"request_timeout_seconds" env:"RS_GITHUB_REQUEST_TIMEOUT"  validate:"omitempty,min=1"`
	PageSize              int    `yaml:"page_size"               json:"page_size"               env:"RS_GITHUB_PAGE_SIZE"        validate:"omitempty,min=1,max=100"`
	UseGraphQL            bool   `yaml:"use_graphql"             json:"use_graphql"             env:"RS_GITHUB_USE_GRAPHQL"`
}

// RequestTimeout returns the per-request timeout as a time.Duration.
func (c GitHubConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// MinSpacing returns the minimum inter-call spacing as a time.Duration.
func (c GitHubConfig) MinSpacing() time.Duration {
	return time.Duration(c.MinSpacingMillis) * time.Millisecond
}

// OutputConfig holds export output settings.
type OutputConfig struct {
	Dir    string `yaml:"dir"    json:"dir"    env:"RS_OUTPUT_DIR"    validate:"required"`
	Format string `yaml:"format" json:"format" env:"RS_OUTPUT_FORMAT" validate:"omitempty,oneof=json ndjson"`
}

// CacheConfig holds durable and in-process cache settings.
type CacheConfig struct {
	Dir                  string `yaml:"dir"                    json:"dir"                    env:"RS_CACHE_DIR"`
	TTLSeconds           int    `yaml:"ttl_seconds"            json:"ttl_seconds"            env:"RS_CACHE_TTL_SECONDS"      validate:"omitempty,min=1"`
	MemoryBudgetBytes    int64  `yaml:"memory_budget_bytes"    json:"memory_budget_bytes"    env:"RS_CACHE_MEMORY_BUDGET"    validate:"omitempty,min=1"`
	EvictionPolicy       string `yaml:"eviction_policy"        json:"eviction_policy"        env:"RS_CACHE_EVICTION_POLICY"  validate:"omitempty,oneof=lru lfu fifo ttl"`
	SweepIntervalSeconds int    `yaml:"sweep_interval_seconds" json:"sweep_interval_seconds" env:"RS_CACHE_SWEEP_INTERVAL"   validate:"omitempty,min=1"`
}

// TTL returns the cache TTL as a time.Duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// SweepInterval returns the expiry sweep interval as a time.Duration.
func (c CacheConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// StateConfig holds checkpoint store settings. When RedisURL is set the
// checkpoint document is kept in Redis instead of the local file.
type StateConfig struct {
	Path     string `yaml:"path"      json:"path"      env:"RS_STATE_PATH"`
	RedisURL string `yaml:"redis_url" json:"redis_url" env:"RS_STATE_REDIS_URL"`
}

// BatchConfig holds multi-repository batch settings.
type BatchConfig struct {
	Parallelism     int  `yaml:"parallelism"       json:"parallelism"       env:"RS_BATCH_PARALLELISM" validate:"omitempty,min=1"`
	DiffMode        bool `yaml:"diff_mode"         json:"diff_mode"         env:"RS_BATCH_DIFF_MODE"`
	ForceFullExport bool `yaml:"force_full_export" json:"force_full_export" env:"RS_BATCH_FORCE_FULL"`
}

// ServerConfig holds the optional metrics endpoint settings.
type ServerConfig struct {
	MetricsListenAddress string `yaml:"metrics_listen_address" json:"metrics_listen_address" env:"RS_METRICS_LISTEN_ADDRESS"`
}

// ResourceConfig holds per-resource-type sizing knobs. MaxItems is the
// declared dataset ceiling used to derive the adaptive retry strategy;
// ChunkSize bounds how many items one page fetch may carry.
type ResourceConfig struct {
	Enabled   bool `yaml:"enabled"    json:"enabled"`
	MaxItems  int  `yaml:"max_items"  json:"max_items"  validate:"omitempty,min=1"`
	ChunkSize int  `yaml:"chunk_size" json:"chunk_size" validate:"omitempty,min=1,max=100"`
}

// ResourcesConfig wraps per-resource-type configurations.
type ResourcesConfig struct {
	PullRequests ResourceConfig `yaml:"pull_requests" json:"pull_requests"`
	Issues       ResourceConfig `yaml:"issues"        json:"issues"`
	Commits      ResourceConfig `yaml:"commits"       json:"commits"`
	Branches     ResourceConfig `yaml:"branches"      json:"branches"`
	Releases     ResourceConfig `yaml:"releases"      json:"releases"`
}

// Load reads a YAML configuration file, applies defaults, applies environment
// variable overrides, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := &Config{}
	ApplyDefaults(cfg)

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides walks the config struct and overwrites fields that have
// an "env" tag if the corresponding environment variable is set.
func ApplyEnvOverrides(cfg *Config) {
	applyEnvOverridesOnValue(reflect.ValueOf(cfg))
}

func applyEnvOverridesOnValue(v reflect.Value) {
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return
	}

	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		if fieldVal.Kind() == reflect.Struct {
			applyEnvOverridesOnValue(fieldVal.Addr())
			continue
		}

		envKey := field.Tag.Get("env")
		if envKey == "" {
			continue
		}

		envVal, ok := os.LookupEnv(envKey)
		if !ok {
			continue
		}

		setFieldFromString(fieldVal, envVal)
	}
}

// setFieldFromString sets a reflect.Value from a string, supporting the field
// kinds the config actually uses.
func setFieldFromString(field reflect.Value, raw string) {
	if !field.CanSet() {
		return
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)

	case reflect.Bool:
		if b, err := strconv.ParseBool(raw); err == nil {
			field.SetBool(b)
		}

	case reflect.Int, reflect.Int64:
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			field.SetInt(n)
		}

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return
		}
		parts := strings.Split(raw, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				result = append(result, s)
			}
		}
		field.Set(reflect.ValueOf(result))
	}
}

// redactString replaces a secret string with "****" if non-empty.
func redactString(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}

// Redacted returns a copy of the Config with sensitive fields masked.
func (c *Config) Redacted() Config {
	cp := *c
	cp.GitHub.Token = redactString(cp.GitHub.Token)
	cp.State.RedisURL = redactString(cp.State.RedisURL)
	return cp
}

// RedactedJSON returns the config as indented JSON with secrets masked.
func (c *Config) RedactedJSON() ([]byte, error) {
	redacted := c.Redacted()
	data, err := json.MarshalIndent(redacted, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshalling redacted config: %w", err)
	}
	return data, nil
}
