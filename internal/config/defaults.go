package config

// ApplyDefaults sets sensible default values on the given Config.
// Values already set (non-zero) are not overwritten by YAML unmarshalling
// later, so these serve as the baseline configuration.
func ApplyDefaults(cfg *Config) {
	// --- Log ---
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"

	// --- GitHub ---
	// 5,000/h is the authenticated REST quota; the spacing default keeps the
	// steady-state rate comfortably below it.
	cfg.GitHub.HourlyQuota = 5000
	cfg.GitHub.MaxConcurrent = 4
	cfg.GitHub.MinSpacingMillis = 750
	cfg.GitHub.RequestTimeoutSeconds = 30
	cfg.GitHub.PageSize = 100

	// --- Output ---
	cfg.Output.Dir = "./export"
	cfg.Output.Format = "json"

	// --- Cache ---
	cfg.Cache.Dir = "./.reposcribe/cache"
	cfg.Cache.TTLSeconds = 3600
	cfg.Cache.MemoryBudgetBytes = 64 << 20
	cfg.Cache.EvictionPolicy = "lru"
	cfg.Cache.SweepIntervalSeconds = 60

	// --- State ---
	cfg.State.Path = "./.reposcribe/state.json"

	// --- Batch ---
	cfg.Batch.Parallelism = 2
	cfg.Batch.DiffMode = true

	// --- Resources ---
	cfg.Resources.PullRequests = ResourceConfig{Enabled: true, MaxItems: 5000, ChunkSize: 100}
	cfg.Resources.Issues = ResourceConfig{Enabled: true, MaxItems: 5000, ChunkSize: 100}
	cfg.Resources.Commits = ResourceConfig{Enabled: true, MaxItems: 20000, ChunkSize: 100}
	cfg.Resources.Branches = ResourceConfig{Enabled: true, MaxItems: 500, ChunkSize: 100}
	cfg.Resources.Releases = ResourceConfig{Enabled: true, MaxItems: 500, ChunkSize: 100}
}
