// Package batch orchestrates multi-repository exports with bounded
// parallelism, failure isolation, and per-run summaries.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/reposcribe/reposcribe/internal/export"
	"github.com/reposcribe/reposcribe/internal/state"
)

// Config parameterizes one batch run.
type Config struct {
	Repositories    []string          `json:"repositories"`
	Resources       []export.Resource `json:"resources"`
	Format          string            `json:"format"`
	OutputDir       string            `json:"output_dir"`
	Parallelism     int               `json:"parallelism"`
	DiffMode        bool              `json:"diff_mode"`
	ForceFullExport bool              `json:"force_full_export"`
}

// RepositoryResult is one row of the batch summary: one repository/resource
// pair's outcome.
type RepositoryResult struct {
	Repository    string        `json:"repository"`
	ResourceType  string        `json:"resource_type"`
	Success       bool          `json:"success"`
	ItemsExported int           `json:"items_exported"`
	ItemsFailed   int           `json:"items_failed"`
	APICalls      int           `json:"api_calls"`
	Duration      time.Duration `json:"duration_ns"`
	Error         string        `json:"error,omitempty"`
}

// Summary aggregates a full batch run. The run's configuration is echoed so
// the artifact is self-describing.
type Summary struct {
	Config            Config             `json:"config"`
	StartedAt         time.Time          `json:"started_at"`
	FinishedAt        time.Time          `json:"finished_at"`
	Repositories      int                `json:"repositories"`
	SucceededRepos    int                `json:"succeeded_repos"`
	FailedRepos       int                `json:"failed_repos"`
	TotalItems        int                `json:"total_items"`
	TotalAPICalls     int                `json:"total_api_calls"`
	Results           []RepositoryResult `json:"results"`
	SummaryOutputPath string             `json:"-"`
}

// Resolver validates that a repository exists and is accessible before any
// resource export starts.
type Resolver interface {
	ResolveRepository(ctx context.Context, repository string) error
}

// ExporterSource supplies the exporter for a resource type.
type ExporterSource interface {
	Get(resource export.Resource) (export.Exporter, error)
}

// StateTracker records and recalls per-repository export checkpoints.
type StateTracker interface {
	GetDiffModeOptions(ctx context.Context, repository, resourceType string, forceFull bool) state.DiffOptions
	UpdateExportState(ctx context.Context, repository, resourceType string, count int, format, outputPath string)
}

// QuotaGate throttles the batch between repository groups when the API call
// budget runs low.
type QuotaGate interface {
	CheckAndThrottle(ctx context.Context) error
}

// Processor runs batch exports.
type Processor struct {
	resolver  Resolver
	exporters ExporterSource
	state     StateTracker
	gate      QuotaGate
	writer    *export.Writer
	logger    *logrus.Entry
}

// New creates a Processor. gate may be nil when no quota coordination is
// wanted.
func New(resolver Resolver, exporters ExporterSource, st StateTracker, gate QuotaGate, writer *export.Writer, logger *logrus.Entry) *Processor {
	return &Processor{
		resolver:  resolver,
		exporters: exporters,
		state:     st,
		gate:      gate,
		writer:    writer,
		logger:    logger.WithField("component", "batch"),
	}
}

// Run exports every configured resource of every repository. Repositories are
// processed in groups of cfg.Parallelism; repositories within a group run
// concurrently, resources within a repository run sequentially. One
// repository's failure never aborts the others.
func (p *Processor) Run(ctx context.Context, cfg Config) (*Summary, error) {
	if len(cfg.Repositories) == 0 {
		return nil, fmt.Errorf("no repositories configured")
	}
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	resources := cfg.Resources
	if len(resources) == 0 {
		resources = export.AllResources()
	}
	cfg.Resources = resources

	// Resolve exporters up front so a misconfigured resource fails the run
	// before any API call is spent.
	for _, res := range resources {
		if _, err := p.exporters.Get(res); err != nil {
			return nil, err
		}
	}

	summary := &Summary{
		Config:       cfg,
		StartedAt:    time.Now().UTC(),
		Repositories: len(cfg.Repositories),
	}

	var mu sync.Mutex
	appendResults := func(rows []RepositoryResult) {
		mu.Lock()
		defer mu.Unlock()
		summary.Results = append(summary.Results, rows...)
	}

	for offset := 0; offset < len(cfg.Repositories); offset += cfg.Parallelism {
		if ctx.Err() != nil {
			break
		}
		if p.gate != nil {
			if err := p.gate.CheckAndThrottle(ctx); err != nil {
				return nil, fmt.Errorf("waiting for API quota: %w", err)
			}
		}

		end := offset + cfg.Parallelism
		if end > len(cfg.Repositories) {
			end = len(cfg.Repositories)
		}
		group := cfg.Repositories[offset:end]

		var wg sync.WaitGroup
		for _, repo := range group {
			wg.Add(1)
			go func(repo string) {
				defer wg.Done()
				appendResults(p.processRepository(ctx, repo, resources, cfg))
			}(repo)
		}
		wg.Wait()
	}

	p.aggregate(summary)
	summary.FinishedAt = time.Now().UTC()

	if p.writer != nil && cfg.OutputDir != "" {
		name := export.SummaryName("batch-summary", summary.StartedAt)
		path, err := p.writer.WriteSummary(cfg.OutputDir, name, summary)
		if err != nil {
			p.logger.WithError(err).Warn("could not write batch summary")
		} else {
			summary.SummaryOutputPath = path
		}
	}

	return summary, ctx.Err()
}

// processRepository exports every requested resource of one repository. A
// panic in an exporter is contained here so the rest of the batch survives.
func (p *Processor) processRepository(ctx context.Context, repository string, resources []export.Resource, cfg Config) (rows []RepositoryResult) {
	log := p.logger.WithField("repository", repository)

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("repository export panicked")
			rows = failAllResources(repository, resources, fmt.Sprintf("panic: %v", r))
		}
	}()

	if err := p.resolver.ResolveRepository(ctx, repository); err != nil {
		log.WithError(err).Error("repository not accessible, skipping")
		return failAllResources(repository, resources, err.Error())
	}

	for _, res := range resources {
		if ctx.Err() != nil {
			rows = append(rows, failedRow(repository, res, ctx.Err().Error()))
			continue
		}

		exp, err := p.exporters.Get(res)
		if err != nil {
			rows = append(rows, failedRow(repository, res, err.Error()))
			continue
		}

		opts := export.Options{
			Format:    cfg.Format,
			OutputDir: cfg.OutputDir,
		}
		if cfg.DiffMode {
			diff := p.state.GetDiffModeOptions(ctx, repository, string(res), cfg.ForceFullExport)
			opts.DiffMode = diff.Enabled
			opts.Since = diff.Since
			opts.ForceFull = diff.ForceFullExport
		}

		result := exp.Export(ctx, repository, opts)

		row := RepositoryResult{
			Repository:    repository,
			ResourceType:  string(res),
			Success:       result.Success,
			ItemsExported: result.ItemsExported,
			ItemsFailed:   result.ItemsFailed,
			APICalls:      result.APICalls,
			Duration:      result.Duration,
		}
		if len(result.Errors) > 0 {
			row.Error = result.Errors[0]
		}
		rows = append(rows, row)

		// The checkpoint only advances on full success so a rerun refetches
		// anything this run lost.
		if result.Success {
			p.state.UpdateExportState(ctx, repository, string(res), result.ItemsExported, cfg.Format, cfg.OutputDir)
		}
	}

	return rows
}

// aggregate fills the summary totals from the collected rows. A repository
// counts as succeeded when at least one of its resources exported cleanly.
func (p *Processor) aggregate(summary *Summary) {
	succeededBy := make(map[string]bool)
	seen := make(map[string]bool)
	for _, row := range summary.Results {
		seen[row.Repository] = true
		if row.Success {
			succeededBy[row.Repository] = true
		}
		summary.TotalItems += row.ItemsExported
		summary.TotalAPICalls += row.APICalls
	}
	for repo := range seen {
		if succeededBy[repo] {
			summary.SucceededRepos++
		} else {
			summary.FailedRepos++
		}
	}
}

func failedRow(repository string, resource export.Resource, msg string) RepositoryResult {
	return RepositoryResult{
		Repository:   repository,
		ResourceType: string(resource),
		Error:        msg,
	}
}

func failAllResources(repository string, resources []export.Resource, msg string) []RepositoryResult {
	rows := make([]RepositoryResult, 0, len(resources))
	for _, res := range resources {
		rows = append(rows, failedRow(repository, res, msg))
	}
	return rows
}
