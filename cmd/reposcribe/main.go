// Package main is the CLI entry point for reposcribe.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"github.com/reposcribe/reposcribe/internal/batch"
	"github.com/reposcribe/reposcribe/internal/cache"
	"github.com/reposcribe/reposcribe/internal/config"
	"github.com/reposcribe/reposcribe/internal/export"
	"github.com/reposcribe/reposcribe/internal/github"
	"github.com/reposcribe/reposcribe/internal/server"
	"github.com/reposcribe/reposcribe/internal/state"
)

// Build-time variables set via -ldflags.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	app := &cli.Command{
		Name:    "reposcribe",
		Usage:   "Bulk exporter for GitHub repository data",
		Version: version,
		Commands: []*cli.Command{
			exportCommand(),
			batchCommand(),
			statusCommand(),
			resetCommand(),
			versionCommand(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// commonFlags are shared by every command that talks to the API.
func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to YAML configuration file",
			Sources: cli.EnvVars("RS_CONFIG"),
		},
		&cli.StringFlag{
			Name:    "token",
			Usage:   "GitHub personal access token",
			Sources: cli.EnvVars("RS_GITHUB_TOKEN"),
		},
		&cli.StringFlag{
			Name:    "output-dir",
			Usage:   "Export output directory",
			Sources: cli.EnvVars("RS_OUTPUT_DIR"),
		},
		&cli.StringFlag{
			Name:    "format",
			Usage:   "Output format (json, ndjson)",
			Sources: cli.EnvVars("RS_OUTPUT_FORMAT"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (trace, debug, info, warn, error, fatal, panic)",
			Sources: cli.EnvVars("RS_LOG_LEVEL"),
		},
	}
}

// resolveConfig builds the effective configuration from file, environment,
// and CLI flags, in increasing precedence. Validation is left to the caller:
// commands that never touch the API do not need a token.
func resolveConfig(cmd *cli.Command) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if path := cmd.String("config"); path != "" {
		cfg, err = config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", path, err)
		}
	} else {
		cfg = &config.Config{}
		config.ApplyDefaults(cfg)
		config.ApplyEnvOverrides(cfg)
	}

	if v := cmd.String("token"); v != "" {
		cfg.GitHub.Token = v
	}
	if v := cmd.String("output-dir"); v != "" {
		cfg.Output.Dir = v
	}
	if v := cmd.String("format"); v != "" {
		cfg.Output.Format = v
	}
	if v := cmd.String("log-level"); v != "" {
		cfg.Log.Level = v
	}

	return cfg, nil
}

func newLogger(cfg *config.Config) *logrus.Entry {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.Log.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger.WithField("app", "reposcribe")
}

// app bundles the wired components of one invocation.
type app struct {
	cfg        *config.Config
	log        *logrus.Entry
	client     *github.Client
	memory     *cache.Memory
	durable    *cache.Durable
	stateMgr   *state.Manager
	writer     *export.Writer
	registry   *export.Registry
	processor  *batch.Processor
	metricsSrv *server.Server
}

// buildApp wires every component from the configuration.
func buildApp(ctx context.Context, cmd *cli.Command) (*app, error) {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	log := newLogger(cfg)

	client, err := github.New(cfg.GitHub, log.WithField("component", "github"))
	if err != nil {
		return nil, fmt.Errorf("initializing GitHub client: %w", err)
	}

	policy, err := cache.PolicyByName(cfg.Cache.EvictionPolicy)
	if err != nil {
		return nil, err
	}
	memory := cache.NewMemory(
		cfg.Cache.MemoryBudgetBytes,
		policy,
		cfg.Cache.TTL(),
		cfg.Cache.SweepInterval(),
		log.WithField("component", "memory_cache"),
	)

	durable, err := cache.NewDurable(cfg.Cache.Dir, log.WithField("component", "durable_cache"))
	if err != nil {
		return nil, err
	}

	var store state.DocumentStore
	if cfg.State.RedisURL != "" {
		store, err = state.NewRedisDocumentStore(ctx, cfg.State.RedisURL)
		if err != nil {
			return nil, err
		}
	} else {
		store, err = state.NewFileDocumentStore(cfg.State.Path)
		if err != nil {
			return nil, err
		}
	}
	stateMgr := state.NewManager(store, log.WithField("component", "state"))

	writer, err := export.NewWriter(cfg.Output.Format, log.WithField("component", "writer"))
	if err != nil {
		return nil, err
	}

	registry := export.NewRegistry(export.Deps{
		Client:    client,
		Durable:   durable,
		Memory:    memory,
		Writer:    writer,
		Logger:    log,
		Resources: cfg.Resources,
		CacheTTL:  cfg.Cache.TTL(),
	})

	processor := batch.New(client, registry, stateMgr, client.Limiter(), writer, log)

	a := &app{
		cfg:       cfg,
		log:       log,
		client:    client,
		memory:    memory,
		durable:   durable,
		stateMgr:  stateMgr,
		writer:    writer,
		registry:  registry,
		processor: processor,
	}

	memory.StartSweeper(ctx)
	if addr := cfg.Server.MetricsListenAddress; addr != "" {
		a.metricsSrv = server.New(addr, log)
		a.metricsSrv.Start()
	}

	return a, nil
}

func (a *app) close(ctx context.Context) {
	a.memory.StopSweeper()
	if a.metricsSrv != nil {
		if err := a.metricsSrv.Stop(ctx); err != nil {
			a.log.WithError(err).Warn("metrics endpoint shutdown failed")
		}
	}
	if err := a.stateMgr.Close(); err != nil {
		a.log.WithError(err).Warn("closing state store failed")
	}
}

// buildStateManager wires only the checkpoint store, for commands that never
// touch the API.
func buildStateManager(ctx context.Context, cmd *cli.Command) (*state.Manager, error) {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return nil, err
	}
	log := newLogger(cfg)

	var store state.DocumentStore
	if cfg.State.RedisURL != "" {
		store, err = state.NewRedisDocumentStore(ctx, cfg.State.RedisURL)
	} else {
		store, err = state.NewFileDocumentStore(cfg.State.Path)
	}
	if err != nil {
		return nil, err
	}
	return state.NewManager(store, log.WithField("component", "state")), nil
}

// runBatch is the shared execution path of the export and batch commands.
func runBatch(ctx context.Context, cmd *cli.Command, repositories []string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	resources, err := export.ParseResources(cmd.StringSlice("resources"))
	if err != nil {
		return err
	}

	a.log.WithFields(logrus.Fields{
		"version":      version,
		"repositories": len(repositories),
	}).Info("starting export")

	bcfg := batch.Config{
		Repositories:    repositories,
		Resources:       resources,
		Format:          a.writer.Format(),
		OutputDir:       a.cfg.Output.Dir,
		Parallelism:     a.cfg.Batch.Parallelism,
		DiffMode:        a.cfg.Batch.DiffMode && !cmd.Bool("full"),
		ForceFullExport: cmd.Bool("full"),
	}
	if v := int(cmd.Int("parallelism")); v > 0 {
		bcfg.Parallelism = v
	}

	summary, err := a.processor.Run(ctx, bcfg)
	if err != nil {
		return err
	}

	a.log.WithFields(logrus.Fields{
		"succeeded": summary.SucceededRepos,
		"failed":    summary.FailedRepos,
		"items":     summary.TotalItems,
		"api_calls": summary.TotalAPICalls,
	}).Info("export finished")

	if summary.FailedRepos > 0 {
		return fmt.Errorf("%d of %d repositories failed", summary.FailedRepos, summary.Repositories)
	}
	return nil
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Export one repository",
		ArgsUsage: "owner/name",
		Flags: append(commonFlags(),
			&cli.StringSliceFlag{
				Name:  "resources",
				Usage: "Resource types to export (default: all enabled)",
			},
			&cli.BoolFlag{
				Name:  "full",
				Usage: "Ignore checkpoints and export everything",
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return fmt.Errorf("exactly one repository (owner/name) is required")
			}
			return runBatch(ctx, cmd, []string{cmd.Args().First()})
		},
	}
}

func batchCommand() *cli.Command {
	return &cli.Command{
		Name:      "batch",
		Usage:     "Export multiple repositories",
		ArgsUsage: "[owner/name ...]",
		Flags: append(commonFlags(),
			&cli.StringSliceFlag{
				Name:  "resources",
				Usage: "Resource types to export (default: all enabled)",
			},
			&cli.StringFlag{
				Name:  "repos-file",
				Usage: "File with one owner/name per line",
			},
			&cli.IntFlag{
				Name:  "parallelism",
				Usage: "Concurrent repositories per group",
			},
			&cli.BoolFlag{
				Name:  "full",
				Usage: "Ignore checkpoints and export everything",
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			repositories := cmd.Args().Slice()
			if path := cmd.String("repos-file"); path != "" {
				fromFile, err := readRepositoriesFile(path)
				if err != nil {
					return err
				}
				repositories = append(repositories, fromFile...)
			}
			if len(repositories) == 0 {
				return fmt.Errorf("no repositories given (arguments or --repos-file)")
			}
			return runBatch(ctx, cmd, repositories)
		},
	}
}

// readRepositoriesFile reads one owner/name per line, skipping blanks and
// #-comments.
func readRepositoriesFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening repository list: %w", err)
	}
	defer f.Close()

	var repos []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		repos = append(repos, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading repository list: %w", err)
	}
	return repos, nil
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the API quota and export checkpoints",
		Flags: commonFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			log := newLogger(cfg)

			// Quota status needs a token; without one only checkpoints print.
			if cfg.GitHub.Token != "" {
				client, err := github.New(cfg.GitHub, log.WithField("component", "github"))
				if err != nil {
					return err
				}
				st, err := client.Limiter().FetchStatus(ctx)
				if err != nil {
					log.WithError(err).Warn("quota status unavailable")
				} else {
					fmt.Printf("quota: %d/%d remaining, resets %s\n\n",
						st.Remaining, st.Limit, st.ResetAt.Format("2006-01-02T15:04:05Z"))
				}
			}

			mgr, err := buildStateManager(ctx, cmd)
			if err != nil {
				return err
			}
			defer mgr.Close()

			checkpoints := mgr.Checkpoints(ctx)
			if len(checkpoints) == 0 {
				fmt.Println("no checkpoints recorded")
				return nil
			}

			sort.Slice(checkpoints, func(i, j int) bool {
				if checkpoints[i].Repository != checkpoints[j].Repository {
					return checkpoints[i].Repository < checkpoints[j].Repository
				}
				return checkpoints[i].ResourceType < checkpoints[j].ResourceType
			})
			for _, cp := range checkpoints {
				fmt.Printf("%-40s %-15s %s  items=%d\n",
					cp.Repository, cp.ResourceType,
					cp.LastExportAt.Format("2006-01-02T15:04:05Z"), cp.LastCount)
			}
			return nil
		},
	}
}

func resetCommand() *cli.Command {
	return &cli.Command{
		Name:      "reset",
		Usage:     "Delete export checkpoints so the next run is a full export",
		ArgsUsage: "[owner/name]",
		Flags: append(commonFlags(),
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Delete every checkpoint",
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			mgr, err := buildStateManager(ctx, cmd)
			if err != nil {
				return err
			}
			defer mgr.Close()

			if cmd.Bool("all") {
				mgr.Clear(ctx)
				fmt.Println("all checkpoints deleted")
				return nil
			}

			if cmd.Args().Len() != 1 {
				return fmt.Errorf("a repository (owner/name) or --all is required")
			}
			repo := cmd.Args().First()
			for _, cp := range mgr.GetRepositoryStates(ctx, repo) {
				mgr.DeleteExportState(ctx, repo, cp.ResourceType)
			}
			fmt.Printf("checkpoints for %s deleted\n", repo)
			return nil
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print version information",
		Action: func(_ context.Context, _ *cli.Command) error {
			fmt.Printf("reposcribe %s (commit: %s)\n", version, commit)
			return nil
		},
	}
}
