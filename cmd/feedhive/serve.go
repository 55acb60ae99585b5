package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/feedhive/feedhive/internal/agentrun"
	"github.com/feedhive/feedhive/internal/audit"
	"github.com/feedhive/feedhive/internal/config"
	"github.com/feedhive/feedhive/internal/confirm"
	"github.com/feedhive/feedhive/internal/domain"
	"github.com/feedhive/feedhive/internal/feed"
	"github.com/feedhive/feedhive/internal/gateway"
	"github.com/feedhive/feedhive/internal/gateway/httpapi"
	"github.com/feedhive/feedhive/internal/llm"
	"github.com/feedhive/feedhive/internal/llm/anthropic"
	"github.com/feedhive/feedhive/internal/llm/openai"
	"github.com/feedhive/feedhive/internal/observability"
	"github.com/feedhive/feedhive/internal/parser"
	"github.com/feedhive/feedhive/internal/permission"
	"github.com/feedhive/feedhive/internal/pipeline"
	"github.com/feedhive/feedhive/internal/ratelimit"
	"github.com/feedhive/feedhive/internal/router"
	"github.com/feedhive/feedhive/internal/scheduler"
	"github.com/feedhive/feedhive/internal/storage"
	pgstore "github.com/feedhive/feedhive/internal/storage/postgres"
	sqlitestore "github.com/feedhive/feedhive/internal/storage/sqlite"
	"github.com/feedhive/feedhive/internal/tools"
	"github.com/feedhive/feedhive/internal/tools/database"
	"github.com/feedhive/feedhive/internal/tools/memory"
	"github.com/feedhive/feedhive/internal/tools/report"
	"github.com/feedhive/feedhive/internal/tools/schedule"
	"github.com/feedhive/feedhive/internal/tools/source"
	"github.com/feedhive/feedhive/internal/tools/web"
)

var (
	serveConfigPath string
	serveAddr       string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Feedhive server (HTTP API, scheduler)",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `feedhive --config path` and `feedhive serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&serveAddr, "listen", "", "override HTTP listen address (e.g. :8080)")
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(goutils.Env("FEEDHIVE_CONFIG", serveConfigPath))
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.ListenAddr = serveAddr
	}

	logger := newLogger(cfg.Log)
	logger.Info("starting feedhive",
		slog.String("config", serveConfigPath),
		slog.String("storage", cfg.StorageDriverName()),
	)

	if err := os.MkdirAll(cfg.ResolvedDataDir(), 0750); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	// Observability. Nil when the section is absent; every consumer is
	// nil-safe.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return fmt.Errorf("initializing observability: %w", err)
	}
	defer func() {
		if obs != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Shutdown(shutdownCtx)
		}
	}()

	// Storage.
	store, err := openStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("closing store", slog.String("error", err.Error()))
		}
	}()
	if obs != nil && obs.Health != nil {
		obs.Health.AddCheck("storage", store.Ping)
	}

	// Signal-aware context. Everything below hangs off it.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Permission layer: policy engine plus one-time approval grants.
	perms := permission.NewEngine(store.Overrides(), logger)
	grants := permission.NewOneTimeGrants(cfg.Confirm.GrantTTL(), logger)
	cancelGrantSweep := grants.StartSweep(ctx, cfg.Confirm.SweepInterval())
	defer cancelGrantSweep()

	// Pending confirmations are durable: they survive a restart.
	pending := confirm.NewDBManager(store.Pending(), cfg.Confirm.PendingTTL(), logger)
	cancelPendingSweep := pending.StartSweep(ctx, cfg.Confirm.SweepInterval())
	defer cancelPendingSweep()

	// Audit trail: store-backed, best-effort so a write failure never blocks
	// the user-facing action.
	auditLog := audit.NewBestEffort(store.Audit(), logger)

	// LLM providers.
	resolver, err := buildResolver(cfg, obs, logger)
	if err != nil {
		return fmt.Errorf("initializing LLM providers: %w", err)
	}

	// Component metrics share the observability registry.
	var (
		pipeMetrics  *pipeline.Metrics
		runMetrics   *agentrun.Metrics
		schedMetrics *scheduler.Metrics
	)
	if obs != nil && obs.Metrics != nil {
		pipeMetrics = pipeline.NewMetrics(obs.Metrics.Registry)
		runMetrics = agentrun.NewMetrics(obs.Metrics.Registry)
		schedMetrics = scheduler.NewMetrics(obs.Metrics.Registry)
	}

	// Report pipeline and its collaborators.
	collector := feed.NewCollector(feed.Config{
		MaxResponseBytes: cfg.Tools.Web.MaxResponseBytes,
		TimeoutSeconds:   cfg.Tools.Web.TimeoutSeconds,
	}, logger)
	analyzer := feed.NewAnalyzer(collector, logger)
	reporter := feed.NewReporter(store.Reports(), logger)

	pipe := pipeline.NewExecutor(
		store.Bots(),
		store.Profiles(),
		collector,
		analyzer,
		reporter,
		botScheduleWriter{store.Schedules()},
		resolver,
		perms,
		auditLog,
		pipeMetrics,
		logger,
	)

	// Tool registry for agent runs.
	registry, closeTools, err := buildTools(cfg, store, resolver, obs, logger)
	if err != nil {
		return fmt.Errorf("initializing tools: %w", err)
	}
	defer closeTools()

	runner := agentrun.NewRunner(
		registry,
		perms,
		grants,
		agentrun.KeywordPlanner{},
		store.AgentRuns(),
		auditLog,
		runMetrics,
		agentrun.Limits{
			MaxSteps:     cfg.Agent.MaxSteps,
			MaxToolCalls: cfg.Agent.MaxToolCalls,
			MaxRuntime:   cfg.Agent.MaxRuntime(),
			RiskBudget:   cfg.Agent.RiskBudget,
		},
		logger,
	)

	// Command dispatch and the confirmation state machine.
	dispatcher := router.New(pipe, runner, botSourceStore{store.Bots()}, store.Schedules(), store.Bots(), resolver, logger)
	engine := confirm.NewEngine(parser.NewRuleParser(logger), perms, grants, pending, dispatcher, store.Bots(), auditLog, logger)

	// Cron scheduler (optional).
	if cfg.Scheduler != nil && cfg.Scheduler.Enabled {
		sched := scheduler.New(
			store.Schedules(),
			store.Bots(),
			store.JobRuns(),
			pipe,
			schedMetrics,
			scheduler.Config{
				PollInterval:    cfg.Scheduler.PollInterval(),
				MaxConcurrent:   cfg.Scheduler.MaxConcurrent,
				MissedJobWindow: cfg.Scheduler.MissedJobWindow(),
			},
			logger,
		)
		cancelScheduler := sched.Start(ctx)
		defer cancelScheduler()
	}

	// HTTP gateway.
	gwCfg := httpapi.Config{
		ListenAddr: cfg.Server.Addr(),
		EnableDocs: cfg.Server.EnableDocs,
		APIKeys:    cfg.Server.APIKeys,
	}
	if obs != nil {
		if obs.Metrics != nil {
			gwCfg.MetricsRegistry = obs.Metrics.Registry
			gwCfg.Metrics = obs.Metrics
			if cfg.Observability != nil && cfg.Observability.Metrics != nil {
				gwCfg.MetricsPath = cfg.Observability.Metrics.Path
			}
		}
		if obs.Tracer != nil {
			gwCfg.Tracer = obs.Tracer.Tracer()
		}
		gwCfg.HealthChecker = obs.Health
	}

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerMinute: cfg.Server.RateLimit.RequestsPerMinute,
		BurstSize:         cfg.Server.RateLimit.BurstSize,
	})

	var gw gateway.Gateway = httpapi.NewGateway(gwCfg, engine, perms, grants, runner, store, limiter, logger)

	errs := make(chan error, 1)
	go func() {
		errs <- gw.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("gateway exited with error", slog.String("error", err.Error()))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return gw.Stop(shutdownCtx)
}

// newLogger builds the process logger from config. JSON by default.
func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// openStore creates the storage backend from config.
func openStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch driver := cfg.StorageDriverName(); driver {
	case storage.DriverPostgres:
		var pgCfg pgstore.Config
		if pg := cfg.Storage.Postgres; pg != nil {
			pgCfg.DSN = pg.DSN
			pgCfg.MaxOpenConns = pg.MaxOpenConns
			pgCfg.MaxIdleConns = pg.MaxIdleConns
			pgCfg.ConnMaxLifetime = time.Duration(pg.ConnMaxLifetimeS) * time.Second
		}
		if envDSN := os.Getenv("FEEDHIVE_DB_DSN"); envDSN != "" {
			pgCfg.DSN = envDSN
		}
		db, err := pgstore.Open(pgCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		return pgstore.NewStore(db, logger), nil

	case storage.DriverSQLite:
		sqCfg := sqlitestore.Config{Path: cfg.DatabasePath()}
		if cfg.Storage != nil && cfg.Storage.SQLite != nil && cfg.Storage.SQLite.Path != "" {
			sqCfg.Path = cfg.Storage.SQLite.Path
		}
		return sqlitestore.Open(sqCfg, logger)

	default:
		return nil, fmt.Errorf("unknown storage driver: %q", driver)
	}
}

// buildResolver registers the configured LLM providers and picks the default.
func buildResolver(cfg *config.Config, obs *observability.Observability, logger *slog.Logger) (*llm.Resolver, error) {
	resolver := llm.NewResolver()

	instrument := func(p llm.Provider) llm.Provider {
		if obs != nil && obs.Metrics != nil {
			return observability.NewInstrumentedProvider(p, obs.Metrics, obs.TracerOrNil(), obs.Anomaly)
		}
		return p
	}

	if cfg.Providers.Anthropic.APIKey != "" {
		resolver.Register("anthropic", instrument(anthropic.NewClient(
			cfg.Providers.Anthropic.APIKey,
			cfg.Providers.Anthropic.Model,
			logger,
		)))
	}
	if cfg.Providers.OpenAI.APIKey != "" {
		var opts []openai.Option
		if cfg.Providers.OpenAI.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.Providers.OpenAI.BaseURL))
		}
		resolver.Register("openai", instrument(openai.NewClient(
			cfg.Providers.OpenAI.APIKey,
			cfg.Providers.OpenAI.Model,
			logger,
			opts...,
		)))
	}
	if cfg.Providers.Ollama.Model != "" {
		baseURL := cfg.Providers.Ollama.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		resolver.Register("ollama", instrument(openai.NewClient(
			"",
			cfg.Providers.Ollama.Model,
			logger,
			openai.WithBaseURL(baseURL),
			openai.WithName("ollama"),
		)))
	}

	defaultName := cfg.Providers.Default
	if defaultName == "" {
		defaultName = "anthropic"
	}
	resolver.SetDefault(defaultName)

	logger.Debug("llm providers registered", slog.String("default", defaultName))
	return resolver, nil
}

// buildTools assembles the agent tool registry. Every tool is wrapped with
// observability when metrics are enabled. The returned closer releases the
// db_query connection pool.
func buildTools(
	cfg *config.Config,
	store storage.Store,
	resolver *llm.Resolver,
	obs *observability.Observability,
	logger *slog.Logger,
) (*tools.Registry, func(), error) {
	registry := tools.NewRegistry()
	closer := func() {}

	register := func(t tools.Tool) {
		if obs != nil && obs.Metrics != nil {
			t = observability.NewInstrumentedTool(t, obs.Metrics, obs.TracerOrNil(), obs.Anomaly)
		}
		registry.Register(t)
	}

	webCfg := web.Config{
		MaxResponseBytes: cfg.Tools.Web.MaxResponseBytes,
		TimeoutSeconds:   cfg.Tools.Web.TimeoutSeconds,
	}
	register(web.NewRSSTool(webCfg, logger))
	register(web.NewFetchTool(webCfg, logger))
	register(source.NewWriteTool(botSourceStore{store.Bots()}, logger))
	register(report.NewGenerateTool(resolver, logger))
	register(schedule.NewWriteTool(store.Schedules(), logger))
	register(memory.NewWriteTool(store.Memory(), logger))

	// db_query: explicit DSN wins; otherwise reuse the primary store when it
	// is PostgreSQL. SQLite deployments without a DSN run without the tool.
	dsn := cfg.Tools.Database.DSN
	if dsn == "" && cfg.StorageDriverName() == storage.DriverPostgres && cfg.Storage != nil && cfg.Storage.Postgres != nil {
		dsn = cfg.Storage.Postgres.DSN
	}
	if dsn != "" {
		db, err := database.Open(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("opening db_query pool: %w", err)
		}
		closer = func() {
			if err := db.Close(); err != nil {
				logger.Error("closing db_query pool", slog.String("error", err.Error()))
			}
		}
		register(database.NewQueryTool(db, logger))
	}

	logger.Debug("tools registered", slog.Any("tools", registry.List()))
	return registry, closer, nil
}

// botScheduleWriter adapts the schedule store to the pipeline's bot-typed
// schedule step.
type botScheduleWriter struct {
	store storage.ScheduleStore
}

func (w botScheduleWriter) Ensure(ctx context.Context, bot *domain.Bot, userID, cronExpression string) error {
	return w.store.Ensure(ctx, bot.ID, userID, cronExpression)
}

// botSourceStore adapts the bot store's source operations to the router and
// source tool contracts.
type botSourceStore struct {
	bots storage.BotStore
}

func (s botSourceStore) Add(ctx context.Context, botID int64, feedURL string) error {
	return s.bots.AddSource(ctx, botID, feedURL)
}

func (s botSourceStore) Remove(ctx context.Context, botID int64, feedURL string) error {
	return s.bots.RemoveSource(ctx, botID, feedURL)
}
