package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hearthstack/hearth/internal/agent"
	"github.com/hearthstack/hearth/internal/background"
	"github.com/hearthstack/hearth/internal/blackboard"
	"github.com/hearthstack/hearth/internal/bus"
	"github.com/hearthstack/hearth/internal/compactor"
	"github.com/hearthstack/hearth/internal/config"
	"github.com/hearthstack/hearth/internal/delegation"
	"github.com/hearthstack/hearth/internal/gateway"
	"github.com/hearthstack/hearth/internal/heartware"
	"github.com/hearthstack/hearth/internal/maintenance"
	"github.com/hearthstack/hearth/internal/match"
	"github.com/hearthstack/hearth/internal/providers"
	"github.com/hearthstack/hearth/internal/sessions"
	"github.com/hearthstack/hearth/internal/store/sqlite"
	"github.com/hearthstack/hearth/internal/subagents"
	"github.com/hearthstack/hearth/internal/templates"
	"github.com/hearthstack/hearth/internal/tools"
	"github.com/hearthstack/hearth/internal/tracing"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Hearth runtime and gateway",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

// runtime bundles the wired components.
type runtime struct {
	cfg       *config.Config
	db        *sqlite.DB
	events    *bus.Bus
	queue     *sessions.Queue
	orch      *agent.Orchestrator
	sweeper   *maintenance.Sweeper
	hw        *heartware.Loader
	stopWatch func()
}

// buildRuntime wires the full component graph from config.
func buildRuntime(cfg *config.Config) (*runtime, error) {
	db, err := sqlite.Open(cfg.DBPath())
	if err != nil {
		return nil, err
	}

	events := bus.New(bus.DefaultHistoryLimit)
	queue := sessions.NewQueue()
	matcher := match.New()

	hw := heartware.NewLoader(cfg.HeartwareDir())
	stopWatch := hw.Watch()
	orientation := func(ctx context.Context, userID string) string {
		return hw.Orientation()
	}

	provider := providers.NewAnthropicProvider(cfg.Provider.APIKey,
		providers.WithModel(cfg.Provider.Model),
		providers.WithBaseURL(cfg.Provider.BaseURL),
		providers.WithRateRPM(cfg.Provider.RateRPM),
	)
	if !provider.Available() {
		slog.Warn("provider has no API key; set HEARTH_API_KEY")
	}

	lifecycle := subagents.NewManager(db, matcher, events, orientation, subagents.Config{
		MaxActivePerUser: cfg.Agent.MaxActiveSubagents,
		MaxMessages:      cfg.Agent.MaxSubagentMessages,
		ReuseThreshold:   cfg.Agent.ReuseThreshold,
		Retention:        cfg.Agent.Retention(),
	})
	tmpl := templates.NewManager(db, matcher, cfg.Agent.MaxTemplates)
	bb := blackboard.New(db, events)

	// Sub-agents get an empty base registry: their tool surface is the
	// granted subset and delegation tools are never exposed to them.
	subagentTools := tools.NewRegistry()
	runner := background.NewRunner(db, queue, lifecycle, tmpl, provider,
		subagentTools, events, background.NewEstimator(db), background.Config{
			SubagentIterations: cfg.Agent.SubagentIterations,
			DefaultTimeout:     cfg.Agent.TaskTimeout(),
		})

	primaryTools := tools.NewRegistry()
	delegation.NewToolset(lifecycle, tmpl, runner, bb).Register(primaryTools)

	comp := compactor.New(db, provider, events, compactor.Config{
		Threshold:           cfg.Compaction.Threshold,
		KeepRecent:          cfg.Compaction.KeepRecent,
		SimilarityThreshold: cfg.Compaction.SimilarityThreshold,
		StripEmoji:          cfg.Compaction.StripEmoji,
		Budgets: compactor.TierBudgets{
			L2: cfg.Compaction.BudgetL2,
			L1: cfg.Compaction.BudgetL1,
			L0: cfg.Compaction.BudgetL0,
		},
	})

	orch := agent.NewOrchestrator(db, provider, queue, primaryTools, runner, comp,
		agent.OrientationFunc(orientation), agent.Config{
			AgentName:     cfg.Agent.Name,
			MaxIterations: cfg.Agent.MaxIterations,
			TurnTimeout:   cfg.Agent.TurnTimeout(),
		})

	sweeper := maintenance.NewSweeper(lifecycle, runner, bb, maintenance.Config{
		Schedule:      cfg.Maintenance.Schedule,
		StaleTaskAge:  time.Duration(cfg.Maintenance.StaleTaskHours) * time.Hour,
		BlackboardAge: time.Duration(cfg.Maintenance.BlackboardDays) * 24 * time.Hour,
	})

	return &runtime{
		cfg: cfg, db: db, events: events, queue: queue,
		orch: orch, sweeper: sweeper, hw: hw, stopWatch: stopWatch,
	}, nil
}

func (rt *runtime) close() {
	rt.stopWatch()
	if err := rt.queue.Shutdown(15 * time.Second); err != nil {
		slog.Warn("session queue shutdown", "error", err)
	}
	rt.db.Close()
}

func runServe() {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Enabled:      cfg.Telemetry.Enabled,
		ServiceName:  cfg.Telemetry.ServiceName,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		slog.Error("tracing setup failed", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	rt, err := buildRuntime(cfg)
	if err != nil {
		slog.Error("runtime build failed", "error", err)
		os.Exit(1)
	}
	defer rt.close()

	// One stale-task sweep at boot reaps rows orphaned by a crash.
	rt.sweeper.Sweep(ctx)
	go rt.sweeper.Run(ctx)

	srv := gateway.NewServer(cfg, rt.orch, rt.events)
	if err := srv.Start(ctx); err != nil {
		slog.Error("gateway stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("hearth stopped")
}
