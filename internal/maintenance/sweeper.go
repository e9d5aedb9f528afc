// Package maintenance runs the retention sweeps on a cron schedule:
// expired sub-agent tombstones, stale background tasks, and resolved
// blackboard problems.
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/hearthstack/hearth/internal/background"
	"github.com/hearthstack/hearth/internal/blackboard"
	"github.com/hearthstack/hearth/internal/subagents"
)

// Config drives the sweeper.
type Config struct {
	Schedule       string // gronx cron expression; default every 30 minutes
	StaleTaskAge   time.Duration
	BlackboardAge  time.Duration
}

func (c *Config) sanitize() {
	if c.Schedule == "" {
		c.Schedule = "*/30 * * * *"
	}
	if c.StaleTaskAge <= 0 {
		c.StaleTaskAge = 6 * time.Hour
	}
	if c.BlackboardAge <= 0 {
		c.BlackboardAge = 30 * 24 * time.Hour
	}
}

// Sweeper checks the schedule once a minute and runs due sweeps.
type Sweeper struct {
	lifecycle  *subagents.Manager
	runner     *background.Runner
	blackboard *blackboard.Blackboard
	cron       *gronx.Gronx
	cfg        Config
}

// NewSweeper wires a sweeper.
func NewSweeper(lifecycle *subagents.Manager, runner *background.Runner, bb *blackboard.Blackboard, cfg Config) *Sweeper {
	cfg.sanitize()
	return &Sweeper{
		lifecycle:  lifecycle,
		runner:     runner,
		blackboard: bb,
		cron:       gronx.New(),
		cfg:        cfg,
	}
}

// Run blocks until ctx is cancelled, firing the sweeps whenever the
// schedule is due.
func (s *Sweeper) Run(ctx context.Context) {
	if !s.cron.IsValid(s.cfg.Schedule) {
		slog.Warn("maintenance schedule invalid, using default",
			"schedule", s.cfg.Schedule)
		s.cfg.Schedule = "*/30 * * * *"
	}
	slog.Info("maintenance sweeper started", "schedule", s.cfg.Schedule)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			due, err := s.cron.IsDue(s.cfg.Schedule, time.Now())
			if err != nil || !due {
				continue
			}
			s.Sweep(ctx)
		}
	}
}

// Sweep runs all retention cleanups once.
func (s *Sweeper) Sweep(ctx context.Context) {
	if n, err := s.lifecycle.Cleanup(ctx); err != nil {
		slog.Warn("agent retention sweep failed", "error", err)
	} else if n > 0 {
		slog.Info("agent retention sweep", "removed", n)
	}

	if n, err := s.runner.CleanupStale(ctx, s.cfg.StaleTaskAge); err != nil {
		slog.Warn("stale task sweep failed", "error", err)
	} else if n > 0 {
		slog.Info("stale task sweep", "reaped", n)
	}

	if n, err := s.blackboard.Cleanup(ctx, s.cfg.BlackboardAge); err != nil {
		slog.Warn("blackboard sweep failed", "error", err)
	} else if n > 0 {
		slog.Info("blackboard sweep", "removed", n)
	}
}
