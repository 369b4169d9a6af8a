package background

import (
	"context"
	"time"

	"github.com/inboxpilot/triage/internal/config"
	"github.com/inboxpilot/triage/internal/core"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Jobs runs the periodic learning passes: insight generation, rule
// mining, and requeueing of emails deferred on budget exhaustion.
type Jobs struct {
	engine *core.Engine
	cfg    *config.Config
	logger *zap.Logger
	cron   *cron.Cron
}

// NewJobs creates the background job runner.
func NewJobs(engine *core.Engine, cfg *config.Config, logger *zap.Logger) *Jobs {
	return &Jobs{
		engine: engine,
		cfg:    cfg,
		logger: logger,
		cron:   cron.New(cron.WithSeconds()),
	}
}

// Start registers and starts the cron schedules.
func (j *Jobs) Start() error {
	insightsWindow, err := j.cfg.GetDuration("insights.window")
	if err != nil {
		return err
	}
	minerWindow, err := j.cfg.GetDuration("miner.window")
	if err != nil {
		return err
	}

	if _, err := j.cron.AddFunc(j.cfg.GetString("jobs.insights_schedule"), func() {
		j.runPass("insights", func(ctx context.Context) error {
			return j.engine.RunInsightsPass(ctx, insightsWindow)
		})
	}); err != nil {
		return err
	}

	if _, err := j.cron.AddFunc(j.cfg.GetString("jobs.mining_schedule"), func() {
		j.runPass("mining", func(ctx context.Context) error {
			return j.engine.RunMiningPass(ctx, minerWindow)
		})
	}); err != nil {
		return err
	}

	// Deferred emails also drain on budget rollover. The hourly requeue
	// covers caps raised at runtime, where no rollover fires.
	if _, err := j.cron.AddFunc(j.cfg.GetString("jobs.requeue_schedule"), func() {
		n := j.engine.Scheduler().DrainDeferred()
		if n > 0 {
			j.logger.Info("Requeued deferred emails", zap.Int("count", n))
		}
	}); err != nil {
		return err
	}

	j.cron.Start()
	j.logger.Info("Background jobs started")
	return nil
}

// Stop stops the cron scheduler and waits for running jobs.
func (j *Jobs) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}

func (j *Jobs) runPass(name string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	start := time.Now()
	if err := fn(ctx); err != nil {
		j.logger.Error("Background pass failed",
			zap.String("pass", name),
			zap.Error(err))
		return
	}
	j.logger.Debug("Background pass completed",
		zap.String("pass", name),
		zap.Duration("elapsed", time.Since(start)))
}
