package jobs

import (
	"context"
	"time"

	"github.com/chainspan/chainspan-backend/internal/bridge"
	"github.com/chainspan/chainspan-backend/internal/repository"
	"go.uber.org/zap"
)

// RunJanitor sweeps the run history for runs stranded in a non-terminal
// state. A run can only strand when the process died mid-run; the
// forward-only state machine never parks a live run. Stranded runs are
// marked failed so history stays truthful, while any retained message
// id keeps them resumable.
type RunJanitor struct {
	repo   *repository.Repository
	logger *zap.SugaredLogger
	config RunJanitorConfig

	cancelCtx context.CancelFunc
}

type RunJanitorConfig struct {
	SweepInterval time.Duration // How often to sweep for stranded runs
	StaleAfter    time.Duration // How long a run may go without an update
}

func NewRunJanitor(repo *repository.Repository, logger *zap.SugaredLogger, config RunJanitorConfig) *RunJanitor {
	if config.SweepInterval <= 0 {
		config.SweepInterval = 5 * time.Minute
	}
	if config.StaleAfter <= 0 {
		// Above the proof wait bound, so a legitimate long wait is never
		// swept.
		config.StaleAfter = bridge.DefaultProofTimeout + 10*time.Minute
	}
	return &RunJanitor{
		repo:   repo,
		logger: logger,
		config: config,
	}
}

func (j *RunJanitor) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	j.cancelCtx = cancel

	j.logger.Infow("Starting run janitor",
		"sweepInterval", j.config.SweepInterval,
		"staleAfter", j.config.StaleAfter,
	)

	// One sweep at startup catches runs stranded by the previous process.
	j.sweep(ctx)

	ticker := time.NewTicker(j.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Infow("Run janitor stopping due to context cancellation")
			return ctx.Err()
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *RunJanitor) Stop() {
	if j.cancelCtx != nil {
		j.cancelCtx()
	}
}

func (j *RunJanitor) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	n, err := j.repo.FailStaleRuns(sweepCtx, j.config.StaleAfter, bridge.KindUnknown)
	if err != nil {
		j.logger.Warnw("Stale run sweep failed", "error", err)
		return
	}
	if n > 0 {
		j.logger.Infow("Marked stranded runs as failed", "count", n)
	}
}
