// Package jobs runs the control plane's background work as independent
// fixed-interval loops. A slow or failing task never delays another.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/edvin/relayfleet/internal/metrics"
)

type Task struct {
	Name     string
	Interval time.Duration
	// Immediate runs the task once at start instead of waiting a full interval.
	Immediate bool
	Run       func(ctx context.Context) error
}

type Runner struct {
	tasks  []Task
	logger zerolog.Logger
}

func NewRunner(logger zerolog.Logger, tasks ...Task) *Runner {
	return &Runner{
		tasks:  tasks,
		logger: logger.With().Str("component", "jobs").Logger(),
	}
}

// Run blocks until ctx is done. Task errors are logged and counted, never
// returned.
func (r *Runner) Run(ctx context.Context) error {
	for _, t := range r.tasks {
		if t.Interval <= 0 {
			return fmt.Errorf("job %s: interval must be positive", t.Name)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, t := range r.tasks {
		g.Go(func() error {
			r.loop(ctx, t)
			return nil
		})
	}
	return g.Wait()
}

func (r *Runner) loop(ctx context.Context, t Task) {
	r.logger.Info().Str("job", t.Name).Dur("interval", t.Interval).Msg("starting job loop")

	if t.Immediate {
		r.runOnce(ctx, t)
	}

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Str("job", t.Name).Msg("job loop stopped")
			return
		case <-ticker.C:
			r.runOnce(ctx, t)
		}
	}
}

// runOnce bounds a run by the task's interval so a hung store call cannot
// stall the loop forever.
func (r *Runner) runOnce(ctx context.Context, t Task) {
	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, t.Interval)
	defer cancel()

	err := r.safeRun(runCtx, t)
	metrics.JobDuration.WithLabelValues(t.Name).Observe(time.Since(start).Seconds())

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.JobRuns.WithLabelValues(t.Name, "failure").Inc()
		r.logger.Error().Err(err).Str("job", t.Name).Dur("duration", time.Since(start)).Msg("job run failed")
		return
	}
	metrics.JobRuns.WithLabelValues(t.Name, "success").Inc()
	r.logger.Debug().Str("job", t.Name).Dur("duration", time.Since(start)).Msg("job run completed")
}

func (r *Runner) safeRun(ctx context.Context, t Task) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return t.Run(ctx)
}
