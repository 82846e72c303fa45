package aggregate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/relayfleet/internal/metrics"
)

type Pruner interface {
	PruneBuckets(ctx context.Context, before time.Time) (int64, error)
	PruneHistory(ctx context.Context, before time.Time) (int64, error)
}

// Retention deletes fine-grained buckets and cumulative history rows past
// their own retention windows.
type Retention struct {
	pruner           Pruner
	bucketRetention  time.Duration
	historyRetention time.Duration
	logger           zerolog.Logger
	now              func() time.Time
}

func NewRetention(pruner Pruner, bucketRetention, historyRetention time.Duration, logger zerolog.Logger) *Retention {
	return &Retention{
		pruner:           pruner,
		bucketRetention:  bucketRetention,
		historyRetention: historyRetention,
		logger:           logger.With().Str("component", "retention").Logger(),
		now:              time.Now,
	}
}

func (r *Retention) RunOnce(ctx context.Context) error {
	now := r.now()
	var errs []error

	n, err := r.pruner.PruneBuckets(ctx, now.Add(-r.bucketRetention))
	if err != nil {
		errs = append(errs, fmt.Errorf("prune buckets: %w", err))
	} else {
		metrics.PrunedRows.WithLabelValues("traffic_buckets").Add(float64(n))
		r.logger.Info().Int64("rows", n).Dur("retention", r.bucketRetention).Msg("pruned traffic buckets")
	}

	n, err = r.pruner.PruneHistory(ctx, now.Add(-r.historyRetention))
	if err != nil {
		errs = append(errs, fmt.Errorf("prune history: %w", err))
	} else {
		metrics.PrunedRows.WithLabelValues("traffic_history").Add(float64(n))
		r.logger.Info().Int64("rows", n).Dur("retention", r.historyRetention).Msg("pruned traffic history")
	}

	return errors.Join(errs...)
}
