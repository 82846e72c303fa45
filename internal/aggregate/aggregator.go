// Package aggregate drains the KV traffic counters into durable time
// buckets and history rows, and prunes both past their retention windows.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/relayfleet/internal/kv"
	"github.com/edvin/relayfleet/internal/metrics"
	"github.com/edvin/relayfleet/internal/model"
	"github.com/edvin/relayfleet/internal/platform"
)

type TrafficStore interface {
	UpsertBuckets(ctx context.Context, buckets []model.TimeseriesBucket) error
	AppendHistory(ctx context.Context, rows []model.TrafficHistory) error
}

type PrincipalStore interface {
	ListByIdentifiers(ctx context.Context, identifiers []string) (map[string]model.Principal, error)
	AddUsage(ctx context.Context, usage map[string]int64) error
}

// Result summarises one drain pass per entity type.
type Result struct {
	Keys    map[string]int
	Buckets map[string]int
}

type totals struct {
	up, down int64
}

type Aggregator struct {
	counters   kv.Counters
	traffic    TrafficStore
	principals PrincipalStore
	bucketSize time.Duration
	counterTTL time.Duration
	logger     zerolog.Logger
	now        func() time.Time
}

func NewAggregator(counters kv.Counters, traffic TrafficStore, principals PrincipalStore, bucketSize, counterTTL time.Duration, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		counters:   counters,
		traffic:    traffic,
		principals: principals,
		bucketSize: bucketSize,
		counterTTL: counterTTL,
		logger:     logger.With().Str("component", "aggregator").Logger(),
		now:        time.Now,
	}
}

var entities = []string{model.EntityNode, model.EntityInbound, model.EntityPrincipal}

// RunOnce drains every counter family once. A family that fails is logged
// and the others still run.
func (a *Aggregator) RunOnce(ctx context.Context) (*Result, error) {
	now := a.now().UTC()
	bucket := now.Truncate(a.bucketSize)
	res := &Result{Keys: map[string]int{}, Buckets: map[string]int{}}

	var errs []error
	for _, entity := range entities {
		keys, buckets, err := a.drainEntity(ctx, entity, bucket, now)
		res.Keys[entity] = keys
		res.Buckets[entity] = buckets
		if err != nil {
			a.logger.Error().Err(err).Str("entity", entity).Msg("aggregation failed")
			errs = append(errs, err)
		}
	}
	return res, errors.Join(errs...)
}

func (a *Aggregator) drainEntity(ctx context.Context, entity string, bucket, now time.Time) (int, int, error) {
	drained, keys, err := a.drain(ctx, entity)
	if err != nil {
		return 0, 0, err
	}
	if len(drained) == 0 {
		return keys, 0, nil
	}
	metrics.AggregatedKeys.WithLabelValues(entity).Add(float64(keys))

	// Principal counters are keyed by identifier; buckets, history and
	// usage are keyed by the durable id when it resolves.
	resolved := map[string]string{}
	if entity == model.EntityPrincipal {
		ids := make([]string, 0, len(drained))
		for id := range drained {
			ids = append(ids, id)
		}
		principals, err := a.principals.ListByIdentifiers(ctx, ids)
		if err != nil {
			a.restore(ctx, entity, drained)
			return keys, 0, fmt.Errorf("resolve principals: %w", err)
		}
		for identifier, p := range principals {
			resolved[identifier] = p.ID
		}
	}

	ids := make([]string, 0, len(drained))
	for id := range drained {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	buckets := make([]model.TimeseriesBucket, 0, len(ids))
	history := make([]model.TrafficHistory, 0, len(ids))
	usage := map[string]int64{}
	var up, down int64
	for _, id := range ids {
		t := drained[id]
		entityID := id
		if durable, ok := resolved[id]; ok {
			entityID = durable
			usage[durable] += t.up + t.down
		}
		buckets = append(buckets, model.TimeseriesBucket{
			EntityType: entity, EntityID: entityID, BucketTime: bucket, Up: t.up, Down: t.down,
		})
		history = append(history, model.TrafficHistory{
			ID: platform.NewID(), EntityType: entity, EntityID: entityID, Up: t.up, Down: t.down, RecordedAt: now,
		})
		up += t.up
		down += t.down
	}

	if err := a.traffic.UpsertBuckets(ctx, buckets); err != nil {
		a.restore(ctx, entity, drained)
		return keys, 0, err
	}
	metrics.AggregatedBytes.WithLabelValues(entity, kv.DirUp).Add(float64(up))
	metrics.AggregatedBytes.WithLabelValues(entity, kv.DirDown).Add(float64(down))

	if err := a.traffic.AppendHistory(ctx, history); err != nil {
		a.logger.Warn().Err(err).Str("entity", entity).Msg("failed to append traffic history")
	}
	if len(usage) > 0 {
		if err := a.principals.AddUsage(ctx, usage); err != nil {
			a.logger.Warn().Err(err).Int("principals", len(usage)).Msg("failed to add principal usage")
		}
	}

	a.logger.Debug().Str("entity", entity).Int("keys", keys).Int("buckets", len(buckets)).Time("bucket", bucket).Msg("counters drained")
	return keys, len(buckets), nil
}

// drain get-and-deletes every counter in the family and sums them per
// entity id. Zero totals are dropped. Per-key failures are skipped.
func (a *Aggregator) drain(ctx context.Context, entity string) (map[string]totals, int, error) {
	keys, err := a.counters.ScanPrefix(ctx, kv.TrafficPrefix(entity))
	if err != nil {
		return nil, 0, fmt.Errorf("scan %s counters: %w", entity, err)
	}

	out := map[string]totals{}
	n := 0
	for _, key := range keys {
		id, dir, ok := kv.ParseTrafficKey(entity, key)
		if !ok {
			a.logger.Warn().Str("key", key).Msg("skipping unrecognised counter key")
			continue
		}
		v, found, err := a.counters.GetAndDelete(ctx, key)
		if err != nil {
			a.logger.Warn().Err(err).Str("key", key).Msg("failed to drain counter")
			continue
		}
		if !found {
			continue
		}
		n++
		t := out[id]
		if dir == kv.DirUp {
			t.up += kv.ParseInt64(v)
		} else {
			t.down += kv.ParseInt64(v)
		}
		out[id] = t
	}

	for id, t := range out {
		if t.up == 0 && t.down == 0 {
			delete(out, id)
		}
	}
	return out, n, nil
}

// restore puts drained bytes back so the next pass retries them.
func (a *Aggregator) restore(ctx context.Context, entity string, drained map[string]totals) {
	deltas := make(map[string]int64, 2*len(drained))
	for id, t := range drained {
		if t.up != 0 {
			deltas[kv.TrafficKey(entity, id, kv.DirUp)] = t.up
		}
		if t.down != 0 {
			deltas[kv.TrafficKey(entity, id, kv.DirDown)] = t.down
		}
	}
	if err := a.counters.IncrMany(ctx, deltas, a.counterTTL); err != nil {
		a.logger.Error().Err(err).Str("entity", entity).Int("ids", len(drained)).Msg("failed to restore drained counters, bytes lost")
	}
}
