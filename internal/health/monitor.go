// Package health runs the periodic node health evaluation and drives each
// node's online/offline state through TTL'd strike counters.
package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/relayfleet/internal/kv"
	"github.com/edvin/relayfleet/internal/metrics"
	"github.com/edvin/relayfleet/internal/model"
	"github.com/edvin/relayfleet/internal/nodesync"
)

type NodeStore interface {
	ListByPool(ctx context.Context, poolID, status string) ([]model.Node, error)
	SetStatus(ctx context.Context, id, status string) error
	MarkStaleUngroupedOffline(ctx context.Context, cutoff time.Time) (int64, error)
}

type PoolStore interface {
	List(ctx context.Context) ([]model.NodePool, error)
}

type AllocationCounter interface {
	CountActive(ctx context.Context, nodeIDs []string) (map[string]map[string]int, error)
}

// Report summarises one evaluation pass.
type Report struct {
	Checked          int
	WentOffline      []string
	Recovered        []string
	UngroupedOffline int64
}

type Monitor struct {
	store          kv.Store
	nodes          NodeStore
	pools          PoolStore
	allocations    AllocationCounter
	defaultTimeout time.Duration
	strikeTTL      time.Duration
	logger         zerolog.Logger
	now            func() time.Time
}

func NewMonitor(store kv.Store, nodes NodeStore, pools PoolStore, allocations AllocationCounter, defaultTimeout, strikeTTL time.Duration, logger zerolog.Logger) *Monitor {
	return &Monitor{
		store:          store,
		nodes:          nodes,
		pools:          pools,
		allocations:    allocations,
		defaultTimeout: defaultTimeout,
		strikeTTL:      strikeTTL,
		logger:         logger.With().Str("component", "health-monitor").Logger(),
		now:            time.Now,
	}
}

// RunOnce evaluates every pooled node against its pool's policy, then
// applies the batched timeout rule to nodes outside any pool. A failing
// pool or node is logged and skipped; the joined errors are returned.
func (m *Monitor) RunOnce(ctx context.Context) (*Report, error) {
	report := &Report{}
	var errs []error

	pools, err := m.pools.List(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("list pools: %w", err))
	}
	for _, pool := range pools {
		if err := m.checkPool(ctx, pool, report); err != nil {
			m.logger.Error().Err(err).Str("pool_id", pool.ID).Msg("pool health check failed")
			errs = append(errs, err)
		}
	}

	cutoff := m.now().Add(-m.defaultTimeout)
	n, err := m.nodes.MarkStaleUngroupedOffline(ctx, cutoff)
	if err != nil {
		m.logger.Error().Err(err).Msg("ungrouped node check failed")
		errs = append(errs, err)
	} else if n > 0 {
		report.UngroupedOffline = n
		metrics.HealthTransitions.WithLabelValues(model.NodeStatusOffline).Add(float64(n))
		m.logger.Warn().Int64("count", n).Msg("ungrouped nodes marked offline")
	}

	return report, errors.Join(errs...)
}

func (m *Monitor) checkPool(ctx context.Context, pool model.NodePool, report *Report) error {
	nodes, err := m.nodes.ListByPool(ctx, pool.ID, "")
	if err != nil {
		return fmt.Errorf("list nodes for pool %s: %w", pool.ID, err)
	}
	if len(nodes) == 0 {
		return nil
	}

	var slots map[string]map[string]int
	if pool.Policy.Health.MaxSlotUsage > 0 {
		ids := make([]string, len(nodes))
		for i, n := range nodes {
			ids[i] = n.ID
		}
		slots, err = m.allocations.CountActive(ctx, ids)
		if err != nil {
			m.logger.Warn().Err(err).Str("pool_id", pool.ID).Msg("allocation counts unavailable, slot ceiling skipped")
		}
	}

	now := m.now()
	for _, node := range nodes {
		report.Checked++
		runtime, ok, err := nodesync.ReadRuntime(ctx, m.store, node.ID)
		if err != nil {
			m.logger.Warn().Err(err).Str("node_id", node.ID).Msg("runtime cache unavailable")
		}
		var rt *model.NodeRuntime
		if ok {
			rt = &runtime
		}

		reason := Evaluate(node, rt, slots[node.ID], pool.Policy.Health, now)
		if err := m.observe(ctx, node, reason, pool.Policy.Health, report); err != nil {
			m.logger.Error().Err(err).Str("node_id", node.ID).Msg("health transition failed")
		}
	}
	return nil
}

// Evaluate returns why the node is unhealthy, or "" when it is healthy.
// runtime is the cached snapshot; nil skips the resource ceilings.
func Evaluate(node model.Node, runtime *model.NodeRuntime, slots map[string]int, policy model.HealthPolicy, now time.Time) string {
	if node.LastSeenAt == nil || now.Sub(*node.LastSeenAt) > policy.Timeout() {
		return "timeout"
	}
	if runtime != nil {
		if policy.MaxCPU > 0 && runtime.CPU > policy.MaxCPU {
			return "cpu"
		}
		if policy.MaxMemory > 0 && runtime.Memory > policy.MaxMemory {
			return "memory"
		}
	}
	if policy.MaxSlotUsage > 0 {
		for _, category := range []string{model.SlotCategoryInbound, model.SlotCategoryPrincipal} {
			limit := node.Capacity.SlotLimit(category)
			if limit <= 0 {
				continue
			}
			if float64(slots[category])*100 > policy.MaxSlotUsage*float64(limit) {
				return "slots"
			}
		}
	}
	return ""
}

// observe applies one observation to the node's strike counters. Each
// direction clears the opposite counter before counting its own.
func (m *Monitor) observe(ctx context.Context, node model.Node, reason string, policy model.HealthPolicy, report *Report) error {
	unhealthyKey := kv.UnhealthyStrikeKey(node.ID)
	recoveryKey := kv.RecoveryStrikeKey(node.ID)

	if reason != "" {
		if err := m.store.Delete(ctx, recoveryKey); err != nil {
			return fmt.Errorf("clear recovery strikes: %w", err)
		}
		strikes, err := m.store.IncrBy(ctx, unhealthyKey, 1, m.strikeTTL)
		if err != nil {
			return fmt.Errorf("count unhealthy strike: %w", err)
		}
		m.logger.Debug().Str("node_id", node.ID).Str("reason", reason).Int64("strikes", strikes).Msg("unhealthy observation")
		if strikes >= int64(policy.Unhealthy()) && node.Status == model.NodeStatusOnline {
			if err := m.nodes.SetStatus(ctx, node.ID, model.NodeStatusOffline); err != nil {
				return err
			}
			report.WentOffline = append(report.WentOffline, node.ID)
			metrics.HealthTransitions.WithLabelValues(model.NodeStatusOffline).Inc()
			m.logger.Warn().Str("node_id", node.ID).Str("reason", reason).Int64("strikes", strikes).Msg("node marked offline")
		}
		return nil
	}

	if err := m.store.Delete(ctx, unhealthyKey); err != nil {
		return fmt.Errorf("clear unhealthy strikes: %w", err)
	}
	if node.Status != model.NodeStatusOffline {
		return nil
	}

	strikes, err := m.store.IncrBy(ctx, recoveryKey, 1, m.strikeTTL)
	if err != nil {
		return fmt.Errorf("count recovery strike: %w", err)
	}
	if strikes < int64(policy.Healthy()) {
		return nil
	}
	if err := m.nodes.SetStatus(ctx, node.ID, model.NodeStatusOnline); err != nil {
		return err
	}
	if err := m.store.Delete(ctx, unhealthyKey, recoveryKey); err != nil {
		m.logger.Warn().Err(err).Str("node_id", node.ID).Msg("failed to clear strikes after recovery")
	}
	report.Recovered = append(report.Recovered, node.ID)
	metrics.HealthTransitions.WithLabelValues(model.NodeStatusOnline).Inc()
	m.logger.Info().Str("node_id", node.ID).Int64("strikes", strikes).Msg("node recovered")
	return nil
}

// Strikes returns the node's current unhealthy strike count.
func Strikes(ctx context.Context, cache kv.Cache, nodeID string) (int64, error) {
	v, ok, err := cache.Get(ctx, kv.UnhealthyStrikeKey(nodeID))
	if err != nil || !ok {
		return 0, err
	}
	return kv.ParseInt64(v), nil
}
