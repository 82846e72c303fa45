// Package balancer picks the node in a pool that should take a new
// allocation. Selection is read-then-decide with no locks: a node may turn
// unhealthy between the decision and the allocation.
package balancer

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/relayfleet/internal/core"
	"github.com/edvin/relayfleet/internal/kv"
	"github.com/edvin/relayfleet/internal/metrics"
	"github.com/edvin/relayfleet/internal/model"
)

// ErrPoolNotFound is returned when the pool does not exist. An existing pool
// with nothing to offer is a Selection with a Reason, not an error.
var ErrPoolNotFound = errors.New("pool not found")

const (
	ReasonPoolEmpty  = "pool_empty"
	ReasonNoCapacity = "no_capacity"
)

type NodeStore interface {
	ListByPool(ctx context.Context, poolID, status string) ([]model.Node, error)
}

type PoolStore interface {
	GetByID(ctx context.Context, id string) (*model.NodePool, error)
}

type AllocationCounter interface {
	CountActive(ctx context.Context, nodeIDs []string) (map[string]map[string]int, error)
}

type Options struct {
	ExcludeNodeIDs []string `json:"exclude_node_ids,omitempty"`
	SlotCategory   string   `json:"slot_category,omitempty" validate:"omitempty,oneof=inbound principal"`
	ClientIP       string   `json:"client_ip,omitempty" validate:"omitempty,ip"`
}

// Selection is the outcome of SelectNode. Node is nil when Reason says why
// nothing was chosen.
type Selection struct {
	Node       *model.Node `json:"node"`
	Strategy   string      `json:"strategy"`
	Reason     string      `json:"reason,omitempty"`
	Candidates int         `json:"candidates"`
}

type Selector struct {
	store           kv.Store
	nodes           NodeStore
	pools           PoolStore
	allocations     AllocationCounter
	bandwidthWindow time.Duration
	roundRobinTTL   time.Duration
	logger          zerolog.Logger
	now             func() time.Time
	intn            func(n int) int
}

func NewSelector(store kv.Store, nodes NodeStore, pools PoolStore, allocations AllocationCounter, bandwidthWindow, roundRobinTTL time.Duration, logger zerolog.Logger) *Selector {
	return &Selector{
		store:           store,
		nodes:           nodes,
		pools:           pools,
		allocations:     allocations,
		bandwidthWindow: bandwidthWindow,
		roundRobinTTL:   roundRobinTTL,
		logger:          logger.With().Str("component", "selector").Logger(),
		now:             time.Now,
		intn:            rand.IntN,
	}
}

// SelectNode returns the pool's best node for a new allocation under the
// pool's strategy.
func (s *Selector) SelectNode(ctx context.Context, poolID string, opts Options) (*Selection, error) {
	pool, err := s.pools.GetByID(ctx, poolID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, fmt.Errorf("select node in pool %s: %w", poolID, ErrPoolNotFound)
		}
		return nil, fmt.Errorf("select node in pool %s: %w", poolID, err)
	}

	nodes, err := s.nodes.ListByPool(ctx, poolID, model.NodeStatusOnline)
	if err != nil {
		return nil, fmt.Errorf("select node in pool %s: %w", poolID, err)
	}
	sel := &Selection{Strategy: pool.Strategy}
	if len(nodes) == 0 {
		sel.Reason = ReasonPoolEmpty
		metrics.Selections.WithLabelValues(pool.Strategy, ReasonPoolEmpty).Inc()
		return sel, nil
	}

	loads, err := s.snapshot(ctx, nodes)
	if err != nil {
		return nil, fmt.Errorf("select node in pool %s: %w", poolID, err)
	}

	category := opts.SlotCategory
	if category == "" {
		category = pool.Policy.SlotCategory()
	}
	candidates := filter(loads, pool.Policy, opts.ExcludeNodeIDs, category)
	sel.Candidates = len(candidates)
	if len(candidates) == 0 {
		sel.Reason = ReasonNoCapacity
		metrics.Selections.WithLabelValues(pool.Strategy, ReasonNoCapacity).Inc()
		s.logger.Info().Str("pool_id", poolID).Int("nodes", len(nodes)).Msg("no candidate survived filtering")
		return sel, nil
	}

	chosen := s.dispatch(ctx, pool, candidates, category)
	node := chosen.Node
	sel.Node = &node
	metrics.Selections.WithLabelValues(pool.Strategy, "selected").Inc()
	s.logger.Debug().Str("pool_id", poolID).Str("node_id", node.ID).Str("strategy", pool.Strategy).Int("candidates", len(candidates)).Msg("node selected")
	return sel, nil
}

// filter keeps healthy, non-excluded nodes with room in the category that
// stay under every threshold. Input order is preserved.
func filter(loads []Load, policy model.PoolPolicy, exclude []string, category string) []Load {
	maxStrikes := int64(policy.Health.Unhealthy())
	th := policy.Thresholds
	var out []Load
	for _, l := range loads {
		switch {
		case l.Strikes >= maxStrikes:
		case slices.Contains(exclude, l.Node.ID):
		case l.Full(category):
		case l.cpuPercent > th.CPU():
		case l.memoryPercent > th.Memory():
		case l.overSlots(category, th.SlotUsage()):
		case l.overBandwidth(th.BandwidthUsage()):
		default:
			out = append(out, l)
		}
	}
	return out
}

func (s *Selector) dispatch(ctx context.Context, pool *model.NodePool, candidates []Load, category string) Load {
	switch pool.Strategy {
	case model.StrategyRoundRobin:
		return s.roundRobin(ctx, pool.ID, candidates)
	case model.StrategyLeastLoad:
		wc, wm, wn := pool.Policy.LoadWeights.Resolved()
		return pickMin(candidates, func(l Load) float64 {
			return wc*l.CPU + wm*l.Memory + wn*l.Connections
		})
	case model.StrategyLeastSlots:
		return pickMin(candidates, func(l Load) float64 { return l.SlotUsage(category) })
	case model.StrategyLeastBandwidth:
		return pickMin(candidates, func(l Load) float64 { return (l.BandwidthUp + l.BandwidthDown) / 2 })
	case model.StrategyWeighted:
		w := pool.Policy.Weights.Resolved()
		return pickMin(candidates, func(l Load) float64 {
			return w.CPU*l.CPU + w.Memory*l.Memory + w.Connections*l.Connections +
				w.InboundSlots*l.SlotUsage(model.SlotCategoryInbound) +
				w.PrincipalSlots*l.SlotUsage(model.SlotCategoryPrincipal) +
				w.Bandwidth*(l.BandwidthUp+l.BandwidthDown)/2
		})
	case model.StrategyRandom, model.StrategyGeoNearest:
		// No geo database is wired in; geo_nearest picks uniformly.
		return candidates[s.intn(len(candidates))]
	default:
		s.logger.Warn().Str("pool_id", pool.ID).Str("strategy", pool.Strategy).Msg("unknown strategy, picking at random")
		return candidates[s.intn(len(candidates))]
	}
}

func (s *Selector) roundRobin(ctx context.Context, poolID string, candidates []Load) Load {
	n, err := s.store.IncrBy(ctx, kv.RoundRobinKey(poolID), 1, s.roundRobinTTL)
	if err != nil {
		s.logger.Warn().Err(err).Str("pool_id", poolID).Msg("round-robin cursor unavailable, picking at random")
		return candidates[s.intn(len(candidates))]
	}
	idx := (n - 1) % int64(len(candidates))
	if idx < 0 {
		idx += int64(len(candidates))
	}
	return candidates[idx]
}

// pickMin returns the lowest-scoring load; on equal scores the earliest
// one wins.
func pickMin(loads []Load, score func(Load) float64) Load {
	best, bestScore := loads[0], score(loads[0])
	for _, l := range loads[1:] {
		if sc := score(l); sc < bestScore {
			best, bestScore = l, sc
		}
	}
	return best
}
