package balancer

import (
	"context"
	"fmt"

	"github.com/edvin/relayfleet/internal/health"
	"github.com/edvin/relayfleet/internal/model"
	"github.com/edvin/relayfleet/internal/nodesync"
)

// Load is a node's point-in-time usage. Ratios are in [0,1] and feed the
// strategy scores; thresholds are checked against the raw readings.
type Load struct {
	Node          model.Node
	CPU           float64
	Memory        float64
	Connections   float64
	BandwidthUp   float64
	BandwidthDown float64
	Slots         map[string]int
	Strikes       int64

	cpuPercent    float64
	memoryPercent float64
	peakBps       float64
	capacityBps   float64
}

// SlotUsage is allocated/capacity for the category; unlimited is 0.
func (l Load) SlotUsage(category string) float64 {
	limit := l.Node.Capacity.SlotLimit(category)
	if limit <= 0 {
		return 0
	}
	return clamp(float64(l.Slots[category]) / float64(limit))
}

// overSlots reports whether allocated/capacity exceeds pct percent.
func (l Load) overSlots(category string, pct float64) bool {
	limit := l.Node.Capacity.SlotLimit(category)
	return limit > 0 && float64(l.Slots[category])*100 > pct*float64(limit)
}

// overBandwidth reports whether the busier direction exceeds pct percent
// of the node's bandwidth capacity.
func (l Load) overBandwidth(pct float64) bool {
	return l.capacityBps > 0 && l.peakBps*100 > pct*l.capacityBps
}

// Full reports whether the node has no free slot left in the category.
func (l Load) Full(category string) bool {
	limit := l.Node.Capacity.SlotLimit(category)
	return limit > 0 && l.Slots[category] >= limit
}

// snapshot builds each node's load from the cached runtime and bandwidth
// windows plus durable allocation counts. Cache misses fall back to the
// durable runtime snapshot and zero bandwidth.
func (s *Selector) snapshot(ctx context.Context, nodes []model.Node) ([]Load, error) {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	counts, err := s.allocations.CountActive(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("count allocations: %w", err)
	}

	now := s.now()
	loads := make([]Load, len(nodes))
	maxConns := 0
	for i, n := range nodes {
		rt, ok, err := nodesync.ReadRuntime(ctx, s.store, n.ID)
		if err != nil {
			s.logger.Warn().Err(err).Str("node_id", n.ID).Msg("runtime cache unavailable")
		}
		if !ok {
			rt = n.Runtime
		}
		maxConns = max(maxConns, rt.Connections)

		l := Load{
			Node:          n,
			CPU:           clamp(rt.CPU / 100),
			Memory:        clamp(rt.Memory / 100),
			Slots:         counts[n.ID],
			cpuPercent:    rt.CPU,
			memoryPercent: rt.Memory,
		}
		if n.Capacity.MaxConnections > 0 {
			l.Connections = clamp(float64(rt.Connections) / float64(n.Capacity.MaxConnections))
		} else {
			l.Connections = float64(rt.Connections)
		}

		if capBps := n.Capacity.MaxBandwidthMbps * 1e6 / 8; capBps > 0 {
			bw, err := nodesync.ReadBandwidth(ctx, s.store, model.EntityNode, n.ID, s.bandwidthWindow, now)
			if err != nil {
				s.logger.Warn().Err(err).Str("node_id", n.ID).Msg("bandwidth window unavailable")
			}
			l.BandwidthUp = clamp(bw.UpBps / capBps)
			l.BandwidthDown = clamp(bw.DownBps / capBps)
			l.peakBps = max(bw.UpBps, bw.DownBps)
			l.capacityBps = capBps
		}

		l.Strikes, err = health.Strikes(ctx, s.store, n.ID)
		if err != nil {
			s.logger.Warn().Err(err).Str("node_id", n.ID).Msg("strike counter unavailable")
		}
		loads[i] = l
	}

	// Nodes without a connection capacity are normalized against the
	// busiest node in the pool.
	for i := range loads {
		if loads[i].Node.Capacity.MaxConnections <= 0 {
			if maxConns > 0 {
				loads[i].Connections /= float64(maxConns)
			} else {
				loads[i].Connections = 0
			}
		}
	}
	return loads, nil
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
