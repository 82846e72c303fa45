package nodesync

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/edvin/relayfleet/internal/kv"
	"github.com/edvin/relayfleet/internal/model"
)

// ReadRuntime returns the node's cached runtime snapshot. A missing or
// unreadable snapshot reports ok=false.
func ReadRuntime(ctx context.Context, cache kv.Cache, nodeID string) (model.NodeRuntime, bool, error) {
	var rt model.NodeRuntime
	raw, ok, err := cache.Get(ctx, kv.RuntimeKey(nodeID))
	if err != nil || !ok {
		return rt, false, err
	}
	if err := json.Unmarshal([]byte(raw), &rt); err != nil {
		return model.NodeRuntime{}, false, nil
	}
	return rt, true, nil
}

// ReadBandwidth averages the entity's samples inside the window ending at
// now, in bytes per second.
func ReadBandwidth(ctx context.Context, sets kv.SortedSets, entity, id string, window time.Duration, now time.Time) (model.BandwidthStats, error) {
	var stats model.BandwidthStats
	if window <= 0 {
		return stats, nil
	}
	from := now.Add(-window).UnixMilli()
	members, err := sets.ZRangeByScore(ctx, kv.BandwidthKey(entity, id), float64(from), math.Inf(1))
	if err != nil {
		return stats, fmt.Errorf("read bandwidth for %s %s: %w", entity, id, err)
	}

	var up, down int64
	for _, m := range members {
		parts := strings.Split(m.Member, ":")
		if len(parts) < 3 {
			continue
		}
		up += kv.ParseInt64(parts[1])
		down += kv.ParseInt64(parts[2])
		stats.Samples++
	}
	secs := window.Seconds()
	stats.UpBps = float64(up) / secs
	stats.DownBps = float64(down) / secs
	return stats, nil
}

// BandwidthStats returns the current average byte rates for an entity.
func (s *Service) BandwidthStats(ctx context.Context, entity, id string) (model.BandwidthStats, error) {
	return ReadBandwidth(ctx, s.store, entity, id, s.opts.BandwidthWindow, s.now())
}

// OnlinePrincipals lists principals seen on the node within the offline
// threshold, most recent first. Stale entries are excluded even before
// they are pruned.
func (s *Service) OnlinePrincipals(ctx context.Context, nodeID string) ([]model.OnlinePrincipal, error) {
	from := s.now().Add(-s.opts.PresenceOffline).UnixMilli()
	members, err := s.store.ZRangeByScore(ctx, kv.PresenceKey(nodeID), float64(from), math.Inf(1))
	if err != nil {
		return nil, fmt.Errorf("list online principals for node %s: %w", nodeID, err)
	}
	out := make([]model.OnlinePrincipal, 0, len(members))
	for i := len(members) - 1; i >= 0; i-- {
		out = append(out, model.OnlinePrincipal{
			Principal: members[i].Member,
			LastSeen:  time.UnixMilli(int64(members[i].Score)).UTC(),
		})
	}
	return out, nil
}

// RecentReports returns up to n of the node's newest raw traffic reports,
// oldest first. Unreadable entries are skipped.
func (s *Service) RecentReports(ctx context.Context, nodeID string, n int) ([]RawReport, error) {
	if n <= 0 {
		return []RawReport{}, nil
	}
	raw, err := s.store.LRange(ctx, kv.RawReportsKey(nodeID), -int64(n), -1)
	if err != nil {
		return nil, fmt.Errorf("read raw reports for node %s: %w", nodeID, err)
	}
	out := make([]RawReport, 0, len(raw))
	for _, r := range raw {
		var rep RawReport
		if err := json.Unmarshal([]byte(r), &rep); err != nil {
			s.logger.Debug().Err(err).Str("node_id", nodeID).Msg("skipping unreadable raw report")
			continue
		}
		out = append(out, rep)
	}
	return out, nil
}
