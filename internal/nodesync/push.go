package nodesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"time"

	"github.com/edvin/relayfleet/internal/core"
	"github.com/edvin/relayfleet/internal/kv"
	"github.com/edvin/relayfleet/internal/metrics"
	"github.com/edvin/relayfleet/internal/model"
	"github.com/edvin/relayfleet/internal/platform"
)

// RawReport is one traffic batch as kept in the per-node raw buffer.
type RawReport struct {
	NodeID     string                `json:"node_id"`
	ReportedAt time.Time             `json:"reported_at"`
	Samples    []model.TrafficSample `json:"samples"`
}

type PresenceResult struct {
	KickUsers []string `json:"kick_users"`
}

// RegisterNode marks the node online and hands back the polling cadence
// the agent must follow.
func (s *Service) RegisterNode(ctx context.Context, nodeID string, info model.AgentInfo) (*model.Registration, error) {
	if err := s.nodes.MarkRegistered(ctx, nodeID, info, s.now()); err != nil {
		return nil, nodeErr(err, "register node %s", nodeID)
	}
	s.logger.Info().Str("node_id", nodeID).Str("version", info.Version).Msg("node registered")
	return &model.Registration{NodeID: nodeID, Intervals: s.opts.Intervals}, nil
}

// ReportTraffic adds each sample to the node, inbound and principal counter
// families. Samples with an unknown inbound still count at node and
// principal level.
func (s *Service) ReportTraffic(ctx context.Context, nodeID string, samples []model.TrafficSample) error {
	if len(samples) == 0 {
		return nil
	}

	deltas := make(map[string]int64)
	add := func(key string, n int64) {
		if n > 0 {
			deltas[key] += n
		}
	}
	var up, down int64
	for _, smp := range samples {
		if smp.Principal == "" || smp.Upload < 0 || smp.Download < 0 {
			continue
		}
		up += smp.Upload
		down += smp.Download
		add(kv.TrafficKey(model.EntityNode, nodeID, kv.DirUp), smp.Upload)
		add(kv.TrafficKey(model.EntityNode, nodeID, kv.DirDown), smp.Download)
		add(kv.TrafficKey(model.EntityPrincipal, smp.Principal, kv.DirUp), smp.Upload)
		add(kv.TrafficKey(model.EntityPrincipal, smp.Principal, kv.DirDown), smp.Download)
		if smp.InboundID != "" {
			add(kv.TrafficKey(model.EntityInbound, smp.InboundID, kv.DirUp), smp.Upload)
			add(kv.TrafficKey(model.EntityInbound, smp.InboundID, kv.DirDown), smp.Download)
		}
	}
	if len(deltas) == 0 {
		return nil
	}

	if err := s.store.IncrMany(ctx, deltas, s.opts.CounterTTL); err != nil {
		return fmt.Errorf("record traffic for node %s: %w", nodeID, err)
	}
	metrics.TrafficBytes.WithLabelValues(kv.DirUp).Add(float64(up))
	metrics.TrafficBytes.WithLabelValues(kv.DirDown).Add(float64(down))

	now := s.now()
	if up+down > 0 {
		if err := s.recordBandwidth(ctx, model.EntityNode, nodeID, up, down, now); err != nil {
			metrics.CacheErrors.WithLabelValues("bandwidth").Inc()
			s.logger.Warn().Err(err).Str("node_id", nodeID).Msg("failed to record bandwidth sample")
		}
	}

	raw, err := json.Marshal(RawReport{NodeID: nodeID, ReportedAt: now, Samples: samples})
	if err == nil {
		err = s.store.RPushCapped(ctx, kv.RawReportsKey(nodeID), int64(s.opts.RawReportsMax), s.opts.CounterTTL, string(raw))
	}
	if err != nil {
		metrics.CacheErrors.WithLabelValues("raw_buffer").Inc()
		s.logger.Warn().Err(err).Str("node_id", nodeID).Msg("failed to buffer raw traffic report")
	}
	return nil
}

// recordBandwidth appends a sample to the entity's window and prunes
// everything older than the window.
func (s *Service) recordBandwidth(ctx context.Context, entity, id string, up, down int64, now time.Time) error {
	key := kv.BandwidthKey(entity, id)
	ts := now.UnixMilli()
	member := fmt.Sprintf("%d:%d:%d:%s", ts, up, down, platform.NewSuffix())
	if err := s.store.ZAdd(ctx, key, member, float64(ts), 2*s.opts.BandwidthWindow); err != nil {
		return err
	}
	cutoff := now.Add(-s.opts.BandwidthWindow).UnixMilli()
	_, err := s.store.ZRemRangeByScore(ctx, key, math.Inf(-1), float64(cutoff-1))
	return err
}

// ReportStatus stores the runtime snapshot durably and in the short-lived
// cache the health monitor and selector read. Unknown nodes are ignored.
func (s *Service) ReportStatus(ctx context.Context, nodeID string, runtime model.NodeRuntime) error {
	now := s.now()
	if runtime.ReportedAt.IsZero() {
		runtime.ReportedAt = now
	}

	if err := s.nodes.RecordStatus(ctx, nodeID, runtime, now); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			s.logger.Debug().Str("node_id", nodeID).Msg("status report for unknown node ignored")
			return nil
		}
		return fmt.Errorf("report status for node %s: %w", nodeID, err)
	}

	b, err := json.Marshal(runtime)
	if err != nil {
		return fmt.Errorf("encode runtime: %w", err)
	}
	if err := s.store.Set(ctx, kv.RuntimeKey(nodeID), string(b), s.opts.RuntimeTTL); err != nil {
		metrics.CacheErrors.WithLabelValues("runtime").Inc()
		s.logger.Warn().Err(err).Str("node_id", nodeID).Msg("failed to cache runtime snapshot")
	}
	return nil
}

// ReportPresence records who is online on the node and which devices each
// principal uses. Principals over their device limit are returned in
// KickUsers.
func (s *Service) ReportPresence(ctx context.Context, nodeID string, entries []model.PresenceEntry) (*PresenceResult, error) {
	res := &PresenceResult{KickUsers: []string{}}
	if len(entries) == 0 {
		return res, nil
	}

	principals, err := s.lookupPrincipals(ctx, nodeID)
	if err != nil {
		s.logger.Warn().Err(err).Str("node_id", nodeID).Msg("principal lookup failed, device limits not enforced")
	}

	now := s.now()
	presenceKey := kv.PresenceKey(nodeID)
	kicked := make(map[string]bool)
	for _, e := range entries {
		if e.Principal == "" {
			continue
		}
		if err := s.store.ZAdd(ctx, presenceKey, e.Principal, float64(now.UnixMilli()), 2*s.opts.PresenceOffline); err != nil {
			metrics.CacheErrors.WithLabelValues("presence").Inc()
			s.logger.Warn().Err(err).Str("node_id", nodeID).Str("principal", e.Principal).Msg("failed to record presence")
		}

		fp := e.Fingerprint()
		if fp == "" {
			continue
		}
		count, err := s.store.SAdd(ctx, kv.DevicesKey(e.Principal), s.opts.DeviceTTL, fp)
		if err != nil {
			metrics.CacheErrors.WithLabelValues("devices").Inc()
			s.logger.Warn().Err(err).Str("principal", e.Principal).Msg("failed to record device")
			continue
		}
		p, ok := principals[e.Principal]
		if ok && p.DeviceLimit > 0 && count > int64(p.DeviceLimit) && !kicked[e.Principal] {
			kicked[e.Principal] = true
			res.KickUsers = append(res.KickUsers, e.Principal)
		}
	}

	cutoff := now.Add(-s.opts.PresenceOffline).UnixMilli()
	if _, err := s.store.ZRemRangeByScore(ctx, presenceKey, math.Inf(-1), float64(cutoff-1)); err != nil {
		s.logger.Warn().Err(err).Str("node_id", nodeID).Msg("failed to prune stale presence")
	}

	if len(res.KickUsers) > 0 {
		metrics.DevicesKicked.Add(float64(len(res.KickUsers)))
		s.logger.Info().Str("node_id", nodeID).Strs("principals", res.KickUsers).Msg("device limit exceeded")
	}
	return res, nil
}

// ReportEgressIP stores the public address the node's traffic leaves from.
func (s *Service) ReportEgressIP(ctx context.Context, nodeID, ip string) error {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return fmt.Errorf("egress ip %q: %w", ip, ErrInvalidIP)
	}
	if err := s.nodes.SetEgressIP(ctx, nodeID, parsed.String()); err != nil {
		return nodeErr(err, "report egress ip for node %s", nodeID)
	}
	return nil
}
