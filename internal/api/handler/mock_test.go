package handler

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/edvin/relayfleet/internal/balancer"
	"github.com/edvin/relayfleet/internal/model"
	"github.com/edvin/relayfleet/internal/nodesync"
)

type mockSync struct {
	mock.Mock
}

func (m *mockSync) RegisterNode(ctx context.Context, nodeID string, info model.AgentInfo) (*model.Registration, error) {
	args := m.Called(ctx, nodeID, info)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Registration), args.Error(1)
}

func (m *mockSync) GetDesiredConfig(ctx context.Context, nodeID, presented string) (*nodesync.ConfigResult, error) {
	args := m.Called(ctx, nodeID, presented)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*nodesync.ConfigResult), args.Error(1)
}

func (m *mockSync) GetDesiredUsers(ctx context.Context, nodeID, presented string) (*nodesync.UsersResult, error) {
	args := m.Called(ctx, nodeID, presented)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*nodesync.UsersResult), args.Error(1)
}

func (m *mockSync) ReportTraffic(ctx context.Context, nodeID string, samples []model.TrafficSample) error {
	return m.Called(ctx, nodeID, samples).Error(0)
}

func (m *mockSync) ReportStatus(ctx context.Context, nodeID string, runtime model.NodeRuntime) error {
	return m.Called(ctx, nodeID, runtime).Error(0)
}

func (m *mockSync) ReportPresence(ctx context.Context, nodeID string, entries []model.PresenceEntry) (*nodesync.PresenceResult, error) {
	args := m.Called(ctx, nodeID, entries)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*nodesync.PresenceResult), args.Error(1)
}

func (m *mockSync) ReportEgressIP(ctx context.Context, nodeID, ip string) error {
	return m.Called(ctx, nodeID, ip).Error(0)
}

func (m *mockSync) InvalidateNode(ctx context.Context, nodeID string) error {
	return m.Called(ctx, nodeID).Error(0)
}

func (m *mockSync) OnlinePrincipals(ctx context.Context, nodeID string) ([]model.OnlinePrincipal, error) {
	args := m.Called(ctx, nodeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.OnlinePrincipal), args.Error(1)
}

func (m *mockSync) BandwidthStats(ctx context.Context, entity, id string) (model.BandwidthStats, error) {
	args := m.Called(ctx, entity, id)
	return args.Get(0).(model.BandwidthStats), args.Error(1)
}

func (m *mockSync) RecentReports(ctx context.Context, nodeID string, n int) ([]nodesync.RawReport, error) {
	args := m.Called(ctx, nodeID, n)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]nodesync.RawReport), args.Error(1)
}

type mockSelector struct {
	mock.Mock
}

func (m *mockSelector) SelectNode(ctx context.Context, poolID string, opts balancer.Options) (*balancer.Selection, error) {
	args := m.Called(ctx, poolID, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*balancer.Selection), args.Error(1)
}
