// Package nodesync serves the agent-facing side of the fleet: change-token
// guarded pulls of desired state, and pushed telemetry (traffic, status,
// presence) recorded into the KV store.
package nodesync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/relayfleet/internal/kv"
	"github.com/edvin/relayfleet/internal/model"
)

var (
	// ErrNodeNotFound is returned when an operation that must not be a
	// silent no-op targets an unknown node.
	ErrNodeNotFound = errors.New("node not found")
	ErrInvalidIP    = errors.New("invalid ip address")
)

// NodeStore is the durable node record surface the service writes through.
type NodeStore interface {
	MarkRegistered(ctx context.Context, id string, info model.AgentInfo, at time.Time) error
	RecordStatus(ctx context.Context, id string, runtime model.NodeRuntime, seenAt time.Time) error
	SetEgressIP(ctx context.Context, id, ip string) error
}

// DesiredStateProvider produces the target document and the principals
// entitled to a node's inbounds.
type DesiredStateProvider interface {
	BuildDesiredConfig(ctx context.Context, nodeID string) (*model.DesiredConfig, error)
	ListEntitledPrincipals(ctx context.Context, nodeID string) ([]model.Principal, error)
}

type Options struct {
	TokenTTL          time.Duration
	RuntimeTTL        time.Duration
	CounterTTL        time.Duration
	DeviceTTL         time.Duration
	BandwidthWindow   time.Duration
	PresenceOffline   time.Duration
	PrincipalCacheTTL time.Duration
	RawReportsMax     int
	Intervals         model.PollIntervals
}

type principalIndex struct {
	byIdentifier map[string]model.Principal
	expiresAt    time.Time
}

type Service struct {
	store   kv.Store
	nodes   NodeStore
	desired DesiredStateProvider
	opts    Options
	logger  zerolog.Logger
	now     func() time.Time

	// mu guards principals only; it is never held across I/O.
	mu         sync.Mutex
	principals map[string]principalIndex
}

func NewService(store kv.Store, nodes NodeStore, desired DesiredStateProvider, opts Options, logger zerolog.Logger) *Service {
	return &Service{
		store:      store,
		nodes:      nodes,
		desired:    desired,
		opts:       opts,
		logger:     logger.With().Str("component", "sync").Logger(),
		now:        time.Now,
		principals: make(map[string]principalIndex),
	}
}

// Intervals returns the server-controlled agent cadence.
func (s *Service) Intervals() model.PollIntervals {
	return s.opts.Intervals
}

// lookupPrincipals returns the node's entitled principals keyed by
// identifier, served from a short-lived in-process cache.
func (s *Service) lookupPrincipals(ctx context.Context, nodeID string) (map[string]model.Principal, error) {
	now := s.now()
	s.mu.Lock()
	idx, ok := s.principals[nodeID]
	s.mu.Unlock()
	if ok && now.Before(idx.expiresAt) {
		return idx.byIdentifier, nil
	}

	list, err := s.desired.ListEntitledPrincipals(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	byIdentifier := make(map[string]model.Principal, len(list))
	for _, p := range list {
		byIdentifier[p.Identifier] = p
	}

	if s.opts.PrincipalCacheTTL > 0 {
		s.mu.Lock()
		s.principals[nodeID] = principalIndex{byIdentifier: byIdentifier, expiresAt: now.Add(s.opts.PrincipalCacheTTL)}
		s.mu.Unlock()
	}
	return byIdentifier, nil
}

func (s *Service) evictPrincipals(nodeID string) {
	s.mu.Lock()
	delete(s.principals, nodeID)
	s.mu.Unlock()
}
