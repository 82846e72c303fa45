package nodesync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sort"
	"time"

	"github.com/edvin/relayfleet/internal/core"
	"github.com/edvin/relayfleet/internal/kv"
	"github.com/edvin/relayfleet/internal/metrics"
	"github.com/edvin/relayfleet/internal/model"
)

type ConfigResult struct {
	Document    *model.DesiredConfig `json:"document,omitempty"`
	Token       string               `json:"token"`
	NotModified bool                 `json:"not_modified"`
}

type UsersResult struct {
	Users       []model.DesiredUser `json:"users,omitempty"`
	RateLimits  []model.RateLimit   `json:"rate_limits,omitempty"`
	Token       string              `json:"token"`
	NotModified bool                `json:"not_modified"`
}

// GetDesiredConfig returns the node's configuration with entitled
// principals injected, or NotModified when presented matches the cached
// token. Cache failures are treated as a miss.
func (s *Service) GetDesiredConfig(ctx context.Context, nodeID, presented string) (*ConfigResult, error) {
	if s.tokenMatches(ctx, nodeID, model.ResourceConfig, presented) {
		metrics.SyncRequests.WithLabelValues(model.ResourceConfig, "not_modified").Inc()
		return &ConfigResult{Token: presented, NotModified: true}, nil
	}

	doc, err := s.desired.BuildDesiredConfig(ctx, nodeID)
	if err != nil {
		return nil, nodeErr(err, "build config for node %s", nodeID)
	}
	principals, err := s.desired.ListEntitledPrincipals(ctx, nodeID)
	if err != nil {
		return nil, fmt.Errorf("list principals for node %s: %w", nodeID, err)
	}

	InjectPrincipals(doc, Entitled(principals, s.now()))

	token, err := HashDocument(doc)
	if err != nil {
		return nil, fmt.Errorf("hash config for node %s: %w", nodeID, err)
	}
	s.storeToken(ctx, nodeID, model.ResourceConfig, token)

	metrics.SyncRequests.WithLabelValues(model.ResourceConfig, "modified").Inc()
	return &ConfigResult{Document: doc, Token: token}, nil
}

// GetDesiredUsers is GetDesiredConfig scoped to the principal list and its
// rate limits.
func (s *Service) GetDesiredUsers(ctx context.Context, nodeID, presented string) (*UsersResult, error) {
	if s.tokenMatches(ctx, nodeID, model.ResourceUsers, presented) {
		metrics.SyncRequests.WithLabelValues(model.ResourceUsers, "not_modified").Inc()
		return &UsersResult{Token: presented, NotModified: true}, nil
	}

	principals, err := s.desired.ListEntitledPrincipals(ctx, nodeID)
	if err != nil {
		return nil, nodeErr(err, "list principals for node %s", nodeID)
	}

	res := &UsersResult{Users: []model.DesiredUser{}, RateLimits: []model.RateLimit{}}
	for _, p := range Entitled(principals, s.now()) {
		res.Users = append(res.Users, model.DesiredUser{
			Identifier: p.Identifier,
			UUID:       p.UUID,
			Password:   p.Password,
			Flow:       p.Flow,
			InboundIDs: p.InboundIDs,
		})
		if p.UploadLimit > 0 || p.DownloadLimit > 0 {
			res.RateLimits = append(res.RateLimits, model.RateLimit{
				Principal: p.Identifier,
				Upload:    p.UploadLimit,
				Download:  p.DownloadLimit,
			})
		}
	}

	token, err := HashDocument(struct {
		Users      []model.DesiredUser `json:"users"`
		RateLimits []model.RateLimit   `json:"rate_limits"`
	}{res.Users, res.RateLimits})
	if err != nil {
		return nil, fmt.Errorf("hash users for node %s: %w", nodeID, err)
	}
	s.storeToken(ctx, nodeID, model.ResourceUsers, token)
	res.Token = token

	metrics.SyncRequests.WithLabelValues(model.ResourceUsers, "modified").Inc()
	return res, nil
}

func (s *Service) tokenMatches(ctx context.Context, nodeID, resource, presented string) bool {
	if presented == "" {
		return false
	}
	cached, ok, err := s.store.Get(ctx, kv.TokenKey(nodeID, resource))
	if err != nil {
		metrics.CacheErrors.WithLabelValues("get_token").Inc()
		s.logger.Warn().Err(err).Str("node_id", nodeID).Str("resource", resource).Msg("token lookup failed, serving full state")
		return false
	}
	return ok && cached == presented
}

func (s *Service) storeToken(ctx context.Context, nodeID, resource, token string) {
	if err := s.store.Set(ctx, kv.TokenKey(nodeID, resource), token, s.opts.TokenTTL); err != nil {
		metrics.CacheErrors.WithLabelValues("set_token").Inc()
		s.logger.Warn().Err(err).Str("node_id", nodeID).Str("resource", resource).Msg("failed to cache change token")
	}
}

// Entitled drops principals that are expired or out of quota, ordered by
// identifier.
func Entitled(principals []model.Principal, now time.Time) []model.Principal {
	out := make([]model.Principal, 0, len(principals))
	for _, p := range principals {
		if p.Entitled(now) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out
}

// InjectPrincipals writes each inbound's client list from the principals
// tagged for it. Settings maps are copied, never mutated in place.
func InjectPrincipals(doc *model.DesiredConfig, principals []model.Principal) {
	for i := range doc.Inbounds {
		in := &doc.Inbounds[i]
		clients := []map[string]any{}
		for _, p := range principals {
			if p.HasInbound(in.ID) {
				clients = append(clients, credentials(in, p))
			}
		}
		settings := make(map[string]any, len(in.Settings)+1)
		maps.Copy(settings, in.Settings)
		settings["clients"] = clients
		in.Settings = settings
	}
}

func credentials(in *model.InboundSection, p model.Principal) map[string]any {
	secret := p.Password
	if secret == "" {
		secret = p.UUID
	}
	c := map[string]any{"email": p.Identifier}
	switch in.Protocol {
	case model.ProtocolVLESS:
		c["id"] = p.UUID
		if p.Flow != "" {
			c["flow"] = p.Flow
		}
	case model.ProtocolVMess:
		c["id"] = p.UUID
		c["alterId"] = 0
	case model.ProtocolTrojan, model.ProtocolHysteria2:
		c["password"] = secret
	case model.ProtocolShadowsocks:
		c["password"] = secret
		if method, ok := in.Settings["method"].(string); ok {
			c["method"] = method
		}
	default:
		c["id"] = p.UUID
	}
	return c
}

// HashDocument returns the hex SHA-256 of v's JSON encoding. Map keys are
// encoded in sorted order, so equal documents hash equally.
func HashDocument(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

func nodeErr(err error, format string, args ...any) error {
	if errors.Is(err, core.ErrNotFound) {
		err = ErrNodeNotFound
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
