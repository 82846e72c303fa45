package nodesync

import (
	"context"
	"fmt"

	"github.com/edvin/relayfleet/internal/kv"
	"github.com/edvin/relayfleet/internal/model"
)

// InvalidateNode clears both change tokens for the node so its next poll
// receives fresh state, and tells every replica to drop cached principals.
func (s *Service) InvalidateNode(ctx context.Context, nodeID string) error {
	err := s.store.Delete(ctx,
		kv.TokenKey(nodeID, model.ResourceConfig),
		kv.TokenKey(nodeID, model.ResourceUsers),
	)
	if err != nil {
		return fmt.Errorf("invalidate node %s: %w", nodeID, err)
	}
	s.evictPrincipals(nodeID)

	if err := s.store.Publish(ctx, kv.InvalidateChannel, nodeID); err != nil {
		s.logger.Warn().Err(err).Str("node_id", nodeID).Msg("failed to publish invalidation")
	}
	return nil
}

// WatchInvalidations evicts cached principals for every node invalidated by
// any replica. It blocks until ctx is done.
func (s *Service) WatchInvalidations(ctx context.Context) error {
	ch, err := s.store.Subscribe(ctx, kv.InvalidateChannel)
	if err != nil {
		return fmt.Errorf("subscribe to invalidations: %w", err)
	}
	s.logger.Info().Str("channel", kv.InvalidateChannel).Msg("watching invalidations")

	for nodeID := range ch {
		s.evictPrincipals(nodeID)
		s.logger.Debug().Str("node_id", nodeID).Msg("principal cache evicted")
	}
	return ctx.Err()
}
