package core

import (
	"context"
	"fmt"
)

// AllocationService counts business allocations (slots) held on nodes.
type AllocationService struct {
	db DB
}

func NewAllocationService(db DB) *AllocationService {
	return &AllocationService{db: db}
}

// CountActive returns active allocation counts keyed by node id, then slot
// category. Nodes without allocations are absent from the result.
func (s *AllocationService) CountActive(ctx context.Context, nodeIDs []string) (map[string]map[string]int, error) {
	counts := make(map[string]map[string]int)
	if len(nodeIDs) == 0 {
		return counts, nil
	}

	rows, err := s.db.Query(ctx, `
		SELECT node_id, category, COUNT(*)
		FROM allocations
		WHERE node_id = ANY($1) AND status = 'active'
		GROUP BY node_id, category`, nodeIDs)
	if err != nil {
		return nil, fmt.Errorf("count allocations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var nodeID, category string
		var n int
		if err := rows.Scan(&nodeID, &category, &n); err != nil {
			return nil, fmt.Errorf("scan allocation count: %w", err)
		}
		if counts[nodeID] == nil {
			counts[nodeID] = make(map[string]int)
		}
		counts[nodeID][category] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate allocation counts: %w", err)
	}
	return counts, nil
}
