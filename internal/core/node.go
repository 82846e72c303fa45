package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/edvin/relayfleet/internal/model"
)

type NodeService struct {
	db DB
}

func NewNodeService(db DB) *NodeService {
	return &NodeService{db: db}
}

const nodeColumns = `id, tenant_id, pool_id, name, status, last_seen_at, capacity, runtime, system_info, egress_ip, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner, n *model.Node) error {
	var capacity, runtime, systemInfo []byte
	if err := row.Scan(&n.ID, &n.TenantID, &n.PoolID, &n.Name, &n.Status, &n.LastSeenAt,
		&capacity, &runtime, &systemInfo, &n.EgressIP, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return err
	}
	if len(capacity) > 0 {
		if err := json.Unmarshal(capacity, &n.Capacity); err != nil {
			return fmt.Errorf("decode capacity for node %s: %w", n.ID, err)
		}
	}
	if len(runtime) > 0 {
		if err := json.Unmarshal(runtime, &n.Runtime); err != nil {
			return fmt.Errorf("decode runtime for node %s: %w", n.ID, err)
		}
	}
	if len(systemInfo) > 0 {
		n.SystemInfo = json.RawMessage(systemInfo)
	}
	return nil
}

func (s *NodeService) GetByID(ctx context.Context, id string) (*model.Node, error) {
	var n model.Node
	row := s.db.QueryRow(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = $1`, id)
	if err := scanNode(row, &n); err != nil {
		return nil, notFound(err, "get node %s", id)
	}
	return &n, nil
}

// ListByPool returns the pool's nodes ordered by id. An empty status lists
// every node regardless of status.
func (s *NodeService) ListByPool(ctx context.Context, poolID, status string) ([]model.Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE pool_id = $1`
	args := []any{poolID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY id`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list nodes for pool %s: %w", poolID, err)
	}
	defer rows.Close()

	var nodes []model.Node
	for rows.Next() {
		var n model.Node
		if err := scanNode(rows, &n); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nodes: %w", err)
	}
	return nodes, nil
}

// MarkRegistered marks the node online and stores the agent's system info.
func (s *NodeService) MarkRegistered(ctx context.Context, id string, info model.AgentInfo, at time.Time) error {
	infoJSON, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode system info: %w", err)
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE nodes SET status = $1, last_seen_at = $2, system_info = $3, updated_at = now() WHERE id = $4`,
		model.NodeStatusOnline, at, infoJSON, id,
	)
	if err != nil {
		return fmt.Errorf("register node %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("register node %s: %w", id, ErrNotFound)
	}
	return nil
}

// RecordStatus stores a runtime snapshot and refreshes liveness to seenAt,
// which is the server's receipt time rather than the agent's clock.
func (s *NodeService) RecordStatus(ctx context.Context, id string, runtime model.NodeRuntime, seenAt time.Time) error {
	runtimeJSON, err := json.Marshal(runtime)
	if err != nil {
		return fmt.Errorf("encode runtime: %w", err)
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE nodes SET status = $1, last_seen_at = $2, runtime = $3, updated_at = now() WHERE id = $4`,
		model.NodeStatusOnline, seenAt, runtimeJSON, id,
	)
	if err != nil {
		return fmt.Errorf("record status for node %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("record status for node %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *NodeService) SetStatus(ctx context.Context, id, status string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE nodes SET status = $1, updated_at = now() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("set status %s for node %s: %w", status, id, err)
	}
	return nil
}

// MarkStaleUngroupedOffline flips every online node outside a pool whose
// last report is older than cutoff to offline in a single statement.
func (s *NodeService) MarkStaleUngroupedOffline(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE nodes SET status = $1, updated_at = now()
		 WHERE pool_id IS NULL AND status = $2 AND (last_seen_at IS NULL OR last_seen_at < $3)`,
		model.NodeStatusOffline, model.NodeStatusOnline, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("mark stale ungrouped nodes offline: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *NodeService) SetEgressIP(ctx context.Context, id, ip string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE nodes SET egress_ip = $1, updated_at = now() WHERE id = $2`, ip, id)
	if err != nil {
		return fmt.Errorf("set egress ip for node %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set egress ip for node %s: %w", id, ErrNotFound)
	}
	return nil
}
