package core

import (
	"context"
	"fmt"

	"github.com/edvin/relayfleet/internal/model"
)

type PoolService struct {
	db DB
}

func NewPoolService(db DB) *PoolService {
	return &PoolService{db: db}
}

func scanPool(row rowScanner, p *model.NodePool) error {
	var settings []byte
	if err := row.Scan(&p.ID, &p.TenantID, &p.Name, &p.Strategy, &settings, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return err
	}
	policy, err := model.ParsePoolPolicy(settings)
	if err != nil {
		return fmt.Errorf("pool %s: %w", p.ID, err)
	}
	p.Policy = policy
	return nil
}

func (s *PoolService) GetByID(ctx context.Context, id string) (*model.NodePool, error) {
	var p model.NodePool
	row := s.db.QueryRow(ctx,
		`SELECT id, tenant_id, name, strategy, settings, created_at, updated_at FROM node_pools WHERE id = $1`, id)
	if err := scanPool(row, &p); err != nil {
		return nil, notFound(err, "get pool %s", id)
	}
	return &p, nil
}

func (s *PoolService) List(ctx context.Context) ([]model.NodePool, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, tenant_id, name, strategy, settings, created_at, updated_at FROM node_pools ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list pools: %w", err)
	}
	defer rows.Close()

	var pools []model.NodePool
	for rows.Next() {
		var p model.NodePool
		if err := scanPool(rows, &p); err != nil {
			return nil, fmt.Errorf("scan pool: %w", err)
		}
		pools = append(pools, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pools: %w", err)
	}
	return pools, nil
}
