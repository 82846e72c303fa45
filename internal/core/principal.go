package core

import (
	"context"
	"fmt"

	"github.com/edvin/relayfleet/internal/model"
)

type PrincipalService struct {
	db DB
}

func NewPrincipalService(db DB) *PrincipalService {
	return &PrincipalService{db: db}
}

const principalColumns = `p.id, p.identifier, p.uuid, p.password, p.flow, p.expires_at, p.total_quota, p.used_quota,
	p.upload_limit, p.download_limit, p.device_limit`

func scanPrincipal(row rowScanner, p *model.Principal, extra ...any) error {
	dest := []any{&p.ID, &p.Identifier, &p.UUID, &p.Password, &p.Flow, &p.ExpiresAt, &p.TotalQuota, &p.UsedQuota,
		&p.UploadLimit, &p.DownloadLimit, &p.DeviceLimit}
	return row.Scan(append(dest, extra...)...)
}

// ListByIdentifiers batch-resolves principals by identifier in one query.
func (s *PrincipalService) ListByIdentifiers(ctx context.Context, identifiers []string) (map[string]model.Principal, error) {
	out := make(map[string]model.Principal, len(identifiers))
	if len(identifiers) == 0 {
		return out, nil
	}

	rows, err := s.db.Query(ctx,
		`SELECT `+principalColumns+` FROM principals p WHERE p.identifier = ANY($1)`, identifiers)
	if err != nil {
		return nil, fmt.Errorf("list principals by identifier: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p model.Principal
		if err := scanPrincipal(rows, &p); err != nil {
			return nil, fmt.Errorf("scan principal: %w", err)
		}
		out[p.Identifier] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate principals: %w", err)
	}
	return out, nil
}

// AddUsage increments lifetime used bytes, keyed by principal id, in a
// single statement.
func (s *PrincipalService) AddUsage(ctx context.Context, usage map[string]int64) error {
	if len(usage) == 0 {
		return nil
	}
	ids := make([]string, 0, len(usage))
	bytes := make([]int64, 0, len(usage))
	for id, n := range usage {
		ids = append(ids, id)
		bytes = append(bytes, n)
	}

	_, err := s.db.Exec(ctx, `
		UPDATE principals SET used_quota = principals.used_quota + v.bytes, updated_at = now()
		FROM (SELECT unnest($1::text[]) AS id, unnest($2::bigint[]) AS bytes) v
		WHERE principals.id = v.id`, ids, bytes)
	if err != nil {
		return fmt.Errorf("add principal usage: %w", err)
	}
	return nil
}
