package core

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/edvin/relayfleet/internal/model"
)

// DesiredStateService builds the target document for a node from its
// enabled inbounds and lists the principals entitled to them.
type DesiredStateService struct {
	db DB
}

func NewDesiredStateService(db DB) *DesiredStateService {
	return &DesiredStateService{db: db}
}

// BuildDesiredConfig returns a document that is stable for a given
// underlying state: inbounds are ordered and settings are plain JSON.
func (s *DesiredStateService) BuildDesiredConfig(ctx context.Context, nodeID string) (*model.DesiredConfig, error) {
	var extra []byte
	err := s.db.QueryRow(ctx, `SELECT extra_config FROM nodes WHERE id = $1`, nodeID).Scan(&extra)
	if err != nil {
		return nil, notFound(err, "get node %s", nodeID)
	}

	doc := &model.DesiredConfig{Inbounds: []model.InboundSection{}}
	if len(extra) > 0 {
		if err := json.Unmarshal(extra, &doc.Extra); err != nil {
			return nil, fmt.Errorf("decode extra config for node %s: %w", nodeID, err)
		}
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, tag, protocol, listen, port, settings, stream_settings, sniffing
		FROM inbounds
		WHERE node_id = $1 AND enabled
		ORDER BY tag, id`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("query inbounds for node %s: %w", nodeID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var in model.InboundSection
		var settings, stream, sniffing []byte
		if err := rows.Scan(&in.ID, &in.Tag, &in.Protocol, &in.Listen, &in.Port, &settings, &stream, &sniffing); err != nil {
			return nil, fmt.Errorf("scan inbound: %w", err)
		}
		in.Settings = map[string]any{}
		if len(settings) > 0 {
			if err := json.Unmarshal(settings, &in.Settings); err != nil {
				return nil, fmt.Errorf("decode settings for inbound %s: %w", in.ID, err)
			}
		}
		if len(stream) > 0 {
			in.StreamSettings = json.RawMessage(stream)
		}
		if len(sniffing) > 0 {
			in.Sniffing = json.RawMessage(sniffing)
		}
		doc.Inbounds = append(doc.Inbounds, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inbounds: %w", err)
	}
	return doc, nil
}

// ListEntitledPrincipals returns every enabled principal tagged for at least
// one enabled inbound on the node. Expiry and quota are not filtered here.
func (s *DesiredStateService) ListEntitledPrincipals(ctx context.Context, nodeID string) ([]model.Principal, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+principalColumns+`, array_agg(pi.inbound_id ORDER BY pi.inbound_id)
		FROM principals p
		JOIN principal_inbounds pi ON pi.principal_id = p.id
		JOIN inbounds i ON i.id = pi.inbound_id
		WHERE i.node_id = $1 AND i.enabled AND p.enabled
		GROUP BY p.id
		ORDER BY p.identifier`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("list principals for node %s: %w", nodeID, err)
	}
	defer rows.Close()

	var out []model.Principal
	for rows.Next() {
		var p model.Principal
		if err := scanPrincipal(rows, &p, &p.InboundIDs); err != nil {
			return nil, fmt.Errorf("scan principal: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate principals: %w", err)
	}
	return out, nil
}
