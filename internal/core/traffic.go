package core

import (
	"context"
	"fmt"
	"time"

	"github.com/edvin/relayfleet/internal/model"
)

// TrafficService persists aggregated traffic: additive time buckets and
// cumulative history rows.
type TrafficService struct {
	db DB
}

func NewTrafficService(db DB) *TrafficService {
	return &TrafficService{db: db}
}

// UpsertBuckets adds each bucket's totals onto any existing row for the same
// (entity_type, entity_id, bucket_time). Keys must be unique within a call.
func (s *TrafficService) UpsertBuckets(ctx context.Context, buckets []model.TimeseriesBucket) error {
	if len(buckets) == 0 {
		return nil
	}
	types := make([]string, len(buckets))
	ids := make([]string, len(buckets))
	times := make([]time.Time, len(buckets))
	ups := make([]int64, len(buckets))
	downs := make([]int64, len(buckets))
	for i, b := range buckets {
		types[i], ids[i], times[i], ups[i], downs[i] = b.EntityType, b.EntityID, b.BucketTime, b.Up, b.Down
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO traffic_buckets (entity_type, entity_id, bucket_time, up, down)
		SELECT * FROM unnest($1::text[], $2::text[], $3::timestamptz[], $4::bigint[], $5::bigint[])
		ON CONFLICT (entity_type, entity_id, bucket_time) DO UPDATE SET
			up = traffic_buckets.up + EXCLUDED.up,
			down = traffic_buckets.down + EXCLUDED.down`,
		types, ids, times, ups, downs)
	if err != nil {
		return fmt.Errorf("upsert traffic buckets: %w", err)
	}
	return nil
}

func (s *TrafficService) AppendHistory(ctx context.Context, rows []model.TrafficHistory) error {
	if len(rows) == 0 {
		return nil
	}
	ids := make([]string, len(rows))
	types := make([]string, len(rows))
	entityIDs := make([]string, len(rows))
	ups := make([]int64, len(rows))
	downs := make([]int64, len(rows))
	at := make([]time.Time, len(rows))
	for i, r := range rows {
		ids[i], types[i], entityIDs[i], ups[i], downs[i], at[i] = r.ID, r.EntityType, r.EntityID, r.Up, r.Down, r.RecordedAt
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO traffic_history (id, entity_type, entity_id, up, down, recorded_at)
		SELECT * FROM unnest($1::text[], $2::text[], $3::text[], $4::bigint[], $5::bigint[], $6::timestamptz[])`,
		ids, types, entityIDs, ups, downs, at)
	if err != nil {
		return fmt.Errorf("append traffic history: %w", err)
	}
	return nil
}

// ListBuckets returns one entity's buckets in [from, to), oldest first.
func (s *TrafficService) ListBuckets(ctx context.Context, entityType, entityID string, from, to time.Time) ([]model.TimeseriesBucket, error) {
	rows, err := s.db.Query(ctx, `
		SELECT entity_type, entity_id, bucket_time, up, down
		FROM traffic_buckets
		WHERE entity_type = $1 AND entity_id = $2 AND bucket_time >= $3 AND bucket_time < $4
		ORDER BY bucket_time`, entityType, entityID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list buckets for %s %s: %w", entityType, entityID, err)
	}
	defer rows.Close()

	var out []model.TimeseriesBucket
	for rows.Next() {
		var b model.TimeseriesBucket
		if err := rows.Scan(&b.EntityType, &b.EntityID, &b.BucketTime, &b.Up, &b.Down); err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate buckets: %w", err)
	}
	return out, nil
}

func (s *TrafficService) PruneBuckets(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM traffic_buckets WHERE bucket_time < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune traffic buckets: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *TrafficService) PruneHistory(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM traffic_history WHERE recorded_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune traffic history: %w", err)
	}
	return tag.RowsAffected(), nil
}
