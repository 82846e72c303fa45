package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/relayfleet/internal/model"
)

func TestTrafficService_UpsertBuckets(t *testing.T) {
	db := &mockDB{}
	svc := NewTrafficService(db)
	ctx := context.Background()
	bucket := time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC)

	db.On("Exec", ctx, mock.MatchedBy(func(q string) bool {
		return assert.Contains(t, q, "traffic_buckets.up + EXCLUDED.up")
	}), mock.MatchedBy(func(args []any) bool {
		types := args[0].([]string)
		ups := args[3].([]int64)
		downs := args[4].([]int64)
		return len(types) == 2 && ups[0] == 1000 && downs[1] == 7
	})).Return(pgconn.NewCommandTag("INSERT 0 2"), nil)

	err := svc.UpsertBuckets(ctx, []model.TimeseriesBucket{
		{EntityType: model.EntityNode, EntityID: "n1", BucketTime: bucket, Up: 1000, Down: 2000},
		{EntityType: model.EntityPrincipal, EntityID: "p1", BucketTime: bucket, Up: 3, Down: 7},
	})
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestTrafficService_UpsertBuckets_Empty(t *testing.T) {
	db := &mockDB{}
	svc := NewTrafficService(db)

	require.NoError(t, svc.UpsertBuckets(context.Background(), nil))
	db.AssertNotCalled(t, "Exec")
}

func TestTrafficService_AppendHistory_Error(t *testing.T) {
	db := &mockDB{}
	svc := NewTrafficService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.CommandTag{}, errors.New("disk full"))

	err := svc.AppendHistory(ctx, []model.TrafficHistory{{ID: "h1", EntityType: model.EntityNode, EntityID: "n1", Up: 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append traffic history")
}

func TestTrafficService_ListBuckets(t *testing.T) {
	db := &mockDB{}
	svc := NewTrafficService(db)
	ctx := context.Background()
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(time.Hour)

	rows := newMockRows(func(dest ...any) error {
		*(dest[0].(*string)) = model.EntityNode
		*(dest[1].(*string)) = "n1"
		*(dest[2].(*time.Time)) = from
		*(dest[3].(*int64)) = 10
		*(dest[4].(*int64)) = 20
		return nil
	})
	db.On("Query", ctx, mock.AnythingOfType("string"), []any{model.EntityNode, "n1", from, to}).Return(rows, nil)

	buckets, err := svc.ListBuckets(ctx, model.EntityNode, "n1", from, to)
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, int64(20), buckets[0].Down)
}

func TestTrafficService_Prune(t *testing.T) {
	db := &mockDB{}
	svc := NewTrafficService(db)
	ctx := context.Background()
	before := time.Now().Add(-24 * time.Hour)

	db.On("Exec", ctx, mock.MatchedBy(func(q string) bool {
		return q == `DELETE FROM traffic_buckets WHERE bucket_time < $1`
	}), []any{before}).Return(pgconn.NewCommandTag("DELETE 12"), nil)
	db.On("Exec", ctx, mock.MatchedBy(func(q string) bool {
		return q == `DELETE FROM traffic_history WHERE recorded_at < $1`
	}), []any{before}).Return(pgconn.NewCommandTag("DELETE 4"), nil)

	n, err := svc.PruneBuckets(ctx, before)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)

	n, err = svc.PruneHistory(ctx, before)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}
