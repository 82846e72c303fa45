package core

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/relayfleet/internal/model"
)

func inboundScanFunc(id, tag, protocol string, port int, settings string) func(dest ...any) error {
	return func(dest ...any) error {
		*(dest[0].(*string)) = id
		*(dest[1].(*string)) = tag
		*(dest[2].(*string)) = protocol
		*(dest[3].(*string)) = "0.0.0.0"
		*(dest[4].(*int)) = port
		*(dest[5].(*[]byte)) = []byte(settings)
		*(dest[6].(*[]byte)) = []byte(`{"network":"tcp"}`)
		*(dest[7].(*[]byte)) = nil
		return nil
	}
}

func TestDesiredStateService_BuildDesiredConfig(t *testing.T) {
	db := &mockDB{}
	svc := NewDesiredStateService(db)
	ctx := context.Background()

	extraRow := &mockRow{scanFunc: func(dest ...any) error {
		*(dest[0].(*[]byte)) = []byte(`{"log":{"loglevel":"warning"}}`)
		return nil
	}}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"n1"}).Return(extraRow)

	rows := newMockRows(
		inboundScanFunc("i1", "vless-in", model.ProtocolVLESS, 443, `{"decryption":"none"}`),
		inboundScanFunc("i2", "vmess-in", model.ProtocolVMess, 8443, ``),
	)
	db.On("Query", ctx, mock.AnythingOfType("string"), []any{"n1"}).Return(rows, nil)

	doc, err := svc.BuildDesiredConfig(ctx, "n1")
	require.NoError(t, err)
	require.Len(t, doc.Inbounds, 2)
	assert.Equal(t, "none", doc.Inbounds[0].Settings["decryption"])
	assert.NotNil(t, doc.Inbounds[1].Settings)
	assert.Nil(t, doc.Inbounds[1].Sniffing)
	assert.Contains(t, doc.Extra, "log")
}

func TestDesiredStateService_BuildDesiredConfig_NodeMissing(t *testing.T) {
	db := &mockDB{}
	svc := NewDesiredStateService(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }})

	_, err := svc.BuildDesiredConfig(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	db.AssertNotCalled(t, "Query")
}

func TestDesiredStateService_BuildDesiredConfig_NoInbounds(t *testing.T) {
	db := &mockDB{}
	svc := NewDesiredStateService(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFunc: func(dest ...any) error { return nil }})
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(newEmptyMockRows(), nil)

	doc, err := svc.BuildDesiredConfig(ctx, "n1")
	require.NoError(t, err)
	assert.NotNil(t, doc.Inbounds)
	assert.Empty(t, doc.Inbounds)
}

func TestDesiredStateService_ListEntitledPrincipals(t *testing.T) {
	db := &mockDB{}
	svc := NewDesiredStateService(db)
	ctx := context.Background()

	rows := newMockRows(
		principalScanFunc("p1", "alice", 0, 0, 0, "i1", "i2"),
		principalScanFunc("p2", "bob", 100, 100, 0, "i2"),
	)
	db.On("Query", ctx, mock.MatchedBy(func(q string) bool {
		return assert.Contains(t, q, "array_agg")
	}), []any{"n1"}).Return(rows, nil)

	ps, err := svc.ListEntitledPrincipals(ctx, "n1")
	require.NoError(t, err)
	require.Len(t, ps, 2)
	assert.Equal(t, []string{"i1", "i2"}, ps[0].InboundIDs)
	assert.True(t, ps[1].QuotaExhausted())
}

func TestDesiredStateService_ListEntitledPrincipals_Error(t *testing.T) {
	db := &mockDB{}
	svc := NewDesiredStateService(db)
	ctx := context.Background()

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(nil, errors.New("down"))

	_, err := svc.ListEntitledPrincipals(ctx, "n1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list principals for node n1")
}
