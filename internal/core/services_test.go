package core

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServices(t *testing.T) {
	db := &mockDB{}

	svcs := NewServices(db)

	require.NotNil(t, svcs)
	assert.NotNil(t, svcs.Node)
	assert.NotNil(t, svcs.Pool)
	assert.NotNil(t, svcs.Allocation)
	assert.NotNil(t, svcs.Principal)
	assert.NotNil(t, svcs.Traffic)
	assert.NotNil(t, svcs.DesiredState)
}

func TestNotFound_MapsNoRows(t *testing.T) {
	err := notFound(pgx.ErrNoRows, "get node %s", "n1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, pgx.ErrNoRows)
	assert.Equal(t, "get node n1: not found", err.Error())
}

func TestNotFound_PassesOtherErrors(t *testing.T) {
	cause := errors.New("conn reset")
	err := notFound(cause, "get pool %s", "p1")
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrNotFound)
}
