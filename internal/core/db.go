package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the services use.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row
}

// ErrNotFound is returned when a node, pool or principal does not exist.
var ErrNotFound = errors.New("not found")

// notFound wraps pgx.ErrNoRows as ErrNotFound and passes other errors through.
func notFound(err error, format string, args ...any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

type Services struct {
	Node         *NodeService
	Pool         *PoolService
	Allocation   *AllocationService
	Principal    *PrincipalService
	Traffic      *TrafficService
	DesiredState *DesiredStateService
}

func NewServices(db DB) *Services {
	return &Services{
		Node:         NewNodeService(db),
		Pool:         NewPoolService(db),
		Allocation:   NewAllocationService(db),
		Principal:    NewPrincipalService(db),
		Traffic:      NewTrafficService(db),
		DesiredState: NewDesiredStateService(db),
	}
}
