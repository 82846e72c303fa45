package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// PoolStater is satisfied by *pgxpool.Pool.
type PoolStater interface {
	Stat() *pgxpool.Stat
}

type poolGauge struct {
	name  string
	help  string
	value func(*pgxpool.Stat) float64
}

var poolGauges = []poolGauge{
	{"fleet_pgxpool_acquired_conns", "Connections currently checked out of the pool.",
		func(s *pgxpool.Stat) float64 { return float64(s.AcquiredConns()) }},
	{"fleet_pgxpool_idle_conns", "Idle connections held by the pool.",
		func(s *pgxpool.Stat) float64 { return float64(s.IdleConns()) }},
	{"fleet_pgxpool_total_conns", "Connections owned by the pool.",
		func(s *pgxpool.Stat) float64 { return float64(s.TotalConns()) }},
	{"fleet_pgxpool_max_conns", "Configured pool ceiling.",
		func(s *pgxpool.Stat) float64 { return float64(s.MaxConns()) }},
	{"fleet_pgxpool_empty_acquire_total", "Acquires that had to wait for a connection.",
		func(s *pgxpool.Stat) float64 { return float64(s.EmptyAcquireCount()) }},
	{"fleet_pgxpool_acquire_wait_seconds_total", "Cumulative time spent waiting to acquire.",
		func(s *pgxpool.Stat) float64 { return s.AcquireDuration().Seconds() }},
}

// RegisterPgxPoolMetrics exposes pool statistics on the default registry.
func RegisterPgxPoolMetrics(pool PoolStater) {
	RegisterPoolMetrics(prometheus.DefaultRegisterer, pool)
}

// RegisterPoolMetrics registers one gauge per pool statistic on reg. Each
// scrape takes a fresh snapshot.
func RegisterPoolMetrics(reg prometheus.Registerer, pool PoolStater) {
	for _, g := range poolGauges {
		value := g.value
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: g.name,
			Help: g.help,
		}, func() float64 {
			return value(pool.Stat())
		}))
	}
}
