package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/edvin/relayfleet/internal/aggregate"
	"github.com/edvin/relayfleet/internal/api"
	"github.com/edvin/relayfleet/internal/balancer"
	"github.com/edvin/relayfleet/internal/config"
	"github.com/edvin/relayfleet/internal/core"
	"github.com/edvin/relayfleet/internal/db"
	"github.com/edvin/relayfleet/internal/health"
	"github.com/edvin/relayfleet/internal/jobs"
	"github.com/edvin/relayfleet/internal/kv"
	"github.com/edvin/relayfleet/internal/logging"
	"github.com/edvin/relayfleet/internal/metrics"
	"github.com/edvin/relayfleet/internal/model"
	"github.com/edvin/relayfleet/internal/nodesync"
)

func main() {
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	migrateOnlyFlag := flag.Bool("migrate-only", false, "Run database migrations and exit")
	migrateDirFlag := flag.String("migrate-dir", "migrations", "Migration files directory")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	service := "fleet-api"
	if *migrateOnlyFlag {
		service = "migrate"
	}
	if err := cfg.Validate(service); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	if *migrateFlag || *migrateOnlyFlag {
		logger.Info().Str("dir", *migrateDirFlag).Msg("running database migrations")
		version, err := db.RunMigrations(cfg.DatabaseURL, *migrateDirFlag)
		if err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		logger.Info().Int64("version", version).Msg("database migrated")
		if *migrateOnlyFlag {
			return
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	metrics.RegisterPgxPoolMetrics(pool)

	redisClient, err := kv.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	store := kv.NewRedisStore(redisClient, cfg.RedisPrefix)

	services := core.NewServices(pool)

	syncSvc := nodesync.NewService(store, services.Node, services.DesiredState, nodesync.Options{
		TokenTTL:          cfg.TokenTTL,
		RuntimeTTL:        cfg.RuntimeTTL,
		CounterTTL:        cfg.CounterTTL,
		DeviceTTL:         cfg.DeviceTTL,
		BandwidthWindow:   cfg.BandwidthWindow,
		PresenceOffline:   cfg.PresenceOffline,
		PrincipalCacheTTL: cfg.PrincipalCacheTTL,
		RawReportsMax:     cfg.RawReportsMax,
		Intervals: model.PollIntervals{
			ConfigPoll:    seconds(cfg.ConfigPollInterval),
			UsersPoll:     seconds(cfg.UsersPollInterval),
			TrafficReport: seconds(cfg.TrafficReportInterval),
			StatusReport:  seconds(cfg.StatusReportInterval),
			AlivePoll:     seconds(cfg.AlivePollInterval),
		},
	}, logger)

	selector := balancer.NewSelector(store, services.Node, services.Pool, services.Allocation,
		cfg.BandwidthWindow, cfg.RoundRobinTTL, logger)

	monitor := health.NewMonitor(store, services.Node, services.Pool, services.Allocation,
		cfg.DefaultNodeTimeout, cfg.StrikeTTL, logger)
	aggregator := aggregate.NewAggregator(store, services.Traffic, services.Principal,
		cfg.BucketSize, cfg.CounterTTL, logger)
	retention := aggregate.NewRetention(services.Traffic, cfg.BucketRetention, cfg.HistoryRetention, logger)

	runner := jobs.NewRunner(logger,
		jobs.Task{
			Name:      "health",
			Interval:  cfg.HealthInterval,
			Immediate: true,
			Run: func(ctx context.Context) error {
				_, err := monitor.RunOnce(ctx)
				return err
			},
		},
		jobs.Task{
			Name:     "aggregation",
			Interval: cfg.AggregationInterval,
			Run: func(ctx context.Context) error {
				_, err := aggregator.RunOnce(ctx)
				return err
			},
		},
		jobs.Task{
			Name:     "retention",
			Interval: cfg.RetentionInterval,
			Run:      retention.RunOnce,
		},
	)

	srv := api.NewServer(logger, syncSvc, selector, map[string]api.Pinger{
		"postgres": pool,
		"redis":    store,
	}, cfg.NodeAPIToken)

	httpServer := &http.Server{
		Addr:         cfg.HTTPListenAddr,
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	metricsServer := metrics.NewServer(cfg.MetricsListenAddr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.HTTPListenAddr).Msg("starting fleet API server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info().Str("addr", cfg.MetricsListenAddr).Msg("starting metrics server")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return runner.Run(gctx)
	})
	g.Go(func() error {
		if err := syncSvc.WatchInvalidations(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("watch invalidations: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
		metricsServer.Shutdown(shutdownCtx)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("fleet API exited with error")
		os.Exit(1)
	}
}

func seconds(d time.Duration) int {
	return int(d / time.Second)
}
