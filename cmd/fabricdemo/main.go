package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tenantfabric/core/internal/config"
	"github.com/tenantfabric/core/internal/httpserver"
	"github.com/tenantfabric/core/internal/platform"
	"github.com/tenantfabric/core/internal/telemetry"
	"github.com/tenantfabric/core/pkg/tenantcore"
	"github.com/tenantfabric/core/pkg/tenantcore/events"
)

func main() {
	migrateOnly := flag.Bool("migrate-only", false, "run catalog migrations and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: loading config: %v\n", err)
		os.Exit(1)
	}

	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger, *migrateOnly); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, migrateOnly bool) error {
	if err := platform.RunCatalogMigrations(cfg.CatalogDatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running catalog migrations: %w", err)
	}
	if migrateOnly {
		logger.Info("catalog migrations applied")
		return nil
	}

	catalogPool, err := platform.NewPostgresPool(ctx, cfg.CatalogDatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to catalog database: %w", err)
	}
	defer catalogPool.Close()

	l1Max, l1TTL, l1Idle, l2TTL, poolAcquire, poolIdle, err := parseDurations(cfg)
	if err != nil {
		return err
	}

	builder := tenantcore.New(catalogPool, nil).
		WithEncryptionFromEnv().
		WithDatabases(
			tenantcore.DatabaseConfig{Name: "products", MaxConnections: cfg.PoolMaxConnections, MinConnections: cfg.PoolMinConnections},
			tenantcore.DatabaseConfig{Name: "orders", MaxConnections: cfg.PoolMaxConnections, MinConnections: cfg.PoolMinConnections},
		).
		WithPoolDefaults(cfg.PoolMaxConnections, cfg.PoolMinConnections, poolAcquire, poolIdle).
		WithJWTSecret(cfg.JWTSecret).
		WithLogger(logger)

	if cfg.EnableL1 {
		builder = builder.WithLocalCache(l1Max, l1TTL, l1Idle)
	}
	if cfg.EnableL2 {
		builder = builder.WithRedisCache(cfg.RedisURL, l2TTL)
	}

	core, err := builder.Build(ctx)
	if err != nil {
		return fmt.Errorf("building tenant fabric: %w", err)
	}
	defer core.Pools().CloseAll()

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	stopStats := reportStatsPeriodically(ctx, core, 15*time.Second)
	defer stopStats()

	stopEvents, err := runEventSubscriber(ctx, cfg, logger, core)
	if err != nil {
		logger.Warn("event subscriber disabled", "error", err)
	} else {
		defer stopEvents()
	}

	server := httpserver.NewServer(httpserver.ServerConfig{CORSAllowedOrigins: cfg.CORSAllowedOrigins}, logger, core, metricsReg)

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down http server: %w", err)
		}
		return nil
	}
}

func parseDurations(cfg *config.Config) (l1Max int, l1TTL, l1Idle, l2TTL, poolAcquire, poolIdle time.Duration, err error) {
	l1Max = cfg.L1MaxEntries
	if l1TTL, err = time.ParseDuration(cfg.L1TTL); err != nil {
		return 0, 0, 0, 0, 0, 0, fmt.Errorf("parsing L1_TTL: %w", err)
	}
	if l1Idle, err = time.ParseDuration(cfg.L1IdleTTL); err != nil {
		return 0, 0, 0, 0, 0, 0, fmt.Errorf("parsing L1_IDLE_TTL: %w", err)
	}
	if l2TTL, err = time.ParseDuration(cfg.L2TTL); err != nil {
		return 0, 0, 0, 0, 0, 0, fmt.Errorf("parsing L2_TTL: %w", err)
	}
	if poolAcquire, err = time.ParseDuration(cfg.PoolAcquireTimeout); err != nil {
		return 0, 0, 0, 0, 0, 0, fmt.Errorf("parsing POOL_ACQUIRE_TIMEOUT: %w", err)
	}
	if poolIdle, err = time.ParseDuration(cfg.PoolIdleTimeout); err != nil {
		return 0, 0, 0, 0, 0, 0, fmt.Errorf("parsing POOL_IDLE_TIMEOUT: %w", err)
	}
	return l1Max, l1TTL, l1Idle, l2TTL, poolAcquire, poolIdle, nil
}

// reportStatsPeriodically polls Core.Stats into the pool gauge on every
// tick until ctx is cancelled.
func reportStatsPeriodically(ctx context.Context, core *tenantcore.Core, interval time.Duration) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				close(done)
				return
			case <-ticker.C:
				stats := core.Stats()
				telemetry.PoolsActive.Set(float64(stats.ActivePools))
			}
		}
	}()
	return func() { <-done }
}

// runEventSubscriber wires a durable JetStream consumer to the fabric's
// default lifecycle handler, counting processed events by outcome.
func runEventSubscriber(ctx context.Context, cfg *config.Config, logger *slog.Logger, core *tenantcore.Core) (func(), error) {
	sub, err := events.NewSubscriber(ctx, cfg.NATSURL, cfg.EventStream, cfg.EventConsumer, logger)
	if err != nil {
		return nil, fmt.Errorf("connecting event subscriber: %w", err)
	}

	handler := &events.DefaultHandler{
		Resolver: core.Resolver(),
		Pools:    core.Pools(),
		Declared: core.Databases(),
		Warm:     core.Catalog().Fetch,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := sub.Subscribe(ctx, &countingHandler{Handler: handler}); err != nil {
			logger.Error("event subscriber stopped", "error", err)
		}
	}()

	return func() { <-done }, nil
}

// countingHandler decorates a Handler with EventsProcessedTotal counters,
// keeping pkg/tenantcore/events free of any dependency on this demo's
// telemetry package.
type countingHandler struct {
	events.Handler
}

func (h *countingHandler) OnTenantCreated(ctx context.Context, e *events.TenantCreatedEvent) error {
	return count("tenant_created", h.Handler.OnTenantCreated(ctx, e))
}

func (h *countingHandler) OnTenantDeactivated(ctx context.Context, e *events.TenantDeactivatedEvent) error {
	return count("tenant_deactivated", h.Handler.OnTenantDeactivated(ctx, e))
}

func (h *countingHandler) OnDatabaseCreated(ctx context.Context, e *events.DatabaseCreatedEvent) error {
	return count("database_created", h.Handler.OnDatabaseCreated(ctx, e))
}

func (h *countingHandler) OnDatabaseUpdated(ctx context.Context, e *events.DatabaseUpdatedEvent) error {
	return count("database_updated", h.Handler.OnDatabaseUpdated(ctx, e))
}

func (h *countingHandler) OnDatabaseDeactivated(ctx context.Context, e *events.DatabaseDeactivatedEvent) error {
	return count("database_deactivated", h.Handler.OnDatabaseDeactivated(ctx, e))
}

func count(tag string, err error) error {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	telemetry.EventsProcessedTotal.WithLabelValues(tag, outcome).Inc()
	return err
}
