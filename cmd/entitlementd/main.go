// Package main is the entrypoint for the entitlement core service.
//
// The service joins three on-chain facts - license validity, per-unit
// completion progress, and content addresses - into one session state
// machine per (principal, course) pair, and exposes it over REST.
//
// The architecture follows Clean Architecture and DDD:
// - Domain: entities, value objects and ports, no external dependencies
// - Application: session state machine, verifier, progress store, resolver
// - Infrastructure: ledger backends, resolution client, event bus
// - Interface: HTTP endpoints
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chainacademy/entitlement-core/config"
	"github.com/chainacademy/entitlement-core/internal/application/entitlement"
	"github.com/chainacademy/entitlement-core/internal/application/resolve"
	"github.com/chainacademy/entitlement-core/internal/domain/content"
	"github.com/chainacademy/entitlement-core/internal/domain/license"
	"github.com/chainacademy/entitlement-core/internal/domain/progress"
	"github.com/chainacademy/entitlement-core/internal/domain/shared"
	"github.com/chainacademy/entitlement-core/internal/infrastructure/demo"
	"github.com/chainacademy/entitlement-core/internal/infrastructure/external/ledger"
	"github.com/chainacademy/entitlement-core/internal/infrastructure/external/mediagate"
	"github.com/chainacademy/entitlement-core/internal/infrastructure/messaging"
	"github.com/chainacademy/entitlement-core/internal/infrastructure/persistence/postgres"
	httpserver "github.com/chainacademy/entitlement-core/internal/interface/http"
	"github.com/chainacademy/entitlement-core/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	slogger := setupSlog(cfg)
	appLog := logger.Default().WithLevel(logger.ParseLevel(cfg.Observability.LogLevel))

	slogger.Info("starting entitlement core",
		"env", string(cfg.App.Environment),
		"ledger_mode", string(cfg.Ledger.Mode),
		"version", cfg.App.Version,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. LEDGER BACKEND
	// ─────────────────────────────────────────────────────────────────────────
	backend, cleanup, err := buildLedgerBackend(ctx, cfg, slogger)
	if err != nil {
		return err
	}
	defer cleanup()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	bus, busCleanup, err := buildEventBus(ctx, cfg, slogger)
	if err != nil {
		return err
	}
	defer busCleanup()

	// ─────────────────────────────────────────────────────────────────────────
	// 5. CONTENT RESOLVER
	// ─────────────────────────────────────────────────────────────────────────
	var optimized resolve.OptimizedService
	var mediagateClient *mediagate.Client
	if cfg.Resolver.MediagateURL != "" {
		mgCfg := mediagate.DefaultClientConfig(cfg.Resolver.MediagateURL)
		mgCfg.APIKey = cfg.Resolver.MediagateAPIKey
		mgCfg.Timeout = cfg.Resolver.MediagateTimeout
		mgCfg.Logger = slogger
		mediagateClient = mediagate.NewClient(mgCfg)
		optimized = mediagateClient
	} else {
		slogger.Info("no resolution service configured, using fallback gateways only")
		optimized = resolve.NoOptimizedService()
	}

	resolver := resolve.New(optimized, resolve.Config{
		FallbackGateways: cfg.Resolver.FallbackGateways,
		Logger:           slogger,
		Bus:              bus,
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 6. APPLICATION LAYER
	// ─────────────────────────────────────────────────────────────────────────
	verifier := entitlement.NewVerifier(backend.licenses, appLog)
	store := entitlement.NewStore(backend.progress, bus, appLog)
	manager := entitlement.NewManager(backend.catalog, verifier, store, resolver, bus, appLog)

	// A purchase landing anywhere (webhook here, or another instance via
	// Redis) refreshes the matching session.
	if err := bus.Subscribe(shared.EventLicensePurchase, manager.HandleLicensePurchased); err != nil {
		return fmt.Errorf("failed to subscribe purchase handler: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	httpCfg := httpserver.DefaultConfig()
	httpCfg.Host = cfg.HTTP.Host
	httpCfg.Port = cfg.HTTP.Port
	httpCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	httpCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	httpCfg.IdleTimeout = cfg.HTTP.IdleTimeout
	httpCfg.EnableCORS = cfg.HTTP.EnableCORS
	httpCfg.AllowedOrigins = cfg.HTTP.AllowedOrigins
	httpCfg.RateLimitPerMinute = cfg.HTTP.RateLimitPerMinute
	httpCfg.WebhookSecret = cfg.HTTP.WebhookSecret

	server := httpserver.NewServer(httpCfg, httpserver.Dependencies{
		Manager:       manager,
		Bus:           bus,
		HealthChecker: &healthChecker{backend: backend, mediagate: mediagateClient},
		Logger:        appLog,
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 8. RUN AND SHUT DOWN
	// ─────────────────────────────────────────────────────────────────────────
	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
		close(errCh)
	}()

	slogger.Info("entitlement core is running", "address", server.Address())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	select {
	case sig := <-sigCh:
		slogger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			slogger.Error("service error", "error", err)
			return err
		}
	case <-ctx.Done():
	}

	slogger.Info("starting graceful shutdown", "timeout", cfg.App.ShutdownTimeout.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slogger.Error("failed to stop HTTP server gracefully", "error", err)
		return err
	}

	slogger.Info("shutdown completed")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// WIRING
// ══════════════════════════════════════════════════════════════════════════════

// ledgerBackend groups the three ports one backend implementation serves.
type ledgerBackend struct {
	licenses license.Querier
	progress progress.Ledger
	catalog  content.Catalog
	ping     func(ctx context.Context) bool
}

// buildLedgerBackend selects and constructs the ledger backend per config.
func buildLedgerBackend(ctx context.Context, cfg *config.Config, slogger *slog.Logger) (*ledgerBackend, func(), error) {
	noop := func() {}

	switch cfg.Ledger.Mode {
	case config.LedgerGateway:
		clientCfg := ledger.DefaultClientConfig(cfg.Ledger.GatewayURL)
		clientCfg.APIKey = cfg.Ledger.GatewayAPIKey
		clientCfg.Timeout = cfg.Ledger.GatewayTimeout
		clientCfg.RateLimiterConfig.RequestsPerSecond = float64(cfg.Ledger.RateLimit)
		clientCfg.RateLimiterConfig.BurstSize = cfg.Ledger.RateLimitBurst
		clientCfg.Logger = slogger
		clientCfg.Debug = cfg.App.Debug
		client := ledger.NewClient(clientCfg)
		slogger.Info("using chain index gateway", "base_url", cfg.Ledger.GatewayURL)
		return &ledgerBackend{
			licenses: client,
			progress: client,
			catalog:  client,
			ping:     client.IsHealthy,
		}, noop, nil

	case config.LedgerIndexer:
		slogger.Info("connecting to indexer database")
		conn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL, postgres.PoolSettings{
			MaxConns:        int32(cfg.Database.MaxOpenConns),
			MinConns:        int32(cfg.Database.MinIdleConns),
			MaxConnLifetime: cfg.Database.ConnMaxLifetime,
			MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if cfg.Database.Migrate {
			slogger.Info("running database migrations")
			if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
				conn.Close()
				return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
			}
		}
		repo := postgres.NewIndexerLedger(conn, slogger)
		return &ledgerBackend{
			licenses: repo,
			progress: repo,
			catalog:  repo,
			ping:     func(ctx context.Context) bool { return conn.Ping(ctx) == nil },
		}, func() { conn.Close() }, nil

	case config.LedgerDemo:
		slogger.Warn("using in-memory demo ledger, state is not persisted")
		fixture := demo.NewSeededLedger()
		return &ledgerBackend{
			licenses: fixture,
			progress: fixture,
			catalog:  fixture,
			ping:     func(context.Context) bool { return true },
		}, noop, nil

	default:
		return nil, nil, fmt.Errorf("unknown ledger mode %q", cfg.Ledger.Mode)
	}
}

// buildEventBus constructs the event bus: in-memory for single instances,
// Redis-backed when cross-instance fan-out is enabled.
func buildEventBus(ctx context.Context, cfg *config.Config, slogger *slog.Logger) (shared.EventBus, func(), error) {
	localCfg := messaging.DefaultInMemoryEventBusConfig()
	localCfg.Logger = slogger

	if cfg.Redis.Disabled {
		bus := messaging.NewInMemoryEventBus(localCfg)
		return bus, func() { _ = bus.Close() }, nil
	}

	slogger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
	client, err := messaging.NewGoRedisClient(ctx, messaging.GoRedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	bus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
		Client:         client,
		ChannelName:    cfg.Redis.EventChannel,
		LocalBusConfig: localCfg,
		Logger:         slogger,
	})
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to start redis event bus: %w", err)
	}

	return bus, func() {
		_ = bus.Close()
		_ = client.Close()
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

// healthChecker reports backend reachability for /health and /ready.
type healthChecker struct {
	backend   *ledgerBackend
	mediagate *mediagate.Client
}

func (h *healthChecker) Check(ctx context.Context) httpserver.HealthStatus {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	components := map[string]string{}
	healthy := true

	if h.backend.ping(checkCtx) {
		components["ledger"] = "up"
	} else {
		components["ledger"] = "down"
		healthy = false
	}

	// The resolver degrades to fallback gateways on its own; a down
	// resolution service does not make the process unhealthy.
	if h.mediagate != nil {
		if h.mediagate.IsHealthy(checkCtx) {
			components["mediagate"] = "up"
		} else {
			components["mediagate"] = "degraded"
		}
	}

	status := httpserver.HealthStatus{
		Healthy:    healthy,
		Ready:      healthy,
		Components: components,
	}
	if !healthy {
		status.Message = "ledger backend unreachable"
	}
	return status
}

// setupSlog configures the process-wide structured logger.
func setupSlog(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.App.Debug {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Observability.LogFormat == "json" || cfg.IsProduction() {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}
