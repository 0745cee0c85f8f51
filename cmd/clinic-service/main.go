package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Bomussa/Eme/internal/admin"
	"github.com/Bomussa/Eme/internal/catalog"
	"github.com/Bomussa/Eme/internal/config"
	"github.com/Bomussa/Eme/internal/httpapi"
	"github.com/Bomussa/Eme/internal/hub"
	"github.com/Bomussa/Eme/internal/logging"
	"github.com/Bomussa/Eme/internal/metrics"
	"github.com/Bomussa/Eme/internal/pin"
	"github.com/Bomussa/Eme/internal/progression"
	"github.com/Bomussa/Eme/internal/queue"
	"github.com/Bomussa/Eme/internal/realtime"
	"github.com/Bomussa/Eme/internal/relay"
	"github.com/Bomussa/Eme/internal/reports"
	"github.com/Bomussa/Eme/internal/routing"
	"github.com/Bomussa/Eme/internal/store"
	"github.com/Bomussa/Eme/internal/store/guard"
	"github.com/Bomussa/Eme/internal/store/memory"
	"github.com/Bomussa/Eme/internal/store/postgres"
	"github.com/Bomussa/Eme/internal/telemetry"
	"github.com/Bomussa/Eme/migrations"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const serviceName = "clinic-service"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   serviceName,
		Short: "Medical examination clinic queue service",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and realtime workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrator, closePool, err := openMigrator(cmd.Context())
			if err != nil {
				return err
			}
			defer closePool()

			count, err := migrator.Up(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrator, closePool, err := openMigrator(cmd.Context())
			if err != nil {
				return err
			}
			defer closePool()

			statuses, err := migrator.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	})

	return cmd
}

func openMigrator(ctx context.Context) (*postgres.Migrator, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.StoreDriver != config.DriverPostgres {
		return nil, nil, errors.New("migrations require STORE_DRIVER=postgres")
	}
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		return nil, nil, err
	}
	return postgres.NewMigrator(pool, migrations.FS), pool.Close, nil
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Env, cfg.LogLevel).With().Str("service", serviceName).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing := telemetry.Setup(ctx, serviceName, version, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("tracing shutdown")
		}
	}()

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	c := catalog.Default()
	if cfg.CatalogFile != "" {
		if c, err = catalog.Load(cfg.CatalogFile); err != nil {
			return err
		}
		logger.Info().Str("file", cfg.CatalogFile).Msg("catalog loaded")
	}

	m := metrics.NewCollector("clinic")
	pins := pin.New(st, c, cfg.Location(), cfg.PinResetHour, logger, m)
	router := routing.New(c, st, logger, m)
	events := hub.New(logger, m)

	handler := httpapi.NewHandler(httpapi.Services{
		Catalog:  c,
		Queue:    queue.NewService(st, c, logger, m, queue.WithCalendar(pins)),
		Patients: progression.NewService(st, c, router, pins, logger, m),
		Pins:     pins,
		Admin:    admin.NewAggregator(c, st, pins, 0),
		Reports:  reports.NewBuilder(c, st, pins),
		Hub:      events,
		Health:   st,
	}, httpapi.Options{
		HeartbeatInterval: cfg.HeartbeatInterval(),
		Maintenance:       cfg.MaintenanceMode,
		Version:           version,
	}, logger, m)
	limiter, err := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:    cfg.RateLimitPerMinute,
		IPBurst:        cfg.RateLimitBurst,
		TrustedProxies: cfg.Proxies(),
	})
	if err != nil {
		return err
	}

	poller := realtime.NewPoller(st, events, cfg.OutboxBatchSize, logger, m)
	go poller.Start(ctx, cfg.PollInterval())

	if brokers := cfg.Brokers(); len(brokers) > 0 {
		writer := relay.NewWriter(brokers, cfg.KafkaTopic)
		defer func() {
			if err := writer.Close(); err != nil {
				logger.Warn().Err(err).Msg("kafka writer close")
			}
		}()
		go relay.Start(ctx, cfg.PollInterval(), relay.New(st, writer, relay.Config{BatchSize: cfg.OutboxBatchSize}, logger, m))
		logger.Info().Strs("brokers", brokers).Str("topic", cfg.KafkaTopic).Msg("kafka relay enabled")
	}

	var h http.Handler = limiter.Middleware(handler.Routes())
	h = httpapi.LoggingMiddleware(logger, m)(h)
	h = httpapi.RecoveryMiddleware(logger)(h)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(h, serviceName),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Str("store", cfg.StoreDriver).Msg("clinic-service listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
	return nil
}

// openStore returns the configured backend. The postgres store sits behind a
// circuit breaker.
func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (store.Store, func(), error) {
	if cfg.StoreDriver == config.DriverMemory {
		logger.Warn().Msg("using in-memory store; data is lost on restart")
		return memory.NewStore(), func() {}, nil
	}
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		return nil, nil, err
	}
	logger.Info().Msg("connected to database")
	guarded := guard.New(postgres.NewStore(pool), guard.Options{
		MaxFailures: cfg.BreakerMaxFailures,
		OpenTimeout: cfg.BreakerOpenTimeout(),
	}, logger)
	return guarded, pool.Close, nil
}
