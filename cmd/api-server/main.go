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

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/doctor-slot-scheduling/internal/api"
	"github.com/hackgods/doctor-slot-scheduling/internal/config"
	"github.com/hackgods/doctor-slot-scheduling/internal/db"
	"github.com/hackgods/doctor-slot-scheduling/internal/logging"
	redisclient "github.com/hackgods/doctor-slot-scheduling/internal/redis"
	"github.com/hackgods/doctor-slot-scheduling/internal/scheduling"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "api-server",
		Short: "Doctor slot scheduling API",
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
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := logging.New(cfg.Env, cfg.LogLevel)

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, logger)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pool.Close()

			applied, err := db.NewMigrator(pool, db.Migrations()).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			logger.Info().Strs("applied", applied).Msgf("applied %d migration(s)", len(applied))
			return nil
		},
	}
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}

	logger := logging.New(cfg.Env, cfg.LogLevel)
	logger.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("timezone", cfg.Location.String()).
		Int("horizon_months", cfg.HorizonMonths).
		Bool("atomic_reschedule", cfg.AtomicReschedule).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, logger)
	cancelPg()
	if err != nil {
		return fmt.Errorf("postgres connection: %w", err)
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	rdb, locker, cache := connectRedis(rootCtx, cfg, logger)
	if rdb != nil {
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing redis")
			}
		}()
	}

	repos := scheduling.NewPgRepositories(pgPool)
	gen := scheduling.NewGenerator(repos, cfg.HorizonMonths, cfg.Location, logger)
	booking := scheduling.NewBookingService(repos, locker, cache, logger,
		scheduling.WithAtomicReschedule(cfg.AtomicReschedule))
	queries := scheduling.NewQueryService(repos, cache, logger)
	directory := scheduling.NewDirectory(repos, gen, cache, logger)

	router := api.NewRouter(api.RouterConfig{
		Booking:   booking,
		Queries:   queries,
		Directory: directory,
		Health:    api.NewHealthHandler(pgPool, redisPinger(rdb), cfg.Env, version),
		Logger:    logger,
		Location:  cfg.Location,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-rootCtx.Done():
	}

	logger.Info().Dur("timeout", cfg.ShutdownTimeout).Msg("shutting down api-server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

// connectRedis returns the Redis-backed lock and cache, or no-op stand-ins when
// Redis is unreachable. Bookings stay correct on row locks alone.
func connectRedis(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*redis.Client, scheduling.SlotLocker, scheduling.SlotCache) {
	redisCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rdb, err := redisclient.NewClient(redisCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unavailable, running without slot locks and cache")
		return nil, scheduling.NoopLocker, scheduling.NoopCache
	}
	logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")
	return rdb, redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL), redisclient.NewSlotCache(rdb, cfg.SlotCacheTTL)
}

func redisPinger(rdb *redis.Client) api.Pinger {
	if rdb == nil {
		return nil
	}
	return api.PingFunc(func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
}
