package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/doctor-slot-scheduling/internal/config"
	"github.com/hackgods/doctor-slot-scheduling/internal/db"
	"github.com/hackgods/doctor-slot-scheduling/internal/logging"
	redisclient "github.com/hackgods/doctor-slot-scheduling/internal/redis"
	"github.com/hackgods/doctor-slot-scheduling/internal/scheduling"
)

func main() {
	var once bool

	rootCmd := &cobra.Command{
		Use:   "horizon-worker",
		Short: "Materialize slots for active doctors across the rolling horizon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(once)
		},
	}
	rootCmd.Flags().BoolVar(&once, "once", true, "run a single generation pass and exit")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(once bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.New(cfg.Env, cfg.LogLevel).With().Str("component", "horizon-worker").Logger()
	logger.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.WorkerInterval).
		Int("horizon_months", cfg.HorizonMonths).
		Bool("once", once).
		Msg("horizon worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, logger)
	cancelPg()
	if err != nil {
		return err
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	// New slots change cached listings, so the cache is invalidated when Redis is up.
	cache := scheduling.NoopCache
	redisCtx, cancelRedis := context.WithTimeout(rootCtx, 5*time.Second)
	rdb, err := redisclient.NewClient(redisCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	cancelRedis()
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, cached slot listings expire on their own")
	} else {
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing redis")
			}
		}()
		cache = redisclient.NewSlotCache(rdb, cfg.SlotCacheTTL)
	}

	repos := scheduling.NewPgRepositories(pgPool)
	gen := scheduling.NewGenerator(repos, cfg.HorizonMonths, cfg.Location, logger)
	directory := scheduling.NewDirectory(repos, gen, cache, logger)

	// Run once at startup
	runOnce(rootCtx, directory, logger)
	if once {
		return nil
	}

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping horizon worker")
			return nil
		case <-ticker.C:
			runOnce(rootCtx, directory, logger)
		}
	}
}

func runOnce(ctx context.Context, directory *scheduling.Directory, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	start := time.Now()
	created, err := directory.RegenerateActive(runCtx)
	if err != nil {
		logger.Error().Err(err).Int("created", created).Msg("horizon run finished with errors")
		return
	}
	logger.Info().Int("created", created).Dur("took", time.Since(start)).Msg("horizon run complete")
}
