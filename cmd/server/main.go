/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the people engine server: the HTTP API over the
  timelines and the equity engine, plus the background jobs that process
  due vesting events and refresh denormalized employment status.

STARTUP SEQUENCE:
  1. Load configuration (.env, PEOPLE_* environment), apply flags
  2. Build the root logger
  3. Open the store (SQLite, or PostgreSQL after running migrations)
  4. Wire timelines, equity service, aggregator
  5. Register and start scheduled jobs
  6. Start the HTTP server with graceful shutdown

COMMAND-LINE FLAGS (override configuration):
  -port    HTTP server port
  -db      SQLite database path; use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Wait for running jobs to finish
  4. Close the store

EXAMPLES:
  # SQLite file database
  ./server -db="./data/people.db"

  # PostgreSQL
  PEOPLE_DB_DRIVER=postgres PEOPLE_DATABASE_URL=postgres://... ./server

SEE ALSO:
  - config/config.go: Every setting and its default
  - api/server.go: Router configuration
*/
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

	"github.com/rs/zerolog"
	"github.com/warp/people-engine/api"
	"github.com/warp/people-engine/config"
	"github.com/warp/people-engine/equity"
	"github.com/warp/people-engine/generic"
	"github.com/warp/people-engine/logging"
	"github.com/warp/people-engine/scheduler"
	"github.com/warp/people-engine/store/postgres"
	"github.com/warp/people-engine/store/sqlite"
	"github.com/warp/people-engine/timeline"
)

// statusRefreshSchedule runs shortly after midnight so versions effective
// today are reflected in the directory.
const statusRefreshSchedule = "0 5 0 * * *"

// backend is what both stores provide.
type backend interface {
	generic.TxRecordStore
	equity.TxStore
	timeline.Directory
	Reset(ctx context.Context) error
	Close() error
}

func main() {
	// Flags
	port := flag.String("port", "", "HTTP server port (overrides PEOPLE_PORT)")
	dbPath := flag.String("db", "", "SQLite database path (overrides PEOPLE_SQLITE_PATH)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.SQLitePath = *dbPath
	}

	log := logging.New(logging.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	logging.SetGlobal(log)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store
	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	clock := generic.SystemClock{}
	temporal := generic.NewTemporalStore(store, clock)
	temporal.MaxAttempts = cfg.InsertMaxAttempts

	rates := timeline.NewStaticRates()
	for _, r := range cfg.ExchangeRates {
		rates.Set(r.From, r.To, r.Rate)
	}

	employment := timeline.NewEmploymentTimeline(temporal, store)
	salary := timeline.NewSalaryTimeline(temporal, rates, cfg.BaseCurrency)
	local := timeline.NewLocalDataTimeline(temporal)
	svc := equity.NewService(store, clock, log,
		equity.WithExerciseMonths(cfg.PostTerminationExerciseMonths),
		equity.WithMaxAttempts(cfg.InsertMaxAttempts),
	)

	// Jobs
	vesting := scheduler.NewVestingJob(store, svc.Processor(), clock, log)
	vesting.Workers = cfg.VestingWorkers
	vesting.BatchSize = cfg.VestingBatchSize
	status := scheduler.NewStatusJob(store, employment, log)

	jobs := scheduler.New(log)
	if err := jobs.AddJob(cfg.VestingCron, vesting); err != nil {
		return fmt.Errorf("register vesting job: %w", err)
	}
	if err := jobs.AddJob(statusRefreshSchedule, status); err != nil {
		return fmt.Errorf("register status job: %w", err)
	}
	jobs.Start()
	defer jobs.Stop()

	handler := &api.Handler{
		Directory:  store,
		Employment: employment,
		Salary:     salary,
		LocalData:  local,
		Equity:     svc,
		Aggregator: &timeline.Aggregator{
			Employment: employment,
			Salary:     salary,
			LocalData:  local,
			Equity:     svc,
			Clock:      clock,
		},
		Vesting: vesting,
		Clock:   clock,
	}
	if cfg.DBDriver == config.DriverSQLite {
		handler.Resetter = store
	}

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(handler, api.RouterOptions{Logger: log, AllowedOrigins: cfg.AllowedOrigins}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Str("db_driver", cfg.DBDriver).
			Str("vesting_cron", cfg.VestingCron).
			Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info().Msg("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (backend, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		if err := postgres.Migrate(ctx, cfg.DatabaseURL); err != nil {
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		store, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		log.Info().Msg("connected to postgres")
		return store, nil
	default:
		store, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("initialize database: %w", err)
		}
		log.Info().Str("path", cfg.SQLitePath).Msg("opened sqlite database")
		return store, nil
	}
}
