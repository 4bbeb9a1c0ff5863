package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"parking-allocator/internal/config"
	"parking-allocator/internal/inventory"
	"parking-allocator/internal/logging"
	"parking-allocator/internal/parking"
	"parking-allocator/internal/scoring"
	"parking-allocator/internal/server"
	"parking-allocator/internal/store/postgres"
	redisledger "parking-allocator/internal/store/redis"
)

const connectTries = 10

var (
	mode = flag.String("mode", "cli", "Mode to run: cli, server, or both")
	port = flag.String("port", "", "Port for HTTP server (defaults to APP_PORT)")
)

type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	telemetry *parking.TelemetryProvider
	lot       *parking.InstrumentedLot
	sweeper   *parking.Sweeper
	closers   []func()
}

func main() {
	flag.Parse()

	switch *mode {
	case "cli", "server", "both":
	default:
		log.Fatalf("Invalid mode: %s. Must be cli, server, or both", *mode)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if *port != "" {
		cfg.Port = *port
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryProvider, err := parking.NewTelemetryProvider(ctx, cfg.OTelServiceName, cfg.OTelEndpoint, cfg.Environment)
	if err != nil {
		log.Fatalf("Failed to initialize telemetry: %v", err)
	}
	logger := logging.Init(cfg.OTelServiceName, cfg.Environment)

	a, err := build(ctx, cfg, logger, telemetryProvider)
	if err != nil {
		logger.Error("startup failed", slog.String("error", err.Error()))
		shutdownTelemetry(logger, telemetryProvider)
		os.Exit(1)
	}
	defer a.close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := a.sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("sweeper stopped", slog.String("error", err.Error()))
		}
	}()

	switch *mode {
	case "cli":
		a.runCLI(ctx, cancel, sigChan)
	case "server":
		a.runServer(ctx, cancel, sigChan)
	case "both":
		a.runBoth(ctx, cancel, sigChan)
	}

	cancel()
	shutdownTelemetry(logger, telemetryProvider)
}

func build(ctx context.Context, cfg *config.Config, logger *slog.Logger, telemetry *parking.TelemetryProvider) (*app, error) {
	a := &app{cfg: cfg, logger: logger, telemetry: telemetry}

	ledger, err := a.openLedger(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	slots, err := loadInventory(cfg)
	if err != nil {
		a.close()
		return nil, err
	}
	seeded, err := inventory.Seed(ctx, ledger, slots)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("seed inventory: %w", err)
	}
	logger.Info("inventory ready",
		slog.String("backend", cfg.LedgerBackend),
		slog.Int("slots", len(slots)),
		slog.Int("seeded", seeded),
	)

	scorer, err := buildScorer(cfg)
	if err != nil {
		a.close()
		return nil, err
	}

	lot := parking.NewLot(ledger, scorer, buildRates(cfg), parking.WithLogger(logger))
	a.lot, err = parking.NewInstrumentedLot(lot, telemetry)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("instrument lot: %w", err)
	}

	a.sweeper = parking.NewSweeper(ledger,
		parking.WithInterval(cfg.SweepInterval),
		parking.WithGracePeriod(cfg.GracePeriod),
		parking.WithReleaseHook(a.lot.RecordExpiry),
		parking.WithSweeperLogger(logger),
	)
	return a, nil
}

func (a *app) openLedger(ctx context.Context) (parking.Ledger, error) {
	switch a.cfg.LedgerBackend {
	case config.BackendPostgres:
		pool, err := postgres.Connect(ctx, a.cfg.DatabaseURL, connectTries)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		if err := postgres.Migrate(ctx, pool); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return postgres.NewLedger(pool), nil

	case config.BackendRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     a.cfg.RedisAddr,
			Password: a.cfg.RedisPassword,
			DB:       a.cfg.RedisDB,
		})
		a.closers = append(a.closers, func() { _ = client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect redis %s: %w", a.cfg.RedisAddr, err)
		}
		return redisledger.NewLedger(client, a.cfg.RedisKeyPrefix), nil

	default:
		return parking.NewMemoryLedger()
	}
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func loadInventory(cfg *config.Config) ([]parking.Slot, error) {
	if cfg.SlotsFile != "" {
		return inventory.Load(cfg.SlotsFile)
	}
	return inventory.Generate(cfg.SeedLevels, cfg.SeedSlotsPerLevel, cfg.ScorerSeed), nil
}

func buildScorer(cfg *config.Config) (parking.Scorer, error) {
	scorer, err := scoring.New(cfg.Scorer, cfg.ScorerSeed)
	if err != nil {
		return nil, err
	}
	prefs, err := scoring.ParseLevelPreferences(cfg.LevelPreferences)
	if err != nil {
		return nil, fmt.Errorf("ROLE_LEVEL_PREFERENCES: %w", err)
	}
	if len(prefs) > 0 {
		return scoring.NewLevelPreference(scorer, prefs), nil
	}
	return scorer, nil
}

func buildRates(cfg *config.Config) parking.RateSchedule {
	rates := parking.DefaultRateSchedule()
	rates.Default = cfg.DefaultRate
	for role, rate := range cfg.Rates {
		rates.ByRole[role] = rate
	}
	return rates
}

func (a *app) newServer() *server.Server {
	handler := server.NewHandler(a.lot, a.sweeper, a.cfg.OTelServiceName, a.logger)
	return server.NewServer(a.cfg.Port, handler)
}

func (a *app) runCLI(ctx context.Context, cancel context.CancelFunc, sigChan chan os.Signal) {
	go func() {
		<-sigChan
		a.logger.Info("shutting down")
		cancel()
	}()

	shell := parking.NewInstrumentedShell(a.lot, a.sweeper, os.Stdin, os.Stdout, a.telemetry)
	shell.Run(ctx)
}

func (a *app) runServer(ctx context.Context, cancel context.CancelFunc, sigChan chan os.Signal) {
	srv := a.newServer()

	go func() {
		<-sigChan
		a.logger.Info("received shutdown signal")
		a.shutdownServer(srv)
		cancel()
	}()

	a.logger.Info("starting server mode", slog.String("address", srv.GetAddress()))
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.logger.Error("server error", slog.String("error", err.Error()))
	}
}

func (a *app) runBoth(ctx context.Context, cancel context.CancelFunc, sigChan chan os.Signal) {
	srv := a.newServer()

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Start()
	}()

	cliDone := make(chan struct{})
	go func() {
		shell := parking.NewInstrumentedShell(a.lot, a.sweeper, os.Stdin, os.Stdout, a.telemetry)
		shell.Run(ctx)
		close(cliDone)
	}()

	go func() {
		<-sigChan
		a.logger.Info("received shutdown signal")
		cancel()
	}()

	select {
	case err := <-serverDone:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("server error", slog.String("error", err.Error()))
		}
	case <-cliDone:
		a.logger.Info("CLI exited")
	case <-ctx.Done():
		a.logger.Info("context cancelled")
	}

	a.shutdownServer(srv)
}

func (a *app) shutdownServer(srv *server.Server) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", slog.String("error", err.Error()))
	}
}

func shutdownTelemetry(logger *slog.Logger, telemetryProvider *parking.TelemetryProvider) {
	logger.Info("shutting down telemetry")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := telemetryProvider.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down telemetry: %v", err)
	}
}
