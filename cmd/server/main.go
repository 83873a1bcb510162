package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/WAE505/Momentum/internal/config"
	"github.com/WAE505/Momentum/internal/database"
	"github.com/WAE505/Momentum/internal/marketdata"
	"github.com/WAE505/Momentum/internal/marketdata/clients/fred"
	"github.com/WAE505/Momentum/internal/marketdata/clients/yahoo"
	marketdatahandlers "github.com/WAE505/Momentum/internal/marketdata/handlers"
	"github.com/WAE505/Momentum/internal/modules/backtest"
	"github.com/WAE505/Momentum/internal/modules/strategy"
	strategyhandlers "github.com/WAE505/Momentum/internal/modules/strategy/handlers"
	"github.com/WAE505/Momentum/internal/scheduler"
	"github.com/WAE505/Momentum/internal/server"
	"github.com/WAE505/Momentum/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting momentum strategy server")

	historyStart, err := time.Parse("2006-01-02", cfg.HistoryStart)
	if err != nil {
		log.Fatal().Err(err).Str("history_start", cfg.HistoryStart).Msg("Invalid history start date")
	}

	// Initialize database
	db, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "marketdata.db"),
		Profile: database.ProfileStandard,
		Name:    "marketdata",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	if err := marketdata.InitSchema(db.Conn()); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize schema")
	}

	// Wire market data: repository, external clients, assembler, service
	repo := marketdata.NewRepository(db.Conn(), log)
	yahooClient := yahoo.NewClient(repo, log)
	fredClient := fred.NewClient(repo, log)
	assembler := marketdata.NewAssembler(yahooClient, fredClient, log)
	maxAge := time.Duration(cfg.MaxCacheAgeDays) * 24 * time.Hour
	dataService := marketdata.NewService(repo, assembler, historyStart, maxAge, log)

	// Wire the strategy on top of the data service
	engine := backtest.NewEngine(log)
	strategyService := strategy.NewService(dataService, engine, log)

	// Schedule the daily data refresh
	sched := scheduler.New(log)
	refreshJob := scheduler.NewRefreshJob(dataService, repo, log)
	if err := sched.AddJob(cfg.RefreshSchedule, refreshJob); err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.RefreshSchedule).Msg("Failed to register refresh job")
	}
	sched.Start()
	defer sched.Stop()

	// Seed the dataset in the background when the stored one is stale so the
	// first request does not block on the external APIs.
	if last, ok, err := repo.LastRefresh(); err != nil || !ok || time.Since(last) > maxAge {
		go func() {
			if err := sched.RunNow(refreshJob); err != nil {
				log.Error().Err(err).Msg("Startup data refresh failed")
			}
		}()
	}

	// Initialize HTTP server
	srv := server.New(server.Config{
		Port:    cfg.Port,
		Log:     log,
		DB:      db,
		DevMode: cfg.DevMode,
		Modules: []server.RouteRegistrar{
			strategyhandlers.NewHandler(strategyService, log),
			marketdatahandlers.NewHandler(dataService, log),
		},
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
