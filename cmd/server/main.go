// Package main is the entry point for the Optifolio portfolio
// optimization service. It exposes convex portfolio construction over
// HTTP: objective and constraint catalogs, a solve endpoint, and
// analytics over the resulting allocations.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/optifolio/internal/config"
	"github.com/aristath/optifolio/internal/database"
	"github.com/aristath/optifolio/internal/modules/calculations"
	"github.com/aristath/optifolio/internal/modules/market"
	"github.com/aristath/optifolio/internal/modules/optimization"
	optimizationhandlers "github.com/aristath/optifolio/internal/modules/optimization/handlers"
	portfoliohandlers "github.com/aristath/optifolio/internal/modules/portfolio/handlers"
	"github.com/aristath/optifolio/internal/modules/universe"
	universehandlers "github.com/aristath/optifolio/internal/modules/universe/handlers"
	"github.com/aristath/optifolio/internal/scheduler"
	"github.com/aristath/optifolio/internal/server"
	"github.com/aristath/optifolio/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Str("data_dir", cfg.DataDir).
		Int("port", cfg.Port).
		Msg("Starting Optifolio")

	// Three databases: universe.db holds securities and named universes,
	// history.db holds daily prices, cache.db holds computed inputs and
	// memoized solve results.
	universeDB, err := database.New(cfg.DatabasePath("universe"), database.ProfileStandard)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open universe database")
	}
	defer universeDB.Close()

	historyDB, err := database.New(cfg.DatabasePath("history"), database.ProfileStandard)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open history database")
	}
	defer historyDB.Close()

	cacheDB, err := database.New(cfg.DatabasePath("cache"), database.ProfileCache)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open cache database")
	}
	defer cacheDB.Close()

	universeRepo := universe.NewRepository(universeDB.Conn(), log)
	if err := universeRepo.InitSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize universe schema")
	}

	priceStore := market.NewPriceStore(historyDB.Conn(), log)
	if err := priceStore.InitSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize price schema")
	}

	calcCache := calculations.NewCache(cacheDB.Conn())
	if err := calcCache.InitSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize cache schema")
	}

	marketService := market.NewService(priceStore, universeDB.Conn(), log)
	marketService.SetCache(calcCache)

	optimizationService := optimization.NewService(
		universeRepo,
		marketService,
		calcCache,
		cfg.WeightsTolerance,
		cfg.SolveTimeout,
		cfg.ResultCacheTTL,
		log,
	)

	srv := server.New(server.Config{
		Log:                 log,
		Config:              cfg,
		UniverseDB:          universeDB,
		HistoryDB:           historyDB,
		CacheDB:             cacheDB,
		OptimizationHandler: optimizationhandlers.NewHandler(optimizationService, log),
		PortfolioHandler:    portfoliohandlers.NewHandler(marketService, log),
		UniverseHandler:     universehandlers.NewHandler(universeRepo, log),
	})

	sched := scheduler.New(log)
	if err := sched.AddJob("@hourly", scheduler.NewCacheEvictionJob(calcCache, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register cache eviction job")
	}
	walJob := scheduler.NewWalCheckpointJob(log, universeDB, historyDB, cacheDB)
	if err := sched.AddJob("30 2 * * *", walJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to register WAL checkpoint job")
	}
	sched.Start()

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")

	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}

	log.Info().Msg("Shutdown complete")
}
