package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wxy/SilentFeed-sub007/app/aiprovider"
	"github.com/wxy/SilentFeed-sub007/app/api"
	"github.com/wxy/SilentFeed-sub007/app/budget"
	"github.com/wxy/SilentFeed-sub007/app/cfg"
	"github.com/wxy/SilentFeed-sub007/app/config"
	"github.com/wxy/SilentFeed-sub007/app/database"
	"github.com/wxy/SilentFeed-sub007/app/executor"
	"github.com/wxy/SilentFeed-sub007/app/feed"
	"github.com/wxy/SilentFeed-sub007/app/pool"
	"github.com/wxy/SilentFeed-sub007/app/strategy"
	"github.com/wxy/SilentFeed-sub007/app/tasks"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown, exit gracefully
		return
	}

	logLevel := slog.LevelInfo
	if appCfg.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("Starting SilentFeed server", "version", appCfg.Version)

	db, err := database.NewConnection(appCfg.DBPath)
	if err != nil {
		slog.Error("Failed to open database", "path", appCfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database ready", "path", appCfg.DBPath, "schema_version", version, "dirty", dirty)

	feedRepo := database.NewFeedRepository(db)
	articleRepo := database.NewArticleRepository(db)
	usageRepo := database.NewUsageRepository(db)
	strategyRepo := database.NewStrategyRepository(db)

	feedConfigs, err := config.LoadFeeds(appCfg.FeedsDir)
	if err != nil {
		slog.Error("Failed to load feed configurations", "dir", appCfg.FeedsDir, "error", err)
		os.Exit(1)
	}
	slog.Info("Feed configurations loaded", "count", len(feedConfigs))

	registry := feed.NewRegistry(feedRepo)
	configList := make([]config.FeedConfig, 0, len(feedConfigs))
	for _, fc := range feedConfigs {
		configList = append(configList, *fc)
	}
	if err := registry.Sync(configList); err != nil {
		slog.Error("Failed to sync feed registry", "error", err)
		os.Exit(1)
	}

	providersCfg, err := config.LoadProviders(appCfg.ProvidersFile)
	if err != nil {
		slog.Error("Failed to load provider configuration", "file", appCfg.ProvidersFile, "error", err)
		os.Exit(1)
	}

	providerRegistry, err := aiprovider.NewRegistry(providersCfg)
	if err != nil {
		slog.Error("Failed to build provider registry", "error", err)
		os.Exit(1)
	}

	var provider aiprovider.Provider
	if p, err := providerRegistry.Default(); err != nil {
		slog.Warn("No AI provider configured, running with local fallback only", "error", err)
	} else {
		provider = p
		slog.Info("AI provider ready", "provider", p.ID(), "model", p.Model())
	}

	checker := budget.NewChecker(usageRepo, appCfg.MonthlyBudgetUSD, appCfg.USDCNYRate)

	opts := executor.DefaultOptions()
	opts.MaxConcurrentRequests = appCfg.MaxConcurrentRequests
	opts.QueueSize = appCfg.QueueSize
	opts.QueueTimeout = time.Duration(appCfg.QueueTimeoutSec) * time.Second
	opts.CacheSize = appCfg.CacheSize
	opts.CacheTTL = time.Duration(appCfg.CacheTTLSec) * time.Second
	opts.RatePerMinute = appCfg.RatePerMinute
	opts.RatePerHour = appCfg.RatePerHour
	opts.RatePerDay = appCfg.RatePerDay
	opts.CallTimeout = time.Duration(appCfg.CallTimeoutSec) * time.Second
	opts.USDCNYRate = appCfg.USDCNYRate

	exec := executor.New(opts, checker, usageRepo, provider)
	exec.Start()
	defer exec.Stop()

	var proposer strategy.Proposer
	if provider != nil {
		proposer = provider
	}
	strategySvc := strategy.NewService(strategyRepo, articleRepo, feedRepo, usageRepo, proposer)

	articlePool := pool.NewPool(articleRepo)

	httpClient := &http.Client{Timeout: 60 * time.Second}
	parser := feed.NewParser()

	slog.Info("Starting background scheduler", "workers", appCfg.WorkerCount, "interval_sec", appCfg.SchedulerInterval)
	scheduler := tasks.NewScheduler(registry, feedRepo, articleRepo, httpClient, parser,
		articlePool, exec, strategySvc)
	scheduler.Start()
	defer scheduler.Stop()

	handler := api.NewHandler(feedRepo, usageRepo, registry, articlePool, checker, exec,
		strategySvc, providerRegistry, appCfg.Version)
	server := api.NewServer(handler, appCfg.APIAccessKey)

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrChan:
		slog.Error("HTTP server failed", "error", err)
	case sig := <-quit:
		slog.Info("Shutdown signal received", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
	}

	slog.Info("Server stopped")
}
