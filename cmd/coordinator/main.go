// Package main runs the route optimization coordinator: the request
// lifecycle service, its REST API, and the timeout sweeper.
package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"

	app "github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/httpapi"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/metrics"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/oracle"
	lifecyclesvc "github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/services/lifecycle"
	requestssvc "github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/services/requests"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/storage/postgres"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/config"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/middleware"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/pkg/logger"
)

func main() {
	cfgPath := os.Getenv("COORDINATOR_CONFIG")
	var cfg *config.Config
	if cfgPath != "" {
		loaded, err := config.LoadFromPath(cfgPath)
		if err != nil {
			logger.NewDefault("main").WithError(err).Error("load config")
			os.Exit(1)
		}
		cfg = loaded
	} else {
		cfg = config.LoadOrDefault()
	}

	log := logger.New(logger.LoggingConfig{Level: cfg.Logging.Level, Format: cfg.Logging.Format}).
		WithField("component", "coordinator")

	stores := app.Stores{}
	if dsn := cfg.Database.PostgresDSN; dsn != "" {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			log.WithError(err).Error("open postgres")
			os.Exit(1)
		}
		defer db.Close()
		if err := postgres.Bootstrap(context.Background(), db); err != nil {
			log.WithError(err).Error("bootstrap schema")
			os.Exit(1)
		}
		store := postgres.New(db)
		stores = app.Stores{Requests: store, Settlement: store, Access: store}
		log.Info("using postgres persistence")
	} else {
		log.Warn("no postgres dsn configured; state is in-memory only")
	}

	opts := app.Options{
		Owner: cfg.Owner,
		Requests: requestssvc.Config{
			FeePercent:   cfg.Requests.FeePercent,
			MinimumStake: cfg.Requests.MinimumStake,
		},
		Lifecycle: lifecyclesvc.Config{
			RequestTimeout:    cfg.Timeouts.Request.Std(),
			ProcessingTimeout: cfg.Timeouts.Processing.Std(),
			CallbackRef:       cfg.Oracle.CallbackRef,
		},
		EnableSweeper: cfg.Sweeper.Enabled,
	}
	if cfg.Oracle.Endpoint != "" {
		orc, err := oracle.NewHTTPOracle(nil, cfg.Oracle.Endpoint, cfg.Oracle.APIKey, log)
		if err != nil {
			log.WithError(err).Error("configure oracle")
			os.Exit(1)
		}
		opts.Oracle = orc
	}

	application, err := app.New(stores, opts, log)
	if err != nil {
		log.WithError(err).Error("build application")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := application.Start(ctx); err != nil {
		log.WithError(err).Error("start services")
		os.Exit(1)
	}

	handler := httpapi.NewHandler(application)
	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, log)
	server := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: limiter.Handler(metrics.InstrumentHandler(handler)),
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Server.ListenAddr).Info("listening")
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("server failed")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("service shutdown")
	}
}
