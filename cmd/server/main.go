package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tkwok/triggerd/config"
	"github.com/tkwok/triggerd/internal/health"
	"github.com/tkwok/triggerd/internal/infrastructure/postgres"
	ctxlog "github.com/tkwok/triggerd/internal/log"
	"github.com/tkwok/triggerd/internal/metrics"
	"github.com/tkwok/triggerd/internal/schedule"
	httptransport "github.com/tkwok/triggerd/internal/transport/http"
	"github.com/tkwok/triggerd/internal/transport/http/handler"
	"github.com/tkwok/triggerd/internal/usecase"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())
	for _, w := range cfg.Warnings() {
		logger.Warn(w)
	}

	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		stop()
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	converter, err := schedule.NewConverter(cfg.DisplayTimezone)
	if err != nil {
		stop()
		log.Fatalf("timezone: %v", err)
	}

	jobRepo := postgres.NewJobRepository(pool)
	dispatchRepo := postgres.NewDispatchRepository(pool)
	workerRepo := postgres.NewWorkerRepository(pool)
	logRepo := postgres.NewLogRepository(pool)

	svc := usecase.NewJobService(jobRepo, dispatchRepo, workerRepo, logRepo, converter, cfg, logger)
	jobHandler := handler.NewJobHandler(svc, logger)
	workerHandler := handler.NewWorkerHandler(svc, logger)

	metrics.Register()
	checker := health.NewChecker(pool, logger, prometheus.DefaultRegisterer)

	srv := http.Server{
		Addr:    ":" + cfg.Port,
		Handler: httptransport.NewRouter(logger, jobHandler, workerHandler, []byte(cfg.APITokenSecret)),
	}

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)

	go func() {
		logger.Info("server started", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
