package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"PulseCampaign/internal/api"
	"PulseCampaign/internal/campaign"
	"PulseCampaign/internal/config"
	"PulseCampaign/internal/db"
	"PulseCampaign/internal/email"
	"PulseCampaign/internal/metrics"
	"PulseCampaign/internal/store"
)

func main() {

	// ------------------------------------------------
	// Logger
	// ------------------------------------------------
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// ------------------------------------------------
	// Config
	// ------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	if missing := cfg.Missing(); len(missing) > 0 {
		logger.Warn("dispatch settings missing, sends will fail",
			zap.String("provider", cfg.DispatchProvider),
			zap.String("missing", strings.Join(missing, ", ")),
		)
	}

	// ------------------------------------------------
	// Root Context + Shutdown
	// ------------------------------------------------
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
	}()

	// ------------------------------------------------
	// Job Store
	// ------------------------------------------------
	repo, closeRepo := openRepository(ctx, cfg, logger)
	defer closeRepo()

	// ------------------------------------------------
	// Metrics
	// ------------------------------------------------
	metrics.Init()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	metricsServer := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: metricsMux,
	}

	go func() {
		logger.Info("metrics server started", zap.String("port", cfg.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("metrics server error", zap.Error(err))
		}
	}()

	// ------------------------------------------------
	// Email Sender
	// ------------------------------------------------
	sender := newDispatcher(cfg)

	// ------------------------------------------------
	// Campaign Engine + Workers
	// ------------------------------------------------
	engine := campaign.New(repo, sender,
		campaign.WithLogger(logger),
		campaign.WithDefaultSender(email.Address{
			Email: cfg.DefaultSenderEmail,
			Name:  cfg.DefaultSenderName,
		}),
		campaign.WithDispatchTimeout(cfg.DispatchTimeout),
	)

	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit)

	var wg sync.WaitGroup
	engine.Start(ctx, &wg, cfg.WorkerCount, limiter)

	if _, err := engine.Resume(ctx); err != nil {
		logger.Error("failed to resume bulk jobs", zap.Error(err))
	}

	// ------------------------------------------------
	// HTTP API Server
	// ------------------------------------------------
	apiHandler := &api.Handler{
		Campaigns: engine,
		Sender:    sender,
		Config:    cfg,
		Log:       logger,
	}

	apiServer := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           apiHandler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("api server started", zap.String("port", cfg.APIPort))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("api server error", zap.Error(err))
		}
	}()

	// ------------------------------------------------
	// Wait for shutdown
	// ------------------------------------------------
	<-ctx.Done()

	logger.Info("shutting down services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown failed", zap.Error(err))
	}

	// Wait workers to finish their current tick
	wg.Wait()

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown failed", zap.Error(err))
	}

	logger.Info("application shutdown complete")
}

func openRepository(ctx context.Context, cfg *config.Config, logger *zap.Logger) (campaign.Repository, func()) {
	switch cfg.StoreBackend {
	case config.StorePostgres:
		s, err := db.New(ctx, cfg.DatabaseURL, cfg.ConnectRetryAttempts)
		if err != nil {
			logger.Fatal("database connection failed", zap.Error(err))
		}
		logger.Info("using postgres job store")
		return s, s.Close

	case config.StoreRedis:
		client, err := store.OpenRedis(ctx, cfg.RedisURL, cfg.ConnectRetryAttempts)
		if err != nil {
			logger.Fatal("redis connection failed", zap.Error(err))
		}
		logger.Info("using redis job store", zap.Duration("ttl", cfg.JobTTL))
		return store.NewRedis(client, store.WithTTL(cfg.JobTTL)), func() { _ = client.Close() }

	default:
		logger.Warn("using in-memory job store, jobs will not survive a restart")
		return store.NewMemory(), func() {}
	}
}

func newDispatcher(cfg *config.Config) email.Dispatcher {
	switch cfg.DispatchProvider {
	case config.ProviderResend:
		return email.NewResend(cfg.ResendAPIKey)
	case config.ProviderSMTP:
		return &email.SMTPSender{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			User:     cfg.SMTPUser,
			Password: cfg.SMTPPassword,
		}
	default:
		return email.NewSMTP2GO(cfg.SMTP2GOAPIURL, cfg.SMTP2GOAPIKey, cfg.DispatchTimeout)
	}
}
