// Package main запускает сервис уведомлений маркетплейса: HTTP API, цикл доставки и проверку избранного.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/mmeshcher/marketplace-notifier/internal/cache"
	"github.com/mmeshcher/marketplace-notifier/internal/channel"
	"github.com/mmeshcher/marketplace-notifier/internal/config"
	"github.com/mmeshcher/marketplace-notifier/internal/handler"
	"github.com/mmeshcher/marketplace-notifier/internal/metrics"
	"github.com/mmeshcher/marketplace-notifier/internal/middleware"
	"github.com/mmeshcher/marketplace-notifier/internal/model"
	"github.com/mmeshcher/marketplace-notifier/internal/repository"
	"github.com/mmeshcher/marketplace-notifier/internal/service"
	"github.com/mmeshcher/marketplace-notifier/internal/templates"
)

var _ service.Repository = (*repository.PostgresRepository)(nil)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func newChannels(cfg *config.Config, sugar *zap.SugaredLogger) *channel.Registry {
	reg := channel.NewRegistry()
	reg.Register(model.ChannelInApp, channel.InApp{})

	gateways := map[model.Channel]string{
		model.ChannelEmail:   cfg.EmailGatewayURL,
		model.ChannelSMS:     cfg.SMSGatewayURL,
		model.ChannelChatBot: cfg.ChatBotGatewayURL,
		model.ChannelPush:    cfg.PushGatewayURL,
	}
	for ch, url := range gateways {
		if url == "" {
			sugar.Warnw("channel gateway not configured, sends will fail", "channel", ch)
			continue
		}
		reg.Register(ch, channel.NewRelay(url, cfg.ChannelTimeout))
	}

	return reg
}

func main() {
	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger initialization error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	sugar := logger.Sugar()

	if cfg.WebhookSecret == "" {
		sugar.Warn("webhook secret is empty, every payment callback will be rejected")
	}

	tpl, err := templates.Default()
	if err != nil {
		sugar.Fatalw("template registry error", "error", err.Error())
	}
	if err := tpl.Validate(service.EventAudiences()); err != nil {
		sugar.Fatalw("template registry is incomplete", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		replay cache.ReplayGuard = cache.NopReplayGuard{}
		locker cache.Locker      = cache.NopLocker{}
	)
	if cfg.RedisAddr != "" {
		rdb, err := cache.NewClient(ctx, cfg.RedisAddr)
		if err != nil {
			sugar.Fatalw("redis initialization error", "error", err.Error())
		}
		defer rdb.Close()

		replay = cache.NewReplayGuard(rdb, cfg.WebhookReplayTTL)
		locker = cache.NewLocker(rdb)
	}

	metrics.Register(prometheus.DefaultRegisterer)

	dispatcher := service.NewDispatcher(repo, newChannels(cfg, sugar), service.DispatcherConfig{
		Interval:       cfg.DispatchInterval,
		BatchSize:      cfg.DispatchBatchSize,
		Workers:        cfg.DispatchWorkers,
		ChannelTimeout: cfg.ChannelTimeout,
		RetryBackoff:   cfg.RetryBackoff,
		ClaimLease:     cfg.ClaimLease,
	}, logger)

	composer := service.NewComposer(repo, repo, tpl, !cfg.IsProduction(), dispatcher.Kick, logger)
	reconciler := service.NewReconciler(repo, composer, replay, cfg.WebhookSecret, cfg.WebhookTolerance, logger)
	scanner := service.NewScanner(repo, repo, composer, locker, service.ScannerConfig{
		Interval:    cfg.FavoriteScanInterval,
		BatchSize:   cfg.FavoriteScanBatch,
		DedupWindow: cfg.DedupWindow,
	}, logger)

	h := handler.NewHandler(handler.Options{
		Webhooks:       reconciler,
		Inbox:          service.NewInbox(repo),
		Events:         service.NewEvents(repo, composer),
		Health:         repo,
		Logger:         logger,
		Auth:           middleware.NewAuthMiddleware(cfg.AuthSecret),
		InternalSecret: cfg.InternalSecret,
		WebhookLimiter: middleware.NewRateLimiter(rate.Limit(cfg.WebhookRateLimit), cfg.WebhookRateBurst, cfg.WebhookRateIdle),
	})

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Цикл доставки уведомлений
	g.Go(func() error {
		return dispatcher.Run(ctx)
	})

	// Периодическая проверка избранного
	g.Go(func() error {
		return scanner.Run(ctx)
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting notifier server", "addr", cfg.RunAddress, "env", cfg.AppEnv)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
