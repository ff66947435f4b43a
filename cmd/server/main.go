package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"tunnel-billing/internal/api"
	"tunnel-billing/internal/billing"
	"tunnel-billing/internal/bot"
	"tunnel-billing/internal/config"
	"tunnel-billing/internal/database"
	"tunnel-billing/internal/lipstick"
	"tunnel-billing/internal/logging"
	"tunnel-billing/internal/metrics"
	"tunnel-billing/internal/payment"
	"tunnel-billing/internal/store"
	"tunnel-billing/internal/tunnel"
	"tunnel-billing/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}

	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	logrus.SetFormatter(log.Formatter)
	logrus.SetLevel(log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.ConnectPostgres(cfg, log)
	if err != nil {
		log.Fatalf("Could not connect to database: %v", err)
	}
	rdb, err := database.ConnectRedis(ctx, cfg, log)
	if err != nil {
		log.Fatalf("Could not connect to redis: %v", err)
	}
	defer rdb.Close()

	m := metrics.New()
	st := store.New(db)

	lipstickClient := lipstick.NewClient(cfg.LipstickEndpoint, cfg.LipstickAPIKey, cfg.LipstickTimeout, m)
	stripeClient := payment.NewStripeClient(cfg.StripeSecretKey, payment.StripeOptions{
		URL:     cfg.StripeURL,
		Logger:  log,
		Metrics: m,
	})

	var notifier tunnel.Notifier = bot.Noop{}
	var telegram *bot.Notifier
	if cfg.BotToken != "" {
		telegram, err = bot.NewTelegramNotifier(cfg.BotToken, st, log)
		if err != nil {
			log.Fatalf("Could not create telegram notifier: %v", err)
		}
		notifier = telegram
	}

	tunnels := tunnel.NewService(st, lipstickClient, tunnel.Options{
		ListMode:        cfg.TunnelListMode,
		ListConcurrency: cfg.TunnelListConcurrency,
		Notifier:        notifier,
		Logger:          log,
	})
	plans := billing.NewService(st, stripeClient, billing.Options{
		Locker:   billing.NewRedisLocker(rdb, cfg.AssignPlanLockTTL, log),
		Notifier: notifier,
		Logger:   log,
	})

	repairer := worker.NewRepairer(st, lipstickClient, rdb, worker.RepairerOptions{
		Schedule: cfg.RepairSchedule,
		Window:   cfg.RepairWindow,
		Metrics:  m,
		Logger:   log,
	})
	if err := repairer.Start(ctx); err != nil {
		log.Fatalf("Could not start repair worker: %v", err)
	}

	router := api.NewRouter(api.NewHandler(tunnels, plans), api.RouterOptions{
		SessionSecret:  cfg.SessionSecret,
		RequestTimeout: cfg.RequestTimeout,
		Metrics:        m,
		Logger:         log,
	})
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		log.Infof("Server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Server error: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server shutdown error: %v", err)
	}
	repairer.Stop(shutdownCtx)
	if telegram != nil {
		telegram.Wait()
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}

	log.Info("Service stopped")
}
