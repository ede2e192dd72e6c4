package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kidsclubhq/bookingpay/internal/adapters/gateway"
	"github.com/kidsclubhq/bookingpay/internal/adapters/mailer"
	"github.com/kidsclubhq/bookingpay/internal/adapters/repo"
	"github.com/kidsclubhq/bookingpay/internal/config"
	"github.com/kidsclubhq/bookingpay/internal/core/policy"
	"github.com/kidsclubhq/bookingpay/internal/core/service"
	"github.com/kidsclubhq/bookingpay/internal/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := cfg.Logger.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting finance service",
		"port", cfg.Server.Port,
		"log_level", cfg.Logger.Level,
	)

	ctx := context.Background()
	db, err := repo.Connect(ctx, &cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	financeRepo := repo.NewFinanceRepository(db)

	gatewayClient := gateway.NewGatewayClient(cfg.Gateway)
	retryGateway := gateway.NewRetryGatewayClient(gatewayClient, cfg.Retry)

	mailerClient := mailer.NewMailerClient(cfg.Mailer)

	policyEngine := policy.NewEngine(cfg.Policy.AdminFeePence, cfg.Policy.ParentCutoff)
	issuer := service.NewIssuer(financeRepo, cfg.Policy.CreditExpiryMonths, logger)
	ledger := service.NewLedger(financeRepo, policyEngine, issuer, retryGateway, mailerClient, logger)

	tfcReconciler := worker.NewTFCReconciler(
		financeRepo,
		ledger,
		mailerClient,
		cfg.Worker.Interval,
		cfg.Worker.ReminderWindow,
		cfg.Worker.BatchSize,
		logger,
	)

	creditSweeper := worker.NewCreditExpirySweeper(
		financeRepo,
		cfg.Worker.Interval,
		cfg.Worker.BatchSize,
		logger,
	)

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	go tfcReconciler.Start(workerCtx)
	go creditSweeper.Start(workerCtx)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Pool.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:         "0.0.0.0:" + cfg.Server.Port,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")

	cancelWorkers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("server exited")
}
