package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"

	"github.com/gestpay/gestpay-backend/internal/config"
	"github.com/gestpay/gestpay-backend/internal/confirm"
	"github.com/gestpay/gestpay-backend/internal/handler"
	"github.com/gestpay/gestpay-backend/internal/jobs"
	"github.com/gestpay/gestpay-backend/internal/ledger"
	"github.com/gestpay/gestpay-backend/internal/logging"
	"github.com/gestpay/gestpay-backend/internal/middleware"
	"github.com/gestpay/gestpay-backend/internal/notification"
	"github.com/gestpay/gestpay-backend/internal/repository"
	"github.com/gestpay/gestpay-backend/internal/service"
	"github.com/gestpay/gestpay-backend/internal/service/transfer"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logging.Init("gestpay-api", cfg.LogLevel, cfg.AppEnv)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	db, err := repository.NewPostgresDB(ctx, cfg.DatabaseURL, repository.PoolConfig{
		MaxOpenConns:     cfg.DBMaxOpenConns,
		MaxIdleConns:     cfg.DBMaxIdleConns,
		ConnMaxLifetimeS: cfg.DBConnMaxLifetimeS,
		ConnMaxIdleTimeS: cfg.DBConnMaxIdleTimeS,
	})
	cancel()
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	accounts := repository.NewAccountRepository(db)
	transactions := repository.NewTransactionRepository(db)
	confirmations := repository.NewConfirmationRepository(db)
	notifications := repository.NewNotificationRepository(db)
	idempotency := repository.NewIdempotencyRepository(db)

	// Notifications are always persisted; they are also pushed to AMQP when
	// a broker is configured. Delivery is async and post-commit.
	sinks := []notification.Emitter{notification.NewStore(notifications)}
	if cfg.AMQPURL != "" {
		publisher, err := notification.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Error("failed to connect to amqp", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		sinks = append(sinks, publisher)
	} else {
		sinks = append(sinks, notification.NopPublisher{Log: log})
	}
	dispatcher := notification.NewDispatcher(log, sinks...)
	defer dispatcher.Close()

	engine := ledger.NewEngine(accounts, transactions, db, cfg.ConflictRetries, cfg.ConflictBackoff)
	transfers := transfer.NewService(accounts, engine, transactions, dispatcher, transfer.Limits{
		Min: cfg.MinTransferAmount,
		Max: cfg.MaxTransferAmount,
	})
	accountService := service.NewAccountService(accounts, dispatcher, cfg.JWTSecret, cfg.TokenExpiry)
	dashboard := service.NewDashboardService(transactions, service.TrendBasis(cfg.TrendBasis))
	confirmService := confirm.NewService(confirmations, accounts, engine, dispatcher, cfg.ConfirmationTTL)

	janitor := jobs.NewJanitor(confirmService, idempotency, log)
	if err := janitor.Start(cfg.JanitorSchedule); err != nil {
		log.Error("failed to start janitor", "error", err)
		os.Exit(1)
	}
	defer janitor.Stop()

	authHandler := handler.NewAuthHandler(accountService)
	walletHandler := handler.NewWalletHandler(transfers, accountService, transactions, cfg.CurrencyCode)
	dashboardHandler := handler.NewDashboardHandler(dashboard, cfg.CurrencyCode)
	userHandler := handler.NewUserHandler(accountService)
	notificationHandler := handler.NewNotificationHandler(notifications)
	confirmHandler := handler.NewConfirmHandler(confirmService, cfg.CurrencyCode)
	webhookHandler := handler.NewWebhookHandler(transfers, cfg.SettlementSecret)
	healthHandler := handler.NewHealthHandler(db)

	requireAuth := middleware.Auth(cfg.JWTSecret, accounts)
	requireIdempotency := middleware.Idempotency(idempotency)

	r := chi.NewRouter()
	r.Use(middleware.Tracing)
	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Idempotency-Key"},
		MaxAge:         300,
	}))

	r.Get("/health", healthHandler.Liveness)
	r.Get("/health/ready", healthHandler.Readiness)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", authHandler.Register)
		r.Post("/auth/login", authHandler.Login)

		// Unauthenticated by design: the webview payer proves ownership
		// with the one-time token plus their PIN.
		r.Post("/confirm/verify-pin", confirmHandler.VerifyPin)

		r.Post("/webhooks/settlement", webhookHandler.Settlement)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)

			r.Get("/wallet/balance", walletHandler.Balance)
			r.Get("/wallet/transactions", walletHandler.Transactions)
			r.Get("/dashboard", dashboardHandler.Summary)
			r.Get("/notifications", notificationHandler.List)
			r.Post("/notifications/read", notificationHandler.MarkRead)
			r.Get("/user/profile", userHandler.Profile)
			r.Post("/user/set-pin", userHandler.SetPin)
			r.Post("/user/update-password", userHandler.UpdatePassword)
			r.Post("/user/link-telegram", userHandler.LinkTelegram)
			r.Post("/user/channel-payments", userHandler.SetChannelPayments)

			r.Group(func(r chi.Router) {
				r.Use(requireIdempotency)
				r.Post("/wallet/send-money", walletHandler.SendMoney)
			})
		})
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("server started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}
