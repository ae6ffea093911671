package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"

	"github.com/gestpay/gestpay-backend/internal/bot"
	"github.com/gestpay/gestpay-backend/internal/config"
	"github.com/gestpay/gestpay-backend/internal/confirm"
	"github.com/gestpay/gestpay-backend/internal/ledger"
	"github.com/gestpay/gestpay-backend/internal/logging"
	"github.com/gestpay/gestpay-backend/internal/notification"
	"github.com/gestpay/gestpay-backend/internal/repository"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.TelegramBotToken == "" {
		slog.Error("TELEGRAM_BOT_TOKEN is required")
		os.Exit(1)
	}

	log := logging.Init("gestpay-bot", cfg.LogLevel, cfg.AppEnv)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	connectCtx, connectCancel := context.WithTimeout(ctx, 30*time.Second)
	db, err := repository.NewPostgresDB(connectCtx, cfg.DatabaseURL, repository.PoolConfig{
		MaxOpenConns:     cfg.DBMaxOpenConns,
		MaxIdleConns:     cfg.DBMaxIdleConns,
		ConnMaxLifetimeS: cfg.DBConnMaxLifetimeS,
		ConnMaxIdleTimeS: cfg.DBConnMaxIdleTimeS,
	})
	connectCancel()
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		log.Error("failed to init telegram bot", "error", err)
		os.Exit(1)
	}

	accounts := repository.NewAccountRepository(db)
	transactions := repository.NewTransactionRepository(db)
	confirmations := repository.NewConfirmationRepository(db)
	notifications := repository.NewNotificationRepository(db)

	dispatcher := notification.NewDispatcher(log, notification.NewStore(notifications))
	defer dispatcher.Close()

	engine := ledger.NewEngine(accounts, transactions, db, cfg.ConflictRetries, cfg.ConflictBackoff)
	confirmService := confirm.NewService(confirmations, accounts, engine, dispatcher, cfg.ConfirmationTTL)

	h := bot.NewHandler(api, accounts, transactions, engine, confirmService,
		cfg.WebAppBaseURL, cfg.CurrencyCode, log)

	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	h.Run(ctx)
	log.Info("bot stopped")
}
