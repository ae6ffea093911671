package config

import (
	"fmt"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
)

type Config struct {
	DatabaseURL      string `env:"DATABASE_URL,required"`
	JWTSecret        string `env:"JWT_SECRET,required"`
	SettlementSecret string `env:"SETTLEMENT_WEBHOOK_SECRET,required"`
	Port             int    `env:"PORT" envDefault:"8080"`
	LogLevel         string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv           string `env:"APP_ENV" envDefault:"production"`

	// Injected into the transfer orchestrator at construction; core logic
	// never reads the environment directly.
	CurrencyCode      string          `env:"CURRENCY_CODE" envDefault:"NGN"`
	MinTransferAmount decimal.Decimal `env:"MIN_TRANSFER_AMOUNT" envDefault:"0.01"`
	MaxTransferAmount decimal.Decimal `env:"MAX_TRANSFER_AMOUNT" envDefault:"5000000"`

	// Bounded retry budget for serialization conflicts inside the ledger.
	ConflictRetries int           `env:"CONFLICT_RETRIES" envDefault:"3"`
	ConflictBackoff time.Duration `env:"CONFLICT_BACKOFF" envDefault:"25ms"`

	// Month-over-month dashboard trend. "credit" sums inflows only (the
	// historical behaviour); "all" sums both directions.
	TrendBasis string `env:"TREND_BASIS" envDefault:"credit"`

	TokenExpiry     time.Duration `env:"TOKEN_EXPIRY" envDefault:"720h"`
	ConfirmationTTL time.Duration `env:"CONFIRMATION_TTL" envDefault:"15m"`

	AMQPURL      string `env:"AMQP_URL"`
	AMQPExchange string `env:"AMQP_EXCHANGE" envDefault:"gestpay.notifications"`

	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN"`
	WebAppBaseURL    string `env:"WEBAPP_BASE_URL" envDefault:"https://app.gestpay.example"`

	JanitorSchedule string `env:"JANITOR_SCHEDULE" envDefault:"*/5 * * * *"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	DBMaxOpenConns     int `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns     int `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetimeS int `env:"DB_CONN_MAX_LIFETIME_S" envDefault:"300"`
	DBConnMaxIdleTimeS int `env:"DB_CONN_MAX_IDLE_TIME_S" envDefault:"60"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	if cfg.TrendBasis != "credit" && cfg.TrendBasis != "all" {
		return nil, fmt.Errorf("config.Load: TREND_BASIS must be credit or all, got %q", cfg.TrendBasis)
	}
	return &cfg, nil
}
