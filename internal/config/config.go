package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	DebtStatusRuleAmountTaken = "amount_taken"
	DebtStatusRuleRemaining   = "remaining"
)

type Config struct {
	Port          string `envconfig:"PORT" default:"8080"`
	AllowedOrigin string `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`

	DatabaseURL string `envconfig:"DATABASE_URL"`
	DBMigrate   bool   `envconfig:"DB_MIGRATE" default:"true"`

	RedisAddr       string        `envconfig:"REDIS_ADDR"`
	RedisPassword   string        `envconfig:"REDIS_PASSWORD"`
	RedisDB         int           `envconfig:"REDIS_DB" default:"0"`
	AccountCacheTTL time.Duration `envconfig:"ACCOUNT_CACHE_TTL" default:"30s"`
	LockTTL         time.Duration `envconfig:"LOCK_TTL" default:"30s"`

	AuthSecret     string        `envconfig:"AUTH_SECRET"`
	AccessTokenTTL time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"8h"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	SaleMaxAttempts int           `envconfig:"SALE_MAX_ATTEMPTS" default:"3"`
	DebtMaxAttempts int           `envconfig:"DEBT_MAX_ATTEMPTS" default:"1"`
	TxMaxWait       time.Duration `envconfig:"TX_MAX_WAIT" default:"15s"`
	TxTimeout       time.Duration `envconfig:"TX_TIMEOUT" default:"30s"`

	DebtEditStatusRule string `envconfig:"DEBT_EDIT_STATUS_RULE" default:"amount_taken"`
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)

	if cfg.SaleMaxAttempts < 1 {
		cfg.SaleMaxAttempts = 1
	}
	if cfg.DebtMaxAttempts < 1 {
		cfg.DebtMaxAttempts = 1
	}
	switch cfg.DebtEditStatusRule {
	case DebtStatusRuleAmountTaken, DebtStatusRuleRemaining:
	default:
		return Config{}, fmt.Errorf("load config: DEBT_EDIT_STATUS_RULE must be %q or %q, got %q",
			DebtStatusRuleAmountTaken, DebtStatusRuleRemaining, cfg.DebtEditStatusRule)
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}
