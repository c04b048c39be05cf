package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const tokenPlaceholder = "YOUR_TELEGRAM_BOT_TOKEN"

// Config holds all configuration for the bot
type Config struct {
	// Telegram
	TelegramToken   string
	TelegramChannel int64
	AdminUserID     int64
	PollAnonymous   bool

	// HTTP
	HTTPAddr      string
	AdminAPIToken string

	// Voting
	TradeThreshold int

	// Mode
	DryRun bool
	Debug  bool

	// Venue
	MerkleAPIURL        string
	VenuePrivateKey     string
	OrderSizeUSDC       decimal.Decimal
	OrderCollateralUSDC decimal.Decimal
	VenueMaxFailures    int
	VenueCooldown       time.Duration

	// Advisor
	OpenAIAPIKey   string
	OpenAIBaseURL  string
	OpenAIModel    string
	PriceFeedWSURL string

	// Timeouts
	TelegramTimeout   time.Duration
	OrderTimeout      time.Duration
	LLMTimeout        time.Duration
	BotStartupTimeout time.Duration

	// Database
	DatabaseURL string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	env := &envReader{}
	cfg := &Config{
		// Telegram
		TelegramToken: strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")),
		PollAnonymous: env.Bool("POLL_ANONYMOUS", true),

		// HTTP
		HTTPAddr:      ":" + getEnv("PORT", "3000"),
		AdminAPIToken: os.Getenv("ADMIN_API_TOKEN"),

		TradeThreshold: env.Int("TRADE_THRESHOLD", 1),

		DryRun: env.Bool("DRY_RUN", true),
		Debug:  env.Bool("DEBUG", false),

		// Venue
		MerkleAPIURL:        getEnv("MERKLE_API_URL", "https://api.merkle.trade"),
		VenuePrivateKey:     os.Getenv("VENUE_PRIVATE_KEY"),
		OrderSizeUSDC:       env.Decimal("ORDER_SIZE_USDC", decimal.NewFromInt(300)),
		OrderCollateralUSDC: env.Decimal("ORDER_COLLATERAL_USDC", decimal.NewFromInt(3)),
		VenueMaxFailures:    env.Int("VENUE_MAX_FAILURES", 3),
		VenueCooldown:       env.Duration("VENUE_COOLDOWN", 5*time.Minute),

		// Advisor
		OpenAIAPIKey:   os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:  getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModel:    getEnv("OPENAI_MODEL", "gpt-4o"),
		PriceFeedWSURL: os.Getenv("PRICE_FEED_WS_URL"),

		// Timeouts
		TelegramTimeout:   env.Duration("TELEGRAM_TIMEOUT", 15*time.Second),
		OrderTimeout:      env.Duration("ORDER_TIMEOUT", 60*time.Second),
		LLMTimeout:        env.Duration("LLM_TIMEOUT", 60*time.Second),
		BotStartupTimeout: env.Duration("BOT_STARTUP_TIMEOUT", 10*time.Second),

		DatabaseURL: getEnv("DATABASE_URL", "data/merklemind.db"),
	}
	if err := env.Err(); err != nil {
		return nil, err
	}

	if cfg.TelegramToken == "" || cfg.TelegramToken == tokenPlaceholder {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	channel, err := requireInt64("TELEGRAM_CHANNEL_ID")
	if err != nil {
		return nil, err
	}
	cfg.TelegramChannel = channel

	admin, err := requireInt64("ADMIN_USER_ID")
	if err != nil {
		return nil, err
	}
	cfg.AdminUserID = admin

	if cfg.AdminAPIToken == "" {
		return nil, fmt.Errorf("ADMIN_API_TOKEN is required")
	}

	if cfg.TradeThreshold <= 0 {
		return nil, fmt.Errorf("TRADE_THRESHOLD must be positive, got %d", cfg.TradeThreshold)
	}
	if !cfg.OrderSizeUSDC.IsPositive() || !cfg.OrderCollateralUSDC.IsPositive() {
		return nil, fmt.Errorf("ORDER_SIZE_USDC and ORDER_COLLATERAL_USDC must be positive")
	}
	if !cfg.DryRun && cfg.VenuePrivateKey == "" {
		return nil, fmt.Errorf("VENUE_PRIVATE_KEY is required when DRY_RUN=false")
	}

	return cfg, nil
}

// Redact truncates a secret for logging
func Redact(secret string) string {
	if len(secret) <= 5 {
		return "..."
	}
	return secret[:5] + "..."
}

// Helper functions

func requireInt64(key string) (int64, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return id, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// envReader parses optional typed variables and collects malformed values
type envReader struct {
	errs []error
}

func (e *envReader) fail(key, value string, err error) {
	e.errs = append(e.errs, fmt.Errorf("invalid %s=%q: %w", key, value, err))
}

// Err reports every malformed variable seen so far
func (e *envReader) Err() error {
	return errors.Join(e.errs...)
}

func (e *envReader) Bool(key string, defaultValue bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch value {
	case "":
		return defaultValue
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	e.fail(key, value, errors.New("want true or false"))
	return defaultValue
}

func (e *envReader) Int(key string, defaultValue int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		e.fail(key, value, err)
		return defaultValue
	}
	return i
}

func (e *envReader) Duration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		e.fail(key, value, err)
		return defaultValue
	}
	return d
}

func (e *envReader) Decimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		e.fail(key, value, err)
		return defaultValue
	}
	return d
}
