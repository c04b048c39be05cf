package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("TELEGRAM_BOT_TOKEN", "123456:abcdef")
	t.Setenv("TELEGRAM_CHANNEL_ID", "-1001234567890")
	t.Setenv("ADMIN_USER_ID", "42")
	t.Setenv("ADMIN_API_TOKEN", "s3cret")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, int64(-1001234567890), cfg.TelegramChannel)
	assert.Equal(t, int64(42), cfg.AdminUserID)
	assert.Equal(t, ":3000", cfg.HTTPAddr)
	assert.Equal(t, 1, cfg.TradeThreshold)
	assert.True(t, cfg.DryRun)
	assert.True(t, cfg.PollAnonymous)
	assert.True(t, cfg.OrderSizeUSDC.Equal(decimal.NewFromInt(300)))
	assert.True(t, cfg.OrderCollateralUSDC.Equal(decimal.NewFromInt(3)))
	assert.Equal(t, 60*time.Second, cfg.OrderTimeout)
	assert.Equal(t, 10*time.Second, cfg.BotStartupTimeout)
	assert.Equal(t, "gpt-4o", cfg.OpenAIModel)
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "8080")
	t.Setenv("TRADE_THRESHOLD", "5")
	t.Setenv("ORDER_TIMEOUT", "5s")
	t.Setenv("ORDER_SIZE_USDC", "150.5")
	t.Setenv("POLL_ANONYMOUS", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 5, cfg.TradeThreshold)
	assert.Equal(t, 5*time.Second, cfg.OrderTimeout)
	assert.Equal(t, "150.5", cfg.OrderSizeUSDC.String())
	assert.False(t, cfg.PollAnonymous)
}

func TestLoadMissingRequired(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"missing token", "TELEGRAM_BOT_TOKEN", ""},
		{"placeholder token", "TELEGRAM_BOT_TOKEN", "YOUR_TELEGRAM_BOT_TOKEN"},
		{"missing channel", "TELEGRAM_CHANNEL_ID", ""},
		{"bad channel", "TELEGRAM_CHANNEL_ID", "@channel"},
		{"missing admin", "ADMIN_USER_ID", ""},
		{"missing api token", "ADMIN_API_TOKEN", ""},
		{"zero threshold", "TRADE_THRESHOLD", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadLiveRequiresKey(t *testing.T) {
	setRequired(t)
	t.Setenv("DRY_RUN", "false")

	_, err := Load()
	assert.ErrorContains(t, err, "VENUE_PRIVATE_KEY")
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "12345...", Redact("1234567890:token"))
	assert.Equal(t, "...", Redact("abc"))
}

func TestLoadMalformedValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"TRADE_THRESHOLD", "three"},
		{"ORDER_TIMEOUT", "60"},
		{"VENUE_COOLDOWN", "5 minutes"},
		{"ORDER_SIZE_USDC", "lots"},
		{"DRY_RUN", "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			assert.ErrorContains(t, err, tt.key)
		})
	}
}

func TestLoadReportsEveryMalformedValue(t *testing.T) {
	setRequired(t)
	t.Setenv("ORDER_TIMEOUT", "60")
	t.Setenv("LLM_TIMEOUT", "soon")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ORDER_TIMEOUT")
	assert.Contains(t, err.Error(), "LLM_TIMEOUT")
}
