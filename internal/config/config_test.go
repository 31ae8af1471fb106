package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"btcbacktest/internal/decision"
	"btcbacktest/internal/events"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", "backtest:\n  start: 2024-01-01\n  end: 2024-06-30\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, decision.DefaultConfig(), cfg.Strategy.Decision())
	assert.Equal(t, "BTCUSDT", cfg.Backtest.Symbol)
	assert.Equal(t, ":9992", cfg.App.HTTPAddr)
	assert.Equal(t, 0.02, cfg.Metrics.RiskFreeRate)
	assert.Equal(t, 252, cfg.Metrics.PeriodsPerYear)
	assert.Equal(t, "regression", cfg.Oracle.Kind)
	assert.Equal(t, 7, cfg.Oracle.Horizon)
	assert.True(t, cfg.Sentiment.Enabled)
	assert.Equal(t, 24*time.Hour, cfg.Sentiment.CacheTTL())
	assert.Equal(t, "data/cache.db", cfg.Storage.CachePath)
	assert.Nil(t, cfg.Notify.EventKinds())

	start, end, err := cfg.Backtest.Range()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC), end)
}

func TestLoadRespectsExplicitZeroes(t *testing.T) {
	body := `
metrics:
  risk_free_rate: 0
sentiment:
  enabled: false
  endpoint: ""
strategy:
  dca_amount: "250"
`
	cfg, err := Load(writeFile(t, t.TempDir(), "config.yaml", body))
	require.NoError(t, err)
	assert.Equal(t, 0.0, cfg.Metrics.RiskFreeRate)
	assert.False(t, cfg.Sentiment.Enabled)
	assert.Empty(t, cfg.Sentiment.Endpoint)
	// 字符串数字经 WeaklyTypedInput 转换。
	assert.Equal(t, 250.0, cfg.Strategy.DCAAmount)
}

func TestLoadMergesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "strategy:\n  swing_amount: 800\n  k_atr: 3\nbacktest:\n  symbol: ethusdt\n")
	path := writeFile(t, dir, "config.yaml", "include:\n  - base.yaml\nstrategy:\n  k_atr: 2.5\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 800.0, cfg.Strategy.SwingAmount)
	assert.Equal(t, 2.5, cfg.Strategy.KATR)
	assert.Equal(t, "ETHUSDT", cfg.Backtest.Symbol)
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "include: [b.yaml]\n")
	writeFile(t, dir, "b.yaml", "include: [a.yaml]\n")
	_, err := Load(filepath.Join(dir, "a.yaml"))
	require.ErrorContains(t, err, "include cycle")
}

func TestLoadSecretsFromEnv(t *testing.T) {
	t.Setenv("BTCBT_TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("BTCBT_TELEGRAM_CHAT_ID", "-100")
	body := "notify:\n  telegram:\n    enabled: true\n  events: [run_completed, circuit_breaker]\n"
	cfg, err := Load(writeFile(t, t.TempDir(), "config.yaml", body))
	require.NoError(t, err)
	assert.Equal(t, "123:abc", cfg.Notify.Telegram.BotToken)
	assert.Equal(t, "-100", cfg.Notify.Telegram.ChatID)
	assert.Equal(t, []events.Kind{events.KindRunCompleted, events.KindCircuitBreaker}, cfg.Notify.EventKinds())
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]string{
		"telegram without token": "notify:\n  telegram:\n    enabled: true\n",
		"unknown event":          "notify:\n  events: [liquidated]\n",
		"oracle kind":            "oracle:\n  kind: lstm\n",
		"bad date":               "backtest:\n  start: 01/02/2024\n",
		"end before start":       "backtest:\n  start: 2024-02-01\n  end: 2024-01-01\n",
		"negative retrain":       "backtest:\n  retrain_every: -1\n",
		"strategy":               "strategy:\n  circuit_breaker_ratio: 1.5\n",
		"sma order":              "indicator:\n  sma_short: 200\n  sma_long: 50\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, t.TempDir(), "config.yaml", body))
			require.Error(t, err)
		})
	}

	_, err := Load("")
	require.Error(t, err)
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, validate(cfg))
}
