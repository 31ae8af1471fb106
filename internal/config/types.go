package config

import (
	"strings"
	"time"

	"btcbacktest/internal/decision"
)

// Config 是回测程序的主配置。
type Config struct {
	App       AppConfig       `toml:"app"`
	Strategy  StrategyConfig  `toml:"strategy"`
	Backtest  BacktestConfig  `toml:"backtest"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Indicator IndicatorConfig `toml:"indicator"`
	Oracle    OracleConfig    `toml:"oracle"`
	Sentiment SentimentConfig `toml:"sentiment"`
	Market    MarketConfig    `toml:"market"`
	Storage   StorageConfig   `toml:"storage"`
	Notify    NotifyConfig    `toml:"notify"`
	Profiles  ProfilesConfig  `toml:"profiles"`
}

type AppConfig struct {
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
	HTTPAddr string `toml:"http_addr"`
}

// StrategyConfig 与 decision.Config 一一对应。
type StrategyConfig struct {
	InitialCapital           float64 `toml:"initial_capital"`
	DCAAmount                float64 `toml:"dca_amount"`
	SwingAmount              float64 `toml:"swing_amount"`
	RSIOversold              float64 `toml:"rsi_oversold"`
	RSIOverbought            float64 `toml:"rsi_overbought"`
	KATR                     float64 `toml:"k_atr"`
	FearThreshold            float64 `toml:"fear_threshold"`
	SwingConfidenceThreshold float64 `toml:"swing_confidence_threshold"`
	CircuitBreakerRatio      float64 `toml:"circuit_breaker_ratio"`
}

func (s StrategyConfig) Decision() decision.Config {
	return decision.Config{
		InitialCapital:           s.InitialCapital,
		DCAAmount:                s.DCAAmount,
		SwingAmount:              s.SwingAmount,
		RSIOversold:              s.RSIOversold,
		RSIOverbought:            s.RSIOverbought,
		KATR:                     s.KATR,
		FearThreshold:            s.FearThreshold,
		SwingConfidenceThreshold: s.SwingConfidenceThreshold,
		CircuitBreakerRatio:      s.CircuitBreakerRatio,
	}
}

// BacktestConfig 描述回测区间与数据来源。日期格式 YYYY-MM-DD。
type BacktestConfig struct {
	Symbol       string `toml:"symbol"`
	Start        string `toml:"start"`
	End          string `toml:"end"`
	RetrainEvery int    `toml:"retrain_every"`
	PricesCSV    string `toml:"prices_csv"`
}

// Range 解析起止日期，空字符串返回零值。
func (b BacktestConfig) Range() (start, end time.Time, err error) {
	if start, err = ParseDate(b.Start); err != nil {
		return
	}
	end, err = ParseDate(b.End)
	return
}

// ParseDate 按 UTC 解析 YYYY-MM-DD。
func ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation(time.DateOnly, raw, time.UTC)
}

type MetricsConfig struct {
	RiskFreeRate   float64 `toml:"risk_free_rate"`
	PeriodsPerYear int     `toml:"periods_per_year"`
}

type IndicatorConfig struct {
	RSIPeriod  int `toml:"rsi_period"`
	ATRPeriod  int `toml:"atr_period"`
	SMAShort   int `toml:"sma_short"`
	SMALong    int `toml:"sma_long"`
	MinHistory int `toml:"min_history"`
}

type OracleConfig struct {
	Kind       string  `toml:"kind"`
	Window     int     `toml:"window"`
	Horizon    int     `toml:"horizon"`
	MinSamples int     `toml:"min_samples"`
	MaxMove    float64 `toml:"max_move"`
}

type SentimentConfig struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Limit          int    `toml:"limit"`
	CacheTTLHours  int    `toml:"cache_ttl_hours"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

func (s SentimentConfig) CacheTTL() time.Duration {
	return time.Duration(s.CacheTTLHours) * time.Hour
}

func (s SentimentConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// MarketConfig 控制 fetch 命令使用的 Binance 接口。
type MarketConfig struct {
	RESTBaseURL    string `toml:"rest_base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

func (m MarketConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutSeconds) * time.Second
}

type StorageConfig struct {
	CachePath  string `toml:"cache_path"`
	ResultsDir string `toml:"results_dir"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
	// Events 为空时推送全部事件。
	Events []string `toml:"events"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type ProfilesConfig struct {
	Path  string `toml:"path"`
	Watch bool   `toml:"watch"`
}

type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	_, ok := k[strings.ToLower(strings.TrimSpace(path))]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
