package config

import (
	"strings"

	"btcbacktest/internal/decision"
	"btcbacktest/internal/metrics"
	"btcbacktest/internal/pkg/symbol"
)

const (
	defaultAppLogLevel       = "info"
	defaultAppHTTPAddr       = ":9992"
	defaultSymbol            = "BTCUSDT"
	defaultIndicatorMinRows  = 50
	defaultOracleKind        = "regression"
	defaultOracleWindow      = 7
	defaultOracleHorizon     = 7
	defaultSentimentEndpoint = "https://api.alternative.me/fng/"
	defaultSentimentLimit    = 2000
	defaultSentimentTTLHours = 24
	defaultSentimentTimeout  = 15
	defaultMarketREST        = "https://fapi.binance.com"
	defaultMarketTimeout     = 30
	defaultStorageCachePath  = "data/cache.db"
	defaultStorageResultsDir = "data/results"
)

// applyDefaults 为所有子配置应用默认值；显式写在文件里的键不会被覆盖。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Strategy.applyDefaults(keys)
	c.Backtest.applyDefaults(keys)
	c.Metrics.applyDefaults(keys)
	c.Indicator.applyDefaults(keys)
	c.Oracle.applyDefaults(keys)
	c.Sentiment.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Storage.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (s *StrategyConfig) applyDefaults(keys keySet) {
	def := decision.DefaultConfig()
	applyFieldDefaults(keys,
		floatFieldDefault("strategy.initial_capital", &s.InitialCapital, def.InitialCapital),
		floatFieldDefault("strategy.dca_amount", &s.DCAAmount, def.DCAAmount),
		floatFieldDefault("strategy.swing_amount", &s.SwingAmount, def.SwingAmount),
		floatFieldDefault("strategy.rsi_oversold", &s.RSIOversold, def.RSIOversold),
		floatFieldDefault("strategy.rsi_overbought", &s.RSIOverbought, def.RSIOverbought),
		floatFieldDefault("strategy.k_atr", &s.KATR, def.KATR),
		floatFieldDefault("strategy.fear_threshold", &s.FearThreshold, def.FearThreshold),
		floatFieldDefault("strategy.swing_confidence_threshold", &s.SwingConfidenceThreshold, def.SwingConfidenceThreshold),
		floatFieldDefault("strategy.circuit_breaker_ratio", &s.CircuitBreakerRatio, def.CircuitBreakerRatio),
	)
}

func (b *BacktestConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys, stringFieldDefault("backtest.symbol", &b.Symbol, defaultSymbol))
	b.Symbol = symbol.Normalize(b.Symbol)
}

func (m *MetricsConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		floatFieldDefault("metrics.risk_free_rate", &m.RiskFreeRate, metrics.DefaultRiskFreeRate),
		intFieldDefault("metrics.periods_per_year", &m.PeriodsPerYear, metrics.DefaultPeriodsPerYear),
	)
}

func (i *IndicatorConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys, intFieldDefault("indicator.min_history", &i.MinHistory, defaultIndicatorMinRows))
}

func (o *OracleConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("oracle.kind", &o.Kind, defaultOracleKind),
		intFieldDefault("oracle.window", &o.Window, defaultOracleWindow),
		intFieldDefault("oracle.horizon", &o.Horizon, defaultOracleHorizon),
	)
	o.Kind = strings.ToLower(strings.TrimSpace(o.Kind))
}

func (s *SentimentConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		boolFieldDefault("sentiment.enabled", &s.Enabled, true),
		stringFieldDefault("sentiment.endpoint", &s.Endpoint, defaultSentimentEndpoint),
		intFieldDefault("sentiment.limit", &s.Limit, defaultSentimentLimit),
		intFieldDefault("sentiment.cache_ttl_hours", &s.CacheTTLHours, defaultSentimentTTLHours),
		intFieldDefault("sentiment.timeout_seconds", &s.TimeoutSeconds, defaultSentimentTimeout),
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("market.rest_base_url", &m.RESTBaseURL, defaultMarketREST),
		intFieldDefault("market.timeout_seconds", &m.TimeoutSeconds, defaultMarketTimeout),
	)
}

func (s *StorageConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("storage.cache_path", &s.CachePath, defaultStorageCachePath),
		stringFieldDefault("storage.results_dir", &s.ResultsDir, defaultStorageResultsDir),
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return strings.TrimSpace(*target) == "" },
		apply: func() { *target = def },
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target == 0 },
		apply: func() { *target = def },
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target <= 0 },
		apply: func() { *target = def },
	}
}

// boolFieldDefault 只在键未出现时生效，因为 false 也是合法的显式值。
func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:   key,
		apply: func() { *target = def },
	}
}
