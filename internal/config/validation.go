package config

import (
	"fmt"
	"strings"

	"btcbacktest/internal/events"
	"btcbacktest/internal/oracle"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Strategy.Decision().Validate(); err != nil {
		return fmt.Errorf("strategy: %w", err)
	}
	if err := c.Backtest.validate(); err != nil {
		return err
	}
	if err := c.Metrics.validate(); err != nil {
		return err
	}
	if err := c.Indicator.validate(); err != nil {
		return err
	}
	if err := c.Oracle.validate(); err != nil {
		return err
	}
	if err := c.Sentiment.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (b *BacktestConfig) validate() error {
	if b.Symbol == "" {
		return fmt.Errorf("backtest.symbol cannot be empty")
	}
	start, end, err := b.Range()
	if err != nil {
		return fmt.Errorf("backtest.start/end must be YYYY-MM-DD: %w", err)
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return fmt.Errorf("backtest.end (%s) is before backtest.start (%s)", b.End, b.Start)
	}
	if b.RetrainEvery < 0 {
		return fmt.Errorf("backtest.retrain_every must be >= 0")
	}
	return nil
}

func (m *MetricsConfig) validate() error {
	if m.PeriodsPerYear <= 0 {
		return fmt.Errorf("metrics.periods_per_year must be > 0")
	}
	if m.RiskFreeRate < 0 || m.RiskFreeRate >= 1 {
		return fmt.Errorf("metrics.risk_free_rate must be in [0, 1)")
	}
	return nil
}

func (i *IndicatorConfig) validate() error {
	for key, v := range map[string]int{
		"rsi_period": i.RSIPeriod,
		"atr_period": i.ATRPeriod,
		"sma_short":  i.SMAShort,
		"sma_long":   i.SMALong,
	} {
		if v < 0 {
			return fmt.Errorf("indicator.%s must be >= 0", key)
		}
	}
	if i.SMAShort > 0 && i.SMALong > 0 && i.SMAShort >= i.SMALong {
		return fmt.Errorf("indicator.sma_short must be < indicator.sma_long")
	}
	return nil
}

func (o *OracleConfig) validate() error {
	switch o.Kind {
	case oracle.KindRegression, oracle.KindSMA:
	default:
		return fmt.Errorf("oracle.kind must be %q or %q, got %q", oracle.KindRegression, oracle.KindSMA, o.Kind)
	}
	if o.Window < 2 {
		return fmt.Errorf("oracle.window must be >= 2")
	}
	if o.Horizon <= 0 {
		return fmt.Errorf("oracle.horizon must be > 0")
	}
	if o.MaxMove < 0 {
		return fmt.Errorf("oracle.max_move must be >= 0")
	}
	return nil
}

func (s *SentimentConfig) validate() error {
	if !s.Enabled {
		return nil
	}
	if strings.TrimSpace(s.Endpoint) == "" {
		return fmt.Errorf("sentiment.endpoint cannot be empty when sentiment is enabled")
	}
	if s.Limit < 0 {
		return fmt.Errorf("sentiment.limit must be >= 0")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if n.Telegram.BotToken == "" || n.Telegram.ChatID == "" {
			return fmt.Errorf("telegram notification enabled but missing bot_token or chat_id")
		}
	}
	for _, raw := range n.Events {
		switch events.Kind(strings.TrimSpace(raw)) {
		case events.KindTradeExecuted, events.KindCircuitBreaker, events.KindRunCompleted:
		default:
			return fmt.Errorf("notify.events contains unknown event %q", raw)
		}
	}
	return nil
}

// EventKinds 返回需要推送的事件类型，nil 表示全部。
func (n NotifyConfig) EventKinds() []events.Kind {
	if len(n.Events) == 0 {
		return nil
	}
	out := make([]events.Kind, 0, len(n.Events))
	for _, raw := range n.Events {
		out = append(out, events.Kind(strings.TrimSpace(raw)))
	}
	return out
}
