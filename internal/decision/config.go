package decision

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidConfig 表示策略参数缺失或越界，在构造引擎时返回。
var ErrInvalidConfig = errors.New("invalid decision config")

// Config 是决策引擎的策略参数。
type Config struct {
	InitialCapital           float64 `json:"initial_capital"`
	DCAAmount                float64 `json:"dca_amount"`
	SwingAmount              float64 `json:"swing_amount"`
	RSIOversold              float64 `json:"rsi_oversold"`
	RSIOverbought            float64 `json:"rsi_overbought"`
	KATR                     float64 `json:"k_atr"`
	FearThreshold            float64 `json:"fear_threshold"`
	SwingConfidenceThreshold float64 `json:"swing_confidence_threshold"`
	CircuitBreakerRatio      float64 `json:"circuit_breaker_ratio"`
}

// DefaultConfig 返回默认参数。
func DefaultConfig() Config {
	return Config{
		InitialCapital:           10000,
		DCAAmount:                100,
		SwingAmount:              500,
		RSIOversold:              30,
		RSIOverbought:            70,
		KATR:                     2.0,
		FearThreshold:            40,
		SwingConfidenceThreshold: 0.70,
		CircuitBreakerRatio:      0.75,
	}
}

func (c Config) Validate() error {
	checks := []struct {
		ok  bool
		msg string
	}{
		{positive(c.InitialCapital), "initial_capital must be > 0"},
		{positive(c.DCAAmount), "dca_amount must be > 0"},
		{positive(c.SwingAmount), "swing_amount must be > 0"},
		{c.RSIOversold > 0 && c.RSIOversold < 100, "rsi_oversold must be in (0, 100)"},
		{c.RSIOverbought > c.RSIOversold && c.RSIOverbought < 100, "rsi_overbought must be in (rsi_oversold, 100)"},
		{positive(c.KATR), "k_atr must be > 0"},
		{c.FearThreshold >= 0 && c.FearThreshold <= 100, "fear_threshold must be in [0, 100]"},
		{c.SwingConfidenceThreshold >= 0 && c.SwingConfidenceThreshold <= 1, "swing_confidence_threshold must be in [0, 1]"},
		{c.CircuitBreakerRatio > 0 && c.CircuitBreakerRatio <= 1, "circuit_breaker_ratio must be in (0, 1]"},
	}
	for _, chk := range checks {
		if !chk.ok {
			return fmt.Errorf("%w: %s", ErrInvalidConfig, chk.msg)
		}
	}
	return nil
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}
