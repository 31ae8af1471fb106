package indicator

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/markcheno/go-talib"

	"btcbacktest/internal/market"
)

// ErrInsufficientHistory 表示截止时刻之前的数据不足以计算全部指标。
var ErrInsufficientHistory = errors.New("insufficient history for indicators")

// Settings 描述指标周期；零值字段使用默认值。
type Settings struct {
	RSIPeriod  int `json:"rsi_period,omitempty"`
	ATRPeriod  int `json:"atr_period,omitempty"`
	MACDFast   int `json:"macd_fast,omitempty"`
	MACDSlow   int `json:"macd_slow,omitempty"`
	MACDSignal int `json:"macd_signal,omitempty"`
	SMAShort   int `json:"sma_short,omitempty"`
	SMALong    int `json:"sma_long,omitempty"`
	MinHistory int `json:"min_history,omitempty"`
}

func (s Settings) withDefaults() Settings {
	if s.RSIPeriod <= 0 {
		s.RSIPeriod = 14
	}
	if s.ATRPeriod <= 0 {
		s.ATRPeriod = 14
	}
	if s.MACDFast <= 0 {
		s.MACDFast = 12
	}
	if s.MACDSlow <= 0 {
		s.MACDSlow = 26
	}
	if s.MACDSignal <= 0 {
		s.MACDSignal = 9
	}
	if s.SMAShort <= 0 {
		s.SMAShort = 50
	}
	if s.SMALong <= 0 {
		s.SMALong = 200
	}
	return s
}

// Snapshot 是某一时刻的指标快照，只由截止时刻（含）之前的数据计算。
type Snapshot struct {
	AsOf     time.Time `json:"as_of"`
	Price    float64   `json:"price"`
	RSI      float64   `json:"rsi"`
	ATR      float64   `json:"atr"`
	MACDDiff float64   `json:"macd_diff"`
	SMAShort float64   `json:"sma_short"`
	SMALong  float64   `json:"sma_long"` // 历史不足长周期时为 0
	Rows     int       `json:"rows"`
}

// Bullish 表示 MACD 柱为正。
func (s Snapshot) Bullish() bool { return s.MACDDiff > 0 }

// TrendUp 短均线在长均线之上；长均线不可用时返回 false。
func (s Snapshot) TrendUp() bool { return s.SMALong > 0 && s.SMAShort > s.SMALong }

// Feed 基于 go-talib 计算 RSI/ATR/MACD/SMA。
type Feed struct {
	cfg Settings
}

func NewFeed(cfg Settings) *Feed {
	return &Feed{cfg: cfg.withDefaults()}
}

// MinHistory 返回计算一次快照所需的最少行数。
func (f *Feed) MinHistory() int {
	cfg := f.cfg
	need := cfg.SMAShort
	if v := cfg.MACDSlow + cfg.MACDSignal - 1; v > need {
		need = v
	}
	if v := cfg.RSIPeriod + 1; v > need {
		need = v
	}
	if v := cfg.ATRPeriod + 1; v > need {
		need = v
	}
	if cfg.MinHistory > need {
		need = cfg.MinHistory
	}
	return need
}

// Snapshot 计算视图末尾的指标值。
func (f *Feed) Snapshot(view market.View) (Snapshot, error) {
	rows := view.Len()
	if need := f.MinHistory(); rows < need {
		return Snapshot{}, fmt.Errorf("%w: have %d rows, need %d", ErrInsufficientHistory, rows, need)
	}
	cfg := f.cfg
	closes := view.Closes()
	highs := view.Highs()
	lows := view.Lows()
	last, _ := view.Last()

	_, _, hist := talib.Macd(closes, cfg.MACDFast, cfg.MACDSlow, cfg.MACDSignal)
	snap := Snapshot{
		AsOf:     last.Time,
		Price:    last.Price,
		RSI:      lastValue(talib.Rsi(closes, cfg.RSIPeriod)),
		ATR:      lastValue(talib.Atr(highs, lows, closes, cfg.ATRPeriod)),
		MACDDiff: lastValue(hist),
		SMAShort: lastValue(talib.Sma(closes, cfg.SMAShort)),
		Rows:     rows,
	}
	if rows >= cfg.SMALong {
		snap.SMALong = lastValue(talib.Sma(closes, cfg.SMALong))
	}
	for name, v := range map[string]float64{"rsi": snap.RSI, "atr": snap.ATR, "macd": snap.MACDDiff, "sma": snap.SMAShort} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Snapshot{}, fmt.Errorf("%w: %s undefined at %s", ErrInsufficientHistory, name, last.Time.Format(time.DateOnly))
		}
	}
	snap.RSI = round4(snap.RSI)
	snap.ATR = round4(snap.ATR)
	snap.MACDDiff = round4(snap.MACDDiff)
	snap.SMAShort = round4(snap.SMAShort)
	snap.SMALong = round4(snap.SMALong)
	return snap, nil
}

func lastValue(series []float64) float64 {
	if len(series) == 0 {
		return math.NaN()
	}
	return series[len(series)-1]
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// RSIState 按阈值给出 oversold/overbought/neutral。
func RSIState(rsi, oversold, overbought float64) string {
	switch {
	case rsi < oversold:
		return "oversold"
	case rsi > overbought:
		return "overbought"
	default:
		return "neutral"
	}
}
