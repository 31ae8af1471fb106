package backtest

import (
	"time"

	"btcbacktest/internal/decision"
	"btcbacktest/internal/market"
	"btcbacktest/internal/metrics"
)

// Status 标记回测是跑完全程还是被熔断提前终止。
type Status string

const (
	StatusCompleted      Status = "completed"
	StatusCircuitBreaker Status = "circuit_breaker"
)

// RunRequest 描述一次回测。Start/End 为零值时取序列首尾；RetrainEvery ≤ 0 时只训练一次。
type RunRequest struct {
	Series       market.Series
	Start        time.Time
	End          time.Time
	RetrainEvery int
	Profile      string
}

// TrainOnce 作为请求的 RetrainEvery 时表示只训练一次，不取配置的重训间隔。
const TrainOnce = -1

// ValueSample 是每个已执行步骤结束时的账户快照。
type ValueSample struct {
	Time       time.Time `json:"time"`
	TotalValue float64   `json:"total_value"`
	Cash       float64   `json:"cash"`
	Position   float64   `json:"position"`
	Price      float64   `json:"price"`
}

type (
	PredictionRecord = metrics.PredictionRecord
	SignalRecord     = metrics.SignalRecord
)

// Result 是一次回测的完整输出。
type Result struct {
	RunID       string     `json:"run_id"`
	Symbol      string     `json:"symbol"`
	Profile     string     `json:"profile,omitempty"`
	Status      Status     `json:"status"`
	ReachedEnd  bool       `json:"reached_end"`
	StoppedAt   *time.Time `json:"stopped_at,omitempty"`
	LimitedData bool       `json:"limited_data"`

	RequestedStart time.Time `json:"requested_start"`
	RequestedEnd   time.Time `json:"requested_end"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`

	Steps               int `json:"steps"`
	SkippedSteps        int `json:"skipped_steps"`
	Retrains            int `json:"retrains"`
	RetrainFailures     int `json:"retrain_failures"`
	PredictionFallbacks int `json:"prediction_fallbacks"`

	// InitialTrainingFailed 为 true 时，首次成功重训之前的预测都是兜底值。
	InitialTrainingFailed bool `json:"initial_training_failed"`

	Config      decision.Config    `json:"config"`
	Portfolio   decision.Portfolio `json:"portfolio"`
	Trades      []decision.Trade   `json:"trades"`
	Values      []ValueSample      `json:"values"`
	Predictions []PredictionRecord `json:"predictions"`
	Signals     []SignalRecord     `json:"signals"`
	Summary     metrics.Summary    `json:"summary"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// ValueSeries 返回总资产序列。
func (r *Result) ValueSeries() []float64 {
	out := make([]float64, len(r.Values))
	for i, v := range r.Values {
		out[i] = v.TotalValue
	}
	return out
}

// RunRecord 是持久化后的回测摘要。
type RunRecord struct {
	ID             string          `json:"id"`
	Symbol         string          `json:"symbol"`
	Profile        string          `json:"profile"`
	Status         Status          `json:"status"`
	Start          time.Time       `json:"start"`
	End            time.Time       `json:"end"`
	LimitedData    bool            `json:"limited_data"`
	ReachedEnd     bool            `json:"reached_end"`
	StoppedAt      *time.Time      `json:"stopped_at,omitempty"`
	InitialCapital float64         `json:"initial_capital"`
	FinalValue     float64         `json:"final_value"`
	TotalReturn    float64         `json:"total_return"`
	SharpeRatio    float64         `json:"sharpe_ratio"`
	MaxDrawdown    float64         `json:"max_drawdown"`
	WinRate        float64         `json:"win_rate"`
	NumTrades      int             `json:"num_trades"`
	Config         decision.Config `json:"config"`
	Summary        metrics.Summary `json:"summary"`
	CreatedAt      time.Time       `json:"created_at"`
}
