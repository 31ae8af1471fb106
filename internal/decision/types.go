package decision

import (
	"time"

	"btcbacktest/internal/analysis/indicator"
	"btcbacktest/internal/oracle"
	"btcbacktest/internal/sentiment"
)

// Action 是决策动作。
type Action string

const (
	ActionBuy   Action = "BUY"
	ActionSell  Action = "SELL"
	ActionHold  Action = "HOLD"
	ActionPause Action = "PAUSE"
)

// Strategy 标记触发决策的策略。
type Strategy string

const (
	StrategyNone           Strategy = ""
	StrategyDCA            Strategy = "DCA"
	StrategySwing          Strategy = "SWING"
	StrategyStopLoss       Strategy = "STOP_LOSS"
	StrategyTakeProfit     Strategy = "TAKE_PROFIT"
	StrategyCircuitBreaker Strategy = "CIRCUIT_BREAKER"
)

// Observation 是某一时刻喂给决策引擎的全部输入。
type Observation struct {
	Time       time.Time
	Price      float64
	Technical  indicator.Snapshot
	Sentiment  sentiment.Snapshot
	Prediction oracle.Prediction
}

// Meta 保存策略相关的附加信息，未使用的字段为零值。
type Meta struct {
	ExpectedGain float64  `json:"expected_gain,omitempty"`
	LossPct      float64  `json:"loss_pct,omitempty"`
	DrawdownPct  float64  `json:"drawdown_pct,omitempty"`
	ProfitPct    float64  `json:"profit_pct,omitempty"`
	StopPrice    float64  `json:"stop_price,omitempty"`
	SellFraction float64  `json:"sell_fraction,omitempty"`
	Triggers     []string `json:"triggers,omitempty"`
}

// Decision 是一次评估的结果。Amount 对 BUY 是金额，对 SELL 是币数量。
type Decision struct {
	Action   Action   `json:"action"`
	Amount   float64  `json:"amount,omitempty"`
	Strategy Strategy `json:"strategy,omitempty"`
	Reason   string   `json:"reason"`
	Meta     Meta     `json:"meta"`
}

// Trade 是一笔已执行交易，创建后不再修改。
type Trade struct {
	Time     time.Time `json:"time"`
	Action   Action    `json:"action"`
	Strategy Strategy  `json:"strategy"`
	Price    float64   `json:"price"`
	Quantity float64   `json:"quantity"`
	Notional float64   `json:"notional"`
	Reason   string    `json:"reason"`
}

func hold() Decision {
	return Decision{Action: ActionHold, Reason: "no strategy conditions met"}
}
