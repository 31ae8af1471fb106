package events

import (
	"context"
	"fmt"
	"time"

	"btcbacktest/internal/logger"
)

// Kind 是事件类型。
type Kind string

const (
	KindTradeExecuted  Kind = "trade_executed"
	KindCircuitBreaker Kind = "circuit_breaker"
	KindRunCompleted   Kind = "run_completed"
)

// Event 是核心逻辑在固定节点向外发出的通知，不携带可变状态。
type Event struct {
	Kind           Kind               `json:"kind"`
	Time           time.Time          `json:"time"`
	RunID          string             `json:"run_id,omitempty"`
	Action         string             `json:"action,omitempty"`
	Strategy       string             `json:"strategy,omitempty"`
	Price          float64            `json:"price,omitempty"`
	Quantity       float64            `json:"quantity,omitempty"`
	Notional       float64            `json:"notional,omitempty"`
	PortfolioValue float64            `json:"portfolio_value,omitempty"`
	Reason         string             `json:"reason,omitempty"`
	Summary        map[string]float64 `json:"summary,omitempty"`
}

// Sink 接收事件。实现不得阻塞或影响回测结果，错误自行消化。
type Sink interface {
	Emit(ctx context.Context, evt Event)
}

// Nop 丢弃所有事件。
type Nop struct{}

func (Nop) Emit(context.Context, Event) {}

// Multi 依次分发给多个 sink。
type Multi []Sink

func (m Multi) Emit(ctx context.Context, evt Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, evt)
		}
	}
}

// LogSink 把事件写入日志。
type LogSink struct{}

func (LogSink) Emit(_ context.Context, evt Event) {
	switch evt.Kind {
	case KindTradeExecuted:
		logger.Infof("[event] %s %s %.6f @ %.2f (%s) %s", evt.Strategy, evt.Action, evt.Quantity, evt.Price, evt.Time.Format(time.DateOnly), evt.Reason)
	case KindCircuitBreaker:
		logger.Warnf("[event] circuit breaker at %s: %s", evt.Time.Format(time.DateOnly), evt.Reason)
	case KindRunCompleted:
		logger.Infof("[event] run %s completed: %s", evt.RunID, FormatSummary(evt.Summary))
	default:
		logger.Debugf("[event] %s %+v", evt.Kind, evt)
	}
}

// FormatSummary 以固定顺序输出常用指标。
func FormatSummary(summary map[string]float64) string {
	if len(summary) == 0 {
		return "-"
	}
	keys := []string{"total_return", "sharpe_ratio", "max_drawdown", "win_rate", "num_trades", "final_value"}
	out := ""
	for _, k := range keys {
		v, ok := summary[k]
		if !ok {
			continue
		}
		if out != "" {
			out += " "
		}
		out += fmt.Sprintf("%s=%.4f", k, v)
	}
	return out
}

// OrNop 在 s 为 nil 时返回 Nop。
func OrNop(s Sink) Sink {
	if s == nil {
		return Nop{}
	}
	return s
}
