package decision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"btcbacktest/internal/events"
)

var (
	ErrInsufficientCash = errors.New("insufficient cash")
	ErrInvalidAmount    = errors.New("invalid trade amount")
)

// 止盈阈值。
const (
	takeProfitFullGain  = 0.15
	takeProfitFullRSI   = 65.0
	takeProfitHalfGain  = 0.10
	takeProfitHalfRSI   = 70.0
	emergencyExitRSI    = 75.0
	emergencyExitFactor = 0.95
	swingUpsideFactor   = 1.03
)

// rule 返回 nil 表示不触发，交给下一条规则。
type rule struct {
	strategy Strategy
	eval     func(e *Engine, obs Observation) *Decision
}

// rules 按优先级排列：熔断 > 止损 > 止盈 > 波段 > 定投。
var rules = []rule{
	{StrategyCircuitBreaker, (*Engine).checkCircuitBreaker},
	{StrategyStopLoss, (*Engine).checkStopLoss},
	{StrategyTakeProfit, (*Engine).checkTakeProfit},
	{StrategySwing, (*Engine).checkSwing},
	{StrategyDCA, (*Engine).checkDCA},
}

// Engine 持有策略参数与唯一的 Portfolio。
type Engine struct {
	cfg       Config
	portfolio Portfolio
	sink      events.Sink
	runID     string
}

type Option func(*Engine)

// WithSink 注入事件出口；默认 Nop。
func WithSink(s events.Sink) Option {
	return func(e *Engine) { e.sink = events.OrNop(s) }
}

// WithRunID 在事件中附带 run id。
func WithRunID(id string) Option {
	return func(e *Engine) { e.runID = id }
}

// WithPortfolio 以指定状态开始（续跑或测试）。
func WithPortfolio(p Portfolio) Option {
	return func(e *Engine) { e.portfolio = p.Clone() }
}

func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:       cfg,
		portfolio: NewPortfolio(cfg.InitialCapital),
		sink:      events.Nop{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.portfolio.Check(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return e, nil
}

func (e *Engine) Config() Config { return e.cfg }

// Snapshot 返回 Portfolio 副本。
func (e *Engine) Snapshot() Portfolio { return e.portfolio.Clone() }

// Trades 返回成交记录副本。
func (e *Engine) Trades() []Trade {
	out := make([]Trade, len(e.portfolio.Trades))
	copy(out, e.portfolio.Trades)
	return out
}

// Decide 依优先级评估规则，返回第一个命中的决策；不修改任何状态。
func (e *Engine) Decide(obs Observation) Decision {
	for _, r := range rules {
		if d := r.eval(e, obs); d != nil {
			return *d
		}
	}
	return hold()
}

func (e *Engine) checkCircuitBreaker(obs Observation) *Decision {
	p := e.portfolio
	value := portfolioValue(p.Cash, p.Position, obs.Price)
	floor := scaled(e.cfg.InitialCapital, e.cfg.CircuitBreakerRatio)
	if !value.LessThan(floor) {
		return nil
	}
	drawdown := -fraction(value, e.cfg.InitialCapital)
	return &Decision{
		Action:   ActionPause,
		Strategy: StrategyCircuitBreaker,
		Reason:   fmt.Sprintf("Circuit Breaker: %.1f%% drawdown (max %.0f%%)", drawdown*100, (1-e.cfg.CircuitBreakerRatio)*100),
		Meta:     Meta{DrawdownPct: drawdown},
	}
}

func (e *Engine) checkStopLoss(obs Observation) *Decision {
	p := e.portfolio
	if !p.HasPosition() {
		return nil
	}
	entry := *p.EntryPrice
	atr := obs.Technical.ATR
	stop := decFromFloat(entry).Sub(scaled(atr, e.cfg.KATR))
	if !decFromFloat(obs.Price).LessThan(stop) {
		return nil
	}
	stopPrice := decToFloat(stop)
	loss := (entry - obs.Price) / entry
	return &Decision{
		Action:   ActionSell,
		Amount:   p.Position,
		Strategy: StrategyStopLoss,
		Reason:   fmt.Sprintf("Stop-Loss: $%.0f < $%.0f (Loss: %.1f%%, ATR: $%.0f)", obs.Price, stopPrice, loss*100, atr),
		Meta:     Meta{LossPct: loss, StopPrice: stopPrice, SellFraction: 1},
	}
}

func (e *Engine) checkTakeProfit(obs Observation) *Decision {
	p := e.portfolio
	if !decFromFloat(p.Position).GreaterThan(positionEpsilon) {
		return nil
	}
	profit := fraction(portfolioValue(p.Cash, p.Position, obs.Price), e.cfg.InitialCapital)
	rsi := obs.Technical.RSI
	sell := func(frac float64, label string) *Decision {
		return &Decision{
			Action:   ActionSell,
			Amount:   decToFloat(scaled(p.Position, frac)),
			Strategy: StrategyTakeProfit,
			Reason:   fmt.Sprintf("Take Profit: Portfolio %+.1f%%, RSI %.0f (%s)", profit*100, rsi, label),
			Meta:     Meta{ProfitPct: profit, SellFraction: frac},
		}
	}
	switch {
	case profit > takeProfitFullGain && rsi > takeProfitFullRSI:
		return sell(1, "FULL EXIT")
	case profit > takeProfitHalfGain && rsi > takeProfitHalfRSI:
		return sell(0.5, "HALF EXIT")
	case rsi > emergencyExitRSI && obs.Technical.MACDDiff < 0 &&
		decFromFloat(obs.Prediction.PredictedPrice).LessThan(scaled(obs.Price, emergencyExitFactor)):
		return sell(1, "EMERGENCY EXIT")
	}
	return nil
}

func (e *Engine) checkSwing(obs Observation) *Decision {
	tech := obs.Technical
	pred := obs.Prediction
	if !(tech.RSI < e.cfg.RSIOversold) || !(tech.MACDDiff > 0) {
		return nil
	}
	if !decFromFloat(pred.PredictedPrice).GreaterThan(scaled(obs.Price, swingUpsideFactor)) {
		return nil
	}
	if !(pred.Confidence > e.cfg.SwingConfidenceThreshold) {
		return nil
	}
	if decimalLT(e.portfolio.Cash, e.cfg.SwingAmount) {
		return nil
	}
	gain := (pred.PredictedPrice - obs.Price) / obs.Price
	return &Decision{
		Action:   ActionBuy,
		Amount:   e.cfg.SwingAmount,
		Strategy: StrategySwing,
		Reason: fmt.Sprintf("Swing: RSI %.0f oversold, MACD bullish, predicted %+.1f%% (confidence %.0f%%)",
			tech.RSI, gain*100, pred.Confidence*100),
		Meta: Meta{ExpectedGain: gain},
	}
}

func (e *Engine) checkDCA(obs Observation) *Decision {
	rsi := obs.Technical.RSI
	score := obs.Sentiment.Score
	oversold := rsi < e.cfg.RSIOversold
	fear := float64(score) < e.cfg.FearThreshold
	if !oversold && !fear {
		return nil
	}
	if decimalLT(e.portfolio.Cash, e.cfg.DCAAmount) {
		return nil
	}
	var triggers []string
	if oversold {
		triggers = append(triggers, fmt.Sprintf("RSI %.1f < %.0f", rsi, e.cfg.RSIOversold))
	}
	if fear {
		triggers = append(triggers, fmt.Sprintf("F&G %d < %.0f", score, e.cfg.FearThreshold))
	}
	return &Decision{
		Action:   ActionBuy,
		Amount:   e.cfg.DCAAmount,
		Strategy: StrategyDCA,
		Reason:   "DCA: " + strings.Join(triggers, ", "),
		Meta:     Meta{Triggers: triggers},
	}
}

// Execute 把 BUY/SELL 决策应用到 Portfolio 并追加成交记录；HOLD/PAUSE 返回 nil。
func (e *Engine) Execute(ctx context.Context, d Decision, price float64, at time.Time) (*Trade, error) {
	switch d.Action {
	case ActionBuy:
		return e.buy(ctx, d, price, at)
	case ActionSell:
		return e.sell(ctx, d, price, at)
	case ActionPause:
		e.sink.Emit(ctx, events.Event{
			Kind:           events.KindCircuitBreaker,
			Time:           at,
			RunID:          e.runID,
			Action:         string(d.Action),
			Strategy:       string(d.Strategy),
			Price:          price,
			PortfolioValue: e.portfolio.Value(price),
			Reason:         d.Reason,
		})
		return nil, nil
	default:
		return nil, nil
	}
}

func (e *Engine) buy(ctx context.Context, d Decision, price float64, at time.Time) (*Trade, error) {
	if !(d.Amount > 0) || !(price > 0) {
		return nil, fmt.Errorf("%w: buy %.8f at %.8f", ErrInvalidAmount, d.Amount, price)
	}
	p := &e.portfolio
	if decimalGT(d.Amount, p.Cash) {
		return nil, fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientCash, d.Amount, p.Cash)
	}
	amount := decFromFloat(d.Amount)
	qty := amount.Div(decFromFloat(price))
	p.Position = decToFloat(decFromFloat(p.Position).Add(qty))
	p.Cash = decToFloat(decFromFloat(p.Cash).Sub(amount))
	p.EntryPrice = floatPtr(price)
	if d.Strategy == StrategyDCA {
		p.LastDCABuyPrice = floatPtr(price)
	}
	return e.record(ctx, Trade{
		Time:     at,
		Action:   ActionBuy,
		Strategy: d.Strategy,
		Price:    price,
		Quantity: decToFloat(qty),
		Notional: d.Amount,
		Reason:   d.Reason,
	}), nil
}

func (e *Engine) sell(ctx context.Context, d Decision, price float64, at time.Time) (*Trade, error) {
	if !(d.Amount > 0) || !(price > 0) {
		return nil, fmt.Errorf("%w: sell %.8f at %.8f", ErrInvalidAmount, d.Amount, price)
	}
	p := &e.portfolio
	qty := decFromFloat(d.Amount)
	if held := decFromFloat(p.Position); qty.GreaterThan(held) {
		qty = held
	}
	if !qty.IsPositive() {
		return nil, fmt.Errorf("%w: no position to sell", ErrInvalidAmount)
	}
	proceeds := qty.Mul(decFromFloat(price))
	p.Cash = decToFloat(decFromFloat(p.Cash).Add(proceeds))
	remaining := decFromFloat(p.Position).Sub(qty)
	if remaining.LessThanOrEqual(positionEpsilon) {
		p.Position = 0
		p.EntryPrice = nil
	} else {
		p.Position = decToFloat(remaining)
	}
	return e.record(ctx, Trade{
		Time:     at,
		Action:   ActionSell,
		Strategy: d.Strategy,
		Price:    price,
		Quantity: decToFloat(qty),
		Notional: decToFloat(proceeds),
		Reason:   d.Reason,
	}), nil
}

func (e *Engine) record(ctx context.Context, t Trade) *Trade {
	e.portfolio.Trades = append(e.portfolio.Trades, t)
	e.sink.Emit(ctx, events.Event{
		Kind:           events.KindTradeExecuted,
		Time:           t.Time,
		RunID:          e.runID,
		Action:         string(t.Action),
		Strategy:       string(t.Strategy),
		Price:          t.Price,
		Quantity:       t.Quantity,
		Notional:       t.Notional,
		PortfolioValue: e.portfolio.Value(t.Price),
		Reason:         t.Reason,
	})
	out := t
	return &out
}
