package decision

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"btcbacktest/internal/analysis/indicator"
	"btcbacktest/internal/events"
	"btcbacktest/internal/oracle"
	"btcbacktest/internal/sentiment"
)

type mockSink struct {
	mock.Mock
}

func (m *mockSink) Emit(ctx context.Context, evt events.Event) {
	m.Called(ctx, evt)
}

var testTime = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// neutralObs 不触发任何策略。
func neutralObs(price float64) Observation {
	return Observation{
		Time:       testTime,
		Price:      price,
		Technical:  indicator.Snapshot{Price: price, RSI: 50, ATR: 1000, MACDDiff: 0},
		Sentiment:  sentiment.Snapshot{Score: 50, Classification: "Neutral"},
		Prediction: oracle.Prediction{CurrentPrice: price, PredictedPrice: price, Confidence: 0.5},
	}
}

func newTestEngine(t *testing.T, p *Portfolio, opts ...Option) *Engine {
	t.Helper()
	if p != nil {
		opts = append(opts, WithPortfolio(*p))
	}
	eng, err := NewEngine(DefaultConfig(), opts...)
	require.NoError(t, err)
	return eng
}

func TestNewEngineRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DCAAmount = 0
	_, err := NewEngine(cfg)
	require.ErrorIs(t, err, ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.RSIOverbought = 20
	_, err = NewEngine(cfg)
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewEngine(DefaultConfig(), WithPortfolio(Portfolio{Cash: 100, Position: 1}))
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDecideHoldWhenNothingMatches(t *testing.T) {
	eng := newTestEngine(t, nil)
	d := eng.Decide(neutralObs(50000))
	assert.Equal(t, ActionHold, d.Action)
	assert.Equal(t, StrategyNone, d.Strategy)
	assert.Zero(t, d.Amount)
}

func TestStopLossScenario(t *testing.T) {
	entry := 100000.0
	eng := newTestEngine(t, &Portfolio{Cash: 5000, Position: 0.05, EntryPrice: &entry})

	obs := neutralObs(96500)
	obs.Technical.ATR = 1500
	d := eng.Decide(obs)

	assert.Equal(t, ActionSell, d.Action)
	assert.Equal(t, StrategyStopLoss, d.Strategy)
	assert.InDelta(t, 0.05, d.Amount, 1e-12)
	assert.InDelta(t, 97000, d.Meta.StopPrice, 1e-9)
	assert.InDelta(t, 0.035, d.Meta.LossPct, 1e-12)
	assert.Contains(t, d.Reason, "Stop-Loss")

	obs.Price = 97000
	assert.NotEqual(t, StrategyStopLoss, eng.Decide(obs).Strategy, "stop is exclusive")
}

func TestStopLossBeatsSwing(t *testing.T) {
	entry := 100000.0
	eng := newTestEngine(t, &Portfolio{Cash: 5000, Position: 0.05, EntryPrice: &entry})

	obs := neutralObs(96500)
	obs.Technical.ATR = 1500
	obs.Technical.RSI = 20
	obs.Technical.MACDDiff = 10
	obs.Prediction.PredictedPrice = 110000
	obs.Prediction.Confidence = 0.9

	d := eng.Decide(obs)
	assert.Equal(t, StrategyStopLoss, d.Strategy)

	// 无持仓时同一组输入落到波段。
	flat := newTestEngine(t, &Portfolio{Cash: 9000})
	assert.Equal(t, StrategySwing, flat.Decide(obs).Strategy)
}

func TestDecideIsDeterministic(t *testing.T) {
	entry := 60000.0
	eng := newTestEngine(t, &Portfolio{Cash: 3000, Position: 0.1, EntryPrice: &entry})
	obs := neutralObs(58000)
	obs.Technical.RSI = 28
	obs.Sentiment.Score = 22

	first := eng.Decide(obs)
	before := eng.Snapshot()
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, eng.Decide(obs))
	}
	assert.Equal(t, before, eng.Snapshot(), "decide must not mutate the portfolio")
}

func TestCircuitBreakerBoundary(t *testing.T) {
	entry := 100000.0
	// 7500 现金 + 0 持仓 = 75.0%，不触发。
	at := newTestEngine(t, &Portfolio{Cash: 7500})
	assert.NotEqual(t, ActionPause, at.Decide(neutralObs(50000)).Action)

	// 持仓计价后 7499.9，触发。
	below := newTestEngine(t, &Portfolio{Cash: 2499.9, Position: 0.1, EntryPrice: &entry})
	d := below.Decide(neutralObs(50000))
	assert.Equal(t, ActionPause, d.Action)
	assert.Equal(t, StrategyCircuitBreaker, d.Strategy)
	assert.InDelta(t, 0.25001, d.Meta.DrawdownPct, 1e-9)
}

func TestCircuitBreakerPrecedesStopLoss(t *testing.T) {
	entry := 100000.0
	eng := newTestEngine(t, &Portfolio{Cash: 1000, Position: 0.1, EntryPrice: &entry})
	obs := neutralObs(50000)
	obs.Technical.ATR = 1000
	assert.Equal(t, ActionPause, eng.Decide(obs).Action)
}

func TestDCAOrLogic(t *testing.T) {
	cases := []struct {
		name     string
		rsi      float64
		score    int
		strategy Strategy
		triggers int
	}{
		{"oversold only", 25, 50, StrategyDCA, 1},
		{"fear only", 50, 30, StrategyDCA, 1},
		{"both", 25, 20, StrategyDCA, 2},
		{"neither", 50, 50, StrategyNone, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eng := newTestEngine(t, nil)
			obs := neutralObs(40000)
			obs.Technical.RSI = tc.rsi
			obs.Sentiment.Score = tc.score
			d := eng.Decide(obs)
			assert.Equal(t, tc.strategy, d.Strategy)
			assert.Len(t, d.Meta.Triggers, tc.triggers)
			if tc.strategy == StrategyDCA {
				assert.Equal(t, ActionBuy, d.Action)
				assert.Equal(t, 100.0, d.Amount)
			}
		})
	}
}

func TestDCAReasonListsTriggers(t *testing.T) {
	eng := newTestEngine(t, nil)
	obs := neutralObs(40000)
	obs.Technical.RSI = 28
	obs.Sentiment.Score = 22
	d := eng.Decide(obs)
	assert.Equal(t, "DCA: RSI 28.0 < 30, F&G 22 < 40", d.Reason)
}

func TestSwingSuppressedOnInsufficientCash(t *testing.T) {
	obs := neutralObs(40000)
	obs.Technical.RSI = 25
	obs.Technical.MACDDiff = 5
	obs.Prediction.PredictedPrice = 44000
	obs.Prediction.Confidence = 0.8

	// 现金不足 500，但够 100 的定投；持仓撑住总资产避免熔断。
	entry := 40000.0
	eng := newTestEngine(t, &Portfolio{Cash: 300, Position: 0.2, EntryPrice: &entry})
	d := eng.Decide(obs)
	assert.Equal(t, StrategyDCA, d.Strategy)
	assert.Equal(t, 100.0, d.Amount)

	// 连定投都不够则 HOLD。
	poor := newTestEngine(t, &Portfolio{Cash: 50, Position: 0.2, EntryPrice: &entry})
	assert.Equal(t, ActionHold, poor.Decide(obs).Action)

	rich := newTestEngine(t, &Portfolio{Cash: 9000})
	d = rich.Decide(obs)
	assert.Equal(t, StrategySwing, d.Strategy)
	assert.Equal(t, 500.0, d.Amount)
	assert.InDelta(t, 0.1, d.Meta.ExpectedGain, 1e-12)
}

func TestSwingRequiresAllConditions(t *testing.T) {
	base := neutralObs(40000)
	base.Technical.RSI = 25
	base.Technical.MACDDiff = 5
	base.Prediction.PredictedPrice = 44000
	base.Prediction.Confidence = 0.8
	base.Sentiment.Score = 50

	mutate := map[string]func(*Observation){
		"rsi not oversold":   func(o *Observation) { o.Technical.RSI = 30 },
		"macd bearish":       func(o *Observation) { o.Technical.MACDDiff = 0 },
		"upside too small":   func(o *Observation) { o.Prediction.PredictedPrice = 41200 },
		"confidence too low": func(o *Observation) { o.Prediction.Confidence = 0.7 },
	}
	for name, fn := range mutate {
		t.Run(name, func(t *testing.T) {
			eng := newTestEngine(t, nil)
			obs := base
			fn(&obs)
			assert.NotEqual(t, StrategySwing, eng.Decide(obs).Strategy)
		})
	}
}

func TestTakeProfitVariants(t *testing.T) {
	entry := 40000.0
	// 0.1 BTC @ 60000 + 6000 现金 = 12000，收益 20%。
	p := Portfolio{Cash: 6000, Position: 0.1, EntryPrice: &entry}

	obs := neutralObs(60000)
	obs.Technical.RSI = 66
	d := newTestEngine(t, &p).Decide(obs)
	assert.Equal(t, StrategyTakeProfit, d.Strategy)
	assert.Equal(t, 1.0, d.Meta.SellFraction)
	assert.InDelta(t, 0.1, d.Amount, 1e-12)

	// 收益 12%：只满足半仓条件。
	p.Cash = 5200
	obs.Technical.RSI = 71
	d = newTestEngine(t, &p).Decide(obs)
	assert.Equal(t, StrategyTakeProfit, d.Strategy)
	assert.Equal(t, 0.5, d.Meta.SellFraction)
	assert.InDelta(t, 0.05, d.Amount, 1e-12)

	obs.Technical.RSI = 68
	assert.Equal(t, ActionHold, newTestEngine(t, &p).Decide(obs).Action)

	// 无盈利时的紧急离场。
	p.Cash = 3000
	obs.Technical.RSI = 80
	obs.Technical.MACDDiff = -3
	obs.Prediction.PredictedPrice = 56000
	d = newTestEngine(t, &p).Decide(obs)
	assert.Equal(t, StrategyTakeProfit, d.Strategy)
	assert.Contains(t, d.Reason, "EMERGENCY")
	assert.InDelta(t, 0.1, d.Amount, 1e-12)
}

func TestTakeProfitSkipsDustPosition(t *testing.T) {
	entry := 40000.0
	p := Portfolio{Cash: 12000, Position: 0.00005, EntryPrice: &entry}
	obs := neutralObs(60000)
	obs.Technical.RSI = 66
	assert.NotEqual(t, StrategyTakeProfit, newTestEngine(t, &p).Decide(obs).Strategy)
}

func TestExecuteBuyAndSell(t *testing.T) {
	ctx := context.Background()
	sink := &mockSink{}
	sink.On("Emit", mock.Anything, mock.MatchedBy(func(e events.Event) bool {
		return e.Kind == events.KindTradeExecuted && e.RunID == "run-1"
	})).Times(3)

	eng := newTestEngine(t, nil, WithSink(sink), WithRunID("run-1"))

	tr, err := eng.Execute(ctx, Decision{Action: ActionBuy, Amount: 100, Strategy: StrategyDCA}, 50000, testTime)
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.InDelta(t, 0.002, tr.Quantity, 1e-12)

	_, err = eng.Execute(ctx, Decision{Action: ActionBuy, Amount: 500, Strategy: StrategySwing}, 40000, testTime.AddDate(0, 0, 1))
	require.NoError(t, err)

	p := eng.Snapshot()
	assert.InDelta(t, 9400, p.Cash, 1e-9)
	assert.InDelta(t, 0.0145, p.Position, 1e-12)
	require.NotNil(t, p.EntryPrice)
	assert.Equal(t, 40000.0, *p.EntryPrice, "entry price is overwritten, not averaged")
	require.NotNil(t, p.LastDCABuyPrice)
	assert.Equal(t, 50000.0, *p.LastDCABuyPrice)
	require.NoError(t, p.Check())

	// 超额卖出被截断到持仓。
	tr, err = eng.Execute(ctx, Decision{Action: ActionSell, Amount: 1, Strategy: StrategyStopLoss}, 42000, testTime.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.InDelta(t, 0.0145, tr.Quantity, 1e-12)

	p = eng.Snapshot()
	assert.Zero(t, p.Position)
	assert.Nil(t, p.EntryPrice)
	assert.InDelta(t, 9400+0.0145*42000, p.Cash, 1e-9)
	require.NoError(t, p.Check())
	assert.Len(t, eng.Trades(), 3)
	sink.AssertExpectations(t)
}

func TestExecuteSnapsDustToZero(t *testing.T) {
	entry := 50000.0
	eng := newTestEngine(t, &Portfolio{Cash: 0, Position: 0.01005, EntryPrice: &entry})
	_, err := eng.Execute(context.Background(), Decision{Action: ActionSell, Amount: 0.01, Strategy: StrategyTakeProfit}, 50000, testTime)
	require.NoError(t, err)
	p := eng.Snapshot()
	assert.Zero(t, p.Position)
	assert.Nil(t, p.EntryPrice)
	require.NoError(t, p.Check())
}

func TestExecuteRejectsInvalidTrades(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, &Portfolio{Cash: 50})
	before := eng.Snapshot()

	_, err := eng.Execute(ctx, Decision{Action: ActionBuy, Amount: 100, Strategy: StrategyDCA}, 50000, testTime)
	require.ErrorIs(t, err, ErrInsufficientCash)

	_, err = eng.Execute(ctx, Decision{Action: ActionBuy, Amount: -1}, 50000, testTime)
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = eng.Execute(ctx, Decision{Action: ActionSell, Amount: 1}, 50000, testTime)
	require.ErrorIs(t, err, ErrInvalidAmount)

	assert.Equal(t, before, eng.Snapshot())
}

func TestExecutePauseEmitsEvent(t *testing.T) {
	sink := &mockSink{}
	sink.On("Emit", mock.Anything, mock.MatchedBy(func(e events.Event) bool {
		return e.Kind == events.KindCircuitBreaker
	})).Once()
	eng := newTestEngine(t, &Portfolio{Cash: 7000}, WithSink(sink))

	d := eng.Decide(neutralObs(30000))
	require.Equal(t, ActionPause, d.Action)
	tr, err := eng.Execute(context.Background(), d, 30000, testTime)
	require.NoError(t, err)
	assert.Nil(t, tr)
	assert.Equal(t, 7000.0, eng.Snapshot().Cash)
	sink.AssertExpectations(t)
}

func TestPortfolioInvariantAcrossRandomWalk(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, nil)
	prices := []float64{42000, 39000, 36000, 35500, 41000, 47000, 52000, 49000, 45000, 44000, 51000, 58000}
	rsis := []float64{45, 28, 22, 25, 40, 68, 72, 60, 35, 29, 66, 77}
	for i, price := range prices {
		obs := neutralObs(price)
		obs.Technical.RSI = rsis[i]
		obs.Technical.ATR = 1500
		obs.Sentiment.Score = int(rsis[i])
		d := eng.Decide(obs)
		if d.Action == ActionPause {
			break
		}
		_, err := eng.Execute(ctx, d, price, testTime.AddDate(0, 0, i))
		require.NoError(t, err)
		require.NoError(t, eng.Snapshot().Check(), "step %d", i)
	}
	assert.NotEmpty(t, eng.Trades())
}
