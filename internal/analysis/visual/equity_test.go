package visual

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"btcbacktest/internal/backtest"
	"btcbacktest/internal/decision"
)

func day(n int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func TestRenderEquity(t *testing.T) {
	res := &backtest.Result{
		RunID:  "r1",
		Symbol: "BTCUSDT",
		Status: backtest.StatusCompleted,
		Start:  day(0),
		End:    day(2),
		Values: []backtest.ValueSample{
			{Time: day(0), TotalValue: 10000, Price: 40000},
			{Time: day(1), TotalValue: 9800, Price: 39000},
			{Time: day(2), TotalValue: 10100, Price: 41000},
		},
		Trades: []decision.Trade{
			{Time: day(0), Action: decision.ActionBuy, Strategy: decision.StrategyDCA, Price: 40000},
			{Time: day(2), Action: decision.ActionSell, Strategy: decision.StrategyTakeProfit, Price: 41000},
			// 不在资金曲线上的成交被忽略。
			{Time: day(9), Action: decision.ActionSell, Strategy: decision.StrategyStopLoss, Price: 1},
		},
	}
	in := EquityInputFromResult(res)
	require.Len(t, in.Points, 3)
	require.Len(t, in.Trades, 3)

	html, err := RenderEquity(in)
	require.NoError(t, err)
	page := string(html)
	assert.Contains(t, page, "echarts")
	assert.Contains(t, page, "Portfolio")
	assert.Contains(t, page, "2024-01-02")
	assert.Contains(t, page, "TAKE_PROFIT")
	assert.NotContains(t, page, "STOP_LOSS")
}

func TestRenderEquityRequiresSamples(t *testing.T) {
	_, err := RenderEquity(EquityInput{})
	require.Error(t, err)
}

func TestDrawdownSeries(t *testing.T) {
	dd := drawdownSeries([]float64{100, 120, 90, 130})
	assert.Equal(t, []float64{0, 0, -25, 0}, dd)
}
