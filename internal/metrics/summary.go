package metrics

import (
	"btcbacktest/internal/decision"
	"btcbacktest/internal/market"
)

// Input 是汇总一次回测所需的全部记录。
type Input struct {
	InitialCapital float64
	Values         []float64
	Trades         []decision.Trade
	// Series 为回测区间内的价格，用于买入持有基准与预测评估。
	Series         market.Series
	Signals        []SignalRecord
	Predictions    []PredictionRecord
	RiskFreeRate   float64
	PeriodsPerYear int
	RSIOversold    float64
}

// Summary 是回测结果的指标汇总。
type Summary struct {
	InitialCapital float64           `json:"initial_capital"`
	FinalValue     float64           `json:"final_value"`
	TotalReturn    float64           `json:"total_return"`
	SharpeRatio    Ratio             `json:"sharpe_ratio"`
	SortinoRatio   Ratio             `json:"sortino_ratio"`
	MaxDrawdown    float64           `json:"max_drawdown"`
	CalmarRatio    Ratio             `json:"calmar_ratio"`
	NumTrades      int               `json:"num_trades"`
	NumBuys        int               `json:"num_buys"`
	NumSells       int               `json:"num_sells"`
	CompletedPairs int               `json:"completed_pairs"`
	WinRate        float64           `json:"win_rate"`
	AvgTradeReturn float64           `json:"avg_trade_return"`
	ProfitFactor   Ratio             `json:"profit_factor"`
	BuyHoldReturn  float64           `json:"buy_hold_return"`
	Outperformance float64           `json:"outperformance"`
	FearGreedCorr  float64           `json:"fear_greed_correlation"`
	Signals        SignalAccuracy    `json:"signal_accuracy"`
	Prediction     PredictionQuality `json:"prediction"`
	Strategies     []StrategyStats   `json:"strategies"`
}

// Compute 汇总所有指标。Values 为空时最终价值取初始资金。
func Compute(in Input) Summary {
	ppy := in.PeriodsPerYear
	if ppy <= 0 {
		ppy = DefaultPeriodsPerYear
	}
	final := in.InitialCapital
	if n := len(in.Values); n > 0 {
		final = in.Values[n-1]
	}
	returns := Returns(in.Values)
	pairs := PairTrades(in.Trades)
	stats := ComputeTradeStats(RoundTripReturns(pairs))
	total := TotalReturn(final, in.InitialCapital)
	dd := MaxDrawdown(in.Values)

	out := Summary{
		InitialCapital: in.InitialCapital,
		FinalValue:     final,
		TotalReturn:    total,
		SharpeRatio:    Ratio(Sharpe(returns, in.RiskFreeRate, ppy)),
		SortinoRatio:   Ratio(Sortino(returns, in.RiskFreeRate, ppy)),
		MaxDrawdown:    dd,
		CalmarRatio:    Ratio(Calmar(total, dd, len(in.Values), ppy)),
		NumTrades:      len(in.Trades),
		CompletedPairs: len(pairs),
		WinRate:        stats.WinRate,
		AvgTradeReturn: stats.AvgReturn,
		ProfitFactor:   stats.ProfitFactor,
		FearGreedCorr:  FearGreedCorrelation(in.Signals),
		Signals:        ComputeSignalAccuracy(in.Signals, in.RSIOversold),
		Prediction:     ComputePredictionQuality(in.Predictions, in.Series),
		Strategies:     StrategyBreakdown(in.Trades, pairs),
	}
	for _, t := range in.Trades {
		if t.Action == decision.ActionBuy {
			out.NumBuys++
		} else if t.Action == decision.ActionSell {
			out.NumSells++
		}
	}
	first, okFirst := in.Series.First()
	last, okLast := in.Series.Last()
	if okFirst && okLast {
		out.BuyHoldReturn = BuyAndHold(first.Price, last.Price)
	}
	out.Outperformance = total - out.BuyHoldReturn
	return out
}

// Headline 返回事件与日志使用的主要指标。
func (s Summary) Headline() map[string]float64 {
	return map[string]float64{
		"total_return":    s.TotalReturn,
		"sharpe_ratio":    s.SharpeRatio.Float(),
		"max_drawdown":    s.MaxDrawdown,
		"win_rate":        s.WinRate,
		"num_trades":      float64(s.NumTrades),
		"final_value":     s.FinalValue,
		"buy_hold_return": s.BuyHoldReturn,
	}
}
