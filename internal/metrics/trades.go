package metrics

import (
	"sort"

	"btcbacktest/internal/decision"
)

// RoundTrip 是一对已配对的买卖。
type RoundTrip struct {
	Buy           decision.Trade    `json:"buy"`
	Sell          decision.Trade    `json:"sell"`
	Return        float64           `json:"return"`
	EntryStrategy decision.Strategy `json:"entry_strategy"`
	ExitStrategy  decision.Strategy `json:"exit_strategy"`
}

// PairTrades 把每笔 SELL 与其之前最近一笔 BUY 配对。配对后该 BUY 失效，
// 新的 BUY 会覆盖尚未配对的旧 BUY，与开仓价的覆盖规则一致。
func PairTrades(trades []decision.Trade) []RoundTrip {
	var last *decision.Trade
	var out []RoundTrip
	for i := range trades {
		t := trades[i]
		switch t.Action {
		case decision.ActionBuy:
			last = &trades[i]
		case decision.ActionSell:
			if last == nil {
				continue
			}
			buy := *last
			last = nil
			ret := 0.0
			if buy.Price > 0 {
				ret = (t.Price - buy.Price) / buy.Price
			}
			out = append(out, RoundTrip{
				Buy:           buy,
				Sell:          t,
				Return:        ret,
				EntryStrategy: buy.Strategy,
				ExitStrategy:  t.Strategy,
			})
		}
	}
	return out
}

// RoundTripReturns 提取配对收益。
func RoundTripReturns(pairs []RoundTrip) []float64 {
	out := make([]float64, len(pairs))
	for i, p := range pairs {
		out[i] = p.Return
	}
	return out
}

// StrategyStats 是单个策略的成交与配对统计。
type StrategyStats struct {
	Strategy decision.Strategy `json:"strategy"`
	Trades   int               `json:"trades"`
	Notional float64           `json:"notional"`
	TradeStats
}

// StrategyBreakdown 按策略汇总。配对同时计入入场策略与离场策略。
func StrategyBreakdown(trades []decision.Trade, pairs []RoundTrip) []StrategyStats {
	counts := map[decision.Strategy]*StrategyStats{}
	get := func(s decision.Strategy) *StrategyStats {
		st, ok := counts[s]
		if !ok {
			st = &StrategyStats{Strategy: s}
			counts[s] = st
		}
		return st
	}
	for _, t := range trades {
		st := get(t.Strategy)
		st.Trades++
		st.Notional += t.Notional
	}
	returns := map[decision.Strategy][]float64{}
	for _, p := range pairs {
		returns[p.EntryStrategy] = append(returns[p.EntryStrategy], p.Return)
		if p.ExitStrategy != p.EntryStrategy {
			returns[p.ExitStrategy] = append(returns[p.ExitStrategy], p.Return)
		}
	}
	for s, rs := range returns {
		get(s).TradeStats = ComputeTradeStats(rs)
	}
	out := make([]StrategyStats, 0, len(counts))
	for _, st := range counts {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Strategy < out[j].Strategy })
	return out
}
