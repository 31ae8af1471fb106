package metrics

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

const (
	DefaultRiskFreeRate   = 0.02
	DefaultPeriodsPerYear = 252
)

// TotalReturn = (final − initial)/initial。
func TotalReturn(final, initial float64) float64 {
	if initial == 0 {
		return 0
	}
	return (final - initial) / initial
}

// Returns 返回逐步百分比变化，长度为 len(values)-1。
func Returns(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		prev := values[i-1]
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, (values[i]-prev)/prev)
	}
	return out
}

// Sharpe 年化夏普：(mean·ppy − rf)/(std·√ppy)，std 为样本标准差。
func Sharpe(returns []float64, riskFree float64, periodsPerYear int) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean, std := stat.MeanStdDev(returns, nil)
	if std == 0 || math.IsNaN(std) {
		return 0
	}
	ppy := float64(periodsPerYear)
	return (mean*ppy - riskFree) / (std * math.Sqrt(ppy))
}

// Sortino 与 Sharpe 相同，但分母只取负收益的标准差。
func Sortino(returns []float64, riskFree float64, periodsPerYear int) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean := stat.Mean(returns, nil)
	var downside []float64
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if len(downside) == 0 {
		if mean > 0 {
			return math.Inf(1)
		}
		return 0
	}
	if len(downside) < 2 {
		return 0
	}
	std := stat.StdDev(downside, nil)
	if std == 0 || math.IsNaN(std) {
		return 0
	}
	ppy := float64(periodsPerYear)
	return (mean*ppy - riskFree) / (std * math.Sqrt(ppy))
}

// MaxDrawdown 返回相对历史峰值的最大回撤，恒 ≤ 0。
func MaxDrawdown(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	peak := values[0]
	worst := 0.0
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak <= 0 {
			continue
		}
		if dd := (v - peak) / peak; dd < worst {
			worst = dd
		}
	}
	return worst
}

// Calmar 年化收益 / |最大回撤|，periods 为样本步数。
func Calmar(totalReturn, maxDrawdown float64, periods, periodsPerYear int) float64 {
	annual := annualize(totalReturn, periods, periodsPerYear)
	if maxDrawdown == 0 {
		if annual > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return annual / math.Abs(maxDrawdown)
}

func annualize(totalReturn float64, periods, periodsPerYear int) float64 {
	if periods <= 0 || periodsPerYear <= 0 || totalReturn <= -1 {
		return totalReturn
	}
	years := float64(periods) / float64(periodsPerYear)
	return math.Pow(1+totalReturn, 1/years) - 1
}

// BuyAndHold 是同区间买入持有的收益。
func BuyAndHold(first, last float64) float64 {
	if first <= 0 {
		return 0
	}
	return (last - first) / first
}

// TradeStats 是配对后的交易统计。
type TradeStats struct {
	Count        int     `json:"count"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	WinRate      float64 `json:"win_rate"`
	AvgReturn    float64 `json:"avg_return"`
	ProfitFactor Ratio   `json:"profit_factor"`
}

// ComputeTradeStats 统计胜率、平均收益与盈亏比。
func ComputeTradeStats(returns []float64) TradeStats {
	out := TradeStats{Count: len(returns)}
	if len(returns) == 0 {
		return out
	}
	var gain, loss float64
	for _, r := range returns {
		switch {
		case r > 0:
			out.Wins++
			gain += r
		case r < 0:
			out.Losses++
			loss += r
		}
	}
	out.WinRate = float64(out.Wins) / float64(len(returns))
	out.AvgReturn = stat.Mean(returns, nil)
	switch {
	case loss < 0:
		out.ProfitFactor = Ratio(gain / math.Abs(loss))
	case gain > 0:
		out.ProfitFactor = Ratio(math.Inf(1))
	}
	return out
}

// Correlation 是 Pearson 相关系数，无法计算时为 0。
func Correlation(x, y []float64) float64 {
	if len(x) != len(y) || len(x) < 2 {
		return 0
	}
	c := stat.Correlation(x, y, nil)
	if math.IsNaN(c) || math.IsInf(c, 0) {
		return 0
	}
	return c
}

// RMSE 均方根误差。
func RMSE(predicted, actual []float64) float64 {
	if len(predicted) == 0 || len(predicted) != len(actual) {
		return 0
	}
	sq := make([]float64, len(predicted))
	for i := range predicted {
		d := predicted[i] - actual[i]
		sq[i] = d * d
	}
	return math.Sqrt(stat.Mean(sq, nil))
}
