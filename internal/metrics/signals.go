package metrics

import (
	"time"

	"btcbacktest/internal/market"
)

// SignalRecord 是每个已执行步骤的信号快照。
type SignalRecord struct {
	Time       time.Time `json:"time"`
	Price      float64   `json:"price"`
	RSI        float64   `json:"rsi"`
	MACDDiff   float64   `json:"macd_diff"`
	ATR        float64   `json:"atr"`
	FearGreed  int       `json:"fear_greed"`
	Sentiment  string    `json:"sentiment"`
	Action     string    `json:"action"`
	Strategy   string    `json:"strategy,omitempty"`
	Confidence float64   `json:"confidence"`
}

// PredictionRecord 是每个已执行步骤的预测快照。
type PredictionRecord struct {
	Time           time.Time `json:"time"`
	CurrentPrice   float64   `json:"current_price"`
	PredictedPrice float64   `json:"predicted_price"`
	Direction      string    `json:"direction"`
	Confidence     float64   `json:"confidence"`
	HorizonDays    int       `json:"horizon_days"`
	Fallback       bool      `json:"fallback,omitempty"`
}

// SignalAccuracy 统计信号出现后下一步价格是否上涨。
type SignalAccuracy struct {
	RSISignals  int     `json:"rsi_signals"`
	RSIHits     int     `json:"rsi_hits"`
	RSIAccuracy float64 `json:"rsi_accuracy"`
	MACDSignals int     `json:"macd_signals"`
	MACDHits    int     `json:"macd_hits"`
	MACDAcc     float64 `json:"macd_accuracy"`
}

// ComputeSignalAccuracy RSI 低于 oversold 或 MACD 看涨之后，下一条记录价格更高即命中。
func ComputeSignalAccuracy(signals []SignalRecord, oversold float64) SignalAccuracy {
	var out SignalAccuracy
	for i := 0; i+1 < len(signals); i++ {
		rose := signals[i+1].Price > signals[i].Price
		if signals[i].RSI < oversold {
			out.RSISignals++
			if rose {
				out.RSIHits++
			}
		}
		if signals[i].MACDDiff > 0 {
			out.MACDSignals++
			if rose {
				out.MACDHits++
			}
		}
	}
	if out.RSISignals > 0 {
		out.RSIAccuracy = float64(out.RSIHits) / float64(out.RSISignals)
	}
	if out.MACDSignals > 0 {
		out.MACDAcc = float64(out.MACDHits) / float64(out.MACDSignals)
	}
	return out
}

// FearGreedCorrelation 情绪分与下一步价格收益的相关性。
func FearGreedCorrelation(signals []SignalRecord) float64 {
	if len(signals) < 3 {
		return 0
	}
	scores := make([]float64, 0, len(signals)-1)
	next := make([]float64, 0, len(signals)-1)
	for i := 0; i+1 < len(signals); i++ {
		if signals[i].Price <= 0 {
			continue
		}
		scores = append(scores, float64(signals[i].FearGreed))
		next = append(next, (signals[i+1].Price-signals[i].Price)/signals[i].Price)
	}
	return Correlation(scores, next)
}

// PredictionQuality 是预测在到期日的方向命中率与价格误差。
type PredictionQuality struct {
	Evaluated         int     `json:"evaluated"`
	DirectionAccuracy float64 `json:"direction_accuracy"`
	RMSE              float64 `json:"rmse"`
}

// ComputePredictionQuality 只评估到期价格存在于 series 中的非兜底预测。
func ComputePredictionQuality(preds []PredictionRecord, series market.Series) PredictionQuality {
	var out PredictionQuality
	var predicted, actual []float64
	hits := 0
	for _, p := range preds {
		if p.Fallback || p.HorizonDays <= 0 {
			continue
		}
		realized, ok := series.At(p.Time.AddDate(0, 0, p.HorizonDays))
		if !ok {
			continue
		}
		predicted = append(predicted, p.PredictedPrice)
		actual = append(actual, realized.Price)
		if sign(p.PredictedPrice-p.CurrentPrice) == sign(realized.Price-p.CurrentPrice) {
			hits++
		}
	}
	out.Evaluated = len(predicted)
	if out.Evaluated > 0 {
		out.DirectionAccuracy = float64(hits) / float64(out.Evaluated)
		out.RMSE = RMSE(predicted, actual)
	}
	return out
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
