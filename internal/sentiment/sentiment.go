package sentiment

import (
	"time"
)

// Source 标记情绪分来自真实历史还是 RSI 代理。
type Source string

const (
	SourceHistorical Source = "historical"
	SourceProxy      Source = "proxy"
)

// Snapshot 是某一时刻的情绪快照。
type Snapshot struct {
	AsOf              time.Time `json:"as_of"`
	Score             int       `json:"score"`
	Classification    string    `json:"classification"`
	PatternConfidence float64   `json:"pattern_confidence"`
	Source            Source    `json:"source"`
}

// Classify 按 Fear & Greed 区间给出分类。
func Classify(score int) string {
	switch {
	case score < 25:
		return "Extreme Fear"
	case score < 40:
		return "Fear"
	case score <= 60:
		return "Neutral"
	case score <= 75:
		return "Greed"
	default:
		return "Extreme Greed"
	}
}

// ConfidenceMultiplier 恐惧时放大预测置信度，贪婪时收缩。
func ConfidenceMultiplier(score int) float64 {
	switch {
	case score < 25:
		return 1.2
	case score < 40:
		return 1.1
	case score <= 60:
		return 1.0
	case score <= 75:
		return 0.9
	default:
		return 0.7
	}
}

// AdjustConfidence 应用乘数并截断到 [0, 1]。
func AdjustConfidence(confidence float64, score int) float64 {
	v := confidence * ConfidenceMultiplier(score)
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}

// ProxyScore 在没有真实情绪数据时用 RSI 近似。
func ProxyScore(rsi float64) int {
	switch {
	case rsi < 30:
		return 20
	case rsi < 40:
		return 35
	case rsi > 70:
		return 80
	case rsi > 60:
		return 65
	default:
		return 50
	}
}

// PatternConfidence 是历史相似形态置信度的简化代理。
func PatternConfidence(rsi float64) float64 {
	switch {
	case rsi < 35:
		return 0.75
	case rsi > 65:
		return 0.40
	default:
		return 0.60
	}
}
