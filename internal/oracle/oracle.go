package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"btcbacktest/internal/market"
)

// ErrInsufficientData 表示截止时刻前的数据不足以训练或预测。
var ErrInsufficientData = errors.New("insufficient data for oracle")

// Direction 是预测方向，±2% 以内视为 FLAT。
type Direction string

const (
	DirectionUp   Direction = "UP"
	DirectionDown Direction = "DOWN"
	DirectionFlat Direction = "FLAT"

	flatBand = 0.02
)

// Prediction 是一次价格预测。
type Prediction struct {
	AsOf           time.Time `json:"as_of"`
	CurrentPrice   float64   `json:"current_price"`
	PredictedPrice float64   `json:"predicted_price"`
	ChangePct      float64   `json:"change_pct"`
	Direction      Direction `json:"direction"`
	Confidence     float64   `json:"confidence"`
	HorizonDays    int       `json:"horizon_days"`
	Fallback       bool      `json:"fallback,omitempty"`
}

// Trainer 是未训练状态：只能训练，不能预测。
type Trainer interface {
	Train(ctx context.Context, view market.View) (Predictor, error)
}

// Predictor 是已训练状态。Retrain 成功时返回新模型，失败时调用方继续使用旧模型。
type Predictor interface {
	Predict(ctx context.Context, view market.View) (Prediction, error)
	Retrain(ctx context.Context, view market.View) (Predictor, error)
	TrainedThrough() time.Time
}

// Settings 描述预测窗口。
type Settings struct {
	Window     int     `json:"window"`
	Horizon    int     `json:"horizon"`
	MinSamples int     `json:"min_samples"`
	MaxMove    float64 `json:"max_move"`
}

func (s Settings) withDefaults() Settings {
	if s.Window <= 1 {
		s.Window = 7
	}
	if s.Horizon <= 0 {
		s.Horizon = 7
	}
	if s.MinSamples <= 0 {
		s.MinSamples = 30
	}
	if s.MaxMove <= 0 {
		s.MaxMove = 0.20
	}
	return s
}

const (
	KindRegression = "regression"
	KindSMA        = "sma"
)

// New 按名称构造训练器。
func New(kind string, cfg Settings) (Trainer, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", KindRegression:
		return NewRegressionTrainer(cfg), nil
	case KindSMA:
		return NewSMATrainer(cfg), nil
	default:
		return nil, fmt.Errorf("unknown oracle kind %q", kind)
	}
}

// Fallback 是预测失败时的中性预测。
func Fallback(at time.Time, price float64, horizon int) Prediction {
	return Prediction{
		AsOf:           at,
		CurrentPrice:   price,
		PredictedPrice: price,
		Direction:      DirectionFlat,
		Confidence:     0.5,
		HorizonDays:    horizon,
		Fallback:       true,
	}
}

func directionOf(change float64) Direction {
	switch {
	case change > flatBand:
		return DirectionUp
	case change < -flatBand:
		return DirectionDown
	default:
		return DirectionFlat
	}
}

func clampMove(price, predicted, maxMove float64) float64 {
	lo, hi := price*(1-maxMove), price*(1+maxMove)
	if predicted < lo {
		return lo
	}
	if predicted > hi {
		return hi
	}
	return predicted
}

func newPrediction(last market.PricePoint, predicted, confidence float64, horizon int) Prediction {
	change := (predicted - last.Price) / last.Price
	return Prediction{
		AsOf:           last.Time,
		CurrentPrice:   last.Price,
		PredictedPrice: predicted,
		ChangePct:      change,
		Direction:      directionOf(change),
		Confidence:     confidence,
		HorizonDays:    horizon,
	}
}
