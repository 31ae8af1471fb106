package oracle

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"btcbacktest/internal/market"
)

// RegressionTrainer 用窗口内对数价格斜率回归未来 horizon 期的对数收益。
type RegressionTrainer struct {
	cfg Settings
}

func NewRegressionTrainer(cfg Settings) *RegressionTrainer {
	return &RegressionTrainer{cfg: cfg.withDefaults()}
}

// Train 仅使用目标时刻不晚于视图末尾的样本。
func (t *RegressionTrainer) Train(ctx context.Context, view market.View) (Predictor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := t.cfg
	closes := view.Closes()
	need := cfg.Window + cfg.Horizon + cfg.MinSamples - 1
	if len(closes) < need {
		return nil, fmt.Errorf("%w: have %d rows, need %d", ErrInsufficientData, len(closes), need)
	}
	logs := logPrices(closes)

	var slopes, targets []float64
	for end := cfg.Window - 1; end+cfg.Horizon < len(logs); end++ {
		slopes = append(slopes, windowSlope(logs[end-cfg.Window+1:end+1]))
		targets = append(targets, logs[end+cfg.Horizon]-logs[end])
	}
	alpha, beta := stat.LinearRegression(slopes, targets, nil, false)
	if math.IsNaN(alpha) || math.IsNaN(beta) {
		return nil, fmt.Errorf("%w: degenerate regression", ErrInsufficientData)
	}

	m := &regressionModel{
		trainer: t,
		alpha:   alpha,
		beta:    beta,
		through: view.LastTime(),
	}
	for i, s := range slopes {
		pred := alpha + beta*s
		switch {
		case pred > 0:
			m.upTotal++
			if targets[i] > 0 {
				m.upHits++
			}
		case pred < 0:
			m.downTotal++
			if targets[i] < 0 {
				m.downHits++
			}
		}
	}
	return m, nil
}

type regressionModel struct {
	trainer *RegressionTrainer
	alpha   float64
	beta    float64
	through time.Time

	upHits, upTotal     int
	downHits, downTotal int
}

func (m *regressionModel) TrainedThrough() time.Time { return m.through }

func (m *regressionModel) Retrain(ctx context.Context, view market.View) (Predictor, error) {
	return m.trainer.Train(ctx, view)
}

func (m *regressionModel) Predict(ctx context.Context, view market.View) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}
	cfg := m.trainer.cfg
	if view.Len() < cfg.Window {
		return Prediction{}, fmt.Errorf("%w: need %d rows to predict", ErrInsufficientData, cfg.Window)
	}
	last, _ := view.Last()
	logs := logPrices(view.Tail(cfg.Window).Closes())
	r := m.alpha + m.beta*windowSlope(logs)
	predicted := clampMove(last.Price, last.Price*math.Exp(r), cfg.MaxMove)
	return newPrediction(last, predicted, m.confidence(r), cfg.Horizon), nil
}

// confidence 是同方向历史预测命中率（Laplace 平滑）。
func (m *regressionModel) confidence(r float64) float64 {
	switch {
	case r > 0:
		return float64(m.upHits+1) / float64(m.upTotal+2)
	case r < 0:
		return float64(m.downHits+1) / float64(m.downTotal+2)
	default:
		return 0.5
	}
}

func logPrices(closes []float64) []float64 {
	out := make([]float64, len(closes))
	for i, c := range closes {
		out[i] = math.Log(c)
	}
	return out
}

func windowSlope(ys []float64) float64 {
	xs := make([]float64, len(ys))
	for i := range xs {
		xs[i] = float64(i)
	}
	_, slope := stat.LinearRegression(xs, ys, nil, false)
	return slope
}
