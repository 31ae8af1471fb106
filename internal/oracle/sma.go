package oracle

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"btcbacktest/internal/market"
)

// SMATrainer 是均线趋势外推：近 window 期平均日涨跌幅按 horizon 复利，无需拟合。
type SMATrainer struct {
	cfg     Settings
	longWin int
}

func NewSMATrainer(cfg Settings) *SMATrainer {
	cfg = cfg.withDefaults()
	return &SMATrainer{cfg: cfg, longWin: cfg.Window * 2}
}

func (t *SMATrainer) Train(ctx context.Context, view market.View) (Predictor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if view.Len() < t.longWin {
		return nil, fmt.Errorf("%w: have %d rows, need %d", ErrInsufficientData, view.Len(), t.longWin)
	}
	return &smaModel{trainer: t, through: view.LastTime()}, nil
}

type smaModel struct {
	trainer *SMATrainer
	through time.Time
}

func (m *smaModel) TrainedThrough() time.Time { return m.through }

func (m *smaModel) Retrain(ctx context.Context, view market.View) (Predictor, error) {
	return m.trainer.Train(ctx, view)
}

func (m *smaModel) Predict(ctx context.Context, view market.View) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}
	cfg := m.trainer.cfg
	if view.Len() < m.trainer.longWin {
		return Prediction{}, fmt.Errorf("%w: need %d rows to predict", ErrInsufficientData, m.trainer.longWin)
	}
	last, _ := view.Last()
	recent := view.Tail(cfg.Window).Closes()
	changes := make([]float64, 0, len(recent)-1)
	for i := 1; i < len(recent); i++ {
		changes = append(changes, recent[i]/recent[i-1]-1)
	}
	daily := stat.Mean(changes, nil)
	predicted := last.Price * math.Pow(1+daily, float64(cfg.Horizon))
	predicted = clampMove(last.Price, predicted, cfg.MaxMove)
	return newPrediction(last, predicted, 0.5, cfg.Horizon), nil
}
