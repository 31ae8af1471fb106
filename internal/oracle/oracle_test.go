package oracle

import (
	"context"
	"math"
	"testing"
	"time"

	"btcbacktest/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trendSeries(n int, drift float64) market.Series {
	base := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	pts := make([]market.PricePoint, n)
	px := 20000.0
	for i := range pts {
		px *= 1 + drift + 0.01*math.Sin(float64(i)*1.3)
		pts[i] = market.PricePoint{Time: base.AddDate(0, 0, i), Price: px}
	}
	return market.NewSeries(pts)
}

func lastView(s market.Series) market.View {
	last, _ := s.Last()
	return s.Until(last.Time)
}

func TestNewKinds(t *testing.T) {
	tr, err := New("", Settings{})
	require.NoError(t, err)
	assert.IsType(t, &RegressionTrainer{}, tr)

	tr, err = New("SMA", Settings{})
	require.NoError(t, err)
	assert.IsType(t, &SMATrainer{}, tr)

	_, err = New("lstm", Settings{})
	assert.Error(t, err)
}

func TestRegressionRequiresHistory(t *testing.T) {
	ctx := context.Background()
	_, err := NewRegressionTrainer(Settings{}).Train(ctx, lastView(trendSeries(20, 0.01)))
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestRegressionPredictsUptrend(t *testing.T) {
	ctx := context.Background()
	s := trendSeries(200, 0.004)
	view := lastView(s)

	p, err := NewRegressionTrainer(Settings{}).Train(ctx, view)
	require.NoError(t, err)
	assert.Equal(t, view.LastTime(), p.TrainedThrough())

	pred, err := p.Predict(ctx, view)
	require.NoError(t, err)
	last, _ := view.Last()
	assert.Equal(t, last.Price, pred.CurrentPrice)
	assert.Greater(t, pred.PredictedPrice, pred.CurrentPrice)
	assert.LessOrEqual(t, pred.PredictedPrice, pred.CurrentPrice*1.2)
	assert.Greater(t, pred.Confidence, 0.5)
	assert.LessOrEqual(t, pred.Confidence, 1.0)
	assert.Equal(t, 7, pred.HorizonDays)
	assert.False(t, pred.Fallback)
}

func TestRegressionRetrainMovesCutoff(t *testing.T) {
	ctx := context.Background()
	s := trendSeries(200, 0.002)
	first, _ := s.First()
	early := s.Until(first.Time.AddDate(0, 0, 100))

	p, err := NewRegressionTrainer(Settings{}).Train(ctx, early)
	require.NoError(t, err)
	p2, err := p.Retrain(ctx, lastView(s))
	require.NoError(t, err)
	assert.True(t, p2.TrainedThrough().After(p.TrainedThrough()))
	assert.Equal(t, early.LastTime(), p.TrainedThrough(), "retrain leaves the old model untouched")
}

func TestRegressionIgnoresFutureRows(t *testing.T) {
	ctx := context.Background()
	s := trendSeries(220, 0.003)
	cutoff := s.Points()[150].Time

	p1, err := NewRegressionTrainer(Settings{}).Train(ctx, s.Until(cutoff))
	require.NoError(t, err)
	want, err := p1.Predict(ctx, s.Until(cutoff))
	require.NoError(t, err)

	pts := s.Points()
	for i := 151; i < len(pts); i++ {
		pts[i].Price /= 2
	}
	alt := market.NewSeries(pts)
	p2, err := NewRegressionTrainer(Settings{}).Train(ctx, alt.Until(cutoff))
	require.NoError(t, err)
	got, err := p2.Predict(ctx, alt.Until(cutoff))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSMATrendClipsMove(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	pts := make([]market.PricePoint, 30)
	px := 100.0
	for i := range pts {
		px *= 1.10
		pts[i] = market.PricePoint{Time: base.AddDate(0, 0, i), Price: px}
	}
	s := market.NewSeries(pts)
	p, err := NewSMATrainer(Settings{}).Train(ctx, lastView(s))
	require.NoError(t, err)
	pred, err := p.Predict(ctx, lastView(s))
	require.NoError(t, err)
	assert.InDelta(t, pred.CurrentPrice*1.2, pred.PredictedPrice, 1e-6)
	assert.Equal(t, DirectionUp, pred.Direction)
	assert.Equal(t, 0.5, pred.Confidence)
}

func TestFallback(t *testing.T) {
	at := time.Now()
	fb := Fallback(at, 50000, 7)
	assert.Equal(t, 50000.0, fb.PredictedPrice)
	assert.Equal(t, 0.5, fb.Confidence)
	assert.Equal(t, DirectionFlat, fb.Direction)
	assert.True(t, fb.Fallback)
}
