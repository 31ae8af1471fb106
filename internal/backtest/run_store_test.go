package backtest

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"btcbacktest/internal/decision"
)

func openResultStore(t *testing.T) *ResultStore {
	t.Helper()
	st, err := NewResultStore(filepath.Join(t.TempDir(), "results"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func circuitBreakerRun(t *testing.T, rec Recorder) *Result {
	t.Helper()
	cfg := decision.DefaultConfig()
	cfg.DCAAmount = 5000
	eng := newEngine(t, EngineConfig{
		Strategy:   cfg,
		Indicators: stubIndicators{rsi: 25, atr: 1e6},
		Recorder:   rec,
	})
	res, err := eng.Run(context.Background(), RunRequest{Series: seriesOf(100, 90, 60, 60), Profile: "aggressive"})
	require.NoError(t, err)
	return res
}

func TestResultStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := openResultStore(t)
	assert.Equal(t, "runs.db", filepath.Base(st.Path()))

	res := circuitBreakerRun(t, st)

	runs, err := st.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	got, err := st.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, res.RunID, got.ID)
	assert.Equal(t, "BTCUSDT", got.Symbol)
	assert.Equal(t, "aggressive", got.Profile)
	assert.Equal(t, StatusCircuitBreaker, got.Status)
	assert.False(t, got.ReachedEnd)
	require.NotNil(t, got.StoppedAt)
	assert.Equal(t, day(2), *got.StoppedAt)
	assert.Equal(t, day(0), got.Start)
	assert.Equal(t, 2, got.NumTrades)
	assert.Equal(t, res.Config, got.Config)
	assert.InDelta(t, res.Summary.FinalValue, got.FinalValue, 1e-9)
	assert.InDelta(t, res.Summary.TotalReturn, got.Summary.TotalReturn, 1e-12)
	assert.Equal(t, res.Summary.NumBuys, got.Summary.NumBuys)

	trades, err := st.ListTrades(ctx, res.RunID)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, res.Trades[0].Time, trades[0].Time)
	assert.Equal(t, decision.StrategyDCA, trades[1].Strategy)
	assert.Equal(t, res.Trades[1].Reason, trades[1].Reason)

	values, err := st.ListSnapshots(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, res.Values, values)

	_, err = st.GetRun(ctx, "missing")
	require.ErrorIs(t, err, ErrRunNotFound)
}

func TestResultStoreRejectsDuplicateRun(t *testing.T) {
	st := openResultStore(t)
	res := circuitBreakerRun(t, st)
	require.Error(t, st.SaveRun(context.Background(), res))

	trades, err := st.ListTrades(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Len(t, trades, 2, "failed insert must roll back")
}

func TestResultStoreClosed(t *testing.T) {
	st := openResultStore(t)
	require.NoError(t, st.Close())
	require.NoError(t, st.Close())
	ctx := context.Background()
	require.ErrorIs(t, st.SaveRun(ctx, &Result{RunID: "x"}), ErrStoreClosed)

	_, err := st.ListRuns(ctx, 10)
	require.ErrorIs(t, err, ErrStoreClosed)
	_, err = st.GetRun(ctx, "x")
	require.ErrorIs(t, err, ErrStoreClosed)
	_, err = st.ListTrades(ctx, "x")
	require.ErrorIs(t, err, ErrStoreClosed)
	_, err = st.ListSnapshots(ctx, "x")
	require.ErrorIs(t, err, ErrStoreClosed)
}

func TestResultStoreCloseDuringReads(t *testing.T) {
	st := openResultStore(t)
	ctx := context.Background()
	require.NoError(t, st.SaveRun(ctx, circuitBreakerRun(t, nil)))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if _, err := st.ListRuns(ctx, 10); err != nil {
					assert.ErrorIs(t, err, ErrStoreClosed)
					return
				}
			}
		}()
	}
	require.NoError(t, st.Close())
	wg.Wait()
}

func TestWriteCSV(t *testing.T) {
	res := circuitBreakerRun(t, nil)

	var buf bytes.Buffer
	require.NoError(t, WriteTradesCSV(&buf, res.Trades))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "date,action,strategy,price,quantity,notional,reason", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "2023-01-01,BUY,DCA,100.00,50.00000000,5000.00,"))

	dir := t.TempDir()
	paths, err := ExportCSV(dir, res)
	require.NoError(t, err)
	require.Len(t, paths, 2)
	raw, err := os.ReadFile(paths[1])
	require.NoError(t, err)
	rows := strings.Split(strings.TrimSpace(string(raw)), "\n")
	assert.Equal(t, "date,total_value,cash,position,price", rows[0])
	assert.Len(t, rows, 1+len(res.Values))

	_, err = ExportCSV(dir, nil)
	require.Error(t, err)
}
