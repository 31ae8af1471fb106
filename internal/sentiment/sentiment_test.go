package sentiment

import (
	"context"
	"errors"
	"testing"
	"time"

	"btcbacktest/internal/analysis/indicator"
	"btcbacktest/internal/pkg/circuit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestConfidenceMultiplierBands(t *testing.T) {
	cases := []struct {
		score int
		want  float64
	}{
		{0, 1.2}, {24, 1.2}, {25, 1.1}, {39, 1.1}, {40, 1.0}, {60, 1.0},
		{61, 0.9}, {75, 0.9}, {76, 0.7}, {100, 0.7},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ConfidenceMultiplier(tc.score), "score=%d", tc.score)
	}
	assert.Equal(t, 1.0, AdjustConfidence(0.9, 10))
	assert.InDelta(t, 0.56, AdjustConfidence(0.8, 90), 1e-12)
}

func TestProxyScoreAndClassify(t *testing.T) {
	assert.Equal(t, 20, ProxyScore(29.9))
	assert.Equal(t, 35, ProxyScore(30))
	assert.Equal(t, 35, ProxyScore(39.9))
	assert.Equal(t, 50, ProxyScore(40))
	assert.Equal(t, 50, ProxyScore(60))
	assert.Equal(t, 65, ProxyScore(60.1))
	assert.Equal(t, 65, ProxyScore(70))
	assert.Equal(t, 80, ProxyScore(70.1))

	assert.Equal(t, "Extreme Fear", Classify(24))
	assert.Equal(t, "Fear", Classify(25))
	assert.Equal(t, "Neutral", Classify(40))
	assert.Equal(t, "Neutral", Classify(60))
	assert.Equal(t, "Greed", Classify(75))
	assert.Equal(t, "Extreme Greed", Classify(76))

	assert.Equal(t, 0.75, PatternConfidence(20))
	assert.Equal(t, 0.60, PatternConfidence(50))
	assert.Equal(t, 0.40, PatternConfidence(80))
}

func TestFeedPrefersHistoryWithinOneDay(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	h := NewHistory([]Point{
		{Time: base.AddDate(0, 0, -3), Value: 10},
		{Time: base.Add(-20 * time.Hour), Value: 22, Classification: "Extreme Fear"},
		{Time: base.Add(20 * time.Hour), Value: 77},
	})
	f := NewFeed(h)
	tech := indicator.Snapshot{RSI: 55}

	snap := f.Snapshot(base, tech)
	assert.Equal(t, SourceHistorical, snap.Source)
	assert.Equal(t, 22, snap.Score, "equidistant points resolve to the earlier one")
	assert.Equal(t, "Extreme Fear", snap.Classification)
	assert.Equal(t, 0.60, snap.PatternConfidence)

	far := f.Snapshot(base.AddDate(0, 0, 10), tech)
	assert.Equal(t, SourceProxy, far.Source)
	assert.Equal(t, 50, far.Score)
	assert.Equal(t, "Neutral", far.Classification)
}

func TestNearestMatchesNextDayReading(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	h := NewHistory([]Point{{Time: base.Add(MatchWindow), Value: 64}})

	p, ok := h.Nearest(base)
	require.True(t, ok)
	assert.Equal(t, 64, p.Value)

	_, ok = h.Nearest(base.Add(-time.Second))
	assert.False(t, ok)
}

func TestFeedProxyWithoutHistory(t *testing.T) {
	f := NewFeed(NewHistory(nil))
	snap := f.Snapshot(time.Now(), indicator.Snapshot{RSI: 25})
	assert.Equal(t, SourceProxy, snap.Source)
	assert.Equal(t, 20, snap.Score)
	assert.Equal(t, "Extreme Fear", snap.Classification)
}

func TestParseFearGreed(t *testing.T) {
	body := []byte(`{"name":"Fear and Greed Index","data":[
		{"value":"40","value_classification":"Fear","timestamp":"1551225600","time_until_update":"68499"},
		{"value":"30","value_classification":"Fear","timestamp":"1551139200"}
	],"metadata":{"error":null}}`)
	pts, err := ParseFearGreed(body)
	require.NoError(t, err)
	require.Len(t, pts, 2)
	assert.Equal(t, 30, pts[0].Value)
	assert.Equal(t, 40, pts[1].Value)
	assert.True(t, pts[0].Time.Before(pts[1].Time))
	assert.Contains(t, string(pts[1].Raw), `"time_until_update"`)

	_, err = ParseFearGreed([]byte(`{"data":[],"metadata":{"error":"rate limited"}}`))
	assert.Error(t, err)
	_, err = ParseFearGreed([]byte(`not json`))
	assert.Error(t, err)
}

type mockCache struct {
	mock.Mock
}

func (m *mockCache) LoadFearGreed(ctx context.Context) ([]Point, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Point), args.Error(1)
}

func (m *mockCache) UpsertFearGreed(ctx context.Context, points []RawPoint) error {
	return m.Called(ctx, points).Error(0)
}

func (m *mockCache) LastFearGreedSync(ctx context.Context) (time.Time, error) {
	args := m.Called(ctx)
	return args.Get(0).(time.Time), args.Error(1)
}

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) FetchHistory(ctx context.Context) ([]RawPoint, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]RawPoint), args.Error(1)
}

func TestLoaderUsesFreshCache(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cache := new(mockCache)
	fetcher := new(mockFetcher)
	cache.On("LoadFearGreed", ctx).Return([]Point{{Time: now, Value: 33}}, nil)
	cache.On("LastFearGreedSync", ctx).Return(now.Add(-time.Hour), nil)

	l := NewLoader(cache, fetcher, 24*time.Hour)
	l.now = func() time.Time { return now }
	h := l.Load(ctx)
	assert.Equal(t, 1, h.Len())
	fetcher.AssertNotCalled(t, "FetchHistory", mock.Anything)
	cache.AssertExpectations(t)
}

func TestLoaderRefreshesAndFallsBack(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("stale cache refreshed", func(t *testing.T) {
		cache := new(mockCache)
		fetcher := new(mockFetcher)
		fetched := []RawPoint{{Point: Point{Time: now, Value: 70}}}
		cache.On("LoadFearGreed", ctx).Return([]Point{{Time: now.AddDate(0, 0, -1), Value: 50}}, nil)
		cache.On("LastFearGreedSync", ctx).Return(now.AddDate(0, 0, -3), nil)
		fetcher.On("FetchHistory", ctx).Return(fetched, nil)
		cache.On("UpsertFearGreed", ctx, fetched).Return(nil)

		l := NewLoader(cache, fetcher, 24*time.Hour)
		l.now = func() time.Time { return now }
		h := l.Load(ctx)
		assert.Equal(t, 2, h.Len())
		cache.AssertExpectations(t)
		fetcher.AssertExpectations(t)
	})

	t.Run("fetch failure without cache", func(t *testing.T) {
		fetcher := new(mockFetcher)
		fetcher.On("FetchHistory", ctx).Return(nil, errors.New("offline"))
		h := NewLoader(nil, fetcher, time.Hour).Load(ctx)
		assert.Equal(t, 0, h.Len())
	})
}

func TestLoaderGuardSkipsFailingEndpoint(t *testing.T) {
	ctx := context.Background()
	fetcher := new(mockFetcher)
	fetcher.On("FetchHistory", ctx).Return(nil, errors.New("timeout")).Once()

	l := NewLoader(nil, fetcher, time.Hour).WithGuard(circuit.NewBreaker("fear_greed", 1, time.Hour))
	assert.Equal(t, 0, l.Load(ctx).Len())
	// 熔断打开后不再请求远端。
	assert.Equal(t, 0, l.Load(ctx).Len())
	fetcher.AssertNumberOfCalls(t, "FetchHistory", 1)
}
