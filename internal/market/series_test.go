package market

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(n int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func sampleSeries(n int) Series {
	pts := make([]PricePoint, n)
	for i := range pts {
		pts[i] = PricePoint{Time: day(i), Price: 100 + float64(i)}
	}
	return NewSeries(pts)
}

func TestSeriesValidate(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		assert.NoError(t, sampleSeries(5).Validate())
	})
	t.Run("empty", func(t *testing.T) {
		assert.ErrorIs(t, NewSeries(nil).Validate(), ErrInvalidSeries)
	})
	t.Run("unsorted", func(t *testing.T) {
		s := NewSeries([]PricePoint{{Time: day(1), Price: 1}, {Time: day(0), Price: 1}})
		assert.ErrorIs(t, s.Validate(), ErrInvalidSeries)
	})
	t.Run("duplicate", func(t *testing.T) {
		s := NewSeries([]PricePoint{{Time: day(0), Price: 1}, {Time: day(0), Price: 2}})
		err := s.Validate()
		require.ErrorIs(t, err, ErrInvalidSeries)
		assert.Contains(t, err.Error(), "duplicate")
	})
	t.Run("non-positive price", func(t *testing.T) {
		s := NewSeries([]PricePoint{{Time: day(0), Price: 1}, {Time: day(1), Price: 0}})
		assert.ErrorIs(t, s.Validate(), ErrInvalidSeries)
	})
	t.Run("missing date", func(t *testing.T) {
		s := NewSeries([]PricePoint{{Price: 1}})
		assert.ErrorIs(t, s.Validate(), ErrInvalidSeries)
	})
}

func TestSeriesUntilHidesFuture(t *testing.T) {
	s := sampleSeries(10)
	v := s.Until(day(4))
	assert.Equal(t, 5, v.Len())
	assert.Equal(t, day(4), v.LastTime())
	assert.Equal(t, day(4), v.Cutoff())
	for _, p := range v.Points() {
		assert.False(t, p.Time.After(day(4)))
	}

	before := s.Until(day(-1))
	assert.Equal(t, 0, before.Len())
	assert.True(t, before.LastTime().IsZero())

	between := s.Until(day(4).Add(12 * time.Hour))
	assert.Equal(t, 5, between.Len())
}

func TestSeriesSliceAndAt(t *testing.T) {
	s := sampleSeries(10)
	sub := s.Slice(day(2), day(5))
	require.Equal(t, 4, sub.Len())
	first, _ := sub.First()
	last, _ := sub.Last()
	assert.Equal(t, day(2), first.Time)
	assert.Equal(t, day(5), last.Time)

	p, ok := s.At(day(3))
	require.True(t, ok)
	assert.Equal(t, 103.0, p.Price)

	_, ok = s.At(day(3).Add(time.Hour))
	assert.False(t, ok)

	assert.Equal(t, 0, s.Slice(day(20), day(30)).Len())
}

func TestViewFallbacks(t *testing.T) {
	v := NewView([]PricePoint{
		{Time: day(0), Price: 10, High: 12, Low: 9},
		{Time: day(1), Price: 11},
	}, day(1))
	assert.Equal(t, []float64{10, 11}, v.Closes())
	assert.Equal(t, []float64{12, 11}, v.Highs())
	assert.Equal(t, []float64{9, 11}, v.Lows())
	assert.Equal(t, 1, v.Tail(1).Len())
	assert.Equal(t, 2, v.Tail(5).Len())
}

func TestReadCSV(t *testing.T) {
	raw := "Date,Price,Open,High,Low,Vol.\n" +
		"2024-01-01,\"42,000.5\",41000,43000,40000,1.2K\n" +
		"2024-01-02,43000,42000,44000,41000,900\n"
	s, err := ReadCSV(strings.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, 2, s.Len())
	first, _ := s.First()
	assert.Equal(t, 42000.5, first.Price)
	assert.Equal(t, 1200.0, first.Volume)
	assert.NoError(t, s.Validate())

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, s))
	back, err := ReadCSV(&buf)
	require.NoError(t, err)
	assert.Equal(t, s.Points(), back.Points())
}

func TestReadCSVErrors(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("Date,Volume\n2024-01-01,1\n"))
	assert.ErrorIs(t, err, ErrInvalidSeries)

	_, err = ReadCSV(strings.NewReader("Date,Price\nnot-a-date,1\n"))
	assert.ErrorIs(t, err, ErrInvalidSeries)

	_, err = ReadCSV(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrInvalidSeries)
}
