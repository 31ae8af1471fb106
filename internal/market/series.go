package market

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrInvalidSeries 表示历史行情不满足回测前置条件（排序/去重/正价格）。
var ErrInvalidSeries = errors.New("invalid price series")

// PricePoint 是一根日线（或任意周期）行情；Price 为收盘价。
type PricePoint struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Price  float64   `json:"price"`
	Volume float64   `json:"volume"`
}

// Series 是按时间升序排列的行情序列，构造后不可变。
type Series struct {
	points []PricePoint
}

// NewSeries 拷贝输入；不排序也不去重，由 Validate 报告问题。
func NewSeries(points []PricePoint) Series {
	cp := make([]PricePoint, len(points))
	copy(cp, points)
	return Series{points: cp}
}

// Validate 检查升序、无重复时间戳、价格为正。
func (s Series) Validate() error {
	if len(s.points) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidSeries)
	}
	for i, p := range s.points {
		if p.Time.IsZero() {
			return fmt.Errorf("%w: row %d missing date", ErrInvalidSeries, i)
		}
		if !(p.Price > 0) {
			return fmt.Errorf("%w: row %d (%s) price %.4f must be > 0", ErrInvalidSeries, i, p.Time.Format(time.DateOnly), p.Price)
		}
		if i == 0 {
			continue
		}
		prev := s.points[i-1].Time
		switch {
		case p.Time.Equal(prev):
			return fmt.Errorf("%w: duplicate timestamp %s at row %d", ErrInvalidSeries, p.Time.Format(time.RFC3339), i)
		case p.Time.Before(prev):
			return fmt.Errorf("%w: row %d (%s) precedes row %d", ErrInvalidSeries, i, p.Time.Format(time.RFC3339), i-1)
		}
	}
	return nil
}

func (s Series) Len() int { return len(s.points) }

// Points 返回副本。
func (s Series) Points() []PricePoint {
	out := make([]PricePoint, len(s.points))
	copy(out, s.points)
	return out
}

func (s Series) First() (PricePoint, bool) {
	if len(s.points) == 0 {
		return PricePoint{}, false
	}
	return s.points[0], true
}

func (s Series) Last() (PricePoint, bool) {
	if len(s.points) == 0 {
		return PricePoint{}, false
	}
	return s.points[len(s.points)-1], true
}

// upperBound 返回第一个 Time > t 的下标。
func (s Series) upperBound(t time.Time) int {
	return sort.Search(len(s.points), func(i int) bool {
		return s.points[i].Time.After(t)
	})
}

// Slice 返回 [start, end] 闭区间内的子序列（共享底层数组，只读）。
func (s Series) Slice(start, end time.Time) Series {
	lo := sort.Search(len(s.points), func(i int) bool {
		return !s.points[i].Time.Before(start)
	})
	hi := s.upperBound(end)
	if lo >= hi {
		return Series{}
	}
	return Series{points: s.points[lo:hi:hi]}
}

// Until 返回截止 t（含）的只读视图，任何 t 之后的数据都不可见。
func (s Series) Until(t time.Time) View {
	hi := s.upperBound(t)
	return View{points: s.points[:hi:hi], cutoff: t}
}

// At 精确匹配时间戳。
func (s Series) At(t time.Time) (PricePoint, bool) {
	hi := s.upperBound(t)
	if hi == 0 {
		return PricePoint{}, false
	}
	p := s.points[hi-1]
	if !p.Time.Equal(t) {
		return PricePoint{}, false
	}
	return p, true
}

// Times 返回全部时间戳。
func (s Series) Times() []time.Time {
	out := make([]time.Time, len(s.points))
	for i, p := range s.points {
		out[i] = p.Time
	}
	return out
}

// View 是某个截止时刻之前（含）的行情窗口。
type View struct {
	points []PricePoint
	cutoff time.Time
}

// NewView 仅用于测试与外部 feed 构造；调用方负责保证 points 不晚于 cutoff。
func NewView(points []PricePoint, cutoff time.Time) View {
	s := NewSeries(points)
	return s.Until(cutoff)
}

func (v View) Len() int            { return len(v.points) }
func (v View) Cutoff() time.Time   { return v.cutoff }
func (v View) At(i int) PricePoint { return v.points[i] }

func (v View) Last() (PricePoint, bool) {
	if len(v.points) == 0 {
		return PricePoint{}, false
	}
	return v.points[len(v.points)-1], true
}

// LastTime 返回视图内最新数据的时间；空视图返回零值。
func (v View) LastTime() time.Time {
	if p, ok := v.Last(); ok {
		return p.Time
	}
	return time.Time{}
}

// Tail 返回最近 n 条。
func (v View) Tail(n int) View {
	if n <= 0 {
		return View{cutoff: v.cutoff}
	}
	if n >= len(v.points) {
		return v
	}
	return View{points: v.points[len(v.points)-n:], cutoff: v.cutoff}
}

func (v View) Points() []PricePoint {
	out := make([]PricePoint, len(v.points))
	copy(out, v.points)
	return out
}

func (v View) Closes() []float64 {
	out := make([]float64, len(v.points))
	for i, p := range v.points {
		out[i] = p.Price
	}
	return out
}

// Highs 缺失 High 时使用收盘价。
func (v View) Highs() []float64 {
	out := make([]float64, len(v.points))
	for i, p := range v.points {
		out[i] = p.High
		if out[i] <= 0 {
			out[i] = p.Price
		}
	}
	return out
}

// Lows 缺失 Low 时使用收盘价。
func (v View) Lows() []float64 {
	out := make([]float64, len(v.points))
	for i, p := range v.points {
		out[i] = p.Low
		if out[i] <= 0 {
			out[i] = p.Price
		}
	}
	return out
}
