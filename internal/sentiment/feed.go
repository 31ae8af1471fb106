package sentiment

import (
	"sort"
	"time"

	"btcbacktest/internal/analysis/indicator"
)

// MatchWindow 是历史情绪点与回测时刻的最大允许偏差。
const MatchWindow = 24 * time.Hour

// Point 是一条 Fear & Greed 历史记录。
type Point struct {
	Time           time.Time `json:"time"`
	Value          int       `json:"value"`
	Classification string    `json:"classification"`
}

// History 是按时间升序的情绪序列。
type History struct {
	points []Point
}

// NewHistory 拷贝并按时间排序，同一时间只保留最后一条。
func NewHistory(points []Point) History {
	cp := make([]Point, len(points))
	copy(cp, points)
	sort.SliceStable(cp, func(i, j int) bool { return cp[i].Time.Before(cp[j].Time) })
	out := cp[:0]
	for _, p := range cp {
		if n := len(out); n > 0 && out[n-1].Time.Equal(p.Time) {
			out[n-1] = p
			continue
		}
		out = append(out, p)
	}
	return History{points: out}
}

func (h History) Len() int { return len(h.points) }

func (h History) Points() []Point {
	out := make([]Point, len(h.points))
	copy(out, h.points)
	return out
}

// Nearest 返回距 t 最近且偏差不超过 MatchWindow 的点；距离相同时取较早的点。
// 向后匹配是有意的：日度指数按自然日对齐，t 之后 24h 内发布的读数视为同一天。
func (h History) Nearest(t time.Time) (Point, bool) {
	if len(h.points) == 0 {
		return Point{}, false
	}
	idx := sort.Search(len(h.points), func(i int) bool {
		return !h.points[i].Time.Before(t)
	})
	best := -1
	var bestDist time.Duration
	for _, i := range []int{idx - 1, idx} {
		if i < 0 || i >= len(h.points) {
			continue
		}
		d := h.points[i].Time.Sub(t)
		if d < 0 {
			d = -d
		}
		if d > MatchWindow {
			continue
		}
		if best < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return Point{}, false
	}
	return h.points[best], true
}

// Feed 优先使用真实历史情绪，缺失时回落到 RSI 代理。
type Feed struct {
	history History
}

func NewFeed(history History) *Feed {
	return &Feed{history: history}
}

// Snapshot 计算 t 时刻的情绪；tech 必须是同一时刻的指标快照。
func (f *Feed) Snapshot(t time.Time, tech indicator.Snapshot) Snapshot {
	snap := Snapshot{
		AsOf:              t,
		PatternConfidence: PatternConfidence(tech.RSI),
	}
	if p, ok := f.history.Nearest(t); ok {
		snap.Score = clampScore(p.Value)
		snap.Source = SourceHistorical
		snap.Classification = p.Classification
	} else {
		snap.Score = ProxyScore(tech.RSI)
		snap.Source = SourceProxy
	}
	if snap.Classification == "" {
		snap.Classification = Classify(snap.Score)
	}
	return snap
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
