package sentiment

import (
	"context"
	"time"

	"btcbacktest/internal/logger"
)

var log = logger.Component("sentiment")

// Cache 是情绪历史的持久化缓存。
type Cache interface {
	LoadFearGreed(ctx context.Context) ([]Point, error)
	UpsertFearGreed(ctx context.Context, points []RawPoint) error
	LastFearGreedSync(ctx context.Context) (time.Time, error)
}

// Fetcher 拉取远端历史。
type Fetcher interface {
	FetchHistory(ctx context.Context) ([]RawPoint, error)
}

// Guard 在远端持续失败时跳过刷新。
type Guard interface {
	Allow() bool
	RecordSuccess()
	RecordFailure()
}

// Loader 先读缓存，缓存过期或为空时从远端刷新；两者都失败时返回空历史。
type Loader struct {
	cache   Cache
	fetcher Fetcher
	ttl     time.Duration
	guard   Guard
	now     func() time.Time
}

func NewLoader(cache Cache, fetcher Fetcher, ttl time.Duration) *Loader {
	return &Loader{cache: cache, fetcher: fetcher, ttl: ttl, now: time.Now}
}

// WithGuard 设置远端刷新的熔断器。
func (l *Loader) WithGuard(g Guard) *Loader {
	l.guard = g
	return l
}

// Load 永不返回错误；失败时记录告警并交给 RSI 代理。
func (l *Loader) Load(ctx context.Context) History {
	var cached []Point
	fresh := false
	if l.cache != nil {
		pts, err := l.cache.LoadFearGreed(ctx)
		if err != nil {
			log.Warnf("load cached fear & greed failed: %v", err)
		} else {
			cached = pts
		}
		if len(cached) > 0 && l.ttl > 0 {
			if last, err := l.cache.LastFearGreedSync(ctx); err == nil && l.now().Sub(last) < l.ttl {
				fresh = true
			}
		}
	}
	if fresh || l.fetcher == nil {
		if len(cached) > 0 {
			log.Infof("using %d cached fear & greed points", len(cached))
		}
		return NewHistory(cached)
	}

	if l.guard != nil && !l.guard.Allow() {
		log.Warnf("fear & greed refresh skipped, endpoint breaker open; using %d cached points", len(cached))
		return NewHistory(cached)
	}
	fetched, err := l.fetcher.FetchHistory(ctx)
	if err != nil {
		if l.guard != nil {
			l.guard.RecordFailure()
		}
		if len(cached) > 0 {
			log.Warnf("refresh fear & greed failed, using %d cached points: %v", len(cached), err)
		} else {
			log.Warnf("fetch fear & greed failed, falling back to RSI proxy: %v", err)
		}
		return NewHistory(cached)
	}
	if l.guard != nil {
		l.guard.RecordSuccess()
	}
	if l.cache != nil {
		if err := l.cache.UpsertFearGreed(ctx, fetched); err != nil {
			log.Warnf("cache fear & greed failed: %v", err)
		}
	}
	pts := make([]Point, len(fetched))
	for i, p := range fetched {
		pts[i] = p.Point
	}
	log.Infof("fetched %d fear & greed points", len(pts))
	return NewHistory(append(cached, pts...))
}
