package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	brcfg "btcbacktest/internal/config"
	"btcbacktest/internal/logger"
	"btcbacktest/internal/market"
	pairs "btcbacktest/internal/pkg/symbol"
	"btcbacktest/internal/sentiment"
)

const fetchSource = "binance"

// PriceFetcher 拉取日线用于填充历史缓存。
type PriceFetcher interface {
	FetchDaily(ctx context.Context, symbol string, start, end time.Time) ([]market.PricePoint, error)
}

func newBinanceSource(cfg brcfg.MarketConfig) PriceFetcher {
	return market.NewBinanceSource(cfg.RESTBaseURL, cfg.Timeout())
}

// FetchRequest 描述一次缓存填充。
type FetchRequest struct {
	Symbol    string
	Start     time.Time
	End       time.Time
	Sentiment bool
}

// FetchReport 汇总 fetch 的结果。
type FetchReport struct {
	Symbol          string
	Prices          int
	FearGreedPoints int
}

// Fetch 从 Binance 拉取日线并写入缓存，可选同步 Fear & Greed 全量历史。
func (a *App) Fetch(ctx context.Context, req FetchRequest) (FetchReport, error) {
	symbol := pairs.Normalize(req.Symbol)
	if symbol == "" {
		symbol = a.cfg.Backtest.Symbol
	}
	if req.End.IsZero() {
		req.End = time.Now().UTC().Truncate(24 * time.Hour)
	}
	if req.Start.IsZero() {
		return FetchReport{}, fmt.Errorf("fetch 需要起始日期")
	}
	report := FetchReport{Symbol: symbol}

	points, err := a.prices.FetchDaily(ctx, symbol, req.Start, req.End)
	if err != nil {
		return report, fmt.Errorf("拉取 %s 日线失败: %w", symbol, err)
	}
	if err := a.history.UpsertPrices(ctx, symbol, fetchSource, points); err != nil {
		return report, fmt.Errorf("写入价格缓存失败: %w", err)
	}
	report.Prices = len(points)
	logger.Infof("✓ %s 日线 %d 条已写入缓存", symbol, len(points))

	if !req.Sentiment {
		return report, nil
	}
	raw, err := a.fearGreed.FetchHistory(ctx)
	if err != nil {
		return report, fmt.Errorf("拉取 Fear & Greed 失败: %w", err)
	}
	if err := a.history.UpsertFearGreed(ctx, raw); err != nil {
		return report, fmt.Errorf("写入 Fear & Greed 缓存失败: %w", err)
	}
	report.FearGreedPoints = len(raw)
	logger.Infof("✓ Fear & Greed %d 条已写入缓存", len(raw))
	return report, nil
}

// loadSeries 优先读取配置的 CSV，否则读缓存里的全部日线。
func (a *App) loadSeries(ctx context.Context) (market.Series, error) {
	if path := strings.TrimSpace(a.cfg.Backtest.PricesCSV); path != "" {
		series, err := market.LoadCSV(path)
		if err != nil {
			return market.Series{}, fmt.Errorf("读取价格 CSV 失败: %w", err)
		}
		return series, nil
	}
	series, err := a.history.LoadPrices(ctx, a.cfg.Backtest.Symbol, time.Time{}, time.Time{})
	if err != nil {
		return market.Series{}, fmt.Errorf("读取价格缓存失败: %w", err)
	}
	if series.Len() == 0 {
		return market.Series{}, fmt.Errorf("缓存中没有 %s 的日线，请先执行 fetch 或配置 backtest.prices_csv", a.cfg.Backtest.Symbol)
	}
	return series, nil
}

// loadSentiment 返回本次回测使用的情绪源；关闭时只用 RSI 代理。
func (a *App) loadSentiment(ctx context.Context) *sentiment.Feed {
	if a.sentiment == nil {
		return sentiment.NewFeed(sentiment.NewHistory(nil))
	}
	return sentiment.NewFeed(a.sentiment.Load(ctx))
}
