package market

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"btcbacktest/internal/logger"
	pairs "btcbacktest/internal/pkg/symbol"

	"github.com/adshao/go-binance/v2/futures"
)

const (
	binanceKlineLimit  = 1500
	binanceDefaultBase = "https://fapi.binance.com"
	dayMillis          = int64(24 * time.Hour / time.Millisecond)
)

var binanceLog = logger.Component("binance")

// BinanceSource 通过 go-binance SDK 拉取日线，用于填充历史缓存。
type BinanceSource struct {
	client *futures.Client
}

func NewBinanceSource(baseURL string, timeout time.Duration) *BinanceSource {
	client := futures.NewClient("", "")
	if base := strings.TrimSpace(baseURL); base != "" {
		client.BaseURL = base
	} else {
		client.BaseURL = binanceDefaultBase
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client.HTTPClient = &http.Client{Timeout: timeout}
	return &BinanceSource{client: client}
}

// FetchDaily 分页拉取 [start, end] 内的日线，Price 取收盘价，时间取开盘时刻（UTC 零点）。
func (b *BinanceSource) FetchDaily(ctx context.Context, symbol string, start, end time.Time) ([]PricePoint, error) {
	symbol = pairs.Normalize(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if end.Before(start) {
		return nil, fmt.Errorf("end %s before start %s", end.Format(time.DateOnly), start.Format(time.DateOnly))
	}
	var out []PricePoint
	cursor := start.UTC().UnixMilli()
	stop := end.UTC().UnixMilli()
	for cursor <= stop {
		kls, err := b.client.NewKlinesService().
			Symbol(symbol).
			Interval("1d").
			StartTime(cursor).
			EndTime(stop).
			Limit(binanceKlineLimit).
			Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("binance klines %s: %w", symbol, err)
		}
		if len(kls) == 0 {
			break
		}
		last := cursor
		for _, kl := range kls {
			if kl == nil {
				continue
			}
			p, ok := convertKline(kl)
			if !ok {
				binanceLog.Warnf("skip unparsable kline %s@%d", symbol, kl.OpenTime)
				continue
			}
			out = append(out, p)
			last = kl.OpenTime
		}
		if len(kls) < binanceKlineLimit {
			break
		}
		cursor = last + dayMillis
	}
	binanceLog.Infof("fetched %d daily rows for %s", len(out), symbol)
	return out, nil
}

func convertKline(kl *futures.Kline) (PricePoint, bool) {
	closePx, err := strconv.ParseFloat(kl.Close, 64)
	if err != nil || closePx <= 0 {
		return PricePoint{}, false
	}
	return PricePoint{
		Time:   time.UnixMilli(kl.OpenTime).UTC(),
		Open:   parseFloat(kl.Open),
		High:   parseFloat(kl.High),
		Low:    parseFloat(kl.Low),
		Price:  closePx,
		Volume: parseFloat(kl.Volume),
	}, true
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
