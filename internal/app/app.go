package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"btcbacktest/internal/analysis/indicator"
	"btcbacktest/internal/backtest"
	brcfg "btcbacktest/internal/config"
	"btcbacktest/internal/decision"
	"btcbacktest/internal/events"
	"btcbacktest/internal/gateway/notifier"
	"btcbacktest/internal/logger"
	"btcbacktest/internal/oracle"
	"btcbacktest/internal/profile"
	"btcbacktest/internal/sentiment"
	"btcbacktest/internal/store/gormstore"
)

// App 负责应用级编排：持有缓存、结果库与推送通道，按需执行回测或启动 HTTP 服务。
type App struct {
	cfg       *brcfg.Config
	history   *gormstore.HistoryStore
	results   *backtest.ResultStore
	profiles  *profile.Registry
	sentiment *sentiment.Loader
	fearGreed sentiment.Fetcher
	prices    PriceFetcher
	notify    *notifier.TextSink
	sink      events.Sink
	logFile   io.Closer

	Summary *StartupSummary
}

// Results 暴露结果库，供 CLI 查询。
func (a *App) Results() *backtest.ResultStore {
	if a == nil {
		return nil
	}
	return a.results
}

// Execute 执行一次回测。请求中的零值字段取配置文件里的值，RetrainEvery 为 backtest.TrainOnce 时只训练一次；Series 为空时读取配置的数据源。
func (a *App) Execute(ctx context.Context, req backtest.RunRequest) (*backtest.Result, error) {
	if a == nil || a.cfg == nil {
		return nil, fmt.Errorf("app not initialized")
	}
	cfg := a.cfg
	start, end, err := cfg.Backtest.Range()
	if err != nil {
		return nil, err
	}
	if req.Start.IsZero() {
		req.Start = start
	}
	if req.End.IsZero() {
		req.End = end
	}
	switch {
	case req.RetrainEvery == 0:
		req.RetrainEvery = cfg.Backtest.RetrainEvery
	case req.RetrainEvery < 0:
		req.RetrainEvery = 0
	}
	req.Profile = strings.TrimSpace(req.Profile)

	strategy, err := a.strategyFor(req.Profile)
	if err != nil {
		return nil, err
	}
	if req.Series.Len() == 0 {
		series, err := a.loadSeries(ctx)
		if err != nil {
			return nil, err
		}
		req.Series = series
	}
	trainer, err := oracle.New(cfg.Oracle.Kind, oracle.Settings{
		Window:     cfg.Oracle.Window,
		Horizon:    cfg.Oracle.Horizon,
		MinSamples: cfg.Oracle.MinSamples,
		MaxMove:    cfg.Oracle.MaxMove,
	})
	if err != nil {
		return nil, err
	}
	engine, err := backtest.NewEngine(backtest.EngineConfig{
		Strategy: strategy,
		Indicators: indicator.NewFeed(indicator.Settings{
			RSIPeriod:  cfg.Indicator.RSIPeriod,
			ATRPeriod:  cfg.Indicator.ATRPeriod,
			SMAShort:   cfg.Indicator.SMAShort,
			SMALong:    cfg.Indicator.SMALong,
			MinHistory: cfg.Indicator.MinHistory,
		}),
		Sentiment:      a.loadSentiment(ctx),
		Oracle:         trainer,
		Sink:           a.sink,
		Recorder:       a.results,
		Symbol:         cfg.Backtest.Symbol,
		Horizon:        cfg.Oracle.Horizon,
		RiskFreeRate:   cfg.Metrics.RiskFreeRate,
		PeriodsPerYear: cfg.Metrics.PeriodsPerYear,
	})
	if err != nil {
		return nil, err
	}
	return engine.Run(ctx, req)
}

func (a *App) strategyFor(name string) (decision.Config, error) {
	base := a.cfg.Strategy.Decision()
	if name == "" {
		return base, nil
	}
	if a.profiles == nil {
		return decision.Config{}, fmt.Errorf("%w: %s (profiles.path 未配置)", profile.ErrUnknownProfile, name)
	}
	return a.profiles.Apply(name, base)
}

// Serve 启动 HTTP 服务直到 ctx 取消；配置了 profiles.watch 时热加载 profile。
func (a *App) Serve(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}
	if a.profiles != nil && a.cfg.Profiles.Watch {
		a.profiles.Subscribe(func(s profile.Snapshot) {
			logger.Infof("profile 已重载 v%d: %v", s.Version, s.Names())
		})
		a.profiles.Watch()
	}
	server, err := buildHTTPServer(a.cfg.App, a, a.results)
	if err != nil {
		return err
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("backtest http server error: %w", err)
	}
	logger.Infof("回测 HTTP 服务已停止")
	return nil
}

// Close 释放存储与推送资源，等待未发送的通知。
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	if a.notify != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := a.notify.Close(ctx); err != nil {
			logger.Warnf("notifier 关闭超时，丢弃剩余消息: %v", err)
		}
		cancel()
		if n := a.notify.Dropped(); n > 0 {
			logger.Warnf("notifier 队列已满，共丢弃 %d 条事件", n)
		}
	}
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.results != nil {
		keep(a.results.Close())
	}
	if a.history != nil {
		keep(a.history.Close())
	}
	if a.logFile != nil {
		logger.SetOutput(nil)
		keep(a.logFile.Close())
	}
	return firstErr
}
