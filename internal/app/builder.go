package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"btcbacktest/internal/backtest"
	brcfg "btcbacktest/internal/config"
	"btcbacktest/internal/events"
	"btcbacktest/internal/gateway/notifier"
	"btcbacktest/internal/logger"
	"btcbacktest/internal/pkg/circuit"
	"btcbacktest/internal/profile"
	"btcbacktest/internal/sentiment"
	"btcbacktest/internal/store/gormstore"
)

const (
	fearGreedFailureThreshold = 3
	fearGreedCooldown         = 15 * time.Minute
)

// AppBuilder 按配置装配回测所需的组件。
type AppBuilder struct {
	cfg *brcfg.Config

	historyFn  func(string) (*gormstore.HistoryStore, error)
	resultsFn  func(string) (*backtest.ResultStore, error)
	profilesFn func(brcfg.ProfilesConfig) (*profile.Registry, error)
	notifierFn func(brcfg.NotifyConfig) notifier.TextNotifier

	fetcherOverride sentiment.Fetcher
	pricesOverride  PriceFetcher
}

type AppBuilderOption func(*AppBuilder)

// WithSentimentFetcher 替换 Fear & Greed 拉取器，测试时使用。
func WithSentimentFetcher(f sentiment.Fetcher) AppBuilderOption {
	return func(b *AppBuilder) { b.fetcherOverride = f }
}

// WithPriceFetcher 替换 fetch 命令使用的行情源。
func WithPriceFetcher(f PriceFetcher) AppBuilderOption {
	return func(b *AppBuilder) { b.pricesOverride = f }
}

// WithNotifier 替换文本推送通道。
func WithNotifier(n notifier.TextNotifier) AppBuilderOption {
	return func(b *AppBuilder) {
		b.notifierFn = func(brcfg.NotifyConfig) notifier.TextNotifier { return n }
	}
}

func NewAppBuilder(cfg *brcfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		historyFn:  gormstore.NewHistoryStore,
		resultsFn:  backtest.NewResultStore,
		profilesFn: buildProfileRegistry,
		notifierFn: newTelegram,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(ctx context.Context, cfg *brcfg.Config, opts ...AppBuilderOption) (*App, error) {
	return NewAppBuilder(cfg, opts...).Build(ctx)
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logFile, err := setupLogger(cfg.App)
	if err != nil {
		return nil, err
	}

	history, err := b.historyFn(cfg.Storage.CachePath)
	if err != nil {
		closeQuietly(logFile)
		return nil, fmt.Errorf("初始化历史缓存失败: %w", err)
	}
	results, err := b.resultsFn(cfg.Storage.ResultsDir)
	if err != nil {
		_ = history.Close()
		closeQuietly(logFile)
		return nil, fmt.Errorf("初始化结果存储失败: %w", err)
	}
	logger.Infof("✓ 历史缓存 %s，结果库 %s", cfg.Storage.CachePath, results.Path())

	profiles, err := b.profilesFn(cfg.Profiles)
	if err != nil {
		_ = results.Close()
		_ = history.Close()
		closeQuietly(logFile)
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		history:  history,
		results:  results,
		profiles: profiles,
		logFile:  logFile,
		prices:   b.priceFetcher(cfg.Market),
	}
	a.fearGreed = b.fearGreedFetcher(cfg.Sentiment)
	a.sentiment = sentimentLoader(cfg.Sentiment, history, a.fearGreed)

	sinks := events.Multi{events.LogSink{}}
	if n := b.notifierFn(cfg.Notify); n != nil {
		a.notify = notifier.NewTextSink(n, notifier.SinkOptions{Kinds: cfg.Notify.EventKinds()})
		sinks = append(sinks, a.notify)
		logger.Infof("✓ Telegram 推送已启用，事件: %s", formatKinds(cfg.Notify.EventKinds()))
	}
	a.sink = sinks

	a.Summary = buildStartupSummary(cfg, profiles)
	return a, nil
}

func (b *AppBuilder) fearGreedFetcher(cfg brcfg.SentimentConfig) sentiment.Fetcher {
	if b.fetcherOverride != nil {
		return b.fetcherOverride
	}
	return sentiment.NewFearGreedClient(cfg.Endpoint, cfg.Limit, cfg.Timeout())
}

func sentimentLoader(cfg brcfg.SentimentConfig, cache sentiment.Cache, fetcher sentiment.Fetcher) *sentiment.Loader {
	if !cfg.Enabled {
		logger.Infof("情绪数据已关闭，使用 RSI 代理")
		return nil
	}
	guard := circuit.NewBreaker("fear_greed", fearGreedFailureThreshold, fearGreedCooldown)
	return sentiment.NewLoader(cache, fetcher, cfg.CacheTTL()).WithGuard(guard)
}

func (b *AppBuilder) priceFetcher(cfg brcfg.MarketConfig) PriceFetcher {
	if b.pricesOverride != nil {
		return b.pricesOverride
	}
	return newBinanceSource(cfg)
}

// profileSearchDir 为相对 profile 路径的备选目录。
const profileSearchDir = "configs"

func buildProfileRegistry(cfg brcfg.ProfilesConfig) (*profile.Registry, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, nil
	}
	resolved, err := profile.Locate(path, profileSearchDir)
	if err != nil {
		return nil, fmt.Errorf("加载 profile 配置失败: %w", err)
	}
	reg, err := profile.NewRegistry(resolved)
	if err != nil {
		return nil, fmt.Errorf("加载 profile 配置失败: %w", err)
	}
	logger.Infof("✓ 已加载 %d 个 profile: %v", len(reg.Snapshot().Profiles), reg.Snapshot().Names())
	return reg, nil
}

// setupLogger 设置日志级别，配置了 log_path 时同时写文件。
func setupLogger(cfg brcfg.AppConfig) (io.Closer, error) {
	logger.SetLevel(cfg.LogLevel)
	path := strings.TrimSpace(cfg.LogPath)
	if path == "" {
		return nil, nil
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("创建日志目录失败: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("打开日志文件失败: %w", err)
	}
	logger.SetOutput(io.MultiWriter(os.Stdout, f))
	return f, nil
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}

func formatKinds(kinds []events.Kind) string {
	if len(kinds) == 0 {
		return "全部"
	}
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = string(k)
	}
	return strings.Join(parts, ", ")
}
