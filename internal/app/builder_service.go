package app

import (
	"fmt"

	brcfg "btcbacktest/internal/config"
	"btcbacktest/internal/gateway/notifier"
	"btcbacktest/internal/logger"
	backtesthttp "btcbacktest/internal/transport/http/backtest"
)

func buildHTTPServer(cfg brcfg.AppConfig, runner backtesthttp.Runner, results backtesthttp.ResultReader) (*backtesthttp.Server, error) {
	server, err := backtesthttp.NewServer(backtesthttp.Config{
		Addr:    cfg.HTTPAddr,
		Runner:  runner,
		Results: results,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化回测 HTTP 失败: %w", err)
	}
	logger.Infof("✓ 回测 HTTP 接口监听 %s", server.Addr())
	return server, nil
}

func newTelegram(cfg brcfg.NotifyConfig) notifier.TextNotifier {
	if !cfg.Telegram.Enabled {
		return nil
	}
	return notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
}
