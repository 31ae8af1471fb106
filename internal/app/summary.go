package app

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"btcbacktest/internal/backtest"
	brcfg "btcbacktest/internal/config"
	"btcbacktest/internal/decision"
	"btcbacktest/internal/profile"
)

type StartupSummary struct {
	Symbol     string
	Range      string
	Strategy   decision.Config
	Oracle     string
	Sentiment  string
	Storage    brcfg.StorageConfig
	Profiles   []string
	NotifyDesc string
}

func buildStartupSummary(cfg *brcfg.Config, profiles *profile.Registry) *StartupSummary {
	s := &StartupSummary{
		Symbol:   cfg.Backtest.Symbol,
		Range:    fmt.Sprintf("%s ~ %s", orDash(cfg.Backtest.Start), orDash(cfg.Backtest.End)),
		Strategy: cfg.Strategy.Decision(),
		Oracle:   fmt.Sprintf("%s window=%d horizon=%d", cfg.Oracle.Kind, cfg.Oracle.Window, cfg.Oracle.Horizon),
		Storage:  cfg.Storage,
	}
	if cfg.Sentiment.Enabled {
		s.Sentiment = fmt.Sprintf("Fear & Greed (%s, ttl=%s)", cfg.Sentiment.Endpoint, cfg.Sentiment.CacheTTL())
	} else {
		s.Sentiment = "RSI 代理"
	}
	if profiles != nil {
		s.Profiles = profiles.Snapshot().Names()
	}
	if cfg.Notify.Telegram.Enabled {
		s.NotifyDesc = "telegram: " + formatKinds(cfg.Notify.EventKinds())
	}
	return s
}

func (s *StartupSummary) Print() { s.Fprint(os.Stdout) }

func (s *StartupSummary) Fprint(w io.Writer) {
	banner(w, "启动配置摘要 (STARTUP SUMMARY)")
	fmt.Fprintln(w, "[回测 (BACKTEST)]")
	fmt.Fprintf(w, "  交易对: %s\n", s.Symbol)
	fmt.Fprintf(w, "  区间: %s\n", s.Range)
	fmt.Fprintln(w)

	c := s.Strategy
	fmt.Fprintln(w, "[策略 (STRATEGY)]")
	fmt.Fprintf(w, "  初始资金: %.2f  DCA: %.2f  波段: %.2f\n", c.InitialCapital, c.DCAAmount, c.SwingAmount)
	fmt.Fprintf(w, "  RSI: %.0f/%.0f  k_atr: %.2f  恐惧阈值: %.0f\n", c.RSIOversold, c.RSIOverbought, c.KATR, c.FearThreshold)
	fmt.Fprintf(w, "  波段置信度: %.2f  熔断比例: %.2f\n", c.SwingConfidenceThreshold, c.CircuitBreakerRatio)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[信号 (SIGNALS)]")
	fmt.Fprintf(w, "  预测: %s\n", s.Oracle)
	fmt.Fprintf(w, "  情绪: %s\n", s.Sentiment)
	fmt.Fprintf(w, "  Profiles: %s\n", formatList(s.Profiles))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[存储与推送 (STORAGE & NOTIFY)]")
	fmt.Fprintf(w, "  缓存: %s\n", s.Storage.CachePath)
	fmt.Fprintf(w, "  结果: %s\n", s.Storage.ResultsDir)
	fmt.Fprintf(w, "  推送: %s\n", orDash(s.NotifyDesc))
	fmt.Fprintln(w, strings.Repeat("=", 80))
}

// PrintReport 输出一次回测的报告。
func PrintReport(w io.Writer, res *backtest.Result) {
	if res == nil {
		return
	}
	sum := res.Summary
	banner(w, "回测报告 (BACKTEST REPORT)")
	fmt.Fprintf(w, "  Run: %s  Symbol: %s  Profile: %s\n", res.RunID, res.Symbol, orDash(res.Profile))
	fmt.Fprintf(w, "  区间: %s ~ %s  步数: %d  跳过: %d\n", res.Start.Format(time.DateOnly), res.End.Format(time.DateOnly), res.Steps, res.SkippedSteps)
	status := string(res.Status)
	if res.StoppedAt != nil {
		status += " @ " + res.StoppedAt.Format(time.DateOnly)
	}
	fmt.Fprintf(w, "  状态: %s\n", status)
	if res.LimitedData {
		fmt.Fprintf(w, "  ⚠ 数据不足：请求起点 %s 早于数据首日，已截断\n", res.RequestedStart.Format(time.DateOnly))
	}
	fmt.Fprintf(w, "  重训: %d (失败 %d)  兜底预测: %d\n", res.Retrains, res.RetrainFailures, res.PredictionFallbacks)
	if res.InitialTrainingFailed {
		fmt.Fprintln(w, "  ⚠ 初始训练失败：首次成功重训前使用兜底预测")
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[收益 (PERFORMANCE)]")
	fmt.Fprintf(w, "  初始资金: %.2f  最终价值: %.2f\n", sum.InitialCapital, sum.FinalValue)
	fmt.Fprintf(w, "  总收益: %s  持有收益: %s  超额: %s\n", pct(sum.TotalReturn), pct(sum.BuyHoldReturn), pct(sum.Outperformance))
	fmt.Fprintf(w, "  Sharpe: %s  Sortino: %s  Calmar: %s\n", sum.SharpeRatio, sum.SortinoRatio, sum.CalmarRatio)
	fmt.Fprintf(w, "  最大回撤: %s\n", pct(sum.MaxDrawdown))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[交易 (TRADES)]")
	fmt.Fprintf(w, "  成交: %d (买 %d / 卖 %d)  配对: %d\n", sum.NumTrades, sum.NumBuys, sum.NumSells, sum.CompletedPairs)
	fmt.Fprintf(w, "  胜率: %s  平均收益: %s  盈亏比: %s\n", pct(sum.WinRate), pct(sum.AvgTradeReturn), sum.ProfitFactor)
	for _, st := range sum.Strategies {
		fmt.Fprintf(w, "  - %-15s 次数=%d 金额=%.2f 胜率=%s\n", st.Strategy, st.Trades, st.Notional, pct(st.WinRate))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[信号 (SIGNALS)]")
	fmt.Fprintf(w, "  RSI 命中: %d/%d  MACD 命中: %d/%d\n", sum.Signals.RSIHits, sum.Signals.RSISignals, sum.Signals.MACDHits, sum.Signals.MACDSignals)
	fmt.Fprintf(w, "  预测方向准确率: %s (评估 %d)  RMSE: %.2f\n", pct(sum.Prediction.DirectionAccuracy), sum.Prediction.Evaluated, sum.Prediction.RMSE)
	fmt.Fprintf(w, "  情绪与收益相关性: %.3f\n", sum.FearGreedCorr)
	fmt.Fprintln(w, strings.Repeat("=", 80))
}

func banner(w io.Writer, title string) {
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "%*s\n", 40+len(title)/2, title)
	fmt.Fprintln(w, strings.Repeat("=", 80))
}

func pct(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
