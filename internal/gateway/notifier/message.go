package notifier

import (
	"fmt"
	"math"
	"strings"
	"time"

	"btcbacktest/internal/events"
	"btcbacktest/internal/pkg/text"
)

const maxStructuredMessageLen = 3800

// MessageSection 表示通知中的一个段落。
type MessageSection struct {
	Title string
	Lines []string
}

// StructuredMessage 是统一格式的推送内容。
type StructuredMessage struct {
	Icon      string
	Title     string
	Sections  []MessageSection
	Footer    string
	Timestamp time.Time
}

// RenderMarkdown 生成 Markdown 文本，超长时截断。
func (m StructuredMessage) RenderMarkdown() string {
	var b strings.Builder
	if header := strings.TrimSpace(m.Icon + " " + m.Title); header != "" {
		b.WriteString(header + "\n\n")
	}
	b.WriteString(renderSections(m.Sections))
	if footer := strings.TrimSpace(m.Footer); footer != "" {
		b.WriteString(escapeFence(footer) + "\n")
	}
	if !m.Timestamp.IsZero() {
		b.WriteString("日期：" + m.Timestamp.UTC().Format(time.DateOnly))
	}
	return text.Truncate(strings.TrimSpace(b.String()), maxStructuredMessageLen)
}

func renderSections(secs []MessageSection) string {
	var blocks []string
	for _, sec := range secs {
		lines := nonEmpty(sec.Lines)
		if len(lines) == 0 {
			continue
		}
		var b strings.Builder
		if title := strings.TrimSpace(sec.Title); title != "" {
			b.WriteString(escapeFence(title) + "\n")
		}
		for _, line := range lines {
			b.WriteString("- " + escapeFence(line) + "\n")
		}
		blocks = append(blocks, b.String())
	}
	if len(blocks) == 0 {
		return ""
	}
	return "```\n" + strings.Join(blocks, "\n") + "```\n\n"
}

func nonEmpty(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if text := strings.TrimSpace(line); text != "" {
			out = append(out, text)
		}
	}
	return out
}

func escapeFence(s string) string {
	return strings.ReplaceAll(s, "```", "'''")
}

// EventMessage 把回测事件渲染为推送消息；未知事件返回 false。
func EventMessage(evt events.Event) (StructuredMessage, bool) {
	msg := StructuredMessage{Timestamp: evt.Time}
	if evt.RunID != "" {
		msg.Footer = "run " + evt.RunID
	}
	switch evt.Kind {
	case events.KindTradeExecuted:
		msg.Icon = "🟢"
		if evt.Action == "SELL" {
			msg.Icon = "🔴"
		}
		msg.Title = fmt.Sprintf("%s %s", evt.Strategy, evt.Action)
		msg.Sections = []MessageSection{{
			Title: "成交",
			Lines: []string{
				fmt.Sprintf("价格 %.2f", evt.Price),
				fmt.Sprintf("数量 %.8f", evt.Quantity),
				fmt.Sprintf("金额 %.2f", evt.Notional),
				fmt.Sprintf("总资产 %.2f", evt.PortfolioValue),
			},
		}, {
			Title: "原因",
			Lines: []string{evt.Reason},
		}}
	case events.KindCircuitBreaker:
		msg.Icon = "⛔"
		msg.Title = "熔断暂停"
		msg.Sections = []MessageSection{{
			Lines: []string{evt.Reason, fmt.Sprintf("总资产 %.2f", evt.PortfolioValue)},
		}}
	case events.KindRunCompleted:
		msg.Icon = "📊"
		msg.Title = "回测结束"
		if evt.Reason != "" {
			msg.Title += " (" + evt.Reason + ")"
		}
		msg.Sections = []MessageSection{{Title: "指标", Lines: summaryLines(evt.Summary)}}
	default:
		return StructuredMessage{}, false
	}
	return msg, true
}

var summaryLabels = []struct {
	key   string
	label string
	pct   bool
}{
	{"total_return", "总收益", true},
	{"buy_hold_return", "持有收益", true},
	{"max_drawdown", "最大回撤", true},
	{"win_rate", "胜率", true},
	{"sharpe_ratio", "Sharpe", false},
	{"num_trades", "成交笔数", false},
	{"final_value", "期末资产", false},
}

func summaryLines(summary map[string]float64) []string {
	var lines []string
	for _, item := range summaryLabels {
		v, ok := summary[item.key]
		if !ok {
			continue
		}
		switch {
		case math.IsInf(v, 0) || math.IsNaN(v):
			lines = append(lines, fmt.Sprintf("%s %v", item.label, v))
		case item.pct:
			lines = append(lines, fmt.Sprintf("%s %.2f%%", item.label, v*100))
		default:
			lines = append(lines, fmt.Sprintf("%s %.2f", item.label, v))
		}
	}
	return lines
}
