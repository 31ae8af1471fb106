package visual

import (
	"bytes"
	"fmt"
	"math"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"btcbacktest/internal/backtest"
	"btcbacktest/internal/decision"
)

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorBuy           = "#34d399"
	colorSell          = "#f87171"
	colorEquity        = "#3b82f6"
	colorPrice         = "#fbbf24"
	colorDrawdown      = "#a78bfa"

	chartWidthPx    = 1400
	equityHeightPx  = 520
	priceHeightPx   = 420
	drawdownHeightP = 220
)

// EquityPoint 是资金曲线上的一个点。
type EquityPoint struct {
	Time  time.Time
	Value float64
	Price float64
}

// TradeMarker 在图上标注一笔成交。
type TradeMarker struct {
	Time     time.Time
	Action   decision.Action
	Strategy decision.Strategy
	Price    float64
}

type EquityInput struct {
	Title    string
	Subtitle string
	Points   []EquityPoint
	Trades   []TradeMarker
}

// EquityInputFromResult 从回测结果构造绘图输入。
func EquityInputFromResult(res *backtest.Result) EquityInput {
	in := EquityInput{
		Title:    fmt.Sprintf("%s %s", res.Symbol, res.RunID),
		Subtitle: fmt.Sprintf("%s ~ %s | %s | return %.2f%% | max dd %.2f%%", res.Start.Format(time.DateOnly), res.End.Format(time.DateOnly), res.Status, res.Summary.TotalReturn*100, res.Summary.MaxDrawdown*100),
	}
	for _, v := range res.Values {
		in.Points = append(in.Points, EquityPoint{Time: v.Time, Value: v.TotalValue, Price: v.Price})
	}
	for _, t := range res.Trades {
		in.Trades = append(in.Trades, TradeMarker{Time: t.Time, Action: t.Action, Strategy: t.Strategy, Price: t.Price})
	}
	return in
}

// RenderEquity 输出包含资金曲线、价格与回撤的 HTML 页面。
func RenderEquity(in EquityInput) ([]byte, error) {
	if len(in.Points) == 0 {
		return nil, fmt.Errorf("no value samples to render")
	}
	xAxis := buildXAxis(in.Points)
	index := make(map[string]int, len(xAxis))
	for i, x := range xAxis {
		index[x] = i
	}

	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)

	values := make([]float64, len(in.Points))
	prices := make([]float64, len(in.Points))
	for i, p := range in.Points {
		values[i] = p.Value
		prices[i] = p.Price
	}

	equity := newLine(in.Title, in.Subtitle, equityHeightPx, values)
	equity.SetXAxis(xAxis)
	equity.AddSeries("Portfolio", toLineData(values), charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}))
	equity.Overlap(tradeScatter(xAxis, index, in.Trades, values, false)...)

	price := newLine("Price", "", priceHeightPx, prices)
	price.SetXAxis(xAxis)
	price.AddSeries("Price", toLineData(prices), charts.WithLineStyleOpts(opts.LineStyle{Color: colorPrice, Width: 2}))
	price.Overlap(tradeScatter(xAxis, index, in.Trades, prices, true)...)

	dd := drawdownSeries(values)
	drawdown := newLine("Drawdown", "", drawdownHeightP, dd)
	drawdown.SetXAxis(xAxis)
	drawdown.AddSeries("Drawdown", toLineData(dd),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorDrawdown, Width: 1}),
		charts.WithAreaStyleOpts(opts.AreaStyle{Color: colorDrawdown, Opacity: opts.Float(0.25)}),
	)

	page.AddCharts(equity, price, drawdown)
	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func newLine(title, subtitle string, height int, series []float64) *charts.Line {
	lo, hi := bounds(series)
	padding := (hi - lo) * 0.05
	if padding <= 0 {
		padding = math.Max(1, math.Abs(hi)*0.01)
	}
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", height),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:         title,
			Subtitle:      subtitle,
			Left:          "left",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 16},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextSecondary}}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			Min:       round(lo-padding, 2),
			Max:       round(hi+padding, 2),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	line.SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	return line
}

// tradeScatter 按动作拆成 BUY/SELL 两组散点，atPrice 为 false 时标在资金曲线上。
func tradeScatter(xAxis []string, index map[string]int, trades []TradeMarker, base []float64, atPrice bool) []charts.Overlaper {
	buys := make([]opts.ScatterData, len(xAxis))
	sells := make([]opts.ScatterData, len(xAxis))
	for i := range xAxis {
		buys[i] = opts.ScatterData{Value: nil}
		sells[i] = opts.ScatterData{Value: nil}
	}
	for _, t := range trades {
		i, ok := index[dayLabel(t.Time)]
		if !ok {
			continue
		}
		y := base[i]
		if atPrice {
			y = t.Price
		}
		point := opts.ScatterData{Value: round(y, 2), Name: string(t.Strategy), Symbol: "triangle", SymbolSize: 12}
		switch t.Action {
		case decision.ActionBuy:
			buys[i] = point
		case decision.ActionSell:
			point.Symbol = "diamond"
			sells[i] = point
		}
	}
	buy := charts.NewScatter()
	buy.SetXAxis(xAxis)
	buy.AddSeries("BUY", buys, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorBuy}))
	sell := charts.NewScatter()
	sell.SetXAxis(xAxis)
	sell.AddSeries("SELL", sells, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorSell}))
	return []charts.Overlaper{buy, sell}
}

func drawdownSeries(values []float64) []float64 {
	out := make([]float64, len(values))
	peak := math.Inf(-1)
	for i, v := range values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			out[i] = round((v-peak)/peak*100, 4)
		}
	}
	return out
}

func dayLabel(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

func buildXAxis(points []EquityPoint) []string {
	x := make([]string, len(points))
	for i, p := range points {
		x[i] = dayLabel(p.Time)
	}
	return x
}

func toLineData(series []float64) []opts.LineData {
	line := make([]opts.LineData, len(series))
	for i, v := range series {
		if math.IsNaN(v) {
			line[i] = opts.LineData{Value: nil}
			continue
		}
		line[i] = opts.LineData{Value: round(v, 4)}
	}
	return line
}

func bounds(series []float64) (lo, hi float64) {
	if len(series) == 0 {
		return 0, 0
	}
	lo, hi = series[0], series[0]
	for _, v := range series {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

func round(val float64, decimals int) float64 {
	if decimals <= 0 {
		return math.Round(val)
	}
	scale := math.Pow10(decimals)
	return math.Round(val*scale) / scale
}
