package backtest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"btcbacktest/internal/decision"
)

func formatFloat(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}

// WriteTradesCSV 导出成交明细。
func WriteTradesCSV(w io.Writer, trades []decision.Trade) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"date", "action", "strategy", "price", "quantity", "notional", "reason"}); err != nil {
		return err
	}
	for _, t := range trades {
		rec := []string{
			t.Time.Format(time.DateOnly),
			string(t.Action),
			string(t.Strategy),
			formatFloat(t.Price, 2),
			formatFloat(t.Quantity, 8),
			formatFloat(t.Notional, 2),
			t.Reason,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteValuesCSV 导出每日资金曲线。
func WriteValuesCSV(w io.Writer, values []ValueSample) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"date", "total_value", "cash", "position", "price"}); err != nil {
		return err
	}
	for _, v := range values {
		rec := []string{
			v.Time.Format(time.DateOnly),
			formatFloat(v.TotalValue, 2),
			formatFloat(v.Cash, 2),
			formatFloat(v.Position, 8),
			formatFloat(v.Price, 2),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportCSV 在 dir 下写出 <run_id>_trades.csv 与 <run_id>_values.csv，返回写出的路径。
func ExportCSV(dir string, res *Result) ([]string, error) {
	if res == nil {
		return nil, fmt.Errorf("result 不能为空")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	tradesPath := filepath.Join(dir, res.RunID+"_trades.csv")
	valuesPath := filepath.Join(dir, res.RunID+"_values.csv")
	if err := writeFile(tradesPath, func(w io.Writer) error { return WriteTradesCSV(w, res.Trades) }); err != nil {
		return nil, err
	}
	if err := writeFile(valuesPath, func(w io.Writer) error { return WriteValuesCSV(w, res.Values) }); err != nil {
		return nil, err
	}
	return []string{tradesPath, valuesPath}, nil
}

func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
