package market

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

var csvAliases = map[string]string{
	"date":      "date",
	"open time": "date",
	"timestamp": "date",
	"price":     "price",
	"close":     "price",
	"open":      "open",
	"high":      "high",
	"low":       "low",
	"volume":    "volume",
	"vol.":      "volume",
}

var csvTimeLayouts = []string{
	time.DateOnly,
	"2006-01-02 15:04:05",
	time.RFC3339,
	"01/02/2006",
	"Jan 02, 2006",
}

// LoadCSV 读取 Date,Price[,Open,High,Low,Volume] 格式的历史行情。
func LoadCSV(path string) (Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return Series{}, err
	}
	defer f.Close()
	s, err := ReadCSV(f)
	if err != nil {
		return Series{}, fmt.Errorf("load %s: %w", path, err)
	}
	return s, nil
}

// ReadCSV 只做解析，不排序不去重；顺序问题交给 Series.Validate。
func ReadCSV(r io.Reader) (Series, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Series{}, fmt.Errorf("%w: empty csv", ErrInvalidSeries)
		}
		return Series{}, err
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if canon, ok := csvAliases[key]; ok {
			if _, dup := cols[canon]; !dup {
				cols[canon] = i
			}
		}
	}
	for _, required := range []string{"date", "price"} {
		if _, ok := cols[required]; !ok {
			return Series{}, fmt.Errorf("%w: missing column %q", ErrInvalidSeries, required)
		}
	}

	var points []PricePoint
	line := 1
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Series{}, err
		}
		line++
		p, err := parseCSVRow(rec, cols)
		if err != nil {
			return Series{}, fmt.Errorf("%w: line %d: %v", ErrInvalidSeries, line, err)
		}
		points = append(points, p)
	}
	return Series{points: points}, nil
}

func parseCSVRow(rec []string, cols map[string]int) (PricePoint, error) {
	field := func(name string) string {
		idx, ok := cols[name]
		if !ok || idx >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[idx])
	}
	ts, err := parseCSVTime(field("date"))
	if err != nil {
		return PricePoint{}, err
	}
	price, err := parseCSVNumber(field("price"))
	if err != nil {
		return PricePoint{}, fmt.Errorf("price: %w", err)
	}
	p := PricePoint{Time: ts, Price: price}
	optional := []struct {
		name   string
		target *float64
	}{
		{"open", &p.Open},
		{"high", &p.High},
		{"low", &p.Low},
		{"volume", &p.Volume},
	}
	for _, opt := range optional {
		raw := field(opt.name)
		if raw == "" {
			continue
		}
		v, err := parseCSVNumber(raw)
		if err != nil {
			return PricePoint{}, fmt.Errorf("%s: %w", opt.name, err)
		}
		*opt.target = v
	}
	return p, nil
}

func parseCSVTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("date is empty")
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if ms > 1e11 {
			return time.UnixMilli(ms).UTC(), nil
		}
		return time.Unix(ms, 0).UTC(), nil
	}
	for _, layout := range csvTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
}

func parseCSVNumber(raw string) (float64, error) {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if raw == "" {
		return 0, fmt.Errorf("value is empty")
	}
	mult := 1.0
	switch strings.ToUpper(raw[len(raw)-1:]) {
	case "K":
		mult = 1e3
	case "M":
		mult = 1e6
	case "B":
		mult = 1e9
	}
	if mult != 1 {
		raw = raw[:len(raw)-1]
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	return v * mult, nil
}

// WriteCSV 按 LoadCSV 可读回的格式导出。
func WriteCSV(w io.Writer, s Series) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Date", "Price", "Open", "High", "Low", "Volume"}); err != nil {
		return err
	}
	for _, p := range s.points {
		row := []string{
			p.Time.UTC().Format(time.DateOnly),
			strconv.FormatFloat(p.Price, 'f', -1, 64),
			strconv.FormatFloat(p.Open, 'f', -1, 64),
			strconv.FormatFloat(p.High, 'f', -1, 64),
			strconv.FormatFloat(p.Low, 'f', -1, 64),
			strconv.FormatFloat(p.Volume, 'f', -1, 64),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
