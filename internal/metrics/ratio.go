package metrics

import (
	"encoding/json"
	"math"
	"strconv"
)

// Ratio 是可能为 ±Inf 的比率。JSON 中无穷写作 "+Inf"/"-Inf"，NaN 写作 null。
type Ratio float64

func (r Ratio) Float() float64 { return float64(r) }

func (r Ratio) MarshalJSON() ([]byte, error) {
	v := float64(r)
	switch {
	case math.IsNaN(v):
		return []byte("null"), nil
	case math.IsInf(v, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Inf"`), nil
	}
	return []byte(strconv.FormatFloat(v, 'g', -1, 64)), nil
}

func (r *Ratio) UnmarshalJSON(b []byte) error {
	s := string(b)
	switch s {
	case "null":
		*r = Ratio(math.NaN())
		return nil
	case `"+Inf"`, `"Inf"`:
		*r = Ratio(math.Inf(1))
		return nil
	case `"-Inf"`:
		*r = Ratio(math.Inf(-1))
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*r = Ratio(v)
	return nil
}

func (r Ratio) String() string {
	v := float64(r)
	if math.IsInf(v, 1) {
		return "∞"
	}
	if math.IsInf(v, -1) {
		return "-∞"
	}
	return strconv.FormatFloat(v, 'f', 4, 64)
}
