package decision

import (
	"math"

	"github.com/shopspring/decimal"
)

// positionEpsilon 以下的持仓视为已清空。
var positionEpsilon = decimal.NewFromFloat(1e-4)

func decFromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(val)
}

func decToFloat(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}

func decimalCompare(a, b float64) int {
	return decFromFloat(a).Cmp(decFromFloat(b))
}

func decimalLT(a, b float64) bool  { return decimalCompare(a, b) < 0 }
func decimalGT(a, b float64) bool  { return decimalCompare(a, b) > 0 }
func decimalGTE(a, b float64) bool { return decimalCompare(a, b) >= 0 }

// portfolioValue = cash + position·price，按十进制计算避免边界误差。
func portfolioValue(cash, position, price float64) decimal.Decimal {
	return decFromFloat(cash).Add(decFromFloat(position).Mul(decFromFloat(price)))
}

// scaled 返回 base·factor。
func scaled(base, factor float64) decimal.Decimal {
	return decFromFloat(base).Mul(decFromFloat(factor))
}

// fraction 返回 (value − base)/base。
func fraction(value decimal.Decimal, base float64) float64 {
	b := decFromFloat(base)
	if b.IsZero() {
		return 0
	}
	return decToFloat(value.Sub(b).Div(b))
}
