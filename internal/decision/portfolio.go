package decision

import (
	"fmt"
)

// Portfolio 是模拟账户状态，只由 Engine 修改。
type Portfolio struct {
	Cash            float64  `json:"cash"`
	Position        float64  `json:"position"`
	EntryPrice      *float64 `json:"entry_price,omitempty"`
	LastDCABuyPrice *float64 `json:"last_dca_buy_price,omitempty"`
	Trades          []Trade  `json:"trades"`
}

// NewPortfolio 以全部现金开始。
func NewPortfolio(cash float64) Portfolio {
	return Portfolio{Cash: cash}
}

// Value 返回按 price 计价的总资产。
func (p Portfolio) Value(price float64) float64 {
	return decToFloat(portfolioValue(p.Cash, p.Position, price))
}

// HasPosition 持仓大于 0 且记录了开仓价。
func (p Portfolio) HasPosition() bool {
	return p.Position > 0 && p.EntryPrice != nil
}

// Clone 深拷贝，外部只能读取副本。
func (p Portfolio) Clone() Portfolio {
	out := p
	if p.EntryPrice != nil {
		v := *p.EntryPrice
		out.EntryPrice = &v
	}
	if p.LastDCABuyPrice != nil {
		v := *p.LastDCABuyPrice
		out.LastDCABuyPrice = &v
	}
	out.Trades = make([]Trade, len(p.Trades))
	copy(out.Trades, p.Trades)
	return out
}

// Check 校验 position==0 ⇔ EntryPrice==nil 以及 cash ≥ 0。
func (p Portfolio) Check() error {
	if p.Cash < 0 {
		return fmt.Errorf("negative cash %.8f", p.Cash)
	}
	if p.Position < 0 {
		return fmt.Errorf("negative position %.8f", p.Position)
	}
	if (p.Position == 0) != (p.EntryPrice == nil) {
		return fmt.Errorf("position %.8f inconsistent with entry price set=%t", p.Position, p.EntryPrice != nil)
	}
	return nil
}

func floatPtr(v float64) *float64 { return &v }
