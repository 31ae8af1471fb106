package model

import (
	"gorm.io/datatypes"
)

// DayLayout 是历史缓存的主键日期格式。
const DayLayout = "2006-01-02"

// PriceModel 日线价格，symbol + day 唯一。
type PriceModel struct {
	Symbol        string  `gorm:"column:symbol;primaryKey"`
	Day           string  `gorm:"column:day;primaryKey"`
	Open          float64 `gorm:"column:open"`
	High          float64 `gorm:"column:high"`
	Low           float64 `gorm:"column:low"`
	Close         float64 `gorm:"column:close"`
	Volume        float64 `gorm:"column:volume"`
	Source        string  `gorm:"column:source"`
	UpdatedAtUnix int64   `gorm:"column:updated_at"`
}

func (PriceModel) TableName() string { return "price_history" }

// FearGreedModel 每日 Fear & Greed 指数，Raw 保留接口原始条目。
type FearGreedModel struct {
	Day            string         `gorm:"column:day;primaryKey"`
	TimestampUnix  int64          `gorm:"column:ts;index"`
	Value          int            `gorm:"column:value"`
	Classification string         `gorm:"column:classification"`
	Raw            datatypes.JSON `gorm:"column:raw;type:TEXT"`
	UpdatedAtUnix  int64          `gorm:"column:updated_at"`
}

func (FearGreedModel) TableName() string { return "fear_greed_history" }

// SyncStateModel 记录各数据源最近一次同步时间。
type SyncStateModel struct {
	Name         string `gorm:"column:name;primaryKey"`
	SyncedAtUnix int64  `gorm:"column:synced_at"`
	Rows         int    `gorm:"column:rows"`
}

func (SyncStateModel) TableName() string { return "sync_state" }
