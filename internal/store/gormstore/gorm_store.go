package gormstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"btcbacktest/internal/market"
	pairs "btcbacktest/internal/pkg/symbol"
	"btcbacktest/internal/sentiment"
	storemodel "btcbacktest/internal/store/model"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const (
	syncFearGreed = "fear_greed"
	syncPrefix    = "prices:"
	upsertBatch   = 500
)

// HistoryStore 缓存日线价格与 Fear & Greed 历史，实现 sentiment.Cache。
type HistoryStore struct {
	db  *gorm.DB
	now func() time.Time
}

var _ sentiment.Cache = (*HistoryStore)(nil)

// NewHistoryStore 打开（必要时创建）缓存库。
func NewHistoryStore(path string) (*HistoryStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("history store: 缓存路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	models := []interface{}{
		&storemodel.PriceModel{},
		&storemodel.FearGreedModel{},
		&storemodel.SyncStateModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &HistoryStore{db: db, now: time.Now}, nil
}

func (s *HistoryStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// --------------------- Prices -------------------------

// UpsertPrices 按 symbol+day 覆盖写入。
func (s *HistoryStore) UpsertPrices(ctx context.Context, symbol, source string, points []market.PricePoint) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("history store 未初始化")
	}
	symbol = pairs.Normalize(symbol)
	if symbol == "" {
		return fmt.Errorf("symbol 必填")
	}
	if len(points) == 0 {
		return nil
	}
	now := s.now().Unix()
	rows := make([]storemodel.PriceModel, 0, len(points))
	for _, p := range points {
		rows = append(rows, storemodel.PriceModel{
			Symbol:        symbol,
			Day:           p.Time.UTC().Format(storemodel.DayLayout),
			Open:          p.Open,
			High:          p.High,
			Low:           p.Low,
			Close:         p.Price,
			Volume:        p.Volume,
			Source:        source,
			UpdatedAtUnix: now,
		})
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).CreateInBatches(&rows, upsertBatch).Error; err != nil {
			return err
		}
		return markSynced(tx, syncPrefix+symbol, len(rows), now)
	})
}

// LoadPrices 读取 [start, end] 的日线；零值时间表示不限。
func (s *HistoryStore) LoadPrices(ctx context.Context, symbol string, start, end time.Time) (market.Series, error) {
	if s == nil || s.db == nil {
		return market.Series{}, fmt.Errorf("history store 未初始化")
	}
	q := s.db.WithContext(ctx).Where("symbol = ?", pairs.Normalize(symbol))
	if !start.IsZero() {
		q = q.Where("day >= ?", start.UTC().Format(storemodel.DayLayout))
	}
	if !end.IsZero() {
		q = q.Where("day <= ?", end.UTC().Format(storemodel.DayLayout))
	}
	var rows []storemodel.PriceModel
	if err := q.Order("day ASC").Find(&rows).Error; err != nil {
		return market.Series{}, err
	}
	points := make([]market.PricePoint, 0, len(rows))
	for _, r := range rows {
		day, err := time.Parse(storemodel.DayLayout, r.Day)
		if err != nil {
			continue
		}
		points = append(points, market.PricePoint{
			Time:   day,
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Price:  r.Close,
			Volume: r.Volume,
		})
	}
	return market.NewSeries(points), nil
}

// --------------------- Fear & Greed -------------------------

func (s *HistoryStore) UpsertFearGreed(ctx context.Context, points []sentiment.RawPoint) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("history store 未初始化")
	}
	if len(points) == 0 {
		return nil
	}
	now := s.now().Unix()
	rows := make([]storemodel.FearGreedModel, 0, len(points))
	for _, p := range points {
		raw := p.Raw
		if len(raw) == 0 || !json.Valid(raw) {
			raw = []byte("{}")
		}
		rows = append(rows, storemodel.FearGreedModel{
			Day:            p.Time.UTC().Format(storemodel.DayLayout),
			TimestampUnix:  p.Time.Unix(),
			Value:          p.Value,
			Classification: p.Classification,
			Raw:            datatypes.JSON(raw),
			UpdatedAtUnix:  now,
		})
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).CreateInBatches(&rows, upsertBatch).Error; err != nil {
			return err
		}
		return markSynced(tx, syncFearGreed, len(rows), now)
	})
}

func (s *HistoryStore) LoadFearGreed(ctx context.Context) ([]sentiment.Point, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("history store 未初始化")
	}
	var rows []storemodel.FearGreedModel
	if err := s.db.WithContext(ctx).Order("ts ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]sentiment.Point, 0, len(rows))
	for _, r := range rows {
		out = append(out, sentiment.Point{
			Time:           time.Unix(r.TimestampUnix, 0).UTC(),
			Value:          r.Value,
			Classification: r.Classification,
		})
	}
	return out, nil
}

// LatestFearGreed 返回最新一条记录。
func (s *HistoryStore) LatestFearGreed(ctx context.Context) (sentiment.Point, bool, error) {
	if s == nil || s.db == nil {
		return sentiment.Point{}, false, fmt.Errorf("history store 未初始化")
	}
	var rows []storemodel.FearGreedModel
	if err := s.db.WithContext(ctx).Order("ts DESC").Limit(1).Find(&rows).Error; err != nil {
		return sentiment.Point{}, false, err
	}
	if len(rows) == 0 {
		return sentiment.Point{}, false, nil
	}
	r := rows[0]
	return sentiment.Point{
		Time:           time.Unix(r.TimestampUnix, 0).UTC(),
		Value:          r.Value,
		Classification: r.Classification,
	}, true, nil
}

// LastFearGreedSync 返回最近一次写入时间，从未同步时为零值。
func (s *HistoryStore) LastFearGreedSync(ctx context.Context) (time.Time, error) {
	return s.lastSync(ctx, syncFearGreed)
}

// LastPriceSync 返回某 symbol 最近一次写入时间。
func (s *HistoryStore) LastPriceSync(ctx context.Context, symbol string) (time.Time, error) {
	return s.lastSync(ctx, syncPrefix+pairs.Normalize(symbol))
}

func (s *HistoryStore) lastSync(ctx context.Context, name string) (time.Time, error) {
	if s == nil || s.db == nil {
		return time.Time{}, fmt.Errorf("history store 未初始化")
	}
	var rows []storemodel.SyncStateModel
	if err := s.db.WithContext(ctx).Where("name = ?", name).Limit(1).Find(&rows).Error; err != nil {
		return time.Time{}, err
	}
	if len(rows) == 0 || rows[0].SyncedAtUnix <= 0 {
		return time.Time{}, nil
	}
	return time.Unix(rows[0].SyncedAtUnix, 0), nil
}

func markSynced(tx *gorm.DB, name string, rows int, at int64) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"synced_at", "rows"}),
	}).Create(&storemodel.SyncStateModel{Name: name, SyncedAtUnix: at, Rows: rows}).Error
}
