package backtest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"btcbacktest/internal/decision"

	_ "modernc.org/sqlite"
)

// ErrRunNotFound 表示指定 id 的回测不存在。
var ErrRunNotFound = errors.New("backtest run not found")

// ErrStoreClosed 表示结果库已关闭。
var ErrStoreClosed = errors.New("result store closed")

// ResultStore 管理 backtest_runs/trades/snapshots 表。
type ResultStore struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

var _ Recorder = (*ResultStore)(nil)

func NewResultStore(root string) (*ResultStore, error) {
	if root == "" {
		return nil, fmt.Errorf("result store root 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(root, "runs.db")
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureResultSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &ResultStore{db: db, path: path}, nil
}

func (s *ResultStore) Path() string { return s.path }

func (s *ResultStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureResultSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS backtest_runs (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			profile TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			start_ts INTEGER NOT NULL,
			end_ts INTEGER NOT NULL,
			limited_data INTEGER NOT NULL DEFAULT 0,
			reached_end INTEGER NOT NULL DEFAULT 0,
			stopped_at INTEGER,
			initial_capital REAL NOT NULL,
			final_value REAL NOT NULL DEFAULT 0,
			total_return REAL NOT NULL DEFAULT 0,
			sharpe_ratio REAL NOT NULL DEFAULT 0,
			max_drawdown REAL NOT NULL DEFAULT 0,
			win_rate REAL NOT NULL DEFAULT 0,
			num_trades INTEGER NOT NULL DEFAULT 0,
			config_json TEXT NOT NULL,
			summary_json TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			completed_at INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS backtest_trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			action TEXT NOT NULL,
			strategy TEXT NOT NULL,
			price REAL NOT NULL,
			quantity REAL NOT NULL,
			notional REAL NOT NULL,
			reason TEXT,
			FOREIGN KEY(run_id) REFERENCES backtest_runs(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS backtest_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			total_value REAL NOT NULL,
			cash REAL NOT NULL,
			position REAL NOT NULL,
			price REAL NOT NULL,
			FOREIGN KEY(run_id) REFERENCES backtest_runs(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_run ON backtest_trades(run_id, ts);`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_run ON backtest_snapshots(run_id, ts);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveRun 在一个事务内写入 run、成交与资金曲线。
func (s *ResultStore) SaveRun(ctx context.Context, res *Result) error {
	if res == nil {
		return fmt.Errorf("result 不能为空")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ErrStoreClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := insertRun(ctx, tx, res); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	if err := insertTrades(ctx, tx, res.RunID, res.Trades); err != nil {
		return fmt.Errorf("insert trades: %w", err)
	}
	if err := insertSnapshots(ctx, tx, res.RunID, res.Values); err != nil {
		return fmt.Errorf("insert snapshots: %w", err)
	}
	return tx.Commit()
}

func insertRun(ctx context.Context, tx *sql.Tx, res *Result) error {
	cfgJSON, err := json.Marshal(res.Config)
	if err != nil {
		return err
	}
	summaryJSON, err := json.Marshal(res.Summary)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	var stopped interface{}
	if res.StoppedAt != nil {
		stopped = res.StoppedAt.UnixMilli()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO backtest_runs
			(id, symbol, profile, status, start_ts, end_ts, limited_data, reached_end, stopped_at,
			initial_capital, final_value, total_return, sharpe_ratio, max_drawdown, win_rate, num_trades,
			config_json, summary_json, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.RunID, res.Symbol, res.Profile, string(res.Status), res.Start.UnixMilli(), res.End.UnixMilli(),
		boolInt(res.LimitedData), boolInt(res.ReachedEnd), stopped,
		res.Config.InitialCapital, res.Summary.FinalValue, res.Summary.TotalReturn, res.Summary.SharpeRatio.Float(),
		res.Summary.MaxDrawdown, res.Summary.WinRate, len(res.Trades),
		string(cfgJSON), bytesOrNil(summaryJSON), now, now, nullableTime(res.FinishedAt))
	return err
}

func insertTrades(ctx context.Context, tx *sql.Tx, runID string, trades []decision.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO backtest_trades (run_id, ts, action, strategy, price, quantity, notional, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, t := range trades {
		if _, err := stmt.ExecContext(ctx, runID, t.Time.UnixMilli(), string(t.Action), string(t.Strategy),
			t.Price, t.Quantity, t.Notional, t.Reason); err != nil {
			return err
		}
	}
	return nil
}

func insertSnapshots(ctx context.Context, tx *sql.Tx, runID string, values []ValueSample) error {
	if len(values) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO backtest_snapshots (run_id, ts, total_value, cash, position, price)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, v := range values {
		if _, err := stmt.ExecContext(ctx, runID, v.Time.UnixMilli(), v.TotalValue, v.Cash, v.Position, v.Price); err != nil {
			return err
		}
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func bytesOrNil(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

const runColumns = `id, symbol, profile, status, start_ts, end_ts, limited_data, reached_end, stopped_at,
		initial_capital, final_value, total_return, sharpe_ratio, max_drawdown, win_rate, num_trades,
		config_json, summary_json, created_at`

func (s *ResultStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrStoreClosed
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM backtest_runs
		ORDER BY created_at DESC, id ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, run)
	}
	return list, rows.Err()
}

func (s *ResultStore) GetRun(ctx context.Context, id string) (RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return RunRecord{}, ErrStoreClosed
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM backtest_runs WHERE id=?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

func (s *ResultStore) ListTrades(ctx context.Context, runID string) ([]decision.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrStoreClosed
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, action, strategy, price, quantity, notional, reason
		FROM backtest_trades
		WHERE run_id=?
		ORDER BY ts ASC, id ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []decision.Trade
	for rows.Next() {
		var t decision.Trade
		var ts int64
		var action, strategy string
		var reason sql.NullString
		if err := rows.Scan(&ts, &action, &strategy, &t.Price, &t.Quantity, &t.Notional, &reason); err != nil {
			return nil, err
		}
		t.Time = timeFromMillis(ts)
		t.Action = decision.Action(action)
		t.Strategy = decision.Strategy(strategy)
		t.Reason = reason.String
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *ResultStore) ListSnapshots(ctx context.Context, runID string) ([]ValueSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrStoreClosed
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, total_value, cash, position, price
		FROM backtest_snapshots
		WHERE run_id=?
		ORDER BY ts ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ValueSample
	for rows.Next() {
		var v ValueSample
		var ts int64
		if err := rows.Scan(&ts, &v.TotalValue, &v.Cash, &v.Position, &v.Price); err != nil {
			return nil, err
		}
		v.Time = timeFromMillis(ts)
		out = append(out, v)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (RunRecord, error) {
	var run RunRecord
	var status, cfgStr string
	var summaryStr sql.NullString
	var startTS, endTS, createdAt int64
	var limited, reached int
	var stoppedAt sql.NullInt64
	if err := row.Scan(&run.ID, &run.Symbol, &run.Profile, &status, &startTS, &endTS, &limited, &reached, &stoppedAt,
		&run.InitialCapital, &run.FinalValue, &run.TotalReturn, &run.SharpeRatio, &run.MaxDrawdown, &run.WinRate,
		&run.NumTrades, &cfgStr, &summaryStr, &createdAt); err != nil {
		return RunRecord{}, err
	}
	run.Status = Status(status)
	run.Start = timeFromMillis(startTS)
	run.End = timeFromMillis(endTS)
	run.LimitedData = limited != 0
	run.ReachedEnd = reached != 0
	run.CreatedAt = timeFromMillis(createdAt)
	if stoppedAt.Valid {
		ts := timeFromMillis(stoppedAt.Int64)
		run.StoppedAt = &ts
	}
	if err := json.Unmarshal([]byte(cfgStr), &run.Config); err != nil {
		return RunRecord{}, err
	}
	if summaryStr.Valid && summaryStr.String != "" {
		if err := json.Unmarshal([]byte(summaryStr.String), &run.Summary); err != nil {
			return RunRecord{}, err
		}
	}
	return run, nil
}

func timeFromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
