package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"btcbacktest/internal/analysis/indicator"
	"btcbacktest/internal/decision"
	"btcbacktest/internal/events"
	"btcbacktest/internal/logger"
	"btcbacktest/internal/market"
	"btcbacktest/internal/metrics"
	"btcbacktest/internal/oracle"
	"btcbacktest/internal/pkg/symbol"
	"btcbacktest/internal/sentiment"

	"github.com/google/uuid"
)

var ErrEmptyRange = errors.New("backtest range contains no data")

var log = logger.Component("backtest")

// IndicatorFeed 只能看到 view 截止时刻及之前的行。
type IndicatorFeed interface {
	Snapshot(view market.View) (indicator.Snapshot, error)
}

// SentimentFeed 给出 t 时刻的情绪快照。
type SentimentFeed interface {
	Snapshot(t time.Time, tech indicator.Snapshot) sentiment.Snapshot
}

// Recorder 持久化回测结果。
type Recorder interface {
	SaveRun(ctx context.Context, res *Result) error
}

type EngineConfig struct {
	Strategy   decision.Config
	Indicators IndicatorFeed
	Sentiment  SentimentFeed
	Oracle     oracle.Trainer
	Sink       events.Sink
	Recorder   Recorder
	Symbol     string
	// Horizon 仅用于兜底预测的记录。
	Horizon        int
	RiskFreeRate   float64
	PeriodsPerYear int
}

// Engine 按时间顺序逐日推演，每一步只使用截止当日的数据。
type Engine struct {
	cfg        EngineConfig
	indicators IndicatorFeed
	sentiment  SentimentFeed
	trainer    oracle.Trainer
	sink       events.Sink
	recorder   Recorder
	newID      func() string
	now        func() time.Time
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if err := cfg.Strategy.Validate(); err != nil {
		return nil, err
	}
	if cfg.Indicators == nil {
		return nil, fmt.Errorf("indicator feed 不能为空")
	}
	if cfg.Sentiment == nil {
		return nil, fmt.Errorf("sentiment feed 不能为空")
	}
	if cfg.Oracle == nil {
		return nil, fmt.Errorf("oracle 不能为空")
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = 7
	}
	if cfg.PeriodsPerYear <= 0 {
		cfg.PeriodsPerYear = metrics.DefaultPeriodsPerYear
	}
	cfg.Symbol = symbol.Normalize(cfg.Symbol)
	return &Engine{
		cfg:        cfg,
		indicators: cfg.Indicators,
		sentiment:  cfg.Sentiment,
		trainer:    cfg.Oracle,
		sink:       events.OrNop(cfg.Sink),
		recorder:   cfg.Recorder,
		newID:      uuid.NewString,
		now:        time.Now,
	}, nil
}

// Run 执行一次回测。熔断提前终止不是错误；ctx 取消时返回 ctx.Err()。
func (e *Engine) Run(ctx context.Context, req RunRequest) (*Result, error) {
	series := req.Series
	if err := series.Validate(); err != nil {
		return nil, err
	}
	first, _ := series.First()
	last, _ := series.Last()

	res := &Result{
		RunID:          e.newID(),
		Symbol:         e.cfg.Symbol,
		Profile:        req.Profile,
		Status:         StatusCompleted,
		RequestedStart: req.Start,
		RequestedEnd:   req.End,
		Config:         e.cfg.Strategy,
		StartedAt:      e.now(),
	}
	start, end := req.Start, req.End
	if start.IsZero() {
		start = first.Time
	}
	if end.IsZero() {
		end = last.Time
	}
	if start.Before(first.Time) {
		log.Warnf("requested start %s precedes data (%s), clamping", start.Format(time.DateOnly), first.Time.Format(time.DateOnly))
		start = first.Time
		res.LimitedData = true
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end %s before start %s", ErrEmptyRange, end.Format(time.DateOnly), start.Format(time.DateOnly))
	}
	window := series.Slice(start, end)
	if window.Len() == 0 {
		return nil, fmt.Errorf("%w: %s ~ %s", ErrEmptyRange, start.Format(time.DateOnly), end.Format(time.DateOnly))
	}
	winFirst, _ := window.First()
	winLast, _ := window.Last()
	res.Start, res.End = winFirst.Time, winLast.Time

	// 初始训练失败不终止回测：predictor 为 nil 期间每步使用兜底预测，直到某次重训成功。
	predictor, err := e.trainer.Train(ctx, series.Until(winFirst.Time))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		res.InitialTrainingFailed = true
		log.Warnf("initial oracle training failed, continuing with fallback predictions: %v", err)
		predictor = nil
	}

	dec, err := decision.NewEngine(e.cfg.Strategy, decision.WithSink(e.sink), decision.WithRunID(res.RunID))
	if err != nil {
		return nil, err
	}
	log.Infof("run %s: %s ~ %s (%d steps, retrain_every=%d)", res.RunID, res.Start.Format(time.DateOnly), res.End.Format(time.DateOnly), window.Len(), req.RetrainEvery)

	for i, t := range window.Times() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res.Steps++

		if req.RetrainEvery > 0 && i > 0 && i%req.RetrainEvery == 0 {
			res.Retrains++
			next, err := e.retrain(ctx, predictor, series.Until(t))
			if err != nil {
				res.RetrainFailures++
				log.Warnf("retrain at %s failed, keeping previous model: %v", t.Format(time.DateOnly), err)
			} else {
				if predictor == nil {
					log.Infof("oracle trained at %s, leaving fallback predictions", t.Format(time.DateOnly))
				}
				predictor = next
			}
		}

		pt, ok := series.At(t)
		if !ok {
			res.SkippedSteps++
			log.Warnf("no price at %s, skipping", t.Format(time.DateOnly))
			continue
		}
		view := series.Until(t)

		tech, err := e.indicators.Snapshot(view)
		if err != nil {
			res.SkippedSteps++
			if errors.Is(err, indicator.ErrInsufficientHistory) {
				log.Debugf("insufficient history at %s (%d rows), skipping", t.Format(time.DateOnly), view.Len())
			} else {
				log.Warnf("indicators at %s failed, skipping: %v", t.Format(time.DateOnly), err)
			}
			continue
		}

		sent := e.sentiment.Snapshot(t, tech)

		pred, err := e.predict(ctx, predictor, view)
		if err != nil {
			res.PredictionFallbacks++
			log.Debugf("prediction at %s failed, using fallback: %v", t.Format(time.DateOnly), err)
			pred = oracle.Fallback(t, pt.Price, e.cfg.Horizon)
		}
		pred.Confidence = sentiment.AdjustConfidence(pred.Confidence, sent.Score)

		obs := decision.Observation{
			Time:       t,
			Price:      pt.Price,
			Technical:  tech,
			Sentiment:  sent,
			Prediction: pred,
		}
		d := dec.Decide(obs)

		if d.Action == decision.ActionPause {
			if _, err := dec.Execute(ctx, d, pt.Price, t); err != nil {
				log.Warnf("circuit breaker event at %s: %v", t.Format(time.DateOnly), err)
			}
			log.Warnf("%s, stopping at %s", d.Reason, t.Format(time.DateOnly))
			stopped := t
			res.Status = StatusCircuitBreaker
			res.StoppedAt = &stopped
			break
		}
		if d.Action == decision.ActionBuy || d.Action == decision.ActionSell {
			if _, err := dec.Execute(ctx, d, pt.Price, t); err != nil {
				log.Warnf("execute %s %s at %s rejected: %v", d.Strategy, d.Action, t.Format(time.DateOnly), err)
			}
		}

		snap := dec.Snapshot()
		res.Values = append(res.Values, ValueSample{
			Time:       t,
			TotalValue: snap.Value(pt.Price),
			Cash:       snap.Cash,
			Position:   snap.Position,
			Price:      pt.Price,
		})
		res.Predictions = append(res.Predictions, PredictionRecord{
			Time:           t,
			CurrentPrice:   pred.CurrentPrice,
			PredictedPrice: pred.PredictedPrice,
			Direction:      string(pred.Direction),
			Confidence:     pred.Confidence,
			HorizonDays:    pred.HorizonDays,
			Fallback:       pred.Fallback,
		})
		res.Signals = append(res.Signals, SignalRecord{
			Time:       t,
			Price:      pt.Price,
			RSI:        tech.RSI,
			MACDDiff:   tech.MACDDiff,
			ATR:        tech.ATR,
			FearGreed:  sent.Score,
			Sentiment:  sent.Classification,
			Action:     string(d.Action),
			Strategy:   string(d.Strategy),
			Confidence: pred.Confidence,
		})
	}

	res.ReachedEnd = res.Status == StatusCompleted
	res.Portfolio = dec.Snapshot()
	res.Trades = dec.Trades()
	res.Summary = metrics.Compute(metrics.Input{
		InitialCapital: e.cfg.Strategy.InitialCapital,
		Values:         res.ValueSeries(),
		Trades:         res.Trades,
		Series:         window,
		Signals:        res.Signals,
		Predictions:    res.Predictions,
		RiskFreeRate:   e.cfg.RiskFreeRate,
		PeriodsPerYear: e.cfg.PeriodsPerYear,
		RSIOversold:    e.cfg.Strategy.RSIOversold,
	})
	res.FinishedAt = e.now()

	if e.recorder != nil {
		if err := e.recorder.SaveRun(ctx, res); err != nil {
			log.Errorf("persist run %s failed: %v", res.RunID, err)
		}
	}
	e.sink.Emit(ctx, events.Event{
		Kind:           events.KindRunCompleted,
		Time:           res.End,
		RunID:          res.RunID,
		PortfolioValue: res.Summary.FinalValue,
		Reason:         string(res.Status),
		Summary:        res.Summary.Headline(),
	})
	log.Infof("run %s %s: steps=%d skipped=%d trades=%d %s",
		res.RunID, res.Status, res.Steps, res.SkippedSteps, len(res.Trades), events.FormatSummary(res.Summary.Headline()))
	return res, nil
}

var errNoModel = errors.New("oracle not trained")

// retrain 在尚无模型时走完整训练，否则在现有模型上重训。
func (e *Engine) retrain(ctx context.Context, current oracle.Predictor, view market.View) (oracle.Predictor, error) {
	if current == nil {
		return e.trainer.Train(ctx, view)
	}
	return current.Retrain(ctx, view)
}

func (e *Engine) predict(ctx context.Context, current oracle.Predictor, view market.View) (oracle.Prediction, error) {
	if current == nil {
		return oracle.Prediction{}, errNoModel
	}
	return current.Predict(ctx, view)
}
