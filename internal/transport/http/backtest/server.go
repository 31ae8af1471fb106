package backtesthttp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"btcbacktest/internal/analysis/visual"
	"btcbacktest/internal/backtest"
	"btcbacktest/internal/config"
	"btcbacktest/internal/decision"
	"btcbacktest/internal/logger"
	"btcbacktest/internal/profile"

	"github.com/gin-gonic/gin"
)

var log = logger.Component("http")

// Runner 在已配置的价格序列上执行回测。
type Runner interface {
	Execute(ctx context.Context, req backtest.RunRequest) (*backtest.Result, error)
}

// ResultReader 读取已持久化的回测。
type ResultReader interface {
	ListRuns(ctx context.Context, limit int) ([]backtest.RunRecord, error)
	GetRun(ctx context.Context, id string) (backtest.RunRecord, error)
	ListTrades(ctx context.Context, runID string) ([]decision.Trade, error)
	ListSnapshots(ctx context.Context, runID string) ([]backtest.ValueSample, error)
}

// Server 提供回测相关的 HTTP API。
type Server struct {
	addr    string
	runner  Runner
	results ResultReader
	router  *gin.Engine

	// 同一时间只跑一个回测。
	runMu sync.Mutex
}

// Config 描述回测 HTTP Server 的依赖。
type Config struct {
	Addr    string
	Runner  Runner
	Results ResultReader
}

// NewServer 构建回测 HTTP Server。
func NewServer(cfg Config) (*Server, error) {
	if cfg.Results == nil {
		return nil, errors.New("result store 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9992"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	s := &Server{
		addr:    cfg.Addr,
		runner:  cfg.Runner,
		results: cfg.Results,
		router:  router,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	api := s.router.Group("/api/backtest")
	api.POST("/runs", s.handleRunStart)
	api.GET("/runs", s.handleRunList)
	api.GET("/runs/:id", s.handleRunDetail)
	api.GET("/runs/:id/trades", s.handleRunTrades)
	api.GET("/runs/:id/snapshots", s.handleRunSnapshots)
	api.GET("/runs/:id/chart", s.handleRunChart)
}

// Handler 暴露路由，便于测试。
func (s *Server) Handler() http.Handler { return s.router }

type runRequest struct {
	Start        string `json:"start"`
	End          string `json:"end"`
	RetrainEvery int    `json:"retrain_every"`
	Profile      string `json:"profile"`
}

func (s *Server) handleRunStart(c *gin.Context) {
	if s.runner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "回测执行器未启用"})
		return
	}
	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	start, err := config.ParseDate(req.Start)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("start 非法: %v", err)})
		return
	}
	end, err := config.ParseDate(req.End)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("end 非法: %v", err)})
		return
	}
	if req.RetrainEvery < backtest.TrainOnce {
		c.JSON(http.StatusBadRequest, gin.H{"error": "retrain_every 只接受 -1（只训练一次）、0（取配置）或正数"})
		return
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()
	res, err := s.runner.Execute(c.Request.Context(), backtest.RunRequest{
		Start:        start,
		End:          end,
		RetrainEvery: req.RetrainEvery,
		Profile:      req.Profile,
	})
	if err != nil {
		c.JSON(runErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": res})
}

func runErrorStatus(err error) int {
	switch {
	case errors.Is(err, profile.ErrUnknownProfile),
		errors.Is(err, decision.ErrInvalidConfig),
		errors.Is(err, backtest.ErrEmptyRange):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleRunList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := s.results.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(lookupStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleRunDetail(c *gin.Context) {
	run, err := s.results.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(lookupStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

func (s *Server) handleRunTrades(c *gin.Context) {
	if _, err := s.results.GetRun(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(lookupStatus(err), gin.H{"error": err.Error()})
		return
	}
	trades, err := s.results.ListTrades(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(lookupStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) handleRunSnapshots(c *gin.Context) {
	if _, err := s.results.GetRun(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(lookupStatus(err), gin.H{"error": err.Error()})
		return
	}
	snaps, err := s.results.ListSnapshots(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(lookupStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snaps})
}

func (s *Server) handleRunChart(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	run, err := s.results.GetRun(ctx, id)
	if err != nil {
		c.JSON(lookupStatus(err), gin.H{"error": err.Error()})
		return
	}
	trades, err := s.results.ListTrades(ctx, id)
	if err != nil {
		c.JSON(lookupStatus(err), gin.H{"error": err.Error()})
		return
	}
	snaps, err := s.results.ListSnapshots(ctx, id)
	if err != nil {
		c.JSON(lookupStatus(err), gin.H{"error": err.Error()})
		return
	}
	res := &backtest.Result{
		RunID:  run.ID,
		Symbol: run.Symbol,
		Status: run.Status,
		Start:  run.Start,
		End:    run.End,
		Trades: trades,
		Values: snaps,
	}
	res.Summary.TotalReturn = run.TotalReturn
	res.Summary.MaxDrawdown = run.MaxDrawdown
	html, err := visual.RenderEquity(visual.EquityInputFromResult(res))
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", html)
}

func lookupStatus(err error) int {
	switch {
	case errors.Is(err, backtest.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, backtest.ErrStoreClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debugf("%s %s status=%d ip=%s dur=%s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), c.ClientIP(), time.Since(start))
	}
}

// Addr 返回监听地址。
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Start 启动 HTTP 服务，阻塞直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
