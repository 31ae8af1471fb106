package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"btcbacktest/internal/analysis/visual"
	"btcbacktest/internal/app"
	"btcbacktest/internal/backtest"
	brcfg "btcbacktest/internal/config"
	"btcbacktest/internal/logger"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	// .env 只用于注入 Telegram 等密钥，不存在时忽略。
	_ = godotenv.Load()

	if err := newCLI().Run(os.Args); err != nil {
		log.Fatalf("运行失败: %v", err)
	}
}

func newCLI() *cli.App {
	return &cli.App{
		Name:  "btcbacktest",
		Usage: "BTC 规则策略回测",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "配置文件路径",
				EnvVars: []string{"BTCBT_CONFIG"},
				Value:   defaultConfigPath,
			},
		},
		Commands: []*cli.Command{
			runCommand(),
			serveCommand(),
			fetchCommand(),
			runsCommand(),
		},
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "在配置的价格序列上执行一次回测",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "start", Usage: "起始日期 YYYY-MM-DD，默认取配置"},
			&cli.StringFlag{Name: "end", Usage: "结束日期 YYYY-MM-DD，默认取配置"},
			&cli.IntFlag{Name: "retrain-every", Usage: "每 N 步重训预测模型；0 取配置，-1 只训练一次"},
			&cli.StringFlag{Name: "profile", Usage: "使用的策略 profile"},
			&cli.StringFlag{Name: "csv-out", Usage: "导出成交与资金曲线 CSV 的目录"},
			&cli.StringFlag{Name: "chart-out", Usage: "输出资金曲线 HTML 的路径"},
		},
		Action: func(c *cli.Context) error {
			start, err := brcfg.ParseDate(c.String("start"))
			if err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			end, err := brcfg.ParseDate(c.String("end"))
			if err != nil {
				return fmt.Errorf("--end: %w", err)
			}
			if c.Int("retrain-every") < backtest.TrainOnce {
				return fmt.Errorf("--retrain-every 只接受 -1、0 或正数")
			}
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, c)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Execute(ctx, backtest.RunRequest{
				Start:        start,
				End:          end,
				RetrainEvery: c.Int("retrain-every"),
				Profile:      c.String("profile"),
			})
			if err != nil {
				return err
			}
			app.PrintReport(os.Stdout, res)

			if dir := strings.TrimSpace(c.String("csv-out")); dir != "" {
				paths, err := backtest.ExportCSV(dir, res)
				if err != nil {
					return fmt.Errorf("导出 CSV 失败: %w", err)
				}
				logger.Infof("✓ CSV 已导出: %s", strings.Join(paths, ", "))
			}
			if path := strings.TrimSpace(c.String("chart-out")); path != "" {
				if err := writeChart(path, res); err != nil {
					return err
				}
				logger.Infof("✓ 图表已写入 %s", path)
			}
			return nil
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "启动回测 HTTP 服务",
		Action: func(c *cli.Context) error {
			ctx, cancel := context.WithCancel(c.Context)
			defer cancel()
			a, err := buildApp(ctx, c)
			if err != nil {
				return err
			}
			defer a.Close()

			group, ctx := errgroup.WithContext(ctx)
			group.Go(func() error {
				sigCh := make(chan os.Signal, 1)
				signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
				defer signal.Stop(sigCh)
				select {
				case sig := <-sigCh:
					logger.Infof("收到信号 %s，准备退出", sig)
					cancel()
				case <-ctx.Done():
				}
				return nil
			})
			group.Go(func() error {
				defer cancel()
				return a.Serve(ctx)
			})
			return group.Wait()
		},
	}
}

func fetchCommand() *cli.Command {
	return &cli.Command{
		Name:  "fetch",
		Usage: "从 Binance 拉取日线并同步 Fear & Greed 历史到本地缓存",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "start", Usage: "起始日期 YYYY-MM-DD", Required: true},
			&cli.StringFlag{Name: "end", Usage: "结束日期 YYYY-MM-DD，默认今天"},
			&cli.StringFlag{Name: "symbol", Usage: "交易对，默认取配置"},
			&cli.BoolFlag{Name: "skip-sentiment", Usage: "不同步 Fear & Greed"},
		},
		Action: func(c *cli.Context) error {
			start, err := brcfg.ParseDate(c.String("start"))
			if err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			end, err := brcfg.ParseDate(c.String("end"))
			if err != nil {
				return fmt.Errorf("--end: %w", err)
			}
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, c)
			if err != nil {
				return err
			}
			defer a.Close()
			report, err := a.Fetch(ctx, app.FetchRequest{
				Symbol:    c.String("symbol"),
				Start:     start,
				End:       end,
				Sentiment: !c.Bool("skip-sentiment"),
			})
			if err != nil {
				return err
			}
			fmt.Printf("%s: %d 条日线, %d 条 Fear & Greed\n", report.Symbol, report.Prices, report.FearGreedPoints)
			return nil
		},
	}
}

func runsCommand() *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "列出最近的回测",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Value: 20},
		},
		Action: func(c *cli.Context) error {
			a, err := buildApp(c.Context, c)
			if err != nil {
				return err
			}
			defer a.Close()
			runs, err := a.Results().ListRuns(c.Context, c.Int("limit"))
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("(无回测记录)")
				return nil
			}
			for _, r := range runs {
				fmt.Printf("%s  %s  %-16s %s ~ %s  return=%.2f%%  dd=%.2f%%  trades=%d\n",
					r.ID, r.Symbol, r.Status, r.Start.Format("2006-01-02"), r.End.Format("2006-01-02"),
					r.TotalReturn*100, r.MaxDrawdown*100, r.NumTrades)
			}
			return nil
		},
	}
}

func buildApp(ctx context.Context, c *cli.Context) (*app.App, error) {
	cfgPath := c.String("config")
	cfg, err := brcfg.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}
	logger.Infof("✓ 配置加载成功（%s）", cfgPath)
	return app.NewApp(ctx, cfg)
}

func writeChart(path string, res *backtest.Result) error {
	html, err := visual.RenderEquity(visual.EquityInputFromResult(res))
	if err != nil {
		return fmt.Errorf("渲染图表失败: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := os.WriteFile(path, html, 0o644); err != nil {
		return fmt.Errorf("写入图表失败: %w", err)
	}
	return nil
}
