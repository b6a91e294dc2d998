package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"astro-trader/internal/config"
	"astro-trader/internal/exchange"
	"astro-trader/internal/executor"
	"astro-trader/internal/monitor"
	"astro-trader/internal/store"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 构建执行后端与监控服务，启动指令接口并周期性落盘账户快照。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("执行系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("backend", a.cfg.Executor.Backend),
		zap.Strings("assets", a.cfg.Executor.Assets),
	)

	backend, err := executor.New(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("初始化执行后端失败: %w", err)
	}

	monitorSvc, err := monitor.NewService(a.store, a.logger)
	if err != nil {
		return fmt.Errorf("初始化监控服务失败: %w", err)
	}

	priceSvc := a.newPriceService()

	if err := startTradeServer(ctx, backend, monitorSvc, a.cfg.Server.Port, a.logger); err != nil {
		return fmt.Errorf("启动指令接口失败: %w", err)
	}

	interval := a.cfg.Reporting.SnapshotInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	a.snapshot(ctx, backend, priceSvc, monitorSvc)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("系统异常退出: %w", err)
			}
			a.logger.Info("系统收到退出信号，正在停止")
			return nil
		case <-ticker.C:
			a.snapshot(ctx, backend, priceSvc, monitorSvc)
		}
	}
}

// newPriceService 在模拟后端配置了交易所凭据时构建行情服务，
// 用真实价格回灌模拟账本的估值基准。失败只降级，不阻止启动。
func (a *App) newPriceService() *exchange.PriceService {
	if a.cfg.Venue.Wallet == "" || a.cfg.Venue.PrivateKey == "" {
		return nil
	}

	client, err := exchange.NewHyperliquidClient(a.cfg.Venue)
	if err != nil {
		a.logger.Warn("行情客户端初始化失败，模拟估值将使用成交参考价", zap.Error(err))
		return nil
	}

	return exchange.NewPriceService(client, a.cfg.Venue.Retry, a.logger)
}

func (a *App) snapshot(ctx context.Context, backend executor.Backend, priceSvc *exchange.PriceService, monitorSvc *monitor.Service) {
	sim, isSim := backend.(*executor.SimulatedBackend)
	quote := a.cfg.Venue.QuoteCoin
	if quote == "" {
		quote = "USDC"
	}

	if isSim && priceSvc != nil {
		for _, asset := range a.cfg.Executor.Assets {
			symbol := fmt.Sprintf("%s/%s:%s", asset, quote, quote)
			price, err := priceSvc.LastPrice(ctx, symbol)
			if err != nil {
				a.logger.Warn("刷新估值价格失败", zap.String("asset", asset), zap.Error(err))
				continue
			}
			sim.SetMarkPrice(asset, price)
		}
	}

	account, err := backend.GetAccountValue(ctx)
	if err != nil {
		monitorSvc.RecordError(ctx, "获取账户估值失败", err, nil)
		return
	}

	positions := make([]executor.Position, 0, len(a.cfg.Executor.Assets))
	for _, asset := range a.cfg.Executor.Assets {
		pos, err := backend.GetPosition(ctx, asset)
		if err != nil {
			monitorSvc.RecordError(ctx, "获取持仓失败", err, map[string]interface{}{"asset": asset})
			continue
		}
		positions = append(positions, pos)
	}

	monitorSvc.RecordAccount(ctx, account, positions)

	a.logger.Debug("账户快照已落盘",
		zap.Float64("account_value", account.AccountValue),
		zap.Float64("unrealized_pnl", account.TotalUnrealizedPnL),
		zap.Int("positions", len(positions)),
	)
}
