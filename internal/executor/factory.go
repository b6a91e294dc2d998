package executor

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"astro-trader/internal/config"
	"astro-trader/internal/exchange"
)

// New 根据配置构建执行后端。调用方只应持有 Backend 接口。
func New(cfg *config.Config, logger *zap.Logger) (Backend, error) {
	switch strings.ToLower(cfg.Executor.Backend) {
	case config.BackendSimulated:
		return NewSimulatedBackend(cfg.Executor, logger), nil
	case config.BackendHyperliquid:
		client, err := exchange.NewHyperliquidClient(cfg.Venue)
		if err != nil {
			return nil, fmt.Errorf("executor: 初始化交易客户端失败: %w", err)
		}
		return NewHyperliquidBackend(client, cfg.Venue, cfg.Executor.Slippage, logger)
	default:
		return nil, fmt.Errorf("executor: 未知的执行后端 %q", cfg.Executor.Backend)
	}
}
