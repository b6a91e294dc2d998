package executor

import (
	"context"
	"math"
	"time"
)

// Backend 是所有交易后端须实现的统一契约。调用方只持有该接口，
// 不感知背后是本地模拟账本还是远端交易所。
//
// 约定：
//   - PlaceOrder 对非法请求返回 rejected 结果且不产生任何状态变更；
//   - GetPosition 对未交易过的资产返回零仓位而非错误；
//   - 所有可恢复的失败都编码在返回值里，方法不抛出业务异常。
type Backend interface {
	PlaceOrder(ctx context.Context, req OrderRequest) ExecutionResult
	GetPosition(ctx context.Context, asset string) (Position, error)
	GetAccountValue(ctx context.Context) (Account, error)
	CancelOrder(ctx context.Context, req CancelRequest) CancelResult
	GetOrderStatus(ctx context.Context, orderID string) OrderStatus
}

// ClosePosition 读取当前仓位并以 reduce-only 市价单反向平掉全部数量。
// 仓位为零时返回失败结果，不会发出任何订单。
func ClosePosition(ctx context.Context, backend Backend, asset string) ExecutionResult {
	pos, err := backend.GetPosition(ctx, asset)
	if err != nil {
		return errorResult(time.Now().UTC(), err)
	}

	if pos.Size == 0 {
		return ExecutionResult{
			Success:   false,
			Status:    StatusRejected,
			Timestamp: time.Now().UTC(),
			Error:     "No position to close",
		}
	}

	side := OrderSideSell
	if pos.Size < 0 {
		side = OrderSideBuy
	}

	return backend.PlaceOrder(ctx, OrderRequest{
		Asset:      asset,
		Side:       side,
		Size:       math.Abs(pos.Size),
		Type:       OrderTypeMarket,
		ReduceOnly: true,
	})
}
