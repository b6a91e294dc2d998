package executor

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// OrderSide 表示下单方向。
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType 表示委托类型。
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// 订单在其生命周期内可能出现的状态。
const (
	StatusFilled           = "filled"
	StatusOpen             = "open"
	StatusRejected         = "rejected"
	StatusError            = "error"
	StatusCanceled         = "canceled"
	StatusNotFound         = "not_found"
	StatusFilledOrCanceled = "filled_or_canceled"
)

// OrderRequest 描述一次下单指令。市价单的 Price 仅作为模拟撮合的参考价。
type OrderRequest struct {
	Asset      string    `json:"asset"`
	Side       OrderSide `json:"side"`
	Size       float64   `json:"size"`
	Type       OrderType `json:"type"`
	Price      float64   `json:"price,omitempty"`
	ReduceOnly bool      `json:"reduce_only,omitempty"`
}

// Validate 在提交前校验请求参数。
func (r OrderRequest) Validate() error {
	if strings.TrimSpace(r.Asset) == "" {
		return errors.New("asset is required")
	}
	if r.Side != OrderSideBuy && r.Side != OrderSideSell {
		return fmt.Errorf("invalid side %q", r.Side)
	}
	if r.Size <= 0 {
		return fmt.Errorf("size must be positive, got %v", r.Size)
	}
	switch r.Type {
	case OrderTypeMarket:
	case OrderTypeLimit:
		if r.Price <= 0 {
			return errors.New("limit price required for limit orders")
		}
	default:
		return fmt.Errorf("invalid order type %q", r.Type)
	}
	return nil
}

// ExecutionResult 为一次下单的统一返回值。
// 约束：Success 为真时 Error 必为空；Status 为 rejected/error 时 Success 必为假。
type ExecutionResult struct {
	Success      bool      `json:"success"`
	OrderID      string    `json:"order_id"`
	FilledSize   float64   `json:"filled_size"`
	AveragePrice float64   `json:"average_price"`
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
	Error        string    `json:"error,omitempty"`
}

// Position 描述单一资产的持仓。Size 为有符号数，正为多头，负为空头。
// Size 为零时 EntryPrice 无意义。
type Position struct {
	Asset            string  `json:"asset"`
	Size             float64 `json:"size"`
	EntryPrice       float64 `json:"entry_price"`
	UnrealizedPnL    float64 `json:"unrealized_pnl"`
	LiquidationPrice float64 `json:"liquidation_price,omitempty"`
	Leverage         float64 `json:"leverage"`
}

// EmptyPosition 返回指定资产的零仓位，未交易过的资产查询时返回它而非错误。
func EmptyPosition(asset string) Position {
	return Position{
		Asset:    asset,
		Leverage: 1.0,
	}
}

// Account 描述账户估值。
// 对保证金后端 AccountValue = AvailableMargin + MarginUsed；
// 对现货模拟后端 AccountValue = 现金余额 + 未实现盈亏，MarginUsed 恒为 0。
type Account struct {
	AccountValue       float64 `json:"account_value"`
	MarginUsed         float64 `json:"margin_used"`
	AvailableMargin    float64 `json:"available_margin"`
	TotalUnrealizedPnL float64 `json:"total_unrealized_pnl"`
	BuyingPower        float64 `json:"buying_power"`
}

// OrderStatus 为订单状态查询结果。未知订单返回 not_found 而非错误。
type OrderStatus struct {
	OrderID       string  `json:"order_id"`
	Status        string  `json:"status"`
	FilledSize    float64 `json:"filled_size"`
	RemainingSize float64 `json:"remaining_size"`
	AveragePrice  float64 `json:"average_price"`
	Error         string  `json:"error,omitempty"`
}

// CancelRequest 描述一次撤单。Asset 仅在实盘后端必填（交易所接口约束），
// 用单一请求类型吸收该差异以保持契约统一。
type CancelRequest struct {
	OrderID string `json:"order_id"`
	Asset   string `json:"asset,omitempty"`
}

// CancelResult 为撤单结果。
type CancelResult struct {
	Success bool   `json:"success"`
	OrderID string `json:"order_id"`
	Error   string `json:"error,omitempty"`
}

func rejectedResult(orderID string, ts time.Time, reason string) ExecutionResult {
	return ExecutionResult{
		Success:   false,
		OrderID:   orderID,
		Status:    StatusRejected,
		Timestamp: ts,
		Error:     reason,
	}
}

func errorResult(ts time.Time, err error) ExecutionResult {
	return ExecutionResult{
		Success:   false,
		Status:    StatusError,
		Timestamp: ts,
		Error:     err.Error(),
	}
}
