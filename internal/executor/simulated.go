package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"astro-trader/internal/config"
)

// SimulatedBackend 在内存账本上确定性地撮合订单，用于测试与离线决策演练。
// 所有账本写入都在互斥锁内完成，避免并发下单破坏加权均价计算。
type SimulatedBackend struct {
	logger       *zap.Logger
	slippage     float64
	defaultPrice float64

	mu             sync.Mutex
	balance        float64
	initialBalance float64
	positions      map[string]*simPosition
	marks          map[string]float64
	history        []ExecutionResult
	tradeCount     int
}

type simPosition struct {
	size  float64
	entry float64
}

// Statistics 为模拟后端特有的交易统计。
type Statistics struct {
	InitialBalance float64 `json:"initial_balance"`
	CurrentBalance float64 `json:"current_balance"`
	TotalTrades    int     `json:"total_trades"`
	OpenPositions  int     `json:"open_positions"`
	PnLPercent     float64 `json:"pnl_percent"`
}

// NewSimulatedBackend 创建模拟后端。
func NewSimulatedBackend(cfg config.ExecutorConfig, logger *zap.Logger) *SimulatedBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	balance := cfg.InitialBalance
	if balance <= 0 {
		balance = 10000
	}
	defaultPrice := cfg.DefaultPrice
	if defaultPrice <= 0 {
		defaultPrice = 50000
	}
	return &SimulatedBackend{
		logger:         logger,
		slippage:       cfg.Slippage,
		defaultPrice:   defaultPrice,
		balance:        balance,
		initialBalance: balance,
		positions:      make(map[string]*simPosition),
		marks:          make(map[string]float64),
	}
}

// PlaceOrder 立即按参考价撮合订单。限价单不排队，直接以委托价按市价语义成交，
// 这是刻意保留的简化而非真实限价行为。
func (s *SimulatedBackend) PlaceOrder(ctx context.Context, req OrderRequest) ExecutionResult {
	orderID := uuid.NewString()
	ts := time.Now().UTC()

	if err := req.Validate(); err != nil {
		return rejectedResult(orderID, ts, err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	reference := req.Price
	if reference <= 0 {
		if mark, ok := s.marks[req.Asset]; ok && mark > 0 {
			reference = mark
		} else {
			reference = s.defaultPrice
		}
	}

	executionPrice := reference
	if req.Side == OrderSideBuy {
		executionPrice *= 1 + s.slippage
	} else {
		executionPrice *= 1 - s.slippage
	}

	cost := req.Size * executionPrice

	if req.Side == OrderSideBuy && cost > s.balance {
		return rejectedResult(orderID, ts,
			fmt.Sprintf("Insufficient balance. Need $%.2f, have $%.2f", cost, s.balance))
	}

	pos, ok := s.positions[req.Asset]
	if !ok {
		pos = &simPosition{}
		s.positions[req.Asset] = pos
	}

	if req.Side == OrderSideBuy {
		total := pos.size + req.Size
		if total > 0 {
			pos.entry = (pos.size*pos.entry + req.Size*executionPrice) / total
		} else {
			// 买入后仓位仍未转正（补回空头），均价基准重置为本次成交价。
			pos.entry = executionPrice
		}
		pos.size = total
		s.balance -= cost
	} else {
		if pos.size > 0 {
			realized := (executionPrice - pos.entry) * req.Size
			s.logger.Debug("模拟卖出已实现盈亏",
				zap.String("asset", req.Asset),
				zap.Float64("realized_pnl", realized),
			)
		}
		pos.size -= req.Size
		s.balance += cost
	}

	s.marks[req.Asset] = reference
	s.tradeCount++

	result := ExecutionResult{
		Success:      true,
		OrderID:      orderID,
		FilledSize:   req.Size,
		AveragePrice: executionPrice,
		Status:       StatusFilled,
		Timestamp:    ts,
	}
	s.history = append(s.history, result)

	s.logger.Info("模拟订单成交",
		zap.String("asset", req.Asset),
		zap.String("side", string(req.Side)),
		zap.Float64("size", req.Size),
		zap.Float64("price", executionPrice),
		zap.Float64("balance", s.balance),
	)

	return result
}

// GetPosition 返回资产当前仓位，未交易过的资产返回零仓位。
func (s *SimulatedBackend) GetPosition(ctx context.Context, asset string) (Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positionLocked(asset), nil
}

func (s *SimulatedBackend) positionLocked(asset string) Position {
	pos, ok := s.positions[asset]
	if !ok {
		return EmptyPosition(asset)
	}

	mark, markOK := s.marks[asset]
	if !markOK || mark <= 0 {
		mark = s.defaultPrice
	}

	var unrealized float64
	if pos.size != 0 {
		unrealized = (mark - pos.entry) * pos.size
	}

	return Position{
		Asset:         asset,
		Size:          pos.size,
		EntryPrice:    pos.entry,
		UnrealizedPnL: unrealized,
		Leverage:      1.0,
	}
}

// GetAccountValue 在每次查询时重新汇总，现货模拟下 MarginUsed 恒为 0。
func (s *SimulatedBackend) GetAccountValue(ctx context.Context) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var totalUnrealized float64
	for asset := range s.positions {
		totalUnrealized += s.positionLocked(asset).UnrealizedPnL
	}

	accountValue := s.balance + totalUnrealized

	return Account{
		AccountValue:       accountValue,
		MarginUsed:         0,
		AvailableMargin:    accountValue,
		TotalUnrealizedPnL: totalUnrealized,
		BuyingPower:        s.balance,
	}, nil
}

// CancelOrder 模拟后端没有挂单，撤单恒定失败。
func (s *SimulatedBackend) CancelOrder(ctx context.Context, req CancelRequest) CancelResult {
	return CancelResult{
		Success: false,
		OrderID: req.OrderID,
		Error:   "order cancellation not supported by the simulated backend",
	}
}

// GetOrderStatus 按订单号检索成交历史，未知订单返回 not_found。
func (s *SimulatedBackend) GetOrderStatus(ctx context.Context, orderID string) OrderStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, order := range s.history {
		if order.OrderID == orderID {
			return OrderStatus{
				OrderID:      orderID,
				Status:       order.Status,
				FilledSize:   order.FilledSize,
				AveragePrice: order.AveragePrice,
			}
		}
	}

	return OrderStatus{
		OrderID: orderID,
		Status:  StatusNotFound,
	}
}

// SetMarkPrice 更新估值参考价，供外部行情回灌。
func (s *SimulatedBackend) SetMarkPrice(asset string, price float64) {
	if price <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marks[asset] = price
}

// Statistics 返回账本统计。
func (s *SimulatedBackend) Statistics() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()

	open := 0
	var totalUnrealized float64
	for asset, pos := range s.positions {
		if pos.size != 0 {
			open++
		}
		totalUnrealized += s.positionLocked(asset).UnrealizedPnL
	}

	accountValue := s.balance + totalUnrealized

	return Statistics{
		InitialBalance: s.initialBalance,
		CurrentBalance: s.balance,
		TotalTrades:    s.tradeCount,
		OpenPositions:  open,
		PnLPercent:     (accountValue - s.initialBalance) / s.initialBalance * 100,
	}
}

var _ Backend = (*SimulatedBackend)(nil)
