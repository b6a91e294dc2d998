package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"astro-trader/internal/config"
	"astro-trader/internal/exchange"
)

// venueClient 覆盖实盘后端用到的交易所能力，便于测试注入假客户端。
type venueClient interface {
	CreateMarketOrder(symbol string, side string, amount float64, options ...ccxt.CreateMarketOrderOptions) (ccxt.Order, error)
	CreateLimitOrder(symbol string, side string, amount float64, price float64, options ...ccxt.CreateLimitOrderOptions) (ccxt.Order, error)
	CancelOrder(id string, options ...ccxt.CancelOrderOptions) (ccxt.Order, error)
	FetchBalance(params ...interface{}) (ccxt.Balances, error)
	FetchPositions(options ...ccxt.FetchPositionsOptions) ([]ccxt.Position, error)
	FetchOpenOrders(options ...ccxt.FetchOpenOrdersOptions) ([]ccxt.Order, error)
	FetchTicker(symbol string, options ...ccxt.FetchTickerOptions) (ccxt.Ticker, error)
}

// HyperliquidBackend 将统一契约翻译为 Hyperliquid 的远端调用。
// PlaceOrder 对任何网络或解析故障都返回 status=error 的结果，绝不向上抛出。
type HyperliquidBackend struct {
	client   venueClient
	quote    string
	slippage float64
	logger   *zap.Logger
}

// NewHyperliquidBackend 基于已完成凭据校验的交易客户端创建实盘后端。
func NewHyperliquidBackend(client venueClient, cfg config.VenueConfig, slippage float64, logger *zap.Logger) (*HyperliquidBackend, error) {
	if client == nil {
		return nil, errors.New("executor: hyperliquid 客户端不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	quote := strings.ToUpper(strings.TrimSpace(cfg.QuoteCoin))
	if quote == "" {
		quote = "USDC"
	}
	return &HyperliquidBackend{
		client:   client,
		quote:    quote,
		slippage: slippage,
		logger:   logger,
	}, nil
}

func (h *HyperliquidBackend) marketSymbol(asset string) string {
	return fmt.Sprintf("%s/%s:%s", strings.ToUpper(strings.TrimSpace(asset)), h.quote, h.quote)
}

// PlaceOrder 提交市价或限价单并归一化交易所响应。
func (h *HyperliquidBackend) PlaceOrder(ctx context.Context, req OrderRequest) (result ExecutionResult) {
	ts := time.Now().UTC()

	if err := req.Validate(); err != nil {
		return rejectedResult("", ts, err.Error())
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errorResult(ts, ctxErr)
	}

	// ccxt 层偶发 panic，也要折算成 error 结果而不是让调用方崩溃。
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("下单过程发生 panic", zap.Any("panic", r))
			result = errorResult(ts, fmt.Errorf("order submission panic: %v", r))
		}
	}()

	symbol := h.marketSymbol(req.Asset)
	params := map[string]interface{}{
		"reduceOnly": req.ReduceOnly,
	}

	var (
		order ccxt.Order
		err   error
	)

	switch req.Type {
	case OrderTypeMarket:
		if h.slippage > 0 {
			params["slippage"] = fmt.Sprintf("%.6f", h.slippage)
		}
		order, err = h.client.CreateMarketOrder(symbol, string(req.Side), req.Size,
			ccxt.WithCreateMarketOrderParams(params))
	case OrderTypeLimit:
		order, err = h.client.CreateLimitOrder(symbol, string(req.Side), req.Size, req.Price,
			ccxt.WithCreateLimitOrderParams(params))
	default:
		return rejectedResult("", ts, fmt.Sprintf("invalid order type %q", req.Type))
	}

	if err != nil {
		// 交易所明确拒单与网络类故障分开归类。
		var ccxtErr *ccxt.Error
		if errors.As(err, &ccxtErr) && !exchange.IsRetryable(err) {
			message := strings.TrimSpace(ccxtErr.Message)
			if message == "" {
				message = "Unknown error"
			}
			return rejectedResult("", ts, message)
		}
		return errorResult(ts, err)
	}

	res := h.parseOrderResponse(order, req, ts)
	h.logger.Info("实盘订单已提交",
		zap.String("asset", req.Asset),
		zap.String("side", string(req.Side)),
		zap.Float64("size", req.Size),
		zap.String("status", res.Status),
		zap.String("order_id", res.OrderID),
	)
	return res
}

// parseOrderResponse 兼容 Hyperliquid 的两种成功形态：
// 已挂单（resting，取 oid）与立即成交（filled，取成交量与均价）。
func (h *HyperliquidBackend) parseOrderResponse(order ccxt.Order, req OrderRequest, ts time.Time) ExecutionResult {
	status := orderStatusInfo(order.Info)

	if status != nil {
		if filled, ok := status["filled"].(map[string]interface{}); ok {
			return ExecutionResult{
				Success:      true,
				OrderID:      idString(filled["oid"]),
				FilledSize:   parseNumericOr(filled["totalSz"], req.Size),
				AveragePrice: parseNumericOr(filled["avgPx"], req.Price),
				Status:       StatusFilled,
				Timestamp:    ts,
			}
		}
		if resting, ok := status["resting"].(map[string]interface{}); ok {
			return ExecutionResult{
				Success:      true,
				OrderID:      idString(resting["oid"]),
				FilledSize:   0,
				AveragePrice: req.Price,
				Status:       StatusOpen,
				Timestamp:    ts,
			}
		}
		if errText, ok := status["error"].(string); ok && errText != "" {
			return rejectedResult("", ts, errText)
		}
	}

	// 回退到 ccxt 的规范化字段。
	switch strings.ToLower(derefString(order.Status)) {
	case "closed":
		return ExecutionResult{
			Success:      true,
			OrderID:      derefString(order.Id),
			FilledSize:   derefFloat(order.Filled),
			AveragePrice: parseNumericOr(derefFloat(order.Average), req.Price),
			Status:       StatusFilled,
			Timestamp:    ts,
		}
	case "open":
		return ExecutionResult{
			Success:      true,
			OrderID:      derefString(order.Id),
			FilledSize:   derefFloat(order.Filled),
			AveragePrice: req.Price,
			Status:       StatusOpen,
			Timestamp:    ts,
		}
	}

	return rejectedResult(derefString(order.Id), ts, "Unknown error")
}

// GetPosition 将交易所持仓快照投影为统一仓位结构，未持仓返回零仓位。
func (h *HyperliquidBackend) GetPosition(ctx context.Context, asset string) (Position, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Position{}, ctxErr
	}

	rawPositions, err := h.client.FetchPositions()
	if err != nil {
		return Position{}, fmt.Errorf("executor: 获取持仓失败: %w", err)
	}

	symbol := h.marketSymbol(asset)
	for _, raw := range rawPositions {
		if !strings.EqualFold(derefString(raw.Symbol), symbol) {
			continue
		}
		return projectPosition(asset, raw), nil
	}

	return EmptyPosition(asset), nil
}

func projectPosition(asset string, raw ccxt.Position) Position {
	size := derefFloat(raw.Contracts)
	if strings.EqualFold(derefString(raw.Side), "short") {
		size = -size
	}

	entry := derefFloat(raw.EntryPrice)
	liq := derefFloat(raw.LiquidationPrice)
	unrealized := derefFloat(raw.UnrealizedPnl)
	leverage := derefFloat(raw.Leverage)

	if raw.Info != nil {
		if positionInfo, ok := raw.Info["position"].(map[string]interface{}); ok {
			// szi 自带符号，是最可靠的方向来源。
			if v, ok := parseNumeric(positionInfo["szi"]); ok {
				size = v
			}
			if entry == 0 {
				entry = parseNumericOr(positionInfo["entryPx"], 0)
			}
			if liq == 0 {
				liq = parseNumericOr(positionInfo["liquidationPx"], 0)
			}
			if unrealized == 0 {
				unrealized = parseNumericOr(positionInfo["unrealizedPnl"], 0)
			}
			if leverage == 0 {
				if lev, ok := positionInfo["leverage"].(map[string]interface{}); ok {
					leverage = parseNumericOr(lev["value"], 0)
				}
			}
		}
	}

	if size == 0 {
		return EmptyPosition(asset)
	}
	if leverage <= 0 {
		leverage = 1.0
	}

	return Position{
		Asset:            asset,
		Size:             size,
		EntryPrice:       entry,
		UnrealizedPnL:    unrealized,
		LiquidationPrice: liq,
		Leverage:         leverage,
	}
}

// GetAccountValue 并发拉取余额与持仓，按保证金口径汇总账户估值。
func (h *HyperliquidBackend) GetAccountValue(ctx context.Context) (Account, error) {
	var (
		balances     ccxt.Balances
		rawPositions []ccxt.Position
	)

	group, _ := errgroup.WithContext(ctx)
	group.Go(func() error {
		result, err := h.client.FetchBalance()
		if err != nil {
			return fmt.Errorf("executor: 获取账户余额失败: %w", err)
		}
		balances = result
		return nil
	})
	group.Go(func() error {
		result, err := h.client.FetchPositions()
		if err != nil {
			return fmt.Errorf("executor: 获取持仓失败: %w", err)
		}
		rawPositions = result
		return nil
	})
	if err := group.Wait(); err != nil {
		return Account{}, err
	}

	var accountValue, marginUsed float64

	if balances.Info != nil {
		if summary, ok := balances.Info["marginSummary"].(map[string]interface{}); ok {
			accountValue = parseNumericOr(summary["accountValue"], 0)
			marginUsed = parseNumericOr(summary["totalMarginUsed"], 0)
		}
	}
	if accountValue == 0 && balances.Total != nil {
		for _, code := range []string{h.quote, "USD", "USDT"} {
			if total, ok := balances.Total[code]; ok && total != nil && *total > 0 {
				accountValue = *total
				break
			}
		}
	}

	var totalUnrealized float64
	for _, raw := range rawPositions {
		totalUnrealized += derefFloat(raw.UnrealizedPnl)
	}

	available := accountValue - marginUsed

	return Account{
		AccountValue:       accountValue,
		MarginUsed:         marginUsed,
		AvailableMargin:    available,
		TotalUnrealizedPnL: totalUnrealized,
		BuyingPower:        available,
	}, nil
}

// CancelOrder 撤销挂单。Hyperliquid 撤单必须携带资产符号。
func (h *HyperliquidBackend) CancelOrder(ctx context.Context, req CancelRequest) (result CancelResult) {
	if strings.TrimSpace(req.Asset) == "" {
		return CancelResult{
			Success: false,
			OrderID: req.OrderID,
			Error:   "asset symbol required to cancel hyperliquid orders",
		}
	}

	defer func() {
		if r := recover(); r != nil {
			result = CancelResult{
				Success: false,
				OrderID: req.OrderID,
				Error:   fmt.Sprintf("order cancellation panic: %v", r),
			}
		}
	}()

	if _, err := h.client.CancelOrder(req.OrderID,
		ccxt.WithCancelOrderSymbol(h.marketSymbol(req.Asset))); err != nil {
		return CancelResult{
			Success: false,
			OrderID: req.OrderID,
			Error:   err.Error(),
		}
	}

	return CancelResult{
		Success: true,
		OrderID: req.OrderID,
	}
}

// GetOrderStatus 在当前挂单中检索订单。不在挂单里说明已成交或已撤销，
// 交易所没有直接的单订单查询端点。
func (h *HyperliquidBackend) GetOrderStatus(ctx context.Context, orderID string) OrderStatus {
	openOrders, err := h.client.FetchOpenOrders()
	if err != nil {
		return OrderStatus{
			OrderID: orderID,
			Status:  StatusError,
			Error:   err.Error(),
		}
	}

	for _, order := range openOrders {
		if derefString(order.Id) != orderID {
			continue
		}
		return OrderStatus{
			OrderID:       orderID,
			Status:        StatusOpen,
			FilledSize:    derefFloat(order.Filled),
			RemainingSize: parseNumericOr(derefFloat(order.Remaining), derefFloat(order.Amount)),
			AveragePrice:  derefFloat(order.Price),
		}
	}

	return OrderStatus{
		OrderID: orderID,
		Status:  StatusFilledOrCanceled,
	}
}

// MarketPrice 读取资产的最新价格。
func (h *HyperliquidBackend) MarketPrice(ctx context.Context, asset string) (float64, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return 0, ctxErr
	}

	ticker, err := h.client.FetchTicker(h.marketSymbol(asset))
	if err != nil {
		return 0, fmt.Errorf("executor: 获取 %s 价格失败: %w", asset, err)
	}

	if ticker.Last != nil && *ticker.Last > 0 {
		return *ticker.Last, nil
	}
	if ticker.Close != nil && *ticker.Close > 0 {
		return *ticker.Close, nil
	}
	return 0, fmt.Errorf("executor: 交易对 %s 无有效价格", asset)
}

// orderStatusInfo 定位订单响应中的 status 元素。
// ccxt 可能直接把 statuses[0] 放进 Info，也可能保留完整响应信封。
func orderStatusInfo(info map[string]interface{}) map[string]interface{} {
	if info == nil {
		return nil
	}

	for _, key := range []string{"filled", "resting", "error"} {
		if _, ok := info[key]; ok {
			return info
		}
	}

	if topStatus, ok := info["status"].(string); ok && topStatus != "ok" {
		// 非 ok 信封的错误文本可能直接挂在 response 上。
		if text := responseErrorText(info["response"]); text != "" {
			return map[string]interface{}{"error": text}
		}
		return nil
	}

	response, _ := info["response"].(map[string]interface{})
	if response == nil {
		return nil
	}
	data, _ := response["data"].(map[string]interface{})
	if data == nil {
		return nil
	}
	statuses, _ := data["statuses"].([]interface{})
	if len(statuses) == 0 {
		return nil
	}
	first, _ := statuses[0].(map[string]interface{})
	return first
}

func responseErrorText(response interface{}) string {
	switch v := response.(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]interface{}:
		if text, ok := v["error"].(string); ok {
			return strings.TrimSpace(text)
		}
	}
	return ""
}

func idString(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case json.Number:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

func parseNumeric(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case nil:
		return 0, false
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f, true
		}
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, false
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func parseNumericOr(value interface{}, fallback float64) float64 {
	if f, ok := parseNumeric(value); ok && f != 0 {
		return f
	}
	return fallback
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

var _ Backend = (*HyperliquidBackend)(nil)
