package executor

import (
	"context"
	"math"
	"strings"
	"testing"

	"astro-trader/internal/config"
)

func newTestBackend(balance, slippage float64) *SimulatedBackend {
	return NewSimulatedBackend(config.ExecutorConfig{
		InitialBalance: balance,
		Slippage:       slippage,
		DefaultPrice:   50000,
	}, nil)
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSimulatedBuyAppliesSlippage(t *testing.T) {
	backend := newTestBackend(10000, 0.001)

	result := backend.PlaceOrder(context.Background(), OrderRequest{
		Asset: "BTC",
		Side:  OrderSideBuy,
		Size:  0.1,
		Type:  OrderTypeMarket,
		Price: 50000,
	})

	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if result.Status != StatusFilled {
		t.Errorf("expected status filled, got %s", result.Status)
	}
	if !almostEqual(result.AveragePrice, 50050) {
		t.Errorf("expected execution price 50050, got %f", result.AveragePrice)
	}
	if !almostEqual(result.FilledSize, 0.1) {
		t.Errorf("expected filled size 0.1, got %f", result.FilledSize)
	}
	if result.OrderID == "" {
		t.Errorf("expected non-empty order id")
	}
	if result.Error != "" {
		t.Errorf("success result must not carry error, got %q", result.Error)
	}

	pos, err := backend.GetPosition(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("GetPosition returned error: %v", err)
	}
	if !almostEqual(pos.Size, 0.1) || !almostEqual(pos.EntryPrice, 50050) {
		t.Errorf("unexpected position size=%f entry=%f", pos.Size, pos.EntryPrice)
	}

	account, err := backend.GetAccountValue(context.Background())
	if err != nil {
		t.Fatalf("GetAccountValue returned error: %v", err)
	}
	if !almostEqual(account.BuyingPower, 4995) {
		t.Errorf("expected balance 4995 after cost 5005, got %f", account.BuyingPower)
	}
	if account.MarginUsed != 0 {
		t.Errorf("simulated backend must report zero margin used, got %f", account.MarginUsed)
	}
	if !almostEqual(account.AccountValue, account.AvailableMargin) {
		t.Errorf("account value %f must equal available margin %f on spot simulation",
			account.AccountValue, account.AvailableMargin)
	}
}

func TestSimulatedSellAppliesSlippage(t *testing.T) {
	backend := newTestBackend(10000, 0.001)
	ctx := context.Background()

	if res := backend.PlaceOrder(ctx, OrderRequest{
		Asset: "BTC", Side: OrderSideBuy, Size: 0.1, Type: OrderTypeMarket, Price: 50000,
	}); !res.Success {
		t.Fatalf("setup buy failed: %q", res.Error)
	}

	result := backend.PlaceOrder(ctx, OrderRequest{
		Asset: "BTC", Side: OrderSideSell, Size: 0.1, Type: OrderTypeMarket, Price: 50000,
	})

	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if !almostEqual(result.AveragePrice, 49950) {
		t.Errorf("expected execution price 49950, got %f", result.AveragePrice)
	}

	account, err := backend.GetAccountValue(ctx)
	if err != nil {
		t.Fatalf("GetAccountValue returned error: %v", err)
	}
	if !almostEqual(account.BuyingPower, 9990) {
		t.Errorf("expected balance 9990 after round trip, got %f", account.BuyingPower)
	}

	pos, err := backend.GetPosition(ctx, "BTC")
	if err != nil {
		t.Fatalf("GetPosition returned error: %v", err)
	}
	if !almostEqual(pos.Size, 0) {
		t.Errorf("expected flat position, got size %f", pos.Size)
	}
}

func TestSimulatedInsufficientBalanceLeavesStateUntouched(t *testing.T) {
	backend := newTestBackend(100, 0.001)
	ctx := context.Background()

	result := backend.PlaceOrder(ctx, OrderRequest{
		Asset: "BTC", Side: OrderSideBuy, Size: 1.0, Type: OrderTypeMarket, Price: 50000,
	})

	if result.Success {
		t.Fatalf("expected rejection")
	}
	if result.Status != StatusRejected {
		t.Errorf("expected status rejected, got %s", result.Status)
	}
	if !strings.Contains(result.Error, "Insufficient balance") {
		t.Errorf("expected insufficient balance error, got %q", result.Error)
	}

	account, err := backend.GetAccountValue(ctx)
	if err != nil {
		t.Fatalf("GetAccountValue returned error: %v", err)
	}
	if !almostEqual(account.BuyingPower, 100) {
		t.Errorf("balance must stay at 100 after rejection, got %f", account.BuyingPower)
	}

	pos, err := backend.GetPosition(ctx, "BTC")
	if err != nil {
		t.Fatalf("GetPosition returned error: %v", err)
	}
	if pos.Size != 0 || pos.EntryPrice != 0 {
		t.Errorf("position must stay flat after rejection, got size=%f entry=%f", pos.Size, pos.EntryPrice)
	}
}

func TestSimulatedWeightedAverageEntry(t *testing.T) {
	backend := newTestBackend(1e9, 0)
	ctx := context.Background()

	fills := []struct {
		size  float64
		price float64
	}{
		{1, 100},
		{1, 200},
		{2, 350},
	}

	var sizeSum, notionalSum float64
	for _, fill := range fills {
		res := backend.PlaceOrder(ctx, OrderRequest{
			Asset: "ETH", Side: OrderSideBuy, Size: fill.size, Type: OrderTypeMarket, Price: fill.price,
		})
		if !res.Success {
			t.Fatalf("buy %v failed: %q", fill, res.Error)
		}
		sizeSum += fill.size
		notionalSum += fill.size * fill.price
	}

	pos, err := backend.GetPosition(ctx, "ETH")
	if err != nil {
		t.Fatalf("GetPosition returned error: %v", err)
	}
	want := notionalSum / sizeSum
	if !almostEqual(pos.EntryPrice, want) {
		t.Errorf("expected weighted entry %f, got %f", want, pos.EntryPrice)
	}
	if !almostEqual(pos.Size, sizeSum) {
		t.Errorf("expected size %f, got %f", sizeSum, pos.Size)
	}
}

func TestSimulatedRoundTripRestoresBalance(t *testing.T) {
	backend := newTestBackend(10000, 0)
	ctx := context.Background()

	if res := backend.PlaceOrder(ctx, OrderRequest{
		Asset: "BTC", Side: OrderSideBuy, Size: 0.05, Type: OrderTypeMarket, Price: 42000,
	}); !res.Success {
		t.Fatalf("buy failed: %q", res.Error)
	}
	if res := backend.PlaceOrder(ctx, OrderRequest{
		Asset: "BTC", Side: OrderSideSell, Size: 0.05, Type: OrderTypeMarket, Price: 42000,
	}); !res.Success {
		t.Fatalf("sell failed: %q", res.Error)
	}

	account, err := backend.GetAccountValue(ctx)
	if err != nil {
		t.Fatalf("GetAccountValue returned error: %v", err)
	}
	if !almostEqual(account.AccountValue, 10000) {
		t.Errorf("expected account value back at 10000, got %f", account.AccountValue)
	}

	pos, err := backend.GetPosition(ctx, "BTC")
	if err != nil {
		t.Fatalf("GetPosition returned error: %v", err)
	}
	if pos.Size != 0 {
		t.Errorf("expected flat position, got %f", pos.Size)
	}
}

func TestSimulatedUntradedAssetReturnsZeroPosition(t *testing.T) {
	backend := newTestBackend(10000, 0.001)

	for i := 0; i < 3; i++ {
		pos, err := backend.GetPosition(context.Background(), "DOGE")
		if err != nil {
			t.Fatalf("GetPosition returned error: %v", err)
		}
		if pos.Size != 0 || pos.EntryPrice != 0 || pos.UnrealizedPnL != 0 {
			t.Errorf("expected zero position, got %+v", pos)
		}
		if pos.Leverage != 1.0 {
			t.Errorf("expected leverage 1.0, got %f", pos.Leverage)
		}
	}
}

func TestSimulatedSellOpensShort(t *testing.T) {
	backend := newTestBackend(10000, 0)
	ctx := context.Background()

	res := backend.PlaceOrder(ctx, OrderRequest{
		Asset: "SOL", Side: OrderSideSell, Size: 2, Type: OrderTypeMarket, Price: 150,
	})
	if !res.Success {
		t.Fatalf("sell failed: %q", res.Error)
	}

	pos, err := backend.GetPosition(ctx, "SOL")
	if err != nil {
		t.Fatalf("GetPosition returned error: %v", err)
	}
	if !almostEqual(pos.Size, -2) {
		t.Errorf("expected short size -2, got %f", pos.Size)
	}

	account, _ := backend.GetAccountValue(ctx)
	if !almostEqual(account.BuyingPower, 10300) {
		t.Errorf("expected proceeds credited, balance=%f", account.BuyingPower)
	}
}

func TestSimulatedBuyCoveringShortResetsEntry(t *testing.T) {
	backend := newTestBackend(10000, 0)
	ctx := context.Background()

	if res := backend.PlaceOrder(ctx, OrderRequest{
		Asset: "SOL", Side: OrderSideSell, Size: 2, Type: OrderTypeMarket, Price: 100,
	}); !res.Success {
		t.Fatalf("opening sell failed: %q", res.Error)
	}

	// 部分补回后仓位仍为空头，均价重置为本次买入价而非加权均价。
	if res := backend.PlaceOrder(ctx, OrderRequest{
		Asset: "SOL", Side: OrderSideBuy, Size: 1, Type: OrderTypeMarket, Price: 90,
	}); !res.Success {
		t.Fatalf("covering buy failed: %q", res.Error)
	}

	pos, err := backend.GetPosition(ctx, "SOL")
	if err != nil {
		t.Fatalf("GetPosition returned error: %v", err)
	}
	if !almostEqual(pos.Size, -1) {
		t.Errorf("expected remaining short -1, got %f", pos.Size)
	}
	if !almostEqual(pos.EntryPrice, 90) {
		t.Errorf("expected entry reset to 90, got %f", pos.EntryPrice)
	}

	// 补至零仓位同样走重置分支。
	if res := backend.PlaceOrder(ctx, OrderRequest{
		Asset: "SOL", Side: OrderSideBuy, Size: 1, Type: OrderTypeMarket, Price: 80,
	}); !res.Success {
		t.Fatalf("final covering buy failed: %q", res.Error)
	}

	pos, err = backend.GetPosition(ctx, "SOL")
	if err != nil {
		t.Fatalf("GetPosition returned error: %v", err)
	}
	if !almostEqual(pos.Size, 0) {
		t.Errorf("expected flat position, got %f", pos.Size)
	}
	if !almostEqual(pos.EntryPrice, 80) {
		t.Errorf("expected entry set to covering price 80, got %f", pos.EntryPrice)
	}
}

func TestSimulatedValidationRejectsWithoutMutation(t *testing.T) {
	backend := newTestBackend(10000, 0.001)
	ctx := context.Background()

	cases := []OrderRequest{
		{Asset: "BTC", Side: OrderSideBuy, Size: 0, Type: OrderTypeMarket, Price: 50000},
		{Asset: "BTC", Side: OrderSideBuy, Size: -1, Type: OrderTypeMarket, Price: 50000},
		{Asset: "BTC", Side: OrderSideBuy, Size: 1, Type: OrderTypeLimit},
		{Asset: "BTC", Side: "hold", Size: 1, Type: OrderTypeMarket, Price: 50000},
		{Side: OrderSideBuy, Size: 1, Type: OrderTypeMarket, Price: 50000},
	}

	for _, req := range cases {
		result := backend.PlaceOrder(ctx, req)
		if result.Success {
			t.Errorf("request %+v must be rejected", req)
		}
		if result.Status != StatusRejected {
			t.Errorf("request %+v expected status rejected, got %s", req, result.Status)
		}
		if result.Error == "" {
			t.Errorf("request %+v expected descriptive error", req)
		}
	}

	account, _ := backend.GetAccountValue(ctx)
	if !almostEqual(account.BuyingPower, 10000) {
		t.Errorf("rejected orders must not touch balance, got %f", account.BuyingPower)
	}
	if backend.Statistics().TotalTrades != 0 {
		t.Errorf("rejected orders must not count as trades")
	}
}

func TestSimulatedLimitOrderExecutesImmediately(t *testing.T) {
	backend := newTestBackend(10000, 0)
	ctx := context.Background()

	// 模拟后端不维护挂单簿，限价单按市价语义立即以委托价成交。
	result := backend.PlaceOrder(ctx, OrderRequest{
		Asset: "BTC", Side: OrderSideBuy, Size: 0.01, Type: OrderTypeLimit, Price: 48000,
	})

	if !result.Success {
		t.Fatalf("limit order failed: %q", result.Error)
	}
	if result.Status != StatusFilled {
		t.Errorf("expected immediate fill, got %s", result.Status)
	}
	if !almostEqual(result.AveragePrice, 48000) {
		t.Errorf("expected fill at limit price 48000, got %f", result.AveragePrice)
	}
}

func TestSimulatedOrderStatus(t *testing.T) {
	backend := newTestBackend(10000, 0.001)
	ctx := context.Background()

	res := backend.PlaceOrder(ctx, OrderRequest{
		Asset: "BTC", Side: OrderSideBuy, Size: 0.01, Type: OrderTypeMarket, Price: 50000,
	})
	if !res.Success {
		t.Fatalf("buy failed: %q", res.Error)
	}

	status := backend.GetOrderStatus(ctx, res.OrderID)
	if status.Status != StatusFilled {
		t.Errorf("expected filled, got %s", status.Status)
	}
	if !almostEqual(status.FilledSize, 0.01) {
		t.Errorf("expected filled size 0.01, got %f", status.FilledSize)
	}
	if status.RemainingSize != 0 {
		t.Errorf("expected zero remaining, got %f", status.RemainingSize)
	}

	unknown := backend.GetOrderStatus(ctx, "no-such-order")
	if unknown.Status != StatusNotFound {
		t.Errorf("expected not_found for unknown id, got %s", unknown.Status)
	}
	if unknown.Error != "" {
		t.Errorf("unknown order must not be an error, got %q", unknown.Error)
	}
}

func TestSimulatedCancelNotSupported(t *testing.T) {
	backend := newTestBackend(10000, 0.001)

	result := backend.CancelOrder(context.Background(), CancelRequest{OrderID: "abc"})
	if result.Success {
		t.Fatalf("expected cancel failure on simulated backend")
	}
	if result.OrderID != "abc" {
		t.Errorf("expected order id echoed back, got %q", result.OrderID)
	}
	if !strings.Contains(result.Error, "not supported") {
		t.Errorf("expected not-supported error, got %q", result.Error)
	}
}

func TestSimulatedUnrealizedPnLTracksMarkPrice(t *testing.T) {
	backend := newTestBackend(100000, 0)
	ctx := context.Background()

	if res := backend.PlaceOrder(ctx, OrderRequest{
		Asset: "BTC", Side: OrderSideBuy, Size: 1, Type: OrderTypeMarket, Price: 50000,
	}); !res.Success {
		t.Fatalf("buy failed: %q", res.Error)
	}

	backend.SetMarkPrice("BTC", 51000)

	pos, err := backend.GetPosition(ctx, "BTC")
	if err != nil {
		t.Fatalf("GetPosition returned error: %v", err)
	}
	if !almostEqual(pos.UnrealizedPnL, 1000) {
		t.Errorf("expected unrealized pnl 1000, got %f", pos.UnrealizedPnL)
	}

	account, _ := backend.GetAccountValue(ctx)
	if !almostEqual(account.TotalUnrealizedPnL, 1000) {
		t.Errorf("expected total unrealized 1000, got %f", account.TotalUnrealizedPnL)
	}
	if !almostEqual(account.AccountValue, account.BuyingPower+1000) {
		t.Errorf("account value must equal cash plus unrealized, got %f vs %f",
			account.AccountValue, account.BuyingPower+1000)
	}
}

func TestSimulatedStatistics(t *testing.T) {
	backend := newTestBackend(10000, 0)
	ctx := context.Background()

	backend.PlaceOrder(ctx, OrderRequest{Asset: "BTC", Side: OrderSideBuy, Size: 0.1, Type: OrderTypeMarket, Price: 50000})
	backend.PlaceOrder(ctx, OrderRequest{Asset: "ETH", Side: OrderSideBuy, Size: 1, Type: OrderTypeMarket, Price: 3000})

	stats := backend.Statistics()
	if stats.TotalTrades != 2 {
		t.Errorf("expected 2 trades, got %d", stats.TotalTrades)
	}
	if stats.OpenPositions != 2 {
		t.Errorf("expected 2 open positions, got %d", stats.OpenPositions)
	}
	if !almostEqual(stats.InitialBalance, 10000) {
		t.Errorf("expected initial balance 10000, got %f", stats.InitialBalance)
	}
	// 口径为现金余额加未实现盈亏：买入后现金 2000，未实现 0。
	if !almostEqual(stats.PnLPercent, -80) {
		t.Errorf("expected pnl percent -80, got %f", stats.PnLPercent)
	}
}
