package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"astro-trader/internal/config"
)

// NewHyperliquidClient 构造 Hyperliquid 交易客户端。
// 签名凭据缺失属于致命配置错误，在此处直接失败而不是等到下单时。
func NewHyperliquidClient(cfg config.VenueConfig) (*ccxt.Hyperliquid, error) {
	if cfg.Wallet == "" {
		return nil, errors.New("exchange: 缺少 venue.wallet_address 配置")
	}
	if cfg.PrivateKey == "" {
		return nil, errors.New("exchange: 缺少 venue.private_key 配置")
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
		"walletAddress":   cfg.Wallet,
		"privateKey":      cfg.PrivateKey,
	}

	client := ccxt.NewHyperliquid(userConfig)
	if strings.EqualFold(cfg.Network, config.NetworkTestnet) {
		client.SetSandboxMode(true)
	}

	return client, nil
}

type tickerClient interface {
	FetchTicker(symbol string, options ...ccxt.FetchTickerOptions) (ccxt.Ticker, error)
}

// PriceService 负责带重试地读取最新成交价。重试只应用在只读行情上，
// 下单路径不做任何自动重试。
type PriceService struct {
	client tickerClient
	retry  config.RetryConfig
	logger *zap.Logger
}

// NewPriceService 创建行情读取服务。
func NewPriceService(client tickerClient, retry config.RetryConfig, logger *zap.Logger) *PriceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PriceService{
		client: client,
		retry:  retry,
		logger: logger,
	}
}

// LastPrice 获取指定交易对的最新价格。
func (p *PriceService) LastPrice(ctx context.Context, symbol string) (float64, error) {
	var ticker ccxt.Ticker

	err := p.callWithRetry(ctx, fmt.Sprintf("fetch_ticker_%s", symbol), func() error {
		result, err := p.client.FetchTicker(symbol)
		if err != nil {
			return err
		}
		ticker = result
		return nil
	})
	if err != nil {
		return 0, err
	}

	price := tickerPrice(ticker)
	if price <= 0 {
		return 0, fmt.Errorf("exchange: 交易对 %s 无有效价格", symbol)
	}
	return price, nil
}

func tickerPrice(t ccxt.Ticker) float64 {
	if t.Last != nil && *t.Last > 0 {
		return *t.Last
	}
	if t.Close != nil && *t.Close > 0 {
		return *t.Close
	}
	if t.Bid != nil && t.Ask != nil && *t.Bid > 0 && *t.Ask > 0 {
		return (*t.Bid + *t.Ask) / 2
	}
	return 0
}

func (p *PriceService) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	delay := p.retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := p.retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	maxAttempts := p.retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		start := time.Now()
		err := fn()
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				p.logger.Info("行情调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		normalizedErr, retry := classifyError(err)

		if errors.Is(normalizedErr, ErrMaintenance) {
			p.logger.Warn("交易所维护中",
				zap.String("operation", operation),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		if !retry || attempt >= maxAttempts {
			p.logger.Error("行情调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", duration),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}

		p.logger.Warn("行情调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(normalizedErr),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func classifyError(err error) (error, bool) {
	if err == nil {
		return nil, false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err, false
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.RateLimitExceededErrType,
			ccxt.DDoSProtectionErrType,
			ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return err, true
		case ccxt.OnMaintenanceErrType:
			message := strings.TrimSpace(ccxtErr.Message)
			if message == "" {
				message = "exchange under maintenance"
			}
			return fmt.Errorf("%w: %s", ErrMaintenance, message), false
		default:
			return err, false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return err, true
	}

	return err, false
}
