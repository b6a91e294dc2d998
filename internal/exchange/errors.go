package exchange

import (
	"errors"

	ccxt "github.com/ccxt/ccxt/go/v4"
)

var (
	// ErrMaintenance 表示交易所处于维护状态，调用方应择机重试而非立即重发。
	ErrMaintenance = errors.New("exchange on maintenance")
)

// IsRetryable 判断交易所错误是否属于可重试的瞬时故障。
// 下单路径不使用它自动重试，仅供调用方制定对账与重发策略。
func IsRetryable(err error) bool {
	if err == nil {
		return false
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
			return true
		default:
			return false
		}
	}

	return false
}
