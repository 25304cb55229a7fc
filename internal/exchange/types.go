package exchange

import (
	"errors"

	"polyalgo/internal/order"
)

// ErrPriceUnavailable 表示价格源暂时无法提供报价，调用方应跳过本轮。
var ErrPriceUnavailable = errors.New("exchange: price unavailable")

// OrderRequest 描述一笔待提交的交易所委托。
type OrderRequest struct {
	TokenID  string
	Side     order.Side
	Size     float64
	Price    float64
	ClientID string
}

// SubmitResult 为下单结果。交易所业务拒单通过 Success=false 表达，
// 不作为传输层错误抛出。
type SubmitResult struct {
	Success bool   `json:"success"`
	OrderID string `json:"orderID"`
	Err     string `json:"errorMsg"`
}

// BalanceKind 区分余额资产类别。
type BalanceKind string

const (
	// BalanceCollateral 为报价货币（抵押品）余额，BUY 方向占用。
	BalanceCollateral BalanceKind = "COLLATERAL"
	// BalanceConditional 为条件代币（份额）余额，SELL 方向占用。
	BalanceConditional BalanceKind = "CONDITIONAL"
)
