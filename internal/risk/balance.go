package risk

import (
	"fmt"

	"polyalgo/internal/order"
)

// CheckBalance 校验可用余额是否足以覆盖拟提交订单。
// BUY 按名义金额占用报价货币，SELL 按数量占用份额余额。
// 余额不在本组件内缓存，调用方必须在检查前即时获取。
func CheckBalance(side order.Side, size, price, available float64) Result {
	if side == order.SideBuy {
		required := size * price
		if required > available {
			return Result{Errors: []FieldError{{
				Field:   "balance",
				Message: fmt.Sprintf("买入需要 %.4f，可用余额 %.4f", required, available),
			}}}
		}
		return Result{Valid: true}
	}

	if size > available {
		return Result{Errors: []FieldError{{
			Field:   "balance",
			Message: fmt.Sprintf("卖出需要 %.4f 份，可用份额 %.4f", size, available),
		}}}
	}
	return Result{Valid: true}
}
