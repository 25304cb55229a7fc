package strategy

import (
	"errors"
	"fmt"

	"polyalgo/internal/order"
)

// evaluateStop 实现止损/止盈触发。两个条件同时满足时止损优先，
// 偏向保全本金。未配置的价格永远不会触发。
func evaluateStop(ord *order.AlgoOrder, price float64) (Decision, error) {
	p := ord.Params.Stop
	if p == nil {
		return Decision{State: ord.State}, errors.New("strategy: 止损订单缺少参数")
	}

	decision := Decision{State: ord.State}

	stopHit := false
	if p.StopLossPrice != nil {
		if ord.Side == order.SideBuy {
			stopHit = price <= *p.StopLossPrice
		} else {
			stopHit = price >= *p.StopLossPrice
		}
	}

	takeHit := false
	if p.TakeProfitPrice != nil {
		if ord.Side == order.SideBuy {
			takeHit = price >= *p.TakeProfitPrice
		} else {
			takeHit = price <= *p.TakeProfitPrice
		}
	}

	switch {
	case stopHit:
		decision.ShouldExecute = true
		decision.ExecuteSize = ord.Remaining()
		decision.IsComplete = true
		decision.Reason = fmt.Sprintf("Stop-loss 触发: 当前价 %.4f 穿越 %.4f", price, *p.StopLossPrice)
	case takeHit:
		decision.ShouldExecute = true
		decision.ExecuteSize = ord.Remaining()
		decision.IsComplete = true
		decision.Reason = fmt.Sprintf("Take-profit 触发: 当前价 %.4f 穿越 %.4f", price, *p.TakeProfitPrice)
	}

	return decision, nil
}
