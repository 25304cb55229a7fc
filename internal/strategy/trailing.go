package strategy

import (
	"errors"
	"fmt"

	"polyalgo/internal/order"
)

// evaluateTrailing 实现移动触发。未激活时依据可选的触发价判断是否
// 进入跟踪状态（BUY 等待回落、SELL 等待上行，即等待有利的入场位）；
// 激活后 BUY 跟踪激活以来的最低价，价格反弹超过 trail_percent 即买入，
// SELL 跟踪最高价，回撤超过 trail_percent 即卖出。
// 无论是否触发都返回最新状态，由调用方持久化。
func evaluateTrailing(ord *order.AlgoOrder, price float64) (Decision, error) {
	p := ord.Params.Trailing
	if p == nil {
		return Decision{State: ord.State}, errors.New("strategy: 移动止损订单缺少参数")
	}

	state := ord.State
	decision := Decision{State: state}

	if !state.Activated {
		armed := p.TriggerPrice == nil
		if p.TriggerPrice != nil {
			if ord.Side == order.SideBuy {
				armed = price <= *p.TriggerPrice
			} else {
				armed = price >= *p.TriggerPrice
			}
		}
		if !armed {
			return decision, nil
		}
		state.Activated = true
		state.ExtremePrice = price
		decision.State = state
		return decision, nil
	}

	var threshold float64
	if ord.Side == order.SideBuy {
		if price < state.ExtremePrice {
			state.ExtremePrice = price
		}
		threshold = state.ExtremePrice * (1 + p.TrailPercent/100)
		if price >= threshold {
			decision.ShouldExecute = true
		}
	} else {
		if price > state.ExtremePrice {
			state.ExtremePrice = price
		}
		threshold = state.ExtremePrice * (1 - p.TrailPercent/100)
		if price <= threshold {
			decision.ShouldExecute = true
		}
	}

	decision.State = state
	if decision.ShouldExecute {
		decision.ExecuteSize = ord.Remaining()
		decision.IsComplete = true
		decision.Reason = fmt.Sprintf("Trailing-stop 触发: 当前价 %.4f 穿越跟踪线 %.4f (极值 %.4f)",
			price, threshold, state.ExtremePrice)
	}

	return decision, nil
}
