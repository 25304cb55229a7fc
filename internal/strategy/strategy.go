package strategy

import (
	"fmt"
	"time"

	"polyalgo/internal/order"
)

// Decision 为一次策略评估的输出。State 在任何结果下都会返回，
// 调用方必须在下一次评估前完成持久化。
type Decision struct {
	ShouldExecute bool
	ExecuteSize   float64
	IsComplete    bool
	Reason        string
	State         order.State
}

// Evaluate 根据订单类型分发到对应评估器。评估器为纯函数，不做任何 I/O，
// 时间由调用方注入。
func Evaluate(ord *order.AlgoOrder, price float64, now time.Time) (Decision, error) {
	switch ord.Type {
	case order.TypeTWAP:
		return evaluateTWAP(ord, now)
	case order.TypeStopLoss:
		return evaluateStop(ord, price)
	case order.TypeTrailingStop:
		return evaluateTrailing(ord, price)
	default:
		return Decision{State: ord.State}, fmt.Errorf("strategy: 未知订单类型 %q", ord.Type)
	}
}
