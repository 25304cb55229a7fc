package strategy

import (
	"errors"
	"fmt"
	"math"
	"time"

	"polyalgo/internal/order"
)

// evaluateTWAP 按固定周期将目标数量均匀拆分提交。
// 截止时间过后一次性清算剩余数量；周期内的重复评估通过
// 已成交切片数与期望切片数的比较保证幂等。
func evaluateTWAP(ord *order.AlgoOrder, now time.Time) (Decision, error) {
	p := ord.Params.TWAP
	if p == nil {
		return Decision{State: ord.State}, errors.New("strategy: TWAP 订单缺少参数")
	}

	decision := Decision{State: ord.State}
	elapsed := now.Sub(p.StartTime)
	remaining := ord.Remaining()

	if elapsed > p.Duration {
		if remaining > order.MinTradableSize {
			decision.ShouldExecute = true
			decision.ExecuteSize = remaining
			decision.IsComplete = true
			decision.Reason = fmt.Sprintf("TWAP 到期清算剩余 %.4f", remaining)
			return decision, nil
		}
		decision.IsComplete = true
		decision.Reason = "TWAP 已到期且无剩余数量"
		return decision, nil
	}

	totalSlices := int(math.Ceil(float64(p.Duration) / float64(p.Interval)))
	if totalSlices <= 0 {
		return decision, errors.New("strategy: TWAP 切片数量无效")
	}
	sliceSize := p.TotalSize / float64(totalSlices)
	expectedSlices := int(math.Floor(float64(elapsed) / float64(p.Interval)))

	if len(ord.Fills) >= expectedSlices {
		return decision, nil
	}

	size := math.Min(sliceSize, remaining)
	if size < order.MinTradableSize {
		return decision, nil
	}

	decision.ShouldExecute = true
	decision.ExecuteSize = size
	decision.Reason = fmt.Sprintf("TWAP 第 %d/%d 片", len(ord.Fills)+1, totalSlices)
	return decision, nil
}
