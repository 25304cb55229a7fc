package risk

import (
	"fmt"
	"math"
	"strings"

	"polyalgo/internal/order"
)

// 下单数值边界。价格区间对应预测市场份额的有效报价范围。
const (
	MinOrderSize = 0.01
	MaxOrderSize = 1_000_000
	MinPrice     = 0.0001
	MaxPrice     = 0.9999
	MinNotional  = 1.0
)

// FieldError 描述单个字段的校验失败原因。
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Result 为校验结果，Errors 为空时 Valid 为真。结果不落库。
type Result struct {
	Valid  bool         `json:"valid"`
	Errors []FieldError `json:"errors,omitempty"`
}

func (r Result) Error() string {
	if r.Valid {
		return ""
	}
	parts := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s", e.Field, e.Message))
	}
	return strings.Join(parts, "; ")
}

// ValidateOrder 对拟提交订单做纯数值校验。所有规则独立检查，
// 错误累积返回而不是短路。
func ValidateOrder(tokenID string, side order.Side, size, price float64) Result {
	var errs []FieldError

	if strings.TrimSpace(tokenID) == "" {
		errs = append(errs, FieldError{Field: "tokenId", Message: "不能为空"})
	}

	switch {
	case !isFinite(size) || size <= 0:
		errs = append(errs, FieldError{Field: "size", Message: "必须为有限正数"})
	case size < MinOrderSize:
		errs = append(errs, FieldError{Field: "size", Message: fmt.Sprintf("不能小于 %.2f", MinOrderSize)})
	case size > MaxOrderSize:
		errs = append(errs, FieldError{Field: "size", Message: fmt.Sprintf("不能大于 %.0f", float64(MaxOrderSize))})
	}

	switch {
	case !isFinite(price) || price <= 0:
		errs = append(errs, FieldError{Field: "price", Message: "必须为有限正数"})
	case price < MinPrice:
		errs = append(errs, FieldError{Field: "price", Message: fmt.Sprintf("不能小于 %.4f", MinPrice)})
	case price > MaxPrice:
		errs = append(errs, FieldError{Field: "price", Message: fmt.Sprintf("不能大于 %.4f", MaxPrice)})
	}

	if isFinite(size) && isFinite(price) && size > 0 && price > 0 && size*price < MinNotional {
		errs = append(errs, FieldError{
			Field:   "notional",
			Message: fmt.Sprintf("名义金额 %.4f 低于最小值 %.2f", size*price, MinNotional),
		})
	}

	if side != order.SideBuy && side != order.SideSell {
		errs = append(errs, FieldError{Field: "side", Message: fmt.Sprintf("无效方向 %q", side)})
	}

	return Result{Valid: len(errs) == 0, Errors: errs}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
