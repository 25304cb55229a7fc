package order

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type 表示算法订单类型。
type Type string

const (
	TypeTWAP         Type = "TWAP"
	TypeStopLoss     Type = "STOP_LOSS"
	TypeTrailingStop Type = "TRAILING_STOP"
)

// Side 表示订单方向。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Status 表示订单生命周期状态。
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusActive    Status = "ACTIVE"
	StatusPaused    Status = "PAUSED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
	StatusFailed    Status = "FAILED"
)

// MinTradableSize 为最小可成交数量，低于该值的切片不会提交。
const MinTradableSize = 0.01

// TWAPParams 描述时间加权拆单参数。
type TWAPParams struct {
	TotalSize float64       `json:"total_size"`
	Duration  time.Duration `json:"duration"`
	Interval  time.Duration `json:"interval"`
	StartTime time.Time     `json:"start_time"`
}

// StopParams 描述止损/止盈触发参数，两者至少配置其一。
type StopParams struct {
	StopLossPrice   *float64 `json:"stop_loss_price,omitempty"`
	TakeProfitPrice *float64 `json:"take_profit_price,omitempty"`
}

// TrailingParams 描述移动止损参数。TriggerPrice 缺省时立即激活。
type TrailingParams struct {
	TrailPercent float64  `json:"trail_percent"`
	TriggerPrice *float64 `json:"trigger_price,omitempty"`
	LimitPrice   *float64 `json:"limit_price,omitempty"`
}

// Params 按订单类型持有对应参数，同一时刻只有一个分支非空。
type Params struct {
	TWAP     *TWAPParams     `json:"twap,omitempty"`
	Stop     *StopParams     `json:"stop,omitempty"`
	Trailing *TrailingParams `json:"trailing,omitempty"`
}

// State 为策略私有状态，仅由对应评估器修改，调用方负责持久化。
type State struct {
	Activated    bool    `json:"activated,omitempty"`
	ExtremePrice float64 `json:"extreme_price,omitempty"`
}

// Fill 记录一次成交，只追加不修改。
type Fill struct {
	Price     float64   `json:"price"`
	Size      float64   `json:"size"`
	Timestamp time.Time `json:"timestamp"`
}

// AlgoOrder 为算法订单的持久化模型。
type AlgoOrder struct {
	ID           string
	Type         Type
	Side         Side
	TokenID      string
	Size         float64
	ExecutedSize float64
	Status       Status
	Params       Params
	State        State
	Fills        []Fill
	LastError    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// New 创建一个待激活的算法订单并校验参数组合。
func New(typ Type, side Side, tokenID string, size float64, params Params) (*AlgoOrder, error) {
	now := time.Now().UTC()
	ord := &AlgoOrder{
		ID:        uuid.NewString(),
		Type:      typ,
		Side:      side,
		TokenID:   strings.TrimSpace(tokenID),
		Size:      size,
		Status:    StatusPending,
		Params:    params,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := ord.ValidateParams(); err != nil {
		return nil, err
	}
	return ord, nil
}

// Remaining 返回尚未成交的数量。
func (o *AlgoOrder) Remaining() float64 {
	r := o.Size - o.ExecutedSize
	if r < 0 {
		return 0
	}
	return r
}

// ValidateParams 校验订单类型与参数分支是否匹配及各自的业务约束。
func (o *AlgoOrder) ValidateParams() error {
	if o.Side != SideBuy && o.Side != SideSell {
		return fmt.Errorf("order: 无效方向 %q", o.Side)
	}
	if o.TokenID == "" {
		return errors.New("order: tokenId 不能为空")
	}
	if o.Size <= 0 || math.IsNaN(o.Size) || math.IsInf(o.Size, 0) {
		return errors.New("order: size 必须为正数")
	}

	switch o.Type {
	case TypeTWAP:
		p := o.Params.TWAP
		if p == nil {
			return errors.New("order: TWAP 订单缺少参数")
		}
		if p.TotalSize <= 0 {
			return errors.New("order: TWAP total_size 必须为正")
		}
		if p.Duration <= 0 || p.Interval <= 0 {
			return errors.New("order: TWAP duration/interval 必须为正")
		}
		if p.Interval > p.Duration {
			return errors.New("order: TWAP interval 不能大于 duration")
		}
	case TypeStopLoss:
		p := o.Params.Stop
		if p == nil {
			return errors.New("order: 止损订单缺少参数")
		}
		if p.StopLossPrice == nil && p.TakeProfitPrice == nil {
			return errors.New("order: 止损与止盈价格至少配置其一")
		}
		if p.StopLossPrice != nil && *p.StopLossPrice <= 0 {
			return errors.New("order: stop_loss_price 必须为正")
		}
		if p.TakeProfitPrice != nil && *p.TakeProfitPrice <= 0 {
			return errors.New("order: take_profit_price 必须为正")
		}
	case TypeTrailingStop:
		p := o.Params.Trailing
		if p == nil {
			return errors.New("order: 移动止损订单缺少参数")
		}
		if p.TrailPercent <= 0 || p.TrailPercent >= 100 {
			return errors.New("order: trail_percent 必须位于(0,100)")
		}
		if p.TriggerPrice != nil && *p.TriggerPrice <= 0 {
			return errors.New("order: trigger_price 必须为正")
		}
	default:
		return fmt.Errorf("order: 未知订单类型 %q", o.Type)
	}

	return nil
}

// Transition 执行状态迁移，非法迁移返回错误。
func (o *AlgoOrder) Transition(to Status, now time.Time) error {
	if !canTransition(o.Status, to) {
		return fmt.Errorf("order: 不允许的状态迁移 %s -> %s", o.Status, to)
	}
	o.Status = to
	o.UpdatedAt = now.UTC()
	return nil
}

func canTransition(from, to Status) bool {
	if from == to {
		return false
	}
	switch from {
	case StatusPending:
		return to == StatusActive || to == StatusCancelled
	case StatusActive:
		return to == StatusPaused || to == StatusCancelled ||
			to == StatusCompleted || to == StatusFailed
	case StatusPaused:
		return to == StatusActive || to == StatusCancelled
	default:
		// COMPLETED/CANCELLED/FAILED 为终态。
		return false
	}
}

// ApplyFill 追加一笔成交并推进累计成交量，保证单调且不超过目标数量。
func (o *AlgoOrder) ApplyFill(f Fill) error {
	if f.Size <= 0 {
		return errors.New("order: 成交数量必须为正")
	}
	if o.ExecutedSize+f.Size > o.Size+1e-9 {
		return fmt.Errorf("order: 累计成交 %.4f 超过目标数量 %.4f", o.ExecutedSize+f.Size, o.Size)
	}
	o.Fills = append(o.Fills, f)
	o.ExecutedSize += f.Size
	o.UpdatedAt = f.Timestamp.UTC()
	return nil
}
