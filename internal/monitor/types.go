package monitor

import "time"

// EventType 标识事件类别。
type EventType string

const (
	EventFill       EventType = "fill"
	EventRejection  EventType = "rejection"
	EventValidation EventType = "validation"
	EventStatus     EventType = "status_change"
	EventError      EventType = "error"
)

// Event 为一条持久化的执行事件。
type Event struct {
	ID        int64       `json:"id,omitempty"`
	Type      EventType   `json:"type"`
	OrderID   string      `json:"order_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// FillPayload 记录一笔成交。
type FillPayload struct {
	TokenID string  `json:"token_id"`
	Side    string  `json:"side"`
	Price   float64 `json:"price"`
	Size    float64 `json:"size"`
	Reason  string  `json:"reason,omitempty"`
}

// RejectionPayload 记录一次交易所拒单。
type RejectionPayload struct {
	TokenID  string `json:"token_id"`
	Message  string `json:"message"`
	Terminal bool   `json:"terminal"`
}

// ValidationPayload 记录校验或余额拦截。
type ValidationPayload struct {
	Stage  string      `json:"stage"`
	Errors interface{} `json:"errors"`
}

// StatusPayload 记录状态迁移。
type StatusPayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ErrorPayload 记录执行异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
}
