package app

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"polyalgo/internal/monitor"
	"polyalgo/internal/order"
	"polyalgo/internal/session"
	"polyalgo/internal/store"
)

// CommandResult 为所有订单命令的统一返回。
type CommandResult struct {
	Success bool        `json:"success"`
	OrderID string      `json:"order_id,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// OrderView 为订单读模型。
type OrderView struct {
	ID           string       `json:"id"`
	Type         order.Type   `json:"type"`
	Side         order.Side   `json:"side"`
	TokenID      string       `json:"token_id"`
	Size         float64      `json:"size"`
	ExecutedSize float64      `json:"executed_size"`
	Status       order.Status `json:"status"`
	Fills        []order.Fill `json:"execution_history"`
	LastError    string       `json:"last_error,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// SessionView 为会话读模型。
type SessionView struct {
	EOAAddress   string `json:"eoa_address"`
	ProxyAddress string `json:"proxy_address"`
	IsActive     bool   `json:"is_active"`
}

// Service 暴露订单 CRUD 命令与读模型，供 API/CLI 使用。
type Service struct {
	store    *store.OrderStore
	sessions *session.Manager
	journal  *monitor.Service
	logger   *zap.Logger
}

// NewService 创建命令服务。
func NewService(orderStore *store.OrderStore, sessions *session.Manager, journal *monitor.Service, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    orderStore,
		sessions: sessions,
		journal:  journal,
		logger:   logger,
	}
}

// CreateOrder 创建并立即激活一个算法订单。
func (s *Service) CreateOrder(ctx context.Context, typ order.Type, side order.Side, tokenID string, size float64, params order.Params) CommandResult {
	ord, err := order.New(typ, side, tokenID, size, params)
	if err != nil {
		return CommandResult{Error: err.Error()}
	}

	if err := ord.Transition(order.StatusActive, time.Now().UTC()); err != nil {
		return CommandResult{Error: err.Error()}
	}

	if err := s.store.Save(ctx, ord); err != nil {
		return CommandResult{Error: err.Error()}
	}

	s.journal.RecordStatus(ctx, ord.ID, string(order.StatusPending), string(order.StatusActive))
	s.logger.Info("算法订单已创建",
		zap.String("order_id", ord.ID),
		zap.String("type", string(typ)),
		zap.String("side", string(side)),
		zap.Float64("size", size),
	)
	return CommandResult{Success: true, OrderID: ord.ID}
}

// PauseOrder 暂停订单，最迟在下一轮状态复查时生效。
func (s *Service) PauseOrder(ctx context.Context, id string) CommandResult {
	return s.transition(ctx, id, order.StatusPaused)
}

// ResumeOrder 恢复被暂停的订单。
func (s *Service) ResumeOrder(ctx context.Context, id string) CommandResult {
	return s.transition(ctx, id, order.StatusActive)
}

// CancelOrder 取消订单。
func (s *Service) CancelOrder(ctx context.Context, id string) CommandResult {
	return s.transition(ctx, id, order.StatusCancelled)
}

func (s *Service) transition(ctx context.Context, id string, to order.Status) CommandResult {
	ord, err := s.store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			return CommandResult{OrderID: id, Error: "订单不存在"}
		}
		return CommandResult{OrderID: id, Error: err.Error()}
	}

	from := ord.Status
	now := time.Now().UTC()
	if err := ord.Transition(to, now); err != nil {
		return CommandResult{OrderID: id, Error: err.Error()}
	}
	// 受保护写入：当前状态已被并发修改时放弃，调用方重试。
	if err := s.store.UpdateStatus(ctx, id, from, to, now); err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			return CommandResult{OrderID: id, Error: "订单状态已变更，请重试"}
		}
		return CommandResult{OrderID: id, Error: err.Error()}
	}

	s.journal.RecordStatus(ctx, id, string(from), string(to))
	return CommandResult{Success: true, OrderID: id}
}

// GetOrder 返回单个订单的读模型。
func (s *Service) GetOrder(ctx context.Context, id string) CommandResult {
	ord, err := s.store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			return CommandResult{OrderID: id, Error: "订单不存在"}
		}
		return CommandResult{OrderID: id, Error: err.Error()}
	}
	return CommandResult{Success: true, OrderID: id, Data: viewOf(ord)}
}

// ListOrders 返回全部订单的读模型。
func (s *Service) ListOrders(ctx context.Context) CommandResult {
	orders, err := s.store.List(ctx)
	if err != nil {
		return CommandResult{Error: err.Error()}
	}
	views := make([]OrderView, 0, len(orders))
	for _, ord := range orders {
		views = append(views, viewOf(ord))
	}
	return CommandResult{Success: true, Data: views}
}

// SessionStatus 返回当前会话概要。
func (s *Service) SessionStatus() SessionView {
	eoa, proxy, active := s.sessions.Status()
	return SessionView{EOAAddress: eoa, ProxyAddress: proxy, IsActive: active}
}

func viewOf(ord *order.AlgoOrder) OrderView {
	return OrderView{
		ID:           ord.ID,
		Type:         ord.Type,
		Side:         ord.Side,
		TokenID:      ord.TokenID,
		Size:         ord.Size,
		ExecutedSize: ord.ExecutedSize,
		Status:       ord.Status,
		Fills:        ord.Fills,
		LastError:    ord.LastError,
		CreatedAt:    ord.CreatedAt,
		UpdatedAt:    ord.UpdatedAt,
	}
}
