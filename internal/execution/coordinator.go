package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"polyalgo/internal/config"
	"polyalgo/internal/exchange"
	"polyalgo/internal/monitor"
	"polyalgo/internal/order"
	"polyalgo/internal/retry"
	"polyalgo/internal/risk"
	"polyalgo/internal/session"
	"polyalgo/internal/store"
	"polyalgo/internal/strategy"
)

// 市价委托的限价钳位区间。
const (
	minLimitPrice = 0.01
	maxLimitPrice = 0.99
)

type venue interface {
	Price(ctx context.Context, tokenID string) (float64, error)
	Balance(ctx context.Context, sess *session.Session, kind exchange.BalanceKind, tokenID string) (float64, error)
	SubmitOrder(ctx context.Context, sess *session.Session, req exchange.OrderRequest) (exchange.SubmitResult, error)
}

type orderStore interface {
	Load(ctx context.Context, id string) (*order.AlgoOrder, error)
	Save(ctx context.Context, ord *order.AlgoOrder) error
	UpdateStatus(ctx context.Context, id string, from, to order.Status, now time.Time) error
	AppendFill(ctx context.Context, orderID string, f order.Fill) error
	ListActive(ctx context.Context) ([]*order.AlgoOrder, error)
}

type sessionSource interface {
	Active() *session.Session
}

// Coordinator 驱动算法订单的执行：每个调度周期对所有 ACTIVE 订单
// 取价、评估、校验、查余额并提交。不同订单可以并发评估，
// 同一订单的完整处理过程串行，提交在途时不会开启第二次评估。
type Coordinator struct {
	store    orderStore
	venue    venue
	sessions sessionSource
	journal  *monitor.Service
	retryCfg retry.Config
	slippage float64
	logger   *zap.Logger
	clock    func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewCoordinator 创建执行协调器。
func NewCoordinator(store orderStore, venue venue, sessions sessionSource, journal *monitor.Service, cfg config.ExecutionConfig, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}

	retryCfg := retry.Config{
		MaxRetries:   cfg.Retry.MaxRetries,
		InitialDelay: cfg.Retry.InitialDelay,
		MaxDelay:     cfg.Retry.MaxDelay,
		Multiplier:   cfg.Retry.Multiplier,
		Markers:      retry.DefaultMarkers(),
	}

	slippage := cfg.Slippage
	if slippage <= 0 {
		slippage = 0.05
	}

	return &Coordinator{
		store:    store,
		venue:    venue,
		sessions: sessions,
		journal:  journal,
		retryCfg: retryCfg,
		slippage: slippage,
		logger:   logger,
		clock:    func() time.Time { return time.Now().UTC() },
		inflight: make(map[string]struct{}),
	}
}

// Tick 对全部活跃订单执行一轮评估。单个订单的业务失败只记录
// 事件，不会中断其余订单。
func (c *Coordinator) Tick(ctx context.Context) error {
	orders, err := c.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("execution: 加载活跃订单失败: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(8)

	for _, ord := range orders {
		id := ord.ID
		if !c.begin(id) {
			// 上一轮的提交仍在途，跳过，防止同一周期重复切片。
			continue
		}
		group.Go(func() error {
			defer c.end(id)
			if err := c.processOrder(groupCtx, id); err != nil {
				c.logger.Error("处理订单失败", zap.String("order_id", id), zap.Error(err))
				c.journal.RecordError(groupCtx, id, "处理订单失败", err, nil)
			}
			return nil
		})
	}

	return group.Wait()
}

func (c *Coordinator) begin(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[id]; busy {
		return false
	}
	c.inflight[id] = struct{}{}
	return true
}

func (c *Coordinator) end(id string) {
	c.mu.Lock()
	delete(c.inflight, id)
	c.mu.Unlock()
}

func (c *Coordinator) processOrder(ctx context.Context, id string) error {
	ord, err := c.store.Load(ctx, id)
	if err != nil {
		return err
	}
	if ord.Status != order.StatusActive {
		return nil
	}

	price, err := retry.Do(ctx, c.retryCfg, "fetch_price", c.logger, func(ctx context.Context) (float64, error) {
		return c.venue.Price(ctx, ord.TokenID)
	})
	if err != nil {
		// 拿不到价格不是错误：本轮跳过，订单状态保持不变。
		c.logger.Debug("价格暂不可得，跳过本轮",
			zap.String("order_id", ord.ID), zap.Error(err))
		return nil
	}

	now := c.clock()
	decision, err := strategy.Evaluate(ord, price, now)
	if err != nil {
		return c.fail(ctx, ord, err.Error())
	}

	if !decision.ShouldExecute {
		ord.State = decision.State
		ord.UpdatedAt = now
		if err := c.store.Save(ctx, ord); err != nil {
			return err
		}
		if decision.IsComplete {
			return c.setStatus(ctx, ord.ID, order.StatusCompleted)
		}
		return nil
	}

	limitPrice := c.limitPrice(ord, price)

	if result := risk.ValidateOrder(ord.TokenID, ord.Side, decision.ExecuteSize, limitPrice); !result.Valid {
		c.journal.RecordValidation(ctx, ord.ID, monitor.ValidationPayload{Stage: "validate", Errors: result.Errors})
		ord.State = decision.State
		ord.LastError = result.Error()
		ord.UpdatedAt = now
		return c.store.Save(ctx, ord)
	}

	sess := c.sessions.Active()
	if sess == nil {
		return c.noSession(ctx, ord, decision)
	}

	kind := exchange.BalanceCollateral
	if ord.Side == order.SideSell {
		kind = exchange.BalanceConditional
	}
	available, err := retry.Do(ctx, c.retryCfg, "fetch_balance", c.logger, func(ctx context.Context) (float64, error) {
		return c.venue.Balance(ctx, sess, kind, ord.TokenID)
	})
	if err != nil {
		c.journal.RecordError(ctx, ord.ID, "获取余额失败", err, nil)
		ord.State = decision.State
		ord.LastError = err.Error()
		ord.UpdatedAt = now
		return c.store.Save(ctx, ord)
	}

	if result := risk.CheckBalance(ord.Side, decision.ExecuteSize, limitPrice, available); !result.Valid {
		c.journal.RecordValidation(ctx, ord.ID, monitor.ValidationPayload{Stage: "balance", Errors: result.Errors})
		ord.State = decision.State
		ord.LastError = result.Error()
		ord.UpdatedAt = now
		return c.store.Save(ctx, ord)
	}

	// 任何副作用前重新确认状态：pause/cancel 必须在此生效。
	fresh, err := c.store.Load(ctx, ord.ID)
	if err != nil {
		return err
	}
	if fresh.Status != order.StatusActive {
		return nil
	}

	// 提交时刻重新捕获会话，避免用被清除的陈旧凭证下单。
	sess = c.sessions.Active()
	if sess == nil {
		return c.noSession(ctx, ord, decision)
	}

	req := exchange.OrderRequest{
		TokenID:  ord.TokenID,
		Side:     ord.Side,
		Size:     decision.ExecuteSize,
		Price:    limitPrice,
		ClientID: uuid.NewString(),
	}

	outcome, err := retry.DoResult(ctx, c.retryCfg, "submit_order", c.logger, func(ctx context.Context) (retry.Outcome[exchange.SubmitResult], error) {
		res, err := c.venue.SubmitOrder(ctx, sess, req)
		if err != nil {
			return retry.Outcome[exchange.SubmitResult]{}, err
		}
		return retry.Outcome[exchange.SubmitResult]{Success: res.Success, Value: res, Err: res.Err}, nil
	})
	if err != nil {
		c.journal.RecordError(ctx, ord.ID, "提交委托失败", err, map[string]interface{}{"token_id": ord.TokenID})
		ord.State = decision.State
		ord.LastError = err.Error()
		ord.UpdatedAt = now
		return c.store.Save(ctx, ord)
	}

	if !outcome.Success {
		return c.rejected(ctx, ord, decision, outcome.Err)
	}

	fill := order.Fill{Price: limitPrice, Size: decision.ExecuteSize, Timestamp: now}
	ord.State = decision.State
	if err := ord.ApplyFill(fill); err != nil {
		return err
	}
	if err := c.store.AppendFill(ctx, ord.ID, fill); err != nil {
		return err
	}

	// 成交进度无条件落库；状态迁移单独做受保护写入，
	// 提交窗口内发生的外部暂停/取消不会被快照回写吃掉。
	ord.LastError = ""
	if err := c.store.Save(ctx, ord); err != nil {
		return err
	}
	if decision.IsComplete {
		if err := c.setStatus(ctx, ord.ID, order.StatusCompleted); err != nil {
			return err
		}
	}

	c.journal.RecordFill(ctx, ord.ID, monitor.FillPayload{
		TokenID: ord.TokenID,
		Side:    string(ord.Side),
		Price:   fill.Price,
		Size:    fill.Size,
		Reason:  decision.Reason,
	})
	c.logger.Info("委托执行成功",
		zap.String("order_id", ord.ID),
		zap.String("type", string(ord.Type)),
		zap.Float64("price", fill.Price),
		zap.Float64("size", fill.Size),
		zap.Float64("executed", ord.ExecutedSize),
	)
	return nil
}

// limitPrice 计算本次提交的限价：显式限价直接使用，市价方向
// 叠加滑点容忍并钳位到有效报价区间。
func (c *Coordinator) limitPrice(ord *order.AlgoOrder, price float64) float64 {
	if p := ord.Params.Trailing; p != nil && p.LimitPrice != nil {
		return clampPrice(*p.LimitPrice)
	}

	var adjusted float64
	if ord.Side == order.SideBuy {
		adjusted = price * (1 + c.slippage)
	} else {
		adjusted = price * (1 - c.slippage)
	}
	return clampPrice(adjusted)
}

func clampPrice(p float64) float64 {
	if p < minLimitPrice {
		return minLimitPrice
	}
	if p > maxLimitPrice {
		return maxLimitPrice
	}
	return p
}

// noSession 处理会话缺失：本轮终止且不重试，订单保持 ACTIVE，
// 等待外部重新初始化会话。
func (c *Coordinator) noSession(ctx context.Context, ord *order.AlgoOrder, decision strategy.Decision) error {
	c.journal.RecordError(ctx, ord.ID, "没有可用的交易会话", session.ErrNoSession, nil)
	ord.State = decision.State
	ord.LastError = session.ErrNoSession.Error()
	ord.UpdatedAt = c.clock()
	return c.store.Save(ctx, ord)
}

// rejected 处理交易所拒单：终结性原因转入 FAILED，否则订单保持
// ACTIVE 等待下一轮。
func (c *Coordinator) rejected(ctx context.Context, ord *order.AlgoOrder, decision strategy.Decision, reason string) error {
	terminal := exchange.IsTerminalRejection(reason)
	c.journal.RecordRejection(ctx, ord.ID, monitor.RejectionPayload{
		TokenID:  ord.TokenID,
		Message:  reason,
		Terminal: terminal,
	})

	ord.State = decision.State
	ord.LastError = reason
	ord.UpdatedAt = c.clock()
	if err := c.store.Save(ctx, ord); err != nil {
		return err
	}
	if terminal {
		return c.setStatus(ctx, ord.ID, order.StatusFailed)
	}
	return nil
}

// fail 将订单转入 FAILED 并记录最后错误，保证不会出现
// 无人认领的不可恢复状态。
func (c *Coordinator) fail(ctx context.Context, ord *order.AlgoOrder, reason string) error {
	ord.LastError = reason
	ord.UpdatedAt = c.clock()
	if err := c.store.Save(ctx, ord); err != nil {
		return err
	}
	return c.setStatus(ctx, ord.ID, order.StatusFailed)
}

// setStatus 执行 ACTIVE 起点的受保护状态迁移。迁移落空说明订单
// 在处理窗口内被外部暂停或取消，保留外部写入的状态。
func (c *Coordinator) setStatus(ctx context.Context, id string, to order.Status) error {
	if err := c.store.UpdateStatus(ctx, id, order.StatusActive, to, c.clock()); err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			c.logger.Warn("状态迁移落空，订单已被外部修改",
				zap.String("order_id", id),
				zap.String("to", string(to)),
			)
			return nil
		}
		return err
	}
	c.journal.RecordStatus(ctx, id, string(order.StatusActive), string(to))
	return nil
}
