package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"polyalgo/internal/order"
)

// ErrOrderNotFound 表示订单不存在。
var ErrOrderNotFound = errors.New("store: order not found")

// ErrStatusConflict 表示受保护的状态迁移没有命中预期的当前状态，
// 订单已被并发修改或不存在。
var ErrStatusConflict = errors.New("store: order status conflict")

// OrderStore 负责算法订单及其成交历史的持久化。
type OrderStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewOrderStore 创建订单存储并初始化表结构。
func NewOrderStore(store *Store, logger *zap.Logger) (*OrderStore, error) {
	if store == nil {
		return nil, errors.New("store: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &OrderStore{db: store.DB(), logger: logger}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *OrderStore) initSchema() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS algo_orders (
			id TEXT PRIMARY KEY,
			order_type TEXT NOT NULL,
			side TEXT NOT NULL,
			token_id TEXT NOT NULL,
			size REAL NOT NULL,
			executed_size REAL NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			params TEXT NOT NULL,
			state TEXT NOT NULL,
			last_error TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_algo_orders_status ON algo_orders(status);`,
		`CREATE TABLE IF NOT EXISTS algo_fills (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			order_id TEXT NOT NULL REFERENCES algo_orders(id),
			price REAL NOT NULL,
			size REAL NOT NULL,
			filled_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_algo_fills_order ON algo_fills(order_id);`,
	}

	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("store: 初始化订单表结构失败: %w", err)
		}
	}
	return nil
}

// Save 写入新订单或更新其进度快照，不触碰成交历史。
// 状态列只在首次插入时写入：更新时刻意不覆盖，防止基于陈旧快照的
// 回写吃掉并发的暂停/取消，状态变更必须经由 UpdateStatus。
func (s *OrderStore) Save(ctx context.Context, ord *order.AlgoOrder) error {
	params, err := json.Marshal(ord.Params)
	if err != nil {
		return fmt.Errorf("store: 序列化订单参数失败: %w", err)
	}
	state, err := json.Marshal(ord.State)
	if err != nil {
		return fmt.Errorf("store: 序列化策略状态失败: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO algo_orders (id, order_type, side, token_id, size, executed_size, status, params, state, last_error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			executed_size = excluded.executed_size,
			params = excluded.params,
			state = excluded.state,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`,
		ord.ID, string(ord.Type), string(ord.Side), ord.TokenID,
		ord.Size, ord.ExecutedSize, string(ord.Status),
		string(params), string(state), ord.LastError,
		ord.CreatedAt.UTC().Format(time.RFC3339Nano),
		ord.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("store: 保存订单失败: %w", err)
	}
	return nil
}

// UpdateStatus 执行受保护的状态迁移：只有当前状态仍为 from 时才写入，
// 否则返回 ErrStatusConflict，由调用方决定放弃或重读。
func (s *OrderStore) UpdateStatus(ctx context.Context, id string, from, to order.Status, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE algo_orders SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), now.UTC().Format(time.RFC3339Nano), id, string(from),
	)
	if err != nil {
		return fmt.Errorf("store: 更新订单状态失败: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: 读取状态更新结果失败: %w", err)
	}
	if affected == 0 {
		return ErrStatusConflict
	}
	return nil
}

// AppendFill 追加一笔成交记录。成交只增不改。
func (s *OrderStore) AppendFill(ctx context.Context, orderID string, f order.Fill) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO algo_fills (order_id, price, size, filled_at) VALUES (?, ?, ?, ?)`,
		orderID, f.Price, f.Size, f.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("store: 写入成交记录失败: %w", err)
	}
	return nil
}

// Load 读取单个订单及其全部成交历史。
func (s *OrderStore) Load(ctx context.Context, id string) (*order.AlgoOrder, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, order_type, side, token_id, size, executed_size, status, params, state, last_error, created_at, updated_at
		 FROM algo_orders WHERE id = ?`, id)

	ord, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	if err := s.attachFills(ctx, ord); err != nil {
		return nil, err
	}
	return ord, nil
}

// ListActive 返回全部 ACTIVE 状态的订单，含成交历史。
func (s *OrderStore) ListActive(ctx context.Context) ([]*order.AlgoOrder, error) {
	return s.list(ctx, `SELECT id, order_type, side, token_id, size, executed_size, status, params, state, last_error, created_at, updated_at
		 FROM algo_orders WHERE status = ? ORDER BY created_at`, string(order.StatusActive))
}

// List 返回全部订单，供读模型使用。
func (s *OrderStore) List(ctx context.Context) ([]*order.AlgoOrder, error) {
	return s.list(ctx, `SELECT id, order_type, side, token_id, size, executed_size, status, params, state, last_error, created_at, updated_at
		 FROM algo_orders ORDER BY created_at`)
}

func (s *OrderStore) list(ctx context.Context, query string, args ...interface{}) ([]*order.AlgoOrder, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: 查询订单失败: %w", err)
	}
	defer rows.Close()

	var orders []*order.AlgoOrder
	for rows.Next() {
		ord, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, ord)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: 遍历订单失败: %w", err)
	}

	for _, ord := range orders {
		if err := s.attachFills(ctx, ord); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (s *OrderStore) attachFills(ctx context.Context, ord *order.AlgoOrder) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT price, size, filled_at FROM algo_fills WHERE order_id = ? ORDER BY id`, ord.ID)
	if err != nil {
		return fmt.Errorf("store: 查询成交历史失败: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			f        order.Fill
			filledAt string
		)
		if err := rows.Scan(&f.Price, &f.Size, &filledAt); err != nil {
			return fmt.Errorf("store: 解析成交记录失败: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, filledAt)
		if err != nil {
			return fmt.Errorf("store: 解析成交时间失败: %w", err)
		}
		f.Timestamp = ts
		ord.Fills = append(ord.Fills, f)
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*order.AlgoOrder, error) {
	var (
		ord       order.AlgoOrder
		typ       string
		side      string
		status    string
		params    string
		state     string
		lastError sql.NullString
		createdAt string
		updatedAt string
	)

	err := row.Scan(&ord.ID, &typ, &side, &ord.TokenID, &ord.Size, &ord.ExecutedSize,
		&status, &params, &state, &lastError, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	ord.Type = order.Type(typ)
	ord.Side = order.Side(side)
	ord.Status = order.Status(status)
	ord.LastError = lastError.String

	if err := json.Unmarshal([]byte(params), &ord.Params); err != nil {
		return nil, fmt.Errorf("store: 解析订单参数失败: %w", err)
	}
	if err := json.Unmarshal([]byte(state), &ord.State); err != nil {
		return nil, fmt.Errorf("store: 解析策略状态失败: %w", err)
	}
	if ord.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("store: 解析创建时间失败: %w", err)
	}
	if ord.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("store: 解析更新时间失败: %w", err)
	}

	return &ord, nil
}
