package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"polyalgo/internal/store"
)

// Service 负责持久化执行事件，供读模型查询。
// 事件写入失败只记日志，不阻断执行主流程。
type Service struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewService 初始化监控服务，创建所需表结构。
func NewService(store *store.Store, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{db: store.DB(), logger: logger}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS execution_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	order_id TEXT,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_execution_events_type ON execution_events(event_type);
CREATE INDEX IF NOT EXISTS idx_execution_events_order ON execution_events(order_id);
`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("monitor: 初始化表失败: %w", err)
	}
	return nil
}

// Record 写入单个事件。
func (s *Service) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("monitor: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO execution_events (event_type, order_id, payload, created_at) VALUES (?, ?, ?, ?)`,
		string(event.Type), event.OrderID, string(payload), event.Timestamp.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入事件失败: %w", err)
	}
	return nil
}

// RecordFill 记录成交事件。
func (s *Service) RecordFill(ctx context.Context, orderID string, payload FillPayload) {
	s.record(ctx, Event{Type: EventFill, OrderID: orderID, Payload: payload})
}

// RecordRejection 记录拒单事件。
func (s *Service) RecordRejection(ctx context.Context, orderID string, payload RejectionPayload) {
	s.record(ctx, Event{Type: EventRejection, OrderID: orderID, Payload: payload})
}

// RecordValidation 记录校验/余额拦截事件。
func (s *Service) RecordValidation(ctx context.Context, orderID string, payload ValidationPayload) {
	s.record(ctx, Event{Type: EventValidation, OrderID: orderID, Payload: payload})
}

// RecordStatus 记录状态迁移事件。
func (s *Service) RecordStatus(ctx context.Context, orderID string, from, to string) {
	s.record(ctx, Event{Type: EventStatus, OrderID: orderID, Payload: StatusPayload{From: from, To: to}})
}

// RecordError 记录执行异常。
func (s *Service) RecordError(ctx context.Context, orderID, message string, err error, fields map[string]interface{}) {
	if err != nil {
		if fields == nil {
			fields = make(map[string]interface{}, 1)
		}
		fields["error"] = err.Error()
	}
	s.record(ctx, Event{Type: EventError, OrderID: orderID, Payload: ErrorPayload{Message: message, Context: fields}})
}

func (s *Service) record(ctx context.Context, event Event) {
	if err := s.Record(ctx, event); err != nil {
		s.logger.Warn("记录执行事件失败", zap.String("type", string(event.Type)), zap.Error(err))
	}
}

// ListEvents 按类型倒序查询事件，limit 限制返回条数。
func (s *Service) ListEvents(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 200
	}

	query := `SELECT id, event_type, order_id, payload, created_at FROM execution_events`
	args := make([]interface{}, 0, 2)
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, string(eventType))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询事件失败: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			event     Event
			typ       string
			orderID   sql.NullString
			payload   string
			createdAt string
		)
		if err := rows.Scan(&event.ID, &typ, &orderID, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("monitor: 解析事件失败: %w", err)
		}
		event.Type = EventType(typ)
		event.OrderID = orderID.String
		if ts, err := time.Parse(time.RFC3339, createdAt); err == nil {
			event.Timestamp = ts
		}
		var raw json.RawMessage = []byte(payload)
		event.Payload = raw
		events = append(events, event)
	}
	return events, rows.Err()
}
