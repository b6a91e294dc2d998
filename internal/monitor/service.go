package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"astro-trader/internal/executor"
	"astro-trader/internal/store"
)

// Service 负责持久化执行层监控事件。
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

	s := &Service{
		db:     store.DB(),
		logger: logger,
	}

	if err := s.initSchema(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Service) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS monitor_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	order_id TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_monitor_events_type ON monitor_events(event_type);
CREATE INDEX IF NOT EXISTS idx_monitor_events_order ON monitor_events(order_id);
`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("monitor: 初始化表失败: %w", err)
	}
	return nil
}

// Record 写入单个事件。orderID 可为空，用于按订单号回溯。
func (s *Service) Record(ctx context.Context, event Event, orderID string) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("monitor: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO monitor_events (event_type, order_id, payload, created_at) VALUES (?, ?, ?, ?)`,
		string(event.Type), orderID, string(payload), event.Timestamp.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入事件失败: %w", err)
	}

	return nil
}

// RecordExecution 记录订单执行。
func (s *Service) RecordExecution(ctx context.Context, req executor.OrderRequest, result executor.ExecutionResult) {
	if err := s.Record(ctx, Event{
		Type:      EventExecution,
		Timestamp: time.Now().UTC(),
		Payload:   ExecutionPayload{Request: req, Result: result},
	}, result.OrderID); err != nil {
		s.logger.Warn("记录执行事件失败", zap.Error(err))
	}
}

// RecordCancel 记录撤单。
func (s *Service) RecordCancel(ctx context.Context, req executor.CancelRequest, result executor.CancelResult) {
	if err := s.Record(ctx, Event{
		Type:      EventCancel,
		Timestamp: time.Now().UTC(),
		Payload:   CancelPayload{Request: req, Result: result},
	}, req.OrderID); err != nil {
		s.logger.Warn("记录撤单事件失败", zap.Error(err))
	}
}

// RecordAccount 记录账户与持仓快照。
func (s *Service) RecordAccount(ctx context.Context, account executor.Account, positions []executor.Position) {
	if err := s.Record(ctx, Event{
		Type:      EventAccount,
		Timestamp: time.Now().UTC(),
		Payload:   AccountPayload{Account: account, Positions: positions},
	}, ""); err != nil {
		s.logger.Warn("记录账户事件失败", zap.Error(err))
	}
}

// RecordError 记录异常。
func (s *Service) RecordError(ctx context.Context, msg string, err error, ctxMap map[string]interface{}) {
	payload := ErrorPayload{
		Message: msg,
		Error:   err.Error(),
		Context: ctxMap,
	}
	if recErr := s.Record(ctx, Event{
		Type:      EventError,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}, ""); recErr != nil {
		s.logger.Warn("记录异常事件失败", zap.Error(recErr))
	}
}

// ListEvents 按类型检索最近事件。
func (s *Service) ListEvents(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT event_type, payload, created_at FROM monitor_events`
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

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			typ     string
			payload string
			created string
		)
		if scanErr := rows.Scan(&typ, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("monitor: 解析事件失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339, created)
		if parseErr != nil {
			ts = time.Now().UTC()
		}

		events = append(events, Event{
			Type:      EventType(typ),
			Timestamp: ts,
			Payload:   json.RawMessage(payload),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 遍历事件失败: %w", err)
	}

	return events, nil
}

// ListOrderEvents 按订单号检索事件，供超时后的对账使用。
func (s *Service) ListOrderEvents(ctx context.Context, orderID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT event_type, payload, created_at FROM monitor_events WHERE order_id = ? ORDER BY id DESC LIMIT ?`,
		orderID, limit)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询订单事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			typ     string
			payload string
			created string
		)
		if scanErr := rows.Scan(&typ, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("monitor: 解析事件失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339, created)
		if parseErr != nil {
			ts = time.Now().UTC()
		}

		events = append(events, Event{
			Type:      EventType(typ),
			Timestamp: ts,
			Payload:   json.RawMessage(payload),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 遍历事件失败: %w", err)
	}

	return events, nil
}
