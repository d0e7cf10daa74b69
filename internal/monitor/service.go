package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"creator-sniper/internal/account"
	"creator-sniper/internal/execution"
	"creator-sniper/internal/store"
	"creator-sniper/internal/target"
)

const schema = `
CREATE TABLE IF NOT EXISTS monitor_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_monitor_events_type ON monitor_events(event_type);
CREATE INDEX IF NOT EXISTS idx_monitor_events_run ON monitor_events(run_id);
`

// Service 负责持久化监控事件，仅供运维查询，启动时不回放。
type Service struct {
	db     *sql.DB
	runID  string
	logger *zap.Logger
}

// NewService 初始化监控服务，创建所需表结构。
func NewService(ctx context.Context, st *store.Store, runID string, logger *zap.Logger) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := st.Migrate(ctx, schema); err != nil {
		return nil, fmt.Errorf("monitor: 初始化表失败: %w", err)
	}
	return &Service{db: st.DB(), runID: runID, logger: logger}, nil
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
	if event.RunID == "" {
		event.RunID = s.runID
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO monitor_events (run_id, event_type, payload, created_at) VALUES (?, ?, ?, ?)`,
		event.RunID, string(event.Type), string(payload), event.Timestamp.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入事件失败: %w", err)
	}
	return nil
}

func (s *Service) record(ctx context.Context, typ EventType, payload interface{}) {
	if err := s.Record(ctx, Event{Type: typ, Payload: payload}); err != nil {
		s.logger.Warn("记录监控事件失败", zap.String("type", string(typ)), zap.Error(err))
	}
}

// RecordStarted 记录运行参数。
func (s *Service) RecordStarted(ctx context.Context, payload StartedPayload) {
	s.record(ctx, EventStarted, payload)
}

// RecordDetection 记录新资产发现。
func (s *Service) RecordDetection(ctx context.Context, acct string, attempt int, asset target.Asset) {
	s.record(ctx, EventDetection, DetectionPayload{Account: acct, Attempt: attempt, Asset: asset})
}

// RecordPurchase 记录成交。
func (s *Service) RecordPurchase(ctx context.Context, acct string, asset target.Asset, conf execution.Confirmation) {
	s.record(ctx, EventPurchase, PurchasePayload{Account: acct, Asset: asset, Confirmation: conf})
}

// RecordStatus 记录状态报告。
func (s *Service) RecordStatus(ctx context.Context, tick uint64, holdings []account.Holding) {
	s.record(ctx, EventStatus, StatusPayload{Tick: tick, Holdings: holdings})
}

// RecordCompletion 记录全部成交。
func (s *Service) RecordCompletion(ctx context.Context, tick uint64, holdings []account.Holding) {
	s.record(ctx, EventCompletion, CompletionPayload{Tick: tick, Holdings: holdings})
}

// RecordError 记录异常。
func (s *Service) RecordError(ctx context.Context, msg string, err error, ctxMap map[string]interface{}) {
	payload := ErrorPayload{Message: msg, Context: ctxMap}
	if err != nil {
		payload.Error = err.Error()
	}
	s.record(ctx, EventError, payload)
}

// ListEvents 按类型检索本次运行的最近事件。
func (s *Service) ListEvents(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT run_id, event_type, payload, created_at FROM monitor_events WHERE run_id = ?`
	args := []interface{}{s.runID}
	if eventType != "" {
		query += ` AND event_type = ?`
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
			runID   string
			typ     string
			payload string
			created string
		)
		if scanErr := rows.Scan(&runID, &typ, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("monitor: 解析事件失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339Nano, created)
		if parseErr != nil {
			ts = time.Time{}
		}

		events = append(events, Event{
			RunID:     runID,
			Type:      EventType(typ),
			Timestamp: ts,
			Payload:   json.RawMessage(payload),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取事件失败: %w", err)
	}
	return events, nil
}
