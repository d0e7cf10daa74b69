package monitor

import (
	"time"

	"creator-sniper/internal/account"
	"creator-sniper/internal/execution"
	"creator-sniper/internal/target"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventStarted    EventType = "started"
	EventDetection  EventType = "detection"
	EventPurchase   EventType = "purchase"
	EventError      EventType = "error"
	EventStatus     EventType = "status"
	EventCompletion EventType = "completion"
)

// Event 封装通用监控事件。
type Event struct {
	RunID     string      `json:"run_id"`
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// StartedPayload 记录本次运行的参数。
type StartedPayload struct {
	Identity   string   `json:"identity"`
	Strategy   string   `json:"strategy"`
	Accounts   []string `json:"accounts"`
	Simulation bool     `json:"simulation"`
}

// DetectionPayload 记录某账户首次看到的新资产。
type DetectionPayload struct {
	Account string       `json:"account"`
	Attempt int          `json:"attempt"`
	Asset   target.Asset `json:"asset"`
}

// PurchasePayload 记录成交回执。
type PurchasePayload struct {
	Account      string                 `json:"account"`
	Asset        target.Asset           `json:"asset"`
	Confirmation execution.Confirmation `json:"confirmation"`
}

// StatusPayload 记录周期性状态报告。
type StatusPayload struct {
	Tick     uint64            `json:"tick"`
	Holdings []account.Holding `json:"holdings"`
}

// CompletionPayload 记录全部账户成交。
type CompletionPayload struct {
	Tick     uint64            `json:"tick"`
	Holdings []account.Holding `json:"holdings"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}
