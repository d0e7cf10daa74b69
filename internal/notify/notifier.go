package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Notifier 为运营通知的发送能力。
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// NotificationError 表示一条通知发送失败，只记录不影响主流程。
type NotificationError struct {
	Channel string
	Err     error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("notify: %s 发送失败: %v", e.Channel, e.Err)
}

func (e *NotificationError) Unwrap() error {
	return e.Err
}

// LogNotifier 将通知写入日志，用于未启用 Telegram 的运行。
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier 创建日志通知器。
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Send 输出通知文本。
func (n *LogNotifier) Send(_ context.Context, text string) error {
	n.logger.Info("通知", zap.String("text", text))
	return nil
}

var (
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = (*TelegramNotifier)(nil)
)
