package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"creator-sniper/internal/metrics"
)

const (
	defaultQueueSize      = 256
	defaultEnqueueTimeout = 2 * time.Second
	drainTimeout          = 10 * time.Second
	droppedPreviewRunes   = 80
)

// Dispatcher 异步投递通知：调用方最多等待 enqueueTimeout，不会收到错误。
//
// 单个 worker 顺序发送，保证同一条长消息的分片按序到达。
type Dispatcher struct {
	notifier       Notifier
	chunkSize      int
	queue          chan string
	enqueueTimeout time.Duration
	logger         *zap.Logger
}

// NewDispatcher 创建通知分发器，需调用 Run 启动投递。
func NewDispatcher(notifier Notifier, chunkSize int, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Dispatcher{
		notifier:       notifier,
		chunkSize:      chunkSize,
		queue:          make(chan string, defaultQueueSize),
		enqueueTimeout: defaultEnqueueTimeout,
		logger:         logger,
	}
}

// Notify 将文本放入发送队列；队列已满时等待一段时间，超时则丢弃并记录错误。
func (d *Dispatcher) Notify(text string) {
	select {
	case d.queue <- text:
		return
	default:
	}

	timer := time.NewTimer(d.enqueueTimeout)
	defer timer.Stop()
	select {
	case d.queue <- text:
	case <-timer.C:
		metrics.NotificationFailures.Inc()
		d.logger.Error("通知队列已满，丢弃消息",
			zap.Int("length", len(text)),
			zap.String("dropped", preview(text, droppedPreviewRunes)),
		)
	}
}

// Notifyf 格式化后放入发送队列。
func (d *Dispatcher) Notifyf(format string, args ...any) {
	d.Notify(fmt.Sprintf(format, args...))
}

// NotifyJSON 以缩进 JSON 发送结构化报告，超长时逐段加 (part i/n) 标题。
func (d *Dispatcher) NotifyJSON(title string, payload any) {
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		d.logger.Warn("编码通知内容失败", zap.String("title", title), zap.Error(err))
		return
	}

	// 预留标题与代码块标记的长度
	parts := Split(string(raw), max(d.chunkSize-len([]rune(title))-32, 1))
	if len(parts) == 1 {
		d.Notify(fmt.Sprintf("%s\n```\n%s\n```", title, parts[0]))
		return
	}
	for i, part := range parts {
		d.Notify(fmt.Sprintf("%s (part %d/%d)\n```\n%s\n```", title, i+1, len(parts), part))
	}
}

// Run 顺序投递队列中的消息，ctx 结束后在限定时间内发完剩余消息。
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case text := <-d.queue:
			d.deliver(ctx, text)
		case <-ctx.Done():
			d.drain()
			return nil
		}
	}
}

func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case text := <-d.queue:
			d.deliver(ctx, text)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, text string) {
	for _, chunk := range Split(text, d.chunkSize) {
		if err := d.notifier.Send(ctx, chunk); err != nil {
			metrics.NotificationFailures.Inc()
			d.logger.Warn("通知发送失败", zap.Error(err))
			continue
		}
		metrics.NotificationsSent.Inc()
	}
}

func preview(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}
