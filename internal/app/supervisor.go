package app

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"creator-sniper/internal/engine"
	"creator-sniper/internal/metrics"
)

// UnhandledFault 表示逃逸出一轮调度的未预期异常。
type UnhandledFault struct {
	Value any
	Stack []byte
}

func (f *UnhandledFault) Error() string {
	return fmt.Sprintf("app: 未处理异常: %v", f.Value)
}

// Unwrap 在 panic 值本身是 error 时返回它。
func (f *UnhandledFault) Unwrap() error {
	if err, ok := f.Value.(error); ok {
		return err
	}
	return nil
}

// supervisor 是调度循环唯一的兜底边界：捕获异常后记录并通知，循环继续。
type supervisor struct {
	reporter engine.Reporter
	journal  engine.Journal
	logger   *zap.Logger
}

func (s *supervisor) guard(ctx context.Context, tick func(context.Context) bool) (done bool) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		fault := &UnhandledFault{Value: r, Stack: debug.Stack()}
		metrics.FaultsTotal.Inc()
		s.logger.Error("调度轮次出现未处理异常", zap.Error(fault), zap.ByteString("stack", fault.Stack))
		if s.journal != nil {
			s.journal.RecordError(ctx, "调度轮次出现未处理异常", fault, nil)
		}
		s.reporter.Notifyf("🚨 Unhandled fault, continuing on next tick: %v", fault.Value)
		done = false
	}()
	return tick(ctx)
}
