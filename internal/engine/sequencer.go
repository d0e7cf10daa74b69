package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"creator-sniper/internal/account"
	"creator-sniper/internal/metrics"
)

// Sequencer 按声明顺序驱动各账户的重试循环，并判断整体是否完成。
//
// 账户 N+1 的循环只会在账户 N 的循环返回后开始；Tick 不可并发调用。
type Sequencer struct {
	accounts  []*account.Account
	scheduler *Scheduler
	reporter  Reporter
	journal   Journal
	opts      Options
	logger    *zap.Logger

	ticks     atomic.Uint64
	completed atomic.Bool
}

// NewSequencer 创建多账户调度器，账户顺序即优先级。
func NewSequencer(accounts []*account.Account, scheduler *Scheduler, logger *zap.Logger) (*Sequencer, error) {
	if len(accounts) == 0 {
		return nil, errors.New("engine: 至少需要一个出资账户")
	}
	if scheduler == nil {
		return nil, errors.New("engine: scheduler 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sequencer{
		accounts:  accounts,
		scheduler: scheduler,
		reporter:  scheduler.reporter,
		journal:   scheduler.journal,
		opts:      scheduler.opts,
		logger:    logger,
	}, nil
}

// Tick 执行一轮调度，所有账户均已成交时返回 true。
func (q *Sequencer) Tick(ctx context.Context) bool {
	if q.completed.Load() {
		return true
	}

	n := q.ticks.Add(1)
	metrics.TicksTotal.Inc()
	start := time.Now()
	defer func() { metrics.TickLatency.Observe(time.Since(start).Seconds()) }()

	for _, acct := range q.accounts {
		if ctx.Err() != nil {
			return false
		}
		if acct.Settled() {
			continue
		}
		q.scheduler.AttemptUntilSuccess(ctx, acct)
	}

	// 状态在报告时刻计算
	holdings := account.Snapshot(q.accounts)
	metrics.SettledAccounts.Set(float64(countSettled(holdings)))

	if account.AllSettled(q.accounts) {
		q.complete(ctx, n, holdings)
		return true
	}

	if q.opts.StatusEvery > 0 && n%uint64(q.opts.StatusEvery) == 0 {
		line := account.StatusLine(holdings)
		q.logger.Info("状态报告", zap.Uint64("tick", n), zap.String("holdings", line))
		q.journal.RecordStatus(ctx, n, holdings)
		q.reporter.Notifyf("📊 Status (tick %d): %s", n, line)
	}
	return false
}

func (q *Sequencer) complete(ctx context.Context, tick uint64, holdings []account.Holding) {
	if !q.completed.CompareAndSwap(false, true) {
		return
	}
	line := account.StatusLine(holdings)
	q.logger.Info("全部账户已成交", zap.Uint64("tick", tick), zap.String("holdings", line))
	q.journal.RecordCompletion(ctx, tick, holdings)
	q.reporter.Notifyf("🏁 All accounts settled: %s", line)
}

// Ticks 返回已执行的轮次。
func (q *Sequencer) Ticks() uint64 {
	return q.ticks.Load()
}

// Completed 返回是否已全部成交。
func (q *Sequencer) Completed() bool {
	return q.completed.Load()
}

// Snapshot 返回当前各账户状态。
func (q *Sequencer) Snapshot() []account.Holding {
	return account.Snapshot(q.accounts)
}

func countSettled(holdings []account.Holding) int {
	n := 0
	for _, h := range holdings {
		if h.Asset != "" {
			n++
		}
	}
	return n
}
