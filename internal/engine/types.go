package engine

import (
	"context"
	"time"

	"creator-sniper/internal/account"
	"creator-sniper/internal/config"
	"creator-sniper/internal/execution"
	"creator-sniper/internal/target"
)

// Reporter 为运营通知出口，调用方不关心投递结果。
type Reporter interface {
	Notify(text string)
	Notifyf(format string, args ...any)
	NotifyJSON(title string, payload any)
}

// Journal 记录引擎状态迁移，monitor.Service 满足该接口。
type Journal interface {
	RecordDetection(ctx context.Context, acct string, attempt int, asset target.Asset)
	RecordPurchase(ctx context.Context, acct string, asset target.Asset, conf execution.Confirmation)
	RecordStatus(ctx context.Context, tick uint64, holdings []account.Holding)
	RecordCompletion(ctx context.Context, tick uint64, holdings []account.Holding)
	RecordError(ctx context.Context, msg string, err error, ctxMap map[string]interface{})
}

// Options 为引擎运行参数。
type Options struct {
	Identity      string
	MaxAttempts   int
	AttemptDelay  time.Duration
	StatusEvery   int
	ExplorerTxURL string
}

// OptionsFromConfig 由配置组装引擎参数。
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Identity:      cfg.Target.Identity,
		MaxAttempts:   cfg.Scheduler.MaxAttempts,
		AttemptDelay:  cfg.Scheduler.AttemptDelay,
		StatusEvery:   cfg.Scheduler.StatusEvery,
		ExplorerTxURL: cfg.Chain.ExplorerTxURL,
	}
}

type nopJournal struct{}

func (nopJournal) RecordDetection(context.Context, string, int, target.Asset) {}

func (nopJournal) RecordPurchase(context.Context, string, target.Asset, execution.Confirmation) {}

func (nopJournal) RecordStatus(context.Context, uint64, []account.Holding) {}

func (nopJournal) RecordCompletion(context.Context, uint64, []account.Holding) {}

func (nopJournal) RecordError(context.Context, string, error, map[string]interface{}) {}

// sleepCtx 等待 d，ctx 结束时提前返回。
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
