package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"creator-sniper/internal/account"
	"creator-sniper/internal/config"
	"creator-sniper/internal/engine"
	"creator-sniper/internal/monitor"
	"creator-sniper/internal/notify"
	"creator-sniper/internal/store"
	"creator-sniper/internal/target"
)

const defaultTickInterval = 30 * time.Second

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
	runID  string

	dialLogs func(ctx context.Context, url string) (target.LogSubscriber, func(), error)
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store, runID string) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
		runID:  runID,

		dialLogs: dialLogSubscriber,
	}
}

// Run 驱动调度循环，全部账户成交或收到退出信号时返回 nil。
func (a *App) Run(ctx context.Context) error {
	journal, err := monitor.NewService(ctx, a.store, a.runID, a.logger.Named("monitor"))
	if err != nil {
		return err
	}

	deps, err := a.build(ctx)
	if err != nil {
		return err
	}
	defer deps.close()

	dispatcher := notify.NewDispatcher(deps.notifier, a.cfg.Telegram.ChunkSize, a.logger.Named("notify"))
	// 通知独立于主循环退出，保证完成消息在进程结束前发出
	notifyCtx, stopNotify := context.WithCancel(context.WithoutCancel(ctx))
	notifyDone := make(chan struct{})
	go func() {
		defer close(notifyDone)
		_ = dispatcher.Run(notifyCtx)
	}()
	defer func() {
		stopNotify()
		<-notifyDone
	}()

	accounts := account.FromConfig(a.cfg.Accounts)
	opts := engine.OptionsFromConfig(a.cfg)
	scheduler, err := engine.NewScheduler(deps.resolver, deps.trader, dispatcher, journal, opts, a.logger.Named("scheduler"))
	if err != nil {
		return err
	}
	sequencer, err := engine.NewSequencer(accounts, scheduler, a.logger.Named("sequencer"))
	if err != nil {
		return err
	}

	a.announce(ctx, dispatcher, journal, accounts)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	if a.cfg.Monitor.Enabled {
		if err := startMonitorServer(runCtx, journal, sequencer, a.cfg.Monitor.Port, a.logger.Named("monitor")); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(runCtx)
	if deps.subscription != nil {
		g.Go(func() error {
			return deps.subscription.Run(gctx)
		})
	}

	sup := &supervisor{reporter: dispatcher, journal: journal, logger: a.logger}
	var completed bool
	g.Go(func() error {
		// 主循环结束即停止订阅等后台任务
		defer cancelRun()
		var loopErr error
		completed, loopErr = runLoop(gctx, sequencer.Tick, a.cfg.Scheduler.TickInterval, deps.wake, sup, a.logger)
		return loopErr
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("系统异常退出: %w", err)
	}
	if completed {
		a.logger.Info("全部账户已成交，准备退出", zap.Uint64("ticks", sequencer.Ticks()))
	} else {
		a.logger.Info("系统收到退出信号，正在停止")
	}
	return nil
}

func (a *App) announce(ctx context.Context, reporter *notify.Dispatcher, journal *monitor.Service, accounts []*account.Account) {
	names := make([]string, 0, len(accounts))
	budgets := make([]string, 0, len(accounts))
	for _, acct := range accounts {
		names = append(names, acct.Name())
		budgets = append(budgets, fmt.Sprintf("%s %s ETH", acct.Name(), acct.SpendAmount().String()))
	}

	a.logger.Info("狙击系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("identity", a.cfg.Target.Identity),
		zap.String("strategy", a.cfg.Target.Strategy),
		zap.Strings("accounts", names),
		zap.Bool("simulation", a.cfg.Execution.Simulation),
	)
	journal.RecordStarted(ctx, monitor.StartedPayload{
		Identity:   a.cfg.Target.Identity,
		Strategy:   a.cfg.Target.Strategy,
		Accounts:   names,
		Simulation: a.cfg.Execution.Simulation,
	})

	mode := ""
	if a.cfg.Execution.Simulation {
		mode = " (simulation)"
	}
	reporter.Notifyf("🚀 Sniper started%s\nWatching `%s` via %s\nAccounts: %s",
		mode, a.cfg.Target.Identity, a.cfg.Target.Strategy, strings.Join(budgets, ", "))
}

// runLoop 立即执行首轮，之后按固定间隔或推送唤醒执行；返回 true 表示全部完成。
func runLoop(ctx context.Context, tick func(context.Context) bool, interval time.Duration, wake <-chan struct{}, sup *supervisor, logger *zap.Logger) (bool, error) {
	if interval <= 0 {
		interval = defaultTickInterval
	}

	if sup.guard(ctx, tick) {
		return true, nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return false, err
			}
			return false, nil
		case <-ticker.C:
		case <-wake:
			logger.Debug("收到新资产推送，提前执行调度")
		}
		if sup.guard(ctx, tick) {
			return true, nil
		}
	}
}
