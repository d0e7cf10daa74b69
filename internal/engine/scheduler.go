package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"creator-sniper/internal/account"
	"creator-sniper/internal/execution"
	"creator-sniper/internal/metrics"
	"creator-sniper/internal/target"
)

const defaultMaxAttempts = 10

// Scheduler 在有限次数内反复执行"解析目标 -> 购买"。
type Scheduler struct {
	resolver target.Resolver
	trader   execution.Trader
	reporter Reporter
	journal  Journal
	opts     Options
	logger   *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewScheduler 创建重试调度器，journal 可为空。
func NewScheduler(resolver target.Resolver, trader execution.Trader, reporter Reporter, journal Journal, opts Options, logger *zap.Logger) (*Scheduler, error) {
	if resolver == nil || trader == nil || reporter == nil {
		return nil, errors.New("engine: resolver、trader 与 reporter 不能为空")
	}
	if journal == nil {
		journal = nopJournal{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	return &Scheduler{
		resolver: resolver,
		trader:   trader,
		reporter: reporter,
		journal:  journal,
		opts:     opts,
		logger:   logger,
		sleep:    sleepCtx,
	}, nil
}

// AttemptUntilSuccess 最多尝试 MaxAttempts 次，成交即返回 true。
//
// 每次尝试都重新解析目标；任何错误只消耗一次尝试，不会提前退出。
func (s *Scheduler) AttemptUntilSuccess(ctx context.Context, acct *account.Account) bool {
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return false
		}
		if s.attempt(ctx, acct, attempt) {
			return true
		}
		if attempt == s.opts.MaxAttempts {
			break
		}
		if err := s.sleep(ctx, s.opts.AttemptDelay); err != nil {
			return false
		}
	}

	s.logger.Debug("本轮尝试已用尽", zap.String("account", acct.Name()), zap.Int("attempts", s.opts.MaxAttempts))
	return false
}

func (s *Scheduler) attempt(ctx context.Context, acct *account.Account, attempt int) bool {
	name := acct.Name()
	metrics.AttemptsTotal.WithLabelValues(name).Inc()

	// 有在途交易时只跟进回执，不再解析目标或重新报价
	if pending, ok := acct.Pending(); ok {
		if !acct.Claim(pending.Asset) {
			s.logger.Info("账户正在下单，跳过本次尝试", zap.String("account", name))
			return false
		}
		defer acct.Release()
		return s.confirm(ctx, acct, pending, attempt)
	}

	asset, found, err := s.resolver.Resolve(ctx, target.Request{Identity: s.opts.Identity, APIKey: acct.APIKey()})
	if err != nil {
		metrics.LookupErrors.WithLabelValues(name).Inc()
		s.logger.Warn("查询目标资产失败", zap.String("account", name), zap.Int("attempt", attempt), zap.Error(err))
		s.journal.RecordError(ctx, "查询目标资产失败", err, map[string]interface{}{"account": name, "attempt": attempt})
		s.reporter.Notifyf("⚠️ [%s] lookup failed (attempt %d/%d): %v", name, attempt, s.opts.MaxAttempts, err)
		return false
	}
	if !found {
		s.logger.Debug("目标资产尚未创建", zap.String("account", name), zap.Int("attempt", attempt))
		return false
	}
	if !acct.ShouldAttempt(asset.Address) {
		return false
	}
	// 另一条执行路径正在为该账户下单
	if !acct.Claim(asset.Address) {
		s.logger.Info("账户正在下单，跳过本次尝试", zap.String("account", name))
		return false
	}
	defer acct.Release()

	// 持有临界区前另一条路径可能已广播交易
	if pending, ok := acct.Pending(); ok {
		return s.confirm(ctx, acct, pending, attempt)
	}

	s.logger.Info("检测到新资产，开始下单",
		zap.Object("account", acct),
		zap.String("asset", asset.Address.Hex()),
		zap.String("symbol", asset.DisplaySymbol()),
		zap.Int("attempt", attempt),
	)
	s.journal.RecordDetection(ctx, name, attempt, asset)
	s.reporter.Notifyf("🎯 [%s] found %s (%s), buying with %s ETH (attempt %d/%d)",
		name, asset.DisplaySymbol(), asset.Address.Hex(), acct.SpendAmount().String(), attempt, s.opts.MaxAttempts)

	spend := acct.SpendAmount()
	// 退出信号不打断进行中的下单
	conf, err := s.trader.Buy(context.WithoutCancel(ctx), acct, asset)
	if err != nil {
		if hash, ok := execution.PendingTx(err); ok {
			acct.MarkPending(account.PendingPurchase{
				Asset:  asset.Address,
				Symbol: asset.Symbol,
				TxHash: hash,
				Spend:  spend,
			})
		}
		s.fail(ctx, acct, asset, attempt, err)
		return false
	}

	s.succeed(ctx, acct, asset, conf)
	return true
}

// confirm 跟进在途交易。仅在交易确认回滚等明确失败后才清除，允许重新下单。
func (s *Scheduler) confirm(ctx context.Context, acct *account.Account, pending account.PendingPurchase, attempt int) bool {
	asset := target.Asset{Address: pending.Asset, Symbol: pending.Symbol}
	s.logger.Info("跟进在途交易",
		zap.String("account", acct.Name()),
		zap.String("tx", pending.TxHash.Hex()),
		zap.Int("attempt", attempt),
	)

	conf, err := s.trader.Confirm(context.WithoutCancel(ctx), acct, pending)
	if err != nil {
		if _, ok := execution.PendingTx(err); !ok {
			acct.ClearPending()
		}
		s.fail(ctx, acct, asset, attempt, err)
		return false
	}

	s.succeed(ctx, acct, asset, conf)
	return true
}

func (s *Scheduler) fail(ctx context.Context, acct *account.Account, asset target.Asset, attempt int, err error) {
	name := acct.Name()
	stage := "unknown"
	var execErr *execution.ExecutionError
	if errors.As(err, &execErr) {
		stage = execErr.Stage
	}
	metrics.ExecutionErrors.WithLabelValues(name, stage).Inc()
	s.logger.Warn("下单失败", zap.String("account", name), zap.Int("attempt", attempt), zap.Error(err))
	s.journal.RecordError(ctx, "下单失败", err, map[string]interface{}{
		"account": name,
		"attempt": attempt,
		"asset":   asset.Address.Hex(),
		"stage":   stage,
	})

	if hash, ok := execution.PendingTx(err); ok {
		s.reporter.Notifyf("⏳ [%s] tx %s not confirmed yet, will not resend (attempt %d/%d)",
			name, hash.Hex(), attempt, s.opts.MaxAttempts)
		return
	}
	s.reporter.Notifyf("❌ [%s] buy failed (attempt %d/%d): %v", name, attempt, s.opts.MaxAttempts, err)
}

func (s *Scheduler) succeed(ctx context.Context, acct *account.Account, asset target.Asset, conf execution.Confirmation) {
	name := acct.Name()

	// 先落账再通知
	acct.RecordSuccess(asset.Address)
	metrics.PurchasesTotal.WithLabelValues(name).Inc()

	s.logger.Info("下单成功",
		zap.String("account", name),
		zap.String("asset", asset.Address.Hex()),
		zap.String("tx", conf.TxHash.Hex()),
		zap.Bool("simulated", conf.Simulated),
	)
	s.journal.RecordPurchase(ctx, name, asset, conf)

	prefix := "✅"
	if conf.Simulated {
		prefix = "🧪 (simulated)"
	}
	s.reporter.Notifyf("%s [%s] bought %s with %s ETH\n%s",
		prefix, name, asset.DisplaySymbol(), conf.Spend.String(), conf.ExplorerURL(s.opts.ExplorerTxURL))
	s.reporter.NotifyJSON(fmt.Sprintf("🧾 [%s] receipt", name), conf)
}
