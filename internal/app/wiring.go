package app

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"creator-sniper/internal/config"
	"creator-sniper/internal/execution"
	"creator-sniper/internal/notify"
	"creator-sniper/internal/target"
)

// subscription 为需要后台常驻的推送式解析器。
type subscription interface {
	Run(ctx context.Context) error
}

type dependencies struct {
	resolver     target.Resolver
	subscription subscription
	wake         <-chan struct{}
	trader       execution.Trader
	notifier     notify.Notifier
	closers      []func()
}

func (d *dependencies) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

// build 按配置选择解析策略、下单方式与通知通道。
func (a *App) build(ctx context.Context) (*dependencies, error) {
	deps := &dependencies{}

	if err := a.buildResolver(ctx, deps); err != nil {
		deps.close()
		return nil, err
	}
	if err := a.buildTrader(ctx, deps); err != nil {
		deps.close()
		return nil, err
	}

	if a.cfg.Telegram.Enabled {
		tg, err := notify.NewTelegramNotifier(a.cfg.Telegram, a.logger.Named("telegram"))
		if err != nil {
			deps.close()
			return nil, err
		}
		deps.notifier = tg
	} else {
		a.logger.Info("未启用 Telegram，通知仅写入日志")
		deps.notifier = notify.NewLogNotifier(a.logger.Named("notify"))
	}

	return deps, nil
}

func (a *App) buildResolver(ctx context.Context, deps *dependencies) error {
	switch a.cfg.Target.Strategy {
	case config.StrategySubscribe:
		client, closeFn, err := a.dialLogs(ctx, a.cfg.Chain.WSSRPC)
		if err != nil {
			return fmt.Errorf("app: 连接 WebSocket 节点失败: %w", err)
		}
		deps.closers = append(deps.closers, closeFn)

		resolver, err := target.NewEventResolver(client,
			common.HexToAddress(a.cfg.Chain.FactoryAddress),
			common.HexToAddress(a.cfg.Target.Identity),
			a.logger.Named("events"),
		)
		if err != nil {
			return err
		}
		deps.resolver = resolver
		deps.subscription = resolver
		deps.wake = resolver.Wake()
	default:
		deps.resolver = target.NewProfileResolver(a.cfg.Zora, a.logger.Named("profile"))
	}

	a.logger.Info("目标解析策略", zap.String("strategy", a.cfg.Target.Strategy))
	return nil
}

// dialLogSubscriber 建立 WebSocket 连接用于日志订阅。
func dialLogSubscriber(ctx context.Context, url string) (target.LogSubscriber, func(), error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	return client, client.Close, nil
}

func (a *App) buildTrader(ctx context.Context, deps *dependencies) error {
	if a.cfg.Execution.Simulation {
		a.logger.Warn("模拟模式：不会广播任何交易")
		deps.trader = execution.NewSimulatedTrader(a.logger.Named("simulated"))
		return nil
	}

	client, err := ethclient.DialContext(ctx, a.cfg.Chain.HTTPRPC)
	if err != nil {
		return fmt.Errorf("app: 连接 RPC 节点失败: %w", err)
	}
	deps.closers = append(deps.closers, client.Close)

	trader, err := execution.NewZoraTrader(client,
		execution.OptionsFromConfig(a.cfg.Zora, a.cfg.Chain, a.cfg.Execution),
		a.logger.Named("trader"),
	)
	if err != nil {
		return err
	}
	deps.trader = trader
	return nil
}
