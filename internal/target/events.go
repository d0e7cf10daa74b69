package target

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"go.uber.org/zap"
)

const (
	creatorCoinCreated = "CreatorCoinCreated"

	factoryABI = `[{
		"type": "event",
		"name": "CreatorCoinCreated",
		"anonymous": false,
		"inputs": [
			{"indexed": true,  "name": "caller", "type": "address"},
			{"indexed": false, "name": "coin",   "type": "address"},
			{"indexed": false, "name": "name",   "type": "string"},
			{"indexed": false, "name": "symbol", "type": "string"}
		]
	}]`

	defaultQueueSize      = 16
	defaultResubscribeMax = 30 * time.Second
)

// LogSubscriber 为日志订阅能力，*ethclient.Client 满足该接口。
type LogSubscriber interface {
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// EventResolver 订阅工厂合约的创建事件，推送式发现目标资产。
//
// 事件先进入队列，在下一次 Resolve 时被消费；最近一次命中的资产会被保留，
// 因此同一轮中的每个账户都能看到它，重复投递由账户去重吸收。
type EventResolver struct {
	client  LogSubscriber
	factory common.Address
	creator common.Address
	event   abi.Event
	logger  *zap.Logger

	queue          chan Asset
	wake           chan struct{}
	resubscribeMax time.Duration

	mu     sync.Mutex
	latest *Asset
	subErr error
}

// NewEventResolver 创建推送式解析器，需调用 Run 启动订阅。
func NewEventResolver(client LogSubscriber, factory, creator common.Address, logger *zap.Logger) (*EventResolver, error) {
	if client == nil {
		return nil, errors.New("target: 日志订阅客户端不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	parsed, err := abi.JSON(strings.NewReader(factoryABI))
	if err != nil {
		return nil, fmt.Errorf("target: 解析工厂 ABI 失败: %w", err)
	}

	return &EventResolver{
		client:         client,
		factory:        factory,
		creator:        creator,
		event:          parsed.Events[creatorCoinCreated],
		logger:         logger,
		queue:          make(chan Asset, defaultQueueSize),
		wake:           make(chan struct{}, 1),
		resubscribeMax: defaultResubscribeMax,
	}, nil
}

// Wake 在有新事件入队时收到信号，便于调度方提前执行一轮。
func (r *EventResolver) Wake() <-chan struct{} {
	return r.wake
}

// Run 维持订阅直到 ctx 结束，断线后自动退避重连。
func (r *EventResolver) Run(ctx context.Context) error {
	logs := make(chan types.Log, 64)
	query := ethereum.FilterQuery{
		Addresses: []common.Address{r.factory},
		Topics: [][]common.Hash{
			{r.event.ID},
			{common.BytesToHash(r.creator.Bytes())},
		},
	}

	sub := event.ResubscribeErr(r.resubscribeMax, func(ctx context.Context, lastErr error) (event.Subscription, error) {
		if lastErr != nil {
			r.setSubErr(lastErr)
			r.logger.Warn("事件订阅中断，准备重连", zap.Error(lastErr))
		}
		s, err := r.client.SubscribeFilterLogs(ctx, query, logs)
		if err != nil {
			r.setSubErr(err)
			r.logger.Warn("事件订阅失败", zap.Error(err))
			return nil, err
		}
		r.setSubErr(nil)
		r.logger.Info("已订阅创作者币创建事件",
			zap.String("factory", r.factory.Hex()),
			zap.String("creator", r.creator.Hex()),
		)
		return s, nil
	})
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case lg := <-logs:
			r.handle(lg)
		case err, ok := <-sub.Err():
			if !ok || err == nil {
				return nil
			}
			return fmt.Errorf("target: 事件订阅终止: %w", err)
		}
	}
}

// Resolve 消费已入队的事件并返回最近一次命中的资产。
func (r *EventResolver) Resolve(_ context.Context, req Request) (Asset, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

drain:
	for {
		select {
		case asset := <-r.queue:
			a := asset
			r.latest = &a
		default:
			break drain
		}
	}

	if r.latest != nil {
		return *r.latest, true, nil
	}
	if r.subErr != nil {
		return Asset{}, false, &LookupError{Identity: req.Identity, Err: r.subErr}
	}
	return Asset{}, false, nil
}

func (r *EventResolver) handle(lg types.Log) {
	if lg.Removed {
		r.logger.Warn("忽略被重组移除的事件", zap.String("tx", lg.TxHash.Hex()))
		return
	}

	asset, creator, err := r.decode(lg)
	if err != nil {
		r.logger.Warn("解码创建事件失败", zap.String("tx", lg.TxHash.Hex()), zap.Error(err))
		return
	}
	if creator != r.creator {
		return
	}

	r.logger.Info("检测到目标创建资产",
		zap.String("asset", asset.Address.Hex()),
		zap.String("symbol", asset.DisplaySymbol()),
		zap.String("tx", lg.TxHash.Hex()),
	)

	select {
	case r.queue <- asset:
	default:
		// 队列已满时丢弃最旧的事件，Resolve 只关心最新资产
		select {
		case <-r.queue:
		default:
		}
		r.queue <- asset
	}

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *EventResolver) decode(lg types.Log) (Asset, common.Address, error) {
	if len(lg.Topics) < 2 || lg.Topics[0] != r.event.ID {
		return Asset{}, common.Address{}, errors.New("事件签名不匹配")
	}
	creator := common.BytesToAddress(lg.Topics[1].Bytes())

	values, err := r.event.Inputs.NonIndexed().Unpack(lg.Data)
	if err != nil {
		return Asset{}, common.Address{}, err
	}
	if len(values) != 3 {
		return Asset{}, common.Address{}, fmt.Errorf("事件字段数量异常: %d", len(values))
	}

	coin, ok := values[0].(common.Address)
	if !ok {
		return Asset{}, common.Address{}, errors.New("coin 字段类型异常")
	}
	name, _ := values[1].(string)
	symbol, _ := values[2].(string)

	return Asset{Address: coin, Name: name, Symbol: symbol}, creator, nil
}

func (r *EventResolver) setSubErr(err error) {
	r.mu.Lock()
	r.subErr = err
	r.mu.Unlock()
}
