package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"creator-sniper/internal/account"
	"creator-sniper/internal/config"
	"creator-sniper/internal/monitor"
	"creator-sniper/internal/store"
	"creator-sniper/internal/target"
)

const (
	testKey1 = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testKey2 = "0x8f2a55949038a9610f50fb23b5883af3b4ecb3c3bb792cbcefbd1542c692be63"
	coinAddr = "0xaaa0000000000000000000000000000000000001"
)

type recordingReporter struct {
	mu       sync.Mutex
	messages []string
}

func (r *recordingReporter) Notify(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, text)
}

func (r *recordingReporter) Notifyf(format string, args ...any) {
	r.Notify(fmt.Sprintf(format, args...))
}

func (r *recordingReporter) NotifyJSON(title string, payload any) {
	raw, _ := json.Marshal(payload)
	r.Notify(title + "\n" + string(raw))
}

func (r *recordingReporter) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

func newSupervisor(rep *recordingReporter) *supervisor {
	return &supervisor{reporter: rep, logger: zap.NewNop()}
}

func TestSupervisor_RecoversPanicIntoFault(t *testing.T) {
	rep := &recordingReporter{}
	sup := newSupervisor(rep)

	done := sup.guard(context.Background(), func(context.Context) bool {
		panic(errors.New("nil map write"))
	})

	assert.False(t, done)
	msgs := rep.all()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "nil map write")
}

func TestUnhandledFault_UnwrapsErrorValues(t *testing.T) {
	cause := errors.New("boom")
	fault := &UnhandledFault{Value: cause}
	assert.ErrorIs(t, fault, cause)
	assert.Nil(t, (&UnhandledFault{Value: "text"}).Unwrap())
}

func TestRunLoop_FirstTickIsImmediate(t *testing.T) {
	var ticks atomic.Int32
	done, err := runLoop(context.Background(), func(context.Context) bool {
		ticks.Add(1)
		return true
	}, time.Hour, nil, newSupervisor(&recordingReporter{}), zap.NewNop())

	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, int32(1), ticks.Load())
}

func TestRunLoop_ContinuesAfterFault(t *testing.T) {
	rep := &recordingReporter{}
	var ticks atomic.Int32
	done, err := runLoop(context.Background(), func(context.Context) bool {
		switch ticks.Add(1) {
		case 1:
			panic("unexpected")
		case 2:
			return false
		default:
			return true
		}
	}, time.Millisecond, nil, newSupervisor(rep), zap.NewNop())

	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, int32(3), ticks.Load())
	assert.Len(t, rep.all(), 1)
}

func TestRunLoop_WakeTriggersEarlyTick(t *testing.T) {
	wake := make(chan struct{}, 1)
	var ticks atomic.Int32
	resultCh := make(chan bool, 1)

	go func() {
		done, _ := runLoop(context.Background(), func(context.Context) bool {
			return ticks.Add(1) >= 2
		}, time.Hour, wake, newSupervisor(&recordingReporter{}), zap.NewNop())
		resultCh <- done
	}()

	require.Eventually(t, func() bool { return ticks.Load() == 1 }, time.Second, time.Millisecond)
	wake <- struct{}{}

	select {
	case done := <-resultCh:
		assert.True(t, done)
	case <-time.After(2 * time.Second):
		t.Fatal("wake signal did not trigger a tick")
	}
}

func TestRunLoop_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var ticks atomic.Int32

	go func() {
		for ticks.Load() < 1 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	done, err := runLoop(ctx, func(context.Context) bool {
		ticks.Add(1)
		return false
	}, time.Hour, nil, newSupervisor(&recordingReporter{}), zap.NewNop())

	require.NoError(t, err)
	assert.False(t, done)
}

type staticStatus struct {
	holdings []account.Holding
}

func (s staticStatus) Snapshot() []account.Holding { return s.holdings }
func (s staticStatus) Ticks() uint64               { return 30 }
func (s staticStatus) Completed() bool             { return false }

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.NewSQLite(config.DatabaseConfig{InMemory: true, MaxOpenConns: 2})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestMonitorMux_StatusEventsAndMetrics(t *testing.T) {
	ctx := context.Background()
	svc, err := monitor.NewService(ctx, newTestStore(t), "run-1", nil)
	require.NoError(t, err)
	svc.RecordStarted(ctx, monitor.StartedPayload{Identity: "jesse", Strategy: "poll"})

	status := staticStatus{holdings: []account.Holding{{Account: "Wallet1", Asset: coinAddr}, {Account: "Wallet2"}}}
	srv := httptest.NewServer(newMonitorMux(svc, status, zap.NewNop()))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	var body statusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	_ = resp.Body.Close()
	assert.Equal(t, uint64(30), body.Ticks)
	assert.Equal(t, "Wallet1="+coinAddr+", Wallet2=<pending>", body.Summary)

	resp, err = http.Get(srv.URL + "/events?type=STARTED&limit=5")
	require.NoError(t, err)
	var events []monitor.Event
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&events))
	_ = resp.Body.Close()
	require.Len(t, events, 1)
	assert.Equal(t, monitor.EventStarted, events[0].Type)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestApp_RunSimulatedPollCompletes(t *testing.T) {
	var lookups atomic.Int32
	profile := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 前两次查询尚未创建
		if lookups.Add(1) <= 2 {
			_, _ = w.Write([]byte(`{"profile":{"handle":"jesse"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"profile":{"creatorCoin":{"address":"` + coinAddr + `","symbol":"JESSE"}}}`))
	}))
	t.Cleanup(profile.Close)

	cfg := &config.Config{
		App:    config.AppConfig{Environment: "test"},
		Target: config.TargetConfig{Identity: "jesse", Strategy: config.StrategyPoll},
		Zora:   config.ZoraConfig{BaseURL: profile.URL, Timeout: 5 * time.Second},
		Chain:  config.ChainConfig{ChainID: 8453, ExplorerTxURL: "https://basescan.org/tx/", ReceiptTimeout: time.Minute},
		Accounts: []config.AccountConfig{
			{Name: "Wallet1", APIKey: "k1", PrivateKey: testKey1, SpendETH: decimal.RequireFromString("0.05")},
			{Name: "Wallet2", APIKey: "k2", PrivateKey: testKey2, SpendETH: decimal.RequireFromString("0.009")},
		},
		Execution: config.ExecutionConfig{Slippage: 0.6, Simulation: true},
		Scheduler: config.SchedulerConfig{TickInterval: time.Hour, MaxAttempts: 5, AttemptDelay: time.Millisecond, StatusEvery: 30},
		Telegram:  config.TelegramConfig{Enabled: false, ChunkSize: 3500},
	}

	st := newTestStore(t)
	a := New(cfg, nil, st, "run-e2e")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, a.Run(ctx))

	svc, err := monitor.NewService(context.Background(), st, "run-e2e", nil)
	require.NoError(t, err)
	purchases, err := svc.ListEvents(context.Background(), monitor.EventPurchase, 10)
	require.NoError(t, err)
	assert.Len(t, purchases, 2)

	completions, err := svc.ListEvents(context.Background(), monitor.EventCompletion, 10)
	require.NoError(t, err)
	require.Len(t, completions, 1)
	assert.True(t, strings.Contains(string(completions[0].Payload.(json.RawMessage)), "Wallet2"))
}

type logSub struct {
	once sync.Once
	errc chan error
}

func (s *logSub) Unsubscribe() { s.once.Do(func() { close(s.errc) }) }

func (s *logSub) Err() <-chan error { return s.errc }

// logFeed 记录订阅方的日志通道，由测试直接推送事件。
type logFeed struct {
	mu         sync.Mutex
	ch         chan<- types.Log
	query      ethereum.FilterQuery
	subscribed chan struct{}
	once       sync.Once
}

func (f *logFeed) SubscribeFilterLogs(_ context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	f.mu.Lock()
	f.ch = ch
	f.query = q
	f.mu.Unlock()
	f.once.Do(func() { close(f.subscribed) })
	return &logSub{errc: make(chan error, 1)}, nil
}

func (f *logFeed) emit(lg types.Log) {
	f.mu.Lock()
	ch := f.ch
	f.mu.Unlock()
	ch <- lg
}

func coinCreatedLog(t *testing.T, factory, creator, coin common.Address, symbol string, txByte byte) types.Log {
	t.Helper()
	addressT, err := abi.NewType("address", "", nil)
	require.NoError(t, err)
	stringT, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	data, err := abi.Arguments{{Type: addressT}, {Type: stringT}, {Type: stringT}}.Pack(coin, "Jesse", symbol)
	require.NoError(t, err)

	return types.Log{
		Address: factory,
		Topics: []common.Hash{
			crypto.Keccak256Hash([]byte("CreatorCoinCreated(address,address,string,string)")),
			common.BytesToHash(creator.Bytes()),
		},
		Data:   data,
		TxHash: common.BytesToHash([]byte{txByte}),
	}
}

func TestApp_RunSubscribeBuysOncePerAccount(t *testing.T) {
	factory := common.HexToAddress("0x777777751622c0d3258f214F9DF38E35BF45baF3")
	creator := common.HexToAddress("0x00000000000000000000000000000000000c0ffe")
	coin := common.HexToAddress(coinAddr)

	cfg := &config.Config{
		App:    config.AppConfig{Environment: "test"},
		Target: config.TargetConfig{Identity: creator.Hex(), Strategy: config.StrategySubscribe},
		Zora:   config.ZoraConfig{BaseURL: "http://127.0.0.1:0", Timeout: time.Second},
		Chain: config.ChainConfig{
			ChainID:        8453,
			WSSRPC:         "wss://node.invalid",
			FactoryAddress: factory.Hex(),
			ExplorerTxURL:  "https://basescan.org/tx/",
			ReceiptTimeout: time.Minute,
		},
		Accounts: []config.AccountConfig{
			{Name: "Wallet1", APIKey: "k1", PrivateKey: testKey1, SpendETH: decimal.RequireFromString("0.05")},
			{Name: "Wallet2", APIKey: "k2", PrivateKey: testKey2, SpendETH: decimal.RequireFromString("0.009")},
		},
		Execution: config.ExecutionConfig{Slippage: 0.6, Simulation: true},
		Scheduler: config.SchedulerConfig{TickInterval: time.Hour, MaxAttempts: 2, AttemptDelay: time.Millisecond, StatusEvery: 30},
		Telegram:  config.TelegramConfig{Enabled: false, ChunkSize: 3500},
	}

	feed := &logFeed{subscribed: make(chan struct{})}
	var dialed atomic.Int32
	var closed atomic.Int32

	st := newTestStore(t)
	a := New(cfg, nil, st, "run-subscribe")
	a.dialLogs = func(_ context.Context, url string) (target.LogSubscriber, func(), error) {
		assert.Equal(t, "wss://node.invalid", url)
		dialed.Add(1)
		return feed, func() { closed.Add(1) }, nil
	}

	lg := coinCreatedLog(t, factory, creator, coin, "JESSE", 1)
	go func() {
		select {
		case <-feed.subscribed:
		case <-time.After(5 * time.Second):
			return
		}
		// 同一事件投递两次，由账户去重吸收
		feed.emit(lg)
		feed.emit(lg)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, a.Run(ctx))

	assert.Equal(t, int32(1), dialed.Load())
	assert.Equal(t, int32(1), closed.Load())
	feed.mu.Lock()
	assert.Equal(t, []common.Address{factory}, feed.query.Addresses)
	feed.mu.Unlock()

	svc, err := monitor.NewService(context.Background(), st, "run-subscribe", nil)
	require.NoError(t, err)
	purchases, err := svc.ListEvents(context.Background(), monitor.EventPurchase, 10)
	require.NoError(t, err)
	assert.Len(t, purchases, 2)

	completions, err := svc.ListEvents(context.Background(), monitor.EventCompletion, 10)
	require.NoError(t, err)
	require.Len(t, completions, 1)
	assert.Contains(t, strings.ToLower(string(completions[0].Payload.(json.RawMessage))), coinAddr)
}
