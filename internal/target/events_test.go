package target

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testFactory = common.HexToAddress("0x777777751622c0d3258f214F9DF38E35BF45baF3")
	testCreator = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testCoin    = common.HexToAddress("0xaaa0000000000000000000000000000000000001")
)

type fakeSub struct {
	errc chan error
	once sync.Once
}

func newFakeSub() *fakeSub { return &fakeSub{errc: make(chan error, 1)} }

func (s *fakeSub) Unsubscribe()      { s.once.Do(func() { close(s.errc) }) }
func (s *fakeSub) Err() <-chan error { return s.errc }

type fakeSubscriber struct {
	mu         sync.Mutex
	ch         chan<- types.Log
	query      ethereum.FilterQuery
	err        error
	subscribed chan struct{}
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{subscribed: make(chan struct{}, 4)}
}

func (f *fakeSubscriber) SubscribeFilterLogs(_ context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.ch = ch
	f.query = q
	f.subscribed <- struct{}{}
	return newFakeSub(), nil
}

func (f *fakeSubscriber) emit(lg types.Log) {
	f.mu.Lock()
	ch := f.ch
	f.mu.Unlock()
	ch <- lg
}

func creationLog(t *testing.T, r *EventResolver, creator, coin common.Address, symbol string) types.Log {
	t.Helper()
	data, err := r.event.Inputs.NonIndexed().Pack(coin, "creator coin", symbol)
	require.NoError(t, err)
	return types.Log{
		Address: testFactory,
		Topics:  []common.Hash{r.event.ID, common.BytesToHash(creator.Bytes())},
		Data:    data,
	}
}

func newTestEventResolver(t *testing.T, sub LogSubscriber) *EventResolver {
	t.Helper()
	r, err := NewEventResolver(sub, testFactory, testCreator, nil)
	require.NoError(t, err)
	return r
}

func TestEventResolver_QueuesMatchingCreator(t *testing.T) {
	r := newTestEventResolver(t, newFakeSubscriber())

	_, ok, err := r.Resolve(context.Background(), Request{Identity: testCreator.Hex()})
	require.NoError(t, err)
	assert.False(t, ok)

	r.handle(creationLog(t, r, testCreator, testCoin, "JESSE"))

	asset, ok, err := r.Resolve(context.Background(), Request{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, testCoin, asset.Address)
	assert.Equal(t, "JESSE", asset.Symbol)

	// 已消费的事件保持可见，供后续账户使用
	again, ok, err := r.Resolve(context.Background(), Request{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, asset, again)
}

func TestEventResolver_IgnoresOtherCreatorsAndRemovedLogs(t *testing.T) {
	r := newTestEventResolver(t, newFakeSubscriber())

	other := common.HexToAddress("0x2222222222222222222222222222222222222222")
	r.handle(creationLog(t, r, other, testCoin, "OTHER"))

	removed := creationLog(t, r, testCreator, testCoin, "JESSE")
	removed.Removed = true
	r.handle(removed)

	r.handle(types.Log{Topics: []common.Hash{{}}})

	_, ok, err := r.Resolve(context.Background(), Request{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEventResolver_DuplicateDeliveryYieldsSameAsset(t *testing.T) {
	r := newTestEventResolver(t, newFakeSubscriber())
	lg := creationLog(t, r, testCreator, testCoin, "JESSE")
	r.handle(lg)
	r.handle(lg)

	asset, ok, err := r.Resolve(context.Background(), Request{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, testCoin, asset.Address)
}

func TestEventResolver_RunDeliversThroughSubscription(t *testing.T) {
	sub := newFakeSubscriber()
	r := newTestEventResolver(t, sub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case <-sub.subscribed:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription was not established")
	}

	sub.mu.Lock()
	assert.Equal(t, []common.Address{testFactory}, sub.query.Addresses)
	require.Len(t, sub.query.Topics, 2)
	assert.Equal(t, common.BytesToHash(testCreator.Bytes()), sub.query.Topics[1][0])
	sub.mu.Unlock()

	sub.emit(creationLog(t, r, testCreator, testCoin, "JESSE"))

	select {
	case <-r.Wake():
	case <-time.After(2 * time.Second):
		t.Fatal("wake signal not received")
	}

	asset, ok, err := r.Resolve(context.Background(), Request{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, testCoin, asset.Address)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestEventResolver_SubscriptionFailureSurfacesAsLookupError(t *testing.T) {
	sub := newFakeSubscriber()
	sub.err = errors.New("dial tcp: connection refused")
	r := newTestEventResolver(t, sub)
	r.resubscribeMax = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, _, err := r.Resolve(context.Background(), Request{Identity: "target"})
		var lookupErr *LookupError
		return errors.As(err, &lookupErr)
	}, 2*time.Second, 10*time.Millisecond)
}
