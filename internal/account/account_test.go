package account

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"creator-sniper/internal/config"
)

var (
	assetA = common.HexToAddress("0xAAA0000000000000000000000000000000000001")
	assetB = common.HexToAddress("0xBBB0000000000000000000000000000000000002")
)

func newTestAccount(name string) *Account {
	return New(name, "api", "0xkey", decimal.RequireFromString("0.05"))
}

func TestShouldAttempt_FollowsPurchasedAsset(t *testing.T) {
	acct := newTestAccount("Wallet1")
	assert.True(t, acct.ShouldAttempt(assetA))

	acct.RecordSuccess(assetA)
	assert.False(t, acct.ShouldAttempt(assetA))
	assert.True(t, acct.ShouldAttempt(assetB), "a different asset address is a new target")

	addr, ok := acct.Purchased()
	require.True(t, ok)
	assert.Equal(t, assetA, addr)
	assert.True(t, acct.Settled())
}

func TestClaim_IsExclusive(t *testing.T) {
	acct := newTestAccount("Wallet1")

	const workers = 32
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if acct.Claim(assetA) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	acct.RecordSuccess(assetA)
	acct.Release()
	assert.False(t, acct.Claim(assetA), "purchased asset can not be claimed again")
	assert.True(t, acct.Claim(assetB))
}

func TestSpendAmount_ReadFresh(t *testing.T) {
	acct := newTestAccount("Wallet1")
	acct.SetSpendAmount(decimal.RequireFromString("0.009"))
	assert.True(t, acct.SpendAmount().Equal(decimal.RequireFromString("0.009")))
}

func TestSnapshotAndStatusLine(t *testing.T) {
	a1 := newTestAccount("account1")
	a2 := newTestAccount("account2")
	a1.RecordSuccess(assetA)

	accounts := []*Account{a1, a2}
	line := StatusLine(Snapshot(accounts))
	assert.Equal(t, "account1="+assetA.Hex()+", account2=<pending>", line)
	assert.False(t, AllSettled(accounts))

	a2.RecordSuccess(assetA)
	assert.True(t, AllSettled(accounts))
	assert.False(t, AllSettled(nil))
}

func TestFromConfig_KeepsDeclaredOrder(t *testing.T) {
	accounts := FromConfig([]config.AccountConfig{
		{Name: "first", SpendETH: decimal.NewFromInt(1)},
		{Name: "second", SpendETH: decimal.NewFromInt(2)},
	})
	require.Len(t, accounts, 2)
	assert.Equal(t, "first", accounts[0].Name())
	assert.Equal(t, "second", accounts[1].Name())
	assert.Equal(t, "first", accounts[0].String())
}

func TestPending_ClearedBySuccessOrRevert(t *testing.T) {
	acct := newTestAccount("Wallet1")
	_, ok := acct.Pending()
	assert.False(t, ok)

	acct.MarkPending(PendingPurchase{Asset: assetA, TxHash: common.HexToHash("0x01")})
	p, ok := acct.Pending()
	require.True(t, ok)
	assert.Equal(t, assetA, p.Asset)
	assert.False(t, acct.Settled())

	acct.ClearPending()
	_, ok = acct.Pending()
	assert.False(t, ok)

	acct.MarkPending(PendingPurchase{Asset: assetA, TxHash: common.HexToHash("0x02")})
	acct.RecordSuccess(assetA)
	_, ok = acct.Pending()
	assert.False(t, ok)
	assert.True(t, acct.Settled())
}
