package account

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zapcore"

	"creator-sniper/internal/config"
)

// Account 表示一个出资账户及其购买记录。
//
// purchased 只能由持有 Claim 的执行路径写入，保证同一账户同一资产最多成交一次。
type Account struct {
	name       string
	apiKey     config.Secret
	privateKey config.Secret

	mu        sync.Mutex
	spend     decimal.Decimal
	purchased *common.Address
	pending   *PendingPurchase
	inFlight  bool
}

// PendingPurchase 为已广播、尚未确认的购买交易。存在期间不得再次下单。
type PendingPurchase struct {
	Asset  common.Address
	Symbol string
	TxHash common.Hash
	Spend  decimal.Decimal
}

// New 创建出资账户。
func New(name string, apiKey, privateKey config.Secret, spend decimal.Decimal) *Account {
	return &Account{
		name:       name,
		apiKey:     apiKey,
		privateKey: privateKey,
		spend:      spend,
	}
}

// FromConfig 按声明顺序构造账户列表，顺序即优先级。
func FromConfig(cfgs []config.AccountConfig) []*Account {
	accounts := make([]*Account, 0, len(cfgs))
	for _, c := range cfgs {
		accounts = append(accounts, New(c.Name, c.APIKey, c.PrivateKey, c.SpendETH))
	}
	return accounts
}

func (a *Account) Name() string { return a.name }

// APIKey 返回资料查询与报价接口使用的密钥。
func (a *Account) APIKey() config.Secret { return a.apiKey }

// PrivateKey 返回签名私钥。
func (a *Account) PrivateKey() config.Secret { return a.privateKey }

// SpendAmount 返回当前的单笔花费（原生币计价），每次执行前重新读取。
func (a *Account) SpendAmount() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.spend
}

// SetSpendAmount 更新单笔花费，后续执行立即生效。
func (a *Account) SetSpendAmount(amount decimal.Decimal) {
	a.mu.Lock()
	a.spend = amount
	a.mu.Unlock()
}

// ShouldAttempt 当且仅当该账户尚未买过 addr 时返回 true。
func (a *Account) ShouldAttempt(addr common.Address) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.purchased == nil || *a.purchased != addr
}

// Claim 进入执行临界区。已有执行在途或 addr 已购买时返回 false。
func (a *Account) Claim(addr common.Address) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.inFlight {
		return false
	}
	if a.purchased != nil && *a.purchased == addr {
		return false
	}
	a.inFlight = true
	return true
}

// Release 离开执行临界区。
func (a *Account) Release() {
	a.mu.Lock()
	a.inFlight = false
	a.mu.Unlock()
}

// RecordSuccess 记录成交资产，必须在执行成功之后、发送通知之前调用。
func (a *Account) RecordSuccess(addr common.Address) {
	a.mu.Lock()
	recorded := addr
	a.purchased = &recorded
	a.pending = nil
	a.mu.Unlock()
}

// MarkPending 记录已广播但未确认的交易，之后的尝试只确认该交易。
func (a *Account) MarkPending(p PendingPurchase) {
	a.mu.Lock()
	a.pending = &p
	a.mu.Unlock()
}

// Pending 返回在途交易。
func (a *Account) Pending() (PendingPurchase, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending == nil {
		return PendingPurchase{}, false
	}
	return *a.pending, true
}

// ClearPending 在途交易被确认回滚后清除，允许重新下单。
func (a *Account) ClearPending() {
	a.mu.Lock()
	a.pending = nil
	a.mu.Unlock()
}

// Purchased 返回已购买的资产地址。
func (a *Account) Purchased() (common.Address, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.purchased == nil {
		return common.Address{}, false
	}
	return *a.purchased, true
}

// Settled 表示账户已完成购买目标。
func (a *Account) Settled() bool {
	_, ok := a.Purchased()
	return ok
}

func (a *Account) String() string {
	return a.name
}

// MarshalLogObject 仅输出非敏感字段。
func (a *Account) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("name", a.name)
	enc.AddString("spend_eth", a.SpendAmount().String())
	if addr, ok := a.Purchased(); ok {
		enc.AddString("purchased", addr.Hex())
	}
	if p, ok := a.Pending(); ok {
		enc.AddString("pending_tx", p.TxHash.Hex())
	}
	return nil
}
