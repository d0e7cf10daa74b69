package execution

import (
	"context"

	"creator-sniper/internal/account"
	"creator-sniper/internal/target"
)

// Trader 抽象购买执行器，方便切换真实或模拟下单。
//
// 单次调用即一次尝试，内部不做重试；同一账户同一资产的并发调用由调用方的 Claim 排除。
// Buy 在交易已广播但未确认时返回 StagePending 错误，调用方之后只能通过 Confirm 跟进该交易。
type Trader interface {
	Buy(ctx context.Context, acct *account.Account, asset target.Asset) (Confirmation, error)
	Confirm(ctx context.Context, acct *account.Account, pending account.PendingPurchase) (Confirmation, error)
}

var (
	_ Trader = (*ZoraTrader)(nil)
	_ Trader = (*SimulatedTrader)(nil)
)
