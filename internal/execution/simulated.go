package execution

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"creator-sniper/internal/account"
	"creator-sniper/internal/target"
)

// SimulatedTrader 只校验参数并返回合成回执，不广播任何交易。
type SimulatedTrader struct {
	logger *zap.Logger
	seq    atomic.Uint64
}

// NewSimulatedTrader 创建模拟下单执行器。
func NewSimulatedTrader(logger *zap.Logger) *SimulatedTrader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SimulatedTrader{logger: logger}
}

// Buy 模拟下单。
func (s *SimulatedTrader) Buy(_ context.Context, acct *account.Account, asset target.Asset) (Confirmation, error) {
	_, sender, err := signerFor(acct)
	if err != nil {
		return Confirmation{}, &ExecutionError{Account: acct.Name(), Asset: asset.Address, Stage: StageSigner, Err: err}
	}
	spend := acct.SpendAmount()
	amountIn := ToWei(spend)
	if amountIn.Sign() <= 0 {
		return Confirmation{}, &ExecutionError{
			Account: acct.Name(),
			Asset:   asset.Address,
			Stage:   StageAmount,
			Err:     fmt.Errorf("下单金额无效: %s", spend.String()),
		}
	}

	n := s.seq.Add(1)
	hash := crypto.Keccak256Hash(sender.Bytes(), asset.Address.Bytes(), []byte(fmt.Sprintf("%d", n)))

	s.logger.Info("模拟下单",
		zap.String("account", acct.Name()),
		zap.String("asset", asset.Address.Hex()),
		zap.String("spend_eth", spend.String()),
		zap.String("tx", hash.Hex()),
	)

	return Confirmation{
		TxHash:     hash,
		Sender:     sender,
		AmountIn:   amountIn,
		Spend:      spend,
		Simulated:  true,
		ExecutedAt: time.Now().UTC(),
	}, nil
}

// Confirm 模拟模式下在途交易总是立即确认。
func (s *SimulatedTrader) Confirm(_ context.Context, acct *account.Account, pending account.PendingPurchase) (Confirmation, error) {
	_, sender, err := signerFor(acct)
	if err != nil {
		return Confirmation{}, &ExecutionError{Account: acct.Name(), Asset: pending.Asset, Stage: StagePending, TxHash: pending.TxHash, Err: err}
	}
	return Confirmation{
		TxHash:     pending.TxHash,
		Sender:     sender,
		AmountIn:   ToWei(pending.Spend),
		Spend:      pending.Spend,
		Simulated:  true,
		ExecutedAt: time.Now().UTC(),
	}, nil
}
