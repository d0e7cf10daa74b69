package execution

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// 执行阶段，用于错误定位。
const (
	StageSigner  = "signer"
	StageAmount  = "amount"
	StageQuote   = "quote"
	StageSubmit  = "submit"
	StageReceipt = "receipt"
	// StagePending 交易已广播但未在等待时间内确认，不可视为失败重新下单。
	StagePending = "pending"
)

// Confirmation 为一次成功购买的回执摘要。
type Confirmation struct {
	TxHash      common.Hash     `json:"tx_hash"`
	BlockNumber uint64          `json:"block_number"`
	Sender      common.Address  `json:"sender"`
	AmountIn    *big.Int        `json:"amount_in"`
	Spend       decimal.Decimal `json:"spend_eth"`
	Simulated   bool            `json:"simulated"`
	ExecutedAt  time.Time       `json:"executed_at"`
}

// ExplorerURL 拼接区块浏览器交易链接。
func (c Confirmation) ExplorerURL(base string) string {
	if base == "" {
		return c.TxHash.Hex()
	}
	return strings.TrimRight(base, "/") + "/" + c.TxHash.Hex()
}

// ExecutionError 表示一次购买失败，携带上游服务的原始信息。
type ExecutionError struct {
	Account string
	Asset   common.Address
	Stage   string
	TxHash  common.Hash // 交易已广播时非零
	Err     error
}

func (e *ExecutionError) Error() string {
	if e.TxHash != (common.Hash{}) {
		return fmt.Sprintf("execution: %s 购买 %s 失败 (%s, tx %s): %v", e.Account, e.Asset.Hex(), e.Stage, e.TxHash.Hex(), e.Err)
	}
	return fmt.Sprintf("execution: %s 购买 %s 失败 (%s): %v", e.Account, e.Asset.Hex(), e.Stage, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// PendingTx 判断 err 是否表示交易已广播但尚未确认，是则返回交易哈希。
func PendingTx(err error) (common.Hash, bool) {
	var execErr *ExecutionError
	if !errors.As(err, &execErr) || execErr.Stage != StagePending {
		return common.Hash{}, false
	}
	return execErr.TxHash, true
}

// ToWei 将原生币数量换算为 wei，舍去 18 位以下精度。
func ToWei(amount decimal.Decimal) *big.Int {
	return amount.Shift(18).BigInt()
}

// truncate 按字符截断，避免把半个多字节字符写入通知。
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
