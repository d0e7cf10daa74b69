package account

import "strings"

// PendingLabel 为尚未成交账户在状态报告中的占位。
const PendingLabel = "<pending>"

// Holding 为单个账户的持仓快照。
type Holding struct {
	Account string `json:"account"`
	Asset   string `json:"asset,omitempty"`
}

// Label 返回状态报告中的展示值。
func (h Holding) Label() string {
	if h.Asset == "" {
		return PendingLabel
	}
	return h.Asset
}

// Snapshot 在调用时刻计算所有账户的状态，不做缓存。
func Snapshot(accounts []*Account) []Holding {
	holdings := make([]Holding, 0, len(accounts))
	for _, acct := range accounts {
		h := Holding{Account: acct.Name()}
		if addr, ok := acct.Purchased(); ok {
			h.Asset = addr.Hex()
		}
		holdings = append(holdings, h)
	}
	return holdings
}

// StatusLine 生成形如 "Wallet1=0x..., Wallet2=<pending>" 的摘要。
func StatusLine(holdings []Holding) string {
	parts := make([]string, 0, len(holdings))
	for _, h := range holdings {
		parts = append(parts, h.Account+"="+h.Label())
	}
	return strings.Join(parts, ", ")
}

// AllSettled 所有账户均已成交时返回 true；空列表视为未完成。
func AllSettled(accounts []*Account) bool {
	if len(accounts) == 0 {
		return false
	}
	for _, acct := range accounts {
		if !acct.Settled() {
			return false
		}
	}
	return true
}
