package target

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"creator-sniper/internal/config"
)

const unknownSymbol = "Unknown"

// Asset 描述一个已解析的链上可交易资产，去重只比较地址。
type Asset struct {
	Address common.Address `json:"address"`
	Symbol  string         `json:"symbol"`
	Name    string         `json:"name,omitempty"`
}

// DisplaySymbol 返回展示用符号，缺失时为 Unknown。
func (a Asset) DisplaySymbol() string {
	if a.Symbol == "" {
		return unknownSymbol
	}
	return a.Symbol
}

// Request 为单次解析请求。
type Request struct {
	Identity string
	APIKey   config.Secret
}

// Resolver 查询目标身份当前关联的资产。
//
// 返回 (asset, true, nil) 表示命中；(Asset{}, false, nil) 表示尚未创建；
// 网络或服务异常返回 *LookupError，调用方不应将其视为未创建。
type Resolver interface {
	Resolve(ctx context.Context, req Request) (Asset, bool, error)
}

// LookupError 表示解析失败，可由重试调度消化。
type LookupError struct {
	Identity   string
	StatusCode int
	Err        error
}

func (e *LookupError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("target: 查询 %s 失败 (HTTP %d): %v", e.Identity, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("target: 查询 %s 失败: %v", e.Identity, e.Err)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}
