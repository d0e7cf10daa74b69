package execution

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"creator-sniper/internal/account"
	"creator-sniper/internal/config"
	"creator-sniper/internal/target"
)

const (
	defaultPollInterval = 2 * time.Second
	gasBufferNum        = 12
	gasBufferDen        = 10
	maxErrorBody        = 512
)

// ChainClient 为下单所需的链上能力，*ethclient.Client 满足该接口。
type ChainClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Options 配置真实下单。
type Options struct {
	BaseURL        string
	Timeout        time.Duration
	ChainID        *big.Int
	Slippage       float64
	ReceiptTimeout time.Duration
	PollInterval   time.Duration
}

// OptionsFromConfig 由配置组装下单参数。
func OptionsFromConfig(zora config.ZoraConfig, chain config.ChainConfig, exec config.ExecutionConfig) Options {
	return Options{
		BaseURL:        zora.BaseURL,
		Timeout:        zora.Timeout,
		ChainID:        big.NewInt(chain.ChainID),
		Slippage:       exec.Slippage,
		ReceiptTimeout: chain.ReceiptTimeout,
	}
}

// ZoraTrader 通过 Zora 报价接口构造兑换调用，本地签名后广播。
type ZoraTrader struct {
	chain  ChainClient
	http   *http.Client
	opts   Options
	logger *zap.Logger
}

// NewZoraTrader 创建真实下单执行器。
func NewZoraTrader(chain ChainClient, opts Options, logger *zap.Logger) (*ZoraTrader, error) {
	if chain == nil {
		return nil, errors.New("execution: 链客户端不能为空")
	}
	if opts.ChainID == nil || opts.ChainID.Sign() <= 0 {
		return nil, errors.New("execution: chain id 无效")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZoraTrader{
		chain:  chain,
		http:   &http.Client{Timeout: opts.Timeout},
		opts:   opts,
		logger: logger,
	}, nil
}

type quoteToken struct {
	Type    string `json:"type"`
	Address string `json:"address,omitempty"`
}

type quoteRequest struct {
	Type      string     `json:"type"`
	Sender    string     `json:"sender"`
	Recipient string     `json:"recipient"`
	TokenIn   quoteToken `json:"tokenIn"`
	TokenOut  quoteToken `json:"tokenOut"`
	AmountIn  string     `json:"amountIn"`
	Slippage  float64    `json:"slippage"`
	ChainID   int64      `json:"chainId"`
}

type quoteResponse struct {
	Call struct {
		Target string `json:"target"`
		Data   string `json:"data"`
		Value  string `json:"value"`
	} `json:"call"`
	Quote struct {
		AmountOut string `json:"amountOut"`
	} `json:"quote"`
}

type swapCall struct {
	to    common.Address
	data  []byte
	value *big.Int
}

// Buy 执行一次 ETH -> 目标资产的兑换，成功时返回已上链的回执。
func (t *ZoraTrader) Buy(ctx context.Context, acct *account.Account, asset target.Asset) (Confirmation, error) {
	fail := func(stage string, err error) (Confirmation, error) {
		return Confirmation{}, &ExecutionError{Account: acct.Name(), Asset: asset.Address, Stage: stage, Err: err}
	}

	key, sender, err := signerFor(acct)
	if err != nil {
		return fail(StageSigner, err)
	}

	// 金额在下单时读取，避免使用过期配置
	spend := acct.SpendAmount()
	amountIn := ToWei(spend)
	if amountIn.Sign() <= 0 {
		return fail(StageAmount, fmt.Errorf("下单金额无效: %s", spend.String()))
	}

	call, err := t.quote(ctx, acct.APIKey(), quoteRequest{
		Type:      "exactIn",
		Sender:    sender.Hex(),
		Recipient: sender.Hex(),
		TokenIn:   quoteToken{Type: "eth"},
		TokenOut:  quoteToken{Type: "erc20", Address: asset.Address.Hex()},
		AmountIn:  amountIn.String(),
		Slippage:  t.opts.Slippage,
		ChainID:   t.opts.ChainID.Int64(),
	})
	if err != nil {
		return fail(StageQuote, err)
	}
	if call.value.Cmp(amountIn) > 0 {
		return fail(StageQuote, fmt.Errorf("报价支付金额 %s 超过配置金额 %s", call.value, amountIn))
	}

	tx, err := t.submit(ctx, key, sender, call)
	if err != nil {
		return fail(StageSubmit, err)
	}
	t.logger.Info("交易已广播",
		zap.String("account", acct.Name()),
		zap.String("asset", asset.Address.Hex()),
		zap.String("tx", tx.Hash().Hex()),
	)

	// 已广播：此后任何失败都不能让调用方重新下单
	return t.settle(ctx, acct, account.PendingPurchase{
		Asset:  asset.Address,
		Symbol: asset.Symbol,
		TxHash: tx.Hash(),
		Spend:  spend,
	}, sender)
}

// Confirm 跟进此前已广播的交易，仍未上链时再次返回 StagePending。
func (t *ZoraTrader) Confirm(ctx context.Context, acct *account.Account, pending account.PendingPurchase) (Confirmation, error) {
	_, sender, err := signerFor(acct)
	if err != nil {
		return Confirmation{}, &ExecutionError{Account: acct.Name(), Asset: pending.Asset, Stage: StagePending, TxHash: pending.TxHash, Err: err}
	}
	return t.settle(ctx, acct, pending, sender)
}

func (t *ZoraTrader) settle(ctx context.Context, acct *account.Account, pending account.PendingPurchase, sender common.Address) (Confirmation, error) {
	fail := func(stage string, err error) (Confirmation, error) {
		return Confirmation{}, &ExecutionError{Account: acct.Name(), Asset: pending.Asset, Stage: stage, TxHash: pending.TxHash, Err: err}
	}

	receipt, err := t.waitMined(ctx, pending.TxHash)
	if err != nil {
		return fail(StagePending, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fail(StageReceipt, fmt.Errorf("交易 %s 执行回滚", pending.TxHash.Hex()))
	}

	var block uint64
	if receipt.BlockNumber != nil {
		block = receipt.BlockNumber.Uint64()
	}
	return Confirmation{
		TxHash:      pending.TxHash,
		BlockNumber: block,
		Sender:      sender,
		AmountIn:    ToWei(pending.Spend),
		Spend:       pending.Spend,
		ExecutedAt:  time.Now().UTC(),
	}, nil
}

func (t *ZoraTrader) quote(ctx context.Context, apiKey config.Secret, req quoteRequest) (swapCall, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return swapCall{}, fmt.Errorf("编码报价请求失败: %w", err)
	}

	endpoint := strings.TrimRight(t.opts.BaseURL, "/") + "/quote"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return swapCall{}, fmt.Errorf("构造报价请求失败: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if !apiKey.Empty() {
		httpReq.Header.Set("x-api-key", apiKey.Reveal())
	}

	resp, err := t.http.Do(httpReq)
	if err != nil {
		return swapCall{}, fmt.Errorf("请求报价失败: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return swapCall{}, fmt.Errorf("读取报价响应失败: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := truncate(strings.TrimSpace(string(raw)), maxErrorBody)
		return swapCall{}, fmt.Errorf("报价接口返回 %d: %s", resp.StatusCode, msg)
	}

	var parsed quoteResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return swapCall{}, fmt.Errorf("解析报价响应失败: %w", err)
	}
	return parsed.toCall()
}

func (q quoteResponse) toCall() (swapCall, error) {
	if !common.IsHexAddress(q.Call.Target) {
		return swapCall{}, fmt.Errorf("报价缺少有效的调用地址: %q", q.Call.Target)
	}
	data, err := hexutil.Decode(q.Call.Data)
	if err != nil {
		return swapCall{}, fmt.Errorf("报价调用数据无效: %w", err)
	}
	value, err := parseAmount(q.Call.Value)
	if err != nil {
		return swapCall{}, fmt.Errorf("报价支付金额无效: %w", err)
	}
	return swapCall{to: common.HexToAddress(q.Call.Target), data: data, value: value}, nil
}

// parseAmount 兼容十进制与 0x 十六进制两种写法。
func parseAmount(raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return new(big.Int), nil
	}
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		return hexutil.DecodeBig(raw)
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("无法解析 %q", raw)
	}
	return v, nil
}

func (t *ZoraTrader) submit(ctx context.Context, key *ecdsa.PrivateKey, sender common.Address, call swapCall) (*types.Transaction, error) {
	nonce, err := t.chain.PendingNonceAt(ctx, sender)
	if err != nil {
		return nil, fmt.Errorf("获取 nonce 失败: %w", err)
	}
	tip, err := t.chain.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取小费失败: %w", err)
	}
	head, err := t.chain.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("获取最新区块失败: %w", err)
	}
	baseFee := new(big.Int)
	if head.BaseFee != nil {
		baseFee.Set(head.BaseFee)
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(baseFee, big.NewInt(2)))

	gas, err := t.chain.EstimateGas(ctx, ethereum.CallMsg{
		From:      sender,
		To:        &call.to,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Value:     call.value,
		Data:      call.data,
	})
	if err != nil {
		return nil, fmt.Errorf("估算 gas 失败: %w", err)
	}
	gas = gas * gasBufferNum / gasBufferDen

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   t.opts.ChainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &call.to,
		Value:     call.value,
		Data:      call.data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(t.opts.ChainID), key)
	if err != nil {
		return nil, fmt.Errorf("签名交易失败: %w", err)
	}
	if err := t.chain.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("广播交易失败: %w", err)
	}
	return signed, nil
}

func (t *ZoraTrader) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if t.opts.ReceiptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.ReceiptTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(t.opts.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := t.chain.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			t.logger.Debug("查询交易回执失败", zap.String("tx", hash.Hex()), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("等待交易 %s 上链超时: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func signerFor(acct *account.Account) (*ecdsa.PrivateKey, common.Address, error) {
	raw := strings.TrimPrefix(acct.PrivateKey().Reveal(), "0x")
	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		// 不回显原始错误，避免泄露私钥片段
		return nil, common.Address{}, errors.New("私钥格式无效")
	}
	return key, crypto.PubkeyToAddress(key.PublicKey), nil
}
