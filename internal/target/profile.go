package target

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"creator-sniper/internal/config"
)

const maxErrorBody = 512

type creatorCoin struct {
	Address   string `json:"address"`
	Symbol    string `json:"symbol"`
	Name      string `json:"name"`
	MarketCap string `json:"marketCap"`
}

type profile struct {
	DisplayName string       `json:"displayName"`
	Handle      string       `json:"handle"`
	CreatorCoin *creatorCoin `json:"creatorCoin"`
}

type profileResponse struct {
	Profile *profile `json:"profile"`
}

// ProfileResolver 通过 Zora 资料接口轮询目标的创作者币。
type ProfileResolver struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewProfileResolver 创建拉取式解析器。
func NewProfileResolver(cfg config.ZoraConfig, logger *zap.Logger) *ProfileResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &ProfileResolver{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Resolve 查询一次资料，幂等，可无限次调用。
func (r *ProfileResolver) Resolve(ctx context.Context, req Request) (Asset, bool, error) {
	endpoint := fmt.Sprintf("%s/profile?identifier=%s", r.baseURL, url.QueryEscape(req.Identity))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Asset{}, false, &LookupError{Identity: req.Identity, Err: err}
	}
	httpReq.Header.Set("Accept", "application/json")
	if !req.APIKey.Empty() {
		httpReq.Header.Set("x-api-key", req.APIKey.Reveal())
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return Asset{}, false, &LookupError{Identity: req.Identity, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Asset{}, false, &LookupError{Identity: req.Identity, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Asset{}, false, &LookupError{
			Identity:   req.Identity,
			StatusCode: resp.StatusCode,
			Err:        errors.New(truncate(strings.TrimSpace(string(body)), maxErrorBody)),
		}
	}

	var payload profileResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return Asset{}, false, &LookupError{Identity: req.Identity, StatusCode: resp.StatusCode, Err: fmt.Errorf("解析资料响应失败: %w", err)}
	}

	if payload.Profile == nil || payload.Profile.CreatorCoin == nil || payload.Profile.CreatorCoin.Address == "" {
		return Asset{}, false, nil
	}

	coin := payload.Profile.CreatorCoin
	if !common.IsHexAddress(coin.Address) {
		return Asset{}, false, &LookupError{Identity: req.Identity, StatusCode: resp.StatusCode, Err: fmt.Errorf("创作者币地址无效: %q", coin.Address)}
	}

	asset := Asset{
		Address: common.HexToAddress(coin.Address),
		Symbol:  coin.Symbol,
		Name:    coin.Name,
	}

	r.logger.Debug("资料接口返回创作者币",
		zap.String("identity", req.Identity),
		zap.String("asset", asset.Address.Hex()),
		zap.String("symbol", asset.DisplaySymbol()),
	)

	return asset, true, nil
}

// truncate 按字符截断，超出部分以 ... 代替。
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
