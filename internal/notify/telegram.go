package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"creator-sniper/internal/config"
)

const (
	channelTelegram = "telegram"
	defaultTimeout  = 10 * time.Second
)

// TelegramNotifier 通过 Bot API sendMessage 推送通知。
type TelegramNotifier struct {
	baseURL   string
	token     config.Secret
	chat      string
	parseMode string
	client    *http.Client
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// NewTelegramNotifier 根据配置创建 Telegram 通知器。
func NewTelegramNotifier(cfg config.TelegramConfig, logger *zap.Logger) (*TelegramNotifier, error) {
	if cfg.BotToken.Empty() {
		return nil, errors.New("notify: telegram.bot_token 不能为空")
	}
	chat := NormalizeChat(cfg.Chat)
	if chat == "" {
		return nil, errors.New("notify: telegram.chat 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		baseURL:   strings.TrimRight(baseURL, "/"),
		token:     cfg.BotToken,
		chat:      chat,
		parseMode: cfg.ParseMode,
		client:    &http.Client{Timeout: defaultTimeout},
		limiter:   rate.NewLimiter(limit, 1),
		logger:    logger,
	}, nil
}

// NormalizeChat 统一目标会话写法：@频道名与 -100 开头的群组 ID 原样保留，其余补 @ 前缀。
func NormalizeChat(raw string) string {
	chat := strings.TrimSpace(raw)
	switch {
	case chat == "":
		return ""
	case strings.HasPrefix(chat, "@"), strings.HasPrefix(chat, "-"):
		return chat
	case isNumeric(chat):
		return chat
	default:
		return "@" + chat
	}
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// Send 发送一条消息；Markdown 实体解析失败时以纯文本重发。
func (n *TelegramNotifier) Send(ctx context.Context, text string) error {
	err := n.send(ctx, text, n.parseMode)
	if err != nil && n.parseMode != "" && isEntityError(err) {
		n.logger.Debug("Markdown 解析失败，改用纯文本重发", zap.Error(err))
		err = n.send(ctx, text, "")
	}
	if err != nil {
		return &NotificationError{Channel: channelTelegram, Err: err}
	}
	return nil
}

func (n *TelegramNotifier) send(ctx context.Context, text, parseMode string) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(sendMessageRequest{
		ChatID:                n.chat,
		Text:                  text,
		ParseMode:             parseMode,
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("编码消息失败: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.token.Reveal())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.New("构造请求失败")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		// url.Error 会带上含 token 的完整地址
		return fmt.Errorf("请求 Bot API 失败: %w", redact(err, n.token))
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var parsed apiResponse
	_ = json.Unmarshal(raw, &parsed)
	if resp.StatusCode != http.StatusOK || !parsed.OK {
		return &apiError{Status: resp.StatusCode, Description: parsed.Description}
	}
	return nil
}

type apiError struct {
	Status      int
	Description string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("Bot API 返回 %d: %s", e.Status, e.Description)
}

func isEntityError(err error) bool {
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status == http.StatusBadRequest && strings.Contains(strings.ToLower(apiErr.Description), "parse entities")
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

func redact(err error, secret config.Secret) error {
	if secret.Empty() {
		return err
	}
	return &redactedError{msg: strings.ReplaceAll(err.Error(), secret.Reveal(), secret.String()), err: err}
}
