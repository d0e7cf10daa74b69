package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
)

// ErrInvalidConfig 标识启动期配置校验失败，属于致命错误。
var ErrInvalidConfig = errors.New("config: invalid configuration")

const (
	// StrategyPoll 周期性查询 Zora 资料接口。
	StrategyPoll = "poll"
	// StrategySubscribe 订阅工厂合约的创建事件。
	StrategySubscribe = "subscribe"
)

var privateKeyPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Target    TargetConfig    `mapstructure:"target"`
	Zora      ZoraConfig      `mapstructure:"zora"`
	Chain     ChainConfig     `mapstructure:"chain"`
	Accounts  []AccountConfig `mapstructure:"accounts"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// TargetConfig 描述被监控的身份及发现方式。
type TargetConfig struct {
	Identity string `mapstructure:"identity"` // 地址或可解析别名
	Strategy string `mapstructure:"strategy"` // poll | subscribe
}

// ZoraConfig 描述 Zora SDK 接口。
type ZoraConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ChainConfig 描述链上连接。
type ChainConfig struct {
	HTTPRPC        string        `mapstructure:"http_rpc"`
	WSSRPC         string        `mapstructure:"wss_rpc"`
	ChainID        int64         `mapstructure:"chain_id"`
	FactoryAddress string        `mapstructure:"factory_address"`
	ExplorerTxURL  string        `mapstructure:"explorer_tx_url"`
	ReceiptTimeout time.Duration `mapstructure:"receipt_timeout"`
}

// AccountConfig 描述单个出资账户。
type AccountConfig struct {
	Name       string          `mapstructure:"name"`
	APIKey     Secret          `mapstructure:"api_key"`
	PrivateKey Secret          `mapstructure:"private_key"`
	SpendETH   decimal.Decimal `mapstructure:"spend_eth"`
}

// ExecutionConfig 控制下单行为。
type ExecutionConfig struct {
	Slippage   float64 `mapstructure:"slippage"`
	Simulation bool    `mapstructure:"simulation"`
}

// SchedulerConfig 控制主循环节奏。
type SchedulerConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	AttemptDelay time.Duration `mapstructure:"attempt_delay"`
	StatusEvery  int           `mapstructure:"status_every"`
}

// TelegramConfig 描述通知通道。
type TelegramConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	BotToken      Secret  `mapstructure:"bot_token"`
	Chat          string  `mapstructure:"chat"`
	BaseURL       string  `mapstructure:"base_url"`
	ParseMode     string  `mapstructure:"parse_mode"`
	ChunkSize     int     `mapstructure:"chunk_size"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// MonitorConfig 控制监控接口。
type MonitorConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Normalize 统一凭据格式，需在 Validate 之前调用。
func (c *Config) Normalize() {
	c.Target.Identity = strings.TrimSpace(c.Target.Identity)
	c.Target.Strategy = strings.ToLower(strings.TrimSpace(c.Target.Strategy))
	c.Telegram.Chat = strings.TrimSpace(c.Telegram.Chat)
	for i := range c.Accounts {
		acct := &c.Accounts[i]
		acct.Name = strings.TrimSpace(acct.Name)
		acct.APIKey = Secret(strings.TrimSpace(acct.APIKey.Reveal()))
		acct.PrivateKey = NormalizePrivateKey(acct.PrivateKey)
	}
}

// NormalizePrivateKey 去除空白并补全 0x 前缀。
func NormalizePrivateKey(raw Secret) Secret {
	k := strings.TrimSpace(raw.Reveal())
	if k == "" {
		return ""
	}
	if !strings.HasPrefix(k, "0x") && !strings.HasPrefix(k, "0X") {
		k = "0x" + k
	}
	return Secret("0x" + k[2:])
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Target.Identity == "" {
		err = multierr.Append(err, errors.New("target.identity 不能为空"))
	}
	switch c.Target.Strategy {
	case StrategyPoll:
		if c.Zora.BaseURL == "" {
			err = multierr.Append(err, errors.New("zora.base_url 不能为空"))
		}
	case StrategySubscribe:
		if !common.IsHexAddress(c.Target.Identity) {
			err = multierr.Append(err, errors.New("subscribe 模式下 target.identity 必须为十六进制地址"))
		}
		if c.Chain.WSSRPC == "" {
			err = multierr.Append(err, errors.New("subscribe 模式需要配置 chain.wss_rpc"))
		}
		if !common.IsHexAddress(c.Chain.FactoryAddress) {
			err = multierr.Append(err, errors.New("chain.factory_address 必须为十六进制地址"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("target.strategy 不支持 %q", c.Target.Strategy))
	}
	if c.Zora.Timeout <= 0 {
		err = multierr.Append(err, errors.New("zora.timeout 必须大于0"))
	}
	if !c.Execution.Simulation && c.Chain.HTTPRPC == "" {
		err = multierr.Append(err, errors.New("chain.http_rpc 不能为空"))
	}
	if c.Chain.ChainID <= 0 {
		err = multierr.Append(err, errors.New("chain.chain_id 必须大于0"))
	}
	if c.Chain.ReceiptTimeout <= 0 {
		err = multierr.Append(err, errors.New("chain.receipt_timeout 必须大于0"))
	}

	if len(c.Accounts) == 0 {
		err = multierr.Append(err, errors.New("accounts 至少包含一个出资账户"))
	}
	seen := make(map[string]struct{}, len(c.Accounts))
	for i, acct := range c.Accounts {
		prefix := fmt.Sprintf("accounts[%d]", i)
		if acct.Name == "" {
			err = multierr.Append(err, fmt.Errorf("%s.name 不能为空", prefix))
		} else if _, dup := seen[acct.Name]; dup {
			err = multierr.Append(err, fmt.Errorf("%s.name %q 重复", prefix, acct.Name))
		}
		seen[acct.Name] = struct{}{}
		if acct.APIKey.Empty() {
			err = multierr.Append(err, fmt.Errorf("%s.api_key 不能为空", prefix))
		}
		if !privateKeyPattern.MatchString(acct.PrivateKey.Reveal()) {
			err = multierr.Append(err, fmt.Errorf("%s.private_key 必须为 0x 开头的 64 位十六进制", prefix))
		}
		if !acct.SpendETH.IsPositive() {
			err = multierr.Append(err, fmt.Errorf("%s.spend_eth 必须大于0", prefix))
		}
	}

	if c.Execution.Slippage <= 0 || c.Execution.Slippage >= 1 {
		err = multierr.Append(err, errors.New("execution.slippage 应位于(0,1)"))
	}
	if c.Scheduler.TickInterval <= 0 {
		err = multierr.Append(err, errors.New("scheduler.tick_interval 必须大于0"))
	}
	if c.Scheduler.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("scheduler.max_attempts 必须大于0"))
	}
	if c.Scheduler.AttemptDelay < 0 {
		err = multierr.Append(err, errors.New("scheduler.attempt_delay 不能为负"))
	}
	if c.Scheduler.StatusEvery <= 0 {
		err = multierr.Append(err, errors.New("scheduler.status_every 必须大于0"))
	}
	if c.Telegram.Enabled {
		if c.Telegram.BotToken.Empty() {
			err = multierr.Append(err, errors.New("telegram.bot_token 不能为空"))
		}
		if c.Telegram.Chat == "" {
			err = multierr.Append(err, errors.New("telegram.chat 不能为空"))
		}
	}
	if c.Telegram.ChunkSize <= 0 || c.Telegram.ChunkSize > 4096 {
		err = multierr.Append(err, errors.New("telegram.chunk_size 应位于(0,4096]"))
	}
	if c.Telegram.RatePerSecond <= 0 {
		err = multierr.Append(err, errors.New("telegram.rate_per_second 必须大于0"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if c.Monitor.Enabled && (c.Monitor.Port <= 0 || c.Monitor.Port > 65535) {
		err = multierr.Append(err, errors.New("monitor.port 无效"))
	}

	if err != nil {
		return fmt.Errorf("%w: 配置校验失败: %w", ErrInvalidConfig, err)
	}

	return nil
}
