package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "sniper"

	// DefaultFactoryAddress 为 Base 链上的 Zora 创作者币工厂合约。
	DefaultFactoryAddress = "0x777777751622c0d3258f214F9DF38E35BF45baF3"
)

// Load 读取配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	// .env 不存在时直接忽略，生产环境通常直接注入环境变量
	_ = godotenv.Load()

	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: 未找到配置文件 %q: %w", ErrInvalidConfig, path, err)
		}
		return nil, fmt.Errorf("%w: 读取配置文件失败: %w", ErrInvalidConfig, err)
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("%w: 解析配置失败: %w", ErrInvalidConfig, err)
	}

	cfg.expandEnv()
	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// expandEnv 展开凭据及端点中的 ${ENV} 引用。
func (c *Config) expandEnv() {
	c.Target.Identity = os.ExpandEnv(c.Target.Identity)
	c.Chain.HTTPRPC = os.ExpandEnv(c.Chain.HTTPRPC)
	c.Chain.WSSRPC = os.ExpandEnv(c.Chain.WSSRPC)
	c.Telegram.Chat = os.ExpandEnv(c.Telegram.Chat)
	c.Telegram.BotToken = c.Telegram.BotToken.expand()
	for i := range c.Accounts {
		c.Accounts[i].APIKey = c.Accounts[i].APIKey.expand()
		c.Accounts[i].PrivateKey = c.Accounts[i].PrivateKey.expand()
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("target.strategy", StrategyPoll)

	v.SetDefault("zora.base_url", "https://api-sdk.zora.engineering")
	v.SetDefault("zora.timeout", "15s")

	v.SetDefault("chain.chain_id", 8453)
	v.SetDefault("chain.factory_address", DefaultFactoryAddress)
	v.SetDefault("chain.explorer_tx_url", "https://basescan.org/tx/")
	v.SetDefault("chain.receipt_timeout", "2m")

	v.SetDefault("execution.slippage", 0.6)
	v.SetDefault("execution.simulation", false)

	v.SetDefault("scheduler.tick_interval", "30s")
	v.SetDefault("scheduler.max_attempts", 10)
	v.SetDefault("scheduler.attempt_delay", "2s")
	v.SetDefault("scheduler.status_every", 30)

	v.SetDefault("telegram.enabled", true)
	v.SetDefault("telegram.base_url", "https://api.telegram.org")
	v.SetDefault("telegram.parse_mode", "Markdown")
	v.SetDefault("telegram.chunk_size", 3500)
	v.SetDefault("telegram.rate_per_second", 1)

	v.SetDefault("database.path", "data/sniper.db")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	v.SetDefault("monitor.enabled", false)
	v.SetDefault("monitor.port", 9464)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			stringToDecimalHookFunc(),
		)
	}
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

// stringToDecimalHookFunc 将 YAML 中的字符串或数字转换为 decimal，避免浮点误差。
func stringToDecimalHookFunc() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != decimalType {
			return data, nil
		}
		switch value := data.(type) {
		case string:
			if strings.TrimSpace(value) == "" {
				return decimal.Zero, nil
			}
			d, err := decimal.NewFromString(strings.TrimSpace(value))
			if err != nil {
				return nil, fmt.Errorf("无法解析金额 %q: %w", value, err)
			}
			return d, nil
		case float64:
			return decimal.NewFromFloat(value), nil
		case float32:
			return decimal.NewFromFloat32(value), nil
		case int:
			return decimal.NewFromInt(int64(value)), nil
		case int64:
			return decimal.NewFromInt(value), nil
		case decimal.Decimal:
			return value, nil
		default:
			return data, nil
		}
	}
}
