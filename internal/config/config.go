package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"ssv-dashboard-api/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Server     ServerConfig     `mapstructure:"server"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Market     MarketConfig     `mapstructure:"market"`
	Staking    StakingConfig    `mapstructure:"staking"`
	Ethereum   EthereumConfig   `mapstructure:"ethereum"`
	Projection ProjectionConfig `mapstructure:"projection"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// ServerConfig governs the HTTP listener.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// SchedulerConfig governs polling cadence.
type SchedulerConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	StartupDelay time.Duration `mapstructure:"startup_delay"`
}

// MarketConfig captures market-data connectivity.
type MarketConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	Symbols        []string      `mapstructure:"symbols"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// StakingConfig points at the beacon-chain statistics provider.
type StakingConfig struct {
	AprURL         string        `mapstructure:"apr_url"`
	StakedURL      string        `mapstructure:"staked_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// EthereumConfig covers on-chain data access.
type EthereumConfig struct {
	RPCURL            string        `mapstructure:"rpc_url"`
	NetworkFeeAddress string        `mapstructure:"network_fee_address"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
}

// ProjectionConfig tunes the fee projection.
type ProjectionConfig struct {
	// FeePercentOverride, when positive, replaces the decoded on-chain
	// fee percent in the projection. Decimal fraction, e.g. 0.01 for 1%.
	FeePercentOverride float64 `mapstructure:"fee_percent_override"`
}

// AlertingConfig defines operational alert routing.
type AlertingConfig struct {
	Enabled          bool           `mapstructure:"enabled"`
	FailureThreshold int            `mapstructure:"failure_threshold"`
	Cooldown         time.Duration  `mapstructure:"cooldown"`
	Telegram         TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SSVDASH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "ssvdash")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("market.base_url", "https://pro-api.coinmarketcap.com")
	v.SetDefault("market.symbols", []string{"ETH", "SSV"})
	v.SetDefault("market.request_timeout", "10s")
	v.SetDefault("market.user_agent", "ssvdash/1.0")

	v.SetDefault("staking.request_timeout", "10s")

	v.SetDefault("ethereum.request_timeout", "10s")

	v.SetDefault("projection.fee_percent_override", 0.0)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.failure_threshold", 3)
	v.SetDefault("alerting.cooldown", "30m")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if len(c.Market.Symbols) == 0 {
		return fmt.Errorf("market.symbols must list at least one symbol")
	}
	if c.Projection.FeePercentOverride < 0 {
		return fmt.Errorf("projection.fee_percent_override cannot be negative")
	}
	if c.Alerting.FailureThreshold < 0 {
		return fmt.Errorf("alerting.failure_threshold cannot be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}
