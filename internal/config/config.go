package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"crosschain-router/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig                `mapstructure:"app"`
	Logging    logging.Config           `mapstructure:"logging"`
	Database   DatabaseConfig           `mapstructure:"database"`
	Redis      RedisConfig              `mapstructure:"redis"`
	Scheduler  SchedulerConfig          `mapstructure:"scheduler"`
	Aggregator AggregatorConfig         `mapstructure:"aggregator"`
	Guardrail  GuardrailConfig          `mapstructure:"guardrail"`
	Transfer   TransferConfig           `mapstructure:"transfer"`
	Providers  []ProviderConfig         `mapstructure:"providers"`
	Prices     PricesConfig             `mapstructure:"prices"`
	Networks   map[string]NetworkConfig `mapstructure:"networks"`
	Signer     SignerConfig             `mapstructure:"signer"`
	Intent     IntentConfig             `mapstructure:"intent"`
	Alerting   AlertingConfig           `mapstructure:"alerting"`
	API        APIConfig                `mapstructure:"api"`
	Export     ExportConfig             `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// RedisConfig selects the session backend. Empty address keeps sessions in memory.
type RedisConfig struct {
	Address    string        `mapstructure:"address"`
	Password   string        `mapstructure:"password"`
	DB         int           `mapstructure:"db"`
	KeyPrefix  string        `mapstructure:"key_prefix"`
	SessionTTL time.Duration `mapstructure:"session_ttl"`
}

// SchedulerConfig governs the alert evaluation cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	Concurrency     int           `mapstructure:"concurrency"`
}

// AggregatorConfig bounds provider fan-out.
type AggregatorConfig struct {
	CallTimeout           time.Duration `mapstructure:"call_timeout"`
	Ceiling               time.Duration `mapstructure:"ceiling"`
	ThinLiquidityMultiple float64       `mapstructure:"thin_liquidity_multiple"`
	HighFeeRatio          float64       `mapstructure:"high_fee_ratio"`
	SnapshotRetention     time.Duration `mapstructure:"snapshot_retention"`
}

// GuardrailConfig holds validator thresholds.
type GuardrailConfig struct {
	MinAmount         float64 `mapstructure:"min_amount"`
	SoftCeiling       float64 `mapstructure:"soft_ceiling"`
	HighFeeRatio      float64 `mapstructure:"high_fee_ratio"`
	LowLiquidityRatio float64 `mapstructure:"low_liquidity_ratio"`
	MinSuccessRate    float64 `mapstructure:"min_success_rate"`
	HardStopRatio     float64 `mapstructure:"hard_stop_ratio"`
	// Restricted maps an asset to the only network it may be moved on.
	Restricted map[string]string `mapstructure:"restricted"`
}

// TransferConfig tunes the session state machine.
type TransferConfig struct {
	ConfirmTTL time.Duration `mapstructure:"confirm_ttl"`
}

// ProviderConfig declares one bridge provider adapter.
type ProviderConfig struct {
	ID      string `mapstructure:"id"`
	Kind    string `mapstructure:"kind"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	// Contracts maps source networks to the fee quoter contract (onchain kind).
	Contracts       map[string]string `mapstructure:"contracts"`
	ExecutionMethod string            `mapstructure:"execution_method"`
	SuccessRate     float64           `mapstructure:"success_rate"`
	ETAMinutes      int               `mapstructure:"eta_minutes"`
	Timeout         time.Duration     `mapstructure:"timeout"`
	UserAgent       string            `mapstructure:"user_agent"`
	// FeeUSD and LiquidityUSD describe the fixed quote of a static provider.
	FeeUSD       float64 `mapstructure:"fee_usd"`
	LiquidityUSD float64 `mapstructure:"liquidity_usd"`
	Endpoint     string  `mapstructure:"endpoint"`
}

// PricesConfig points at a simple-price API.
type PricesConfig struct {
	BaseURL string            `mapstructure:"base_url"`
	Timeout time.Duration     `mapstructure:"timeout"`
	IDs     map[string]string `mapstructure:"ids"`

	// Fixed replaces the price API with static USD prices per symbol.
	Fixed map[string]float64 `mapstructure:"fixed"`
}

// NetworkConfig covers per-network chain access.
type NetworkConfig struct {
	RPCURL string `mapstructure:"rpc_url"`
}

// SignerConfig holds the execution key. DryRun logs transactions instead of broadcasting.
type SignerConfig struct {
	PrivateKey string `mapstructure:"private_key"`
	// Address is the dry-run depositor when no private key is configured.
	Address      string        `mapstructure:"address"`
	GasLimit     uint64        `mapstructure:"gas_limit"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	DryRun       bool          `mapstructure:"dry_run"`
}

// IntentConfig configures the remote natural-language resolver.
type IntentConfig struct {
	RemoteURL string        `mapstructure:"remote_url"`
	APIKey    string        `mapstructure:"api_key"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// AlertingConfig defines notification routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// APIConfig configures the HTTP channel adapter.
type APIConfig struct {
	Listen       string        `mapstructure:"listen"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// HomeNetwork is the source network assumed when a message names none.
	HomeNetwork string `mapstructure:"home_network"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ROUTERD")
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
	v.SetDefault("app.name", "routerd")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "routerd:session:")
	v.SetDefault("redis.session_ttl", "168h")

	v.SetDefault("scheduler.interval", "60s")
	v.SetDefault("scheduler.align_to_bucket", false)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x726f7574))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.concurrency", 4)

	v.SetDefault("aggregator.call_timeout", "8s")
	v.SetDefault("aggregator.ceiling", "10s")
	v.SetDefault("aggregator.thin_liquidity_multiple", 2.0)
	v.SetDefault("aggregator.high_fee_ratio", 0.05)
	v.SetDefault("aggregator.snapshot_retention", "720h")

	v.SetDefault("guardrail.min_amount", 1.0)
	v.SetDefault("guardrail.soft_ceiling", 50000.0)
	v.SetDefault("guardrail.high_fee_ratio", 0.03)
	v.SetDefault("guardrail.low_liquidity_ratio", 2.0)
	v.SetDefault("guardrail.min_success_rate", 0.9)
	v.SetDefault("guardrail.hard_stop_ratio", 0.25)
	v.SetDefault("guardrail.restricted", map[string]string{"SUSDE": "ethereum"})

	v.SetDefault("transfer.confirm_ttl", "10m")

	v.SetDefault("prices.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("prices.timeout", "10s")

	v.SetDefault("signer.gas_limit", 300000)
	v.SetDefault("signer.poll_interval", "3s")
	v.SetDefault("signer.dry_run", true)

	v.SetDefault("intent.timeout", "15s")

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.channels", []string{"log"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("api.listen", ":8080")
	v.SetDefault("api.read_timeout", "30s")
	v.SetDefault("api.write_timeout", "30s")
	v.SetDefault("api.home_network", "ethereum")

	v.SetDefault("export.max_data_points", 100000)
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
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Aggregator.CallTimeout <= 0 || c.Aggregator.Ceiling <= 0 {
		return fmt.Errorf("aggregator timeouts must be greater than zero")
	}
	if c.Aggregator.Ceiling < c.Aggregator.CallTimeout {
		return fmt.Errorf("aggregator.ceiling must not be shorter than aggregator.call_timeout")
	}
	if c.Guardrail.MinAmount < 0 || c.Guardrail.SoftCeiling <= c.Guardrail.MinAmount {
		return fmt.Errorf("guardrail.soft_ceiling must exceed guardrail.min_amount")
	}
	if c.Guardrail.MinSuccessRate < 0 || c.Guardrail.MinSuccessRate > 1 {
		return fmt.Errorf("guardrail.min_success_rate must be within [0,1]")
	}
	if c.Guardrail.HardStopRatio <= 0 || c.Guardrail.HardStopRatio > 1 {
		return fmt.Errorf("guardrail.hard_stop_ratio must be within (0,1]")
	}
	if c.Guardrail.HighFeeRatio >= c.Guardrail.HardStopRatio {
		return fmt.Errorf("guardrail.high_fee_ratio must be below guardrail.hard_stop_ratio")
	}
	if c.Transfer.ConfirmTTL <= 0 {
		return fmt.Errorf("transfer.confirm_ttl must be greater than zero")
	}
	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("providers[%d].id is required", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("provider %q declared twice", p.ID)
		}
		seen[p.ID] = true
		switch p.Kind {
		case "http":
			if p.BaseURL == "" {
				return fmt.Errorf("provider %q: base_url is required", p.ID)
			}
		case "onchain":
			if len(p.Contracts) == 0 {
				return fmt.Errorf("provider %q: contracts are required", p.ID)
			}
		case "static":
		default:
			return fmt.Errorf("provider %q: unknown kind %q", p.ID, p.Kind)
		}
		if p.SuccessRate < 0 || p.SuccessRate > 1 {
			return fmt.Errorf("provider %q: success_rate must be within [0,1]", p.ID)
		}
	}
	if !c.Signer.DryRun && c.Signer.PrivateKey == "" {
		return fmt.Errorf("signer.private_key is required unless signer.dry_run is set")
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

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

// RPCURL returns the configured endpoint for a network, empty when unset.
func (c *Config) RPCURL(network string) string {
	if c.Networks == nil {
		return ""
	}
	return c.Networks[strings.ToLower(network)].RPCURL
}
