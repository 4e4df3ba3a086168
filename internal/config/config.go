package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	DB      DBConfig      `mapstructure:"db"`
	Cron    CronConfig    `mapstructure:"cron"`
	Gateway GatewayConfig `mapstructure:"gateway"`

	Risk      RiskConfig      `mapstructure:"risk"`
	Arbitrage ArbitrageConfig `mapstructure:"arbitrage"`
}

type AppConfig struct {
	Env       string `mapstructure:"env"`
	AccountID string `mapstructure:"account_id"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type CronConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Cron specs in robfig/cron syntax.
	OrderReconcile   string `mapstructure:"order_reconcile"`
	ArbitrageScan    string `mapstructure:"arbitrage_scan"`
	ThresholdSweep   string `mapstructure:"threshold_sweep"`
	OpportunitySweep string `mapstructure:"opportunity_sweep"`
}

type GatewayConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type RiskConfig struct {
	// MaxDailyLossUSD is the net daily loss at which the global kill switch
	// trips. Zero disables the limit.
	MaxDailyLossUSD float64 `mapstructure:"max_daily_loss_usd"`
	// MaxDrawdownPct is the intraday peak-to-trough fraction (0-1) at which
	// the global kill switch trips. Zero disables the limit.
	MaxDrawdownPct float64 `mapstructure:"max_drawdown_pct"`
	// WarnUtilization is the fraction of either limit at which warning events
	// start firing.
	WarnUtilization   float64 `mapstructure:"warn_utilization"`
	KillSwitchEnabled bool    `mapstructure:"kill_switch_enabled"`
}

type ArbitrageConfig struct {
	// MinProfitCents is the smallest buy-both profit worth persisting.
	MinProfitCents    int           `mapstructure:"min_profit_cents"`
	PageLimit         int           `mapstructure:"page_limit"`
	MaxPages          int           `mapstructure:"max_pages"`
	OpportunityTTL    time.Duration `mapstructure:"opportunity_ttl"`
	ContractsPerTrade int           `mapstructure:"contracts_per_trade"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.account_id", "primary")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.order_reconcile", "@every 1m")
	v.SetDefault("cron.arbitrage_scan", "@every 15s")
	v.SetDefault("cron.threshold_sweep", "@every 30s")
	v.SetDefault("cron.opportunity_sweep", "@every 1m")
	v.SetDefault("gateway.base_url", "https://api.elections.kalshi.com/trade-api/v2")
	v.SetDefault("gateway.timeout", "15s")

	v.SetDefault("risk.max_daily_loss_usd", 500)
	v.SetDefault("risk.max_drawdown_pct", 0.5)
	v.SetDefault("risk.warn_utilization", 0.8)
	v.SetDefault("risk.kill_switch_enabled", true)

	v.SetDefault("arbitrage.min_profit_cents", 2)
	v.SetDefault("arbitrage.page_limit", 200)
	v.SetDefault("arbitrage.max_pages", 5)
	v.SetDefault("arbitrage.opportunity_ttl", "5m")
	v.SetDefault("arbitrage.contracts_per_trade", 10)

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
