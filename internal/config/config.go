package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mev-engine/solana-mev-pipeline/pkg/confidence"
	"github.com/mev-engine/solana-mev-pipeline/pkg/evaluator"
	"github.com/mev-engine/solana-mev-pipeline/pkg/fees"
	"github.com/mev-engine/solana-mev-pipeline/pkg/mempool"
	"github.com/mev-engine/solana-mev-pipeline/pkg/metrics"
	"github.com/mev-engine/solana-mev-pipeline/pkg/risk"
	"github.com/mev-engine/solana-mev-pipeline/pkg/rpc"
	"github.com/mev-engine/solana-mev-pipeline/pkg/simulation"
	"github.com/mev-engine/solana-mev-pipeline/pkg/strategy"
	"github.com/mev-engine/solana-mev-pipeline/pkg/tips"
)

// Config holds all configuration for the pipeline.
type Config struct {
	Server     ServerConfig        `mapstructure:"server"`
	Logging    LoggingConfig       `mapstructure:"logging"`
	Wallet     WalletConfig        `mapstructure:"wallet"`
	RPC        rpc.RouterConfig    `mapstructure:"rpc"`
	Stream     mempool.Config      `mapstructure:"stream"`
	Evaluator  evaluator.Config    `mapstructure:"evaluator"`
	Fees       fees.Config         `mapstructure:"fees"`
	Tips       tips.Config         `mapstructure:"tips"`
	Simulation simulation.Config   `mapstructure:"simulation"`
	Confidence confidence.Config   `mapstructure:"confidence"`
	Risk       risk.Limits         `mapstructure:"risk"`
	Executor   strategy.Config     `mapstructure:"executor"`
	Alerts     metrics.AlertConfig `mapstructure:"alerts"`
}

// ServerConfig contains status API server configuration.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// LoggingConfig contains logger configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "console"
}

// WalletConfig identifies the operating wallet.
type WalletConfig struct {
	Account string `mapstructure:"account"`
}

// Load loads configuration from file and environment variables. An empty
// path falls back to the search path (./configs, .).
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	v.SetEnvPrefix("MEV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	applyDefaults(&config)

	return &config, nil
}

// setDefaults sets default values for the scalar sections. Risk limits carry
// no defaults: spending ceilings must be an explicit operator decision, and
// Validate() rejects a config that omits them.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.idle_timeout", "120s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Stream defaults
	v.SetDefault("stream.ws_endpoint", "wss://mainnet.helius-rpc.com")
	v.SetDefault("stream.max_reconnect_attempts", 5)
	v.SetDefault("stream.handshake_timeout", "10s")
	v.SetDefault("stream.poll_rate", 2.0)
	v.SetDefault("stream.poll_limit", 20)

	// Evaluator defaults
	v.SetDefault("evaluator.profit_threshold_sol", 0.005)

	// Fee defaults
	v.SetDefault("fees.fallback_priority_fee_sol", 0.001)
	v.SetDefault("fees.priority_fee_cap_sol", 0.01)
	v.SetDefault("fees.safety_margin_sol", 0.005)

	// Tip defaults
	v.SetDefault("tips.min_tip_sol", 0.0001)
	v.SetDefault("tips.max_tip_sol", 0.01)

	// Simulation defaults
	v.SetDefault("simulation.safety_margin_sol", 0.005)
	v.SetDefault("simulation.max_variance_fraction", 0.30)
	v.SetDefault("simulation.min_pool_depth_multiple", 10.0)

	// Confidence defaults
	v.SetDefault("confidence.threshold", 0.85)

	// Executor defaults
	v.SetDefault("executor.max_variance_fraction", 0.30)
	v.SetDefault("executor.safety_margin_sol", 0.005)

	// Alert defaults
	v.SetDefault("alerts.balance_drop_fraction", 0.10)
	v.SetDefault("alerts.min_success_rate", 0.50)
	v.SetDefault("alerts.max_avg_latency", "2s")
	v.SetDefault("alerts.check_interval", "30s")
	v.SetDefault("alerts.history_limit", 200)
}

// applyDefaults fills the slice-valued sections viper defaults cannot
// express.
func applyDefaults(config *Config) {
	if len(config.RPC.Endpoints) == 0 {
		config.RPC = *rpc.DefaultRouterConfig()
	}
	if len(config.Stream.Programs) == 0 {
		config.Stream.Programs = mempool.DefaultConfig().Programs
	}
	if len(config.Tips.TipAccounts) == 0 {
		config.Tips.TipAccounts = tips.DefaultConfig().TipAccounts
	}
}

// Validate checks the settings that have no safe default. Every problem is
// reported, not just the first.
func (c *Config) Validate() error {
	var problems []string

	if err := c.Risk.Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Wallet.Account == "" {
		problems = append(problems, "wallet.account is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if len(c.RPC.Endpoints) == 0 {
		problems = append(problems, "rpc.endpoints must list at least one endpoint")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
