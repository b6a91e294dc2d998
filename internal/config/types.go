package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// 支持的执行后端。
const (
	BackendSimulated   = "simulated"
	BackendHyperliquid = "hyperliquid"
)

// 支持的 Hyperliquid 网络。
const (
	NetworkTestnet = "testnet"
	NetworkMainnet = "mainnet"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	Venue     VenueConfig     `mapstructure:"venue"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Reporting ReportingConfig `mapstructure:"reporting"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// ExecutorConfig 控制执行层行为。
type ExecutorConfig struct {
	Backend        string   `mapstructure:"backend"`
	Assets         []string `mapstructure:"assets"`
	InitialBalance float64  `mapstructure:"initial_balance"`
	Slippage       float64  `mapstructure:"slippage"`
	DefaultPrice   float64  `mapstructure:"default_price"`
}

// VenueConfig 描述 Hyperliquid 接入信息。
type VenueConfig struct {
	Network    string      `mapstructure:"network"`
	Wallet     string      `mapstructure:"wallet_address"`
	PrivateKey string      `mapstructure:"private_key"`
	QuoteCoin  string      `mapstructure:"quote_coin"`
	Retry      RetryConfig `mapstructure:"retry"`
}

// RetryConfig 统一控制行情读取的重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// ServerConfig 控制指令接口。
type ServerConfig struct {
	Port int `mapstructure:"port"`
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

// ReportingConfig 控制账户快照落盘节奏。
type ReportingConfig struct {
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}

	switch strings.ToLower(c.Executor.Backend) {
	case BackendSimulated, BackendHyperliquid:
	default:
		err = multierr.Append(err, fmt.Errorf("executor.backend 必须为 %s 或 %s", BackendSimulated, BackendHyperliquid))
	}
	if len(c.Executor.Assets) == 0 {
		err = multierr.Append(err, errors.New("executor.assets 至少包含一个资产"))
	}
	if c.Executor.InitialBalance <= 0 {
		err = multierr.Append(err, errors.New("executor.initial_balance 必须大于0"))
	}
	if c.Executor.Slippage < 0 || c.Executor.Slippage > 0.2 {
		err = multierr.Append(err, errors.New("executor.slippage 应位于[0,0.2]"))
	}
	if c.Executor.DefaultPrice <= 0 {
		err = multierr.Append(err, errors.New("executor.default_price 必须大于0"))
	}

	if strings.EqualFold(c.Executor.Backend, BackendHyperliquid) {
		switch strings.ToLower(c.Venue.Network) {
		case NetworkTestnet, NetworkMainnet:
		default:
			err = multierr.Append(err, fmt.Errorf("venue.network 必须为 %s 或 %s", NetworkTestnet, NetworkMainnet))
		}
		if c.Venue.Wallet == "" || c.Venue.PrivateKey == "" {
			err = multierr.Append(err, errors.New("hyperliquid 交易需要配置 wallet_address 与 private_key"))
		}
		if c.Venue.Retry.MaxAttempts <= 0 {
			err = multierr.Append(err, errors.New("venue.retry.max_attempts 必须大于0"))
		}
		if c.Venue.Retry.MinDelay <= 0 || c.Venue.Retry.MaxDelay <= 0 {
			err = multierr.Append(err, errors.New("venue.retry.delay 必须为正"))
		}
		if c.Venue.Retry.MinDelay > c.Venue.Retry.MaxDelay {
			err = multierr.Append(err, errors.New("venue.retry.min_delay 不能大于 max_delay"))
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		err = multierr.Append(err, errors.New("server.port 必须位于(0,65535]"))
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
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}
	if c.Reporting.SnapshotInterval <= 0 {
		err = multierr.Append(err, errors.New("reporting.snapshot_interval 必须大于0"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
