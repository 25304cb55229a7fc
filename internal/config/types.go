package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Clob      ClobConfig      `mapstructure:"clob"`
	Wallet    WalletConfig    `mapstructure:"wallet"`
	Session   SessionConfig   `mapstructure:"session"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	API       APIConfig       `mapstructure:"api"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// ClobConfig 描述订单簿交易所连接信息及链上合约地址。
type ClobConfig struct {
	BaseURL               string        `mapstructure:"base_url"`
	ChainID               int64         `mapstructure:"chain_id"`
	Timeout               time.Duration `mapstructure:"timeout"`
	FactoryAddress        string        `mapstructure:"factory_address"`
	ImplementationAddress string        `mapstructure:"implementation_address"`
	MetadataTTL           time.Duration `mapstructure:"metadata_ttl"`
}

// WalletConfig 描述签名身份。私钥只经由环境变量或本地配置注入。
type WalletConfig struct {
	PrivateKey   string `mapstructure:"private_key"`
	ProxyAddress string `mapstructure:"proxy_address"`
}

// SessionConfig 控制交易会话生命周期。
type SessionConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxRetries   int           `mapstructure:"max_retries"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
}

// ExecutionConfig 控制下单行为。
type ExecutionConfig struct {
	Slippage float64     `mapstructure:"slippage"`
	Retry    RetryConfig `mapstructure:"retry"`
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

// SchedulerConfig 控制主循环节奏。
type SchedulerConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

// APIConfig 控制命令与读模型接口。
type APIConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Clob.BaseURL == "" {
		err = multierr.Append(err, errors.New("clob.base_url 不能为空"))
	}
	if c.Clob.ChainID <= 0 {
		err = multierr.Append(err, errors.New("clob.chain_id 必须大于0"))
	}
	if c.Clob.Timeout <= 0 {
		err = multierr.Append(err, errors.New("clob.timeout 必须大于0"))
	}
	if !common.IsHexAddress(c.Clob.FactoryAddress) {
		err = multierr.Append(err, errors.New("clob.factory_address 不是有效地址"))
	}
	if !common.IsHexAddress(c.Clob.ImplementationAddress) {
		err = multierr.Append(err, errors.New("clob.implementation_address 不是有效地址"))
	}
	if c.Wallet.PrivateKey == "" {
		err = multierr.Append(err, errors.New("wallet.private_key 不能为空"))
	}
	if c.Wallet.ProxyAddress != "" && !common.IsHexAddress(c.Wallet.ProxyAddress) {
		err = multierr.Append(err, errors.New("wallet.proxy_address 不是有效地址"))
	}
	if c.Session.TTL <= 0 {
		err = multierr.Append(err, errors.New("session.ttl 必须大于0"))
	}
	if c.Execution.Slippage < 0 || c.Execution.Slippage > 0.2 {
		err = multierr.Append(err, errors.New("execution.slippage 应位于[0,0.2]"))
	}
	if c.Execution.Retry.MaxRetries <= 0 {
		err = multierr.Append(err, errors.New("execution.retry.max_retries 必须大于0"))
	}
	if c.Execution.Retry.InitialDelay <= 0 || c.Execution.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("execution.retry.delay 必须为正"))
	}
	if c.Execution.Retry.InitialDelay > c.Execution.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("execution.retry.initial_delay 不能大于 max_delay"))
	}
	if c.Execution.Retry.Multiplier <= 1 {
		err = multierr.Append(err, errors.New("execution.retry.multiplier 必须大于1"))
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
	if c.Scheduler.TickInterval <= 0 {
		err = multierr.Append(err, errors.New("scheduler.tick_interval 必须大于0"))
	}
	if c.API.Enabled && (c.API.Port <= 0 || c.API.Port > 65535) {
		err = multierr.Append(err, errors.New("api.port 必须位于(0,65535]"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
