package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Chain    ChainConfig    `mapstructure:"chain"`
	Exchange ExchangeConfig `mapstructure:"exchange"`
	Signer   SignerConfig   `mapstructure:"signer"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// ChainConfig 描述链上只读查询所需的连接与合约地址。
type ChainConfig struct {
	RPCURL          string        `mapstructure:"rpc_url"`
	ChainID         int64         `mapstructure:"chain_id"`
	CollateralToken string        `mapstructure:"collateral_token"`
	Spender         string        `mapstructure:"spender"`
	TokenDecimals   int32         `mapstructure:"token_decimals"`
	CallTimeout     time.Duration `mapstructure:"call_timeout"`
}

// ExchangeConfig 描述 CLOB 交易所的接入信息。
// APIKey/APISecret/APIPass 为预置凭证，留空时按签名身份惰性创建。
type ExchangeConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Contract  string        `mapstructure:"contract"`
	Timeout   time.Duration `mapstructure:"timeout"`
	APIKey    string        `mapstructure:"api_key"`
	APISecret string        `mapstructure:"api_secret"`
	APIPass   string        `mapstructure:"api_passphrase"`
}

// SignerConfig 选择签名能力的来源。
// mode=local 使用本地私钥，mode=remote 将待签数据转发给委托签名服务。
type SignerConfig struct {
	Mode       string        `mapstructure:"mode"`
	PrivateKey string        `mapstructure:"private_key"`
	Endpoint   string        `mapstructure:"endpoint"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// ServerConfig 控制对外 HTTP 服务。
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
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

// SignerMode 的合法取值。
const (
	SignerModeLocal  = "local"
	SignerModeRemote = "remote"
)

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}

	if c.Chain.RPCURL == "" {
		err = multierr.Append(err, errors.New("chain.rpc_url 不能为空"))
	}
	if c.Chain.ChainID <= 0 {
		err = multierr.Append(err, errors.New("chain.chain_id 必须大于0"))
	}
	if !common.IsHexAddress(c.Chain.CollateralToken) {
		err = multierr.Append(err, fmt.Errorf("chain.collateral_token 不是合法地址: %q", c.Chain.CollateralToken))
	}
	if !common.IsHexAddress(c.Chain.Spender) {
		err = multierr.Append(err, fmt.Errorf("chain.spender 不是合法地址: %q", c.Chain.Spender))
	}
	if c.Chain.TokenDecimals <= 0 {
		err = multierr.Append(err, errors.New("chain.token_decimals 必须大于0"))
	}
	if c.Chain.CallTimeout <= 0 {
		err = multierr.Append(err, errors.New("chain.call_timeout 必须大于0"))
	}

	if c.Exchange.BaseURL == "" {
		err = multierr.Append(err, errors.New("exchange.base_url 不能为空"))
	}
	if !common.IsHexAddress(c.Exchange.Contract) {
		err = multierr.Append(err, fmt.Errorf("exchange.contract 不是合法地址: %q", c.Exchange.Contract))
	}
	if c.Exchange.Timeout <= 0 {
		err = multierr.Append(err, errors.New("exchange.timeout 必须大于0"))
	}

	switch strings.ToLower(c.Signer.Mode) {
	case SignerModeLocal:
		if c.Signer.PrivateKey == "" {
			err = multierr.Append(err, errors.New("signer.mode=local 时 signer.private_key 不能为空"))
		}
	case SignerModeRemote:
		if c.Signer.Endpoint == "" {
			err = multierr.Append(err, errors.New("signer.mode=remote 时 signer.endpoint 不能为空"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("signer.mode 取值非法: %q", c.Signer.Mode))
	}
	if c.Signer.Timeout <= 0 {
		err = multierr.Append(err, errors.New("signer.timeout 必须大于0"))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		err = multierr.Append(err, fmt.Errorf("server.port 取值非法: %d", c.Server.Port))
	}

	if !c.Database.InMemory && c.Database.Path == "" {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}

	return err
}
