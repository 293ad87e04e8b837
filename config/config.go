package config

import (
	"strings"
	"time"

	"github.com/jinzhu/configor"
	"github.com/lmxdawn/paywallet/db"
	"github.com/pkg/errors"
)

// DefaultPath 默认的配置文件
const DefaultPath = "config/config-example.yml"

// EnvPrefix 环境变量前缀 例如 TOSHI_LEDGER_RPC
const EnvPrefix = "TOSHI"

type AppConfig struct {
	Port  uint   `yaml:"port" default:"10009"`
	Token string `yaml:"token"` // 接口鉴权 为空不校验
	Debug bool   `yaml:"debug"`
}

type WalletConfig struct {
	Mnemonic    string `yaml:"mnemonic"`                 // 为空时生成新的助记词
	PaymentKeys int    `yaml:"paymentKeys" default:"10"` // 收付款地址个数
}

type LedgerConfig struct {
	Mode          string   `yaml:"mode" default:"rpc"` // rpc: 直连节点 rest: 链服务
	Rpc           string   `yaml:"rpc"`                // rpc 地址
	Rest          string   `yaml:"rest"`               // 链服务地址
	ChainID       int64    `yaml:"chainId"`            // 为 0 时从节点获取
	Confirmations uint64   `yaml:"confirmations" default:"1"`
	Tokens        []string `yaml:"tokens"` // 需要监听的 20 token 合约
}

type PricingConfig struct {
	Url         string        `yaml:"url"`
	NativeAsset string        `yaml:"nativeAsset" default:"ETH"`
	Currency    string        `yaml:"currency" default:"USD"`
	CacheTTL    time.Duration `yaml:"cacheTTL" default:"1m"`
}

type IdentityConfig struct {
	Url      string        `yaml:"url"`
	CacheTTL time.Duration `yaml:"cacheTTL" default:"10m"`
}

type StorageConfig struct {
	Backend string `yaml:"backend" default:"leveldb"` // leveldb 或 redis
	Path    string `yaml:"path"`                       // leveldb 目录 为空时使用内存
}

type UpdateConfig struct {
	Interval time.Duration `yaml:"interval" default:"30s"` // 定时对账的间隔
}

type NetworkConfig struct {
	ProbeInterval time.Duration `yaml:"probeInterval" default:"15s"`
	PollInterval  time.Duration `yaml:"pollInterval" default:"10s"` // 区块扫描间隔
}

type Config struct {
	App      AppConfig
	Wallet   WalletConfig
	Ledger   LedgerConfig
	Pricing  PricingConfig
	Identity IdentityConfig
	Redis    db.RedisConf
	Storage  StorageConfig
	Update   UpdateConfig
	Network  NetworkConfig
}

func NewConfig(confPath string) (Config, error) {
	var config Config
	if confPath == "" {
		confPath = DefaultPath
	}
	err := configor.New(&configor.Config{ENVPrefix: EnvPrefix}).Load(&config, confPath)
	if err != nil {
		return config, err
	}
	return config, config.Validate()
}

// Validate 检查配置是否可用
func (c Config) Validate() error {
	switch strings.ToLower(c.Ledger.Mode) {
	case "rpc":
		if c.Ledger.Rpc == "" {
			return errors.New("ledger.rpc is required in rpc mode")
		}
	case "rest":
		if c.Ledger.Rest == "" {
			return errors.New("ledger.rest is required in rest mode")
		}
	default:
		return errors.Errorf("unknown ledger mode %q", c.Ledger.Mode)
	}
	switch strings.ToLower(c.Storage.Backend) {
	case "leveldb":
	case "redis":
		if c.Redis.Addr == "" {
			return errors.New("redis.addr is required for redis storage")
		}
	default:
		return errors.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Wallet.PaymentKeys <= 0 {
		return errors.New("wallet.paymentKeys must be positive")
	}
	return nil
}
