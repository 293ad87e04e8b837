package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_Example(t *testing.T) {
	conf, err := NewConfig("config-example.yml")
	require.NoError(t, err)

	assert.Equal(t, uint(10009), conf.App.Port)
	assert.Equal(t, 10, conf.Wallet.PaymentKeys)
	assert.Equal(t, "rpc", conf.Ledger.Mode)
	assert.Equal(t, uint64(2), conf.Ledger.Confirmations)
	assert.Len(t, conf.Ledger.Tokens, 1)
	assert.Equal(t, time.Minute, conf.Pricing.CacheTTL)
	assert.Equal(t, 10*time.Minute, conf.Identity.CacheTTL)
	assert.Equal(t, "localhost:6379", conf.Redis.Addr)
	assert.Equal(t, 30*time.Second, conf.Update.Interval)
	assert.Equal(t, 15*time.Second, conf.Network.ProbeInterval)
}

func TestNewConfig_Defaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf.yml")
	require.NoError(t, os.WriteFile(path, []byte("ledger:\n  rpc: http://node:8545\n"), 0o600))

	conf, err := NewConfig(path)
	require.NoError(t, err)
	assert.Equal(t, uint(10009), conf.App.Port)
	assert.Equal(t, "rpc", conf.Ledger.Mode)
	assert.Equal(t, "leveldb", conf.Storage.Backend)
	assert.Equal(t, "USD", conf.Pricing.Currency)
	assert.Equal(t, 10, conf.Wallet.PaymentKeys)
	assert.Equal(t, 30*time.Second, conf.Update.Interval)
}

func TestNewConfig_Env(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf.yml")
	require.NoError(t, os.WriteFile(path, []byte("ledger:\n  rpc: http://node:8545\n"), 0o600))
	t.Setenv("TOSHI_LEDGER_RPC", "http://env:8545")

	conf, err := NewConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "http://env:8545", conf.Ledger.Rpc)
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{
		Ledger:  LedgerConfig{Mode: "rpc", Rpc: "http://node"},
		Storage: StorageConfig{Backend: "leveldb"},
		Wallet:  WalletConfig{PaymentKeys: 1},
	}
	assert.NoError(t, valid.Validate())

	c := valid
	c.Ledger = LedgerConfig{Mode: "rest"}
	assert.Error(t, c.Validate())

	c = valid
	c.Ledger.Mode = "ipc"
	assert.Error(t, c.Validate())

	c = valid
	c.Storage.Backend = "redis"
	assert.Error(t, c.Validate())

	c = valid
	c.Wallet.PaymentKeys = 0
	assert.Error(t, c.Validate())
}
