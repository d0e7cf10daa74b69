package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func baseYAML(accounts string) string {
	return fmt.Sprintf(`
target:
  identity: jesse
chain:
  http_rpc: http://localhost:8545
telegram:
  enabled: false
accounts:
%s`, accounts)
}

func TestLoad_AppliesDefaultsAndNormalizesKeys(t *testing.T) {
	t.Setenv("TEST_PRIVATE_KEY_1", testKey)
	path := writeConfig(t, baseYAML(`
  - name: Wallet1
    api_key: zora-1
    private_key: ${TEST_PRIVATE_KEY_1}
    spend_eth: "0.05"
  - name: Wallet2
    api_key: zora-2
    private_key: 0x`+testKey+`
    spend_eth: 0.009
`))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, StrategyPoll, cfg.Target.Strategy)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.TickInterval)
	assert.Equal(t, 10, cfg.Scheduler.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Scheduler.AttemptDelay)
	assert.Equal(t, 30, cfg.Scheduler.StatusEvery)
	assert.Equal(t, 3500, cfg.Telegram.ChunkSize)
	assert.Equal(t, int64(8453), cfg.Chain.ChainID)
	assert.Equal(t, DefaultFactoryAddress, cfg.Chain.FactoryAddress)

	require.Len(t, cfg.Accounts, 2)
	assert.Equal(t, "0x"+testKey, cfg.Accounts[0].PrivateKey.Reveal())
	assert.True(t, cfg.Accounts[0].SpendETH.Equal(decimal.RequireFromString("0.05")))
	assert.True(t, cfg.Accounts[1].SpendETH.Equal(decimal.RequireFromString("0.009")))
}

func TestLoad_RejectsMalformedAccounts(t *testing.T) {
	path := writeConfig(t, baseYAML(`
  - name: Wallet1
    api_key: ""
    private_key: deadbeef
    spend_eth: "0"
  - name: Wallet1
    api_key: zora-2
    private_key: `+testKey+`
    spend_eth: "0.01"
`))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	msg := err.Error()
	for _, want := range []string{"api_key", "private_key", "spend_eth", "重复"} {
		assert.True(t, strings.Contains(msg, want), "missing %q in %s", want, msg)
	}
}

func TestLoad_SubscribeRequiresAddressAndWebsocket(t *testing.T) {
	path := writeConfig(t, `
target:
  identity: jesse
  strategy: subscribe
chain:
  http_rpc: http://localhost:8545
telegram:
  enabled: false
accounts:
  - name: Wallet1
    api_key: k
    private_key: `+testKey+`
    spend_eth: "0.01"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "target.identity")
	assert.Contains(t, err.Error(), "chain.wss_rpc")
}

func TestLoad_MissingFileIsConfigError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestSecret_NeverFormatsPlaintext(t *testing.T) {
	s := Secret("super-secret")
	assert.Equal(t, "***", s.String())
	assert.Equal(t, "***", fmt.Sprintf("%v", s))
	assert.Equal(t, "***", fmt.Sprintf("%#v", s))
	text, err := s.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "***", string(text))
	assert.Equal(t, "super-secret", s.Reveal())
}

func TestNormalizePrivateKey(t *testing.T) {
	assert.Equal(t, Secret("0xabc"), NormalizePrivateKey(" abc "))
	assert.Equal(t, Secret("0xabc"), NormalizePrivateKey("0Xabc"))
	assert.Equal(t, Secret(""), NormalizePrivateKey("  "))
}
