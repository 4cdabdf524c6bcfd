package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const btcYAML = `
ticker: BTC
decimals: 8
walletId: btc-main
socket: true
txWebUrl: https://mempool.space/tx/{txid}
feeData:
  defaultFeePerByte: 10
tokens:
  - ticker: USDT
    contract: "31"
    decimals: 8
explorers:
  - className: esplora
    baseUrl: https://blockstream.info/api
    timeout: 5s
    usedFor: [balance, history, tx, utxo, send, node]
  - className: esplora
    id: mempool
    baseUrl: https://mempool.space/api
    socketUrl: wss://mempool.space/api/v1/ws
    canPaginate: true
    usedFor: [history, socket]
    options:
      network: mainnet
      chainId: "1"
`

func TestParseCoinConfig(t *testing.T) {
	cfg, err := ParseCoinConfig(strings.NewReader(btcYAML), "yaml")
	require.NoError(t, err)

	assert.Equal(t, "BTC", cfg.Ticker)
	assert.Equal(t, int32(8), cfg.Decimals)
	assert.Equal(t, "btc-main", cfg.Coin().WalletID)
	assert.True(t, cfg.Socket)
	assert.Equal(t, "https://mempool.space/tx/{txid}", cfg.TxWebURL)

	require.Len(t, cfg.Explorers, 2)
	first := cfg.Explorers[0]
	assert.Equal(t, "esplora", first.ClassName)
	assert.Equal(t, "https://blockstream.info/api", first.BaseURL)
	assert.Equal(t, 5*time.Second, first.Timeout)
	assert.Equal(t, []string{"balance", "history", "tx", "utxo", "send", "node"}, first.UsedFor)

	second := cfg.Explorers[1]
	assert.Equal(t, "mempool", second.ID)
	assert.True(t, second.CanPaginate)
	assert.Equal(t, "wss://mempool.space/api/v1/ws", second.SocketURL)
	assert.Equal(t, "1", second.OptionString("chainId", ""))
	assert.Equal(t, "mainnet", second.OptionString("network", ""))

	usdt, ok := cfg.Token("usdt")
	require.True(t, ok)
	assert.Equal(t, "31", usdt.Contract)

	assert.Equal(t, 10, cfg.Settings.GetInt("feeData.defaultFeePerByte"))
	assert.True(t, cfg.Settings.IsSet("feeData"))
}

func TestParseCoinConfig_EnvOverride(t *testing.T) {
	t.Setenv("WALLETCORE_TICKER", "TBTC")

	cfg, err := ParseCoinConfig(strings.NewReader(btcYAML), "yaml")
	require.NoError(t, err)
	assert.Equal(t, "TBTC", cfg.Ticker)
}

func TestParseCoinConfig_Invalid(t *testing.T) {
	_, err := ParseCoinConfig(strings.NewReader(`
decimals: -1
explorers:
  - baseUrl: https://example.com
  - className: esplora
    usedFor: [balance, teleport]
`), "yaml")
	require.Error(t, err)
	for _, want := range []string{
		"ticker is required",
		"decimals must be non-negative",
		"explorers[0]: className is required",
		"explorers[1] (esplora): baseUrl is required",
		`unknown usage "teleport"`,
	} {
		assert.Contains(t, err.Error(), want)
	}

	_, err = ParseCoinConfig(strings.NewReader(`ticker: BTC`), "yaml")
	assert.ErrorContains(t, err, "at least one explorer is required")
}

func TestLoadCoinConfig_JSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eth.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "ticker": "ETH",
  "decimals": 18,
  "explorers": [{"className": "evm", "baseUrl": "http://localhost:8545", "hydrateInterval": "250ms"}]
}`), 0o600))

	cfg, err := LoadCoinConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "ETH", cfg.Ticker)
	require.Len(t, cfg.Explorers, 1)
	assert.Equal(t, 250*time.Millisecond, cfg.Explorers[0].HydrateInterval)

	_, err = LoadCoinConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read coin config")
}
