package config

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/brojonat/walletcore/service/explorer"
	"github.com/brojonat/walletcore/service/provider"
	"github.com/spf13/viper"
)

// EnvPrefix scopes environment overrides of coin config keys, so
// WALLETCORE_TICKER overrides ticker and WALLETCORE_FEEDATA_DEFAULTFEEPERBYTE
// overrides feeData.defaultFeePerByte.
const EnvPrefix = "WALLETCORE"

// Provider is the read side of a coin config. *viper.Viper satisfies it.
type Provider interface {
	GetString(key string) string
	GetInt(key string) int
	GetDuration(key string) time.Duration
	GetStringMap(key string) map[string]any
	IsSet(key string) bool
}

var _ Provider = (*viper.Viper)(nil)

// CoinConfig describes one coin and the explorers that serve it. Explorers
// are listed in priority order.
type CoinConfig struct {
	Ticker    string            `mapstructure:"ticker"`
	Decimals  int32             `mapstructure:"decimals"`
	WalletID  string            `mapstructure:"walletId"`
	Socket    bool              `mapstructure:"socket"`
	TxWebURL  string            `mapstructure:"txWebUrl"`
	Tokens    []explorer.Asset  `mapstructure:"tokens"`
	Explorers []explorer.Config `mapstructure:"explorers"`

	// Settings gives typed access to the whole file, including keys the
	// struct does not model such as feeData.
	Settings Provider `mapstructure:"-"`
}

// Coin returns the descriptor explorers are built with.
func (c *CoinConfig) Coin() explorer.Coin {
	return explorer.Coin{Ticker: c.Ticker, Decimals: c.Decimals, WalletID: c.WalletID}
}

// Token looks up a configured token by ticker.
func (c *CoinConfig) Token(ticker string) (*explorer.Asset, bool) {
	for i := range c.Tokens {
		if strings.EqualFold(c.Tokens[i].Ticker, ticker) {
			return &c.Tokens[i], true
		}
	}
	return nil, false
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// LoadCoinConfig reads a JSON or YAML coin config file.
func LoadCoinConfig(path string) (*CoinConfig, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read coin config %s: %w", path, err)
	}
	return decodeCoinConfig(v)
}

// ParseCoinConfig reads a coin config from r. format is any extension viper
// understands, such as "json" or "yaml".
func ParseCoinConfig(r io.Reader, format string) (*CoinConfig, error) {
	v := newViper()
	v.SetConfigType(format)
	if err := v.ReadConfig(r); err != nil {
		return nil, fmt.Errorf("failed to parse coin config: %w", err)
	}
	return decodeCoinConfig(v)
}

func decodeCoinConfig(v *viper.Viper) (*CoinConfig, error) {
	var cfg CoinConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode coin config: %w", err)
	}
	cfg.Settings = v
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every problem in the coin config at once.
func (c *CoinConfig) Validate() error {
	var errs []error

	if c.Ticker == "" {
		errs = append(errs, fmt.Errorf("ticker is required"))
	}
	if c.Decimals < 0 {
		errs = append(errs, fmt.Errorf("decimals must be non-negative, got %d", c.Decimals))
	}
	if len(c.Explorers) == 0 {
		errs = append(errs, fmt.Errorf("at least one explorer is required"))
	}
	for i, e := range c.Explorers {
		if e.ClassName == "" {
			errs = append(errs, fmt.Errorf("explorers[%d]: className is required", i))
		}
		if e.BaseURL == "" {
			errs = append(errs, fmt.Errorf("explorers[%d] (%s): baseUrl is required", i, e.Identifier()))
		}
		for _, u := range e.UsedFor {
			if _, err := provider.ParseUsage(u); err != nil {
				errs = append(errs, fmt.Errorf("explorers[%d] (%s): %w", i, e.Identifier(), err))
			}
		}
	}
	for i, t := range c.Tokens {
		if t.Ticker == "" {
			errs = append(errs, fmt.Errorf("tokens[%d]: ticker is required", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("coin config validation failed: %v", errs)
	}
	return nil
}
