package explorer

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"strings"
	"time"

	"github.com/brojonat/walletcore/service/metrics"
	"github.com/gorilla/websocket"
)

const (
	DefaultRequestTimeout = 10 * time.Second
	DefaultTxLimit        = 50
)

// Config is one entry of a coin's explorers list. An Explorer holds an
// immutable snapshot; UpdateParams replaces it wholesale.
type Config struct {
	ClassName       string            `json:"className" mapstructure:"className"`
	ID              string            `json:"id,omitempty" mapstructure:"id"`
	BaseURL         string            `json:"baseUrl" mapstructure:"baseUrl"`
	WebURL          string            `json:"webUrl,omitempty" mapstructure:"webUrl"`
	SocketURL       string            `json:"socketUrl,omitempty" mapstructure:"socketUrl"`
	Timeout         time.Duration     `json:"timeout,omitempty" mapstructure:"timeout"`
	CanPaginate     bool              `json:"canPaginate,omitempty" mapstructure:"canPaginate"`
	TxLimit         int               `json:"txLimit,omitempty" mapstructure:"txLimit"`
	UsedFor         []string          `json:"usedFor,omitempty" mapstructure:"usedFor"`
	Headers         map[string]string `json:"headers,omitempty" mapstructure:"headers"`
	APIKey          string            `json:"apiKey,omitempty" mapstructure:"apiKey"`
	InfoThrottle    time.Duration     `json:"infoThrottle,omitempty" mapstructure:"infoThrottle"`
	TxsThrottle     time.Duration     `json:"txsThrottle,omitempty" mapstructure:"txsThrottle"`
	HydrateInterval time.Duration     `json:"hydrateInterval,omitempty" mapstructure:"hydrateInterval"`
	Options         map[string]any    `json:"options,omitempty" mapstructure:"options"`
}

// Identifier returns the id, falling back to the class name.
func (c Config) Identifier() string {
	if c.ID != "" {
		return c.ID
	}
	return c.ClassName
}

// WithDefaults returns a copy of c with zero values replaced by defaults.
// Maps are copied so the snapshot cannot be mutated through the caller's
// references.
func (c Config) WithDefaults() Config {
	if c.ID == "" {
		c.ID = c.ClassName
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultRequestTimeout
	}
	if c.TxLimit <= 0 {
		c.TxLimit = DefaultTxLimit
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	c.Headers = maps.Clone(c.Headers)
	c.Options = maps.Clone(c.Options)
	c.UsedFor = append([]string(nil), c.UsedFor...)
	return c
}

// Validate checks the fields every adapter kind needs.
func (c Config) Validate() error {
	var errs []error
	if c.ClassName == "" {
		errs = append(errs, errors.New("className is required"))
	}
	if c.BaseURL == "" {
		errs = append(errs, errors.New("baseUrl is required"))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must be non-negative, got %s", c.Timeout))
	}
	if c.TxLimit < 0 {
		errs = append(errs, fmt.Errorf("txLimit must be non-negative, got %d", c.TxLimit))
	}
	return errors.Join(errs...)
}

// option looks key up exactly, then case-insensitively: viper lowercases
// keys read from config files.
func (c Config) option(key string) any {
	if v, ok := c.Options[key]; ok {
		return v
	}
	for k, v := range c.Options {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return nil
}

// OptionString returns a string option or def.
func (c Config) OptionString(key, def string) string {
	if v, ok := c.option(key).(string); ok && v != "" {
		return v
	}
	return def
}

// OptionBool returns a bool option or def.
func (c Config) OptionBool(key string, def bool) bool {
	if v, ok := c.option(key).(bool); ok {
		return v
	}
	return def
}

// OptionMap returns a nested option map. Both decoded JSON and YAML shapes
// are accepted.
func (c Config) OptionMap(key string) map[string]any {
	switch v := c.option(key).(type) {
	case map[string]any:
		return v
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[fmt.Sprint(k)] = val
		}
		return out
	default:
		return nil
	}
}

// Coin describes the asset an explorer instance serves.
type Coin struct {
	Ticker   string
	Decimals int32
	WalletID string
}

// Deps are the collaborators injected into every explorer.
type Deps struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// Transport overrides the HTTP transport of the owned client.
	Transport http.RoundTripper
	// Dialer overrides the websocket dialer used by SetSocketClient.
	Dialer *websocket.Dialer
}
