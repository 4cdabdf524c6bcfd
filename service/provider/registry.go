// Package provider resolves logical wallet operations to the configured
// explorer instances of one coin.
package provider

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/brojonat/walletcore/service/errs"
	"github.com/brojonat/walletcore/service/explorer"
)

// Usage is a logical operation a provider can serve.
type Usage string

const (
	UsageBalance Usage = "balance"
	UsageHistory Usage = "history"
	UsageTx      Usage = "tx"
	UsageUTXO    Usage = "utxo"
	UsageSend    Usage = "send"
	UsageNode    Usage = "node"
	UsageSocket  Usage = "socket"
	UsageToken   Usage = "token"
)

// AllUsages lists the known usages in display order.
var AllUsages = []Usage{
	UsageBalance, UsageHistory, UsageTx, UsageUTXO,
	UsageSend, UsageNode, UsageSocket, UsageToken,
}

// ParseUsage validates a usage name from configuration.
func ParseUsage(s string) (Usage, error) {
	u := Usage(s)
	if !slices.Contains(AllUsages, u) {
		return "", fmt.Errorf("unknown usage %q", s)
	}
	return u, nil
}

// Constructor builds one explorer instance from its config entry.
type Constructor func(cfg explorer.Config, coin explorer.Coin, deps explorer.Deps) (explorer.Provider, error)

// Module declares an adapter kind a coin accepts.
type Module struct {
	ClassName    string
	DefaultUsage []Usage
	New          Constructor
}

// Registry maps usages to ordered explorer instances. It performs no I/O.
type Registry struct {
	mu        sync.RWMutex
	logger    *slog.Logger
	modules   map[string]Module
	explorers []explorer.Provider
	byUsage   map[Usage][]explorer.Provider
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:  logger,
		modules: make(map[string]Module),
		byUsage: make(map[Usage][]explorer.Provider),
	}
}

// SetExplorerModules declares the adapter kinds this coin accepts. Config
// entries naming any other class are skipped by LoadExplorers.
func (r *Registry) SetExplorerModules(mods ...Module) error {
	modules := make(map[string]Module, len(mods))
	for _, m := range mods {
		if m.ClassName == "" || m.New == nil {
			return errs.Configuration("registry", "module must have a class name and constructor")
		}
		if _, dup := modules[m.ClassName]; dup {
			return errs.Configuration("registry", "module %q declared twice", m.ClassName)
		}
		modules[m.ClassName] = m
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules = modules
	return nil
}

// LoadExplorers instantiates one explorer per config entry whose class is
// declared and indexes it under its usages, in config order. The previous
// instances are replaced only when every entry loads.
func (r *Registry) LoadExplorers(coin explorer.Coin, cfgs []explorer.Config, deps explorer.Deps) error {
	r.mu.RLock()
	modules := r.modules
	r.mu.RUnlock()

	var (
		loadErrs  []error
		explorers []explorer.Provider
		byUsage   = make(map[Usage][]explorer.Provider)
		seen      = make(map[string]bool)
	)
	for i, cfg := range cfgs {
		mod, ok := modules[cfg.ClassName]
		if !ok {
			r.logger.Warn("skipping explorer with undeclared class", "index", i, "class", cfg.ClassName, "ticker", coin.Ticker)
			continue
		}

		usages := mod.DefaultUsage
		if len(cfg.UsedFor) > 0 {
			usages = nil
			for _, s := range cfg.UsedFor {
				u, err := ParseUsage(s)
				if err != nil {
					loadErrs = append(loadErrs, fmt.Errorf("explorer %d (%s): %w", i, cfg.Identifier(), err))
					continue
				}
				usages = append(usages, u)
			}
		}

		id := cfg.Identifier()
		if seen[id] {
			loadErrs = append(loadErrs, fmt.Errorf("explorer %d: duplicate id %q", i, id))
			continue
		}
		seen[id] = true

		p, err := mod.New(cfg, coin, deps)
		if err != nil {
			loadErrs = append(loadErrs, fmt.Errorf("explorer %d (%s): %w", i, id, err))
			continue
		}
		explorers = append(explorers, p)
		for _, u := range usages {
			byUsage[u] = append(byUsage[u], p)
		}
	}
	if len(loadErrs) > 0 {
		return &errs.WalletError{Kind: errs.KindConfiguration, Origin: coin.Ticker, Cause: errors.Join(loadErrs...)}
	}

	r.mu.Lock()
	r.explorers = explorers
	r.byUsage = byUsage
	r.mu.Unlock()

	r.logger.Info("explorers loaded", "ticker", coin.Ticker, "count", len(explorers), "usages", len(byUsage))
	return nil
}

// GetProvider returns the highest priority provider for u.
func (r *Registry) GetProvider(u Usage) (explorer.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ps := r.byUsage[u]
	if len(ps) == 0 {
		return nil, &errs.WalletError{
			Kind:   errs.KindConfiguration,
			Origin: "registry",
			Cause:  fmt.Errorf("%w for %q", errs.ErrNoProvider, u),
		}
	}
	return ps[0], nil
}

// Providers returns every provider for u in priority order.
func (r *Registry) Providers(u Usage) []explorer.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.byUsage[u])
}

// Usages returns the usages with at least one provider.
func (r *Registry) Usages() []Usage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Usage
	for _, u := range AllUsages {
		if len(r.byUsage[u]) > 0 {
			out = append(out, u)
		}
	}
	return out
}

// Explorers returns every loaded instance in config order.
func (r *Registry) Explorers() []explorer.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.explorers)
}

// Explorer looks an instance up by id.
func (r *Registry) Explorer(id string) (explorer.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.explorers {
		if p.ID() == id {
			return p, true
		}
	}
	return nil, false
}

// UpdateParams replaces the config of the instance with the given id. The
// usage map is left untouched.
func (r *Registry) UpdateParams(id string, cfg explorer.Config) error {
	p, ok := r.Explorer(id)
	if !ok {
		return &errs.WalletError{
			Kind:   errs.KindConfiguration,
			Origin: "registry",
			Cause:  fmt.Errorf("%w: %s", errs.ErrUnknownExplorer, id),
		}
	}
	return p.UpdateParams(cfg)
}

// UpdateCoinParamsFromServer applies server-pushed explorer configs. Entries
// match by id, then by class name; unmatched entries are skipped.
func (r *Registry) UpdateCoinParamsFromServer(cfgs []explorer.Config) error {
	var updateErrs []error
	for _, cfg := range cfgs {
		p := r.match(cfg)
		if p == nil {
			r.logger.Warn("no explorer matches pushed params", "id", cfg.ID, "class", cfg.ClassName)
			continue
		}
		if err := p.UpdateParams(cfg); err != nil {
			updateErrs = append(updateErrs, err)
		}
	}
	return errors.Join(updateErrs...)
}

func (r *Registry) match(cfg explorer.Config) explorer.Provider {
	if cfg.ID != "" {
		p, _ := r.Explorer(cfg.ID)
		return p
	}
	for _, p := range r.Explorers() {
		if p.Name() == cfg.ClassName {
			return p
		}
	}
	return nil
}

// Close releases push channels held by loaded instances.
func (r *Registry) Close() error {
	var closeErrs []error
	for _, p := range r.Explorers() {
		if sp, ok := p.(explorer.SocketProvider); ok {
			if err := sp.Close(); err != nil {
				closeErrs = append(closeErrs, fmt.Errorf("close %s: %w", p.ID(), err))
			}
		}
	}
	return errors.Join(closeErrs...)
}
