package config

import (
	"log/slog"
	"sync"
)

// Provider hands out the current catalog and supports atomic hot
// reload. Consumers call Current() per operation and hold the returned
// pointer for the duration of that operation; a reload mid-operation
// never mixes old and new entries.
type Provider struct {
	mu      sync.RWMutex
	current *Catalog
}

// NewProvider loads the initial catalog from dir.
func NewProvider(dir string) (*Provider, error) {
	catalog, err := Load(dir)
	if err != nil {
		return nil, err
	}
	return &Provider{current: catalog}, nil
}

// NewStaticProvider wraps an already-built catalog, for tests and
// embedding. Reload only works for catalogs loaded from a directory.
func NewStaticProvider(catalog *Catalog) *Provider {
	return &Provider{current: catalog}
}

// Current returns the active catalog snapshot.
func (p *Provider) Current() *Catalog {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Reload re-reads the config directory and swaps in the new catalog.
// On any error the previous catalog stays in effect.
func (p *Provider) Reload() (*Catalog, error) {
	dir := p.Current().ConfigDir()

	catalog, err := Load(dir)
	if err != nil {
		slog.Error("Configuration reload failed, keeping previous catalog", "dir", dir, "error", err)
		return nil, err
	}

	p.mu.Lock()
	p.current = catalog
	p.mu.Unlock()

	slog.Info("Configuration reloaded", "dir", dir)
	return catalog, nil
}
