package config

import (
	"fmt"
	"sync/atomic"
)

// Holder stores the active config and supports atomic reload (SIGHUP).
// Readers always see a complete config; a failed reload keeps the old one.
type Holder struct {
	ptr      atomic.Pointer[Config]
	yamlPath string
}

// NewHolder wraps an already-loaded config.
func NewHolder(cfg *Config, yamlPath string) *Holder {
	h := &Holder{yamlPath: yamlPath}
	h.ptr.Store(cfg)
	return h
}

// Get returns the current config. The returned value must not be mutated.
func (h *Holder) Get() *Config {
	return h.ptr.Load()
}

// Reload re-runs the full load hierarchy and swaps the config in atomically.
// On any error the previous config stays active.
func (h *Holder) Reload() error {
	cfg, err := LoadFrom(h.yamlPath)
	if err != nil {
		return fmt.Errorf("config reload: %w", err)
	}
	h.ptr.Store(cfg)
	return nil
}
