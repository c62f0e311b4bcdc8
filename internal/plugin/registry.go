// SPDX-FileCopyrightText: 2025 The JouleTrack Authors
// SPDX-License-Identifier: Apache-2.0

package plugin

import (
	"log/slog"
	"sync"
)

// Registry owns a set of hardware plugins and provides name-based lookup
// without duplicating ownership: the slice owns, the index points into the
// same set.
type Registry struct {
	logger *slog.Logger

	mu      sync.RWMutex
	plugins []HardwarePlugin
	byName  map[string]HardwarePlugin
}

// RegistryOptionFn is a function that sets an option on a Registry.
type RegistryOptionFn func(*Registry)

// WithRegistryLogger sets the logger for the Registry.
func WithRegistryLogger(logger *slog.Logger) RegistryOptionFn {
	return func(r *Registry) {
		r.logger = logger.With("service", "plugin-registry")
	}
}

// NewRegistry creates an empty plugin registry.
func NewRegistry(opts ...RegistryOptionFn) *Registry {
	r := &Registry{
		logger: slog.Default().With("service", "plugin-registry"),
		byName: map[string]HardwarePlugin{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register takes ownership of a plugin. When a plugin with the same name
// is already registered, the newer instance takes over the name in the
// lookup index while the older one stays in the owning slice until it is
// removed explicitly. Compatibility note: this retention is longstanding
// observable behavior; Plugins() reflects every registration, Plugin()
// only the latest per name.
func (r *Registry) Register(p HardwarePlugin) {
	if p == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	if _, exists := r.byName[name]; exists {
		r.logger.Warn("Replacing plugin registration", "plugin", name)
	}
	r.byName[name] = p
	r.plugins = append(r.plugins, p)

	r.logger.Debug("Registered plugin", "plugin", name)
}

// Plugins returns a non-owning view of every registered plugin, in
// registration order.
func (r *Registry) Plugins() []HardwarePlugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]HardwarePlugin, len(r.plugins))
	copy(out, r.plugins)
	return out
}

// AvailablePlugins returns the registered plugins whose backend is usable
// on this system.
func (r *Registry) AvailablePlugins() []HardwarePlugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]HardwarePlugin, 0, len(r.plugins))
	for _, p := range r.plugins {
		if p.Available() {
			out = append(out, p)
		}
	}
	return out
}

// Plugin returns the plugin registered under name, or false if none is.
func (r *Registry) Plugin(name string) (HardwarePlugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.byName[name]
	return p, ok
}

// Remove drops the named plugin from the lookup index and removes the
// first instance carrying that name from the owning slice. It returns
// false if the name is not in the index.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[name]; !ok {
		return false
	}

	for i, p := range r.plugins {
		if p.Name() == name {
			r.plugins = append(r.plugins[:i], r.plugins[i+1:]...)
			break
		}
	}
	delete(r.byName, name)

	r.logger.Debug("Removed plugin", "plugin", name)
	return true
}
