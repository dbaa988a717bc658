// Package toggle resolves named runtime switches from static configuration or
// from a dynamic flag service. Values are never cached here: every Resolve call
// asks the source again so flag changes take effect between calls.
package toggle

import (
	"fmt"
	"sort"
	"sync"

	"github.com/austindbirch/harbor_connect/internal/logging"
)

// Toggle names shared by the services.
const (
	UseKessel = "use-kessel"
	UseRBAC   = "use-rbac"
	UseMBOP   = "use-mbop"
)

// FlagSource answers whether a toggle is enabled. Implementations never fail;
// when they cannot decide they return fallback.
type FlagSource interface {
	IsEnabled(name string, fallback bool) bool
}

// StaticSource serves the statically configured value of each toggle.
type StaticSource struct {
	values map[string]bool
}

func NewStaticSource(values map[string]bool) *StaticSource {
	copied := make(map[string]bool, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return &StaticSource{values: copied}
}

func (s *StaticSource) IsEnabled(name string, fallback bool) bool {
	if v, ok := s.values[name]; ok {
		return v
	}
	return fallback
}

// Checker is a dynamic flag service lookup.
type Checker interface {
	IsEnabled(name string, fallback bool) bool
}

// DynamicSource asks a Checker, using the static value as the fallback when the
// service is unreachable or does not know the toggle.
type DynamicSource struct {
	checker Checker
	static  *StaticSource
}

func NewDynamicSource(checker Checker, static *StaticSource) *DynamicSource {
	if static == nil {
		static = NewStaticSource(nil)
	}
	return &DynamicSource{checker: checker, static: static}
}

func (d *DynamicSource) IsEnabled(name string, fallback bool) (enabled bool) {
	fb := d.static.IsEnabled(name, fallback)
	if d.checker == nil {
		return fb
	}
	defer func() {
		if r := recover(); r != nil {
			enabled = fb
		}
	}()
	return d.checker.IsEnabled(name, fb)
}

// Registry is the process-wide entry point for toggle lookups.
type Registry struct {
	source FlagSource

	mu    sync.RWMutex
	known map[string]bool
}

func NewRegistry(source FlagSource) *Registry {
	return &Registry{source: source, known: make(map[string]bool)}
}

// Register records a toggle and its default so it shows up in the startup log.
func (r *Registry) Register(name string, defaultValue bool) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.known[name] = defaultValue
	return name
}

func (r *Registry) Resolve(name string, defaultValue bool) bool {
	return r.source.IsEnabled(name, defaultValue)
}

// Snapshot resolves every registered toggle.
func (r *Registry) Snapshot() map[string]bool {
	r.mu.RLock()
	names := make(map[string]bool, len(r.known))
	for k, v := range r.known {
		names[k] = v
	}
	r.mu.RUnlock()

	out := make(map[string]bool, len(names))
	for name, def := range names {
		out[name] = r.Resolve(name, def)
	}
	return out
}

// LogStartup logs resolved toggles and settings once, one line per key, sorted by key.
func LogStartup(logger *logging.Logger, r *Registry, settings map[string]any) {
	all := make(map[string]any, len(settings))
	for k, v := range settings {
		all[k] = v
	}
	for k, v := range r.Snapshot() {
		all[k] = v
	}

	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	logger.Plain().Info("=== Startup configuration ===")
	for _, k := range keys {
		logger.Plain().WithField("key", k).WithField("value", all[k]).Info(fmt.Sprintf("%s=%v", k, all[k]))
	}
}
