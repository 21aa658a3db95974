package plugin

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// All selects every plugin of a category in an enabled list.
const All = "all"

// Registry holds every known plugin, in registration order.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
	order   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]Plugin)}
}

// Register adds p. Names must be unique and prefixed by the category.
func (r *Registry) Register(p Plugin) error {
	name := p.Name()
	if !strings.HasPrefix(name, string(p.Category())+"/") {
		return fmt.Errorf("register plugin %q: name must start with %q", name, p.Category()+"/")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.plugins[name]; ok {
		return fmt.Errorf("register plugin %q: already registered", name)
	}
	r.plugins[name] = p
	r.order = append(r.order, name)
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(p Plugin) {
	if err := r.Register(p); err != nil {
		panic(err)
	}
}

// Get returns a plugin by full name.
func (r *Registry) Get(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}

// Names returns every plugin name in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Load selects the plugins of category allowed by the enabled and disabled
// lists. An empty enabled list, or one containing "all", enables the whole
// category. Names may be given in full ("testing/spider") or short
// ("spider"). Naming an unknown plugin, or one both enabled and disabled,
// is an error.
func (r *Registry) Load(category Category, enabled, disabled []string) ([]Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	resolve := func(names []string) (map[string]bool, bool, error) {
		set := make(map[string]bool, len(names))
		all := false
		for _, n := range names {
			if n == All {
				all = true
				continue
			}
			full := n
			if !strings.Contains(n, "/") {
				full = string(category) + "/" + n
			}
			p, ok := r.plugins[full]
			if !ok {
				return nil, false, fmt.Errorf("unknown plugin %q", n)
			}
			if p.Category() != category {
				continue
			}
			set[full] = true
		}
		return set, all, nil
	}

	on, allOn, err := resolve(enabled)
	if err != nil {
		return nil, fmt.Errorf("load %s plugins: enabled: %w", category, err)
	}
	off, allOff, err := resolve(disabled)
	if err != nil {
		return nil, fmt.Errorf("load %s plugins: disabled: %w", category, err)
	}
	for name := range on {
		if off[name] {
			return nil, fmt.Errorf("load %s plugins: %q is both enabled and disabled", category, name)
		}
	}

	if len(enabled) == 0 {
		allOn = true
	}

	var out []Plugin
	for _, name := range r.order {
		p := r.plugins[name]
		if p.Category() != category {
			continue
		}
		if allOff && !on[name] {
			continue
		}
		if off[name] {
			continue
		}
		if allOn || on[name] {
			out = append(out, p)
		}
	}
	return out, nil
}

// Reporters returns every registered reporter in registration order.
func (r *Registry) Reporters() []Reporter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Reporter
	for _, name := range r.order {
		if rep, ok := r.plugins[name].(Reporter); ok {
			out = append(out, rep)
		}
	}
	return out
}
