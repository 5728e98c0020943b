package sink

import (
	"fmt"
	"sort"
	"sync"

	"k8s.io/utils/clock"
)

// Factory opens a device with the given parameters. clk drives devices
// that model playout in time and may be ignored by others.
type Factory func(p Params, clk clock.PassiveClock) (AudioSink, error)

// Registry maps sink names to factories. It is constructed explicitly at
// process start and handed to whatever needs to open devices; there is no
// package-level registry.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty Registry. Use RegisterBuiltins to install
// the devices shipped with this package.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Built-in sink names.
const (
	NameSimulated = "simulated"
	NameDiscard   = "discard"
)

// RegisterBuiltins installs the simulated and discard devices.
func RegisterBuiltins(r *Registry) error {
	if err := r.Register(NameSimulated, func(p Params, clk clock.PassiveClock) (AudioSink, error) {
		return NewSimulated(p, clk)
	}); err != nil {
		return err
	}
	return r.Register(NameDiscard, func(p Params, _ clock.PassiveClock) (AudioSink, error) {
		return NewDiscard(p)
	})
}

// Register adds a factory under name. Registering a name twice returns
// ErrDuplicateSink.
func (r *Registry) Register(name string, f Factory) error {
	if f == nil {
		return fmt.Errorf("register %q: nil factory", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("register %q: %w", name, ErrDuplicateSink)
	}
	r.factories[name] = f
	return nil
}

// Unregister removes the factory for name, if any.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	delete(r.factories, name)
	r.mu.Unlock()
}

// Get returns the factory for name, or false if not found.
func (r *Registry) Get(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// Names returns the registered sink names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Open creates a device using the factory registered under name.
func (r *Registry) Open(name string, p Params, clk clock.PassiveClock) (AudioSink, error) {
	f, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("open %q: %w", name, ErrUnknownSink)
	}
	s, err := f(p, clk)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", name, err)
	}
	return s, nil
}
