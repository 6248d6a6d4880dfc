package collector

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Registry maps port hints to the collectors that claim them.
type Registry struct {
	mu         sync.RWMutex
	collectors []Collector
	byPort     map[int][]Collector
	log        zerolog.Logger
}

// NewRegistry creates an empty collector registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		byPort: make(map[int][]Collector),
		log:    log.With().Str("component", "collectors").Logger(),
	}
}

// Register adds a collector under the port hints it claims. Registration
// order defines the default try order when a target has no hints.
func (r *Registry) Register(c Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.collectors {
		if existing.Name() == c.Name() {
			return fmt.Errorf("collector %s already registered", c.Name())
		}
	}

	r.collectors = append(r.collectors, c)
	for _, port := range c.Ports() {
		r.byPort[port] = append(r.byPort[port], c)
	}

	r.log.Debug().Str("collector", c.Name()).Ints("ports", c.Ports()).Msg("collector registered")
	return nil
}

// ForPorts selects candidate collectors for the hinted open ports, in
// registration order without duplicates. Absence of hints returns the full
// default ordered set so a silent host still gets tried.
func (r *Registry) ForPorts(ports []int) []Collector {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(ports) == 0 {
		return append([]Collector(nil), r.collectors...)
	}

	claimed := make(map[string]struct{})
	for _, port := range ports {
		for _, c := range r.byPort[port] {
			claimed[c.Name()] = struct{}{}
		}
	}
	if len(claimed) == 0 {
		return append([]Collector(nil), r.collectors...)
	}

	out := make([]Collector, 0, len(claimed))
	for _, c := range r.collectors {
		if _, ok := claimed[c.Name()]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Names lists registered collectors in default order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.collectors))
	for _, c := range r.collectors {
		names = append(names, c.Name())
	}
	return names
}
