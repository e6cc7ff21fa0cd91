package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"sigs.k8s.io/yaml"

	"mcpgate/pkg/logging"
)

// ErrServiceNotFound is returned when no descriptor exists for a name.
var ErrServiceNotFound = errors.New("service not found")

// Registry holds the configured service descriptors keyed by name.
type Registry struct {
	mu       sync.RWMutex
	services map[string]ServiceDescriptor
}

// New creates a registry from descriptors. Duplicate or invalid descriptors
// are rejected.
func New(descriptors []ServiceDescriptor) (*Registry, error) {
	services, err := index(descriptors)
	if err != nil {
		return nil, err
	}
	return &Registry{services: services}, nil
}

func index(descriptors []ServiceDescriptor) (map[string]ServiceDescriptor, error) {
	services := make(map[string]ServiceDescriptor, len(descriptors))
	var errs []error
	for _, d := range descriptors {
		if err := d.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, exists := services[d.Name]; exists {
			errs = append(errs, fmt.Errorf("duplicate service name %q", d.Name))
			continue
		}
		services[d.Name] = d
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return services, nil
}

// Lookup returns the descriptor for name or ErrServiceNotFound.
func (r *Registry) Lookup(name string) (ServiceDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.services[name]
	if !ok {
		return ServiceDescriptor{}, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	return d, nil
}

// List returns all descriptors sorted by name.
func (r *Registry) List() []ServiceDescriptor {
	r.mu.RLock()
	out := make([]ServiceDescriptor, 0, len(r.services))
	for _, d := range r.services {
		out = append(out, d)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered services.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.services)
}

// Replace atomically swaps the registered descriptors. On validation failure
// the current set is kept.
func (r *Registry) Replace(descriptors []ServiceDescriptor) error {
	services, err := index(descriptors)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.services = services
	r.mu.Unlock()

	logging.Info("Registry", "Loaded %d service descriptors", len(services))
	return nil
}

// ParseDescriptors decodes a JSON or YAML list of descriptors, as found in
// the MCP_SERVERS environment variable.
func ParseDescriptors(raw []byte) ([]ServiceDescriptor, error) {
	var descriptors []ServiceDescriptor
	if err := yaml.Unmarshal(raw, &descriptors); err != nil {
		return nil, fmt.Errorf("failed to parse service descriptors: %w", err)
	}
	return descriptors, nil
}
