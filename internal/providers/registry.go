package providers

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Registry holds the configured job clients and which one is active.
// The active client can be swapped at runtime when configuration changes.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]JobClient
	active  string
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		clients: make(map[string]JobClient),
		logger:  logger,
	}
}

// Register adds or replaces a client under its own name.
func (r *Registry) Register(c JobClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.Name()] = c
	if r.active == "" {
		r.active = c.Name()
	}
	r.logger.Debug("job provider registered", "provider", c.Name())
}

// SetActive selects the client used for new walks.
func (r *Registry) SetActive(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNoProvider, name)
	}
	if r.active != name {
		r.logger.Info("job provider switched", "from", r.active, "to", name)
	}
	r.active = name
	return nil
}

// Active returns the selected client.
func (r *Registry) Active() (JobClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[r.active]
	if !ok {
		return nil, ErrNoProvider
	}
	return c, nil
}

// Get returns a client by name.
func (r *Registry) Get(name string) (JobClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoProvider, name)
	}
	return c, nil
}

// Names lists registered clients in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for n := range r.clients {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ActiveName returns the selected client's name, or "" if none.
func (r *Registry) ActiveName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}
