package gateway

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Registry looks configured gateways up by name.
type Registry struct {
	l        sync.RWMutex
	managers map[string]*Manager
}

func NewRegistry() *Registry {
	return &Registry{managers: map[string]*Manager{}}
}

func (r *Registry) Add(m *Manager) error {
	r.l.Lock()
	defer r.l.Unlock()

	if _, found := r.managers[m.Name()]; found {
		return errors.Errorf("%s: gateway defined twice", m.Name())
	}
	r.managers[m.Name()] = m
	return nil
}

func (r *Registry) Get(name string) (*Manager, error) {
	r.l.RLock()
	defer r.l.RUnlock()

	m, found := r.managers[name]
	if !found {
		return nil, errors.Wrap(ErrUnknownGateway, name)
	}
	return m, nil
}

// All returns the registered gateways ordered by name.
func (r *Registry) All() []*Manager {
	r.l.RLock()
	defer r.l.RUnlock()

	all := make([]*Manager, 0, len(r.managers))
	for _, m := range r.managers {
		all = append(all, m)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name() < all[j].Name() })
	return all
}

// Run starts one connection manager per gateway and blocks until all of them stop.
func (r *Registry) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, m := range r.All() {
		wg.Add(1)
		go func(m *Manager) {
			defer wg.Done()
			m.Run(ctx)
		}(m)
	}
	wg.Wait()
}
