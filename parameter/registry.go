package parameter

import (
	"errors"
	"fmt"
	"sync"

	"github.com/samber/lo"
)

// Change is one entry of a change request.
type Change struct {
	Name  string
	Value any
}

// Request is a batch of changes applied together.
type Request struct {
	Changes []Change
	// Original makes the changes rewrite the original values too.
	Original bool
}

// Registry keeps the parameters of a task in registration order.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	params map[string]Param
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{params: make(map[string]Param)}
}

// Register adds params. Names must be unique; nothing is added when one is taken.
func (r *Registry) Register(params ...Param) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range params {
		if _, ok := r.params[p.Name()]; ok || lo.ContainsBy(params[:i], func(q Param) bool { return q.Name() == p.Name() }) {
			return fmt.Errorf("%w: %s", ErrDuplicateParameter, p.Name())
		}
	}
	for _, p := range params {
		r.params[p.Name()] = p
		r.order = append(r.order, p.Name())
	}
	return nil
}

// Unregister removes a parameter, reporting whether it was present.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.params[name]; !ok {
		return false
	}
	delete(r.params, name)
	r.order = lo.Without(r.order, name)
	return true
}

// Lookup returns the parameter called name.
func (r *Registry) Lookup(name string) (Param, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.params[name]
	return p, ok
}

// Len returns the number of registered parameters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Names returns the parameter names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Describe returns the description of every parameter, in registration order.
func (r *Registry) Describe() []Description {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Map(r.order, func(name string, _ int) Description { return r.params[name].Describe() })
}

// Changed returns the descriptions of the parameters whose value differs from the original.
func (r *Registry) Changed() []Description {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.FilterMap(r.order, func(name string, _ int) (Description, bool) {
		p := r.params[name]
		return p.Describe(), !p.IsOriginal()
	})
}

// Apply applies every change of req, going on after failures. The returned error joins
// ErrUnknownParameter and ErrInvalidValue failures.
func (r *Registry) Apply(req Request) error {
	var errs []error
	for _, change := range req.Changes {
		p, ok := r.Lookup(change.Name)
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownParameter, change.Name))
			continue
		}
		var err error
		if req.Original {
			err = p.SetOriginal(change.Value)
		} else {
			err = p.Set(change.Value)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
