// Package vjudge implements the remote-judge workflow system (component
// H): a service registry mixing local built-ins with remote-proxy
// services synthesised from EdgeBus worker registrations, the submission
// upsert pipeline (update_batch), and judging aggregation.
//
// Grounded on the teacher's internal/service package shape (a registry of
// named Service implementations behind client.go's dispatch), generalized
// from the teacher's fixed LLM-provider set to a registry that grows at
// runtime as edge workers connect.
package vjudge

import (
	"sync"

	"github.com/oj-federate/rmjac/internal/workflow"
)

// Registry is the read-mostly name -> Service map spec.md 4.4 names.
// Local services are registered once at boot; remote-proxy services come
// and go as EdgeBus workers register/unregister capabilities.
type Registry struct {
	mu       sync.RWMutex
	services map[string]workflow.Service
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{services: make(map[string]workflow.Service)}
}

// Register adds or replaces a service under its own Info().Name.
func (r *Registry) Register(svc workflow.Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[svc.Info().Name] = svc
}

// Unregister removes a service by name, the unregister_service path.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.services, name)
}

// Get looks up a single service by name.
func (r *Registry) Get(name string) (workflow.Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[name]
	return svc, ok
}

// All returns a snapshot slice of every registered service, the candidate
// set the workflow planner searches over.
func (r *Registry) All() []workflow.Service {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]workflow.Service, 0, len(r.services))
	for _, svc := range r.services {
		out = append(out, svc)
	}
	return out
}
