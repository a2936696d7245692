package workflow

import "context"

// ServiceInfo is a service's planner-facing identity.
type ServiceInfo struct {
	Name              string // planner key, typically "platform:operation:method"
	Description       string
	AllowDescription  string
}

// KeyRequirement is one entry of a StatusRequire: a key that must be
// present, optionally requiring it be trusted.
type KeyRequirement struct {
	Key            string
	RequireTrusted bool
}

// StatusRequire is a structural predicate over an input description:
// which keys (or inner-trusted keys) a service needs.
type StatusRequire struct {
	Keys []KeyRequirement
}

// Satisfied reports whether state (the set of keys known to be present,
// and whether each is trusted) satisfies every requirement.
func (r StatusRequire) Satisfied(state planState) bool {
	for _, kr := range r.Keys {
		trusted, ok := state.keys[kr.Key]
		if !ok {
			return false
		}
		if kr.RequireTrusted && !trusted {
			return false
		}
	}
	return true
}

// StatusDescribe is a structural description of what a service may
// produce: the keys it adds, split by whether they come out trusted.
type StatusDescribe struct {
	ProducesKeys []string
	TrustedKeys  []string
}

// Service is the workflow runtime's unit of work (spec.md 4.3).
type Service interface {
	Info() ServiceInfo
	IsEnd() bool
	Cost() int
	ImportRequire() StatusRequire
	ExportDescribe() []StatusDescribe
	InheritStatus() bool
	Verify(ctx context.Context, values WorkflowValues) (bool, error)
	Execute(ctx context.Context, values WorkflowValues) (WorkflowValues, error)
}
