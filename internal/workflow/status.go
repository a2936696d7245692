package workflow

import "errors"

// ErrUntrustedValue is RequireTrusted's failure mode (spec.md 4.3).
var ErrUntrustedValue = errors.New("workflow: value exists but is not trusted")

// ErrMissingValue is returned when a required key is absent entirely.
var ErrMissingValue = errors.New("workflow: required value missing")

// StatusKind discriminates a WorkflowStatus's concrete shape.
type StatusKind int

const (
	StatusRunning StatusKind = iota
	StatusCompleted
	StatusFailed
)

// WorkflowStatus is Running(values) | Completed{values, message} |
// Failed{error, context}.
type WorkflowStatus struct {
	Kind    StatusKind
	Values  map[string]WorkflowValue
	Message string
	Err     string
	Context map[string]any
}

func Running(values map[string]WorkflowValue) WorkflowStatus {
	return WorkflowStatus{Kind: StatusRunning, Values: values}
}

func Completed(values map[string]WorkflowValue, message string) WorkflowStatus {
	return WorkflowStatus{Kind: StatusCompleted, Values: values, Message: message}
}

func Failed(err string, context map[string]any) WorkflowStatus {
	return WorkflowStatus{Kind: StatusFailed, Err: err, Context: context}
}

// WorkflowValues is Values{inner: map} | Final{inner: WorkflowStatus}. A
// Final envelope short-circuits execution; Final must wrap a Completed or
// Failed status, never Running.
type WorkflowValues struct {
	IsFinal bool
	Values  map[string]WorkflowValue // valid iff !IsFinal
	Status  WorkflowStatus           // valid iff IsFinal
}

func NewValues(values map[string]WorkflowValue) WorkflowValues {
	if values == nil {
		values = map[string]WorkflowValue{}
	}
	return WorkflowValues{Values: values}
}

// FinalValues wraps a terminal Completed/Failed status.
func FinalValues(status WorkflowStatus) WorkflowValues {
	return WorkflowValues{IsFinal: true, Status: status}
}

// inner is the prefix spec.md 4.3 reserves: "inner:key" requests a value
// that must exist and be trusted, in one call.
const innerPrefix = "inner:"

// Get returns (value, true) if key is present in the running value set.
func (wv WorkflowValues) Get(key string) (WorkflowValue, bool) {
	if wv.IsFinal {
		return WorkflowValue{}, false
	}
	v, ok := wv.Values[key]
	return v, ok
}

// GetTrusted returns (value, true) only if key is present AND trusted.
func (wv WorkflowValues) GetTrusted(key string) (WorkflowValue, bool) {
	v, ok := wv.Get(key)
	if !ok || !v.IsTrusted() {
		return WorkflowValue{}, false
	}
	return v, true
}

// RequireTrusted fails with ErrUntrustedValue if key exists but isn't
// trusted, or ErrMissingValue if it's absent.
func (wv WorkflowValues) RequireTrusted(key string) (WorkflowValue, error) {
	v, ok := wv.Get(key)
	if !ok {
		return WorkflowValue{}, ErrMissingValue
	}
	if !v.IsTrusted() {
		return WorkflowValue{}, ErrUntrustedValue
	}
	return v, nil
}

// Require resolves key, honoring the "inner:key" prefix (must exist and be
// trusted in one call); a bare key only requires existence.
func (wv WorkflowValues) Require(key string) (WorkflowValue, error) {
	if rest, ok := cutPrefix(key, innerPrefix); ok {
		return wv.RequireTrusted(rest)
	}
	v, ok := wv.Get(key)
	if !ok {
		return WorkflowValue{}, ErrMissingValue
	}
	return v, nil
}

func cutPrefix(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || s[:len(prefix)] != prefix {
		return s, false
	}
	return s[len(prefix):], true
}

// AddUntrusted sets key to an untrusted wrapper of v. No-op on a Final set.
func (wv *WorkflowValues) AddUntrusted(key string, v BaseValue) {
	if wv.IsFinal {
		return
	}
	wv.Values[key] = NewUntrusted(v)
}

// AddTrusted sets key to a trusted wrapper of v, recording source.
func (wv *WorkflowValues) AddTrusted(key string, v BaseValue, source string) {
	if wv.IsFinal {
		return
	}
	wv.Values[key] = NewTrusted(v, source)
}

// Clone returns a deep-enough copy safe for a step to mutate independently
// of the caller's view.
func (wv WorkflowValues) Clone() WorkflowValues {
	if wv.IsFinal {
		return wv
	}
	out := make(map[string]WorkflowValue, len(wv.Values))
	for k, v := range wv.Values {
		out[k] = v
	}
	return NewValues(out)
}
