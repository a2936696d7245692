package vjudge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/oj-federate/rmjac/internal/edgebus"
	"github.com/oj-federate/rmjac/internal/workflow"
)

// remoteProxyService is the Service spec.md 4.4 says the system
// synthesises whenever an edge worker registers a capability over the
// EdgeBus: a thin dispatcher whose Execute sends a task over the bus and
// awaits the correlated reply.
type remoteProxyService struct {
	meta edgebus.ServiceMetadata
	bus  *edgebus.Bus
}

// NewRemoteProxy wraps meta as a workflow.Service named
// "{platform}:{operation}:{method}", per spec.md 4.4.
func NewRemoteProxy(bus *edgebus.Bus, meta edgebus.ServiceMetadata) workflow.Service {
	return &remoteProxyService{meta: meta, bus: bus}
}

func (s *remoteProxyService) Info() workflow.ServiceInfo {
	return workflow.ServiceInfo{
		Name:        s.meta.Key(),
		Description: fmt.Sprintf("remote %s %s over %s", s.meta.Operation, s.meta.Platform, s.meta.Method),
	}
}

func (s *remoteProxyService) IsEnd() bool  { return s.meta.IsEnd }
func (s *remoteProxyService) Cost() int    { return s.meta.Cost }
func (s *remoteProxyService) InheritStatus() bool { return true }

// ImportRequire is built from required_keys (each a must-have-key) plus
// the platform constraint spec.md 4.4 names; platform matching is
// enforced structurally via a synthetic "platform:{name}" key each
// workflow run must seed for remote-proxy candidates to be eligible.
func (s *remoteProxyService) ImportRequire() workflow.StatusRequire {
	keys := make([]workflow.KeyRequirement, 0, len(s.meta.RequiredKeys)+1)
	for _, k := range s.meta.RequiredKeys {
		keys = append(keys, workflow.KeyRequirement{Key: k})
	}
	keys = append(keys, workflow.KeyRequirement{Key: "platform:" + s.meta.Platform})
	return workflow.StatusRequire{Keys: keys}
}

func (s *remoteProxyService) ExportDescribe() []workflow.StatusDescribe {
	return []workflow.StatusDescribe{{ProducesKeys: s.meta.ExportedKeys, TrustedKeys: s.meta.ExportedKeys}}
}

// Verify reports whether any worker currently offers this service; a
// capability that has gone fully offline since planning must not be
// executed (it would hang until edge timeout for no reason).
func (s *remoteProxyService) Verify(ctx context.Context, values workflow.WorkflowValues) (bool, error) {
	return s.bus.Online(s.meta.Key()), nil
}

func (s *remoteProxyService) Execute(ctx context.Context, values workflow.WorkflowValues) (workflow.WorkflowValues, error) {
	payload, err := valuesToPayload(values)
	if err != nil {
		return workflow.WorkflowValues{}, err
	}

	deadline := edgebus.DeadlineFor(s.meta.Operation)
	dispatchCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	taskID := ulid.Make().String()
	reply, err := s.bus.Dispatch(dispatchCtx, taskID, s.meta.Key(), payload)
	if err != nil {
		return workflow.FinalValues(workflow.Failed(err.Error(), map[string]any{"service": s.meta.Key()})), nil
	}
	if !reply.Success {
		return workflow.FinalValues(workflow.Failed(reply.Error, map[string]any{"service": s.meta.Key()})), nil
	}

	var output map[string]any
	if len(reply.Output) > 0 {
		if err := json.Unmarshal(reply.Output, &output); err != nil {
			return workflow.WorkflowValues{}, fmt.Errorf("vjudge: decode reply output: %w", err)
		}
	}

	out := values.Clone()
	for _, k := range s.meta.ExportedKeys {
		if v, ok := output[k]; ok {
			out.AddTrusted(k, workflow.BaseValueFromJSON(v), s.meta.Key())
		}
	}
	return out, nil
}

// valuesToPayload flattens a running WorkflowValues into plain JSON, the
// wire shape a task(payload) frame carries.
func valuesToPayload(values workflow.WorkflowValues) (json.RawMessage, error) {
	if values.IsFinal {
		return json.Marshal(map[string]any{})
	}
	flat := make(map[string]any, len(values.Values))
	for k, v := range values.Values {
		flat[k] = v.Value
	}
	return json.Marshal(flat)
}
