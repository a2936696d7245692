package entity

import (
	"context"
	"time"

	"github.com/oj-federate/rmjac/internal/crypto"
	"github.com/oj-federate/rmjac/internal/graph"
	"github.com/oj-federate/rmjac/internal/store"
)

// RemoteMode is a VjudgeNode's authentication scheme (spec.md 3).
type RemoteMode string

const (
	RemotePublicAccount RemoteMode = "PublicAccount"
	RemoteOnlySync       RemoteMode = "OnlySync"
	RemoteSyncCode       RemoteMode = "SyncCode"
	RemoteOnlyTrust      RemoteMode = "OnlyTrust"
	RemoteToken          RemoteMode = "Token"
	RemotePassword       RemoteMode = "Password"
	RemoteApikey         RemoteMode = "Apikey"
)

// MiscVjudgeTask and MiscWorkflowTask are the misc_type values of the Misc
// edge linking a VjudgeTaskNode to its owner: a VjudgeNode
// (CreateVjudgeTask) or a user (CreateWorkflowTask).
const MiscVjudgeTask = "vjudge_task"
const MiscWorkflowTask = "workflow_task"

// VjudgeNode wraps a remote OJ account.
type VjudgeNode struct {
	st store.Store
	graph.Node
}

func (v *VjudgeNode) Platform() string          { return v.PayloadString("platform") }
func (v *VjudgeNode) LocalIden() string         { return v.PayloadString("local_iden") }
func (v *VjudgeNode) Mode() RemoteMode          { return RemoteMode(v.PayloadString("mode")) }
func (v *VjudgeNode) AuthPayload() string       { return v.PayloadString("auth_payload") }
func (v *VjudgeNode) Verified() bool            { b, _ := v.Payload["verified"].(bool); return b }
func (v *VjudgeNode) VerificationCode() string  { return v.PayloadString("verification_code") }

// CredentialPayload decrypts the stored auth_payload with key (the at-rest
// key derived from config.Store.EncryptionKey; nil is a no-op passthrough
// for legacy plaintext or when no key is configured) and assembles the
// remote-mode-specific credential shape a verify_account/remote-proxy
// service call needs, per original_source's
// workflow/vjudge/services/from_node.rs (SPEC_FULL.md 4.4 supplement):
// Token and Apikey modes ship a bearer-style string, Password ships a
// {username,password} pair, and sync-only modes carry no credential at
// all. The caller must keep the result out of logs and HTTP responses —
// it is meant to flow only into a trusted workflow.WorkflowValues bound
// for an EdgeBus dispatch.
func (v *VjudgeNode) CredentialPayload(key []byte) (map[string]any, error) {
	switch v.Mode() {
	case RemoteToken, RemoteApikey:
		token, err := crypto.DecryptCredential(v.AuthPayload(), key)
		if err != nil {
			return nil, err
		}
		return map[string]any{"token": token}, nil
	case RemotePassword:
		password, err := crypto.DecryptCredential(v.AuthPayload(), key)
		if err != nil {
			return nil, err
		}
		return map[string]any{"username": v.LocalIden(), "password": password}, nil
	default:
		return map[string]any{}, nil
	}
}

// CreateVjudgeNode persists a new VjudgeNode and its UserRemote edge from
// userID. encryptedAuthPayload must already be at-rest encrypted (see
// internal/crypto.EncryptCredential) when mode carries a secret.
func CreateVjudgeNode(ctx context.Context, st store.Store, userID, platform, localIden string, mode RemoteMode, encryptedAuthPayload string) (*VjudgeNode, error) {
	n, err := st.CreateNode(ctx, graph.Node{
		Type: graph.NodeVjudge,
		Payload: map[string]any{
			"platform": platform, "local_iden": localIden, "mode": string(mode),
			"auth_payload": encryptedAuthPayload, "verified": false,
		},
	})
	if err != nil {
		return nil, err
	}

	if _, err := st.CreateEdge(ctx, graph.Edge{Type: graph.EdgeUserRemote, U: userID, V: n.ID}); err != nil {
		return nil, err
	}

	return &VjudgeNode{st: st, Node: n}, nil
}

func GetVjudgeNode(ctx context.Context, st store.Store, id string) (*VjudgeNode, error) {
	n, err := st.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	return &VjudgeNode{st: st, Node: n}, nil
}

// SetVerified records a successful verify_account outcome.
func (v *VjudgeNode) SetVerified(ctx context.Context, verified bool, code string) error {
	payload := clonePayload(v.Payload)
	payload["verified"] = verified
	payload["verification_code"] = code
	if err := v.st.UpdateNode(ctx, v.ID, payload); err != nil {
		return err
	}
	v.Payload = payload
	return nil
}

// VjudgeTaskStatus is a VjudgeTaskNode's lifecycle state (spec.md 4.4).
type VjudgeTaskStatus string

const (
	TaskPending    VjudgeTaskStatus = "pending"
	TaskDispatched VjudgeTaskStatus = "dispatched"
	TaskRunning    VjudgeTaskStatus = "running"
	TaskCompleted  VjudgeTaskStatus = "completed"
	TaskFailed     VjudgeTaskStatus = "failed"
	TaskCronOnline VjudgeTaskStatus = "cron_online"
)

// VjudgeTaskNode wraps a persistent workflow task.
type VjudgeTaskNode struct {
	st store.Store
	graph.Node
}

func (t *VjudgeTaskNode) Status() VjudgeTaskStatus { return VjudgeTaskStatus(t.PayloadString("status")) }
func (t *VjudgeTaskNode) Log() string              { return t.PayloadString("log") }
func (t *VjudgeTaskNode) ServiceName() string       { return t.PayloadString("service") }
func (t *VjudgeTaskNode) Snapshot() string          { return t.PayloadString("workflow_snapshot") }

// CreateVjudgeTask persists a new task node with status=pending and links
// it to vjudgeID via a Misc edge of type vjudge_task.
func CreateVjudgeTask(ctx context.Context, st store.Store, vjudgeID, service string) (*VjudgeTaskNode, error) {
	n, err := st.CreateNode(ctx, graph.Node{
		Type: graph.NodeVjudgeTask,
		Payload: map[string]any{
			"status": string(TaskPending), "log": "", "service": service,
		},
	})
	if err != nil {
		return nil, err
	}

	if _, err := st.CreateEdge(ctx, graph.Edge{
		Type: graph.EdgeMisc, U: vjudgeID, V: n.ID,
		Payload: map[string]any{"misc_type": MiscVjudgeTask},
	}); err != nil {
		return nil, err
	}

	return &VjudgeTaskNode{st: st, Node: n}, nil
}

// CreateWorkflowTask persists a task node owned by a user rather than a
// VjudgeNode, for workflow/execute calls that target a service not bound
// to any one remote account (spec.md 6's ad-hoc `target_service` runs).
func CreateWorkflowTask(ctx context.Context, st store.Store, ownerUserID, service string) (*VjudgeTaskNode, error) {
	n, err := st.CreateNode(ctx, graph.Node{
		Type: graph.NodeVjudgeTask,
		Payload: map[string]any{
			"status": string(TaskPending), "log": "", "service": service,
		},
	})
	if err != nil {
		return nil, err
	}

	if _, err := st.CreateEdge(ctx, graph.Edge{
		Type: graph.EdgeMisc, U: ownerUserID, V: n.ID,
		Payload: map[string]any{"misc_type": MiscWorkflowTask},
	}); err != nil {
		return nil, err
	}

	return &VjudgeTaskNode{st: st, Node: n}, nil
}

func GetVjudgeTask(ctx context.Context, st store.Store, id string) (*VjudgeTaskNode, error) {
	n, err := st.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	return &VjudgeTaskNode{st: st, Node: n}, nil
}

// Advance transitions status and appends a timestamped line to the task's
// log (spec.md 4.4's durable task lifecycle).
func (t *VjudgeTaskNode) Advance(ctx context.Context, status VjudgeTaskStatus, logLine string) error {
	payload := clonePayload(t.Payload)
	payload["status"] = string(status)
	payload["log"] = t.Log() + time.Now().UTC().Format(time.RFC3339) + " " + logLine + "\n"
	if err := t.st.UpdateNode(ctx, t.ID, payload); err != nil {
		return err
	}
	t.Payload = payload
	return nil
}

// SetSnapshot records the final serialised WorkflowValues on terminal status.
func (t *VjudgeTaskNode) SetSnapshot(ctx context.Context, snapshot string) error {
	payload := clonePayload(t.Payload)
	payload["workflow_snapshot"] = snapshot
	if err := t.st.UpdateNode(ctx, t.ID, payload); err != nil {
		return err
	}
	t.Payload = payload
	return nil
}

// ListVjudgeTasks returns every VjudgeTaskNode in the order
// ListNodesByType yields them, which no store backend defines; callers needing open/closed filtering and
// pagination (spec.md 6's tasks/list) apply that themselves.
func ListVjudgeTasks(ctx context.Context, st store.Store) ([]*VjudgeTaskNode, error) {
	nodes, err := st.ListNodesByType(ctx, graph.NodeVjudgeTask)
	if err != nil {
		return nil, err
	}
	out := make([]*VjudgeTaskNode, len(nodes))
	for i, n := range nodes {
		out[i] = &VjudgeTaskNode{st: st, Node: n}
	}
	return out, nil
}

// ListCronOnlineTasks returns every VjudgeTaskNode whose status is
// cron_online, the scheduler's boot-time enumeration (spec.md 4.7).
func ListCronOnlineTasks(ctx context.Context, st store.Store) ([]*VjudgeTaskNode, error) {
	nodes, err := st.ListNodesByType(ctx, graph.NodeVjudgeTask)
	if err != nil {
		return nil, err
	}
	var out []*VjudgeTaskNode
	for _, n := range nodes {
		if n.PayloadString("status") == string(TaskCronOnline) {
			out = append(out, &VjudgeTaskNode{st: st, Node: n})
		}
	}
	return out, nil
}
