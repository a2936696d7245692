package entity

import (
	"context"
	"time"

	"github.com/oj-federate/rmjac/internal/graph"
	"github.com/oj-federate/rmjac/internal/store"
)

// RecordStatus is a submission's lifecycle/result state.
type RecordStatus string

const (
	RecordPending  RecordStatus = "Pending"
	RecordAccepted RecordStatus = "Accepted"
	RecordDeleted  RecordStatus = "Deleted" // soft-delete marker, spec.md 3
)

// Record wraps a NodeRecord: one submission.
type Record struct {
	st store.Store
	graph.Node
}

func (r *Record) Status() RecordStatus  { return RecordStatus(r.PayloadString("status")) }
func (r *Record) Score() int            { return r.PayloadInt("score") }
func (r *Record) Platform() string      { return r.PayloadString("platform") }
func (r *Record) Code() string          { return r.PayloadString("code") }
func (r *Record) CodeLanguage() string  { return r.PayloadString("code_language") }
func (r *Record) RemoteURL() string     { return r.PayloadString("remote_url") }
func (r *Record) PublicStatus() string  { return r.PayloadString("public_status") }

// CreateRecord persists a RecordNode and its Record index edge
// (user -> problem_statement) mirroring the node's own fields for fast
// user x problem queries (spec.md 3).
func CreateRecord(ctx context.Context, st store.Store, userID, statementID, platform, code, codeLanguage, remoteURL, publicStatus string) (*Record, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	n, err := st.CreateNode(ctx, graph.Node{
		Type: graph.NodeRecord,
		Payload: map[string]any{
			"status": string(RecordPending), "score": float64(0),
			"platform": platform, "code": code, "code_language": codeLanguage,
			"remote_url": remoteURL, "public_status": publicStatus,
			"submit_time": now, "update_time": now,
		},
	})
	if err != nil {
		return nil, err
	}

	if _, err := st.CreateEdge(ctx, graph.Edge{
		Type: graph.EdgeRecord, U: userID, V: statementID,
		Payload: map[string]any{
			"record_node_id": n.ID, "record_status": string(RecordPending),
			"code_length": float64(len(code)), "submit_time": now, "platform": platform,
			"score": float64(0),
		},
	}); err != nil {
		return nil, err
	}

	return &Record{st: st, Node: n}, nil
}

func GetRecord(ctx context.Context, st store.Store, id string) (*Record, error) {
	n, err := st.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Record{st: st, Node: n}, nil
}

// FindRecordByRemoteURL scans Record nodes by remote_url, the key
// update_batch's submission upsert (spec.md 4.4) matches on.
func FindRecordByRemoteURL(ctx context.Context, st store.Store, remoteURL string) (*Record, bool, error) {
	nodes, err := st.ListNodesByType(ctx, graph.NodeRecord)
	if err != nil {
		return nil, false, err
	}
	for _, n := range nodes {
		if n.PayloadString("remote_url") == remoteURL {
			return &Record{st: st, Node: n}, true, nil
		}
	}
	return nil, false, nil
}

// SetAggregate writes back a record's recomputed status/score and the
// matching index-edge fields (spec.md 4.4 step 4 / invariant "a record's
// status and score must equal the aggregation of its testcase judges").
func (r *Record) SetAggregate(ctx context.Context, status RecordStatus, score int) error {
	payload := clonePayload(r.Payload)
	payload["status"] = string(status)
	payload["score"] = float64(score)
	payload["update_time"] = time.Now().UTC().Format(time.RFC3339)
	if err := r.st.UpdateNode(ctx, r.ID, payload); err != nil {
		return err
	}
	r.Payload = payload

	edges, err := r.st.ListEdgesByType(ctx, graph.EdgeRecord)
	if err != nil {
		return err
	}
	for _, e := range edges {
		if e.PayloadString("record_node_id") != r.ID {
			continue
		}
		edgePayload := clonePayload(e.Payload)
		edgePayload["record_status"] = string(status)
		edgePayload["score"] = float64(score)
		if err := r.st.UpdateEdge(ctx, e.ID, edgePayload); err != nil {
			return err
		}
	}
	return nil
}
