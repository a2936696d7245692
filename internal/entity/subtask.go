package entity

import (
	"context"
	"time"

	"github.com/oj-federate/rmjac/internal/graph"
	"github.com/oj-federate/rmjac/internal/store"
)

// AggregationMethod is a subtask's score-combination rule (spec.md 3/4.5).
type AggregationMethod string

const (
	AggSum      AggregationMethod = "SUM"
	AggMax      AggregationMethod = "MAX"
	AggMin      AggregationMethod = "MIN"
	AggFunction AggregationMethod = "FUNCTION"
)

// SentinelLimit marks a limit field as "not applicable" (spec.md 4.4's
// on-the-fly testcase creation uses -2 for limits it can't know yet).
const SentinelLimit = -2

// Subtask wraps a NodeSubtask: interior node of a statement's evaluation
// tree, carrying the score-aggregation method for its children.
type Subtask struct {
	st store.Store
	graph.Node
}

func (s *Subtask) Method() AggregationMethod { return AggregationMethod(s.PayloadString("calc_method")) }
func (s *Subtask) Script() string            { return s.PayloadString("script") }

// CreateSubtask persists a new Subtask node and, if parentID is non-empty,
// a Testcase ordering edge from parentID to it.
func CreateSubtask(ctx context.Context, st store.Store, parentID string, method AggregationMethod, script string, order int) (*Subtask, error) {
	n, err := st.CreateNode(ctx, graph.Node{
		Type: graph.NodeSubtask,
		Payload: map[string]any{
			"calc_method": string(method),
			"script":      script,
		},
	})
	if err != nil {
		return nil, err
	}
	if parentID != "" {
		if _, err := st.CreateEdge(ctx, graph.Edge{
			Type: graph.EdgeTestcase, U: parentID, V: n.ID,
			Payload: map[string]any{"order": float64(order)},
		}); err != nil {
			return nil, err
		}
	}
	return &Subtask{st: st, Node: n}, nil
}

func GetSubtask(ctx context.Context, st store.Store, id string) (*Subtask, error) {
	n, err := st.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Subtask{st: st, Node: n}, nil
}

// Testcase wraps a NodeTestcase leaf: limits, IO method, diff method.
type Testcase struct {
	st store.Store
	graph.Node
}

func (t *Testcase) TimeLimit() int     { return t.PayloadInt("time_limit") }
func (t *Testcase) MemoryLimit() int   { return t.PayloadInt("memory_limit") }
func (t *Testcase) IOMethod() string   { return t.PayloadString("io_method") }
func (t *Testcase) DiffMethod() string { return t.PayloadString("diff_method") }

// CreateTestcase persists a new Testcase leaf under parentID (a Subtask).
func CreateTestcase(ctx context.Context, st store.Store, parentID string, timeLimit, memoryLimit int, ioMethod, diffMethod string, order int) (*Testcase, error) {
	n, err := st.CreateNode(ctx, graph.Node{
		Type: graph.NodeTestcase,
		Payload: map[string]any{
			"time_limit":   float64(timeLimit),
			"memory_limit": float64(memoryLimit),
			"io_method":    ioMethod,
			"diff_method":  diffMethod,
		},
	})
	if err != nil {
		return nil, err
	}
	if _, err := st.CreateEdge(ctx, graph.Edge{
		Type: graph.EdgeTestcase, U: parentID, V: n.ID,
		Payload: map[string]any{"order": float64(order)},
	}); err != nil {
		return nil, err
	}
	return &Testcase{st: st, Node: n}, nil
}

// Children lists the ordered Testcase edges out of a subtask/testcase
// node, sorted by their order field.
func Children(ctx context.Context, st store.Store, nodeID string) ([]graph.Edge, error) {
	edges, err := st.ListEdgesFrom(ctx, graph.EdgeTestcase, nodeID)
	if err != nil {
		return nil, err
	}
	for i := 1; i < len(edges); i++ {
		for j := i; j > 0 && edges[j].PayloadInt("order") < edges[j-1].PayloadInt("order"); j-- {
			edges[j], edges[j-1] = edges[j-1], edges[j]
		}
	}
	return edges, nil
}

// Judge wraps a Judge edge: one leaf testcase's execution result against a
// record.
type Judge struct {
	st store.Store
	graph.Edge
}

func (j *Judge) Time() int        { return j.PayloadInt("time") }
func (j *Judge) Memory() int      { return j.PayloadInt("memory") }
func (j *Judge) Score() int       { return j.PayloadInt("score") }
func (j *Judge) Status() string   { return j.PayloadString("status") }

// UpsertJudge creates or updates the Judge edge (testcaseID, recordID).
func UpsertJudge(ctx context.Context, st store.Store, testcaseID, recordID string, timeMs, memoryKB, score int, status string) (*Judge, error) {
	existing, err := st.ListEdgesFrom(ctx, graph.EdgeJudge, testcaseID)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{
		"time": float64(timeMs), "memory": float64(memoryKB),
		"score": float64(score), "status": status,
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	}
	for _, e := range existing {
		if e.V == recordID {
			if err := st.UpdateEdge(ctx, e.ID, payload); err != nil {
				return nil, err
			}
			e.Payload = payload
			return &Judge{st: st, Edge: e}, nil
		}
	}

	e, err := st.CreateEdge(ctx, graph.Edge{Type: graph.EdgeJudge, U: testcaseID, V: recordID, Payload: payload})
	if err != nil {
		return nil, err
	}
	return &Judge{st: st, Edge: e}, nil
}

// JudgeFor returns the Judge edge for (testcaseID, recordID), if any.
func JudgeFor(ctx context.Context, st store.Store, testcaseID, recordID string) (*Judge, bool, error) {
	edges, err := st.ListEdgesFrom(ctx, graph.EdgeJudge, testcaseID)
	if err != nil {
		return nil, false, err
	}
	for _, e := range edges {
		if e.V == recordID {
			return &Judge{st: st, Edge: e}, true, nil
		}
	}
	return nil, false, nil
}
