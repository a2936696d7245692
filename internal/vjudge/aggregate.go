package vjudge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/oj-federate/rmjac/internal/entity"
	"github.com/oj-federate/rmjac/internal/graph"
	"github.com/oj-federate/rmjac/internal/kv"
	"github.com/oj-federate/rmjac/internal/store"
)

// Tuple is the {score, time, memory, status} shape spec.md 4.5 aggregates
// over, both as a Judge leaf and as the recursive result of a subtask.
type Tuple struct {
	Score  int    `json:"score"`
	Time   int    `json:"time"`
	Memory int    `json:"memory"`
	Status string `json:"status"`
}

// StatusAccepted is the one status value that does not short-circuit
// SUM/MAX/MIN's "first non-Accepted child, else Accepted" rule.
const StatusAccepted = "Accepted"

// StatusUnknownError is returned when a FUNCTION script fails to
// evaluate, preserving child detail per spec.md 4.5.
const StatusUnknownError = "UnknownError"

// aggregationTTL is the cached-tuple lifetime spec.md 4.5 specifies.
const aggregationTTL = 60 * time.Second

// functionBudget is the hard wall-clock budget a FUNCTION script gets.
const functionBudget = time.Minute

// Aggregator computes a record's recursive subtask-tree aggregate,
// caching computed tuples and child edge lists through kv.Cache.
type Aggregator struct {
	st    store.Store
	cache *kv.Cache
}

func NewAggregator(st store.Store, cache *kv.Cache) *Aggregator {
	return &Aggregator{st: st, cache: cache}
}

// Compute returns subtaskID's aggregate tuple for recordID, recursing
// into child subtasks and reading Judge edges at testcase leaves (spec.md
// 4.5).
func (a *Aggregator) Compute(ctx context.Context, subtaskID, recordID string) (Tuple, error) {
	cacheKey := tupleCacheKey(subtaskID, recordID)
	if cached, ok, err := a.cache.Get(ctx, cacheKey); err == nil && ok {
		var t Tuple
		if err := json.Unmarshal([]byte(cached), &t); err == nil {
			return t, nil
		}
	}

	children, err := a.children(ctx, subtaskID)
	if err != nil {
		return Tuple{}, err
	}

	tuples := make([]Tuple, 0, len(children))
	for _, childID := range children {
		node, err := a.st.GetNode(ctx, childID)
		if err != nil {
			return Tuple{}, err
		}

		var t Tuple
		switch node.Type {
		case graph.NodeSubtask:
			t, err = a.Compute(ctx, childID, recordID)
		case graph.NodeTestcase:
			t, err = a.judgeTuple(ctx, childID, recordID)
		default:
			err = fmt.Errorf("vjudge: unexpected child node type %q under subtask %q", node.Type, subtaskID)
		}
		if err != nil {
			return Tuple{}, err
		}
		tuples = append(tuples, t)
	}

	subtask, err := entity.GetSubtask(ctx, a.st, subtaskID)
	if err != nil {
		return Tuple{}, err
	}

	result := combine(subtask.Method(), subtask.Script(), tuples)

	if raw, err := json.Marshal(result); err == nil {
		_ = a.cache.Set(ctx, cacheKey, string(raw), aggregationTTL)
	}
	return result, nil
}

// children returns subtaskID's ordered child node IDs, cached long-lived
// under graph_edge_testcase_{subtask_id}_v per spec.md 4.5; invalidated
// explicitly whenever the tree changes (InvalidateChildren).
func (a *Aggregator) children(ctx context.Context, subtaskID string) ([]string, error) {
	cacheKey := childrenCacheKey(subtaskID)
	if cached, ok, err := a.cache.Get(ctx, cacheKey); err == nil && ok {
		var ids []string
		if err := json.Unmarshal([]byte(cached), &ids); err == nil {
			return ids, nil
		}
	}

	edges, err := entity.Children(ctx, a.st, subtaskID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(edges))
	for i, e := range edges {
		ids[i] = e.V
	}

	if raw, err := json.Marshal(ids); err == nil {
		_ = a.cache.Set(ctx, cacheKey, string(raw), 0)
	}
	return ids, nil
}

// InvalidateChildren drops subtaskID's cached child list, called whenever
// a testcase is created on the fly under it (spec.md 4.4 step 3).
func (a *Aggregator) InvalidateChildren(ctx context.Context, subtaskID string) error {
	return a.cache.Delete(ctx, childrenCacheKey(subtaskID))
}

func (a *Aggregator) judgeTuple(ctx context.Context, testcaseID, recordID string) (Tuple, error) {
	j, found, err := entity.JudgeFor(ctx, a.st, testcaseID, recordID)
	if err != nil {
		return Tuple{}, err
	}
	if !found {
		return Tuple{Status: StatusUnknownError}, nil
	}
	return Tuple{Score: j.Score(), Time: j.Time(), Memory: j.Memory(), Status: j.Status()}, nil
}

func combine(method entity.AggregationMethod, script string, tuples []Tuple) Tuple {
	switch method {
	case entity.AggSum:
		return combineSum(tuples)
	case entity.AggMax:
		return combineExtreme(tuples, true)
	case entity.AggMin:
		return combineExtreme(tuples, false)
	case entity.AggFunction:
		return evalFunction(script, tuples)
	default:
		return Tuple{Status: StatusUnknownError}
	}
}

func firstNonAcceptedElse(tuples []Tuple) string {
	for _, t := range tuples {
		if t.Status != StatusAccepted {
			return t.Status
		}
	}
	return StatusAccepted
}

func combineSum(tuples []Tuple) Tuple {
	var out Tuple
	for _, t := range tuples {
		out.Score += t.Score
		out.Time += t.Time
		out.Memory += t.Memory
	}
	out.Status = firstNonAcceptedElse(tuples)
	return out
}

func combineExtreme(tuples []Tuple, max bool) Tuple {
	if len(tuples) == 0 {
		return Tuple{Status: StatusAccepted}
	}
	out := Tuple{Score: tuples[0].Score, Time: tuples[0].Time, Memory: tuples[0].Memory}
	for _, t := range tuples[1:] {
		if max {
			out.Score = maxField(out.Score, t.Score)
			out.Time = maxField(out.Time, t.Time)
			out.Memory = maxField(out.Memory, t.Memory)
		} else {
			out.Score = minFieldOverReal(out.Score, t.Score)
			out.Time = minFieldOverReal(out.Time, t.Time)
			out.Memory = minFieldOverReal(out.Memory, t.Memory)
		}
	}
	out.Status = firstNonAcceptedElse(tuples)
	return out
}

func isSentinel(v int) bool { return v == entity.SentinelLimit }

func maxField(cur, candidate int) int {
	if candidate > cur {
		return candidate
	}
	return cur
}

// minFieldOverReal implements MIN's "over non-sentinel values" rule: a
// sentinel (-2, "not applicable") never wins a MIN comparison against a
// real value.
func minFieldOverReal(cur, candidate int) int {
	if isSentinel(candidate) {
		return cur
	}
	if isSentinel(cur) {
		return candidate
	}
	if candidate < cur {
		return candidate
	}
	return cur
}

// evalFunction runs a FUNCTION subtask's script against tuples inside a
// fresh goja sandbox with a one-minute hard wall-clock budget. goja has
// no built-in preemption, so a watchdog goroutine calls Interrupt once
// the deadline passes; the teacher's own script workflow node
// (internal/service/workflow/goja.go) skips this because its scripts are
// operator-authored, but these are user-supplied problem-setter content.
func evalFunction(script string, tuples []Tuple) Tuple {
	vm := goja.New()

	watchdog := time.AfterFunc(functionBudget, func() {
		vm.Interrupt("function evaluation exceeded its time budget")
	})
	defer watchdog.Stop()

	inputsJSON, err := json.Marshal(tuples)
	if err != nil {
		return Tuple{Status: StatusUnknownError}
	}
	if err := vm.Set("__inputsJSON", string(inputsJSON)); err != nil {
		return Tuple{Status: StatusUnknownError}
	}

	wrapped := "(function(){ var inputs = JSON.parse(__inputsJSON); " + script + " })()"
	value, err := vm.RunString(wrapped)
	if err != nil {
		return Tuple{Status: StatusUnknownError}
	}

	exported := value.Export()
	raw, err := json.Marshal(exported)
	if err != nil {
		return Tuple{Status: StatusUnknownError}
	}

	var out Tuple
	if err := json.Unmarshal(raw, &out); err != nil {
		return Tuple{Status: StatusUnknownError}
	}
	if out.Status == "" {
		return Tuple{Status: StatusUnknownError}
	}
	return out
}

func tupleCacheKey(subtaskID, recordID string) string {
	return "graph_node_" + subtaskID + "_" + recordID
}

func childrenCacheKey(subtaskID string) string {
	return "graph_edge_testcase_" + subtaskID + "_v"
}
