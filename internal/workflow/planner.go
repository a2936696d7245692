package workflow

import (
	"container/heap"
	"fmt"
	"sort"
	"strings"
)

// ErrNoPlan is returned when no sequence of candidate services reaches
// target from the given starting values.
var ErrNoPlan = fmt.Errorf("workflow: no plan found")

// maxPlanDepth bounds how many services a single plan may chain, a
// backstop against runaway candidate sets (distinct from the executor's
// own step cap, which bounds execution, not planning).
const maxPlanDepth = 32

// planState is the planner's node identity: which keys are known to be
// present after applying some prefix of services, and whether each is
// trusted. Two states with the same key/trust set are the same planner
// node regardless of how they were reached, matching spec.md 4.3's "nodes
// are (service, computed-description) pairs".
type planState struct {
	keys map[string]bool // key -> trusted
}

func newPlanState(values WorkflowValues) planState {
	keys := make(map[string]bool)
	if !values.IsFinal {
		for k, v := range values.Values {
			keys[k] = v.IsTrusted()
		}
	}
	return planState{keys: keys}
}

func (s planState) apply(describes []StatusDescribe) planState {
	keys := make(map[string]bool, len(s.keys))
	for k, v := range s.keys {
		keys[k] = v
	}
	for _, d := range describes {
		for _, k := range d.ProducesKeys {
			if _, already := keys[k]; !already {
				keys[k] = false
			}
		}
		for _, k := range d.TrustedKeys {
			keys[k] = true
		}
	}
	return planState{keys: keys}
}

// canonical returns a stable string key for a plan state, used both for
// the "already visited at this cost" check and as a Dijkstra node ID.
func (s planState) canonical() string {
	names := make([]string, 0, len(s.keys))
	for k := range s.keys {
		names = append(names, k)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, k := range names {
		if s.keys[k] {
			b.WriteString(k + "=T;")
		} else {
			b.WriteString(k + "=U;")
		}
	}
	return b.String()
}

type planItem struct {
	state       planState
	path        []Service
	cost        int
	lastService string // "" for the synthetic start node
}

// planQueue is a min-heap on (cost, lastService) — the lexicographic
// tie-break spec.md 4.3 requires.
type planQueue []*planItem

func (q planQueue) Len() int { return len(q) }
func (q planQueue) Less(i, j int) bool {
	if q[i].cost != q[j].cost {
		return q[i].cost < q[j].cost
	}
	return q[i].lastService < q[j].lastService
}
func (q planQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *planQueue) Push(x any)         { *q = append(*q, x.(*planItem)) }
func (q *planQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// Plan finds the shortest-cost sequence of candidates ending with a
// service named target, such that each service's import requirement is
// satisfied by the accumulated export descriptions of its predecessors
// (plus the initial values). Dijkstra over (service, state) pairs, ties
// broken by service name; no library in the pack models weighted-DAG
// shortest path, so this is hand-rolled over container/heap (stdlib) —
// justified the same way internal/permgraph's traversal is.
func Plan(initial WorkflowValues, candidates []Service, target string) ([]Service, error) {
	start := &planItem{state: newPlanState(initial)}

	pq := &planQueue{start}
	heap.Init(pq)

	best := make(map[string]int) // canonical state -> best cost seen

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(*planItem)

		if cur.lastService == target {
			return cur.path, nil
		}
		if len(cur.path) >= maxPlanDepth {
			continue
		}

		key := cur.state.canonical()
		if c, ok := best[key]; ok && c < cur.cost {
			continue
		}
		best[key] = cur.cost

		for _, svc := range candidates {
			info := svc.Info()
			if !svc.ImportRequire().Satisfied(cur.state) {
				continue
			}
			nextState := cur.state.apply(svc.ExportDescribe())
			nextPath := make([]Service, len(cur.path)+1)
			copy(nextPath, cur.path)
			nextPath[len(cur.path)] = svc

			heap.Push(pq, &planItem{
				state:       nextState,
				path:        nextPath,
				cost:        cur.cost + svc.Cost(),
				lastService: info.Name,
			})
		}
	}

	return nil, ErrNoPlan
}
