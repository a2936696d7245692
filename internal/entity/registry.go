// Package entity provides typed wrappers over the opaque graph store
// (component E): users, tokens, problems, statements, the testcase tree,
// records, training lists, remote accounts and tasks. It also owns the
// permission graph registry — one permgraph.Graph per graph.PermEdgeTypes
// entry, rehydrated from the store at boot (spec.md 4.1's bootstrapping
// rule: store write first, in-memory update only on success).
package entity

import (
	"context"
	"fmt"

	"github.com/oj-federate/rmjac/internal/graph"
	"github.com/oj-federate/rmjac/internal/permgraph"
	"github.com/oj-federate/rmjac/internal/store"
)

// PermRegistry holds one permission graph per tracked edge type.
type PermRegistry struct {
	st     store.Store
	graphs map[graph.EdgeType]*permgraph.Graph
}

// NewPermRegistry creates an empty registry; call Boot before use.
func NewPermRegistry(st store.Store) *PermRegistry {
	r := &PermRegistry{st: st, graphs: make(map[graph.EdgeType]*permgraph.Graph)}
	for _, t := range graph.PermEdgeTypes {
		r.graphs[t] = permgraph.New(0)
	}
	return r
}

// Boot loads every permission edge of each tracked type into memory.
func (r *PermRegistry) Boot(ctx context.Context) error {
	for _, t := range graph.PermEdgeTypes {
		edges, err := r.st.ListEdgesByType(ctx, t)
		if err != nil {
			return fmt.Errorf("entity: boot permission graph %s: %w", t, err)
		}
		g := r.graphs[t]
		for _, e := range edges {
			g.Add(e.U, e.V, uint64(e.PayloadInt("perm")))
		}
	}
	return nil
}

// Graph returns the in-memory graph for an edge type, or nil if t isn't a
// tracked permission edge type.
func (r *PermRegistry) Graph(t graph.EdgeType) *permgraph.Graph {
	return r.graphs[t]
}

// Verify reports whether u holds cap on v for edge type t.
func (r *PermRegistry) Verify(t graph.EdgeType, u, v string, cap Capability) bool {
	g := r.graphs[t]
	if g == nil {
		return false
	}
	return g.Verify(u, v, uint64(cap))
}

// Grant persists a permission edge and, only if that write succeeds, OR's
// it into the in-memory graph — the ordering spec.md 4.1 requires.
func (r *PermRegistry) Grant(ctx context.Context, t graph.EdgeType, u, v string, caps uint64) error {
	g := r.graphs[t]
	if g == nil {
		return fmt.Errorf("entity: %s is not a permission edge type", t)
	}

	if existing, ok := g.HasDirect(u, v); ok {
		if _, err := r.st.CreateEdge(ctx, graph.Edge{
			Type: t, U: u, V: v, Payload: map[string]any{"perm": float64(existing | caps)},
		}); err != nil {
			return err
		}
	} else {
		if _, err := r.st.CreateEdge(ctx, graph.Edge{
			Type: t, U: u, V: v, Payload: map[string]any{"perm": float64(caps)},
		}); err != nil {
			return err
		}
	}

	g.Add(u, v, caps)
	return nil
}

// Revoke clears the given capability bits from (u, v)'s edges of type t,
// deleting any persisted edge whose residual label becomes zero.
func (r *PermRegistry) Revoke(ctx context.Context, t graph.EdgeType, u, v string, caps uint64) error {
	g := r.graphs[t]
	if g == nil {
		return fmt.Errorf("entity: %s is not a permission edge type", t)
	}

	edges, err := r.st.ListEdgesFrom(ctx, t, u)
	if err != nil {
		return err
	}
	for _, e := range edges {
		if e.V != v {
			continue
		}
		residual := uint64(e.PayloadInt("perm")) &^ caps
		if residual == 0 {
			if err := r.st.DeleteEdge(ctx, e.ID); err != nil {
				return err
			}
		} else if err := r.st.UpdateEdge(ctx, e.ID, map[string]any{"perm": float64(residual)}); err != nil {
			return err
		}
	}

	g.RemoveWithMask(u, v, caps)
	return nil
}
