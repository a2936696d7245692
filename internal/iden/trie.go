// Package iden implements the identifier resolution trie (component D):
// human-readable, segmented names (training#alice#round1, problem/cf1234A)
// mapped to node IDs, with an Aho-Corasick-driven tokenizer for the
// un-delimited form and a two-tier cache in front of the trie's own graph
// storage (spec.md 4.2).
package iden

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rakunlabs/logi"

	"github.com/oj-federate/rmjac/internal/graph"
	"github.com/oj-federate/rmjac/internal/kv"
	"github.com/oj-federate/rmjac/internal/store"
)

// RootID is the fixed sentinel the trie is rooted at; every Iden edge that
// starts a name originates here, directly or transitively.
const RootID = "default_iden_node"

// ErrNotFound mirrors spec.md 4.2's "fail not found" outcome for resolve.
var ErrNotFound = fmt.Errorf("iden: not found")

// Trie resolves and maintains the identifier trie stored as Iden edges in
// the graph store, cached through a kv.Cache.
type Trie struct {
	st    store.Store
	cache *kv.Cache
	words []string
}

// New builds a Trie. words seeds the dictionary automaton the tokenizer
// uses to cut un-delimited identifiers (Segment).
func New(st store.Store, cache *kv.Cache, words []string) *Trie {
	return &Trie{st: st, cache: cache, words: words}
}

// EnsureRoot creates the root IdenNode if it does not already exist; call
// once at boot before any resolve/create.
func (t *Trie) EnsureRoot(ctx context.Context) error {
	_, err := t.st.GetNode(ctx, RootID)
	if err == nil {
		return nil
	}
	if err != store.ErrNotFound {
		return err
	}
	_, err = t.st.CreateNode(ctx, graph.Node{ID: RootID, Type: graph.NodeIden, Payload: map[string]any{}})
	return err
}

// segments tokenizes name per spec.md 4.2 (split on '#' if present,
// otherwise the dictionary-aware character-class walk).
func (t *Trie) segments(name string) []string {
	return Segment(name, t.words)
}

// Resolve descends from the root along name's segments and returns the
// terminal node's targets. Resolved lists are memoised as
// iden_to_id_{name}.
func (t *Trie) Resolve(ctx context.Context, name string) ([]string, error) {
	cacheKey := resolveCacheKey(name)
	if cached, ok, err := t.cache.Get(ctx, cacheKey); err == nil && ok {
		var ids []string
		if err := json.Unmarshal([]byte(cached), &ids); err == nil {
			return ids, nil
		}
	}

	segs := t.segments(name)
	cur := RootID
	for _, seg := range segs {
		next, err := t.descend(ctx, cur, seg)
		if err != nil {
			return nil, err
		}
		cur = next
	}

	targets, err := t.leafTargets(ctx, cur)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(targets); err == nil {
		_ = t.cache.Set(ctx, cacheKey, string(raw), 0)
	}
	return targets, nil
}

// descend finds the unique forward Iden edge labelled seg out of cur,
// following spec.md 4.2's "none fails, several logs and picks the first
// deterministically" rule.
func (t *Trie) descend(ctx context.Context, cur, seg string) (string, error) {
	edges, err := t.st.ListEdgesFrom(ctx, graph.EdgeIden, cur)
	if err != nil {
		return "", err
	}

	var matches []graph.Edge
	for _, e := range edges {
		if e.PayloadString("segment") == seg {
			matches = append(matches, e)
		}
	}
	if len(matches) == 0 {
		return "", ErrNotFound
	}
	if len(matches) > 1 {
		sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })
		logi.Ctx(ctx).Warn("iden: ambiguous segment, choosing first deterministically",
			"node", cur, "segment", seg, "candidates", len(matches))
	}
	return matches[0].V, nil
}

// leafTargets returns a node's own Iden leaf-edge targets — the edges
// attached at the terminal segment of a create() call.
func (t *Trie) leafTargets(ctx context.Context, nodeID string) ([]string, error) {
	edges, err := t.st.ListEdgesFrom(ctx, graph.EdgeIden, nodeID)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, e := range edges {
		if e.PayloadString("segment") == "" {
			out = append(out, e.V)
		}
	}
	return out, nil
}

// Create descends the existing prefix of name, creates interior IdenNodes
// and Iden edges for the missing suffix, then attaches one leaf Iden edge
// per target at the terminal segment.
func (t *Trie) Create(ctx context.Context, name string, nodeIDs []string) error {
	segs := t.segments(name)
	cur := RootID

	for _, seg := range segs {
		next, err := t.descend(ctx, cur, seg)
		if err == ErrNotFound {
			node, cerr := t.st.CreateNode(ctx, graph.Node{Type: graph.NodeIden, Payload: map[string]any{}})
			if cerr != nil {
				return cerr
			}
			if _, cerr := t.st.CreateEdge(ctx, graph.Edge{
				Type: graph.EdgeIden, U: cur, V: node.ID,
				Payload: map[string]any{"segment": seg, "weight": 1.0},
			}); cerr != nil {
				return cerr
			}
			next = node.ID
		} else if err != nil {
			return err
		}
		cur = next
	}

	for _, target := range nodeIDs {
		if _, err := t.st.CreateEdge(ctx, graph.Edge{
			Type: graph.EdgeIden, U: cur, V: target,
			Payload: map[string]any{"segment": "", "weight": 1.0},
		}); err != nil {
			return err
		}
	}

	return t.invalidate(ctx, name)
}

// Remove deletes every terminal Iden edge attached under name.
func (t *Trie) Remove(ctx context.Context, name string) error {
	segs := t.segments(name)
	cur := RootID
	for _, seg := range segs {
		next, err := t.descend(ctx, cur, seg)
		if err != nil {
			return err
		}
		cur = next
	}

	edges, err := t.st.ListEdgesFrom(ctx, graph.EdgeIden, cur)
	if err != nil {
		return err
	}
	for _, e := range edges {
		if e.PayloadString("segment") == "" {
			if err := t.st.DeleteEdge(ctx, e.ID); err != nil {
				return err
			}
		}
	}

	return t.invalidate(ctx, name)
}

// RemoveForNode removes only the leaf edge from name's terminal node to
// node_id, leaving any other targets attached to the same name intact.
func (t *Trie) RemoveForNode(ctx context.Context, name, nodeID string) error {
	segs := t.segments(name)
	cur := RootID
	for _, seg := range segs {
		next, err := t.descend(ctx, cur, seg)
		if err != nil {
			return err
		}
		cur = next
	}

	edges, err := t.st.ListEdgesFrom(ctx, graph.EdgeIden, cur)
	if err != nil {
		return err
	}
	for _, e := range edges {
		if e.PayloadString("segment") == "" && e.V == nodeID {
			if err := t.st.DeleteEdge(ctx, e.ID); err != nil {
				return err
			}
		}
	}

	return t.invalidate(ctx, name)
}

type namedPath struct {
	segments []string
	weight   float64
}

// NamesOf reverse-walks from node_id to the root, collecting every alias
// whose forward ('#'-joined) form starts with prefix, best-first ordered
// by cumulative edge weight (higher first).
func (t *Trie) NamesOf(ctx context.Context, nodeID, prefix string) ([]string, error) {
	cacheKey := namesOfCacheKey(nodeID, prefix)
	if cached, ok, err := t.cache.Get(ctx, cacheKey); err == nil && ok {
		var names []string
		if err := json.Unmarshal([]byte(cached), &names); err == nil {
			return names, nil
		}
	}

	paths, err := t.pathsTo(ctx, nodeID, map[string]bool{})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(paths, func(i, j int) bool { return paths[i].weight > paths[j].weight })

	var names []string
	for _, p := range paths {
		name := Join(p.segments)
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}

	if raw, err := json.Marshal(names); err == nil {
		_ = t.cache.Set(ctx, cacheKey, string(raw), 0)
	}
	return names, nil
}

// pathsTo enumerates every root-to-nodeID path by walking Iden edges
// backward from nodeID. visited guards against cycles — the trie is a DAG,
// not strictly a tree, since a node may carry several aliases (spec.md's
// "cyclic graphs" note).
func (t *Trie) pathsTo(ctx context.Context, nodeID string, visited map[string]bool) ([]namedPath, error) {
	if nodeID == RootID {
		return []namedPath{{}}, nil
	}
	if visited[nodeID] {
		return nil, nil
	}
	visited[nodeID] = true
	defer delete(visited, nodeID)

	incoming, err := t.st.ListEdgesTo(ctx, graph.EdgeIden, nodeID)
	if err != nil {
		return nil, err
	}

	var out []namedPath
	for _, e := range incoming {
		seg := e.PayloadString("segment")
		if seg == "" {
			// A leaf edge into this node names a different terminal, not an
			// interior hop; skip it here.
			continue
		}
		weight := payloadFloat(e, "weight", 1.0)

		parents, err := t.pathsTo(ctx, e.U, visited)
		if err != nil {
			return nil, err
		}
		for _, p := range parents {
			segs := make([]string, 0, len(p.segments)+1)
			segs = append(segs, p.segments...)
			segs = append(segs, seg)
			out = append(out, namedPath{segments: segs, weight: p.weight + weight})
		}
	}
	return out, nil
}

func payloadFloat(e graph.Edge, key string, fallback float64) float64 {
	v, ok := e.Payload[key]
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	}
	return fallback
}

func resolveCacheKey(name string) string { return "iden_to_id_" + name }

func namesOfCacheKey(nodeID, prefix string) string {
	return "iden_node_" + nodeID + "_pref_" + prefix
}

// invalidate drops the resolve cache entry for name, under that exact
// spelling only. names_of entries (iden_node_{id}_pref_{prefix}) are not
// deleted here or anywhere else; once cached they are returned as stored,
// without expiry at the durable tier, even after a Create, Remove or
// RemoveForNode changes the node's names.
func (t *Trie) invalidate(ctx context.Context, name string) error {
	return t.cache.Delete(ctx, resolveCacheKey(name))
}
