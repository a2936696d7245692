// Package memory implements store.Store entirely in-process, grounded on
// the teacher's in-memory store (RWMutex-guarded maps, ulid IDs, JSON
// round-trip normalization of payloads so behavior matches the SQL-backed
// stores byte-for-byte). Used for tests and for single-node deployments
// that don't need durability across restarts.
package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/oj-federate/rmjac/internal/graph"
	"github.com/oj-federate/rmjac/internal/store"
)

type kvEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// Memory is an in-process store.Store.
type Memory struct {
	mu    sync.RWMutex
	nodes map[string]graph.Node
	edges map[string]graph.Edge
	kv    map[string]kvEntry
}

// New creates an empty in-memory store.
func New() *Memory {
	return &Memory{
		nodes: make(map[string]graph.Node),
		edges: make(map[string]graph.Edge),
		kv:    make(map[string]kvEntry),
	}
}

var _ store.Store = (*Memory)(nil)

func newID() string {
	return ulid.Make().String()
}

// normalizePayload round-trips through JSON so in-memory values have the
// same shape (float64 numbers, string keys) that a JSON-column SQL backend
// would hand back, keeping memory and SQL backends behaviorally identical.
func normalizePayload(p map[string]any) map[string]any {
	if p == nil {
		return map[string]any{}
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}

func (m *Memory) CreateNode(_ context.Context, n graph.Node) (graph.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n.ID == "" {
		n.ID = newID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	n.Payload = normalizePayload(n.Payload)

	m.nodes[n.ID] = n
	return n, nil
}

func (m *Memory) GetNode(_ context.Context, id string) (graph.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, ok := m.nodes[id]
	if !ok {
		return graph.Node{}, store.ErrNotFound
	}
	return n, nil
}

func (m *Memory) UpdateNode(_ context.Context, id string, payload map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.nodes[id]
	if !ok {
		return store.ErrNotFound
	}
	n.Payload = normalizePayload(payload)
	m.nodes[id] = n
	return nil
}

func (m *Memory) DeleteNode(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.nodes[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.nodes, id)
	return nil
}

func (m *Memory) ListNodesByType(_ context.Context, t graph.NodeType) ([]graph.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []graph.Node
	for _, n := range m.nodes {
		if n.Type == t {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *Memory) CreateEdge(_ context.Context, e graph.Edge) (graph.Edge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.ID == "" {
		e.ID = newID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	e.Payload = normalizePayload(e.Payload)

	m.edges[e.ID] = e
	return e, nil
}

func (m *Memory) GetEdge(_ context.Context, id string) (graph.Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.edges[id]
	if !ok {
		return graph.Edge{}, store.ErrNotFound
	}
	return e, nil
}

func (m *Memory) UpdateEdge(_ context.Context, id string, payload map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.edges[id]
	if !ok {
		return store.ErrNotFound
	}
	e.Payload = normalizePayload(payload)
	m.edges[id] = e
	return nil
}

func (m *Memory) DeleteEdge(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.edges[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.edges, id)
	return nil
}

func (m *Memory) ListEdgesByType(_ context.Context, t graph.EdgeType) ([]graph.Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []graph.Edge
	for _, e := range m.edges {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) ListEdgesFrom(_ context.Context, t graph.EdgeType, u string) ([]graph.Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []graph.Edge
	for _, e := range m.edges {
		if e.Type == t && e.U == u {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) ListEdgesTo(_ context.Context, t graph.EdgeType, v string) ([]graph.Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []graph.Edge
	for _, e := range m.edges {
		if e.Type == t && e.V == v {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) KVGet(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	entry, ok := m.kv[key]
	m.mu.RUnlock()

	if !ok {
		return "", store.ErrNotFound
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		m.mu.Lock()
		delete(m.kv, key)
		m.mu.Unlock()
		return "", store.ErrNotFound
	}
	return entry.value, nil
}

func (m *Memory) KVSet(_ context.Context, key string, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	m.kv[key] = kvEntry{value: value, expiresAt: expiresAt}
	return nil
}

func (m *Memory) KVDelete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.kv, key)
	return nil
}

func (m *Memory) Close() error { return nil }
