// Package store defines the opaque persistence boundary (component A / B in
// the system overview this backend implements): typed node/edge CRUD plus a
// TTL-bearing KV cache. Concrete backends live in subpackages (postgres,
// sqlite3, memory); callers program against the Store interface only.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/oj-federate/rmjac/internal/graph"
)

// ErrNotFound is returned by Get*/KVGet when the requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence boundary every node/edge variant and the KV
// cache are built on. Implementations: postgres, sqlite3, memory.
type Store interface {
	// CreateNode inserts a node. If n.ID is empty a new ID is generated.
	CreateNode(ctx context.Context, n graph.Node) (graph.Node, error)
	GetNode(ctx context.Context, id string) (graph.Node, error)
	// UpdateNode replaces a node's payload in place.
	UpdateNode(ctx context.Context, id string, payload map[string]any) error
	DeleteNode(ctx context.Context, id string) error
	ListNodesByType(ctx context.Context, t graph.NodeType) ([]graph.Node, error)

	// CreateEdge inserts an edge. If e.ID is empty a new ID is generated.
	CreateEdge(ctx context.Context, e graph.Edge) (graph.Edge, error)
	GetEdge(ctx context.Context, id string) (graph.Edge, error)
	UpdateEdge(ctx context.Context, id string, payload map[string]any) error
	DeleteEdge(ctx context.Context, id string) error
	// ListEdgesByType lists every edge of the given type; used at boot to
	// hydrate the in-memory permission graph and identifier trie.
	ListEdgesByType(ctx context.Context, t graph.EdgeType) ([]graph.Edge, error)
	ListEdgesFrom(ctx context.Context, t graph.EdgeType, u string) ([]graph.Edge, error)
	ListEdgesTo(ctx context.Context, t graph.EdgeType, v string) ([]graph.Edge, error)

	// KV is an ephemeral string cache with optional TTL (ttl==0 means no
	// expiry). It backs both the identifier-resolution cache and the
	// aggregation cache described in SPEC_FULL.md 4.2/4.5.
	KVGet(ctx context.Context, key string) (string, error)
	KVSet(ctx context.Context, key string, value string, ttl time.Duration) error
	KVDelete(ctx context.Context, key string) error

	Close() error
}
