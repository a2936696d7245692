package memory

import (
	"context"
	"testing"
	"time"

	"github.com/oj-federate/rmjac/internal/graph"
	"github.com/oj-federate/rmjac/internal/store"
)

func TestNodeCRUD(t *testing.T) {
	ctx := context.Background()
	m := New()

	n, err := m.CreateNode(ctx, graph.Node{Type: graph.NodeUser, Payload: map[string]any{"iden": "alice"}})
	if err != nil {
		t.Fatalf("CreateNode: %v", err)
	}
	if n.ID == "" {
		t.Fatal("expected generated ID")
	}

	got, err := m.GetNode(ctx, n.ID)
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if got.PayloadString("iden") != "alice" {
		t.Fatalf("iden = %q, want alice", got.PayloadString("iden"))
	}

	if err := m.UpdateNode(ctx, n.ID, map[string]any{"iden": "bob"}); err != nil {
		t.Fatalf("UpdateNode: %v", err)
	}
	got, _ = m.GetNode(ctx, n.ID)
	if got.PayloadString("iden") != "bob" {
		t.Fatalf("after update iden = %q, want bob", got.PayloadString("iden"))
	}

	if err := m.DeleteNode(ctx, n.ID); err != nil {
		t.Fatalf("DeleteNode: %v", err)
	}
	if _, err := m.GetNode(ctx, n.ID); err != store.ErrNotFound {
		t.Fatalf("GetNode after delete = %v, want ErrNotFound", err)
	}
}

func TestEdgeIndices(t *testing.T) {
	ctx := context.Background()
	m := New()

	u, _ := m.CreateNode(ctx, graph.Node{Type: graph.NodeUser})
	v, _ := m.CreateNode(ctx, graph.Node{Type: graph.NodeProblem})

	if _, err := m.CreateEdge(ctx, graph.Edge{Type: graph.EdgePermView, U: u.ID, V: v.ID, Payload: map[string]any{"perm": float64(3)}}); err != nil {
		t.Fatalf("CreateEdge: %v", err)
	}

	from, err := m.ListEdgesFrom(ctx, graph.EdgePermView, u.ID)
	if err != nil || len(from) != 1 {
		t.Fatalf("ListEdgesFrom = %v, %v", from, err)
	}

	to, err := m.ListEdgesTo(ctx, graph.EdgePermView, v.ID)
	if err != nil || len(to) != 1 {
		t.Fatalf("ListEdgesTo = %v, %v", to, err)
	}
}

func TestKVTTL(t *testing.T) {
	ctx := context.Background()
	m := New()

	if err := m.KVSet(ctx, "k", "v", time.Millisecond); err != nil {
		t.Fatalf("KVSet: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	if _, err := m.KVGet(ctx, "k"); err != store.ErrNotFound {
		t.Fatalf("KVGet after TTL expiry = %v, want ErrNotFound", err)
	}

	if err := m.KVSet(ctx, "k2", "v2", 0); err != nil {
		t.Fatalf("KVSet no-ttl: %v", err)
	}
	val, err := m.KVGet(ctx, "k2")
	if err != nil || val != "v2" {
		t.Fatalf("KVGet no-ttl = %q, %v", val, err)
	}
}
