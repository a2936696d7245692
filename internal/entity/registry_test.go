package entity

import (
	"context"
	"testing"

	"github.com/oj-federate/rmjac/internal/graph"
	"github.com/oj-federate/rmjac/internal/store/memory"
)

func TestGrantBootVerifyRevoke(t *testing.T) {
	ctx := context.Background()
	st := memory.New()

	r := NewPermRegistry(st)
	if err := r.Boot(ctx); err != nil {
		t.Fatalf("Boot on empty store: %v", err)
	}

	if err := r.Grant(ctx, graph.EdgePermView, "u1", "p1", uint64(CapRead)); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if !r.Verify(graph.EdgePermView, "u1", "p1", CapRead) {
		t.Fatal("expected u1 to hold CapRead on p1 after Grant")
	}

	// A fresh registry rehydrated from the store should agree.
	r2 := NewPermRegistry(st)
	if err := r2.Boot(ctx); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if !r2.Verify(graph.EdgePermView, "u1", "p1", CapRead) {
		t.Fatal("rehydrated registry should still verify u1 -> p1")
	}

	if err := r.Revoke(ctx, graph.EdgePermView, "u1", "p1", uint64(CapRead)); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if r.Verify(graph.EdgePermView, "u1", "p1", CapRead) {
		t.Fatal("expected CapRead to be revoked")
	}
}

func TestTrainingCycleRejected(t *testing.T) {
	ctx := context.Background()
	st := memory.New()

	a, _ := CreateTraining(ctx, st, "A", "a", "", "")
	b, _ := CreateTraining(ctx, st, "B", "b", "", "")

	if err := AddProblem(ctx, st, a.ID, b.ID, 0, TPDefault); err != nil {
		t.Fatalf("AddProblem a->b: %v", err)
	}
	if err := AddProblem(ctx, st, b.ID, a.ID, 0, TPDefault); err == nil {
		t.Fatal("expected cycle b->a to be rejected")
	}
}
