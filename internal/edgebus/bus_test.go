package edgebus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

type fakeSocket struct {
	id       string
	sent     []Message
	onSend   func(Message)
	sendErr  error
}

func (s *fakeSocket) ID() string { return s.id }
func (s *fakeSocket) Send(msg Message) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, msg)
	if s.onSend != nil {
		s.onSend(msg)
	}
	return nil
}
func (s *fakeSocket) Close() error { return nil }

func TestDispatchNoWorkerFailsImmediately(t *testing.T) {
	b := New()
	_, err := b.Dispatch(context.Background(), "t1", "cf:submit:http", nil)
	if !errors.Is(err, ErrNoEdgeOnline) {
		t.Fatalf("expected ErrNoEdgeOnline, got %v", err)
	}
}

func TestDispatchRoundsTripsReply(t *testing.T) {
	b := New()
	sock := &fakeSocket{id: "s1"}
	sock.onSend = func(msg Message) {
		// Simulate the worker replying asynchronously.
		go b.HandleReply(Message{Type: MsgReply, TaskID: msg.TaskID, Success: true, Output: json.RawMessage(`{"ok":true}`)})
	}
	b.AddSocket(sock)
	b.Register(sock.id, ServiceMetadata{Platform: "cf", Operation: "submit", Method: "http", Capacity: 1})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	reply, err := b.Dispatch(ctx, "task-1", "cf:submit:http", nil)
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if !reply.Success {
		t.Fatalf("expected successful reply, got %+v", reply)
	}
}

func TestDispatchTimesOutWhenNoReply(t *testing.T) {
	b := New()
	sock := &fakeSocket{id: "s1"} // never replies
	b.AddSocket(sock)
	b.Register(sock.id, ServiceMetadata{Platform: "cf", Operation: "submit", Method: "http", Capacity: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := b.Dispatch(ctx, "task-2", "cf:submit:http", nil)
	if !errors.Is(err, ErrEdgeTimeout) {
		t.Fatalf("expected ErrEdgeTimeout, got %v", err)
	}
}

func TestRemoveSocketEvictsRegistrations(t *testing.T) {
	b := New()
	sock := &fakeSocket{id: "s1"}
	b.AddSocket(sock)
	b.Register(sock.id, ServiceMetadata{Platform: "cf", Operation: "submit", Method: "http", Capacity: 1})

	if !b.Online("cf:submit:http") {
		t.Fatalf("expected service to be online before eviction")
	}
	b.RemoveSocket(sock.id)
	if b.Online("cf:submit:http") {
		t.Fatalf("expected service to be offline after its only worker was removed")
	}
}

func TestCapacityExhaustionSkipsWorker(t *testing.T) {
	b := New()
	busy := &fakeSocket{id: "busy"}  // never replies, holds its one slot
	free := &fakeSocket{id: "free"}
	free.onSend = func(msg Message) {
		go b.HandleReply(Message{Type: MsgReply, TaskID: msg.TaskID, Success: true})
	}

	b.AddSocket(busy)
	b.AddSocket(free)
	b.Register(busy.id, ServiceMetadata{Platform: "cf", Operation: "submit", Method: "http", Capacity: 1})
	b.Register(free.id, ServiceMetadata{Platform: "cf", Operation: "submit", Method: "http", Capacity: 1})

	// Exhaust busy's capacity with a dispatch that stays pending (busy is
	// first in round-robin order) for the rest of the test.
	ctx1, cancel1 := context.WithCancel(context.Background())
	defer cancel1()
	held := make(chan struct{})
	busy.onSend = func(Message) { close(held) }
	go func() { _, _ = b.Dispatch(ctx1, "hold", "cf:submit:http", nil) }()
	<-held

	// Round-robin now points at "free" for the first dispatch and back at
	// "busy" for the second; busy has no slot left, so both must land on
	// "free".
	for _, taskID := range []string{"task-3", "task-4"} {
		ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
		reply, err := b.Dispatch(ctx2, taskID, "cf:submit:http", nil)
		cancel2()
		if err != nil {
			t.Fatalf("expected a free worker to satisfy dispatch %s, got %v", taskID, err)
		}
		if !reply.Success {
			t.Fatalf("expected successful reply from free worker, got %+v", reply)
		}
	}
	if len(free.sent) != 2 {
		t.Fatalf("free worker received %d dispatches, want 2", len(free.sent))
	}
}
