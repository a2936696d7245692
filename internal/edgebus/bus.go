package edgebus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Default dispatch deadlines, spec.md section 5 "Timeouts".
const (
	DeadlineVerify   = 5 * time.Second
	DeadlineSyncOne  = 30 * time.Second
	DeadlineSyncList = 5 * time.Minute
)

// ErrNoEdgeOnline is the immediate-fail backpressure spec.md section 5
// names: "When no worker is registered for a service key at dispatch
// time, the call fails immediately ... not queued."
var ErrNoEdgeOnline = errors.New("edgebus: no edge server online")

// ErrEdgeTimeout is returned when a dispatched task's reply does not
// arrive before its deadline.
var ErrEdgeTimeout = errors.New("edgebus: edge timeout")

// Socket is the minimal surface Bus needs from a worker connection; the
// concrete implementation (wsSocket) wraps gorilla/websocket.
type Socket interface {
	ID() string
	Send(Message) error
	Close() error
}

type registration struct {
	socketID string
	capacity int // remaining concurrent slots; SPEC_FULL.md 4.4 supplement
}

// Bus is the process-wide edge worker registry and dispatcher. All of its
// maps are guarded by one RWMutex, held only long enough to read or
// mutate pointers/counters — never across a blocking send or await,
// matching spec.md section 5's "EdgeBus registries ... mutex-protected;
// acquire only long enough to update pointers."
type Bus struct {
	mu sync.RWMutex

	sockets map[string]Socket            // socket_id -> connection
	byKey   map[string][]*registration   // service_key -> workers offering it
	rrIndex map[string]int               // service_key -> next round-robin offset

	pending map[string]chan Message // task_id -> reply channel

	onRegister   func(socketID string, meta ServiceMetadata)
	onUnregister func(serviceKey string)
}

// New returns an empty Bus ready to accept connections and registrations.
func New() *Bus {
	return &Bus{
		sockets: make(map[string]Socket),
		byKey:   make(map[string][]*registration),
		rrIndex: make(map[string]int),
		pending: make(map[string]chan Message),
	}
}

// SetHooks wires callbacks fired whenever a worker (un)registers a
// service key, so a caller (internal/vjudge's registry) can keep a
// remote-proxy workflow.Service in sync with who is actually online.
// Hooks run after the bus's own mutex is released.
func (b *Bus) SetHooks(onRegister func(socketID string, meta ServiceMetadata), onUnregister func(serviceKey string)) {
	b.mu.Lock()
	b.onRegister, b.onUnregister = onRegister, onUnregister
	b.mu.Unlock()
}

// AddSocket registers a newly authenticated connection.
func (b *Bus) AddSocket(s Socket) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sockets[s.ID()] = s
}

// RemoveSocket evicts a disconnected worker from every service_key it
// offered and drops its connection, matching spec.md 4.4's "if the socket
// is marked disconnected, it is evicted".
func (b *Bus) RemoveSocket(socketID string) {
	b.mu.Lock()
	delete(b.sockets, socketID)
	var emptied []string
	for key, regs := range b.byKey {
		out := regs[:0]
		for _, r := range regs {
			if r.socketID != socketID {
				out = append(out, r)
			}
		}
		b.byKey[key] = out
		if len(out) == 0 && len(regs) > 0 {
			emptied = append(emptied, key)
		}
	}
	hook := b.onUnregister
	b.mu.Unlock()

	if hook != nil {
		for _, key := range emptied {
			hook(key)
		}
	}
}

// Register adds socketID as a provider of meta.Key(), per register_service.
func (b *Bus) Register(socketID string, meta ServiceMetadata) {
	b.mu.Lock()
	key := meta.Key()
	capacity := meta.Capacity
	if capacity <= 0 {
		capacity = 1
	}
	b.byKey[key] = append(b.byKey[key], &registration{socketID: socketID, capacity: capacity})
	hook := b.onRegister
	b.mu.Unlock()

	if hook != nil {
		hook(socketID, meta)
	}
}

// Unregister removes socketID's offering of serviceKey, per
// unregister_service.
func (b *Bus) Unregister(socketID, serviceKey string) {
	b.mu.Lock()
	regs := b.byKey[serviceKey]
	out := regs[:0]
	for _, r := range regs {
		if r.socketID != socketID {
			out = append(out, r)
		}
	}
	b.byKey[serviceKey] = out
	empty := len(out) == 0
	hook := b.onUnregister
	b.mu.Unlock()

	if empty && hook != nil {
		hook(serviceKey)
	}
}

// Online reports whether any worker currently offers serviceKey.
func (b *Bus) Online(serviceKey string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byKey[serviceKey]) > 0
}

// selectSocket picks the next capacity-weighted round-robin worker for
// serviceKey, skipping any at zero remaining capacity, and reserves one
// slot (decremented here, restored by releaseSlot on reply or eviction).
func (b *Bus) selectSocket(serviceKey string) (socketID string, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	regs := b.byKey[serviceKey]
	if len(regs) == 0 {
		return "", false
	}

	start := b.rrIndex[serviceKey]
	for i := 0; i < len(regs); i++ {
		idx := (start + i) % len(regs)
		if regs[idx].capacity > 0 {
			regs[idx].capacity--
			b.rrIndex[serviceKey] = (idx + 1) % len(regs)
			return regs[idx].socketID, true
		}
	}
	return "", false
}

func (b *Bus) releaseSlot(serviceKey, socketID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range b.byKey[serviceKey] {
		if r.socketID == socketID {
			r.capacity++
			return
		}
	}
}

// Dispatch sends (taskID, serviceKey, payload) to a selected worker and
// blocks on its reply channel until ctx is done, implementing spec.md
// 4.4's "Dispatching ... blocks on the reply channel with a timeout. If
// the socket is marked disconnected, it is evicted, another is selected,
// and the send is retried."
func (b *Bus) Dispatch(ctx context.Context, taskID, serviceKey string, payload json.RawMessage) (Message, error) {
	for attempt := 0; ; attempt++ {
		socketID, ok := b.selectSocket(serviceKey)
		if !ok {
			return Message{}, ErrNoEdgeOnline
		}

		b.mu.RLock()
		sock, known := b.sockets[socketID]
		b.mu.RUnlock()
		if !known {
			b.releaseSlot(serviceKey, socketID)
			b.RemoveSocket(socketID)
			if attempt < 3 {
				continue
			}
			return Message{}, ErrNoEdgeOnline
		}

		reply := make(chan Message, 1)
		b.mu.Lock()
		b.pending[taskID] = reply
		b.mu.Unlock()

		err := sock.Send(Message{Type: MsgTask, TaskID: taskID, ServiceKey: serviceKey, Payload: payload})
		if err != nil {
			b.mu.Lock()
			delete(b.pending, taskID)
			b.mu.Unlock()
			b.releaseSlot(serviceKey, socketID)
			b.RemoveSocket(socketID)
			if attempt < 3 {
				continue
			}
			return Message{}, fmt.Errorf("edgebus: send failed: %w", err)
		}

		select {
		case msg := <-reply:
			b.releaseSlot(serviceKey, socketID)
			return msg, nil
		case <-ctx.Done():
			b.mu.Lock()
			delete(b.pending, taskID)
			b.mu.Unlock()
			b.releaseSlot(serviceKey, socketID)
			return Message{}, ErrEdgeTimeout
		}
	}
}

// HandleReply routes an incoming reply message to its pending callback,
// the dispatch half of the reply-correlation map.
func (b *Bus) HandleReply(msg Message) {
	b.mu.Lock()
	ch, ok := b.pending[msg.TaskID]
	if ok {
		delete(b.pending, msg.TaskID)
	}
	b.mu.Unlock()

	if ok {
		select {
		case ch <- msg:
		default:
		}
	}
}

// DeadlineFor returns the default dispatch deadline for an operation
// name, per spec.md section 5's "Timeouts" table.
func DeadlineFor(operation string) time.Duration {
	switch operation {
	case "verify":
		return DeadlineVerify
	case "sync_one":
		return DeadlineSyncOne
	case "sync_list":
		return DeadlineSyncList
	default:
		return DeadlineSyncOne
	}
}
