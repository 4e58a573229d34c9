package backbone

import (
	"context"
	"sync"
	"sync/atomic"
)

// Bus is an in-process stand-in for a pub/sub broker. Each call to Transport
// returns an endpoint for one simulated instance; a message published on any
// endpoint reaches all of them. Useful for tests and single-node deployments.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*memoryTransport]struct{}
	buffer int
}

// NewBus creates a bus whose endpoints buffer up to buffer messages each.
func NewBus(buffer int) *Bus {
	if buffer < 1 {
		panic("backbone: buffer must be at least 1")
	}
	return &Bus{
		subs:   make(map[*memoryTransport]struct{}),
		buffer: buffer,
	}
}

// Transport returns a new endpoint registered on the bus. The endpoint
// buffers messages from the moment it is created, before Subscribe is called.
func (b *Bus) Transport() Transport {
	t := &memoryTransport{
		bus: b,
		ch:  make(chan Message, b.buffer),
	}
	b.mu.Lock()
	b.subs[t] = struct{}{}
	b.mu.Unlock()
	return t
}

func (b *Bus) publish(ctx context.Context, msg Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		select {
		case sub.ch <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *Bus) remove(t *memoryTransport) {
	b.mu.Lock()
	delete(b.subs, t)
	b.mu.Unlock()
}

type memoryTransport struct {
	bus    *Bus
	ch     chan Message
	closed atomic.Bool
}

func (t *memoryTransport) Publish(ctx context.Context, msg Message) error {
	if t.closed.Load() {
		return ErrClosed
	}
	return t.bus.publish(ctx, msg)
}

func (t *memoryTransport) Subscribe(ctx context.Context) (<-chan Message, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	return t.ch, nil
}

// Close unregisters the endpoint and closes its channel. Idempotent.
func (t *memoryTransport) Close() error {
	if t.closed.CompareAndSwap(false, true) {
		t.bus.remove(t)
		close(t.ch)
	}
	return nil
}

// MemoryMembership is an in-process Membership. Share one value between
// backbones to simulate a cluster inside a single test process.
type MemoryMembership struct {
	mu     sync.Mutex
	groups map[string]map[string]struct{}
}

// NewMemoryMembership creates an empty membership relation.
func NewMemoryMembership() *MemoryMembership {
	return &MemoryMembership{groups: make(map[string]map[string]struct{})}
}

func (m *MemoryMembership) Join(ctx context.Context, group, member string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.groups[group]
	if !ok {
		set = make(map[string]struct{})
		m.groups[group] = set
	}
	set[member] = struct{}{}
	return int64(len(set)), nil
}

func (m *MemoryMembership) Leave(ctx context.Context, group, member string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.groups[group]
	if !ok {
		return 0, nil
	}
	delete(set, member)
	n := int64(len(set))
	if n == 0 {
		delete(m.groups, group)
	}
	return n, nil
}

func (m *MemoryMembership) Count(ctx context.Context, group string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.groups[group])), nil
}
