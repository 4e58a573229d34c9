package gateway_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/wsgate/core/backbone"
	"github.com/dmitrymomot/wsgate/core/gateway"
	"github.com/dmitrymomot/wsgate/core/session"
)

type frame struct {
	Event string
	Data  json.RawMessage
}

// sink records frames sent to one simulated client.
type sink struct {
	mu     sync.Mutex
	frames []frame
}

func (s *sink) Send(event string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame{Event: event, Data: append(json.RawMessage(nil), data...)})
	return nil
}

func (s *sink) all() []frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]frame(nil), s.frames...)
}

func (s *sink) events(event string) []frame {
	var out []frame
	for _, f := range s.all() {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

func (s *sink) count(event string) int { return len(s.events(event)) }

func presenceFor(t *testing.T, s *sink, event, userID string) int {
	t.Helper()
	n := 0
	for _, f := range s.events(event) {
		var p gateway.PresenceEvent
		require.NoError(t, json.Unmarshal(f.Data, &p))
		if p.UserID == userID {
			n++
		}
	}
	return n
}

// spyStore wraps a MemoryStore, counts writes and can be switched off.
type spyStore struct {
	*session.MemoryStore

	mu     sync.Mutex
	saves  int
	down   bool
	onSave func(session.Session)
}

func newSpyStore() *spyStore {
	return &spyStore{MemoryStore: session.NewMemoryStore()}
}

func (s *spyStore) setDown(down bool) {
	s.mu.Lock()
	s.down = down
	s.mu.Unlock()
}

func (s *spyStore) isDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.down
}

func (s *spyStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func (s *spyStore) Find(ctx context.Context, id string) (session.Session, error) {
	if s.isDown() {
		return session.Session{}, errors.Join(session.ErrStoreUnavailable, errors.New("connection refused"))
	}
	return s.MemoryStore.Find(ctx, id)
}

func (s *spyStore) FindAll(ctx context.Context) ([]session.Session, error) {
	if s.isDown() {
		return nil, errors.Join(session.ErrStoreUnavailable, errors.New("connection refused"))
	}
	return s.MemoryStore.FindAll(ctx)
}

func (s *spyStore) Save(ctx context.Context, sess session.Session) error {
	s.mu.Lock()
	s.saves++
	down := s.down
	hook := s.onSave
	s.mu.Unlock()

	if down {
		return errors.Join(session.ErrStoreUnavailable, errors.New("connection refused"))
	}
	if hook != nil {
		hook(sess)
	}
	return s.MemoryStore.Save(ctx, sess)
}

// cluster is a set of gateway instances sharing one store and one backbone
// broker, the way separate processes share Redis.
type cluster struct {
	store    *spyStore
	nodes    []*gateway.Gateway
	backbone []*backbone.Backbone
}

func newCluster(t *testing.T, n int, opts ...gateway.Option) *cluster {
	t.Helper()

	c := &cluster{store: newSpyStore()}
	bus := backbone.NewBus(256)
	members := backbone.NewMemoryMembership()

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	for range n {
		bb := backbone.New(bus.Transport(), members)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = bb.Start(ctx)
		}()
		select {
		case <-bb.Ready():
		case <-time.After(time.Second):
			t.Fatal("backbone did not become ready")
		}
		c.backbone = append(c.backbone, bb)
		c.nodes = append(c.nodes, gateway.New(c.store, bb, opts...))
	}

	t.Cleanup(func() {
		cancel()
		for _, bb := range c.backbone {
			_ = bb.Stop()
		}
		wg.Wait()
	})
	return c
}

func (c *cluster) connect(t *testing.T, node int, creds gateway.Credentials) (*gateway.Conn, *sink) {
	t.Helper()
	s := &sink{}
	conn, err := c.nodes[node].Connect(context.Background(), creds, s)
	require.NoError(t, err)
	return conn, s
}

// settle broadcasts a marker from every node and waits until observer saw
// all of them, so everything published earlier has been delivered.
func (c *cluster) settle(t *testing.T, observer *sink) {
	t.Helper()
	marker := fmt.Sprintf("marker-%d", markers.Add(1))
	for _, bb := range c.backbone {
		require.NoError(t, bb.Broadcast(context.Background(), marker, nil))
	}
	require.Eventually(t, func() bool {
		return observer.count(marker) == len(c.backbone)
	}, 2*time.Second, 5*time.Millisecond)
}

var markers atomic.Int64

// labelValue returns the counter of name whose label key equals value.
func labelValue(t *testing.T, reg *prometheus.Registry, name, key, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == key && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		var total float64
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetGauge() != nil:
				total += m.GetGauge().GetValue()
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			}
		}
		return total
	}
	return 0
}
