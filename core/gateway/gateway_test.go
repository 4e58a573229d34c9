package gateway_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/wsgate/core/backbone"
	"github.com/dmitrymomot/wsgate/core/gateway"
	"github.com/dmitrymomot/wsgate/core/session"
)

func TestGateway_Handshake(t *testing.T) {
	t.Parallel()

	t.Run("resume keeps stored identity", func(t *testing.T) {
		t.Parallel()

		c := newCluster(t, 1)
		require.NoError(t, c.store.Save(context.Background(), session.Session{ID: "s-1", UserID: "alice"}))

		id, err := c.nodes[0].Handshake(context.Background(), gateway.Credentials{SessionID: "s-1", UserID: "mallory"})
		require.NoError(t, err)
		assert.Equal(t, gateway.Identity{SessionID: "s-1", UserID: "alice", Resumed: true}, id)
	})

	t.Run("fresh user gets session id equal to user id", func(t *testing.T) {
		t.Parallel()

		c := newCluster(t, 1)
		id, err := c.nodes[0].Handshake(context.Background(), gateway.Credentials{UserID: "bob"})
		require.NoError(t, err)
		assert.Equal(t, "bob", id.SessionID)
		assert.Equal(t, "bob", id.UserID)
		assert.False(t, id.Resumed)
	})

	t.Run("unknown session falls back to user id", func(t *testing.T) {
		t.Parallel()

		c := newCluster(t, 1)
		id, err := c.nodes[0].Handshake(context.Background(), gateway.Credentials{SessionID: "gone", UserID: "bob"})
		require.NoError(t, err)
		assert.Equal(t, "bob", id.SessionID)
	})

	t.Run("empty credentials are rejected without writes", func(t *testing.T) {
		t.Parallel()

		c := newCluster(t, 1)
		s := &sink{}
		_, err := c.nodes[0].Connect(context.Background(), gateway.Credentials{}, s)
		assert.ErrorIs(t, err, gateway.ErrHandshakeRejected)
		assert.EqualError(t, err, "invalid user ID")
		assert.Zero(t, c.store.saveCount())
		assert.Empty(t, s.all())
	})

	t.Run("unknown session without user id is rejected", func(t *testing.T) {
		t.Parallel()

		c := newCluster(t, 1)
		_, err := c.nodes[0].Handshake(context.Background(), gateway.Credentials{SessionID: "gone"})
		assert.ErrorIs(t, err, gateway.ErrHandshakeRejected)
	})

	t.Run("store unavailable is reported as retryable", func(t *testing.T) {
		t.Parallel()

		c := newCluster(t, 1)
		c.store.setDown(true)
		_, err := c.nodes[0].Handshake(context.Background(), gateway.Credentials{SessionID: "s-1", UserID: "alice"})
		assert.ErrorIs(t, err, session.ErrStoreUnavailable)
	})

	t.Run("store unavailable with degraded policy continues", func(t *testing.T) {
		t.Parallel()

		c := newCluster(t, 1, gateway.WithDegradedSessions())
		c.store.setDown(true)
		id, err := c.nodes[0].Handshake(context.Background(), gateway.Credentials{SessionID: "s-1", UserID: "alice"})
		require.NoError(t, err)
		assert.True(t, id.Degraded)
		assert.Equal(t, "alice", id.UserID)
	})
}

func TestGateway_BindSendsSessionAndRoster(t *testing.T) {
	t.Parallel()

	c := newCluster(t, 1)
	ctx := context.Background()
	require.NoError(t, c.store.Save(ctx, session.Session{ID: "bob", UserID: "bob"}))

	conn, s := c.connect(t, 0, gateway.Credentials{UserID: "alice"})
	assert.Equal(t, gateway.StateBound, conn.State())
	assert.Equal(t, "alice", conn.UserID())
	assert.Equal(t, "alice", conn.SessionID())
	assert.NotEmpty(t, conn.ID())

	frames := s.all()
	require.GreaterOrEqual(t, len(frames), 2)
	assert.Equal(t, gateway.EventSession, frames[0].Event)
	assert.JSONEq(t, `{"sessionID":"alice","userID":"alice"}`, string(frames[0].Data))

	assert.Equal(t, gateway.EventUsers, frames[1].Event)
	var users []gateway.PresenceEvent
	require.NoError(t, json.Unmarshal(frames[1].Data, &users))
	assert.ElementsMatch(t, []gateway.PresenceEvent{
		{UserID: "alice", Connected: true},
		{UserID: "bob", Connected: false},
	}, users)

	stored, err := c.store.Find(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, stored.Connected)
}

func TestGateway_BindRejectsUnboundIdentity(t *testing.T) {
	t.Parallel()

	c := newCluster(t, 1)
	_, err := c.nodes[0].Bind(context.Background(), gateway.Identity{}, &sink{})
	assert.ErrorIs(t, err, gateway.ErrNotBound)
}

func TestGateway_UserConnectedGoesToOthersOnly(t *testing.T) {
	t.Parallel()

	c := newCluster(t, 2)
	_, bob := c.connect(t, 1, gateway.Credentials{UserID: "bob"})
	_, alice := c.connect(t, 0, gateway.Credentials{UserID: "alice"})

	c.settle(t, bob)
	c.settle(t, alice)

	assert.Equal(t, 1, presenceFor(t, bob, gateway.EventUserConnected, "alice"))
	assert.Zero(t, presenceFor(t, alice, gateway.EventUserConnected, "alice"))
}

func TestGateway_ExactlyOneDisconnectAfterLastTab(t *testing.T) {
	t.Parallel()

	c := newCluster(t, 2)
	ctx := context.Background()
	_, observer := c.connect(t, 1, gateway.Credentials{UserID: "bob"})

	var tabs []*gateway.Conn
	for i := range 3 {
		conn, _ := c.connect(t, i%2, gateway.Credentials{UserID: "alice"})
		tabs = append(tabs, conn)
	}

	for i, conn := range tabs {
		require.NoError(t, c.nodes[i%2].Disconnect(ctx, conn))
		assert.Equal(t, gateway.StateClosed, conn.State())
	}

	c.settle(t, observer)
	assert.Equal(t, 1, presenceFor(t, observer, gateway.EventUserConnected, "alice"))
	assert.Equal(t, 1, presenceFor(t, observer, gateway.EventUserDisconnected, "alice"))

	for _, f := range observer.events(gateway.EventUserDisconnected) {
		assert.JSONEq(t, `{"userID":"alice","connected":false}`, string(f.Data))
	}

	stored, err := c.store.Find(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, stored.Connected)
}

func TestGateway_DisconnectIsIdempotent(t *testing.T) {
	t.Parallel()

	c := newCluster(t, 1)
	ctx := context.Background()
	_, observer := c.connect(t, 0, gateway.Credentials{UserID: "bob"})
	conn, _ := c.connect(t, 0, gateway.Credentials{UserID: "alice"})

	require.NoError(t, c.nodes[0].Disconnect(ctx, conn))
	require.NoError(t, c.nodes[0].Disconnect(ctx, conn))

	c.settle(t, observer)
	assert.Equal(t, 1, presenceFor(t, observer, gateway.EventUserDisconnected, "alice"))
}

func TestGateway_DisconnectRunsAfterCallerCancel(t *testing.T) {
	t.Parallel()

	c := newCluster(t, 1)
	conn, _ := c.connect(t, 0, gateway.Credentials{UserID: "alice"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, c.nodes[0].Disconnect(ctx, conn))

	stored, err := c.store.Find(context.Background(), "alice")
	require.NoError(t, err)
	assert.False(t, stored.Connected)
}

func TestGateway_PrivateMessageFanOut(t *testing.T) {
	t.Parallel()

	c := newCluster(t, 2)
	ctx := context.Background()

	a1, a1Sink := c.connect(t, 0, gateway.Credentials{UserID: "alice"})
	_, a2Sink := c.connect(t, 1, gateway.Credentials{UserID: "alice"})
	_, bobSink := c.connect(t, 1, gateway.Credentials{UserID: "bob"})
	_, carolSink := c.connect(t, 0, gateway.Credentials{UserID: "carol"})

	err := c.nodes[0].HandleMessage(ctx, a1, gateway.EventPrivateMessage,
		json.RawMessage(`{"receiver":"bob","payload":{"content":"hello"}}`))
	require.NoError(t, err)

	for _, s := range []*sink{a1Sink, a2Sink, bobSink, carolSink} {
		c.settle(t, s)
	}

	want := `{"sender":"alice","receiver":"bob","payload":{"content":"hello"}}`
	require.Equal(t, 1, bobSink.count(gateway.EventPrivateMessage))
	assert.JSONEq(t, want, string(bobSink.events(gateway.EventPrivateMessage)[0].Data))
	require.Equal(t, 1, a2Sink.count(gateway.EventPrivateMessage))
	assert.JSONEq(t, want, string(a2Sink.events(gateway.EventPrivateMessage)[0].Data))

	assert.Zero(t, a1Sink.count(gateway.EventPrivateMessage), "sending connection gets no echo")
	assert.Zero(t, carolSink.count(gateway.EventPrivateMessage))
}

func TestGateway_PrivateMessageToSelf(t *testing.T) {
	t.Parallel()

	c := newCluster(t, 2)
	ctx := context.Background()

	a1, a1Sink := c.connect(t, 0, gateway.Credentials{UserID: "alice"})
	_, a2Sink := c.connect(t, 1, gateway.Credentials{UserID: "alice"})

	require.NoError(t, c.nodes[0].HandleMessage(ctx, a1, gateway.EventPrivateMessage,
		json.RawMessage(`{"receiver":"alice","payload":"note"}`)))

	c.settle(t, a2Sink)
	c.settle(t, a1Sink)
	assert.Equal(t, 1, a2Sink.count(gateway.EventPrivateMessage))
	assert.Zero(t, a1Sink.count(gateway.EventPrivateMessage))
}

func TestGateway_PrivateMessageToOfflineUserIsDropped(t *testing.T) {
	t.Parallel()

	c := newCluster(t, 1)
	a1, a1Sink := c.connect(t, 0, gateway.Credentials{UserID: "alice"})

	err := c.nodes[0].HandleMessage(context.Background(), a1, gateway.EventPrivateMessage,
		json.RawMessage(`{"receiver":"nobody","payload":1}`))
	require.NoError(t, err)

	c.settle(t, a1Sink)
	assert.Zero(t, a1Sink.count(gateway.EventPrivateMessage))
	assert.Zero(t, a1Sink.count(gateway.EventError))
}

func TestGateway_HandleMessageRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		event   string
		data    string
		wantErr error
	}{
		{name: "unknown event", event: "typing", data: `{}`, wantErr: gateway.ErrUnknownEvent},
		{name: "malformed json", event: gateway.EventPrivateMessage, data: `{"receiver":`, wantErr: gateway.ErrInvalidMessage},
		{name: "missing receiver", event: gateway.EventPrivateMessage, data: `{"payload":"x"}`, wantErr: gateway.ErrInvalidMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := newCluster(t, 1)
			conn, s := c.connect(t, 0, gateway.Credentials{UserID: "alice"})

			err := c.nodes[0].HandleMessage(context.Background(), conn, tt.event, json.RawMessage(tt.data))
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, gateway.StateBound, conn.State(), "rejected frames never close the connection")

			require.Equal(t, 1, s.count(gateway.EventError))
			var info gateway.ErrorInfo
			require.NoError(t, json.Unmarshal(s.events(gateway.EventError)[0].Data, &info))
			assert.NotEmpty(t, info.Message)
		})
	}
}

func TestGateway_HandleMessageOnClosedConn(t *testing.T) {
	t.Parallel()

	c := newCluster(t, 1)
	conn, _ := c.connect(t, 0, gateway.Credentials{UserID: "alice"})
	require.NoError(t, c.nodes[0].Disconnect(context.Background(), conn))

	err := c.nodes[0].HandleMessage(context.Background(), conn, gateway.EventPrivateMessage, json.RawMessage(`{"receiver":"bob"}`))
	assert.ErrorIs(t, err, gateway.ErrConnClosed)
}

func TestGateway_ConcurrentConnectsAnnounceOnce(t *testing.T) {
	t.Parallel()

	for range 10 {
		c := newCluster(t, 2)
		_, observer := c.connect(t, 0, gateway.Credentials{UserID: "bob"})

		var wg sync.WaitGroup
		for node := range 2 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := c.nodes[node].Connect(context.Background(), gateway.Credentials{UserID: "alice"}, &sink{})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		c.settle(t, observer)
		assert.Equal(t, 1, presenceFor(t, observer, gateway.EventUserConnected, "alice"))
	}
}

func TestGateway_ReconnectDuringLastDisconnectRepairsFlag(t *testing.T) {
	t.Parallel()

	c := newCluster(t, 2)
	ctx := context.Background()
	first, _ := c.connect(t, 0, gateway.Credentials{UserID: "alice"})

	var once sync.Once
	c.store.onSave = func(sess session.Session) {
		if sess.UserID != "alice" || sess.Connected {
			return
		}
		// A new tab lands on the other instance between the leave and the offline write.
		once.Do(func() {
			_, err := c.nodes[1].Connect(ctx, gateway.Credentials{UserID: "alice"}, &sink{})
			assert.NoError(t, err)
		})
	}

	require.NoError(t, c.nodes[0].Disconnect(ctx, first))

	stored, err := c.store.Find(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, stored.Connected, "session must stay online while a connection exists")
}

func TestGateway_RepeatedSessionsDoNotDuplicateRoster(t *testing.T) {
	t.Parallel()

	c := newCluster(t, 1)
	ctx := context.Background()

	for range 3 {
		conn, _ := c.connect(t, 0, gateway.Credentials{UserID: "alice"})
		require.NoError(t, c.nodes[0].Disconnect(ctx, conn))
	}

	all, err := c.store.FindAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestGateway_RosterDeduplicatesUsers(t *testing.T) {
	t.Parallel()

	c := newCluster(t, 1)
	ctx := context.Background()
	require.NoError(t, c.store.Save(ctx, session.Session{ID: "old", UserID: "bob", Connected: false}))
	require.NoError(t, c.store.Save(ctx, session.Session{ID: "bob", UserID: "bob", Connected: true}))

	_, s := c.connect(t, 0, gateway.Credentials{UserID: "alice"})

	var users []gateway.PresenceEvent
	require.NoError(t, json.Unmarshal(s.events(gateway.EventUsers)[0].Data, &users))
	assert.ElementsMatch(t, []gateway.PresenceEvent{
		{UserID: "alice", Connected: true},
		{UserID: "bob", Connected: true},
	}, users)
}

func TestGateway_StoreUnavailable(t *testing.T) {
	t.Parallel()

	t.Run("new session is rejected", func(t *testing.T) {
		t.Parallel()

		c := newCluster(t, 1)
		c.store.setDown(true)

		_, err := c.nodes[0].Connect(context.Background(), gateway.Credentials{UserID: "alice"}, &sink{})
		assert.ErrorIs(t, err, session.ErrStoreUnavailable)
		assert.Zero(t, c.backbone[0].LocalCount(gateway.UserGroup("alice")))

		count, err := c.backbone[0].Count(context.Background(), gateway.UserGroup("alice"))
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("degraded policy binds anyway", func(t *testing.T) {
		t.Parallel()

		c := newCluster(t, 1, gateway.WithDegradedSessions())
		c.store.setDown(true)

		conn, s := c.connect(t, 0, gateway.Credentials{UserID: "alice"})
		assert.Equal(t, gateway.StateBound, conn.State())
		assert.Equal(t, 1, s.count(gateway.EventSession))

		var users []gateway.PresenceEvent
		require.NoError(t, json.Unmarshal(s.events(gateway.EventUsers)[0].Data, &users))
		assert.Empty(t, users)

		assert.Error(t, c.nodes[0].Disconnect(context.Background(), conn))
	})
}

func TestGateway_PresenceLocalOverAnnounces(t *testing.T) {
	t.Parallel()

	c := newCluster(t, 2, gateway.WithPresencePolicy(gateway.PresenceLocal))
	_, observer := c.connect(t, 0, gateway.Credentials{UserID: "bob"})

	c.connect(t, 0, gateway.Credentials{UserID: "alice"})
	c.connect(t, 1, gateway.Credentials{UserID: "alice"})
	c.connect(t, 1, gateway.Credentials{UserID: "alice"})

	c.settle(t, observer)
	assert.Equal(t, 2, presenceFor(t, observer, gateway.EventUserConnected, "alice"))
}

// purgingBackbone reports a fixed set of emptied groups on Purge.
type purgingBackbone struct {
	*backbone.Backbone
	groups []string
}

func (p purgingBackbone) Purge(context.Context) ([]string, error) { return p.groups, nil }

func TestGateway_Recover(t *testing.T) {
	t.Parallel()

	store := session.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, session.Session{ID: "alice", UserID: "alice", Connected: true}))
	require.NoError(t, store.Save(ctx, session.Session{ID: "bob", UserID: "bob", Connected: true}))

	bb := backbone.New(backbone.NewBus(8).Transport(), backbone.NewMemoryMembership())
	g := gateway.New(store, purgingBackbone{Backbone: bb, groups: []string{gateway.UserGroup("alice"), "other"}})

	require.NoError(t, g.Recover(ctx))

	alice, err := store.Find(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, alice.Connected)

	bob, err := store.Find(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, bob.Connected)
}

func TestGateway_RecoverWithoutPurger(t *testing.T) {
	t.Parallel()

	bb := backbone.New(backbone.NewBus(8).Transport(), backbone.NewMemoryMembership())
	g := gateway.New(session.NewMemoryStore(), bb)
	assert.NoError(t, g.Recover(context.Background()))
}

func TestGateway_Metrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := newCluster(t, 1, gateway.WithRegisterer(reg), gateway.WithMetricsNamespace("test"))

	conn, _ := c.connect(t, 0, gateway.Credentials{UserID: "alice"})
	assert.Equal(t, float64(1), gaugeValue(t, reg, "test_gateway_connections_active"))

	_, err := c.nodes[0].Connect(context.Background(), gateway.Credentials{}, &sink{})
	require.Error(t, err)

	require.NoError(t, c.nodes[0].Disconnect(context.Background(), conn))
	assert.Equal(t, float64(0), gaugeValue(t, reg, "test_gateway_connections_active"))
	assert.Equal(t, float64(2), gaugeValue(t, reg, "test_gateway_handshakes_total"))
	assert.Equal(t, float64(2), gaugeValue(t, reg, "test_gateway_presence_events_total"))
}

func TestNewFromConfig(t *testing.T) {
	t.Parallel()

	bb := backbone.New(backbone.NewBus(1).Transport(), backbone.NewMemoryMembership())

	g, err := gateway.NewFromConfig(session.NewMemoryStore(), bb, gateway.Config{
		PresencePolicy:    "local",
		DisconnectTimeout: time.Second,
	})
	require.NoError(t, err)
	assert.NotNil(t, g)

	_, err = gateway.NewFromConfig(session.NewMemoryStore(), bb, gateway.Config{PresencePolicy: "global"})
	assert.ErrorIs(t, err, gateway.ErrInvalidPresencePolicy)
}

func TestParsePresencePolicy(t *testing.T) {
	t.Parallel()

	p, err := gateway.ParsePresencePolicy("")
	require.NoError(t, err)
	assert.Equal(t, gateway.PresenceCluster, p)

	p, err = gateway.ParsePresencePolicy("local")
	require.NoError(t, err)
	assert.Equal(t, gateway.PresenceLocal, p)

	_, err = gateway.ParsePresencePolicy("nope")
	assert.True(t, errors.Is(err, gateway.ErrInvalidPresencePolicy))
}

func TestGateway_HandshakeMetricCountsEachAttemptOnce(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := newCluster(t, 1, gateway.WithRegisterer(reg), gateway.WithMetricsNamespace("test"))

	// Handshake succeeds without the store; the save in Bind fails.
	c.store.setDown(true)
	_, err := c.nodes[0].Connect(context.Background(), gateway.Credentials{UserID: "alice"}, &sink{})
	require.ErrorIs(t, err, session.ErrStoreUnavailable)

	c.store.setDown(false)
	conn, _ := c.connect(t, 0, gateway.Credentials{UserID: "alice"})
	_, _ = c.connect(t, 0, gateway.Credentials{SessionID: conn.SessionID()})

	assert.Equal(t, float64(3), gaugeValue(t, reg, "test_gateway_handshakes_total"))
	assert.Equal(t, float64(1), labelValue(t, reg, "test_gateway_handshakes_total", "result", "unavailable"))
	assert.Equal(t, float64(1), labelValue(t, reg, "test_gateway_handshakes_total", "result", "created"))
	assert.Equal(t, float64(1), labelValue(t, reg, "test_gateway_handshakes_total", "result", "resumed"))
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "bound", gateway.StateBound.String())
	assert.Equal(t, "closed", gateway.StateClosed.String())
	assert.Equal(t, "unknown", gateway.State(0).String(), "zero value is not a valid state")
	assert.Equal(t, "unknown", gateway.State(99).String())
}
