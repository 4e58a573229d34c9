package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmitrymomot/wsgate/core/backbone"
	"github.com/dmitrymomot/wsgate/core/logger"
	"github.com/dmitrymomot/wsgate/core/session"
)

const userGroupPrefix = "user:"

// UserGroup returns the backbone group holding every connection of userID.
func UserGroup(userID string) string {
	return userGroupPrefix + userID
}

// Backbone is the subset of *backbone.Backbone the gateway depends on.
type Backbone interface {
	Join(ctx context.Context, group string, r backbone.Receiver) (int64, error)
	Leave(ctx context.Context, group, connID string) (int64, error)
	Detach(connID string)
	Count(ctx context.Context, group string) (int64, error)
	LocalCount(group string) int64
	Publish(ctx context.Context, group, event string, payload any, except ...string) error
	Broadcast(ctx context.Context, event string, payload any, except ...string) error
	Purge(ctx context.Context) ([]string, error)
}

// Credentials are presented by a client when it connects.
type Credentials struct {
	SessionID string
	UserID    string
}

// Identity is the outcome of a successful handshake.
type Identity struct {
	SessionID string
	UserID    string
	Resumed   bool
	// Degraded is set when the session store could not be consulted and the
	// degraded policy let the connection through anyway.
	Degraded bool
}

// Gateway authenticates connections, tracks presence and relays private messages.
type Gateway struct {
	store             session.Store
	bb                Backbone
	logger            *slog.Logger
	policy            PresencePolicy
	degraded          bool
	disconnectTimeout time.Duration
	registerer        prometheus.Registerer
	namespace         string
	metrics           *metrics
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger. Defaults to a discard logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithPresencePolicy selects the presence transition policy.
func WithPresencePolicy(p PresencePolicy) Option {
	return func(g *Gateway) {
		g.policy = p
	}
}

// WithDegradedSessions lets connections with a user ID proceed when the
// session store is unreachable. Failed writes are logged.
func WithDegradedSessions() Option {
	return func(g *Gateway) {
		g.degraded = true
	}
}

// WithDisconnectTimeout bounds the cleanup performed by Disconnect.
func WithDisconnectTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.disconnectTimeout = d
		}
	}
}

// WithRegisterer sets the Prometheus registerer for gateway metrics.
// Defaults to a private registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(g *Gateway) {
		if reg != nil {
			g.registerer = reg
		}
	}
}

// WithMetricsNamespace sets the metrics namespace. Defaults to "wsgate".
func WithMetricsNamespace(ns string) Option {
	return func(g *Gateway) {
		g.namespace = ns
	}
}

// New creates a gateway over a session store and a fan-out backbone.
func New(store session.Store, bb Backbone, opts ...Option) *Gateway {
	g := &Gateway{
		store:             store,
		bb:                bb,
		logger:            logger.Discard(),
		policy:            PresenceCluster,
		disconnectTimeout: 5 * time.Second,
		namespace:         "wsgate",
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.registerer == nil {
		g.registerer = prometheus.NewRegistry()
	}
	g.metrics = newMetrics(g.registerer, g.namespace)
	return g
}

// NewFromConfig creates a gateway from Config. Options override config values.
func NewFromConfig(store session.Store, bb Backbone, cfg Config, opts ...Option) (*Gateway, error) {
	policy, err := ParsePresencePolicy(cfg.PresencePolicy)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, cfg.PresencePolicy)
	}

	base := []Option{
		WithPresencePolicy(policy),
		WithDisconnectTimeout(cfg.DisconnectTimeout),
	}
	if cfg.MetricsNamespace != "" {
		base = append(base, WithMetricsNamespace(cfg.MetricsNamespace))
	}
	if cfg.DegradedSessions {
		base = append(base, WithDegradedSessions())
	}
	return New(store, bb, append(base, opts...)...), nil
}

// Handshake resolves credentials to an identity without side effects:
// a known session ID is resumed, otherwise the user ID opens a new session
// whose ID equals the user ID, otherwise the connection is rejected.
func (g *Gateway) Handshake(ctx context.Context, creds Credentials) (Identity, error) {
	var degraded bool

	if creds.SessionID != "" {
		sess, err := g.store.Find(ctx, creds.SessionID)
		switch {
		case err == nil:
			return Identity{SessionID: sess.ID, UserID: sess.UserID, Resumed: true}, nil
		case errors.Is(err, session.ErrNotFound):
		default:
			if !errors.Is(err, session.ErrStoreUnavailable) {
				err = errors.Join(session.ErrStoreUnavailable, err)
			}
			if !g.degraded || creds.UserID == "" {
				g.metrics.handshakes.WithLabelValues("unavailable").Inc()
				g.logger.WarnContext(ctx, "session lookup failed",
					logger.SessionID(creds.SessionID),
					logger.Error(err))
				return Identity{}, err
			}
			degraded = true
			g.logger.WarnContext(ctx, "session lookup failed, continuing degraded",
				logger.SessionID(creds.SessionID),
				logger.UserID(creds.UserID),
				logger.Error(err))
		}
	}

	if creds.UserID == "" {
		g.metrics.handshakes.WithLabelValues("rejected").Inc()
		return Identity{}, ErrHandshakeRejected
	}

	return Identity{SessionID: creds.UserID, UserID: creds.UserID, Degraded: degraded}, nil
}

// Bind attaches a handshaken identity to sink. It joins the user's group,
// marks the session connected, sends the session ack and the user roster to
// this connection, and announces the user when this is their first connection.
//
// Handshake counts the attempts it fails; Bind counts the rest, so every
// attempt is counted under exactly one result.
func (g *Gateway) Bind(ctx context.Context, id Identity, sink Sink) (*Conn, error) {
	if id.SessionID == "" || id.UserID == "" {
		g.metrics.handshakes.WithLabelValues("rejected").Inc()
		return nil, ErrNotBound
	}

	c := newConn(id, sink)
	group := UserGroup(c.userID)
	log := g.logger.With(logger.ConnID(c.id), logger.UserID(c.userID), logger.SessionID(c.sessionID))

	n, err := g.bb.Join(ctx, group, c)
	if err != nil {
		log.WarnContext(ctx, "cluster join failed, using local count", logger.Error(err))
	}
	if g.policy == PresenceLocal {
		n = g.bb.LocalCount(group)
	}

	if err := g.save(ctx, c, true); err != nil {
		if !g.degraded {
			if _, lerr := g.bb.Leave(context.WithoutCancel(ctx), group, c.id); lerr != nil {
				log.WarnContext(ctx, "rollback leave failed", logger.Error(lerr))
			}
			g.bb.Detach(c.id)
			c.close()
			g.metrics.handshakes.WithLabelValues("unavailable").Inc()
			return nil, err
		}
		c.degraded = true
	}

	g.send(c, EventSession, SessionInfo{SessionID: c.sessionID, UserID: c.userID})
	g.send(c, EventUsers, g.roster(ctx))

	if n == 1 {
		g.announce(ctx, EventUserConnected, c.userID, true, c.id)
	}

	result := "created"
	if id.Resumed {
		result = "resumed"
	}
	g.metrics.handshakes.WithLabelValues(result).Inc()
	g.metrics.activeConns.Inc()
	log.InfoContext(ctx, "connection bound", logger.Count("user_connections", n))
	return c, nil
}

// Connect runs Handshake followed by Bind.
func (g *Gateway) Connect(ctx context.Context, creds Credentials, sink Sink) (*Conn, error) {
	id, err := g.Handshake(ctx, creds)
	if err != nil {
		return nil, err
	}
	return g.Bind(ctx, id, sink)
}

// HandleMessage processes one inbound event from c. Failures are reported
// to the connection as an error event and returned; they never close it.
func (g *Gateway) HandleMessage(ctx context.Context, c *Conn, event string, data json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("gateway: %q handler panic: %v", event, r)
			g.metrics.inboundErrors.WithLabelValues("panic").Inc()
			g.logger.ErrorContext(ctx, "inbound handler panic",
				logger.ConnID(c.id), logger.Event(event), logger.Error(err))
			g.send(c, EventError, ErrorInfo{Message: "internal error"})
		}
	}()

	if c.State() != StateBound {
		return ErrConnClosed
	}

	switch event {
	case EventPrivateMessage:
		err = g.relay(ctx, c, data)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, backbone.ErrUnavailable):
		g.logger.WarnContext(ctx, "relay delivered locally only",
			logger.ConnID(c.id), logger.Event(event), logger.Error(err))
		return err
	case errors.Is(err, ErrUnknownEvent):
		g.metrics.inboundErrors.WithLabelValues("unknown_event").Inc()
	default:
		g.metrics.inboundErrors.WithLabelValues("invalid").Inc()
	}

	g.logger.DebugContext(ctx, "inbound frame rejected",
		logger.ConnID(c.id), logger.Event(event), logger.Error(err))
	g.send(c, EventError, ErrorInfo{Message: err.Error()})
	return err
}

func (g *Gateway) relay(ctx context.Context, c *Conn, data json.RawMessage) error {
	var in inboundPrivateMessage
	if err := json.Unmarshal(data, &in); err != nil {
		return errors.Join(ErrInvalidMessage, err)
	}
	if in.Receiver == "" {
		return fmt.Errorf("%w: receiver is required", ErrInvalidMessage)
	}

	msg := PrivateMessage{Sender: c.userID, Receiver: in.Receiver, Payload: in.Payload}

	err := g.bb.Publish(ctx, UserGroup(in.Receiver), EventPrivateMessage, msg, c.id)
	if in.Receiver != c.userID {
		err = errors.Join(err, g.bb.Publish(ctx, UserGroup(c.userID), EventPrivateMessage, msg, c.id))
	}
	g.metrics.relayed.Inc()
	return err
}

// Disconnect releases c. When it was the user's last connection, the user is
// announced offline and the session marked disconnected. Cleanup runs with a
// context detached from ctx's cancellation and bounded by the disconnect timeout.
// Calling Disconnect more than once is a no-op.
func (g *Gateway) Disconnect(ctx context.Context, c *Conn) error {
	if !c.close() {
		return nil
	}
	g.metrics.activeConns.Dec()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.disconnectTimeout)
	defer cancel()

	group := UserGroup(c.userID)
	log := g.logger.With(logger.ConnID(c.id), logger.UserID(c.userID))

	n, leaveErr := g.bb.Leave(ctx, group, c.id)
	if leaveErr != nil {
		log.WarnContext(ctx, "cluster leave failed, using local count", logger.Error(leaveErr))
	}
	g.bb.Detach(c.id)
	if g.policy == PresenceLocal {
		n = g.bb.LocalCount(group)
	}

	log.InfoContext(ctx, "connection closed", logger.Count("user_connections", n))
	if n > 0 {
		return leaveErr
	}

	g.announce(ctx, EventUserDisconnected, c.userID, false)
	saveErr := g.save(ctx, c, false)

	if g.policy == PresenceCluster && leaveErr == nil {
		// A connect on another instance may have joined after our leave and
		// saved connected=true before our save above.
		if m, err := g.bb.Count(ctx, group); err == nil && m > 0 {
			if err := g.save(ctx, c, true); err == nil {
				g.metrics.repairs.Inc()
				log.InfoContext(ctx, "presence repaired after concurrent reconnect")
			}
		}
	}

	return errors.Join(leaveErr, saveErr)
}

// Recover purges memberships left behind by a previous run of this node and
// announces the affected users offline.
func (g *Gateway) Recover(ctx context.Context) error {
	groups, err := g.bb.Purge(ctx)
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		return nil
	}

	offline := make(map[string]struct{}, len(groups))
	for _, group := range groups {
		userID, ok := strings.CutPrefix(group, userGroupPrefix)
		if !ok {
			continue
		}
		offline[userID] = struct{}{}
		g.announce(ctx, EventUserDisconnected, userID, false)
	}

	sessions, err := g.store.FindAll(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, sess := range sessions {
		if _, ok := offline[sess.UserID]; ok && sess.Connected {
			errs = append(errs, g.store.Save(ctx, sess.WithConnected(false)))
		}
	}

	g.logger.InfoContext(ctx, "recovered stale presence", logger.Count("users", int64(len(offline))))
	return errors.Join(errs...)
}

func (g *Gateway) save(ctx context.Context, c *Conn, connected bool) error {
	sess := session.Session{ID: c.sessionID, UserID: c.userID, Connected: connected}
	if err := g.store.Save(ctx, sess); err != nil {
		g.logger.WarnContext(ctx, "session save failed",
			logger.SessionID(c.sessionID),
			slog.Bool("connected", connected),
			slog.Bool("degraded", c.degraded || g.degraded),
			logger.Error(err))
		return err
	}
	return nil
}

// roster lists every known user with their connected flag, one entry per user.
func (g *Gateway) roster(ctx context.Context) []PresenceEvent {
	sessions, err := g.store.FindAll(ctx)
	if err != nil {
		g.logger.WarnContext(ctx, "roster unavailable", logger.Error(err))
		return []PresenceEvent{}
	}

	users := make([]PresenceEvent, 0, len(sessions))
	index := make(map[string]int, len(sessions))
	for _, sess := range sessions {
		if i, ok := index[sess.UserID]; ok {
			users[i].Connected = users[i].Connected || sess.Connected
			continue
		}
		index[sess.UserID] = len(users)
		users = append(users, PresenceEvent{UserID: sess.UserID, Connected: sess.Connected})
	}
	return users
}

func (g *Gateway) announce(ctx context.Context, event, userID string, connected bool, except ...string) {
	g.metrics.presenceEvents.WithLabelValues(event).Inc()
	err := g.bb.Broadcast(ctx, event, PresenceEvent{UserID: userID, Connected: connected}, except...)
	if err != nil {
		g.logger.WarnContext(ctx, "presence broadcast degraded",
			logger.UserID(userID), logger.Event(event), logger.Error(err))
	}
}

func (g *Gateway) send(c *Conn, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		g.logger.Error("encode outbound event", logger.Event(event), logger.Error(err))
		return
	}
	if err := c.sink.Send(event, data); err != nil {
		g.logger.Debug("outbound event dropped",
			logger.ConnID(c.id), logger.Event(event), logger.Error(err))
	}
}
