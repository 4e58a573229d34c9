package backbone

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/wsgate/core/logger"
)

// BroadcastGroup is the reserved group that addresses every connection on
// every instance. It cannot be joined.
const BroadcastGroup = "*"

// Receiver is a locally attached connection that can accept deliveries.
// Deliver must not block: implementations enqueue and return.
type Receiver interface {
	ID() string
	Deliver(event string, payload []byte) error
}

// Backbone is the fan-out layer shared by gateway instances. It combines a
// Transport that moves messages between instances, a Membership that answers
// cluster-wide group size queries, and a local routing table used to hand
// messages to the receivers attached to this instance.
//
// The local table only routes deliveries. Cluster-wide questions such as
// "does this group still have members" go to Membership.
type Backbone struct {
	nodeID     string
	transport  Transport
	membership Membership
	logger     *slog.Logger

	mu     sync.RWMutex
	conns  map[string]Receiver
	groups map[string]map[string]struct{}

	cancel    context.CancelFunc
	ready     chan struct{}
	readyOnce sync.Once
	started   atomic.Bool

	published     atomic.Int64
	publishFailed atomic.Int64
	delivered     atomic.Int64
	dropped       atomic.Int64
}

// Stats provides observability counters.
type Stats struct {
	NodeID           string
	Published        int64
	PublishFailed    int64
	Delivered        int64
	Dropped          int64
	LocalConnections int
	IsRunning        bool
}

// Option configures a Backbone.
type Option func(*Backbone)

// WithNodeID sets the identifier of this instance. Defaults to a random UUID.
func WithNodeID(id string) Option {
	return func(b *Backbone) {
		if id != "" {
			b.nodeID = id
		}
	}
}

// WithLogger sets the logger. Defaults to a discard logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backbone) {
		if l != nil {
			b.logger = l
		}
	}
}

// New creates a backbone over the given transport and membership.
func New(transport Transport, membership Membership, opts ...Option) *Backbone {
	b := &Backbone{
		nodeID:     uuid.NewString(),
		transport:  transport,
		membership: membership,
		logger:     logger.Discard(),
		conns:      make(map[string]Receiver),
		groups:     make(map[string]map[string]struct{}),
		ready:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NodeID returns the identifier of this instance.
func (b *Backbone) NodeID() string {
	return b.nodeID
}

// Join attaches r locally and adds it to group cluster-wide. It returns the
// group size observed atomically right after the join, so a result of 1 means
// r is the group's first member.
//
// When Membership fails, the local group size is returned together with an
// error matching ErrUnavailable.
func (b *Backbone) Join(ctx context.Context, group string, r Receiver) (int64, error) {
	if group == "" || group == BroadcastGroup {
		return 0, ErrInvalidGroup
	}

	b.mu.Lock()
	b.conns[r.ID()] = r
	members, ok := b.groups[group]
	if !ok {
		members = make(map[string]struct{})
		b.groups[group] = members
	}
	members[r.ID()] = struct{}{}
	local := int64(len(members))
	b.mu.Unlock()

	n, err := b.membership.Join(ctx, group, r.ID())
	if err != nil {
		return local, errors.Join(ErrUnavailable, err)
	}
	return n, nil
}

// Leave removes connID from group locally and cluster-wide and returns the
// number of members remaining, observed atomically with the removal.
// The receiver stays attached for broadcasts until Detach.
func (b *Backbone) Leave(ctx context.Context, group, connID string) (int64, error) {
	if group == "" || group == BroadcastGroup {
		return 0, ErrInvalidGroup
	}

	b.mu.Lock()
	var local int64
	if members, ok := b.groups[group]; ok {
		delete(members, connID)
		local = int64(len(members))
		if local == 0 {
			delete(b.groups, group)
		}
	}
	b.mu.Unlock()

	n, err := b.membership.Leave(ctx, group, connID)
	if err != nil {
		return local, errors.Join(ErrUnavailable, err)
	}
	return n, nil
}

// Attach registers r for broadcasts without joining any group.
func (b *Backbone) Attach(r Receiver) {
	b.mu.Lock()
	b.conns[r.ID()] = r
	b.mu.Unlock()
}

// Detach stops local deliveries to connID. It does not touch Membership;
// call Leave for every joined group first.
func (b *Backbone) Detach(connID string) {
	b.mu.Lock()
	delete(b.conns, connID)
	for group, members := range b.groups {
		delete(members, connID)
		if len(members) == 0 {
			delete(b.groups, group)
		}
	}
	b.mu.Unlock()
}

// Count returns the cluster-wide size of group.
func (b *Backbone) Count(ctx context.Context, group string) (int64, error) {
	n, err := b.membership.Count(ctx, group)
	if err != nil {
		return b.LocalCount(group), errors.Join(ErrUnavailable, err)
	}
	return n, nil
}

// LocalCount returns the number of receivers attached to group on this instance.
func (b *Backbone) LocalCount(group string) int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return int64(len(b.groups[group]))
}

// Publish sends event to every connection in group on every instance, except
// the listed connection IDs. If the transport fails, the message is still
// delivered to local receivers and an error matching ErrUnavailable is returned.
func (b *Backbone) Publish(ctx context.Context, group, event string, payload any, except ...string) error {
	if group == "" {
		return ErrInvalidGroup
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("backbone: marshal %q payload: %w", event, err)
	}

	msg := Message{
		Group:   group,
		Event:   event,
		Payload: data,
		Except:  except,
		Origin:  b.nodeID,
	}

	if err := b.transport.Publish(ctx, msg); err != nil {
		b.publishFailed.Add(1)
		b.deliver(msg)
		return errors.Join(ErrUnavailable, err)
	}
	b.published.Add(1)
	return nil
}

// Broadcast publishes event to every connection on every instance.
func (b *Backbone) Broadcast(ctx context.Context, event string, payload any, except ...string) error {
	return b.Publish(ctx, BroadcastGroup, event, payload, except...)
}

// Ready is closed once Start has subscribed to the transport.
func (b *Backbone) Ready() <-chan struct{} {
	return b.ready
}

// Start subscribes to the transport and delivers incoming messages to local
// receivers until ctx is cancelled or the subscription ends. Blocking.
func (b *Backbone) Start(ctx context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.cancel = cancel
	b.mu.Unlock()
	defer func() {
		cancel()
		b.mu.Lock()
		b.cancel = nil
		b.mu.Unlock()
		b.started.Store(false)
	}()

	messages, err := b.transport.Subscribe(ctx)
	if err != nil {
		return errors.Join(ErrUnavailable, err)
	}
	b.readyOnce.Do(func() { close(b.ready) })

	b.logger.InfoContext(ctx, "backbone started", logger.NodeID(b.nodeID))

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("backbone stopping", logger.NodeID(b.nodeID))
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				b.logger.Warn("backbone subscription closed", logger.NodeID(b.nodeID))
				return nil
			}
			b.deliver(msg)
		}
	}
}

// Stop cancels a running Start and closes the transport.
func (b *Backbone) Stop() error {
	b.mu.Lock()
	cancel := b.cancel
	b.cancel = nil
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return b.transport.Close()
}

// Run provides errgroup compatibility: it starts the backbone and stops it
// when ctx is cancelled.
func (b *Backbone) Run(ctx context.Context) func() error {
	return func() error {
		errCh := make(chan error, 1)
		go func() {
			errCh <- b.Start(ctx)
		}()

		select {
		case <-ctx.Done():
			_ = b.Stop()
			<-errCh
			return nil
		case err := <-errCh:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
	}
}

// Purge removes every membership this node holds cluster-wide, if the
// Membership supports per-node bookkeeping (see Purger). It returns the
// groups that became empty. Local routing is left untouched.
func (b *Backbone) Purge(ctx context.Context) ([]string, error) {
	p, ok := b.membership.(Purger)
	if !ok {
		return nil, nil
	}
	groups, err := p.Purge(ctx)
	if err != nil {
		return nil, errors.Join(ErrUnavailable, err)
	}
	if len(groups) > 0 {
		b.logger.InfoContext(ctx, "purged node memberships",
			logger.NodeID(b.nodeID),
			logger.Count("emptied_groups", int64(len(groups))))
	}
	return groups, nil
}

// Stats returns current counters.
func (b *Backbone) Stats() Stats {
	b.mu.RLock()
	local := len(b.conns)
	running := b.cancel != nil
	b.mu.RUnlock()

	return Stats{
		NodeID:           b.nodeID,
		Published:        b.published.Load(),
		PublishFailed:    b.publishFailed.Load(),
		Delivered:        b.delivered.Load(),
		Dropped:          b.dropped.Load(),
		LocalConnections: local,
		IsRunning:        running,
	}
}

// Healthcheck reports whether the subscription loop is running.
func (b *Backbone) Healthcheck(ctx context.Context) error {
	if !b.Stats().IsRunning {
		return errors.Join(ErrHealthcheckFailed, ErrNotRunning)
	}
	return nil
}

func (b *Backbone) deliver(msg Message) {
	targets := b.targets(msg)
	for _, r := range targets {
		start := time.Now()
		if err := r.Deliver(msg.Event, msg.Payload); err != nil {
			b.dropped.Add(1)
			b.logger.Warn("backbone delivery dropped",
				logger.ConnID(r.ID()),
				logger.GroupName(msg.Group),
				logger.Event(msg.Event),
				logger.Elapsed(start),
				logger.Error(err))
			continue
		}
		b.delivered.Add(1)
	}
}

func (b *Backbone) targets(msg Message) []Receiver {
	b.mu.RLock()
	defer b.mu.RUnlock()

	skip := func(id string) bool {
		for _, e := range msg.Except {
			if e == id {
				return true
			}
		}
		return false
	}

	var out []Receiver
	if msg.Group == BroadcastGroup {
		out = make([]Receiver, 0, len(b.conns))
		for id, r := range b.conns {
			if !skip(id) {
				out = append(out, r)
			}
		}
		return out
	}

	members := b.groups[msg.Group]
	out = make([]Receiver, 0, len(members))
	for id := range members {
		if skip(id) {
			continue
		}
		if r, ok := b.conns[id]; ok {
			out = append(out, r)
		}
	}
	return out
}
