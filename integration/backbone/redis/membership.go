package redis

import (
	"context"
	"slices"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/wsgate/core/backbone"
)

const (
	// DefaultGroupPrefix namespaces group member sets.
	DefaultGroupPrefix = "wsgate:group:"
	// DefaultNodePrefix namespaces the per-node bookkeeping sets.
	DefaultNodePrefix = "wsgate:node:"
)

// Membership stores each group as a Redis set of connection IDs. Every join
// also records the (group, member) pair in a set owned by the joining node, so
// a node restarting after a crash can Purge what it left behind. Pairs are
// stored as "<len(group)>:<group><member>", which holds for any byte content.
type Membership struct {
	client      redis.UniversalClient
	nodeID      string
	groupPrefix string
	nodeKey     string
}

var (
	_ backbone.Membership = (*Membership)(nil)
	_ backbone.Purger     = (*Membership)(nil)
)

// MembershipOption configures a Membership.
type MembershipOption func(*membershipOptions)

type membershipOptions struct {
	groupPrefix string
	nodePrefix  string
}

// WithGroupPrefix sets the key namespace for group sets.
func WithGroupPrefix(prefix string) MembershipOption {
	return func(o *membershipOptions) {
		if prefix != "" {
			o.groupPrefix = prefix
		}
	}
}

// WithNodePrefix sets the key namespace for per-node sets.
func WithNodePrefix(prefix string) MembershipOption {
	return func(o *membershipOptions) {
		if prefix != "" {
			o.nodePrefix = prefix
		}
	}
}

// NewMembership creates a membership relation for the node nodeID. The node
// ID must be stable across restarts for Purge to find stale entries.
func NewMembership(client redis.UniversalClient, nodeID string, opts ...MembershipOption) *Membership {
	o := membershipOptions{groupPrefix: DefaultGroupPrefix, nodePrefix: DefaultNodePrefix}
	for _, opt := range opts {
		opt(&o)
	}
	return &Membership{
		client:      client,
		nodeID:      nodeID,
		groupPrefix: o.groupPrefix,
		nodeKey:     o.nodePrefix + nodeID,
	}
}

// Join adds member to group and returns the set size, read in the same
// MULTI/EXEC as the add.
func (m *Membership) Join(ctx context.Context, group, member string) (int64, error) {
	key := m.groupPrefix + group
	var card *redis.IntCmd
	_, err := m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, key, member)
		card = pipe.SCard(ctx, key)
		pipe.SAdd(ctx, m.nodeKey, entry(group, member))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return card.Val(), nil
}

// Leave removes member from group and returns the remaining size, read in
// the same MULTI/EXEC as the removal.
func (m *Membership) Leave(ctx context.Context, group, member string) (int64, error) {
	key := m.groupPrefix + group
	var card *redis.IntCmd
	_, err := m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, key, member)
		card = pipe.SCard(ctx, key)
		pipe.SRem(ctx, m.nodeKey, entry(group, member))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return card.Val(), nil
}

func (m *Membership) Count(ctx context.Context, group string) (int64, error) {
	return m.client.SCard(ctx, m.groupPrefix+group).Result()
}

// Purge removes every member this node recorded and returns the groups that
// ended up empty.
func (m *Membership) Purge(ctx context.Context) ([]string, error) {
	entries, err := m.client.SMembers(ctx, m.nodeKey).Result()
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	type leave struct {
		group string
		card  *redis.IntCmd
	}
	leaves := make([]leave, 0, len(entries))

	_, err = m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, e := range entries {
			group, member, ok := parseEntry(e)
			if !ok {
				continue
			}
			key := m.groupPrefix + group
			pipe.SRem(ctx, key, member)
			leaves = append(leaves, leave{group: group, card: pipe.SCard(ctx, key)})
		}
		pipe.Del(ctx, m.nodeKey)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var emptied []string
	for _, l := range leaves {
		if l.card.Val() == 0 && !slices.Contains(emptied, l.group) {
			emptied = append(emptied, l.group)
		}
	}
	return emptied, nil
}

func entry(group, member string) string {
	return strconv.Itoa(len(group)) + ":" + group + member
}

func parseEntry(e string) (group, member string, ok bool) {
	size, rest, ok := strings.Cut(e, ":")
	if !ok {
		return "", "", false
	}
	n, err := strconv.Atoi(size)
	if err != nil || n < 0 || n > len(rest) {
		return "", "", false
	}
	return rest[:n], rest[n:], true
}
