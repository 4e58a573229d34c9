// Package backbone fans events out to connections spread across gateway
// instances.
//
// A Backbone combines three things:
//
//   - a Transport that moves Messages between instances (in-memory Bus,
//     Redis pub/sub, NATS);
//   - a Membership that holds the cluster-wide group -> member relation and
//     reports set sizes atomically with each Join and Leave;
//   - a local routing table of attached Receivers, used only to hand
//     incoming messages to connections living on this instance.
//
// Basic usage:
//
//	bus := backbone.NewBus(256)
//	bb := backbone.New(bus.Transport(), backbone.NewMemoryMembership(),
//		backbone.WithNodeID("node-1"),
//		backbone.WithLogger(log),
//	)
//
//	g, ctx := errgroup.WithContext(ctx)
//	g.Go(bb.Run(ctx))
//
//	n, err := bb.Join(ctx, "user:alice", conn) // n == 1: first member cluster-wide
//	err = bb.Publish(ctx, "user:alice", "private message", msg, conn.ID())
//
// When the transport fails, Publish still delivers to local receivers and
// returns an error matching ErrUnavailable. Membership failures fall back to
// local counts, also with ErrUnavailable.
package backbone
