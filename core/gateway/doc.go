// Package gateway implements the connection lifecycle of the presence and
// private-messaging gateway: the handshake state machine, cluster-wide
// presence transitions and private message relay.
//
// A connection goes through Handshake, which resolves Credentials to an
// Identity (resume by session ID, or a new session keyed by user ID), then
// Bind, which joins the user's backbone group, marks the session connected,
// sends the "session" and "users" events to the connection and announces
// "user connected" to everyone else when this is the user's first connection
// in the cluster. Inbound frames go through HandleMessage; Disconnect undoes
// Bind and announces "user disconnected" after the user's last connection.
//
//	gw := gateway.New(store, bb,
//		gateway.WithLogger(log),
//		gateway.WithRegisterer(registry),
//	)
//
//	conn, err := gw.Connect(ctx, gateway.Credentials{UserID: "alice"}, sink)
//	if err != nil {
//		// gateway.ErrHandshakeRejected or session.ErrStoreUnavailable
//	}
//	defer gw.Disconnect(ctx, conn)
//
//	err = gw.HandleMessage(ctx, conn, gateway.EventPrivateMessage, raw)
//
// Presence transitions are decided by the atomic Join and Leave of the
// backbone membership, so two instances racing on the same user announce it
// once. PresenceLocal trades that for per-instance counting.
package gateway
