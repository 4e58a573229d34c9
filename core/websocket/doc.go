// Package websocket serves gateway connections over gorilla/websocket.
//
// The Handler resolves credentials from the sessionID/userID query parameters
// (or the X-Session-ID/X-User-ID headers) and runs the gateway handshake
// before upgrading, so rejected or unavailable handshakes are ordinary HTTP
// errors: 400 for a rejected handshake, 503 with Retry-After when the session
// store is unreachable.
//
// After the upgrade every connection gets a read pump and a write pump.
// Frames are JSON text messages:
//
//	{"event": "private message", "data": {"receiver": "bob", "payload": {...}}}
//
// Outbound frames are queued per connection; a connection whose queue fills
// up is closed with ErrSlowConsumer. Ping/pong keepalive and a read size
// limit apply to every connection. WithMessageRate additionally caps inbound
// frames per connection; frames over the cap get an error reply.
//
//	h := websocket.NewHandler(gw,
//		websocket.WithAllowedOrigins("https://app.example.com"),
//		websocket.WithLogger(log),
//	)
//	mux.Handle("/ws", h)
//	...
//	_ = h.Shutdown(ctx) // closes connections through the normal disconnect path
package websocket
