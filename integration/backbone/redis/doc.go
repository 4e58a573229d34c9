// Package redis provides Redis implementations of the backbone Transport
// and Membership.
//
// Transport publishes JSON-encoded backbone.Message values on one pub/sub
// channel that every instance subscribes to.
//
// Membership keeps a set per group (SADD/SREM followed by SCARD inside one
// MULTI/EXEC, so the returned size is exact even when instances race) plus a
// set per node listing what that node added. Purge, called at startup,
// clears entries a crashed predecessor with the same node ID left behind.
//
//	tr := redis.NewTransport(client, redis.WithLogger(log))
//	members := redis.NewMembership(client, nodeID)
//	bb := backbone.New(tr, members, backbone.WithNodeID(nodeID))
package redis
