package gateway

import "time"

// Config holds gateway settings loaded from the environment.
type Config struct {
	NodeID            string        `env:"GATEWAY_NODE_ID"`
	PresencePolicy    string        `env:"GATEWAY_PRESENCE_POLICY" envDefault:"cluster"`
	DegradedSessions  bool          `env:"GATEWAY_DEGRADED_SESSIONS" envDefault:"false"`
	DisconnectTimeout time.Duration `env:"GATEWAY_DISCONNECT_TIMEOUT" envDefault:"5s"`
	MetricsNamespace  string        `env:"GATEWAY_METRICS_NAMESPACE" envDefault:"wsgate"`
}

// PresencePolicy selects how connect and disconnect transitions are detected.
type PresencePolicy string

const (
	// PresenceCluster announces on the first and last connection of a user
	// across all instances. Default.
	PresenceCluster PresencePolicy = "cluster"

	// PresenceLocal announces on the first and last connection of a user on
	// this instance only. A user connected to several instances is announced
	// more than once.
	PresenceLocal PresencePolicy = "local"
)

// ParsePresencePolicy converts a configuration value to a PresencePolicy.
// Empty input yields PresenceCluster.
func ParsePresencePolicy(s string) (PresencePolicy, error) {
	switch PresencePolicy(s) {
	case "", PresenceCluster:
		return PresenceCluster, nil
	case PresenceLocal:
		return PresenceLocal, nil
	default:
		return "", ErrInvalidPresencePolicy
	}
}
