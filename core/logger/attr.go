package logger

import (
	"log/slog"
	"time"
)

// Attribute helpers return an empty Attr for zero inputs so calls like
// log.Info("msg", logger.Error(err)) need no nil checks.

// Group creates a group of attributes under a single key.
func Group(name string, attrs ...slog.Attr) slog.Attr {
	return slog.Attr{Key: name, Value: slog.GroupValue(attrs...)}
}

// Error creates an attribute for a single error under the key "error".
// Returns empty Attr for nil errors.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// Duration creates an attribute for a duration.
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// Elapsed calculates and logs the duration since the start time.
func Elapsed(start time.Time) slog.Attr {
	return slog.Duration("elapsed", time.Since(start))
}

// Component creates an attribute for component names.
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Event creates an attribute for event names.
func Event(name string) slog.Attr {
	return slog.String("event", name)
}

// Count creates a generic counter attribute.
func Count(key string, n int64) slog.Attr {
	return slog.Int64(key, n)
}

// Version creates an attribute for version information.
func Version(v string) slog.Attr {
	return slog.String("version", v)
}

// ============================================================================
// Gateway identifiers
// ============================================================================

// UserID creates an attribute for the owning user of a connection.
func UserID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("user_id", id)
}

// SessionID creates an attribute for a logical session identifier.
func SessionID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("session_id", id)
}

// ConnID creates an attribute for a physical connection identifier.
func ConnID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("conn_id", id)
}

// GroupName creates an attribute for a backbone fan-out group.
func GroupName(name string) slog.Attr {
	if name == "" {
		return slog.Attr{}
	}
	return slog.String("group", name)
}

// NodeID creates an attribute for the gateway instance identifier.
func NodeID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("node_id", id)
}

// RemoteAddr creates an attribute for a peer network address.
func RemoteAddr(addr string) slog.Attr {
	return slog.String("remote_addr", addr)
}
