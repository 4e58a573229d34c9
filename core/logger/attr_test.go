package logger_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/wsgate/core/logger"
)

func TestGroup(t *testing.T) {
	t.Parallel()
	attr := logger.Group("conn", slog.String("id", "1"), slog.Int("n", 2))
	require.Equal(t, "conn", attr.Key)
	require.Equal(t, slog.KindGroup, attr.Value.Kind())
	g := attr.Value.Group()
	require.Len(t, g, 2)
	assert.Equal(t, "id", g[0].Key)
	assert.Equal(t, "n", g[1].Key)
}

func TestError(t *testing.T) {
	t.Parallel()
	err := errors.New("boom")
	attr := logger.Error(err)
	require.Equal(t, "error", attr.Key)
	assert.Equal(t, err, attr.Value.Any())

	empty := logger.Error(nil)
	assert.True(t, empty.Equal(slog.Attr{}))
}

func TestDuration(t *testing.T) {
	t.Parallel()
	d := 5 * time.Second
	attr := logger.Duration(d)
	require.Equal(t, "duration", attr.Key)
	assert.Equal(t, d, attr.Value.Duration())
}

func TestIdentifiers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		attr slog.Attr
		key  string
	}{
		{"user", logger.UserID("alice"), "user_id"},
		{"session", logger.SessionID("s1"), "session_id"},
		{"conn", logger.ConnID("c1"), "conn_id"},
		{"group", logger.GroupName("alice"), "group"},
		{"node", logger.NodeID("n1"), "node_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.key, tt.attr.Key)
		})
	}

	assert.True(t, logger.UserID("").Equal(slog.Attr{}))
	assert.True(t, logger.ConnID("").Equal(slog.Attr{}))
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("json output with static attrs", func(t *testing.T) {
		var buf bytes.Buffer
		log := logger.New(
			logger.WithProduction("wsgate"),
			logger.WithOutput(&buf),
		)
		log.Info("hello", logger.UserID("alice"))

		out := buf.String()
		assert.Contains(t, out, `"service":"wsgate"`)
		assert.Contains(t, out, `"user_id":"alice"`)
	})

	t.Run("level filters records", func(t *testing.T) {
		var buf bytes.Buffer
		log := logger.New(
			logger.WithLevel(slog.LevelWarn),
			logger.WithOutput(&buf),
		)
		log.Info("dropped")
		assert.Empty(t, buf.String())
	})

	t.Run("context values are injected", func(t *testing.T) {
		type key struct{}
		var buf bytes.Buffer
		log := logger.New(
			logger.WithJSONFormatter(),
			logger.WithOutput(&buf),
			logger.WithContextValue("request_id", key{}),
		)
		ctx := context.WithValue(context.Background(), key{}, "req-1")
		log.InfoContext(ctx, "hello")
		assert.Contains(t, buf.String(), `"request_id":"req-1"`)
	})
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	assert.Equal(t, slog.LevelDebug, logger.ParseLevel("debug"))
	assert.Equal(t, slog.LevelError, logger.ParseLevel("ERROR"))
	assert.Equal(t, slog.LevelInfo, logger.ParseLevel("nonsense"))
}
