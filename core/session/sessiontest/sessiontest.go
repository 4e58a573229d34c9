// Package sessiontest holds the behavioural contract every session.Store
// implementation is expected to satisfy.
package sessiontest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/wsgate/core/session"
)

// Run exercises store against the session.Store contract. newStore must
// return an empty store on every call.
func Run(t *testing.T, newStore func(t *testing.T) session.Store) {
	t.Helper()

	t.Run("find missing", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Find(context.Background(), "missing")
		assert.ErrorIs(t, err, session.ErrNotFound)
	})

	t.Run("save then find", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		want := session.Session{ID: "s-1", UserID: "alice", Connected: true}

		require.NoError(t, store.Save(ctx, want))
		got, err := store.Find(ctx, "s-1")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("save overwrites", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		require.NoError(t, store.Save(ctx, session.Session{ID: "s-1", UserID: "alice", Connected: true}))
		require.NoError(t, store.Save(ctx, session.Session{ID: "s-1", UserID: "alice", Connected: false}))

		got, err := store.Find(ctx, "s-1")
		require.NoError(t, err)
		assert.False(t, got.Connected)
	})

	t.Run("repeated save does not duplicate", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		sess := session.Session{ID: "bob", UserID: "bob", Connected: true}

		for range 3 {
			require.NoError(t, store.Save(ctx, sess))
		}

		all, err := store.FindAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, []session.Session{sess}, all)
	})

	t.Run("find all", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		all, err := store.FindAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)

		want := []session.Session{
			{ID: "a", UserID: "alice", Connected: true},
			{ID: "b", UserID: "bob", Connected: false},
			{ID: "c", UserID: "carol", Connected: true},
		}
		for _, s := range want {
			require.NoError(t, store.Save(ctx, s))
		}

		all, err = store.FindAll(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, want, all)
	})

	t.Run("invalid session", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		assert.ErrorIs(t, store.Save(ctx, session.Session{UserID: "alice"}), session.ErrInvalidSession)
		assert.ErrorIs(t, store.Save(ctx, session.Session{ID: "s-1"}), session.ErrInvalidSession)
	})

	t.Run("concurrent saves", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		for i := range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				id := fmt.Sprintf("s-%d", i%5)
				assert.NoError(t, store.Save(ctx, session.Session{ID: id, UserID: id, Connected: i%2 == 0}))
			}()
		}
		wg.Wait()

		all, err := store.FindAll(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 5)
	})
}
