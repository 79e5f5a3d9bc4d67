package session

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopmesh/shopmesh/core"
)

// Both stores must behave identically; every test runs against each.
func stores(t *testing.T) map[string]core.SessionStore {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	return map[string]core.SessionStore{
		"in_memory": NewInMemoryStore(),
		"redis":     NewRedisStore(client),
	}
}

func TestStore_GetCreatesLazily(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			sess, err := store.Get("s1")
			require.NoError(t, err)
			assert.Equal(t, "s1", sess.ID)
			assert.Empty(t, sess.GetEvents())
		})
	}
}

func TestStore_AppendEventOrdering(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.AppendEvent("s1", core.NewUserMessageEvent("run-1", "first")))
			require.NoError(t, store.AppendEvent("s1", core.NewMessageEvent("order_agent", "second")))

			sess, err := store.Get("s1")
			require.NoError(t, err)

			events := sess.GetEvents()
			require.Len(t, events, 2)
			assert.Equal(t, "first", events[0].Text())
			assert.Equal(t, 0, events[0].Sequence)
			assert.Equal(t, "second", events[1].Text())
			assert.Equal(t, 1, events[1].Sequence)
		})
	}
}

func TestStore_ApplyDelta(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.ApplyDelta("s1", map[string]any{"customer_id": "42"}))
			require.NoError(t, store.ApplyDelta("s1", map[string]any{"store_view": "default"}))

			sess, err := store.Get("s1")
			require.NoError(t, err)

			v, ok := sess.GetState("customer_id")
			require.True(t, ok)
			assert.Equal(t, "42", v)
			_, ok = sess.GetState("store_view")
			assert.True(t, ok)
		})
	}
}

func TestStore_SaveCheckpointAtomic(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			pending := core.PendingAction{
				ActionType:  "cancel_order",
				Arguments:   map[string]any{"order_id": "100000023"},
				OriginAgent: "order_agent",
				Prompt:      "Cancel order 100000023?",
			}
			cp := core.NewCheckpoint("run-1", "order_agent", pending, nil)
			ev := core.NewInterruptionEvent("run-1", pending)

			require.NoError(t, store.SaveCheckpoint("s1", cp, ev))

			sess, err := store.Get("s1")
			require.NoError(t, err)
			live := sess.LiveCheckpoint()
			require.NotNil(t, live)
			assert.Equal(t, "order_agent", live.ResumeAgent)
			assert.Len(t, sess.GetEvents(), 1)

			// Second checkpoint while one is live: rejected, and the event
			// must not be appended either.
			cp2 := core.NewCheckpoint("run-2", "order_agent", pending, nil)
			err = store.SaveCheckpoint("s1", cp2, core.NewInterruptionEvent("run-2", pending))
			require.ErrorIs(t, err, core.ErrCheckpointExists)

			sess, err = store.Get("s1")
			require.NoError(t, err)
			assert.Len(t, sess.GetEvents(), 1, "conflicting save must write nothing")
			assert.Equal(t, cp.ID, sess.LiveCheckpoint().ID)

			// Clearing frees the slot for the next suspension.
			require.NoError(t, store.ClearCheckpoint("s1"))
			sess, err = store.Get("s1")
			require.NoError(t, err)
			assert.Nil(t, sess.LiveCheckpoint())
			require.NoError(t, store.SaveCheckpoint("s1", cp2, core.NewInterruptionEvent("run-2", pending)))
		})
	}
}

func TestStore_Delete(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.AppendEvent("s1", core.NewUserMessageEvent("run-1", "hello")))
			require.NoError(t, store.Delete("s1"))

			sess, err := store.Get("s1")
			require.NoError(t, err)
			assert.Empty(t, sess.GetEvents(), "deleted session starts fresh")
		})
	}
}

func TestRedisStore_EventsSurviveRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client)

	callEv := core.NewFunctionCallEvent("order_agent", "view_order", `{"order_id": "7"}`)
	respEv := core.NewFunctionResponseEvent("order_agent", "fc-1", "view_order", map[string]any{"status": "shipped"}, nil)
	require.NoError(t, store.AppendEvent("s1", callEv))
	require.NoError(t, store.AppendEvent("s1", respEv))

	// A second store over the same backend sees fully typed events.
	reread := NewRedisStore(client)
	sess, err := reread.Get("s1")
	require.NoError(t, err)

	events := sess.GetEvents()
	require.Len(t, events, 2)

	calls := events[0].GetFunctionCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "view_order", calls[0].Name)

	resps := events[1].GetFunctionResponses()
	require.Len(t, resps, 1)
	assert.Equal(t, "fc-1", resps[0].ID)
}
