package bridge

import (
	"context"
	"testing"
	"time"

	redis2 "NProject/service/storage/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestBridge(t *testing.T) *Bridge {
	t.Helper()
	mr := miniredis.RunT(t)
	redis2.InitWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	return NewBridge("notehub:events")
}

func TestBridgeDeliversTypedEnvelope(t *testing.T) {
	b := newTestBridge(t)
	ctx := context.Background()

	got := make(chan *Envelope, 1)
	b.On(KindNote, EventNoteUpdate, func(_ context.Context, env *Envelope) {
		got <- env
	})

	require.NoError(t, b.Start(ctx))
	defer b.Stop()

	env, err := NewEnvelope(KindNote, EventNoteUpdate, "note:n1", NoteUpdate{NoteID: "n1"})
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, env))

	select {
	case env := <-got:
		require.Equal(t, "note:n1", env.Room)
		data, err := DecodeData[NoteUpdate](env)
		require.NoError(t, err)
		require.Equal(t, "n1", data.NoteID)
	case <-time.After(2 * time.Second):
		t.Fatal("envelope not delivered")
	}
}

func TestBridgeResubscribesAfterStoreRestart(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	redis2.InitWithClient(redis.NewClient(&redis.Options{Addr: addr}))

	b := NewBridge("notehub:events")
	ctx := context.Background()

	got := make(chan *Envelope, 16)
	b.On(KindNote, EventNoteUpdate, func(_ context.Context, env *Envelope) {
		got <- env
	})
	require.NoError(t, b.Start(ctx))
	defer b.Stop()

	env, err := NewEnvelope(KindNote, EventNoteUpdate, "note:n1", NoteUpdate{NoteID: "n1"})
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, env))
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("envelope not delivered before restart")
	}

	// Kill the store and bring it back on the same address. The receive
	// loop must re-subscribe on its own and deliveries must resume.
	mr.Close()
	mr2 := miniredis.NewMiniRedis()
	require.NoError(t, mr2.StartAddr(addr))
	defer mr2.Close()

	require.Eventually(t, func() bool {
		env, err := NewEnvelope(KindNote, EventNoteUpdate, "note:n2", NoteUpdate{NoteID: "n2"})
		require.NoError(t, err)
		if err := b.Publish(ctx, env); err != nil {
			return false
		}
		select {
		case env := <-got:
			return env.Room == "note:n2"
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 10*time.Second, 150*time.Millisecond, "delivery did not resume after store restart")
}

func TestBridgeDropsMalformedAndUnknown(t *testing.T) {
	b := newTestBridge(t)
	ctx := context.Background()

	got := make(chan *Envelope, 4)
	b.On(KindNote, EventNoteUpdate, func(_ context.Context, env *Envelope) {
		got <- env
	})
	require.NoError(t, b.Start(ctx))
	defer b.Stop()

	rdb := redis2.GetRedis()
	// not JSON
	require.NoError(t, rdb.Publish(ctx, b.Channel(), "{{{not json").Err())
	// unknown discriminator tag
	require.NoError(t, rdb.Publish(ctx, b.Channel(), `{"type":"WIDGET","event":"update","room":"r"}`).Err())
	// missing room
	require.NoError(t, rdb.Publish(ctx, b.Channel(), `{"type":"NOTE","event":"update"}`).Err())
	// a valid one to prove the loop survived the garbage
	env, err := NewEnvelope(KindNote, EventNoteUpdate, "note:n1", NoteUpdate{NoteID: "n1"})
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, env))

	select {
	case env := <-got:
		require.Equal(t, "note:n1", env.Room)
	case <-time.After(2 * time.Second):
		t.Fatal("bridge stopped receiving after malformed input")
	}
	require.Len(t, got, 0, "garbage must not reach handlers")
}

func TestBridgeMultipleListeners(t *testing.T) {
	b := newTestBridge(t)
	ctx := context.Background()

	first := make(chan struct{}, 1)
	second := make(chan struct{}, 1)
	b.On(KindUser, EventUserOnline, func(context.Context, *Envelope) { first <- struct{}{} })
	b.On(KindUser, EventUserOnline, func(context.Context, *Envelope) { second <- struct{}{} })
	require.NoError(t, b.Start(ctx))
	defer b.Stop()

	env, err := NewEnvelope(KindUser, EventUserOnline, "user:u1", UserPresence{UserID: "u1", Status: "online"})
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, env))

	for _, ch := range []chan struct{}{first, second} {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatal("listener missed envelope")
		}
	}
}

func TestBridgeLifecycle(t *testing.T) {
	b := newTestBridge(t)
	ctx := context.Background()

	// stop before start is a no-op
	b.Stop()

	require.NoError(t, b.Start(ctx))
	require.Error(t, b.Start(ctx), "double start must fail")

	b.Stop()
	b.Stop() // idempotent

	// restartable after stop
	require.NoError(t, b.Start(ctx))
	b.Stop()
}
