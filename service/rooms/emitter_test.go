package rooms

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"NProject/service/bridge"
	"NProject/service/storage"
	redis2 "NProject/service/storage/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func setupEmitter(t *testing.T) (*Emitter, *storage.PresenceStore, *storage.PresenceStore, <-chan *redis.Message) {
	t.Helper()
	mr := miniredis.RunT(t)
	redis2.InitWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	b := bridge.NewBridge("notehub:events")
	viewers := storage.NewViewerStore(0)
	typing := storage.NewTypingStore(0)

	// raw subscription to count publications on the wire
	ps := redis2.GetRedis().Subscribe(context.Background(), "notehub:events")
	_, err := ps.Receive(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = ps.Close() })

	return NewEmitter(b, viewers, typing), viewers, typing, ps.Channel()
}

func drain(ch <-chan *redis.Message, wait time.Duration) []*redis.Message {
	var out []*redis.Message
	for {
		select {
		case m := <-ch:
			out = append(out, m)
		case <-time.After(wait):
			return out
		}
	}
}

func TestEmitNoteUpdatePublishesOnce(t *testing.T) {
	em, viewers, _, msgs := setupEmitter(t)
	ctx := context.Background()

	// two distinct connections for two distinct users join note n1
	_, err := viewers.AddMember(ctx, "n1", "u1", "c1")
	require.NoError(t, err)
	_, err = viewers.AddMember(ctx, "n1", "u2", "c2")
	require.NoError(t, err)

	published, err := em.EmitNoteUpdate(ctx, "n1", map[string]any{"rev": 7})
	require.NoError(t, err)
	require.True(t, published)

	got := drain(msgs, 200*time.Millisecond)
	require.Len(t, got, 1, "exactly one publication regardless of viewer count")

	env, err := bridge.DecodeEnvelope([]byte(got[0].Payload))
	require.NoError(t, err)
	require.Equal(t, NoteRoom("n1"), env.Room)
	require.Equal(t, bridge.KindNote, env.Type)
}

func TestEmitNoteUpdateSkipsEmptyNote(t *testing.T) {
	em, _, _, msgs := setupEmitter(t)

	published, err := em.EmitNoteUpdate(context.Background(), "n2", nil)
	require.NoError(t, err)
	require.False(t, published)
	require.Empty(t, drain(msgs, 200*time.Millisecond), "zero viewers, zero publications")
}

func TestEmitTypingUpdateCarriesFullList(t *testing.T) {
	em, _, typing, msgs := setupEmitter(t)
	ctx := context.Background()

	_, err := typing.AddMember(ctx, "n1", "u1", "c1")
	require.NoError(t, err)
	_, err = typing.AddMember(ctx, "n1", "u2", "c2")
	require.NoError(t, err)

	require.NoError(t, em.EmitTypingUpdate(ctx, "n1"))

	got := drain(msgs, 200*time.Millisecond)
	require.Len(t, got, 1)
	env, err := bridge.DecodeEnvelope([]byte(got[0].Payload))
	require.NoError(t, err)
	data, err := bridge.DecodeData[bridge.TypingUpdate](env)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"u1", "u2"}, data.Users)
}

func TestEmitTypingUpdateEmptyListIsExplicit(t *testing.T) {
	em, _, _, msgs := setupEmitter(t)

	require.NoError(t, em.EmitTypingUpdate(context.Background(), "n1"))
	got := drain(msgs, 200*time.Millisecond)
	require.Len(t, got, 1)

	var env bridge.Envelope
	require.NoError(t, json.Unmarshal([]byte(got[0].Payload), &env))
	data, err := bridge.DecodeData[bridge.TypingUpdate](&env)
	require.NoError(t, err)
	require.NotNil(t, data.Users)
	require.Empty(t, data.Users)
}

func TestEmitUserPresence(t *testing.T) {
	em, _, _, msgs := setupEmitter(t)
	ctx := context.Background()

	require.NoError(t, em.EmitUserPresence(ctx, "u1", true))
	require.NoError(t, em.EmitUserPresence(ctx, "u1", false))

	got := drain(msgs, 200*time.Millisecond)
	require.Len(t, got, 2)

	env, err := bridge.DecodeEnvelope([]byte(got[0].Payload))
	require.NoError(t, err)
	require.Equal(t, bridge.EventUserOnline, env.Event)
	require.Equal(t, UserRoom("u1"), env.Room)

	env, err = bridge.DecodeEnvelope([]byte(got[1].Payload))
	require.NoError(t, err)
	require.Equal(t, bridge.EventUserOffline, env.Event)
	data, err := bridge.DecodeData[bridge.UserPresence](env)
	require.NoError(t, err)
	require.Equal(t, "u1", data.UserID)
	require.Equal(t, "offline", data.Status)
}
