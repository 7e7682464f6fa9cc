package rooms

import (
	"context"

	"NProject/logger"
	"NProject/service/bridge"
	"NProject/service/storage"
)

// Emitter composes presence reads with envelope publication on the shared
// channel. Deciding whether a broadcast is worth sending happens here, not
// at the socket layer.
type Emitter struct {
	b       *bridge.Bridge
	viewers *storage.PresenceStore
	typing  *storage.PresenceStore
}

func NewEmitter(b *bridge.Bridge, viewers, typing *storage.PresenceStore) *Emitter {
	return &Emitter{b: b, viewers: viewers, typing: typing}
}

// EmitNoteUpdate publishes a note-update envelope, once, regardless of how
// many viewers there are; recipients self-select by room. Publication is
// skipped entirely when nobody is viewing the note. Returns whether a
// publication happened.
func (e *Emitter) EmitNoteUpdate(ctx context.Context, noteID string, patch map[string]any) (bool, error) {
	viewers, err := e.viewers.ListMembers(ctx, noteID)
	if err != nil {
		return false, err
	}
	if len(viewers) == 0 {
		logger.Debug("[Emitter] no viewers, skip note update")
		return false, nil
	}
	env, err := bridge.NewEnvelope(bridge.KindNote, bridge.EventNoteUpdate, NoteRoom(noteID),
		bridge.NoteUpdate{NoteID: noteID, Patch: patch})
	if err != nil {
		return false, err
	}
	return true, e.b.Publish(ctx, env)
}

// EmitTypingUpdate publishes the current full typing list for a note. Called
// whenever a user is added to or removed from the list.
func (e *Emitter) EmitTypingUpdate(ctx context.Context, noteID string) error {
	users, err := e.typing.IndexMembers(ctx, noteID)
	if err != nil {
		return err
	}
	if users == nil {
		users = []string{}
	}
	env, err := bridge.NewEnvelope(bridge.KindNote, bridge.EventTypingUpdate, NoteRoom(noteID),
		bridge.TypingUpdate{NoteID: noteID, Users: users})
	if err != nil {
		return err
	}
	return e.b.Publish(ctx, env)
}

// EmitUserPresence publishes online/offline with the bare userID. No
// membership read: any watcher room is valid to publish into even without
// confirmed watchers.
func (e *Emitter) EmitUserPresence(ctx context.Context, userID string, online bool) error {
	event := bridge.EventUserOffline
	status := "offline"
	if online {
		event = bridge.EventUserOnline
		status = "online"
	}
	env, err := bridge.NewEnvelope(bridge.KindUser, event, UserRoom(userID),
		bridge.UserPresence{UserID: userID, Status: status})
	if err != nil {
		return err
	}
	return e.b.Publish(ctx, env)
}
