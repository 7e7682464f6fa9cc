package gateway

import (
	"context"
	"time"

	"NProject/logger"
	"NProject/service/rooms"
	"NProject/service/storage"
	errs "NProject/tools/errs"
)

// onlineEntity is the fixed bucket the online store keys user connection
// sets under: po:online:u:<user>.
const onlineEntity = "online"

type BindingsConfig struct {
	TypingIdle time.Duration // typing-stop fires after this much idle
}

func (c *BindingsConfig) norm() {
	if c.TypingIdle <= 0 {
		c.TypingIdle = 2 * time.Second
	}
}

// Bindings translates client intents into presence mutations plus local
// room membership. Every join is mirrored in the connection's tracking set
// so disconnect can undo it; a connection that drops without explicit
// leaves must not leak membership.
type Bindings struct {
	conf    BindingsConfig
	mgr     *ConnManager
	viewers *storage.PresenceStore
	typing  *storage.PresenceStore
	online  *storage.PresenceStore
	emitter *rooms.Emitter
}

func NewBindings(conf BindingsConfig, mgr *ConnManager, viewers, typing, online *storage.PresenceStore, em *rooms.Emitter) *Bindings {
	conf.norm()
	return &Bindings{
		conf:    conf,
		mgr:     mgr,
		viewers: viewers,
		typing:  typing,
		online:  online,
		emitter: em,
	}
}

// ===== connect / disconnect =====

// HandleConnect marks the user online and announces the transition if this
// was their first connection anywhere.
func (b *Bindings) HandleConnect(ctx context.Context, c *Client) error {
	first, err := b.online.AddMember(ctx, onlineEntity, c.UserID, c.ConnID)
	if err != nil {
		return errs.Wrap(err, "online add")
	}
	if first {
		if err := b.emitter.EmitUserPresence(ctx, c.UserID, true); err != nil {
			logger.Warnf("[Bindings] emit online user=%s err=%v", c.UserID, err)
		}
	}
	return nil
}

// HandleDisconnect runs the full leave sequence for everything the
// connection touched, then clears local state. Cleanup is best-effort: a
// failed store call leaves at most a stale viewer that the membership TTL
// or the next successful mutation corrects.
func (b *Bindings) HandleDisconnect(ctx context.Context, c *Client) {
	for _, noteID := range c.TypingNotes() {
		c.DisarmTyping(noteID)
		if err := b.typingRemove(ctx, c, noteID); err != nil {
			logger.Warnf("[Bindings] disconnect typing cleanup note=%s err=%v", noteID, err)
		}
	}
	for _, noteID := range c.Notes() {
		if err := b.leaveNote(ctx, c, noteID); err != nil {
			logger.Warnf("[Bindings] disconnect note cleanup note=%s err=%v", noteID, err)
		}
	}
	for _, userID := range c.Watches() {
		b.mgr.LeaveRoom(rooms.UserRoom(userID), c)
	}

	last, err := b.online.RemoveMember(ctx, onlineEntity, c.UserID, c.ConnID)
	if err != nil {
		logger.Warnf("[Bindings] disconnect online cleanup user=%s err=%v", c.UserID, err)
	} else if last {
		if err := b.emitter.EmitUserPresence(ctx, c.UserID, false); err != nil {
			logger.Warnf("[Bindings] emit offline user=%s err=%v", c.UserID, err)
		}
	}

	b.mgr.Remove(c)
	c.CloseLocal()
}

// ===== note join / leave =====

func (b *Bindings) HandleNoteJoin(ctx context.Context, c *Client, p *NotePayload) error {
	if p == nil || p.NoteID == "" {
		return errs.ErrInvalidParam.WithDetail("note_id required")
	}
	if _, err := b.viewers.AddMember(ctx, p.NoteID, c.UserID, c.ConnID); err != nil {
		return errs.Wrap(err, "viewer add")
	}
	b.mgr.JoinRoom(rooms.NoteRoom(p.NoteID), c)
	c.TrackNote(p.NoteID)
	return nil
}

func (b *Bindings) HandleNoteLeave(ctx context.Context, c *Client, p *NotePayload) error {
	if p == nil || p.NoteID == "" {
		return errs.ErrInvalidParam.WithDetail("note_id required")
	}
	return b.leaveNote(ctx, c, p.NoteID)
}

func (b *Bindings) leaveNote(ctx context.Context, c *Client, noteID string) error {
	_, err := b.viewers.RemoveMember(ctx, noteID, c.UserID, c.ConnID)
	b.mgr.LeaveRoom(rooms.NoteRoom(noteID), c)
	c.UntrackNote(noteID)
	return errs.Wrap(err, "viewer remove")
}

// ===== typing =====

// HandleTypingStart records typing and arms the idle timer. While a timer
// is pending further starts only reset it; no duplicate start reaches the
// store or the channel.
func (b *Bindings) HandleTypingStart(ctx context.Context, c *Client, p *NotePayload) error {
	if p == nil || p.NoteID == "" {
		return errs.ErrInvalidParam.WithDetail("note_id required")
	}
	noteID := p.NoteID
	fresh := c.ArmTyping(noteID, b.conf.TypingIdle, func() {
		// idle timeout == implicit typing-stop
		idleCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.DisarmTyping(noteID)
		if err := b.typingRemove(idleCtx, c, noteID); err != nil {
			logger.Warnf("[Bindings] typing idle stop note=%s err=%v", noteID, err)
		}
	})
	if !fresh {
		return nil
	}
	first, err := b.typing.AddMember(ctx, noteID, c.UserID, c.ConnID)
	if err != nil {
		c.DisarmTyping(noteID)
		return errs.Wrap(err, "typing add")
	}
	if first {
		if err := b.emitter.EmitTypingUpdate(ctx, noteID); err != nil {
			logger.Warnf("[Bindings] emit typing note=%s err=%v", noteID, err)
		}
	}
	return nil
}

func (b *Bindings) HandleTypingStop(ctx context.Context, c *Client, p *NotePayload) error {
	if p == nil || p.NoteID == "" {
		return errs.ErrInvalidParam.WithDetail("note_id required")
	}
	if !c.DisarmTyping(p.NoteID) {
		return nil // nothing pending, stop is idempotent
	}
	return b.typingRemove(ctx, c, p.NoteID)
}

func (b *Bindings) typingRemove(ctx context.Context, c *Client, noteID string) error {
	last, err := b.typing.RemoveMember(ctx, noteID, c.UserID, c.ConnID)
	if err != nil {
		return errs.Wrap(err, "typing remove")
	}
	if last {
		if err := b.emitter.EmitTypingUpdate(ctx, noteID); err != nil {
			logger.Warnf("[Bindings] emit typing note=%s err=%v", noteID, err)
		}
	}
	return nil
}

// HandleTypingGet replies directly to the requesting connection with the
// note's current typing list.
func (b *Bindings) HandleTypingGet(ctx context.Context, c *Client, p *NotePayload) error {
	if p == nil || p.NoteID == "" {
		return errs.ErrInvalidParam.WithDetail("note_id required")
	}
	users, err := b.typing.IndexMembers(ctx, p.NoteID)
	if err != nil {
		return errs.Wrap(err, "typing list")
	}
	if users == nil {
		users = []string{}
	}
	b.reply(c, OpTypingUpdate, map[string]any{"note_id": p.NoteID, "users": users})
	return nil
}

// ===== watch / unwatch =====

// HandleUserWatch subscribes the connection to a user's presence room and
// immediately replies with the current status, sourced from the online
// existence check rather than the broadcast channel.
func (b *Bindings) HandleUserWatch(ctx context.Context, c *Client, p *WatchPayload) error {
	if p == nil || p.UserID == "" {
		return errs.ErrInvalidParam.WithDetail("user_id required")
	}
	c.AddWatch(p.UserID)
	b.mgr.JoinRoom(rooms.UserRoom(p.UserID), c)

	online, err := b.online.IsMember(ctx, onlineEntity, p.UserID)
	if err != nil {
		return errs.Wrap(err, "online lookup")
	}
	status := "offline"
	if online {
		status = "online"
	}
	b.reply(c, OpUserStatus, StatusReply{UserID: p.UserID, Status: status})
	return nil
}

func (b *Bindings) HandleUserUnwatch(_ context.Context, c *Client, p *WatchPayload) error {
	if p == nil || p.UserID == "" {
		return errs.ErrInvalidParam.WithDetail("user_id required")
	}
	c.RemoveWatch(p.UserID)
	b.mgr.LeaveRoom(rooms.UserRoom(p.UserID), c)
	return nil
}

func (b *Bindings) reply(c *Client, op string, data any) {
	select {
	case c.Send <- EncodeServerFrame(op, data):
	default:
		logger.Warnf("[Bindings] drop reply conn=%s op=%s (slow client)", c.ConnID, op)
	}
}
