package gateway

import (
	"encoding/json"
	"fmt"
)

// Client intents carried over the socket.
const (
	OpNoteJoin    = "note.join"
	OpNoteLeave   = "note.leave"
	OpTypingStart = "typing.start"
	OpTypingStop  = "typing.stop"
	OpTypingGet   = "typing.get"
	OpUserWatch   = "user.watch"
	OpUserUnwatch = "user.unwatch"
)

// Server-to-client frames.
const (
	OpNoteUpdate   = "note.update"
	OpTypingUpdate = "typing.update"
	OpUserStatus   = "user.status"
	OpUserOnline   = "user.online"
	OpUserOffline  = "user.offline"
	OpError        = "error"
)

// ClientFrame is the JSON frame read off the socket: {op, data}.
type ClientFrame struct {
	Op   string         `json:"op"`
	Data map[string]any `json:"data,omitempty"`
}

// ServerFrame is what gets pushed down the socket.
type ServerFrame struct {
	Op   string `json:"op"`
	Data any    `json:"data,omitempty"`
}

// NotePayload accompanies note.* and typing.* intents.
type NotePayload struct {
	NoteID string `json:"note_id"`
}

// WatchPayload accompanies user.watch / user.unwatch.
type WatchPayload struct {
	UserID string `json:"user_id"`
}

// StatusReply is the immediate current-status answer to a watch intent.
type StatusReply struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

func ParseClientFrame(raw []byte) (*ClientFrame, error) {
	var f ClientFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("unmarshal frame: %w", err)
	}
	if f.Op == "" {
		return nil, fmt.Errorf("frame missing op")
	}
	return &f, nil
}

// EncodeServerFrame marshals a push frame; encoding failures collapse to an
// error frame so the writer loop always has bytes to send.
func EncodeServerFrame(op string, data any) []byte {
	raw, err := json.Marshal(ServerFrame{Op: op, Data: data})
	if err != nil {
		raw, _ = json.Marshal(ServerFrame{Op: OpError, Data: map[string]any{"msg": "encode failed"}})
	}
	return raw
}
