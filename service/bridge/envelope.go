package bridge

import (
	"encoding/json"
	"fmt"
)

// Kind is the envelope discriminator. The union is closed: anything else on
// the wire is dropped by the bridge.
type Kind string

const (
	KindNote Kind = "NOTE"
	KindUser Kind = "USER"
)

// Envelope is the structured broadcast frame published on the shared
// channel. Recipients self-select by Room; Data is decoded per (Type,Event).
type Envelope struct {
	Type  Kind            `json:"type"`
	Event string          `json:"event"`
	Room  string          `json:"room"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Broadcast events carried on the channel.
const (
	EventNoteUpdate   = "update"
	EventTypingUpdate = "typing"
	EventUserOnline   = "online"
	EventUserOffline  = "offline"
)

// NoteUpdate is the payload of a NOTE/update envelope.
type NoteUpdate struct {
	NoteID string         `json:"note_id"`
	Patch  map[string]any `json:"patch,omitempty"`
}

// TypingUpdate carries the full current typing list for a note.
type TypingUpdate struct {
	NoteID string   `json:"note_id"`
	Users  []string `json:"users"`
}

// UserPresence carries the bare userID for online/offline transitions.
type UserPresence struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

func (e *Envelope) key() string { return string(e.Type) + "/" + e.Event }

// DecodeEnvelope parses a raw channel message and validates the tag.
func DecodeEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	switch env.Type {
	case KindNote, KindUser:
	default:
		return nil, fmt.Errorf("unknown envelope type %q", env.Type)
	}
	if env.Event == "" || env.Room == "" {
		return nil, fmt.Errorf("envelope missing event/room")
	}
	return &env, nil
}

// NewEnvelope marshals data into an envelope ready for publication.
func NewEnvelope(kind Kind, event, room string, data any) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope data: %w", err)
	}
	return &Envelope{Type: kind, Event: event, Room: room, Data: raw}, nil
}

// DecodeData decodes the envelope payload into the typed struct for its
// (Type,Event) pair.
func DecodeData[T any](env *Envelope) (*T, error) {
	var out T
	if err := json.Unmarshal(env.Data, &out); err != nil {
		return nil, fmt.Errorf("decode %s data: %w", env.key(), err)
	}
	return &out, nil
}
