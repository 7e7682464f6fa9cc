package reaction

import (
	"encoding/json"
	"fmt"
	"time"
)

// ReactionEvent is the immutable record appended to exactly one shard log.
type ReactionEvent struct {
	EventID      string    `json:"event_id"`
	EntityID     string    `json:"entity_id"`
	UserID       string    `json:"user_id"`
	ReactionType string    `json:"reaction_type"`
	Timestamp    time.Time `json:"ts"`
}

func (ev *ReactionEvent) Validate() error {
	if ev.EntityID == "" {
		return fmt.Errorf("entity_id required")
	}
	if ev.UserID == "" {
		return fmt.Errorf("user_id required")
	}
	if ev.ReactionType == "" {
		return fmt.Errorf("reaction_type required")
	}
	return nil
}

// DedupKey identifies one logical reaction delivery; redelivered records
// carry the same key, which is what makes downstream processing idempotent.
func (ev *ReactionEvent) DedupKey() string {
	return ev.EntityID + "|" + ev.UserID + "|" + ev.ReactionType + "|" + ev.EventID
}

func (ev *ReactionEvent) Marshal() ([]byte, error) { return json.Marshal(ev) }

func UnmarshalEvent(raw []byte) (*ReactionEvent, error) {
	var ev ReactionEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("unmarshal reaction event: %w", err)
	}
	return &ev, nil
}
