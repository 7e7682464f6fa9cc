package rooms

import "fmt"

// Room identifiers are deterministic functions of entity kind and id.
// Every process derives the same room for the same entity, which is what
// lets a single publication fan out cluster-wide.

func NoteRoom(noteID string) string { return fmt.Sprintf("note:%s", noteID) }

func UserRoom(userID string) string { return fmt.Sprintf("user:%s", userID) }
