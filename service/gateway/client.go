package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client is one websocket connection. Joined rooms, the watch set and the
// typing debounce timers are connection-local; they live exactly as long as
// the connection and are never persisted.
type Client struct {
	ConnID string
	UserID string
	Conn   *websocket.Conn // nil in unit tests
	Send   chan []byte
	Done   chan struct{}

	mu     sync.Mutex
	notes  map[string]struct{}    // joined note entities
	watch  map[string]struct{}    // watched userIDs
	typing map[string]*time.Timer // noteID -> idle timer
	closed bool
}

func NewClient(connID, userID string, conn *websocket.Conn, sendBuf int) *Client {
	if sendBuf <= 0 {
		sendBuf = 64
	}
	return &Client{
		ConnID: connID,
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, sendBuf),
		Done:   make(chan struct{}),
		notes:  make(map[string]struct{}),
		watch:  make(map[string]struct{}),
		typing: make(map[string]*time.Timer),
	}
}

// ===== note tracking =====

func (c *Client) TrackNote(noteID string) {
	c.mu.Lock()
	c.notes[noteID] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) UntrackNote(noteID string) {
	c.mu.Lock()
	delete(c.notes, noteID)
	c.mu.Unlock()
}

// Notes snapshots the tracked note set.
func (c *Client) Notes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.notes))
	for n := range c.notes {
		out = append(out, n)
	}
	return out
}

// ===== watch set =====

func (c *Client) AddWatch(userID string) {
	c.mu.Lock()
	c.watch[userID] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) RemoveWatch(userID string) {
	c.mu.Lock()
	delete(c.watch, userID)
	c.mu.Unlock()
}

func (c *Client) Watches() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.watch))
	for u := range c.watch {
		out = append(out, u)
	}
	return out
}

// ===== typing debounce =====

// ArmTyping starts (or resets) the idle timer for a note. Returns true only
// when no timer was pending, i.e. this is a fresh typing burst and the
// caller should record the typing-start.
func (c *Client) ArmTyping(noteID string, idle time.Duration, onIdle func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	if t, ok := c.typing[noteID]; ok {
		t.Reset(idle)
		return false
	}
	c.typing[noteID] = time.AfterFunc(idle, onIdle)
	return true
}

// DisarmTyping cancels the idle timer. Returns true if one was pending.
func (c *Client) DisarmTyping(noteID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.typing[noteID]
	if !ok {
		return false
	}
	t.Stop()
	delete(c.typing, noteID)
	return true
}

// TypingNotes snapshots notes with a pending typing timer.
func (c *Client) TypingNotes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.typing))
	for n := range c.typing {
		out = append(out, n)
	}
	return out
}

// CloseLocal tears down connection-local state: stops timers, clears the
// tracking sets and signals the writer loop. The send channel itself stays
// open so late fan-out deliveries are harmless no-ops. Idempotent.
func (c *Client) CloseLocal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for _, t := range c.typing {
		t.Stop()
	}
	c.typing = map[string]*time.Timer{}
	c.notes = map[string]struct{}{}
	c.watch = map[string]struct{}{}
	close(c.Done)
}
