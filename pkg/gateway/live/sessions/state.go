// Package sessions holds per-connection tutoring state and the process-wide registry
// of live sessions.
package sessions

import (
	"sync"
	"time"

	"github.com/vango-go/vai-tutor/pkg/tutor/canvas"
)

// Message is one utterance in the session log.
type Message struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// State is the conversation log and latest canvas snapshot of one session.
type State struct {
	ID        string
	CreatedAt time.Time

	now func() time.Time

	mu           sync.Mutex
	messages     []Message
	snapshot     canvas.Snapshot
	hasSnapshot  bool
	lastActivity time.Time
}

func newState(id string, now func() time.Time) *State {
	t := now()
	return &State{ID: id, CreatedAt: t, now: now, lastActivity: t}
}

// RecordMessage appends to the message log.
func (s *State) RecordMessage(role, content string) Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := Message{Role: role, Content: content, At: s.now()}
	s.messages = append(s.messages, msg)
	s.lastActivity = msg.At
	return msg
}

// ReplaceCanvasSnapshot stores snap as the current canvas.
func (s *State) ReplaceCanvasSnapshot(snap canvas.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snap
	s.hasSnapshot = true
	s.lastActivity = s.now()
}

// CanvasSnapshot returns the latest snapshot, if one has arrived.
func (s *State) CanvasSnapshot() (canvas.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot, s.hasSnapshot
}

// MessageCount is the length of the message log.
func (s *State) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Touch marks the session active without changing its contents.
func (s *State) Touch() {
	s.mu.Lock()
	s.lastActivity = s.now()
	s.mu.Unlock()
}

func (s *State) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}
