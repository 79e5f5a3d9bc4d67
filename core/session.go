package core

import (
	"maps"
	"sync"
	"time"
)

// Session represents a conversational container tracking mutable key/value
// state, an ordered append-only event history and at most one live
// Checkpoint. It is safe for concurrent access.
//
// Contract:
//   - Events are append-only; AddEvent assigns the monotonic Sequence index
//   - GetEvents returns a defensive copy to avoid external mutation
//   - GetConversationHistory filters events to user/assistant/tool roles and
//     excludes partial streaming fragments
//   - SetCheckpoint fails while a checkpoint is live (single-slot invariant)
//   - Clone performs deep copies of maps/slices for safe divergence
type Session struct {
	ID         string            `json:"id"`
	State      map[string]any    `json:"state"`
	Events     []Event           `json:"events"`
	Checkpoint *Checkpoint       `json:"checkpoint,omitempty"`
	Created    time.Time         `json:"created"`
	Updated    time.Time         `json:"updated"`
	Metadata   map[string]string `json:"metadata"`
	mu         sync.RWMutex
}

// NewSession creates a new session with the given ID.
func NewSession(id string) *Session {
	now := time.Now()
	return &Session{ID: id, State: map[string]any{}, Events: []Event{}, Created: now, Updated: now, Metadata: map[string]string{}}
}

// GetState returns the value and existence flag for a state key.
func (s *Session) GetState(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.State[key]
	return v, ok
}

// SetState sets a key/value pair in session state updating the Updated timestamp.
func (s *Session) SetState(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State[key] = value
	s.Updated = time.Now()
}

// ApplyStateDelta merges the provided key/value pairs into State.
func (s *Session) ApplyStateDelta(delta map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	maps.Copy(s.State, delta)
	s.Updated = time.Now()
}

// AddEvent appends an event to the history, assigning the next Sequence
// index and updating the Updated timestamp.
func (s *Session) AddEvent(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev.Sequence = len(s.Events)
	s.Events = append(s.Events, ev)
	s.Updated = time.Now()
}

// GetEvents returns a defensive copy of the full event slice.
func (s *Session) GetEvents() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := make([]Event, len(s.Events))
	copy(events, s.Events)
	return events
}

// GetConversationHistory returns filtered events suitable for providing
// conversational context to models (excludes partials and non-conversational
// roles).
func (s *Session) GetConversationHistory() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	allowed := map[string]bool{"user": true, "assistant": true, "tool": true}
	res := make([]Event, 0, len(s.Events))
	for _, ev := range s.Events {
		if ev.Content == nil || !allowed[ev.Content.Role] {
			continue
		}
		if ev.IsPartial() {
			continue
		}
		res = append(res, ev)
	}
	return res
}

// SetCheckpoint installs cp as the session's live checkpoint. It returns
// ErrCheckpointExists if one is already live: at most one pending action may
// await a decision per session.
func (s *Session) SetCheckpoint(cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Checkpoint != nil && s.Checkpoint.State == CheckpointSuspended {
		return ErrCheckpointExists
	}
	s.Checkpoint = cp
	s.Updated = time.Now()
	return nil
}

// ClearCheckpoint drops the live checkpoint, if any.
func (s *Session) ClearCheckpoint() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Checkpoint = nil
	s.Updated = time.Now()
}

// LiveCheckpoint returns the suspended checkpoint, or nil when the session
// has nothing pending.
func (s *Session) LiveCheckpoint() *Checkpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Checkpoint == nil || s.Checkpoint.State != CheckpointSuspended {
		return nil
	}
	cp := *s.Checkpoint
	return &cp
}

// Clone returns a deep copy of the session safe for independent mutation.
func (s *Session) Clone() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	clone := &Session{ID: s.ID, State: make(map[string]any, len(s.State)), Events: make([]Event, len(s.Events)), Created: s.Created, Updated: s.Updated, Metadata: make(map[string]string, len(s.Metadata))}
	maps.Copy(clone.State, s.State)
	copy(clone.Events, s.Events)
	maps.Copy(clone.Metadata, s.Metadata)
	if s.Checkpoint != nil {
		cp := *s.Checkpoint
		clone.Checkpoint = &cp
	}
	return clone
}

// SessionStore persists sessions: their evolving state, append-only event
// history and single checkpoint slot.
//
// Implementations must make SaveCheckpoint atomic: the checkpoint and its
// interruption event are persisted together, or not at all. A partially
// committed suspension would corrupt the resume protocol.
type SessionStore interface {
	Create(id string) (*Session, error)
	Get(id string) (*Session, error)
	AppendEvent(sessionID string, event Event) error
	ApplyDelta(sessionID string, delta map[string]any) error

	// SaveCheckpoint persists cp as the session's live checkpoint together
	// with the interruption event that surfaced it. Fails with
	// ErrCheckpointExists when a checkpoint is already live.
	SaveCheckpoint(sessionID string, cp *Checkpoint, ev Event) error

	// ClearCheckpoint removes the live checkpoint, if any.
	ClearCheckpoint(sessionID string) error

	// Delete discards the session record entirely (history + checkpoint).
	Delete(sessionID string) error
}
