package chat

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/JonMunkholm/dbchat/internal/database"
	"github.com/JonMunkholm/dbchat/internal/schema"
)

// State of a session. A question walks Connected through Generating,
// Validating, Executing and Narrating and always lands back on Connected.
type State int

const (
	Disconnected State = iota
	Connected
	Generating
	Validating
	Executing
	Narrating
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case Generating:
		return "generating"
	case Validating:
		return "validating"
	case Executing:
		return "executing"
	case Narrating:
		return "narrating"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	ErrNotConnected      = errors.New("session is not connected")
	ErrBusy              = errors.New("session is answering another question")
	ErrInvalidTransition = errors.New("invalid session state transition")
)

var transitions = map[State][]State{
	Connected:  {Generating},
	Generating: {Validating, Connected},
	Validating: {Executing, Connected},
	Executing:  {Narrating, Connected},
	Narrating:  {Connected},
}

// Session binds one database connection, its schema snapshot and the chat
// history to a single user.
type Session struct {
	id uuid.UUID

	// question serialises questions; mu guards the fields below.
	question sync.Mutex
	mu       sync.RWMutex
	state    State
	conn     *database.Conn
	snapshot *schema.Snapshot
	history  History
}

func NewSession(id uuid.UUID) *Session {
	return &Session{id: id}
}

func (s *Session) ID() uuid.UUID { return s.id }

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) Conn() *database.Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}

func (s *Session) Snapshot() *schema.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

func (s *Session) History() History {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history
}

// Attach makes conn the session's connection, closing any previous one.
// History survives a reconnect.
func (s *Session) Attach(conn *database.Conn, snap *schema.Snapshot) {
	s.mu.Lock()
	prev := s.conn
	s.conn, s.snapshot, s.state = conn, snap, Connected
	s.mu.Unlock()

	if prev != nil && prev != conn {
		_ = prev.Close()
	}
}

// Detach closes the connection. Calling it on a disconnected session is a no-op.
func (s *Session) Detach() error {
	s.mu.Lock()
	conn := s.conn
	s.conn, s.snapshot, s.state = nil, nil, Disconnected
	s.mu.Unlock()

	return conn.Close()
}

// ReplaceSnapshot swaps in a freshly loaded schema.
func (s *Session) ReplaceSnapshot(snap *schema.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Disconnected {
		return ErrNotConnected
	}
	s.snapshot = snap
	return nil
}

// Transition moves the session to the next state of a question.
func (s *Session) Transition(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, allowed := range transitions[s.state] {
		if allowed == to {
			s.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, to)
}

// Record appends a finished turn and returns it with its Index set.
func (s *Session) Record(t Turn) Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.Index = s.history.Len()
	s.history = s.history.Append(t)
	return t
}

// Exclusive runs fn while no other question runs on this session. It
// returns ErrBusy instead of waiting when wait is false.
func (s *Session) Exclusive(wait bool, fn func()) error {
	if wait {
		s.question.Lock()
	} else if !s.question.TryLock() {
		return ErrBusy
	}
	defer s.question.Unlock()

	fn()
	return nil
}
