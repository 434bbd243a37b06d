package chat

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type sessionEntry struct {
	session      *Session
	lastAccessed time.Time
}

// Store holds live sessions, evicting the least recently used one when full.
// Evicted sessions have their connection closed.
type Store struct {
	lock     sync.Mutex
	sessions map[uuid.UUID]*sessionEntry
	maxSize  int
	logger   *slog.Logger
	now      func() time.Time
}

func NewStore(maxSize int, logger *slog.Logger) *Store {
	if maxSize <= 0 {
		maxSize = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		sessions: make(map[uuid.UUID]*sessionEntry, maxSize),
		maxSize:  maxSize,
		logger:   logger,
		now:      time.Now,
	}
}

// Get returns a live session and marks it as used.
func (st *Store) Get(id uuid.UUID) (*Session, bool) {
	st.lock.Lock()
	defer st.lock.Unlock()

	entry, ok := st.sessions[id]
	if !ok {
		return nil, false
	}
	entry.lastAccessed = st.now()
	return entry.session, true
}

// Create starts a new session under a fresh id.
func (st *Store) Create() *Session {
	st.lock.Lock()
	var evicted *Session
	if len(st.sessions) >= st.maxSize {
		evicted = st.evictOldestLocked()
	}
	session := NewSession(uuid.New())
	st.sessions[session.ID()] = &sessionEntry{session: session, lastAccessed: st.now()}
	st.lock.Unlock()

	if evicted != nil {
		st.logger.Info("evicting least recently used session", "session_id", evicted.ID())
		st.release(evicted)
	}
	return session
}

// Delete removes the session and closes its connection.
func (st *Store) Delete(id uuid.UUID) {
	st.lock.Lock()
	entry, ok := st.sessions[id]
	delete(st.sessions, id)
	st.lock.Unlock()

	if ok {
		st.release(entry.session)
	}
}

func (st *Store) Len() int {
	st.lock.Lock()
	defer st.lock.Unlock()
	return len(st.sessions)
}

// Close releases every session.
func (st *Store) Close() {
	st.lock.Lock()
	sessions := make([]*Session, 0, len(st.sessions))
	for id, entry := range st.sessions {
		sessions = append(sessions, entry.session)
		delete(st.sessions, id)
	}
	st.lock.Unlock()

	for _, s := range sessions {
		st.release(s)
	}
}

func (st *Store) evictOldestLocked() *Session {
	var oldestID uuid.UUID
	var oldest *sessionEntry
	for id, entry := range st.sessions {
		if oldest == nil || entry.lastAccessed.Before(oldest.lastAccessed) {
			oldestID, oldest = id, entry
		}
	}
	if oldest == nil {
		return nil
	}
	delete(st.sessions, oldestID)
	return oldest.session
}

func (st *Store) release(s *Session) {
	_ = s.Exclusive(true, func() {
		if err := s.Detach(); err != nil {
			st.logger.Warn("closing session connection failed", "session_id", s.ID(), "error", err)
		}
	})
	st.logger.Debug("session released", "session_id", s.ID())
}
