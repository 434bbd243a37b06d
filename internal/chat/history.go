// Package chat holds per-user conversation state: the session state machine,
// the turn history and the store that owns sessions.
package chat

import (
	"time"

	"github.com/JonMunkholm/dbchat/internal/failure"
)

// Turn is one question and everything that came of it.
type Turn struct {
	Question  string       `json:"question" yaml:"question"`
	SQL       string       `json:"sql,omitempty" yaml:"sql,omitempty"`
	Answer    string       `json:"answer,omitempty" yaml:"answer,omitempty"`
	Error     string       `json:"error,omitempty" yaml:"error,omitempty"`
	Kind      failure.Kind `json:"kind,omitempty" yaml:"kind,omitempty"`
	RowCount  int          `json:"rowCount" yaml:"row_count"`
	Truncated bool         `json:"truncated,omitempty" yaml:"truncated,omitempty"`
	At        time.Time    `json:"at" yaml:"at"`

	// Index is the turn's position in the session history, -1 when the
	// turn was never recorded.
	Index int `json:"index" yaml:"-"`
}

// Failed reports whether the turn ended in an error.
func (t Turn) Failed() bool {
	return t.Error != ""
}

// History is an append-only log of turns. The zero value is empty and ready
// to use. A History is never mutated; Append returns a new one.
type History struct {
	turns []Turn
}

// Append returns a copy of h with t added at the end.
func (h History) Append(t Turn) History {
	turns := make([]Turn, len(h.turns), len(h.turns)+1)
	copy(turns, h.turns)
	return History{turns: append(turns, t)}
}

func (h History) Len() int { return len(h.turns) }

// Turns returns every turn, oldest first.
func (h History) Turns() []Turn {
	return h.Window(len(h.turns))
}

// Window returns the last n turns, oldest first. This bounds how much
// history is replayed into a prompt.
func (h History) Window(n int) []Turn {
	if n <= 0 || len(h.turns) == 0 {
		return nil
	}
	if n > len(h.turns) {
		n = len(h.turns)
	}
	out := make([]Turn, n)
	copy(out, h.turns[len(h.turns)-n:])
	return out
}
