// Package failure defines the user-facing error categories of a chat turn.
// Every failure keeps the readable message that is shown in the transcript
// and, optionally, the underlying cause for logs.
package failure

import (
	"errors"
	"fmt"
)

// Kind is a machine-readable error category.
type Kind string

const (
	// Connection indicates bad credentials or an unreachable database.
	Connection Kind = "connection_failure"
	// Generation indicates the model produced no usable statement.
	Generation Kind = "generation_failure"
	// SafetyRejection indicates the gate refused the statement.
	SafetyRejection Kind = "safety_rejection"
	// Execution indicates the database rejected or aborted the statement.
	Execution Kind = "execution_failure"
	// Narration indicates the second model call failed.
	Narration Kind = "narration_failure"
)

// E wraps an error with kind and human-friendly message.
type E struct {
	Kind    Kind
	Message string
	Hint    string
	Err     error
}

func (e *E) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *E) Unwrap() error { return e.Err }

func Wrap(kind Kind, msg string, err error) *E { return &E{Kind: kind, Message: msg, Err: err} }
func New(kind Kind, msg string) *E             { return &E{Kind: kind, Message: msg} }

// WithHint returns a copy of e carrying hint.
func (e *E) WithHint(hint string) *E {
	cp := *e
	cp.Hint = hint
	return &cp
}

// KindOf returns the kind of the first *E in err's chain, or "" if none.
func KindOf(err error) Kind {
	var fe *E
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// UserMessage renders err for the transcript. Typed failures show their
// message (and hint); anything else falls back to err.Error().
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var fe *E
	if !errors.As(err, &fe) {
		return err.Error()
	}
	msg := fe.Message
	if msg == "" && fe.Err != nil {
		msg = fe.Err.Error()
	}
	if prefix := fe.Kind.label(); prefix != "" {
		msg = prefix + ": " + msg
	}
	if fe.Hint != "" {
		msg += " (" + fe.Hint + ")"
	}
	return msg
}

func (k Kind) label() string {
	switch k {
	case Connection:
		return "Connection failed"
	case Generation:
		return "Could not generate SQL"
	case SafetyRejection:
		return "Query rejected"
	case Execution:
		return "Error executing SQL query"
	case Narration:
		return "Could not describe the result"
	default:
		return ""
	}
}
