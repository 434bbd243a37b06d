// Package gate decides whether a generated SQL statement may run.
//
// The check is a syntactic keyword blocklist plus a leading-verb allow-set.
// It does not parse SQL: a denied keyword inside a string literal is
// rejected the same as one used as an operation.
package gate

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// State is the lifecycle of a generated statement.
type State int

const (
	Unvalidated State = iota
	Approved
	Rejected
)

func (s State) String() string {
	switch s {
	case Unvalidated:
		return "unvalidated"
	case Approved:
		return "approved"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrReviewed is returned when a statement that already left the
// Unvalidated state is reviewed again.
var ErrReviewed = errors.New("statement already reviewed")

// Statement is SQL extracted from a completion. Its text never changes;
// only a Policy can move it out of Unvalidated.
type Statement struct {
	sql   string
	state State
}

func NewStatement(sql string) *Statement {
	return &Statement{sql: sql}
}

func (s *Statement) SQL() string      { return s.sql }
func (s *Statement) State() State     { return s.state }
func (s *Statement) IsApproved() bool { return s.state == Approved }

// Verdict is the outcome of evaluating one statement.
type Verdict struct {
	Approved bool
	Keyword  string // offending denied keyword, if any
	Reason   string
}

// Policy holds the allow-set of leading verbs and the denied keywords.
type Policy struct {
	Allow []string
	Deny  []string

	denyRe *regexp.Regexp
}

var (
	DefaultAllow = []string{"SELECT"}
	DefaultDeny  = []string{"DROP", "DELETE", "TRUNCATE", "UPDATE", "INSERT", "ALTER"}
)

// NewPolicy builds a policy; empty lists fall back to the defaults.
func NewPolicy(allow, deny []string) *Policy {
	if len(allow) == 0 {
		allow = DefaultAllow
	}
	if len(deny) == 0 {
		deny = DefaultDeny
	}
	p := &Policy{
		Allow: upperAll(allow),
		Deny:  upperAll(deny),
	}
	quoted := make([]string, len(p.Deny))
	for i, kw := range p.Deny {
		quoted[i] = regexp.QuoteMeta(kw)
	}
	p.denyRe = regexp.MustCompile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b`)
	return p
}

// Default returns the SELECT-only policy.
func Default() *Policy {
	return NewPolicy(nil, nil)
}

// Evaluate inspects sql without side effects.
func (p *Policy) Evaluate(sql string) Verdict {
	if strings.TrimSpace(sql) == "" {
		return Verdict{Reason: "statement is empty"}
	}

	if m := p.denyRe.FindString(sql); m != "" {
		kw := strings.ToUpper(m)
		return Verdict{
			Keyword: kw,
			Reason:  fmt.Sprintf("statement contains denied keyword %s", kw),
		}
	}

	verb := LeadingVerb(sql)
	for _, allowed := range p.Allow {
		if verb == allowed {
			return Verdict{Approved: true}
		}
	}
	found := verb
	if found == "" {
		found = "no verb"
	}
	return Verdict{
		Reason: fmt.Sprintf("statement must start with %s, found %s", strings.Join(p.Allow, " or "), found),
	}
}

// Review evaluates s and moves it to Approved or Rejected.
func (p *Policy) Review(s *Statement) (Verdict, error) {
	if s == nil {
		return Verdict{}, errors.New("nil statement")
	}
	if s.state != Unvalidated {
		return Verdict{}, fmt.Errorf("%w (state %s)", ErrReviewed, s.state)
	}
	v := p.Evaluate(s.sql)
	if v.Approved {
		s.state = Approved
	} else {
		s.state = Rejected
	}
	return v, nil
}

// LeadingVerb returns the first word of sql, upper-cased.
func LeadingVerb(sql string) string {
	trimmed := strings.TrimLeft(sql, " \t\r\n")
	end := 0
	for end < len(trimmed) && isWordByte(trimmed[end]) {
		end++
	}
	return strings.ToUpper(trimmed[:end])
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

func upperAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
