package llm

import (
	"strings"

	"github.com/JonMunkholm/dbchat/internal/failure"
)

var sqlVerbs = map[string]bool{
	"SELECT": true, "WITH": true, "INSERT": true, "UPDATE": true, "DELETE": true,
	"DROP": true, "ALTER": true, "TRUNCATE": true, "CREATE": true, "REPLACE": true,
	"MERGE": true, "GRANT": true, "REVOKE": true, "EXPLAIN": true, "SHOW": true,
	"DESCRIBE": true,
}

// ExtractSQL isolates the first SQL statement in a completion. Leading prose
// such as a "Thought:" line is discarded; anything after the first statement
// terminator is dropped. The statement text itself is returned unmodified so
// the gate sees exactly what will run.
func ExtractSQL(completion string) (string, error) {
	trimmed := strings.TrimSpace(completion)
	if trimmed == "" {
		return "", failure.New(failure.Generation, "the model returned an empty completion")
	}

	// Check for MISSING prefix (case-insensitive)
	if strings.HasPrefix(strings.ToUpper(trimmed), "MISSING:") {
		reason := strings.TrimSpace(trimmed[len("MISSING:"):])
		if reason == "" {
			reason = "the question cannot be answered from this schema"
		}
		return "", failure.New(failure.Generation, reason)
	}

	text := stripFences(trimmed)

	start := statementStart(text)
	if start < 0 {
		return "", failure.New(failure.Generation, "no SQL statement found in the model's reply")
	}

	stmt := text[start:]
	if end := statementEnd(stmt); end > 0 {
		stmt = stmt[:end]
	}
	return strings.TrimRight(stmt, " \t\r\n"), nil
}

// stripFences removes markdown code fence markers, keeping the lines between them.
func stripFences(text string) string {
	if !strings.Contains(text, "```") {
		return text
	}

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lead := strings.TrimLeft(line, " \t")
		if strings.HasPrefix(lead, "```") {
			rest := lead[3:]
			if len(rest) >= 3 && strings.EqualFold(rest[:3], "sql") && (len(rest) == 3 || !isWordByte(rest[3])) {
				rest = rest[3:]
			}
			line = strings.TrimLeft(rest, " \t")
		}
		lines[i] = strings.ReplaceAll(line, "```", "")
	}
	return strings.Join(lines, "\n")
}

// statementStart returns the offset where the statement begins, or -1.
// An upper-case verb opening a line wins, then an upper-case verb anywhere,
// then a verb of any case opening a line. Reasoning prose such as
// "Select the top rows." is only taken when nothing else looks like SQL.
func statementStart(text string) int {
	if i := lineStartVerb(text, true); i >= 0 {
		return i
	}

	for i := 0; i < len(text); i++ {
		if i > 0 && isWordByte(text[i-1]) {
			continue
		}
		if word := leadingWord(text[i:]); isUpperVerb(word) {
			return i
		}
	}

	return lineStartVerb(text, false)
}

func lineStartVerb(text string, upperOnly bool) int {
	offset := 0
	for _, line := range strings.SplitAfter(text, "\n") {
		indent := len(line) - len(strings.TrimLeft(line, " \t"))
		word := leadingWord(line[indent:])
		if isUpperVerb(word) || !upperOnly && sqlVerbs[strings.ToUpper(word)] {
			return offset + indent
		}
		offset += len(line)
	}
	return -1
}

func isUpperVerb(word string) bool {
	return word != "" && word == strings.ToUpper(word) && sqlVerbs[word]
}

// statementEnd returns the index just past the first ';' that is outside
// quotes and comments, or 0.
func statementEnd(stmt string) int {
	var quote byte
	for i := 0; i < len(stmt); i++ {
		c := stmt[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '-' && strings.HasPrefix(stmt[i:], "--"):
			nl := strings.IndexByte(stmt[i:], '\n')
			if nl < 0 {
				return 0
			}
			i += nl
		case c == '/' && strings.HasPrefix(stmt[i:], "/*"):
			end := strings.Index(stmt[i+2:], "*/")
			if end < 0 {
				return 0
			}
			i += end + 3
		case c == '\'' || c == '"' || c == '`':
			quote = c
		case c == ';':
			return i + 1
		}
	}
	return 0
}

func leadingWord(s string) string {
	n := 0
	for n < len(s) && isWordByte(s[n]) {
		n++
	}
	return s[:n]
}

func isWordByte(b byte) bool {
	return b == '_' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}
