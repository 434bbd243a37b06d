package chat

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Transcript is the exportable view of a session.
type Transcript struct {
	SessionID  string    `json:"sessionId" yaml:"session_id"`
	Database   string    `json:"database,omitempty" yaml:"database,omitempty"`
	ExportedAt time.Time `json:"exportedAt" yaml:"exported_at"`
	Turns      []Turn    `json:"turns" yaml:"turns"`
}

// Transcript snapshots the session's full history.
func (s *Session) Transcript(now time.Time) Transcript {
	t := Transcript{
		SessionID:  s.ID().String(),
		ExportedAt: now.UTC(),
		Turns:      s.History().Turns(),
	}
	if conn := s.Conn(); conn != nil {
		t.Database = conn.Label()
	}
	if t.Turns == nil {
		t.Turns = []Turn{}
	}
	return t
}

// Exporter writes a transcript in one format.
type Exporter interface {
	Export(t Transcript, w io.Writer) error
	Extension() string
	ContentType() string
}

// NewExporter creates a new exporter based on format
func NewExporter(format string) (Exporter, error) {
	switch strings.ToLower(format) {
	case "", "json":
		return jsonExporter{}, nil
	case "yaml", "yml":
		return yamlExporter{}, nil
	case "md", "markdown":
		return markdownExporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s (supported: json, yaml, md)", format)
	}
}

type jsonExporter struct{}

func (jsonExporter) Export(t Transcript, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(t)
}

func (jsonExporter) Extension() string   { return "json" }
func (jsonExporter) ContentType() string { return "application/json" }

type yamlExporter struct{}

func (yamlExporter) Export(t Transcript, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	defer func() { _ = enc.Close() }()

	return enc.Encode(t)
}

func (yamlExporter) Extension() string   { return "yaml" }
func (yamlExporter) ContentType() string { return "application/yaml" }

type markdownExporter struct{}

func (markdownExporter) Export(t Transcript, w io.Writer) error {
	var sb strings.Builder
	sb.WriteString("# Chat transcript\n\n")
	if t.Database != "" {
		sb.WriteString(fmt.Sprintf("Database: `%s`\n\n", t.Database))
	}

	for _, turn := range t.Turns {
		sb.WriteString(fmt.Sprintf("## %s\n\n", turn.Question))
		if turn.SQL != "" {
			sb.WriteString("```sql\n" + turn.SQL + "\n```\n\n")
		}
		if turn.Failed() {
			sb.WriteString("> " + turn.Error + "\n\n")
		} else {
			sb.WriteString(turn.Answer + "\n\n")
		}
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

func (markdownExporter) Extension() string   { return "md" }
func (markdownExporter) ContentType() string { return "text/markdown; charset=utf-8" }
