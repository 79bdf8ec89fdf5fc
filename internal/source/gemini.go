package source

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"agentwatch/internal/event"
)

// geminiDocument is one whole-document Gemini session file.
type geminiDocument struct {
	SessionID   string          `json:"sessionId"`
	ProjectHash string          `json:"projectHash,omitempty"`
	ProjectPath string          `json:"projectPath,omitempty"`
	StartTime   string          `json:"startTime,omitempty"`
	LastUpdated string          `json:"lastUpdated,omitempty"`
	Messages    []geminiMessage `json:"messages"`
}

type geminiMessage struct {
	ID        string          `json:"id,omitempty"`
	Role      string          `json:"role"`
	Type      string          `json:"type,omitempty"`
	Content   json.RawMessage `json:"content"`
	Thoughts  string          `json:"thoughts,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// GeminiBuilder parses Gemini's whole-document session format. There is no
// meaningful line-level parse: ParseLine is a defined no-op returning
// empty, and consumers re-parse the entire document whenever its size or
// mtime changes, diffing against previously emitted event ids.
type GeminiBuilder struct {
	opts Options
}

// NewGeminiBuilder returns a builder for Gemini session documents.
func NewGeminiBuilder(opts Options) *GeminiBuilder {
	return &GeminiBuilder{opts: opts}
}

// Source returns the gemini source tag.
func (b *GeminiBuilder) Source() event.Source { return event.SourceGemini }

// ParseLine is a no-op for whole-document sources.
func (b *GeminiBuilder) ParseLine(_ []byte, _ string) []event.NormalizedEvent {
	return nil
}

// ParseEvents parses the whole session document. Malformed documents and
// files over the size guard parse to an empty slice.
func (b *GeminiBuilder) ParseEvents(path string) []event.NormalizedEvent {
	doc, ok := b.readDocument(path)
	if !ok {
		return []event.NormalizedEvent{}
	}

	sessionID := doc.SessionID
	if sessionID == "" {
		sessionID = sessionIDFromName(pathBase(path))
	}

	out := []event.NormalizedEvent{{
		ID:        sessionID + ":start",
		SessionID: sessionID,
		Timestamp: parseClaudeTime(doc.StartTime),
		Type:      event.TypeSessionStart,
		Risk:      event.RiskSafe,
		Raw:       geminiRaw(doc),
	}}

	for i, msg := range doc.Messages {
		out = append(out, b.messageEvents(doc, msg, sessionID, i)...)
	}

	stableSort(out)
	return out
}

func (b *GeminiBuilder) messageEvents(doc geminiDocument, msg geminiMessage, sessionID string, idx int) []event.NormalizedEvent {
	id := msg.ID
	if id == "" {
		id = fmt.Sprintf("%s:%d", sessionID, idx)
	}
	ts := parseClaudeTime(msg.Timestamp)
	content := truncateContent(flattenGeminiContent(msg.Content), 4000)

	var out []event.NormalizedEvent

	if msg.Thoughts != "" {
		think := event.NormalizedEvent{
			ID:        id + ":think",
			SessionID: sessionID,
			Timestamp: ts,
			Type:      event.TypeThinking,
			Content:   truncateContent(msg.Thoughts, 4000),
			Risk:      event.RiskSafe,
		}
		out = append(out, think)
		out = append(out, decisionEvents(think, msg.Thoughts)...)
	}

	if msg.Type == "error" {
		out = append(out, event.NormalizedEvent{
			ID:        id,
			SessionID: sessionID,
			Timestamp: ts,
			Type:      event.TypeError,
			Content:   content,
			Risk:      event.RiskSafe,
		})
		return out
	}

	if content == "" {
		return out
	}

	switch msg.Role {
	case "user":
		out = append(out, event.NormalizedEvent{
			ID:        id,
			SessionID: sessionID,
			Timestamp: ts,
			Type:      event.TypeUserMessage,
			Content:   content,
			Risk:      event.RiskSafe,
		})
	case "model", "assistant":
		ev := event.NormalizedEvent{
			ID:        id,
			SessionID: sessionID,
			Timestamp: ts,
			Type:      event.TypeAssistantResponse,
			Content:   content,
			Risk:      event.RiskSafe,
		}
		out = append(out, ev)
		out = append(out, decisionEvents(ev, content)...)
	}

	return out
}

// GetLastAction reports the most recent message kind in the document.
func (b *GeminiBuilder) GetLastAction(path string) string {
	events := b.ParseEvents(path)
	for i := len(events) - 1; i >= 0; i-- {
		switch events[i].Type {
		case event.TypeUserMessage, event.TypeAssistantResponse, event.TypeError:
			return describeAction(events[i])
		}
	}
	return ""
}

// HasCompletion reports whether the document ends on an assistant turn,
// Gemini's only terminal signal.
func (b *GeminiBuilder) HasCompletion(path string) bool {
	doc, ok := b.readDocument(path)
	if !ok || len(doc.Messages) == 0 {
		return false
	}
	last := doc.Messages[len(doc.Messages)-1]
	return last.Role == "model" || last.Role == "assistant"
}

// ComputeStatus runs the shared liveness state machine.
func (b *GeminiBuilder) ComputeStatus(lastModified, now time.Time, lastAction string, hasCompletion bool, projectPath string, liveProjects map[string]struct{}) (event.Status, string) {
	return ComputeStatus(b.opts.Status, lastModified, now, lastAction, hasCompletion, projectPath, liveProjects)
}

// ClassifyRisk grades a tool invocation.
func (b *GeminiBuilder) ClassifyRisk(toolName string, toolInput map[string]any) event.RiskLevel {
	return ClassifyRisk(toolName, toolInput)
}

// ExtractThinking returns only the reasoning events of a document.
func (b *GeminiBuilder) ExtractThinking(path string) []event.NormalizedEvent {
	return filterByType(b.ParseEvents(path), event.TypeThinking)
}

// ExtractDecisions returns only the decision events of a document.
func (b *GeminiBuilder) ExtractDecisions(path string) []event.NormalizedEvent {
	return filterByType(b.ParseEvents(path), event.TypeDecision)
}

// ProjectPath reads the project path recorded in the document header.
func (b *GeminiBuilder) ProjectPath(path string) string {
	doc, ok := b.readDocument(path)
	if !ok {
		return ""
	}
	return doc.ProjectPath
}

func (b *GeminiBuilder) readDocument(path string) (geminiDocument, bool) {
	var doc geminiDocument
	if overSizeLimit(path, b.opts.maxSize()) {
		return doc, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return doc, false
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, false
	}
	return doc, true
}

func geminiRaw(doc geminiDocument) map[string]any {
	raw := map[string]any{"type": "session"}
	if doc.ProjectHash != "" {
		raw["project_hash"] = doc.ProjectHash
	}
	return raw
}

// flattenGeminiContent renders a message content value (string or part
// array) as plain text.
func flattenGeminiContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var parts []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	out := ""
	for _, p := range parts {
		if p.Text == "" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += p.Text
	}
	return out
}
