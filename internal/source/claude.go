package source

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"agentwatch/internal/event"
)

// lastActionTailBytes bounds how much of a transcript the cheap
// last-action/completion probes read.
const lastActionTailBytes = 256 * 1024

// spawnToolName is the delegation primitive: a tool_use block with this
// name starts a sub-agent whose own transcript is discovered separately.
const spawnToolName = "Task"

// claudeEntry mirrors one line of a Claude Code JSONL transcript.
type claudeEntry struct {
	Type       string         `json:"type"`
	Subtype    string         `json:"subtype,omitempty"`
	UUID       string         `json:"uuid,omitempty"`
	ParentUUID string         `json:"parentUuid,omitempty"`
	Timestamp  string         `json:"timestamp,omitempty"`
	SessionID  string         `json:"sessionId,omitempty"`
	Cwd        string         `json:"cwd,omitempty"`
	Summary    string         `json:"summary,omitempty"`
	Message    *claudeMessage `json:"message,omitempty"`
	IsError    bool           `json:"isError,omitempty"`
}

type claudeMessage struct {
	ID      string          `json:"id,omitempty"`
	Role    string          `json:"role"`
	Model   string          `json:"model,omitempty"`
	Content json.RawMessage `json:"content"`
}

// claudeBlock is one element of an assistant content array, or a
// tool_result block inside a user message.
type claudeBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	Thinking  string         `json:"thinking,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
}

// ClaudeBuilder parses Claude Code's line-delimited, nested-content
// transcript format.
type ClaudeBuilder struct {
	opts Options
}

// NewClaudeBuilder returns a builder for Claude Code transcripts.
func NewClaudeBuilder(opts Options) *ClaudeBuilder {
	return &ClaudeBuilder{opts: opts}
}

// Source returns the claude source tag.
func (b *ClaudeBuilder) Source() event.Source { return event.SourceClaude }

// ParseLine parses one JSONL line into zero or more normalized events.
// Malformed input yields an empty slice.
func (b *ClaudeBuilder) ParseLine(line []byte, sessionID string) []event.NormalizedEvent {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}

	var entry claudeEntry
	if err := json.Unmarshal(line, &entry); err != nil {
		return nil
	}
	if sessionID != "" {
		entry.SessionID = sessionID
	}

	ts := parseClaudeTime(entry.Timestamp)
	baseID := entry.UUID
	if baseID == "" {
		baseID = synthID(line, 0)
	}

	switch entry.Type {
	case "user":
		return b.userEvents(entry, baseID, ts)
	case "assistant":
		return b.assistantEvents(entry, baseID, ts)
	case "system":
		if entry.Subtype == "error" || entry.IsError {
			return []event.NormalizedEvent{{
				ID:        baseID,
				SessionID: entry.SessionID,
				Timestamp: ts,
				Type:      event.TypeError,
				Content:   truncateContent(entry.Summary, 2000),
				Risk:      event.RiskSafe,
				Raw:       claudeRaw(entry),
			}}
		}
		return nil
	default:
		// summary and other housekeeping entries carry no events; summary
		// presence is picked up by the completion probe.
		return nil
	}
}

func (b *ClaudeBuilder) userEvents(entry claudeEntry, baseID string, ts time.Time) []event.NormalizedEvent {
	if entry.Message == nil {
		return nil
	}

	var out []event.NormalizedEvent

	// Content is either a bare string or an array of typed blocks. Tool
	// results ride along in user-role messages.
	var text string
	if err := json.Unmarshal(entry.Message.Content, &text); err == nil {
		if text != "" {
			out = append(out, event.NormalizedEvent{
				ID:        baseID,
				SessionID: entry.SessionID,
				Timestamp: ts,
				Type:      event.TypeUserMessage,
				Content:   truncateContent(text, 4000),
				Risk:      event.RiskSafe,
				Raw:       claudeRaw(entry),
			})
		}
		return out
	}

	var blocks []claudeBlock
	if err := json.Unmarshal(entry.Message.Content, &blocks); err != nil {
		return nil
	}

	for i, blk := range blocks {
		switch blk.Type {
		case "text":
			if blk.Text == "" {
				continue
			}
			out = append(out, event.NormalizedEvent{
				ID:        blockID(baseID, i),
				SessionID: entry.SessionID,
				Timestamp: ts,
				Type:      event.TypeUserMessage,
				Content:   truncateContent(blk.Text, 4000),
				Risk:      event.RiskSafe,
				Raw:       claudeRaw(entry),
			})
		case "tool_result":
			ev := event.NormalizedEvent{
				ID:            blockID(baseID, i),
				SessionID:     entry.SessionID,
				Timestamp:     ts,
				Type:          event.TypeToolResult,
				ToolOutput:    truncateContent(flattenBlockContent(blk.Content), 4000),
				Risk:          event.RiskSafe,
				ParentEventID: blk.ToolUseID,
				Raw:           claudeRaw(entry),
			}
			if blk.IsError {
				ev.Type = event.TypeError
				ev.Content = ev.ToolOutput
			}
			out = append(out, ev)
		}
	}
	return out
}

func (b *ClaudeBuilder) assistantEvents(entry claudeEntry, baseID string, ts time.Time) []event.NormalizedEvent {
	if entry.Message == nil {
		return nil
	}

	var blocks []claudeBlock
	if err := json.Unmarshal(entry.Message.Content, &blocks); err != nil {
		return nil
	}

	var out []event.NormalizedEvent
	for i, blk := range blocks {
		switch blk.Type {
		case "thinking":
			ev := event.NormalizedEvent{
				ID:        blockID(baseID, i),
				SessionID: entry.SessionID,
				Timestamp: ts,
				Type:      event.TypeThinking,
				Content:   truncateContent(blk.Thinking, 4000),
				Risk:      event.RiskSafe,
				Raw:       claudeRaw(entry),
			}
			out = append(out, ev)
			out = append(out, decisionEvents(ev, blk.Thinking)...)

		case "text":
			if blk.Text == "" {
				continue
			}
			ev := event.NormalizedEvent{
				ID:        blockID(baseID, i),
				SessionID: entry.SessionID,
				Timestamp: ts,
				Type:      event.TypeAssistantResponse,
				Content:   truncateContent(blk.Text, 4000),
				Risk:      event.RiskSafe,
				Raw:       claudeRaw(entry),
			}
			out = append(out, ev)
			out = append(out, decisionEvents(ev, blk.Text)...)

		case "tool_use":
			id := blk.ID
			if id == "" {
				id = blockID(baseID, i)
			}
			ev := event.NormalizedEvent{
				ID:        id,
				SessionID: entry.SessionID,
				Timestamp: ts,
				Type:      event.TypeToolCall,
				ToolName:  blk.Name,
				ToolInput: blk.Input,
				Risk:      ClassifyRisk(blk.Name, blk.Input),
				Raw:       claudeRaw(entry),
			}
			if blk.Name == spawnToolName {
				// The block's own id doubles as the parent-event back
				// reference the sub-agent transcript is named after.
				ev.Type = event.TypeAgentSpawn
				ev.ParentEventID = id
				ev.Content = truncateContent(stringInput(blk.Input, "prompt"), 2000)
			}
			out = append(out, ev)
		}
	}
	return out
}

// ParseEvents parses an entire transcript: ParseLine applied per line with
// malformed lines skipped. Files over the size guard parse to an empty
// slice.
func (b *ClaudeBuilder) ParseEvents(path string) []event.NormalizedEvent {
	if overSizeLimit(path, b.opts.maxSize()) {
		return []event.NormalizedEvent{}
	}

	f, err := os.Open(path)
	if err != nil {
		return []event.NormalizedEvent{}
	}
	defer func() { _ = f.Close() }()

	sessionID := sessionIDForPath(path)
	depth := depthForPath(path)

	var out []event.NormalizedEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 256*1024), 2*1024*1024)
	for scanner.Scan() {
		out = append(out, b.ParseLine(scanner.Bytes(), sessionID)...)
	}

	applyDepth(out, depth)
	stableSort(out)
	return out
}

// GetLastAction probes the tail of the transcript for the most recent
// meaningful action without a full parse.
func (b *ClaudeBuilder) GetLastAction(path string) string {
	data, _, err := ReadTail(path, lastActionTailBytes)
	if err != nil {
		return ""
	}
	return lastActionFromLines(TailLines(data), func(line []byte) []event.NormalizedEvent {
		return b.ParseLine(line, "")
	})
}

// HasCompletion reports whether the transcript tail carries a summary
// entry, Claude's terminal marker for a finished turn.
func (b *ClaudeBuilder) HasCompletion(path string) bool {
	data, _, err := ReadTail(path, lastActionTailBytes)
	if err != nil {
		return false
	}
	for _, line := range TailLines(data) {
		var entry claudeEntry
		if json.Unmarshal(line, &entry) != nil {
			continue
		}
		if entry.Type == "summary" {
			return true
		}
	}
	return false
}

// ComputeStatus runs the shared liveness state machine.
func (b *ClaudeBuilder) ComputeStatus(lastModified, now time.Time, lastAction string, hasCompletion bool, projectPath string, liveProjects map[string]struct{}) (event.Status, string) {
	return ComputeStatus(b.opts.Status, lastModified, now, lastAction, hasCompletion, projectPath, liveProjects)
}

// ClassifyRisk grades a tool invocation.
func (b *ClaudeBuilder) ClassifyRisk(toolName string, toolInput map[string]any) event.RiskLevel {
	return ClassifyRisk(toolName, toolInput)
}

// ExtractThinking returns only the reasoning events of a transcript.
func (b *ClaudeBuilder) ExtractThinking(path string) []event.NormalizedEvent {
	return filterByType(b.ParseEvents(path), event.TypeThinking)
}

// ExtractDecisions returns only the decision events of a transcript.
func (b *ClaudeBuilder) ExtractDecisions(path string) []event.NormalizedEvent {
	return filterByType(b.ParseEvents(path), event.TypeDecision)
}

// ProjectPath reads the working directory recorded in the transcript head.
func (b *ClaudeBuilder) ProjectPath(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 256*1024), 2*1024*1024)
	for i := 0; scanner.Scan() && i < 50; i++ {
		var entry claudeEntry
		if json.Unmarshal(scanner.Bytes(), &entry) != nil {
			continue
		}
		if entry.Cwd != "" {
			return entry.Cwd
		}
	}
	return ""
}

// decisionEvents derives decision events from a reasoning or response
// block, carrying the matched sentence only.
func decisionEvents(parent event.NormalizedEvent, text string) []event.NormalizedEvent {
	sentences := ExtractDecisionSentences(text)
	if len(sentences) == 0 {
		return nil
	}
	out := make([]event.NormalizedEvent, 0, len(sentences))
	for i, s := range sentences {
		out = append(out, event.NormalizedEvent{
			ID:            fmt.Sprintf("%s-d%d", parent.ID, i),
			SessionID:     parent.SessionID,
			Timestamp:     parent.Timestamp,
			Type:          event.TypeDecision,
			Content:       s,
			Risk:          event.RiskSafe,
			ParentEventID: parent.ID,
		})
	}
	return out
}

func blockID(baseID string, idx int) string {
	return fmt.Sprintf("%s:%d", baseID, idx)
}

func parseClaudeTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return ts
}

func claudeRaw(entry claudeEntry) map[string]any {
	raw := map[string]any{"type": entry.Type}
	if entry.ParentUUID != "" {
		raw["parent_uuid"] = entry.ParentUUID
	}
	if entry.Cwd != "" {
		raw["cwd"] = entry.Cwd
	}
	return raw
}

// flattenBlockContent renders a tool_result content value (string or block
// array) as plain text.
func flattenBlockContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var blocks []claudeBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var sb strings.Builder
	for _, blk := range blocks {
		if blk.Text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(blk.Text)
	}
	return sb.String()
}

func pathBase(path string) string {
	return filepath.Base(path)
}
