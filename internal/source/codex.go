package source

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"time"

	"agentwatch/internal/event"
)

// codexToolNames maps Codex function-call primitives onto the unified tool
// vocabulary the risk classifier understands.
var codexToolNames = map[string]string{
	"shell":        "Bash",
	"local_shell":  "Bash",
	"exec_command": "Bash",
	"read_file":    "Read",
	"list_dir":     "LS",
	"grep":         "Grep",
	"write_file":   "Write",
	"apply_patch":  "Edit",
	"update_plan":  "TodoWrite",
	"web_search":   "WebSearch",
	"view_image":   "Read",
}

// codexRecord is the envelope wrapping every line of a Codex transcript.
type codexRecord struct {
	Timestamp string          `json:"timestamp"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

type codexSessionMeta struct {
	ID         string `json:"id"`
	Timestamp  string `json:"timestamp"`
	Cwd        string `json:"cwd"`
	Originator string `json:"originator"`
	CLIVersion string `json:"cli_version"`
}

type codexResponseItem struct {
	Type      string          `json:"type"`
	Role      string          `json:"role"`
	ID        string          `json:"id,omitempty"`
	CallID    string          `json:"call_id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Arguments string          `json:"arguments,omitempty"`
	Output    string          `json:"output,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	Summary   json.RawMessage `json:"summary,omitempty"`
}

type codexEventMsg struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// CodexBuilder parses Codex's line-delimited envelope+payload transcript
// format. Codex emits no explicit reasoning blocks, so a synthetic
// thinking event precedes each function call (raw_data.synthetic=true)
// to keep the event shape uniform across sources.
type CodexBuilder struct {
	opts Options
}

// NewCodexBuilder returns a builder for Codex transcripts.
func NewCodexBuilder(opts Options) *CodexBuilder {
	return &CodexBuilder{opts: opts}
}

// Source returns the codex source tag.
func (b *CodexBuilder) Source() event.Source { return event.SourceCodex }

// ParseLine parses one envelope line into zero or more normalized events.
func (b *CodexBuilder) ParseLine(line []byte, sessionID string) []event.NormalizedEvent {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}

	var rec codexRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil
	}

	ts := parseClaudeTime(rec.Timestamp)

	switch rec.Type {
	case "session_meta":
		return b.sessionMetaEvents(rec.Payload, line, sessionID, ts)
	case "response_item":
		return b.responseItemEvents(rec.Payload, line, sessionID, ts)
	case "event_msg":
		return b.eventMsgEvents(rec.Payload, line, sessionID, ts)
	default:
		return nil
	}
}

func (b *CodexBuilder) sessionMetaEvents(payload json.RawMessage, line []byte, sessionID string, ts time.Time) []event.NormalizedEvent {
	var meta codexSessionMeta
	if err := json.Unmarshal(payload, &meta); err != nil {
		return nil
	}
	id := meta.ID
	if id == "" {
		id = synthID(line, 0)
	}
	raw := map[string]any{"type": "session_meta"}
	if meta.Cwd != "" {
		raw["cwd"] = meta.Cwd
	}
	if meta.CLIVersion != "" {
		raw["cli_version"] = meta.CLIVersion
	}
	return []event.NormalizedEvent{{
		ID:        id + ":start",
		SessionID: sessionID,
		Timestamp: ts,
		Type:      event.TypeSessionStart,
		Risk:      event.RiskSafe,
		Raw:       raw,
	}}
}

func (b *CodexBuilder) responseItemEvents(payload json.RawMessage, line []byte, sessionID string, ts time.Time) []event.NormalizedEvent {
	var item codexResponseItem
	if err := json.Unmarshal(payload, &item); err != nil {
		return nil
	}

	baseID := item.ID
	if baseID == "" {
		baseID = item.CallID
	}
	if baseID == "" {
		baseID = synthID(line, 0)
	}

	switch item.Type {
	case "message":
		content := truncateContent(flattenBlockContent(item.Content), 4000)
		if content == "" {
			return nil
		}
		t := event.TypeAssistantResponse
		if item.Role == "user" {
			t = event.TypeUserMessage
		}
		ev := event.NormalizedEvent{
			ID:        baseID,
			SessionID: sessionID,
			Timestamp: ts,
			Type:      t,
			Content:   content,
			Risk:      event.RiskSafe,
			Raw:       map[string]any{"type": "response_item", "payload_type": item.Type},
		}
		out := []event.NormalizedEvent{ev}
		if t == event.TypeAssistantResponse {
			out = append(out, decisionEvents(ev, content)...)
		}
		return out

	case "reasoning":
		content := truncateContent(flattenBlockContent(item.Summary), 4000)
		ev := event.NormalizedEvent{
			ID:        baseID,
			SessionID: sessionID,
			Timestamp: ts,
			Type:      event.TypeThinking,
			Content:   content,
			Risk:      event.RiskSafe,
			Raw:       map[string]any{"type": "response_item", "payload_type": item.Type},
		}
		return append([]event.NormalizedEvent{ev}, decisionEvents(ev, content)...)

	case "function_call", "custom_tool_call":
		name := codexToolNames[item.Name]
		if name == "" {
			name = item.Name
		}
		input := parseCodexArguments(item.Arguments)

		// Synthesized reasoning precedes the call so every source shows a
		// thinking step before tool use.
		synth := event.NormalizedEvent{
			ID:        baseID + ":pre",
			SessionID: sessionID,
			Timestamp: ts,
			Type:      event.TypeThinking,
			Content:   "Preparing to run " + name,
			Risk:      event.RiskSafe,
			Raw:       map[string]any{"synthetic": true},
		}
		call := event.NormalizedEvent{
			ID:        baseID,
			SessionID: sessionID,
			Timestamp: ts,
			Type:      event.TypeToolCall,
			ToolName:  name,
			ToolInput: input,
			Risk:      ClassifyRisk(name, input),
			Raw:       map[string]any{"type": "response_item", "payload_type": item.Type, "codex_tool": item.Name},
		}
		return []event.NormalizedEvent{synth, call}

	case "function_call_output", "custom_tool_call_output":
		return []event.NormalizedEvent{{
			ID:            baseID + ":out",
			SessionID:     sessionID,
			Timestamp:     ts,
			Type:          event.TypeToolResult,
			ToolOutput:    truncateContent(item.Output, 4000),
			Risk:          event.RiskSafe,
			ParentEventID: item.CallID,
			Raw:           map[string]any{"type": "response_item", "payload_type": item.Type},
		}}
	}

	return nil
}

func (b *CodexBuilder) eventMsgEvents(payload json.RawMessage, line []byte, sessionID string, ts time.Time) []event.NormalizedEvent {
	var msg codexEventMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil
	}

	switch msg.Type {
	case "error":
		return []event.NormalizedEvent{{
			ID:        synthID(line, 0),
			SessionID: sessionID,
			Timestamp: ts,
			Type:      event.TypeError,
			Content:   truncateContent(msg.Message, 2000),
			Risk:      event.RiskSafe,
			Raw:       map[string]any{"type": "event_msg", "payload_type": msg.Type},
		}}
	case "turn_aborted":
		return []event.NormalizedEvent{{
			ID:        synthID(line, 0),
			SessionID: sessionID,
			Timestamp: ts,
			Type:      event.TypeError,
			Content:   "turn aborted: " + msg.Reason,
			Risk:      event.RiskSafe,
			Raw:       map[string]any{"type": "event_msg", "payload_type": msg.Type},
		}}
	default:
		// agent_message/user_message duplicate response_item content and
		// token_count carries no session narrative.
		return nil
	}
}

// ParseEvents parses an entire transcript line by line, skipping malformed
// lines. Files over the size guard parse to an empty slice.
func (b *CodexBuilder) ParseEvents(path string) []event.NormalizedEvent {
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

// GetLastAction probes the transcript tail for the most recent action.
func (b *CodexBuilder) GetLastAction(path string) string {
	data, _, err := ReadTail(path, lastActionTailBytes)
	if err != nil {
		return ""
	}
	return lastActionFromLines(TailLines(data), func(line []byte) []event.NormalizedEvent {
		return b.ParseLine(line, "")
	})
}

// HasCompletion reports whether the tail carries a terminal event_msg
// (task completion, shutdown, or an aborted turn).
func (b *CodexBuilder) HasCompletion(path string) bool {
	data, _, err := ReadTail(path, lastActionTailBytes)
	if err != nil {
		return false
	}
	for _, line := range TailLines(data) {
		var rec codexRecord
		if json.Unmarshal(line, &rec) != nil || rec.Type != "event_msg" {
			continue
		}
		var msg codexEventMsg
		if json.Unmarshal(rec.Payload, &msg) != nil {
			continue
		}
		switch msg.Type {
		case "task_complete", "shutdown_complete", "turn_aborted":
			return true
		}
	}
	return false
}

// ComputeStatus runs the shared liveness state machine.
func (b *CodexBuilder) ComputeStatus(lastModified, now time.Time, lastAction string, hasCompletion bool, projectPath string, liveProjects map[string]struct{}) (event.Status, string) {
	return ComputeStatus(b.opts.Status, lastModified, now, lastAction, hasCompletion, projectPath, liveProjects)
}

// ClassifyRisk grades a tool invocation after codex-name mapping.
func (b *CodexBuilder) ClassifyRisk(toolName string, toolInput map[string]any) event.RiskLevel {
	if mapped, ok := codexToolNames[toolName]; ok {
		toolName = mapped
	}
	return ClassifyRisk(toolName, toolInput)
}

// ExtractThinking returns only the reasoning events of a transcript,
// synthetic ones included.
func (b *CodexBuilder) ExtractThinking(path string) []event.NormalizedEvent {
	return filterByType(b.ParseEvents(path), event.TypeThinking)
}

// ExtractDecisions returns only the decision events of a transcript.
func (b *CodexBuilder) ExtractDecisions(path string) []event.NormalizedEvent {
	return filterByType(b.ParseEvents(path), event.TypeDecision)
}

// ProjectPath reads the working directory from the session_meta header.
func (b *CodexBuilder) ProjectPath(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 256*1024), 2*1024*1024)
	for i := 0; scanner.Scan() && i < 10; i++ {
		var rec codexRecord
		if json.Unmarshal(scanner.Bytes(), &rec) != nil || rec.Type != "session_meta" {
			continue
		}
		var meta codexSessionMeta
		if json.Unmarshal(rec.Payload, &meta) == nil && meta.Cwd != "" {
			return meta.Cwd
		}
	}
	return ""
}

// parseCodexArguments decodes a function call's JSON-encoded argument
// string. Undecodable arguments are preserved raw.
func parseCodexArguments(args string) map[string]any {
	if args == "" {
		return nil
	}
	var input map[string]any
	if err := json.Unmarshal([]byte(args), &input); err != nil {
		return map[string]any{"raw_arguments": args}
	}
	return input
}
