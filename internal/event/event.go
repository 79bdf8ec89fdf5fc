// Package event defines the source-agnostic session and event model shared
// by all transcript builders and consumers.
package event

import "time"

// Source identifies the AI coding tool that produced a transcript.
type Source string

const (
	SourceClaude Source = "claude"
	SourceCodex  Source = "codex"
	SourceGemini Source = "gemini"
)

// AllSources lists every supported source in a stable order.
func AllSources() []Source {
	return []Source{SourceClaude, SourceCodex, SourceGemini}
}

// ParseSource converts a string to a Source, reporting whether it is known.
func ParseSource(s string) (Source, bool) {
	switch Source(s) {
	case SourceClaude, SourceCodex, SourceGemini:
		return Source(s), true
	}
	return "", false
}

// Type classifies a normalized event.
type Type string

const (
	TypeThinking          Type = "thinking"
	TypeToolCall          Type = "tool_call"
	TypeToolResult        Type = "tool_result"
	TypeUserMessage       Type = "user_message"
	TypeAssistantResponse Type = "assistant_response"
	TypeAgentSpawn        Type = "agent_spawn"
	TypeDecision          Type = "decision"
	TypeError             Type = "error"
	TypeSessionStart      Type = "session_start"
)

// RiskLevel grades how dangerous a tool invocation is.
type RiskLevel string

const (
	RiskSafe     RiskLevel = "safe"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Rank orders risk levels for comparison (safe lowest).
func (r RiskLevel) Rank() int {
	switch r {
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	default:
		return 0
	}
}

// NormalizedEvent is one parsed occurrence inside a session, in the unified
// shape all three builders produce. Within a session, events are totally
// ordered by timestamp with ties broken by parse order, and re-parsing the
// same bytes yields an identical sequence.
type NormalizedEvent struct {
	ID            string         `json:"event_id"`
	SessionID     string         `json:"session_id"`
	Timestamp     time.Time      `json:"timestamp"`
	Type          Type           `json:"event_type"`
	Content       string         `json:"content,omitempty"`
	ToolName      string         `json:"tool_name,omitempty"`
	ToolInput     map[string]any `json:"tool_input,omitempty"`
	ToolOutput    string         `json:"tool_output,omitempty"`
	Risk          RiskLevel      `json:"risk_level"`
	AgentDepth    int            `json:"agent_depth"`
	ParentEventID string         `json:"parent_event_id,omitempty"`

	// Raw preserves source-specific fields downstream consumers may want.
	// Keys and value shapes are a per-source convention, not a contract.
	Raw map[string]any `json:"raw_data,omitempty"`
}
