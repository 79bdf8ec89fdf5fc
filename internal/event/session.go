package event

import "time"

// Status is the inferred liveness state of a session. It is recomputed from
// current evidence on every poll; there are no terminal states.
type Status string

const (
	StatusActive   Status = "active"
	StatusOpen     Status = "open"
	StatusCrashed  Status = "crashed"
	StatusIdle     Status = "idle"
	StatusOrphaned Status = "orphaned"
)

// Precedence returns the sort rank for a status. Discovery results order by
// this ascending: active, open, crashed, idle, orphaned.
func (s Status) Precedence() int {
	switch s {
	case StatusActive:
		return 0
	case StatusOpen:
		return 1
	case StatusCrashed:
		return 2
	case StatusIdle:
		return 3
	case StatusOrphaned:
		return 4
	}
	return 5
}

// Session describes one transcript file and its derived state.
type Session struct {
	ID            string    `json:"session_id"`
	Source        Source    `json:"source"`
	FilePath      string    `json:"file_path"`
	ProjectPath   string    `json:"project_path,omitempty"`
	Project       string    `json:"project,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	LastModified  time.Time `json:"last_modified"`
	Status        Status    `json:"status"`
	StatusReason  string    `json:"status_reason,omitempty"`
	EventCount    int       `json:"event_count"`
	AgentDepth    int       `json:"agent_depth"`
	ParentSession string    `json:"parent_session,omitempty"`
	LastAction    string    `json:"last_action,omitempty"`
	HasCompletion bool      `json:"has_completion"`
	FileSize      int64     `json:"file_size_bytes"`

	// Error carries a per-session failure marker from batch discovery.
	// A non-empty Error never aborts the batch it was recorded in.
	Error string `json:"error,omitempty"`
}

// StreamPosition is a per-session incremental-read cursor. Append-only
// sources advance Offset past complete lines; whole-document sources use
// DocSize as a change-detection token and Emitted as the count of events
// already delivered.
type StreamPosition struct {
	Offset  int64 `json:"offset"`
	DocSize int64 `json:"doc_size"`
	Emitted int   `json:"emitted"`
}

// ContextSummary is the folded working-context view of a session.
type ContextSummary struct {
	SessionID     string         `json:"session_id"`
	FilesRead     []string       `json:"files_read"`
	FilesModified []string       `json:"files_modified"`
	ToolCounts    map[string]int `json:"tool_counts"`
	Decisions     []string       `json:"decisions"`
}

// HealthSummary aggregates per-session activity counters.
type HealthSummary struct {
	SessionID          string    `json:"session_id"`
	Status             Status    `json:"status"`
	ToolCalls          int       `json:"tool_calls"`
	ErrorCount         int       `json:"error_count"`
	ThinkingBlocks     int       `json:"thinking_blocks"`
	UserMessages       int       `json:"user_messages"`
	AssistantResponses int       `json:"assistant_responses"`
	HighRiskCalls      int       `json:"high_risk_calls"`
	LastEventAt        time.Time `json:"last_event_at"`
}

// PlanningDoc is an excerpt of a project planning document bundled into a
// snapshot when requested.
type PlanningDoc struct {
	Path    string `json:"path"`
	Excerpt string `json:"excerpt"`
}

// Snapshot is a portable context-handoff bundle sized for transfer to a
// fresh assistant session.
type Snapshot struct {
	SessionID       string        `json:"session_id"`
	Source          Source        `json:"source"`
	GeneratedAt     time.Time     `json:"generated_at"`
	ProjectPath     string        `json:"project_path,omitempty"`
	Intent          string        `json:"intent,omitempty"`
	Status          Status        `json:"status"`
	LastAction      string        `json:"last_action,omitempty"`
	RecentDecisions []string      `json:"recent_decisions"`
	FilesRead       []string      `json:"files_read"`
	FilesModified   []string      `json:"files_modified"`
	PlanningDocs    []PlanningDoc `json:"planning_docs,omitempty"`
}
