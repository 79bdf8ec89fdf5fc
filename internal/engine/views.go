package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"agentwatch/internal/event"
	"agentwatch/internal/source"
)

const (
	maxSnapshotDecisions = 5
	planningDocExcerpt   = 2048
)

// planningDocNames are the project files a snapshot bundles when asked to
// include docs.
var planningDocNames = []string{"CLAUDE.md", "AGENTS.md", "PLAN.md", "TODO.md", "README.md"}

// Context folds a session's timeline into its working-context view.
func (e *Engine) Context(sessionID string) (event.ContextSummary, error) {
	events, err := e.Events(sessionID, false)
	if err != nil {
		return event.ContextSummary{}, err
	}

	summary := event.ContextSummary{
		SessionID:  sessionID,
		ToolCounts: make(map[string]int),
	}
	read := make(map[string]struct{})
	modified := make(map[string]struct{})

	for _, ev := range events {
		switch ev.Type {
		case event.TypeToolCall:
			summary.ToolCounts[ev.ToolName]++
			if p := filePathArg(ev.ToolInput); p != "" {
				if source.MutatesState(ev.ToolName) {
					modified[p] = struct{}{}
				} else {
					read[p] = struct{}{}
				}
			}
		case event.TypeDecision:
			summary.Decisions = append(summary.Decisions, ev.Content)
		}
	}

	summary.FilesRead = sortedKeys(read)
	summary.FilesModified = sortedKeys(modified)
	return summary, nil
}

// Health folds a session's timeline into its activity counters.
func (e *Engine) Health(sessionID string) (event.HealthSummary, error) {
	s, ok := e.lookup(sessionID)
	if !ok {
		return event.HealthSummary{}, fmt.Errorf("unknown session %q", sessionID)
	}
	events, err := e.Events(sessionID, false)
	if err != nil {
		return event.HealthSummary{}, err
	}

	summary := event.HealthSummary{
		SessionID: sessionID,
		Status:    s.Status,
	}
	for _, ev := range events {
		switch ev.Type {
		case event.TypeToolCall:
			summary.ToolCalls++
			if ev.Risk.Rank() >= event.RiskHigh.Rank() {
				summary.HighRiskCalls++
			}
		case event.TypeError:
			summary.ErrorCount++
		case event.TypeThinking:
			summary.ThinkingBlocks++
		case event.TypeUserMessage:
			summary.UserMessages++
		case event.TypeAssistantResponse:
			summary.AssistantResponses++
		}
		if ev.Timestamp.After(summary.LastEventAt) {
			summary.LastEventAt = ev.Timestamp
		}
	}
	return summary, nil
}

// ExportSnapshot builds the context-handoff bundle for a session. Intent is
// the first user message; decisions are the most recent few.
func (e *Engine) ExportSnapshot(sessionID string, includeDocs bool) (event.Snapshot, error) {
	s, ok := e.lookup(sessionID)
	if !ok {
		return event.Snapshot{}, fmt.Errorf("unknown session %q", sessionID)
	}
	ctx, err := e.Context(sessionID)
	if err != nil {
		return event.Snapshot{}, err
	}
	events, err := e.Events(sessionID, false)
	if err != nil {
		return event.Snapshot{}, err
	}

	snap := event.Snapshot{
		SessionID:     sessionID,
		Source:        s.Source,
		GeneratedAt:   e.now(),
		ProjectPath:   s.ProjectPath,
		Status:        s.Status,
		LastAction:    s.LastAction,
		FilesRead:     ctx.FilesRead,
		FilesModified: ctx.FilesModified,
	}

	for _, ev := range events {
		if ev.Type == event.TypeUserMessage {
			snap.Intent = ev.Content
			break
		}
	}

	decisions := ctx.Decisions
	if len(decisions) > maxSnapshotDecisions {
		decisions = decisions[len(decisions)-maxSnapshotDecisions:]
	}
	snap.RecentDecisions = decisions

	if includeDocs && s.ProjectPath != "" {
		snap.PlanningDocs = readPlanningDocs(s.ProjectPath)
	}

	return snap, nil
}

// readPlanningDocs collects excerpts of well-known planning files under a
// project directory. Missing files are skipped silently.
func readPlanningDocs(projectPath string) []event.PlanningDoc {
	var docs []event.PlanningDoc
	for _, name := range planningDocNames {
		path := filepath.Join(projectPath, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		excerpt := string(data)
		if len(excerpt) > planningDocExcerpt {
			excerpt = excerpt[:planningDocExcerpt]
		}
		docs = append(docs, event.PlanningDoc{Path: path, Excerpt: strings.TrimSpace(excerpt)})
	}
	return docs
}

// filePathArg pulls the file-like argument out of a tool's input.
func filePathArg(input map[string]any) string {
	for _, key := range []string{"file_path", "path", "notebook_path"} {
		if v, ok := input[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
