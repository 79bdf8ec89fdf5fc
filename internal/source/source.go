// Package source discovers and parses AI coding tool transcripts into the
// unified event model. One builder per source format; everything downstream
// of this package is source-agnostic.
package source

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"agentwatch/internal/event"
)

// DefaultMaxFileSize guards against unbounded memory use on oversized
// transcripts when no configured limit is supplied.
const DefaultMaxFileSize = 50 * 1024 * 1024

// Builder converts raw transcript bytes from one source format into
// normalized events. Builders are stateless and perform read-only
// filesystem access only.
type Builder interface {
	// Source returns the format this builder understands.
	Source() event.Source

	// ParseLine parses one line of an append-only transcript. Malformed or
	// empty input yields an empty slice, never an error. Whole-document
	// sources return nil unconditionally.
	ParseLine(line []byte, sessionID string) []event.NormalizedEvent

	// ParseEvents parses an entire transcript from the start. Files over
	// the size guard parse to an empty slice.
	ParseEvents(path string) []event.NormalizedEvent

	// GetLastAction reports a short description of the most recent
	// tool call or message without retaining the full event list.
	GetLastAction(path string) string

	// ProjectPath reads the working directory recorded in the transcript,
	// or "" when the source does not record one.
	ProjectPath(path string) string

	// HasCompletion reports whether a terminal marker was observed in the
	// transcript (summary entry, turn end, final response).
	HasCompletion(path string) bool

	// ComputeStatus runs the shared liveness state machine for a session
	// of this source.
	ComputeStatus(lastModified, now time.Time, lastAction string, hasCompletion bool, projectPath string, liveProjects map[string]struct{}) (event.Status, string)

	// ClassifyRisk grades a tool invocation.
	ClassifyRisk(toolName string, toolInput map[string]any) event.RiskLevel

	// ExtractThinking returns only the reasoning events of a transcript.
	ExtractThinking(path string) []event.NormalizedEvent

	// ExtractDecisions returns only the decision events of a transcript.
	ExtractDecisions(path string) []event.NormalizedEvent
}

// Options parameterizes builder construction.
type Options struct {
	MaxFileSize int64
	Status      StatusWindows
}

func (o Options) maxSize() int64 {
	if o.MaxFileSize > 0 {
		return o.MaxFileSize
	}
	return DefaultMaxFileSize
}

// ForSource returns the builder for a source.
func ForSource(s event.Source, opts Options) (Builder, error) {
	switch s {
	case event.SourceClaude:
		return NewClaudeBuilder(opts), nil
	case event.SourceCodex:
		return NewCodexBuilder(opts), nil
	case event.SourceGemini:
		return NewGeminiBuilder(opts), nil
	}
	return nil, fmt.Errorf("unknown source: %s", s)
}

// Builders returns one builder per requested source (all sources when the
// list is empty).
func Builders(sources []event.Source, opts Options) map[event.Source]Builder {
	if len(sources) == 0 {
		sources = event.AllSources()
	}
	out := make(map[event.Source]Builder, len(sources))
	for _, s := range sources {
		if b, err := ForSource(s, opts); err == nil {
			out[s] = b
		}
	}
	return out
}

// overSizeLimit reports whether path exceeds the size guard. Unreadable
// files count as over the limit so callers fall through to an empty parse.
func overSizeLimit(path string, max int64) bool {
	info, err := os.Stat(path)
	if err != nil {
		return true
	}
	return info.Size() > max
}

// depthForPath derives the agent nesting depth from the transcript's
// location: one level per subagents/ path segment, or one level for an
// agent-* sibling transcript that has no subagents/ parent. Both layouts
// place a first-level subagent at depth 1.
func depthForPath(path string) int {
	depth := 0
	for _, part := range strings.Split(filepath.Dir(path), string(filepath.Separator)) {
		if part == "subagents" {
			depth++
		}
	}
	if depth == 0 && strings.HasPrefix(filepath.Base(path), "agent-") {
		depth = 1
	}
	return depth
}

// applyDepth stamps a uniform agent depth on a parsed event sequence.
func applyDepth(events []event.NormalizedEvent, depth int) {
	if depth == 0 {
		return
	}
	for i := range events {
		events[i].AgentDepth = depth
	}
}

// stableSort orders events by timestamp, preserving parse order for ties.
// Zero timestamps sort before everything so header events stay first.
func stableSort(events []event.NormalizedEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
}

// synthID derives a deterministic event id from the raw bytes of a line and
// its position, for lines that carry no usable id of their own.
func synthID(line []byte, index int) string {
	h := fnv.New64a()
	_, _ = h.Write(line)
	return fmt.Sprintf("ev-%d-%x", index, h.Sum64())
}

// filterByType keeps only events of the given type.
func filterByType(events []event.NormalizedEvent, t event.Type) []event.NormalizedEvent {
	var out []event.NormalizedEvent
	for _, ev := range events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// truncateContent bounds free-text content carried on an event. The
// presentation layer owns display truncation; this only caps memory. The
// cut backs up to a rune boundary so the result stays valid UTF-8.
func truncateContent(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
