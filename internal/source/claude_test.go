package source

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"agentwatch/internal/event"
)

// writeTranscript creates a temp JSONL file and returns its path.
func writeTranscript(t *testing.T, name string, lines ...string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func claudeBuilderForTest() *ClaudeBuilder {
	return NewClaudeBuilder(Options{})
}

func TestClaudeParseLine_UserMessage(t *testing.T) {
	b := claudeBuilderForTest()
	line := `{"type":"user","uuid":"u1","timestamp":"2025-06-01T10:00:00Z","sessionId":"s1","message":{"role":"user","content":"fix the build"}}`

	events := b.ParseLine([]byte(line), "")
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Type != event.TypeUserMessage {
		t.Errorf("Type = %s, want %s", ev.Type, event.TypeUserMessage)
	}
	if ev.ID != "u1" {
		t.Errorf("ID = %q, want u1", ev.ID)
	}
	if ev.SessionID != "s1" {
		t.Errorf("SessionID = %q, want s1", ev.SessionID)
	}
	if ev.Content != "fix the build" {
		t.Errorf("Content = %q", ev.Content)
	}
}

func TestClaudeParseLine_AssistantBlocks(t *testing.T) {
	b := claudeBuilderForTest()
	line := `{"type":"assistant","uuid":"a1","timestamp":"2025-06-01T10:01:00Z","message":{"role":"assistant","content":[` +
		`{"type":"thinking","thinking":"The tests are failing"},` +
		`{"type":"text","text":"Here is the fix"},` +
		`{"type":"tool_use","id":"toolu_01","name":"Edit","input":{"file_path":"/src/main.go"}}]}}`

	events := b.ParseLine([]byte(line), "s1")

	var thinking, response, call *event.NormalizedEvent
	for i := range events {
		switch events[i].Type {
		case event.TypeThinking:
			thinking = &events[i]
		case event.TypeAssistantResponse:
			response = &events[i]
		case event.TypeToolCall:
			call = &events[i]
		}
	}

	if thinking == nil || thinking.Content != "The tests are failing" {
		t.Errorf("thinking event missing or wrong: %+v", thinking)
	}
	if response == nil || response.Content != "Here is the fix" {
		t.Errorf("response event missing or wrong: %+v", response)
	}
	if call == nil {
		t.Fatal("tool call event missing")
	}
	if call.ID != "toolu_01" {
		t.Errorf("call ID = %q, want toolu_01", call.ID)
	}
	if call.ToolName != "Edit" {
		t.Errorf("ToolName = %q, want Edit", call.ToolName)
	}
	if call.Risk != event.RiskMedium {
		t.Errorf("Risk = %s, want medium", call.Risk)
	}
}

func TestClaudeParseLine_ToolResultParent(t *testing.T) {
	b := claudeBuilderForTest()
	line := `{"type":"user","uuid":"u2","timestamp":"2025-06-01T10:02:00Z","message":{"role":"user","content":[` +
		`{"type":"tool_result","tool_use_id":"toolu_01","content":"done"}]}}`

	events := b.ParseLine([]byte(line), "s1")
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Type != event.TypeToolResult {
		t.Errorf("Type = %s, want %s", events[0].Type, event.TypeToolResult)
	}
	if events[0].ParentEventID != "toolu_01" {
		t.Errorf("ParentEventID = %q, want toolu_01", events[0].ParentEventID)
	}
	if events[0].ToolOutput != "done" {
		t.Errorf("ToolOutput = %q, want done", events[0].ToolOutput)
	}
}

func TestClaudeParseLine_ToolResultError(t *testing.T) {
	b := claudeBuilderForTest()
	line := `{"type":"user","uuid":"u3","timestamp":"2025-06-01T10:03:00Z","message":{"role":"user","content":[` +
		`{"type":"tool_result","tool_use_id":"toolu_02","content":"no such file","is_error":true}]}}`

	events := b.ParseLine([]byte(line), "s1")
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Type != event.TypeError {
		t.Errorf("Type = %s, want %s", events[0].Type, event.TypeError)
	}
}

func TestClaudeParseLine_AgentSpawn(t *testing.T) {
	b := claudeBuilderForTest()
	line := `{"type":"assistant","uuid":"a2","timestamp":"2025-06-01T10:04:00Z","message":{"role":"assistant","content":[` +
		`{"type":"tool_use","id":"toolu_sub","name":"Task","input":{"prompt":"explore the repo","subagent_type":"explorer"}}]}}`

	events := b.ParseLine([]byte(line), "s1")
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Type != event.TypeAgentSpawn {
		t.Errorf("Type = %s, want %s", ev.Type, event.TypeAgentSpawn)
	}
	if ev.ParentEventID != "toolu_sub" {
		t.Errorf("ParentEventID = %q, want toolu_sub", ev.ParentEventID)
	}
	if ev.Content != "explore the repo" {
		t.Errorf("Content = %q, want prompt text", ev.Content)
	}
}

func TestClaudeParseLine_Malformed(t *testing.T) {
	b := claudeBuilderForTest()
	for _, line := range []string{"", "   ", "{not json", `{"type":"user"}`, `{"type":"unknown","uuid":"x"}`} {
		if events := b.ParseLine([]byte(line), "s1"); len(events) != 0 {
			t.Errorf("line %q: got %d events, want 0", line, len(events))
		}
	}
}

func TestClaudeParseEvents_Ordering(t *testing.T) {
	b := claudeBuilderForTest()
	path := writeTranscript(t, "sess-1.jsonl",
		`{"type":"user","uuid":"u1","timestamp":"2025-06-01T10:05:00Z","message":{"role":"user","content":"second"}}`,
		`{"type":"user","uuid":"u2","timestamp":"2025-06-01T10:00:00Z","message":{"role":"user","content":"first"}}`,
		`not json at all`,
	)

	events := b.ParseEvents(path)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2 (malformed line skipped)", len(events))
	}
	if events[0].Content != "first" || events[1].Content != "second" {
		t.Errorf("events not in timestamp order: %q, %q", events[0].Content, events[1].Content)
	}
	if events[0].SessionID != "sess-1" {
		t.Errorf("SessionID = %q, want sess-1 (from filename)", events[0].SessionID)
	}
}

func TestClaudeParseEvents_Deterministic(t *testing.T) {
	b := claudeBuilderForTest()
	path := writeTranscript(t, "sess-2.jsonl",
		`{"type":"assistant","uuid":"a1","timestamp":"2025-06-01T10:00:00Z","message":{"role":"assistant","content":[{"type":"thinking","thinking":"I'll use a worker pool here"},{"type":"text","text":"ok"}]}}`,
		`{"type":"user","uuid":"u1","timestamp":"2025-06-01T10:00:00Z","message":{"role":"user","content":"go"}}`,
	)

	first := b.ParseEvents(path)
	second := b.ParseEvents(path)
	if !reflect.DeepEqual(first, second) {
		t.Error("re-parsing the same bytes produced a different sequence")
	}
}

func TestClaudeParseEvents_SizeGuard(t *testing.T) {
	path := writeTranscript(t, "big.jsonl",
		`{"type":"user","uuid":"u1","timestamp":"2025-06-01T10:00:00Z","message":{"role":"user","content":"hello"}}`,
	)
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}

	under := NewClaudeBuilder(Options{MaxFileSize: info.Size() + 1})
	if events := under.ParseEvents(path); len(events) != 1 {
		t.Errorf("under limit: got %d events, want 1", len(events))
	}

	over := NewClaudeBuilder(Options{MaxFileSize: info.Size() - 1})
	events := over.ParseEvents(path)
	if events == nil {
		t.Fatal("over limit: want empty slice, got nil")
	}
	if len(events) != 0 {
		t.Errorf("over limit: got %d events, want 0", len(events))
	}
}

func TestClaudeParseEvents_SubagentDepth(t *testing.T) {
	b := claudeBuilderForTest()
	dir := t.TempDir()
	path := filepath.Join(dir, "agent-toolu_99.jsonl")
	line := `{"type":"user","uuid":"u1","timestamp":"2025-06-01T10:00:00Z","message":{"role":"user","content":"subtask"}}`
	if err := os.WriteFile(path, []byte(line+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	events := b.ParseEvents(path)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].AgentDepth != 1 {
		t.Errorf("AgentDepth = %d, want 1", events[0].AgentDepth)
	}
}

func TestClaudeDecisionEvents(t *testing.T) {
	b := claudeBuilderForTest()
	line := `{"type":"assistant","uuid":"a1","timestamp":"2025-06-01T10:00:00Z","message":{"role":"assistant","content":[` +
		`{"type":"thinking","thinking":"The tests fail on nil maps. I'll use sync.Map instead. More detail follows."}]}}`

	events := b.ParseLine([]byte(line), "s1")

	var decision *event.NormalizedEvent
	for i := range events {
		if events[i].Type == event.TypeDecision {
			decision = &events[i]
		}
	}
	if decision == nil {
		t.Fatal("no decision event extracted")
	}
	if !strings.Contains(decision.Content, "I'll use sync.Map") {
		t.Errorf("decision content = %q, want matched sentence", decision.Content)
	}
	if decision.ParentEventID == "" {
		t.Error("decision has no parent event id")
	}
}

func TestClaudeHasCompletion(t *testing.T) {
	b := claudeBuilderForTest()

	withSummary := writeTranscript(t, "done.jsonl",
		`{"type":"user","uuid":"u1","timestamp":"2025-06-01T10:00:00Z","message":{"role":"user","content":"go"}}`,
		`{"type":"summary","summary":"Fixed the build"}`,
	)
	if !b.HasCompletion(withSummary) {
		t.Error("transcript with summary entry: HasCompletion = false")
	}

	without := writeTranscript(t, "open.jsonl",
		`{"type":"user","uuid":"u1","timestamp":"2025-06-01T10:00:00Z","message":{"role":"user","content":"go"}}`,
	)
	if b.HasCompletion(without) {
		t.Error("transcript without summary entry: HasCompletion = true")
	}
}

func TestClaudeProjectPath(t *testing.T) {
	b := claudeBuilderForTest()
	path := writeTranscript(t, "cwd.jsonl",
		`{"type":"user","uuid":"u1","timestamp":"2025-06-01T10:00:00Z","cwd":"/home/alice/proj","message":{"role":"user","content":"go"}}`,
	)
	if got := b.ProjectPath(path); got != "/home/alice/proj" {
		t.Errorf("ProjectPath = %q, want /home/alice/proj", got)
	}
}

func TestClaudeGetLastAction(t *testing.T) {
	b := claudeBuilderForTest()
	path := writeTranscript(t, "actions.jsonl",
		`{"type":"user","uuid":"u1","timestamp":"2025-06-01T10:00:00Z","message":{"role":"user","content":"go"}}`,
		`{"type":"assistant","uuid":"a1","timestamp":"2025-06-01T10:01:00Z","message":{"role":"assistant","content":[{"type":"tool_use","id":"t1","name":"Edit","input":{"file_path":"/src/main.go"}}]}}`,
	)
	action := b.GetLastAction(path)
	if !strings.HasPrefix(action, "Edit") {
		t.Errorf("GetLastAction = %q, want Edit ...", action)
	}
}

func FuzzClaudeParseLine(f *testing.F) {
	f.Add(`{"type":"user","uuid":"u1","message":{"role":"user","content":"hi"}}`)
	f.Add(`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"x"}]}}`)
	f.Add(`{"type":`)
	f.Add("")

	b := claudeBuilderForTest()
	f.Fuzz(func(t *testing.T, line string) {
		// Must never panic, whatever the input.
		_ = b.ParseLine([]byte(line), "fuzz")
	})
}
