package source

import (
	"os"
	"path/filepath"
	"testing"

	"agentwatch/internal/event"
)

const geminiDoc = `{
  "sessionId": "gem-1",
  "projectHash": "abc123",
  "projectPath": "/home/carol/site",
  "startTime": "2025-06-01T08:00:00Z",
  "lastUpdated": "2025-06-01T08:30:00Z",
  "messages": [
    {"id": "m1", "role": "user", "content": "build the landing page", "timestamp": "2025-06-01T08:00:05Z"},
    {"id": "m2", "role": "model", "thoughts": "I'll use a static generator for this", "content": "Starting now", "timestamp": "2025-06-01T08:01:00Z"},
    {"id": "m3", "role": "model", "type": "error", "content": "quota exceeded", "timestamp": "2025-06-01T08:02:00Z"}
  ]
}`

func writeGeminiDoc(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gem-1.json")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestGeminiParseEvents(t *testing.T) {
	b := NewGeminiBuilder(Options{})
	path := writeGeminiDoc(t, geminiDoc)

	events := b.ParseEvents(path)

	counts := map[event.Type]int{}
	for _, ev := range events {
		counts[ev.Type]++
		if ev.SessionID != "gem-1" {
			t.Errorf("SessionID = %q, want gem-1", ev.SessionID)
		}
	}

	if counts[event.TypeSessionStart] != 1 {
		t.Errorf("session_start count = %d, want 1", counts[event.TypeSessionStart])
	}
	if counts[event.TypeUserMessage] != 1 {
		t.Errorf("user_message count = %d, want 1", counts[event.TypeUserMessage])
	}
	if counts[event.TypeThinking] != 1 {
		t.Errorf("thinking count = %d, want 1", counts[event.TypeThinking])
	}
	if counts[event.TypeAssistantResponse] != 1 {
		t.Errorf("assistant_response count = %d, want 1", counts[event.TypeAssistantResponse])
	}
	if counts[event.TypeError] != 1 {
		t.Errorf("error count = %d, want 1", counts[event.TypeError])
	}
	if counts[event.TypeDecision] != 1 {
		t.Errorf("decision count = %d, want 1 (from thoughts)", counts[event.TypeDecision])
	}
}

func TestGeminiParseLine_NoOp(t *testing.T) {
	b := NewGeminiBuilder(Options{})
	if events := b.ParseLine([]byte(`{"sessionId":"x"}`), "s1"); events != nil {
		t.Errorf("ParseLine = %v, want nil for whole-document source", events)
	}
}

func TestGeminiParseEvents_Malformed(t *testing.T) {
	b := NewGeminiBuilder(Options{})
	path := writeGeminiDoc(t, `{"sessionId": "broken"`)

	events := b.ParseEvents(path)
	if events == nil {
		t.Fatal("want empty slice, got nil")
	}
	if len(events) != 0 {
		t.Errorf("got %d events, want 0", len(events))
	}
}

func TestGeminiHasCompletion(t *testing.T) {
	b := NewGeminiBuilder(Options{})

	if !b.HasCompletion(writeGeminiDoc(t, geminiDoc)) {
		t.Error("document ending on model turn: HasCompletion = false")
	}

	userEnd := `{"sessionId":"gem-2","messages":[{"id":"m1","role":"user","content":"hi"}]}`
	if b.HasCompletion(writeGeminiDoc(t, userEnd)) {
		t.Error("document ending on user turn: HasCompletion = true")
	}
}

func TestGeminiProjectPath(t *testing.T) {
	b := NewGeminiBuilder(Options{})
	if got := b.ProjectPath(writeGeminiDoc(t, geminiDoc)); got != "/home/carol/site" {
		t.Errorf("ProjectPath = %q, want /home/carol/site", got)
	}
}

func TestGeminiContentParts(t *testing.T) {
	doc := `{"sessionId":"gem-3","messages":[{"id":"m1","role":"user","content":[{"text":"part one"},{"text":"part two"}]}]}`
	b := NewGeminiBuilder(Options{})

	events := b.ParseEvents(writeGeminiDoc(t, doc))
	var user *event.NormalizedEvent
	for i := range events {
		if events[i].Type == event.TypeUserMessage {
			user = &events[i]
		}
	}
	if user == nil {
		t.Fatal("no user message parsed")
	}
	if user.Content != "part one\npart two" {
		t.Errorf("Content = %q, want joined parts", user.Content)
	}
}
