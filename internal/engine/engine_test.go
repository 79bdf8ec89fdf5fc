package engine

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"agentwatch/internal/config"
	"agentwatch/internal/event"
	"agentwatch/internal/store"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// testEnv is a throwaway source tree plus an engine wired to it with a
// fixed clock and a stubbed process probe.
type testEnv struct {
	claudeRoot string
	eng        *Engine
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	root := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Sources.ClaudeDir = filepath.Join(root, "claude")
	cfg.Sources.CodexDir = filepath.Join(root, "codex")
	cfg.Sources.GeminiDir = filepath.Join(root, "gemini")

	all := append([]Option{
		WithClock(func() time.Time { return testNow }),
		WithProbe(func() (map[string]struct{}, error) { return map[string]struct{}{}, nil }),
	}, opts...)

	return &testEnv{
		claudeRoot: cfg.Sources.ClaudeDir,
		eng:        New(cfg, all...),
	}
}

// addClaudeSession writes a transcript under the claude root with the given
// id, age, and lines.
func (e *testEnv) addClaudeSession(t *testing.T, id string, age time.Duration, lines ...string) string {
	t.Helper()
	dir := filepath.Join(e.claudeRoot, "projects", "-home-test-projects-demo")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, id+".jsonl")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	mtime := testNow.Add(-age)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
	return path
}

func userLine(ts, text string) string {
	return `{"type":"user","uuid":"u-` + text + `","timestamp":"` + ts + `","cwd":"/home/test/projects/demo","message":{"role":"user","content":"` + text + `"}}`
}

func TestDiscover_Basic(t *testing.T) {
	env := newTestEnv(t)
	env.addClaudeSession(t, "sess-a", 30*time.Second, userLine("2025-06-01T11:59:00Z", "hello"))

	sessions := env.eng.Discover(DiscoverOptions{})
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}
	s := sessions[0]
	if s.ID != "sess-a" {
		t.Errorf("ID = %q, want sess-a", s.ID)
	}
	if s.Source != event.SourceClaude {
		t.Errorf("Source = %s, want claude", s.Source)
	}
	if s.Status != event.StatusActive {
		t.Errorf("Status = %s (%s), want active", s.Status, s.StatusReason)
	}
	if s.EventCount != 1 {
		t.Errorf("EventCount = %d, want 1", s.EventCount)
	}
	if s.Project != "demo" {
		t.Errorf("Project = %q, want demo", s.Project)
	}
	if s.ProjectPath != "/home/test/projects/demo" {
		t.Errorf("ProjectPath = %q", s.ProjectPath)
	}
}

func TestDiscover_SortedByPrecedence(t *testing.T) {
	env := newTestEnv(t)
	env.addClaudeSession(t, "old", 3*time.Hour, userLine("2025-06-01T08:00:00Z", "old"))
	env.addClaudeSession(t, "idle", 30*time.Minute, userLine("2025-06-01T11:30:00Z", "idle"))
	env.addClaudeSession(t, "fresh", 10*time.Second, userLine("2025-06-01T11:59:50Z", "fresh"))

	sessions := env.eng.Discover(DiscoverOptions{})
	if len(sessions) != 3 {
		t.Fatalf("got %d sessions, want 3", len(sessions))
	}

	got := []string{sessions[0].ID, sessions[1].ID, sessions[2].ID}
	want := []string{"fresh", "idle", "old"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
	if sessions[0].Status != event.StatusActive {
		t.Errorf("first status = %s, want active", sessions[0].Status)
	}
	if sessions[2].Status != event.StatusOrphaned {
		t.Errorf("last status = %s, want orphaned", sessions[2].Status)
	}
}

func TestDiscover_MaxAgeFilter(t *testing.T) {
	env := newTestEnv(t)
	env.addClaudeSession(t, "recent", time.Hour, userLine("2025-06-01T11:00:00Z", "a"))
	env.addClaudeSession(t, "ancient", 48*time.Hour, userLine("2025-05-30T12:00:00Z", "b"))

	sessions := env.eng.Discover(DiscoverOptions{MaxAge: 24 * time.Hour})
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}
	if sessions[0].ID != "recent" {
		t.Errorf("kept %q, want recent", sessions[0].ID)
	}
}

func TestDiscover_LiveProcessBecomesOpen(t *testing.T) {
	env := newTestEnv(t, WithProbe(func() (map[string]struct{}, error) {
		return map[string]struct{}{"/home/test/projects/demo": {}}, nil
	}))
	env.addClaudeSession(t, "stale", 30*time.Minute, userLine("2025-06-01T11:30:00Z", "x"))

	sessions := env.eng.Discover(DiscoverOptions{})
	if len(sessions) != 1 {
		t.Fatal("session not discovered")
	}
	if sessions[0].Status != event.StatusOpen {
		t.Errorf("Status = %s (%s), want open", sessions[0].Status, sessions[0].StatusReason)
	}
}

func TestDiscover_FailureIsolation(t *testing.T) {
	env := newTestEnv(t)
	env.addClaudeSession(t, "good", time.Minute, userLine("2025-06-01T11:59:00Z", "fine"))

	// A dangling symlink is discovered by the scan but fails to parse; it
	// must surface as a per-session error without aborting the batch.
	dir := filepath.Join(env.claudeRoot, "projects", "-home-test-projects-demo")
	if err := os.Symlink(filepath.Join(dir, "missing-target"), filepath.Join(dir, "bad.jsonl")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	sessions := env.eng.Discover(DiscoverOptions{})
	var good, bad *event.Session
	for i := range sessions {
		switch sessions[i].ID {
		case "good":
			good = &sessions[i]
		case "bad":
			bad = &sessions[i]
		}
	}
	if good == nil {
		t.Fatal("good session missing from batch")
	}
	if good.Error != "" {
		t.Errorf("good session carries error %q", good.Error)
	}
	if good.EventCount != 1 {
		t.Errorf("good EventCount = %d, want 1", good.EventCount)
	}
	if bad == nil {
		t.Fatal("failed session missing from batch")
	}
	if bad.Error == "" {
		t.Error("failed session has no error marker")
	}
}

func TestDiscover_CacheHitSkipsReparse(t *testing.T) {
	cache, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = cache.Close() }()

	env := newTestEnv(t, WithCache(cache))
	env.addClaudeSession(t, "cached", 30*time.Minute, userLine("2025-06-01T11:30:00Z", "x"))

	first := env.eng.Discover(DiscoverOptions{})
	if len(first) != 1 || first[0].Error != "" {
		t.Fatalf("first pass: %+v", first)
	}

	tracked, err := cache.GetTrackedFiles()
	if err != nil {
		t.Fatal(err)
	}
	if len(tracked) != 1 {
		t.Fatalf("tracked %d files after first pass, want 1", len(tracked))
	}

	// Second engine, same cache: the unchanged file must be served from it.
	second := New(env.eng.Config(),
		WithClock(func() time.Time { return testNow }),
		WithProbe(func() (map[string]struct{}, error) { return map[string]struct{}{}, nil }),
		WithCache(cache),
	).Discover(DiscoverOptions{})

	if len(second) != 1 {
		t.Fatalf("second pass: got %d sessions, want 1", len(second))
	}
	if second[0].EventCount != first[0].EventCount {
		t.Errorf("cached EventCount = %d, want %d", second[0].EventCount, first[0].EventCount)
	}
	if second[0].Status != event.StatusIdle {
		t.Errorf("cached session status = %s, want idle (recomputed)", second[0].Status)
	}
}

func TestEvents_Memoized(t *testing.T) {
	env := newTestEnv(t)
	path := env.addClaudeSession(t, "memo", time.Minute,
		userLine("2025-06-01T11:58:00Z", "one"),
	)
	env.eng.Discover(DiscoverOptions{})

	events, err := env.eng.Events("memo", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}

	// Append a line and bump the stamp: the memo must be invalidated.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(userLine("2025-06-01T11:59:00Z", "two") + "\n"); err != nil {
		t.Fatal(err)
	}
	_ = f.Close()

	events, err = env.eng.Events("memo", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Errorf("after append: got %d events, want 2", len(events))
	}
}

func TestEvents_UnknownSession(t *testing.T) {
	env := newTestEnv(t)
	env.eng.Discover(DiscoverOptions{})

	if _, err := env.eng.Events("no-such-session", false); err == nil {
		t.Error("expected error for unknown session")
	}
}

func TestContextFold(t *testing.T) {
	env := newTestEnv(t)
	env.addClaudeSession(t, "ctx", time.Minute,
		userLine("2025-06-01T11:50:00Z", "start"),
		`{"type":"assistant","uuid":"a1","timestamp":"2025-06-01T11:51:00Z","message":{"role":"assistant","content":[{"type":"tool_use","id":"t1","name":"Read","input":{"file_path":"/src/a.go"}}]}}`,
		`{"type":"assistant","uuid":"a2","timestamp":"2025-06-01T11:52:00Z","message":{"role":"assistant","content":[{"type":"tool_use","id":"t2","name":"Edit","input":{"file_path":"/src/b.go"}}]}}`,
		`{"type":"assistant","uuid":"a3","timestamp":"2025-06-01T11:53:00Z","message":{"role":"assistant","content":[{"type":"thinking","thinking":"I'll use table tests for this"}]}}`,
	)
	env.eng.Discover(DiscoverOptions{})

	summary, err := env.eng.Context("ctx")
	if err != nil {
		t.Fatal(err)
	}
	if len(summary.FilesRead) != 1 || summary.FilesRead[0] != "/src/a.go" {
		t.Errorf("FilesRead = %v", summary.FilesRead)
	}
	if len(summary.FilesModified) != 1 || summary.FilesModified[0] != "/src/b.go" {
		t.Errorf("FilesModified = %v", summary.FilesModified)
	}
	if summary.ToolCounts["Read"] != 1 || summary.ToolCounts["Edit"] != 1 {
		t.Errorf("ToolCounts = %v", summary.ToolCounts)
	}
	if len(summary.Decisions) != 1 {
		t.Errorf("Decisions = %v, want 1", summary.Decisions)
	}
}

func TestHealthFold(t *testing.T) {
	env := newTestEnv(t)
	env.addClaudeSession(t, "hp", time.Minute,
		userLine("2025-06-01T11:50:00Z", "go"),
		`{"type":"assistant","uuid":"a1","timestamp":"2025-06-01T11:51:00Z","message":{"role":"assistant","content":[{"type":"tool_use","id":"t1","name":"Bash","input":{"command":"sudo rm -rf /tmp/x"}}]}}`,
		`{"type":"user","uuid":"u9","timestamp":"2025-06-01T11:52:00Z","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"denied","is_error":true}]}}`,
	)
	env.eng.Discover(DiscoverOptions{})

	h, err := env.eng.Health("hp")
	if err != nil {
		t.Fatal(err)
	}
	if h.ToolCalls != 1 {
		t.Errorf("ToolCalls = %d, want 1", h.ToolCalls)
	}
	if h.HighRiskCalls != 1 {
		t.Errorf("HighRiskCalls = %d, want 1", h.HighRiskCalls)
	}
	if h.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", h.ErrorCount)
	}
	if h.UserMessages != 1 {
		t.Errorf("UserMessages = %d, want 1", h.UserMessages)
	}
	wantLast := time.Date(2025, 6, 1, 11, 52, 0, 0, time.UTC)
	if !h.LastEventAt.Equal(wantLast) {
		t.Errorf("LastEventAt = %v, want %v", h.LastEventAt, wantLast)
	}
}

func TestExportSnapshot(t *testing.T) {
	env := newTestEnv(t)
	env.addClaudeSession(t, "snap", time.Minute,
		userLine("2025-06-01T11:50:00Z", "refactor the parser"),
		`{"type":"assistant","uuid":"a1","timestamp":"2025-06-01T11:51:00Z","message":{"role":"assistant","content":[{"type":"thinking","thinking":"I'll use a recursive descent parser here"}]}}`,
	)
	env.eng.Discover(DiscoverOptions{})

	snap, err := env.eng.ExportSnapshot("snap", false)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Intent != "refactor the parser" {
		t.Errorf("Intent = %q", snap.Intent)
	}
	if len(snap.RecentDecisions) != 1 {
		t.Errorf("RecentDecisions = %v", snap.RecentDecisions)
	}
	if !snap.GeneratedAt.Equal(testNow) {
		t.Errorf("GeneratedAt = %v, want fixed clock", snap.GeneratedAt)
	}
	if snap.Source != event.SourceClaude {
		t.Errorf("Source = %s", snap.Source)
	}
}

func TestRefreshCache(t *testing.T) {
	env := newTestEnv(t)
	env.addClaudeSession(t, "r1", time.Minute, userLine("2025-06-01T11:59:00Z", "x"))
	env.eng.Discover(DiscoverOptions{})

	if _, ok := env.eng.Session("r1"); !ok {
		t.Fatal("session missing before refresh")
	}
	env.eng.RefreshCache()
	if _, ok := env.eng.Session("r1"); ok {
		t.Error("session still present after refresh")
	}

	// Rediscovery repopulates.
	env.eng.Discover(DiscoverOptions{})
	if _, ok := env.eng.Session("r1"); !ok {
		t.Error("session missing after rediscovery")
	}
}

func TestSortSessions(t *testing.T) {
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	sessions := []event.Session{
		{ID: "idle-old", Status: event.StatusIdle, LastModified: base},
		{ID: "active", Status: event.StatusActive, LastModified: base.Add(-time.Hour)},
		{ID: "idle-new", Status: event.StatusIdle, LastModified: base.Add(time.Hour)},
		{ID: "crashed", Status: event.StatusCrashed, LastModified: base},
	}

	SortSessions(sessions)

	want := []string{"active", "crashed", "idle-new", "idle-old"}
	for i, id := range want {
		if sessions[i].ID != id {
			t.Fatalf("position %d = %s, want %s", i, sessions[i].ID, id)
		}
	}
}
