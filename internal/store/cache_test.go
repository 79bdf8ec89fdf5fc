package store

import (
	"path/filepath"
	"testing"
	"time"

	"agentwatch/internal/event"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func sampleSession(id string) event.Session {
	return event.Session{
		ID:           id,
		Source:       event.SourceClaude,
		FilePath:     "/data/" + id + ".jsonl",
		ProjectPath:  "/home/alice/proj",
		Project:      "proj",
		CreatedAt:    time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		LastModified: time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC),
		Status:       event.StatusIdle,
		StatusReason: "no recent file activity",
		EventCount:   42,
		LastAction:   "Edit main.go",
	}
}

func TestSaveAndGetSession(t *testing.T) {
	c := openTestCache(t)

	want := sampleSession("s1")
	if err := c.SaveSession(want, 1234, 5678); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, ok, err := c.GetSession("s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatal("session not found after save")
	}
	if got.ID != want.ID || got.FilePath != want.FilePath || got.EventCount != want.EventCount {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if got.Status != event.StatusIdle {
		t.Errorf("Status = %s, want idle", got.Status)
	}
	if !got.LastModified.Equal(want.LastModified) {
		t.Errorf("LastModified = %v, want %v", got.LastModified, want.LastModified)
	}
}

func TestGetSession_Missing(t *testing.T) {
	c := openTestCache(t)

	_, ok, err := c.GetSession("nope")
	if err != nil {
		t.Fatalf("missing session should not error: %v", err)
	}
	if ok {
		t.Error("found a session that was never saved")
	}
}

func TestSaveSession_Replace(t *testing.T) {
	c := openTestCache(t)

	s := sampleSession("s1")
	if err := c.SaveSession(s, 1, 10); err != nil {
		t.Fatal(err)
	}
	s.EventCount = 100
	if err := c.SaveSession(s, 2, 20); err != nil {
		t.Fatal(err)
	}

	got, _, err := c.GetSession("s1")
	if err != nil {
		t.Fatal(err)
	}
	if got.EventCount != 100 {
		t.Errorf("EventCount = %d, want 100 (replace)", got.EventCount)
	}

	n, err := c.SessionCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("SessionCount = %d, want 1", n)
	}
}

func TestGetTrackedFiles(t *testing.T) {
	c := openTestCache(t)

	if err := c.SaveSession(sampleSession("s1"), 1111, 2222); err != nil {
		t.Fatal(err)
	}

	tracked, err := c.GetTrackedFiles()
	if err != nil {
		t.Fatal(err)
	}
	fi, ok := tracked["/data/s1.jsonl"]
	if !ok {
		t.Fatal("file not tracked after save")
	}
	if fi.MtimeNs != 1111 || fi.SizeBytes != 2222 {
		t.Errorf("tracked = %+v, want mtime 1111 size 2222", fi)
	}
}

func TestFileStampUpdate(t *testing.T) {
	c := openTestCache(t)

	if err := c.SaveSession(sampleSession("s1"), 1111, 2222); err != nil {
		t.Fatal(err)
	}
	// A reparse after the transcript grows overwrites the stamps; readers
	// comparing stat() against these decide cache validity.
	if err := c.SaveSession(sampleSession("s1"), 3333, 4444); err != nil {
		t.Fatal(err)
	}

	tracked, err := c.GetTrackedFiles()
	if err != nil {
		t.Fatal(err)
	}
	fi := tracked["/data/s1.jsonl"]
	if fi.MtimeNs != 3333 || fi.SizeBytes != 4444 {
		t.Errorf("tracked = %+v, want updated stamps 3333/4444", fi)
	}
}

func TestLoadAllSessions(t *testing.T) {
	c := openTestCache(t)

	for _, id := range []string{"s1", "s2", "s3"} {
		if err := c.SaveSession(sampleSession(id), 1, 1); err != nil {
			t.Fatal(err)
		}
	}

	sessions, err := c.LoadAllSessions()
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 3 {
		t.Errorf("got %d sessions, want 3", len(sessions))
	}
}

func TestDeleteSession(t *testing.T) {
	c := openTestCache(t)

	s := sampleSession("s1")
	if err := c.SaveSession(s, 1, 1); err != nil {
		t.Fatal(err)
	}
	if err := c.DeleteSession("s1"); err != nil {
		t.Fatal(err)
	}
	if err := c.DeleteFileTracker(s.FilePath); err != nil {
		t.Fatal(err)
	}

	_, ok, err := c.GetSession("s1")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("session still present after delete")
	}

	tracked, err := c.GetTrackedFiles()
	if err != nil {
		t.Fatal(err)
	}
	if _, still := tracked[s.FilePath]; still {
		t.Error("file still tracked after delete")
	}
}
