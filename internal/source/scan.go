package source

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"agentwatch/internal/event"
)

// DiscoveredFile is one transcript found during a scan, before parsing.
type DiscoveredFile struct {
	Path          string
	Source        event.Source
	SessionID     string
	Project       string // decoded display name (e.g. "gitlore")
	ProjectDir    string // raw directory name
	AgentDepth    int
	ParentSession string // for subagents: parent session id
	ModTime       time.Time
	Size          int64
}

// Roots holds the transcript root directory for each source.
type Roots struct {
	Claude string
	Codex  string
	Gemini string
}

// Scan enumerates transcripts for one source under its root. A missing
// root contributes zero files and no error; that source simply has no
// sessions on this machine.
func Scan(s event.Source, roots Roots) ([]DiscoveredFile, error) {
	switch s {
	case event.SourceClaude:
		return scanClaude(roots.Claude)
	case event.SourceCodex:
		return scanJSONLTree(roots.Codex, "sessions", event.SourceCodex)
	case event.SourceGemini:
		return scanGemini(roots.Gemini)
	}
	return nil, nil
}

// scanClaude walks <root>/projects for JSONL session files. Subagent
// transcripts appear either as agent-<id>.jsonl siblings of their parent or
// under a <session>/subagents/ directory.
func scanClaude(root string) ([]DiscoveredFile, error) {
	projectsDir := filepath.Join(root, "projects")

	info, err := os.Stat(projectsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, nil
	}

	var files []DiscoveredFile

	err = filepath.WalkDir(projectsDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // skip unreadable entries
		}
		if d.IsDir() || filepath.Ext(path) != ".jsonl" {
			return nil
		}

		rel, _ := filepath.Rel(projectsDir, path)
		parts := strings.Split(rel, string(filepath.Separator))
		if len(parts) < 2 {
			return nil
		}

		name := d.Name()
		fi, statErr := d.Info()
		if statErr != nil {
			return nil
		}

		df := DiscoveredFile{
			Path:       path,
			Source:     event.SourceClaude,
			Project:    decodeProjectName(parts[0]),
			ProjectDir: parts[0],
			ModTime:    fi.ModTime(),
			Size:       fi.Size(),
		}

		df.SessionID = sessionIDForPath(path)
		switch {
		case len(parts) >= 4 && parts[2] == "subagents":
			// <project>/<session-uuid>/subagents/agent-<id>.jsonl
			df.ParentSession = parts[1]
			df.AgentDepth = 1
		case strings.HasPrefix(name, "agent-"):
			// sibling convention: <project>/agent-<parent-event-id>.jsonl
			df.AgentDepth = 1
			df.ParentSession = strings.TrimSuffix(strings.TrimPrefix(name, "agent-"), ".jsonl")
		}

		files = append(files, df)
		return nil
	})

	return files, err
}

// scanJSONLTree walks <root>/<sub> recursively for *.jsonl transcripts.
// Codex lays sessions out by date (sessions/<yyyy>/<mm>/<dd>/rollout-*.jsonl).
func scanJSONLTree(root, sub string, src event.Source) ([]DiscoveredFile, error) {
	dir := filepath.Join(root, sub)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var files []DiscoveredFile
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // skip unreadable entries
		}
		if d.IsDir() || filepath.Ext(path) != ".jsonl" {
			return nil
		}
		fi, statErr := d.Info()
		if statErr != nil {
			return nil
		}
		files = append(files, DiscoveredFile{
			Path:       path,
			Source:     src,
			SessionID:  sessionIDForPath(path),
			AgentDepth: depthForPath(path),
			ModTime:    fi.ModTime(),
			Size:       fi.Size(),
		})
		return nil
	})
	return files, err
}

// scanGemini walks <root>/tmp/<hash>/chats for whole-document session files.
func scanGemini(root string) ([]DiscoveredFile, error) {
	dir := filepath.Join(root, "tmp")
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var files []DiscoveredFile
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // skip unreadable entries
		}
		if d.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}
		if filepath.Base(filepath.Dir(path)) != "chats" {
			return nil
		}
		fi, statErr := d.Info()
		if statErr != nil {
			return nil
		}
		files = append(files, DiscoveredFile{
			Path:      path,
			Source:    event.SourceGemini,
			SessionID: sessionIDFromName(d.Name()),
			ModTime:   fi.ModTime(),
			Size:      fi.Size(),
		})
		return nil
	})
	return files, err
}

func sessionIDFromName(name string) string {
	return strings.TrimSuffix(strings.TrimSuffix(name, ".jsonl"), ".json")
}

// sessionIDForPath derives the canonical session id for a transcript path.
// Nested subagent transcripts are namespaced under their parent session so
// ids stay unique across sessions; everything else uses the basename.
// Scan, the builders, and the stream tracker all agree on this id.
func sessionIDForPath(path string) string {
	name := sessionIDFromName(filepath.Base(path))
	dir := filepath.Dir(path)
	if filepath.Base(dir) == "subagents" {
		return filepath.Base(filepath.Dir(dir)) + "/" + name
	}
	return name
}

// decodeProjectName extracts a human-readable project name from Claude's
// dash-encoded directory name:
//
//	"-Users-alice-projects-gitlore" -> "gitlore"
//	"-Users-alice-projects-my-cool-project" -> "my-cool-project"
//
// We find the last known parent component ("projects", "repos", ...) and
// take everything after it, falling back to the last non-empty segment.
func decodeProjectName(dirName string) string {
	parts := strings.Split(dirName, "-")

	knownParents := map[string]bool{
		"projects": true, "repos": true, "src": true,
		"code": true, "workspace": true, "dev": true,
	}

	for i := len(parts) - 2; i >= 0; i-- {
		if knownParents[strings.ToLower(parts[i])] {
			name := strings.Join(parts[i+1:], "-")
			if name != "" {
				return name
			}
		}
	}

	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i] != "" {
			return parts[i]
		}
	}

	return dirName
}
