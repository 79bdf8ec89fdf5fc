package source

import (
	"fmt"
	"strings"
	"time"

	"agentwatch/internal/event"
)

// StatusWindows holds the time thresholds for the liveness state machine.
type StatusWindows struct {
	Active time.Duration // file touched within this window: active
	Crash  time.Duration // upper bound of the crash-suspicion window
	Orphan time.Duration // beyond this with no process: orphaned
}

// DefaultStatusWindows returns the inferred default thresholds.
func DefaultStatusWindows() StatusWindows {
	return StatusWindows{
		Active: 2 * time.Minute,
		Crash:  10 * time.Minute,
		Orphan: 2 * time.Hour,
	}
}

func (w StatusWindows) orDefaults() StatusWindows {
	d := DefaultStatusWindows()
	if w.Active <= 0 {
		w.Active = d.Active
	}
	if w.Crash <= 0 {
		w.Crash = d.Crash
	}
	if w.Orphan <= 0 {
		w.Orphan = d.Orphan
	}
	return w
}

// ComputeStatus evaluates the liveness state machine from current evidence.
// Status is recomputed on every poll; nothing here is a one-way transition.
//
// Precedence:
//  1. modified inside the active window                     -> active
//  2. inside the crash window, last action mutating,
//     no completion marker                                  -> crashed
//  3. a live assistant process on the project path          -> open
//  4. modified inside the orphan window                     -> idle
//  5. otherwise                                             -> orphaned
//
// A nil liveProjects set means the probe failed or was skipped; that reads
// as "not live", so stale sessions fail toward idle/orphaned over open.
func ComputeStatus(w StatusWindows, lastModified, now time.Time, lastAction string, hasCompletion bool, projectPath string, liveProjects map[string]struct{}) (event.Status, string) {
	w = w.orDefaults()
	elapsed := now.Sub(lastModified)

	if elapsed < w.Active {
		return event.StatusActive, "recent file activity"
	}

	if elapsed < w.Crash && !hasCompletion {
		if tool := actionTool(lastAction); tool != "" && MutatesState(tool) {
			return event.StatusCrashed, fmt.Sprintf("stopped mid-%s without completing", tool)
		}
	}

	if projectPath != "" && liveProjects != nil {
		if _, ok := liveProjects[projectPath]; ok {
			return event.StatusOpen, "process running"
		}
	}

	if elapsed < w.Orphan {
		return event.StatusIdle, "no recent file activity"
	}

	return event.StatusOrphaned, "no recent activity"
}

// actionTool extracts the tool name from a last-action description such as
// "Edit file.py".
func actionTool(lastAction string) string {
	lastAction = strings.TrimSpace(lastAction)
	if lastAction == "" {
		return ""
	}
	if i := strings.IndexByte(lastAction, ' '); i > 0 {
		return lastAction[:i]
	}
	return lastAction
}
