package engine

import (
	"fmt"
	"os"

	"agentwatch/internal/event"
)

// Events returns the normalized timeline for a session, serving the
// memoized parse when the transcript is unchanged. With refresh set, or
// when the file's (mtime, size) no longer match the memo, the transcript is
// re-parsed. An unknown id triggers one discovery pass before giving up.
func (e *Engine) Events(sessionID string, refresh bool) ([]event.NormalizedEvent, error) {
	s, ok := e.lookup(sessionID)
	if !ok {
		return nil, fmt.Errorf("unknown session %q", sessionID)
	}
	if s.Error != "" {
		return nil, fmt.Errorf("session %s: %s", sessionID, s.Error)
	}

	if !refresh {
		if events, ok := e.memoized(sessionID, s.FilePath); ok {
			return events, nil
		}
	}

	b, ok := e.builders[s.Source]
	if !ok {
		return nil, fmt.Errorf("no builder for source %s", s.Source)
	}
	events := b.ParseEvents(s.FilePath)

	info, err := os.Stat(s.FilePath)
	e.mu.Lock()
	e.events[sessionID] = events
	if err == nil {
		e.stamps[sessionID] = fileStamp{mtimeNs: info.ModTime().UnixNano(), size: info.Size()}
		if cur, ok := e.sessions[sessionID]; ok {
			cur.EventCount = len(events)
			cur.LastModified = info.ModTime()
			cur.FileSize = info.Size()
			e.sessions[sessionID] = cur
		}
	}
	e.mu.Unlock()

	return events, nil
}

// lookup finds a session, auto-syncing once per process if the id is not
// yet known.
func (e *Engine) lookup(sessionID string) (event.Session, bool) {
	e.mu.RLock()
	s, ok := e.sessions[sessionID]
	synced := e.autoSynced
	e.mu.RUnlock()
	if ok {
		return s, true
	}
	if !synced {
		e.Discover(DiscoverOptions{})
		return e.Session(sessionID)
	}
	return event.Session{}, false
}

// memoized returns the cached timeline when the backing file still carries
// the stamp the parse was taken at.
func (e *Engine) memoized(sessionID, path string) ([]event.NormalizedEvent, bool) {
	e.mu.RLock()
	events, okEvents := e.events[sessionID]
	stamp, okStamp := e.stamps[sessionID]
	e.mu.RUnlock()
	if !okEvents || !okStamp {
		return nil, false
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, false
	}
	if info.ModTime().UnixNano() != stamp.mtimeNs || info.Size() != stamp.size {
		return nil, false
	}
	return events, true
}
