// Package stream delivers incremental transcript updates. A Tracker is a
// per-consumer cursor over the sessions an engine knows about: Poll returns
// only events appended since the previous call, and Backfill pages history
// newest-first for scrollback.
package stream

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"agentwatch/internal/engine"
	"agentwatch/internal/event"
	"agentwatch/internal/source"
)

const (
	// scanBufSize and maxLineSize bound a single transcript line.
	scanBufSize = 256 * 1024
	maxLineSize = 2 * 1024 * 1024

	// DefaultBackfillBatch is the page size for history reads.
	DefaultBackfillBatch = 50
)

// Tracker holds per-session stream positions for one consumer. It is not
// safe for concurrent use; each consumer owns its own tracker and drives it
// from a single goroutine.
type Tracker struct {
	eng       *engine.Engine
	positions map[string]event.StreamPosition
	seen      map[string]map[string]struct{}
}

// NewTracker builds a tracker over an engine's sessions.
func NewTracker(eng *engine.Engine) *Tracker {
	return &Tracker{
		eng:       eng,
		positions: make(map[string]event.StreamPosition),
		seen:      make(map[string]map[string]struct{}),
	}
}

// Position returns the current cursor for a session.
func (t *Tracker) Position(sessionID string) event.StreamPosition {
	return t.positions[sessionID]
}

// SetPosition restores a cursor, for consumers that persist positions
// across reconnects.
func (t *Tracker) SetPosition(sessionID string, pos event.StreamPosition) {
	t.positions[sessionID] = pos
}

// Poll reads events appended to a session since the previous Poll. The
// first call on a fresh tracker returns the whole timeline. Append-only
// sources advance a byte offset past complete lines; whole-document sources
// re-parse when the document size token changes and diff against the event
// ids already delivered. A transcript shorter than the stored offset is
// treated as truncated and replayed from the start.
func (t *Tracker) Poll(sessionID string) ([]event.NormalizedEvent, error) {
	s, ok := t.eng.Session(sessionID)
	if !ok {
		return nil, fmt.Errorf("unknown session %q", sessionID)
	}
	b, ok := t.eng.Builder(s.Source)
	if !ok {
		return nil, fmt.Errorf("no builder for source %s", s.Source)
	}
	if s.Source == event.SourceGemini {
		return t.pollDocument(s, b)
	}
	return t.pollAppend(s, b)
}

// pollAppend advances a byte cursor over an append-only transcript, parsing
// only complete lines. A partial trailing line stays unread until the next
// poll completes it.
func (t *Tracker) pollAppend(s event.Session, b source.Builder) ([]event.NormalizedEvent, error) {
	pos := t.positions[s.ID]

	info, err := os.Stat(s.FilePath)
	if err != nil {
		return nil, fmt.Errorf("stat transcript: %w", err)
	}
	if info.Size() < pos.Offset {
		// Truncated or rotated underneath us.
		pos = event.StreamPosition{}
	}
	if info.Size() == pos.Offset {
		t.positions[s.ID] = pos
		return nil, nil
	}

	f, err := os.Open(s.FilePath)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(pos.Offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek transcript: %w", err)
	}

	var out []event.NormalizedEvent
	r := bufio.NewReaderSize(f, scanBufSize)
	for {
		line, err := r.ReadBytes('\n')
		if err != nil {
			// Incomplete final line: leave it for the next poll.
			break
		}
		if len(line) > maxLineSize {
			pos.Offset += int64(len(line))
			continue
		}
		evs := b.ParseLine(trimNewline(line), s.ID)
		out = append(out, evs...)
		pos.Offset += int64(len(line))
	}

	// ParseLine knows nothing about the transcript's location, so the
	// session's agent depth is stamped here to match a full parse.
	if s.AgentDepth > 0 {
		for i := range out {
			out[i].AgentDepth = s.AgentDepth
		}
	}

	pos.Emitted += len(out)
	t.positions[s.ID] = pos
	return out, nil
}

// pollDocument handles whole-document transcripts: the file size is the
// change token, and new events are found by diffing parsed ids against the
// set already delivered.
func (t *Tracker) pollDocument(s event.Session, b source.Builder) ([]event.NormalizedEvent, error) {
	pos := t.positions[s.ID]

	info, err := os.Stat(s.FilePath)
	if err != nil {
		return nil, fmt.Errorf("stat transcript: %w", err)
	}
	if info.Size() == pos.DocSize && pos.DocSize != 0 {
		return nil, nil
	}

	all := b.ParseEvents(s.FilePath)

	delivered := t.seen[s.ID]
	if delivered == nil {
		delivered = make(map[string]struct{})
		t.seen[s.ID] = delivered
		// A restored cursor has Emitted but no id set; skip by count so a
		// reconnect does not replay the whole document.
		if pos.Emitted > 0 && pos.Emitted <= len(all) {
			for _, ev := range all[:pos.Emitted] {
				delivered[ev.ID] = struct{}{}
			}
		}
	}

	var out []event.NormalizedEvent
	for _, ev := range all {
		if _, ok := delivered[ev.ID]; ok {
			continue
		}
		delivered[ev.ID] = struct{}{}
		out = append(out, ev)
	}

	pos.DocSize = info.Size()
	pos.Emitted += len(out)
	t.positions[s.ID] = pos
	return out, nil
}

// HistoryPage is one batch of scrollback, newest first.
type HistoryPage struct {
	Events     []event.NormalizedEvent `json:"events"`
	NextOffset int                     `json:"next_offset"`
	HasMore    bool                    `json:"has_more"`
}

// Backfill pages a session's history backwards from the end of the
// timeline. Offset counts events already consumed from the tail; the
// returned page is ordered newest first.
func (t *Tracker) Backfill(sessionID string, offset, batchSize int) (HistoryPage, error) {
	if batchSize <= 0 {
		batchSize = DefaultBackfillBatch
	}
	events, err := t.eng.Events(sessionID, false)
	if err != nil {
		return HistoryPage{}, err
	}

	end := len(events) - offset
	if end <= 0 {
		return HistoryPage{NextOffset: offset}, nil
	}
	start := end - batchSize
	if start < 0 {
		start = 0
	}

	page := make([]event.NormalizedEvent, 0, end-start)
	for i := end - 1; i >= start; i-- {
		page = append(page, events[i])
	}

	return HistoryPage{
		Events:     page,
		NextOffset: offset + len(page),
		HasMore:    start > 0,
	}, nil
}

func trimNewline(line []byte) []byte {
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line
}
