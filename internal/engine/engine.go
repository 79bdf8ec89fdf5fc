// Package engine composes discovery, builders, and caches behind the
// operations consumers call: discover sessions, fetch events, fold context
// and health views, and export handoff snapshots.
package engine

import (
	"fmt"
	"os"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"agentwatch/internal/config"
	"agentwatch/internal/event"
	"agentwatch/internal/proc"
	"agentwatch/internal/source"
	"agentwatch/internal/store"
)

// ProbeFunc reports the set of project paths with a live assistant process.
type ProbeFunc func() (map[string]struct{}, error)

// ProgressFunc receives parse progress during discovery: transcripts parsed
// so far out of the total that missed the cache.
type ProgressFunc func(done, total int)

// fileStamp captures the (mtime, size) pair a memoized parse was taken at.
type fileStamp struct {
	mtimeNs int64
	size    int64
}

// Engine is the orchestrator. Its in-memory session and event caches have a
// single writer (the engine itself); consumers receive copies.
type Engine struct {
	cfg      config.Config
	builders map[event.Source]source.Builder
	cache    *store.Cache // optional; nil disables durable caching
	probe    ProbeFunc
	progress ProgressFunc
	now      func() time.Time

	mu         sync.RWMutex
	sessions   map[string]event.Session
	events     map[string][]event.NormalizedEvent
	stamps     map[string]fileStamp
	autoSynced bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache attaches a durable session cache.
func WithCache(c *store.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithProbe overrides the process liveness probe.
func WithProbe(p ProbeFunc) Option {
	return func(e *Engine) { e.probe = p }
}

// WithProgress installs a parse progress callback. It is called from worker
// goroutines and must be safe for concurrent use.
func WithProgress(p ProgressFunc) Option {
	return func(e *Engine) { e.progress = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New constructs an engine. Tests build fresh instances rather than
// sharing one.
func New(cfg config.Config, opts ...Option) *Engine {
	e := &Engine{
		cfg: cfg,
		builders: source.Builders(nil, source.Options{
			MaxFileSize: cfg.General.MaxFileSize(),
			Status: source.StatusWindows{
				Active: cfg.Status.ActiveWindow(),
				Crash:  cfg.Status.CrashWindow(),
				Orphan: cfg.Status.OrphanWindow(),
			},
		}),
		probe:    proc.LiveProjects,
		now:      time.Now,
		sessions: make(map[string]event.Session),
		events:   make(map[string][]event.NormalizedEvent),
		stamps:   make(map[string]fileStamp),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DiscoverOptions narrows a discovery pass.
type DiscoverOptions struct {
	MaxAge               time.Duration  // ignore transcripts older than this; 0 means config default
	Sources              []event.Source // empty means all
	SkipProcessDetection bool
}

// Discover enumerates transcripts for the requested sources, serving
// unchanged files from the durable cache and re-parsing the rest. It never
// fails as a whole: a missing source root contributes zero sessions, and a
// per-session failure is recorded on that session's Error field.
func (e *Engine) Discover(opts DiscoverOptions) []event.Session {
	now := e.now()
	maxAge := opts.MaxAge
	if maxAge <= 0 {
		maxAge = time.Duration(e.cfg.General.MaxAgeHours) * time.Hour
	}
	cutoff := now.Add(-maxAge)

	live := e.liveProjects(opts.SkipProcessDetection)

	roots := source.Roots{
		Claude: e.cfg.Sources.ClaudeRoot(),
		Codex:  e.cfg.Sources.CodexRoot(),
		Gemini: e.cfg.Sources.GeminiRoot(),
	}

	sources := opts.Sources
	if len(sources) == 0 {
		sources = event.AllSources()
	}

	var files []source.DiscoveredFile
	for _, s := range sources {
		found, err := source.Scan(s, roots)
		if err != nil {
			continue // source unavailable; others unaffected
		}
		for _, f := range found {
			if f.ModTime.Before(cutoff) {
				continue
			}
			if f.AgentDepth > 0 && !e.cfg.General.IncludeSubagents {
				continue
			}
			files = append(files, f)
		}
	}

	tracked, cachedByPath := e.loadCacheState()

	var hits []event.Session
	var misses []source.DiscoveredFile
	for _, f := range files {
		fi, ok := tracked[f.Path]
		cached, has := cachedByPath[f.Path]
		if ok && has && fi.MtimeNs == f.ModTime.UnixNano() && fi.SizeBytes == f.Size {
			hits = append(hits, cached)
		} else {
			misses = append(misses, f)
		}
	}

	sessions := make([]event.Session, 0, len(files))

	for _, s := range hits {
		// Status is evidence, not state: recompute it on every pass even
		// when the file itself is unchanged.
		e.restamp(&s, now, live)
		sessions = append(sessions, s)
	}

	sessions = append(sessions, e.parseAll(misses, now, live)...)

	SortSessions(sessions)

	e.mu.Lock()
	for _, s := range sessions {
		e.sessions[s.ID] = s
	}
	e.autoSynced = true
	e.mu.Unlock()

	return sessions
}

// liveProjects runs the probe unless skipped. Probe failure reads as "no
// live processes" so status falls toward idle/orphaned instead of open.
func (e *Engine) liveProjects(skip bool) map[string]struct{} {
	if skip || e.probe == nil {
		return nil
	}
	live, err := e.probe()
	if err != nil {
		return map[string]struct{}{}
	}
	return live
}

// loadCacheState reads the durable cache's file tracker and session
// records. Any read failure degrades to an empty view, which routes every
// file to the re-parse path.
func (e *Engine) loadCacheState() (map[string]store.FileInfo, map[string]event.Session) {
	if e.cache == nil {
		return nil, nil
	}
	tracked, err := e.cache.GetTrackedFiles()
	if err != nil {
		return nil, nil
	}
	cached, err := e.cache.LoadAllSessions()
	if err != nil {
		return nil, nil
	}
	byPath := make(map[string]event.Session, len(cached))
	for _, s := range cached {
		byPath[s.FilePath] = s
	}
	return tracked, byPath
}

// restamp refreshes a cached session's volatile fields from current
// evidence.
func (e *Engine) restamp(s *event.Session, now time.Time, live map[string]struct{}) {
	b, ok := e.builders[s.Source]
	if !ok {
		return
	}
	if info, err := os.Stat(s.FilePath); err == nil {
		s.LastModified = info.ModTime()
		s.FileSize = info.Size()
	}
	s.Status, s.StatusReason = b.ComputeStatus(
		s.LastModified, now, s.LastAction, s.HasCompletion, s.ProjectPath, live)
}

// parseAll runs full builder discovery over changed files with a bounded
// worker pool, writing results back to the durable cache.
func (e *Engine) parseAll(files []source.DiscoveredFile, now time.Time, live map[string]struct{}) []event.Session {
	if len(files) == 0 {
		return nil
	}

	numWorkers := runtime.GOMAXPROCS(0)
	if numWorkers < 1 {
		numWorkers = 4
	}
	if numWorkers > len(files) {
		numWorkers = len(files)
	}

	work := make(chan int, len(files))
	results := make([]event.Session, len(files))
	memo := make([][]event.NormalizedEvent, len(files))
	var wg sync.WaitGroup
	var done atomic.Int64

	for i := range files {
		work <- i
	}
	close(work)

	wg.Add(numWorkers)
	for w := 0; w < numWorkers; w++ {
		go func() {
			defer wg.Done()
			for idx := range work {
				results[idx], memo[idx] = e.buildSession(files[idx], now, live)
				if e.progress != nil {
					e.progress(int(done.Add(1)), len(files))
				}
			}
		}()
	}
	wg.Wait()

	e.mu.Lock()
	for i, s := range results {
		if s.Error == "" {
			e.events[s.ID] = memo[i]
			e.stamps[s.ID] = fileStamp{mtimeNs: s.LastModified.UnixNano(), size: s.FileSize}
		}
	}
	e.mu.Unlock()

	if e.cache != nil {
		for _, s := range results {
			if s.Error != "" {
				continue
			}
			_ = e.cache.SaveSession(s, s.LastModified.UnixNano(), s.FileSize)
		}
	}

	return results
}

// buildSession fully parses one transcript into a session record plus its
// event list. Failures come back as a session with Error set; they never
// abort the batch.
func (e *Engine) buildSession(f source.DiscoveredFile, now time.Time, live map[string]struct{}) (event.Session, []event.NormalizedEvent) {
	s := event.Session{
		ID:            f.SessionID,
		Source:        f.Source,
		FilePath:      f.Path,
		Project:       f.Project,
		AgentDepth:    f.AgentDepth,
		ParentSession: f.ParentSession,
		LastModified:  f.ModTime,
		FileSize:      f.Size,
	}

	b, ok := e.builders[f.Source]
	if !ok {
		s.Error = fmt.Sprintf("no builder for source %s", f.Source)
		return s, nil
	}

	if _, err := os.Stat(f.Path); err != nil {
		s.Error = fmt.Sprintf("stat transcript: %v", err)
		return s, nil
	}

	events := b.ParseEvents(f.Path)
	s.EventCount = len(events)
	if len(events) > 0 {
		s.CreatedAt = events[0].Timestamp
	}
	s.ProjectPath = b.ProjectPath(f.Path)
	s.LastAction = b.GetLastAction(f.Path)
	s.HasCompletion = b.HasCompletion(f.Path)
	s.Status, s.StatusReason = b.ComputeStatus(
		s.LastModified, now, s.LastAction, s.HasCompletion, s.ProjectPath, live)

	return s, events
}

// Session returns a copy of a discovered session by id.
func (e *Engine) Session(id string) (event.Session, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[id]
	return s, ok
}

// Sessions returns copies of all currently known sessions, sorted.
func (e *Engine) Sessions() []event.Session {
	e.mu.RLock()
	out := make([]event.Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, s)
	}
	e.mu.RUnlock()
	SortSessions(out)
	return out
}

// Builder exposes the builder for a source, for the stream tracker.
func (e *Engine) Builder(s event.Source) (source.Builder, bool) {
	b, ok := e.builders[s]
	return b, ok
}

// Config returns the engine's configuration.
func (e *Engine) Config() config.Config {
	return e.cfg
}

// RefreshCache drops all in-memory session and event caches. The durable
// store is untouched; the next discovery pass repopulates from it.
func (e *Engine) RefreshCache() {
	e.mu.Lock()
	e.sessions = make(map[string]event.Session)
	e.events = make(map[string][]event.NormalizedEvent)
	e.stamps = make(map[string]fileStamp)
	e.mu.Unlock()
}

// SortSessions orders sessions by status precedence, then last-modified
// descending within a status.
func SortSessions(sessions []event.Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		pi, pj := sessions[i].Status.Precedence(), sessions[j].Status.Precedence()
		if pi != pj {
			return pi < pj
		}
		return sessions[i].LastModified.After(sessions[j].LastModified)
	})
}
