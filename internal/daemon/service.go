// Package daemon provides the long-running background session monitor
// service: a poll loop over the discovery engine plus an HTTP API with a
// websocket stream of live transcript updates.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"agentwatch/internal/engine"
	"agentwatch/internal/event"
)

// Config controls the daemon runtime behavior.
type Config struct {
	Addr                 string
	Interval             time.Duration
	EventsBuffer         int
	MaxAge               time.Duration
	SkipProcessDetection bool
}

// Update is published whenever a session appears or changes status.
type Update struct {
	ID        int64         `json:"id"`
	Type      string        `json:"type"`
	Timestamp time.Time     `json:"timestamp"`
	Session   event.Session `json:"session"`
}

const (
	updateSessionNew    = "session_new"
	updateStatusChanged = "status_changed"
	updateSessionGone   = "session_gone"
)

// Status is served at /v1/status.
type Status struct {
	StartedAt       time.Time      `json:"started_at"`
	LastPollAt      time.Time      `json:"last_poll_at"`
	PollIntervalSec int            `json:"poll_interval_sec"`
	PollCount       int64          `json:"poll_count"`
	Sessions        int            `json:"sessions"`
	ByStatus        map[string]int `json:"by_status"`
	LastError       string         `json:"last_error,omitempty"`
	UpdateCount     int            `json:"update_count"`
	SubscriberCount int            `json:"subscriber_count"`
}

// Service provides the daemon runtime and HTTP API.
type Service struct {
	cfg Config
	eng *engine.Engine

	mu         sync.RWMutex
	startedAt  time.Time
	lastPollAt time.Time
	pollCount  int64
	lastError  string
	known      map[string]event.Status
	nextID     int64
	updates    []Update

	nextSubID int
	subs      map[int]chan Update
}

// New returns a new daemon service over a discovery engine.
func New(eng *engine.Engine, cfg Config) *Service {
	if cfg.Interval < time.Second {
		cfg.Interval = 2 * time.Second
	}
	if cfg.EventsBuffer < 1 {
		cfg.EventsBuffer = 200
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8799"
	}

	return &Service{
		cfg:       cfg,
		eng:       eng,
		startedAt: time.Now(),
		known:     make(map[string]event.Status),
		subs:      make(map[int]chan Update),
	}
}

// Run starts HTTP endpoints and polling until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/updates", s.handleUpdates)
	mux.HandleFunc("GET /v1/sessions", s.handleSessions)
	mux.HandleFunc("GET /v1/sessions/{id}/events", s.handleSessionEvents)
	mux.HandleFunc("GET /v1/sessions/{id}/context", s.handleSessionContext)
	mux.HandleFunc("GET /v1/sessions/{id}/health", s.handleSessionHealth)
	mux.HandleFunc("GET /v1/sessions/{id}/history", s.handleSessionHistory)
	mux.HandleFunc("GET /v1/sessions/{id}/snapshot", s.handleSessionSnapshot)
	mux.HandleFunc("/v1/stream", s.handleStream)

	server := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Seed initial state so status is useful immediately.
	s.pollOnce()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		case <-ticker.C:
			s.pollOnce()
		case err := <-errCh:
			return fmt.Errorf("daemon http server: %w", err)
		}
	}
}

func (s *Service) pollOnce() {
	sessions := s.eng.Discover(engine.DiscoverOptions{
		MaxAge:               s.cfg.MaxAge,
		SkipProcessDetection: s.cfg.SkipProcessDetection,
	})

	now := time.Now()
	current := make(map[string]event.Status, len(sessions))
	var pending []Update

	s.mu.Lock()
	for _, sess := range sessions {
		current[sess.ID] = sess.Status
		prev, seen := s.known[sess.ID]
		switch {
		case !seen:
			s.nextID++
			pending = append(pending, Update{
				ID: s.nextID, Type: updateSessionNew, Timestamp: now, Session: sess,
			})
		case prev != sess.Status:
			s.nextID++
			pending = append(pending, Update{
				ID: s.nextID, Type: updateStatusChanged, Timestamp: now, Session: sess,
			})
		}
	}
	for id := range s.known {
		if _, still := current[id]; !still {
			s.nextID++
			pending = append(pending, Update{
				ID: s.nextID, Type: updateSessionGone, Timestamp: now,
				Session: event.Session{ID: id},
			})
		}
	}
	s.known = current
	s.lastPollAt = now
	s.pollCount++
	s.lastError = ""
	s.mu.Unlock()

	for _, u := range pending {
		s.publish(u)
	}
	if len(pending) > 0 {
		log.Printf("daemon poll: %d sessions, %d updates", len(sessions), len(pending))
	}
}

func (s *Service) publish(u Update) {
	s.mu.Lock()
	s.updates = append(s.updates, u)
	if len(s.updates) > s.cfg.EventsBuffer {
		s.updates = s.updates[len(s.updates)-s.cfg.EventsBuffer:]
	}

	for _, ch := range s.subs {
		select {
		case ch <- u:
		default:
		}
	}
	s.mu.Unlock()
}

func (s *Service) snapshotStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byStatus := make(map[string]int)
	for _, st := range s.known {
		byStatus[string(st)]++
	}

	return Status{
		StartedAt:       s.startedAt,
		LastPollAt:      s.lastPollAt,
		PollIntervalSec: int(s.cfg.Interval.Seconds()),
		PollCount:       s.pollCount,
		Sessions:        len(s.known),
		ByStatus:        byStatus,
		LastError:       s.lastError,
		UpdateCount:     len(s.updates),
		SubscriberCount: len(s.subs),
	}
}

func (s *Service) addSubscriber(ch chan Update) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSubID++
	id := s.nextSubID
	s.subs[id] = ch
	return id
}

func (s *Service) removeSubscriber(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}
