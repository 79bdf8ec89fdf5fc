package daemon

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"agentwatch/internal/event"
	"agentwatch/internal/stream"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Daemon binds to loopback; cross-origin local tools are fine.
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Service) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.snapshotStatus())
}

func (s *Service) handleUpdates(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	updates := make([]Update, len(s.updates))
	copy(updates, s.updates)
	s.mu.RUnlock()
	writeJSON(w, updates)
}

func (s *Service) handleSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.eng.Sessions())
}

func (s *Service) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	events, err := s.eng.Events(id, r.URL.Query().Get("refresh") == "true")
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, events)
}

func (s *Service) handleSessionContext(w http.ResponseWriter, r *http.Request) {
	summary, err := s.eng.Context(r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, summary)
}

func (s *Service) handleSessionHealth(w http.ResponseWriter, r *http.Request) {
	summary, err := s.eng.Health(r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, summary)
}

func (s *Service) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	batch, _ := strconv.Atoi(r.URL.Query().Get("batch"))

	tracker := stream.NewTracker(s.eng)
	page, err := tracker.Backfill(r.PathValue("id"), offset, batch)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, page)
}

func (s *Service) handleSessionSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.eng.ExportSnapshot(r.PathValue("id"), r.URL.Query().Get("docs") == "true")
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, snap)
}

// streamMessage is one websocket frame: either a session update or a batch
// of new transcript events for one session.
type streamMessage struct {
	Type      string                  `json:"type"`
	Timestamp time.Time               `json:"timestamp"`
	Update    *Update                 `json:"update,omitempty"`
	SessionID string                  `json:"session_id,omitempty"`
	Events    []event.NormalizedEvent `json:"events,omitempty"`
}

// handleStream upgrades to a websocket and pushes session updates plus
// incremental transcript events. Each connection owns its own tracker, so
// its cursors are released when the client disconnects.
func (s *Service) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	ch := make(chan Update, 16)
	subID := s.addSubscriber(ch)
	defer s.removeSubscriber(subID)

	// Drain client frames so pings and close handshakes are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	tracker := stream.NewTracker(s.eng)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case u := <-ch:
			msg := streamMessage{Type: u.Type, Timestamp: u.Timestamp, Update: &u}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := s.pushIncremental(conn, tracker); err != nil {
				return
			}
		}
	}
}

// pushIncremental polls every live session's cursor and writes one batched
// frame per session that produced new events. Only active and open sessions
// are polled; everything else cannot grow between polls.
func (s *Service) pushIncremental(conn *websocket.Conn, tracker *stream.Tracker) error {
	for _, sess := range s.eng.Sessions() {
		if sess.Status != event.StatusActive && sess.Status != event.StatusOpen {
			continue
		}
		events, err := tracker.Poll(sess.ID)
		if err != nil || len(events) == 0 {
			continue
		}
		msg := streamMessage{
			Type:      "events",
			Timestamp: time.Now(),
			SessionID: sess.ID,
			Events:    events,
		}
		if err := conn.WriteJSON(msg); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
