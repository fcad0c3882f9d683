package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/agentworkforce/relaydiff/internal/relaydiff"
)

const (
	EventCurrent = "current"
	EventSidebar = "sidebar"
	EventRedraw  = "redraw"
	EventTitle   = "title"
	EventClose   = "close"
)

type ServerConfig struct {
	MaxBodyBytes   int64
	EventBuffer    int
	WriteTimeout   time.Duration
	OriginPatterns []string
	Logger         relaydiff.Logger
}

// Navigator is the part of the session controller the HTTP surface drives.
type Navigator interface {
	Snapshot() relaydiff.ViewState
	SelectEntry(ctx context.Context, entryID string) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
	ToggleSidebar() bool
}

// Server exposes one viewer over HTTP. It is also the controller's rendering
// surface and host: callbacks are fanned out to websocket subscribers.
type Server struct {
	cfg ServerConfig

	mu          sync.Mutex
	nav         Navigator
	title       string
	subscribers map[*subscriber]struct{}
	closed      bool
	closedCh    chan struct{}
}

type subscriber struct {
	events chan ViewEvent
}

type ViewEvent struct {
	Type    string                     `json:"type"`
	Title   string                     `json:"title,omitempty"`
	EntryID string                     `json:"entryId,omitempty"`
	Current *relaydiff.SessionMetadata `json:"current,omitempty"`
	Diff    string                     `json:"diff,omitempty"`
	Groups  []relaydiff.DirectoryGroup `json:"groups,omitempty"`
}

type ViewResponse struct {
	State          string                     `json:"state"`
	Title          string                     `json:"title"`
	EntryID        string                     `json:"entryId"`
	Current        relaydiff.SessionMetadata  `json:"current"`
	Diff           string                     `json:"diff"`
	Groups         []relaydiff.DirectoryGroup `json:"groups"`
	SidebarVisible bool                       `json:"sidebarVisible"`
}

type SelectRequest struct {
	EntryID string `json:"entryId"`
}

type SidebarResponse struct {
	SidebarVisible bool `json:"sidebarVisible"`
}

func NewServer() *Server {
	return NewServerWithConfig(ServerConfig{})
}

func NewServerWithConfig(cfg ServerConfig) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 32
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = discardLogger{}
	}
	return &Server{
		cfg:         cfg,
		subscribers: map[*subscriber]struct{}{},
		closedCh:    make(chan struct{}),
	}
}

type discardLogger struct{}

func (discardLogger) Printf(string, ...any) {}

// Attach binds the controller whose view this server publishes.
func (s *Server) Attach(nav Navigator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nav = nav
}

// Closed is closed once the controller asks the viewer to go away.
func (s *Server) Closed() <-chan struct{} {
	return s.closedCh
}

// Subscribers returns the number of connected event streams.
func (s *Server) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers)
}

func (s *Server) OnCurrentFileChanged(meta relaydiff.SessionMetadata, diff string) {
	s.broadcast(ViewEvent{Type: EventCurrent, EntryID: meta.EntryID(), Current: &meta, Diff: diff})
}

func (s *Server) OnSidebarChanged(groups []relaydiff.DirectoryGroup) {
	s.broadcast(ViewEvent{Type: EventSidebar, Groups: groups})
}

func (s *Server) RequestRedraw() {
	s.broadcast(ViewEvent{Type: EventRedraw})
}

func (s *Server) SetTitle(title string) {
	s.mu.Lock()
	s.title = title
	s.mu.Unlock()
	s.broadcast(ViewEvent{Type: EventTitle, Title: title})
}

func (s *Server) Close() {
	s.broadcast(ViewEvent{Type: EventClose})
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.closedCh)
	}
}

func (s *Server) broadcast(ev ViewEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subscribers {
		select {
		case sub.events <- ev:
		default:
			s.cfg.Logger.Printf("httpapi: dropping %s event for slow subscriber", ev.Type)
		}
	}
}

func (s *Server) subscribe() *subscriber {
	sub := &subscriber{events: make(chan ViewEvent, s.cfg.EventBuffer)}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers[sub] = struct{}{}
	return sub
}

func (s *Server) unsubscribe(sub *subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribers, sub)
}

func (s *Server) navigator() Navigator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nav
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if r.URL.Path == "/" {
		s.handleViewerPage(w, r)
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "v1" || parts[1] != "view" {
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
		return
	}

	var route string
	switch {
	case len(parts) == 2 && r.Method == http.MethodGet:
		route = "view"
	case len(parts) == 3 && parts[2] == "events" && r.Method == http.MethodGet:
		route = "events"
	case len(parts) == 3 && parts[2] == "select" && r.Method == http.MethodPost:
		route = "select"
	case len(parts) == 3 && parts[2] == "next" && r.Method == http.MethodPost:
		route = "next"
	case len(parts) == 3 && parts[2] == "prev" && r.Method == http.MethodPost:
		route = "prev"
	case len(parts) == 3 && parts[2] == "sidebar" && r.Method == http.MethodPost:
		route = "sidebar"
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
		return
	}

	correlationID := getCorrelationID(r)
	nav := s.navigator()
	if nav == nil {
		writeError(w, http.StatusServiceUnavailable, "not_ready", "viewer is not attached", correlationID)
		return
	}

	switch route {
	case "view":
		s.writeView(w, http.StatusOK, nav)
	case "events":
		s.handleEvents(w, r, nav)
	case "select":
		s.handleSelect(w, r, nav, correlationID)
	case "next":
		s.handleStep(w, r, nav, nav.Next, correlationID)
	case "prev":
		s.handleStep(w, r, nav, nav.Previous, correlationID)
	case "sidebar":
		writeJSON(w, http.StatusOK, SidebarResponse{SidebarVisible: nav.ToggleSidebar()})
	}
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request, nav Navigator, correlationID string) {
	var req SelectRequest
	if !s.decodeJSONBody(w, r, correlationID, &req) {
		return
	}
	if strings.TrimSpace(req.EntryID) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing entryId", correlationID)
		return
	}
	if err := nav.SelectEntry(r.Context(), req.EntryID); err != nil {
		writeControllerError(w, err, correlationID)
		return
	}
	s.writeView(w, http.StatusOK, nav)
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request, nav Navigator, step func(context.Context) error, correlationID string) {
	if err := step(r.Context()); err != nil {
		writeControllerError(w, err, correlationID)
		return
	}
	s.writeView(w, http.StatusOK, nav)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, nav Navigator) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.OriginPatterns})
	if err != nil {
		s.cfg.Logger.Printf("httpapi: websocket accept failed: %v", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")

	sub := s.subscribe()
	defer s.unsubscribe(sub)
	ctx := conn.CloseRead(r.Context())

	// the first frame carries the full view so late subscribers can render
	snapshot := s.view(nav)
	first := ViewEvent{
		Type:    EventRedraw,
		Title:   snapshot.Title,
		EntryID: snapshot.EntryID,
		Current: &snapshot.Current,
		Diff:    snapshot.Diff,
		Groups:  snapshot.Groups,
	}
	if err := s.writeEvent(ctx, conn, first); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sub.events:
			if err := s.writeEvent(ctx, conn, ev); err != nil {
				return
			}
			if ev.Type == EventClose {
				conn.Close(websocket.StatusNormalClosure, "viewer closed")
				return
			}
		}
	}
}

func (s *Server) writeEvent(ctx context.Context, conn *websocket.Conn, ev ViewEvent) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}

func (s *Server) view(nav Navigator) ViewResponse {
	snapshot := nav.Snapshot()
	s.mu.Lock()
	title := s.title
	s.mu.Unlock()
	groups := snapshot.Groups
	if groups == nil {
		groups = []relaydiff.DirectoryGroup{}
	}
	return ViewResponse{
		State:          snapshot.State.String(),
		Title:          title,
		EntryID:        snapshot.Current.EntryID(),
		Current:        snapshot.Current,
		Diff:           snapshot.Diff,
		Groups:         groups,
		SidebarVisible: snapshot.SidebarVisible,
	}
}

func (s *Server) writeView(w http.ResponseWriter, status int, nav Navigator) {
	writeJSON(w, status, s.view(nav))
}

func writeControllerError(w http.ResponseWriter, err error, correlationID string) {
	switch {
	case errors.Is(err, relaydiff.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), correlationID)
	case errors.Is(err, relaydiff.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
	case errors.Is(err, relaydiff.ErrMalformedEntry):
		writeError(w, http.StatusUnprocessableEntity, "malformed_entry", err.Error(), correlationID)
	case errors.Is(err, relaydiff.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error(), correlationID)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
	}
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request, correlationID string) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", correlationID)
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", correlationID)
		return nil, false
	}
	return body, true
}

func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, correlationID string, dst any) bool {
	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}
