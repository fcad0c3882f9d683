package viewclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentworkforce/relaydiff/internal/httpapi"
	"github.com/agentworkforce/relaydiff/internal/relaydiff"
)

func TestClientRetriesTransientFailure(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := atomic.AddInt32(&calls, 1)
		if call == 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"code":"store_unavailable","message":"retry"}`))
			return
		}
		if r.URL.Path != "/v1/view" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"state":"settled","title":"a.go","entryId":"meta:D1:0000000001000:h1","groups":[]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, server.Client())
	client.baseDelay = time.Millisecond
	view, err := client.View(context.Background())
	if err != nil {
		t.Fatalf("expected retry to recover from transient 503, got error: %v", err)
	}
	if view.Title != "a.go" {
		t.Fatalf("expected title a.go, got %s", view.Title)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected exactly 2 calls (1 retry), got %d", atomic.LoadInt32(&calls))
	}
}

// droppingServer closes every connection without answering.
func droppingServer(t *testing.T, calls *int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		hijacker, ok := w.(http.Hijacker)
		if !ok {
			t.Errorf("response writer cannot be hijacked")
			return
		}
		conn, _, err := hijacker.Hijack()
		if err != nil {
			t.Errorf("hijack failed: %v", err)
			return
		}
		_ = conn.Close()
	}))
	t.Cleanup(server.Close)
	return server
}

func TestClientDoesNotRepeatRelativeMovesOnTransportError(t *testing.T) {
	var calls int32
	server := droppingServer(t, &calls)
	client := NewClient(server.URL, server.Client())
	client.baseDelay = time.Millisecond

	if _, err := client.Next(context.Background()); err == nil {
		t.Fatalf("expected next to fail when the connection drops")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected next to be sent once, got %d", got)
	}
	if _, err := client.Previous(context.Background()); err == nil {
		t.Fatalf("expected prev to fail when the connection drops")
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected prev to be sent once, got %d total calls", got)
	}
}

func TestClientRetriesIdempotentRequestsOnTransportError(t *testing.T) {
	var calls int32
	server := droppingServer(t, &calls)
	client := NewClient(server.URL, server.Client())
	client.baseDelay = time.Millisecond

	if _, err := client.View(context.Background()); err == nil {
		t.Fatalf("expected view to fail when every connection drops")
	}
	if got := atomic.LoadInt32(&calls); got != int32(client.maxRetries+1) {
		t.Fatalf("expected %d view attempts, got %d", client.maxRetries+1, got)
	}
	if !idempotentRequest(http.MethodPost, "/v1/view/select") {
		t.Fatalf("expected select to count as idempotent")
	}
	if idempotentRequest(http.MethodPost, "/v1/view/sidebar") {
		t.Fatalf("expected sidebar toggle to count as non-idempotent")
	}
}

func TestClientSelectSendsEntryID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/view/select" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var req httpapi.SelectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode select body: %v", err)
		}
		if req.EntryID != "meta:D1:0000000001000:h2" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"code":"not_found","message":"unknown entry"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"entryId":"meta:D1:0000000001000:h2"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, server.Client())
	view, err := client.Select(context.Background(), "meta:D1:0000000001000:h2")
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if view.EntryID != "meta:D1:0000000001000:h2" {
		t.Fatalf("unexpected entry id %s", view.EntryID)
	}

	_, err = client.Select(context.Background(), "meta:D1:0000000001000:nope")
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusNotFound || httpErr.Code != "not_found" {
		t.Fatalf("expected 404 not_found HTTPError, got %v", err)
	}
}

func TestNewClientDefaults(t *testing.T) {
	client := NewClient("127.0.0.1:9000/", nil)
	if client.baseURL != "http://127.0.0.1:9000" {
		t.Fatalf("unexpected base url %s", client.baseURL)
	}
	if got := client.websocketURL("/v1/view/events"); got != "ws://127.0.0.1:9000/v1/view/events" {
		t.Fatalf("unexpected websocket url %s", got)
	}
	secure := NewClient("https://viewer.local", nil)
	if got := secure.websocketURL("/x"); got != "wss://viewer.local/x" {
		t.Fatalf("unexpected secure websocket url %s", got)
	}
}

func TestRetryDelayHonoursRetryAfter(t *testing.T) {
	client := NewClient("", nil)
	if got := client.retryDelay(1, "1"); got != time.Second {
		t.Fatalf("expected 1s from Retry-After, got %s", got)
	}
	if got := client.retryDelay(1, "60"); got != client.maxDelay {
		t.Fatalf("expected delay capped at %s, got %s", client.maxDelay, got)
	}
	if got := client.retryDelay(3, ""); got != 400*time.Millisecond {
		t.Fatalf("expected exponential backoff of 400ms, got %s", got)
	}
}

type staticNavigator struct {
	current relaydiff.SessionMetadata
}

func (n *staticNavigator) Snapshot() relaydiff.ViewState {
	return relaydiff.ViewState{State: relaydiff.StateSettled, Current: n.current, Diff: "@@ -1 +1 @@"}
}

func (n *staticNavigator) SelectEntry(context.Context, string) error { return nil }
func (n *staticNavigator) Next(context.Context) error                { return nil }
func (n *staticNavigator) Previous(context.Context) error            { return nil }
func (n *staticNavigator) ToggleSidebar() bool                       { return true }

func TestClientEventsUntilClose(t *testing.T) {
	viewer := httpapi.NewServer()
	nav := &staticNavigator{current: relaydiff.SessionMetadata{
		DirectoryHash:  "D1",
		BatchTimestamp: 1000,
		ContentHash:    "h1",
		MergedPath:     "a.go",
		Change:         relaydiff.ChangeModified,
	}}
	viewer.Attach(nav)
	server := httptest.NewServer(viewer)
	defer server.Close()

	client := NewClient(server.URL, server.Client())
	visible, err := client.ToggleSidebar(context.Background())
	if err != nil {
		t.Fatalf("toggle sidebar failed: %v", err)
	}
	if !visible {
		t.Fatalf("expected sidebar visible")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var types []string
	err = client.Events(ctx, func(ev httpapi.ViewEvent) error {
		types = append(types, ev.Type)
		if len(types) == 1 {
			go func() {
				viewer.SetTitle("a.go")
				viewer.Close()
			}()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("events failed: %v", err)
	}
	if len(types) < 2 || types[0] != httpapi.EventRedraw || types[len(types)-1] != httpapi.EventClose {
		t.Fatalf("expected redraw first and close last, got %v", types)
	}
}
