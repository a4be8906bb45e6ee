package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/muffinhead3/screen-share-app/internal/protocol"
	"github.com/muffinhead3/screen-share-app/internal/upload"
)

const testOriginURL = "http://localhost:8080"

// newTestServer starts a Server with its hub running behind an
// httptest server. Both are stopped when the test ends.
func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	SetConfig(nil)
	t.Cleanup(func() { SetConfig(nil) })

	uploads, err := upload.NewService(t.TempDir(), "/uploads", 1<<20)
	if err != nil {
		t.Fatalf("upload.NewService: %v", err)
	}

	srv := New(uploads, nil)
	srv.StartHub()
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Hub().Shutdown(2 * time.Second)
	})
	return srv, ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

// connectWebSocket dials the test server with an allowed origin.
func connectWebSocket(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	headers := http.Header{}
	headers.Set("Origin", testOriginURL)

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, typ protocol.EventType, payload map[string]any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteJSON(protocol.Envelope{Type: typ, Payload: raw}); err != nil {
		t.Fatalf("send %s: %v", typ, err)
	}
}

type received struct {
	Type    protocol.EventType `json:"type"`
	Payload json.RawMessage    `json:"payload"`
}

func (r received) decode(t *testing.T, v any) {
	t.Helper()
	if err := json.Unmarshal(r.Payload, v); err != nil {
		t.Fatalf("decode %s payload: %v", r.Type, err)
	}
}

// waitFor reads frames until one of type typ arrives. Other frames are
// skipped.
func waitFor(t *testing.T, conn *websocket.Conn, typ protocol.EventType) received {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		if err := conn.SetReadDeadline(deadline); err != nil {
			t.Fatal(err)
		}
		var msg received
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		if msg.Type == typ {
			return msg
		}
	}
}

// expectSilence fails if any frame arrives on conn within d.
func expectSilence(t *testing.T, conn *websocket.Conn, d time.Duration) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(d)); err != nil {
		t.Fatal(err)
	}
	var msg received
	if err := conn.ReadJSON(&msg); err == nil {
		t.Errorf("unexpected message %s: %s", msg.Type, msg.Payload)
	}
}

// waitUntil polls cond until it holds or the timeout expires.
func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// assertStatusCode checks if the HTTP response has the expected status code.
func assertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// createSession calls the API and returns the new session id.
func createSession(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/sessions", "application/json", http.NoBody)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	assertStatusCode(t, resp, http.StatusCreated)

	var body createSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	return body.SessionID
}
