package server

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/muffinhead3/screen-share-app/internal/protocol"
	"github.com/muffinhead3/screen-share-app/internal/session"
)

func join(t *testing.T, conn *websocket.Conn, sessionID string, role session.Role) {
	t.Helper()
	sendEvent(t, conn, protocol.TypeJoinSession, map[string]any{"sessionId": sessionID, "role": string(role)})
}

// joinInOrder joins consultant, waits until the join has been applied,
// then joins customer. Frames from different connections are handled
// in no particular order, so without the wait the customer-count for
// the customer's join can go out before the consultant is in the room.
func joinInOrder(t *testing.T, srv *Server, sessionID string, consultant, customer *websocket.Conn) {
	t.Helper()
	before := srv.presence.Len()
	join(t, consultant, sessionID, session.RoleConsultant)
	waitUntil(t, 2*time.Second, func() bool { return srv.presence.Len() == before+1 })
	join(t, customer, sessionID, session.RoleCustomer)
}

// TestAnnotationSession runs a full consultation over real connections:
// upload, two customers join, one draws, the consultant turns the page.
func TestAnnotationSession(t *testing.T) {
	srv, ts := newTestServer(t)
	id := createSession(t, ts)

	consultant := connectWebSocket(t, wsURL(ts))
	join(t, consultant, id, session.RoleConsultant)
	waitUntil(t, 2*time.Second, func() bool { return srv.presence.Len() == 1 })

	resp := postUpload(t, ts, id, "file", "application/pdf", []byte("%PDF-1.4 scenario"))
	assertStatusCode(t, resp, http.StatusOK)
	var uploaded struct {
		FileURL string `json:"fileUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&uploaded); err != nil {
		t.Fatal(err)
	}

	var loaded protocol.FilePayload
	waitFor(t, consultant, protocol.TypeFileLoaded).decode(t, &loaded)
	if loaded.FileURL != uploaded.FileURL || loaded.FileType != session.FilePDF {
		t.Errorf("file-loaded = %+v", loaded)
	}

	customerA := connectWebSocket(t, wsURL(ts))
	customerB := connectWebSocket(t, wsURL(ts))
	join(t, customerA, id, session.RoleCustomer)
	join(t, customerB, id, session.RoleCustomer)

	for _, conn := range []*websocket.Conn{customerA, customerB} {
		var state protocol.SessionStatePayload
		waitFor(t, conn, protocol.TypeSessionState).decode(t, &state)
		if state.FileURL != uploaded.FileURL || state.FileType != session.FilePDF {
			t.Errorf("session-state file = %q %q", state.FileURL, state.FileType)
		}
		if state.Drawings == nil || len(state.Drawings) != 0 {
			t.Errorf("session-state drawings = %v, want []", state.Drawings)
		}
	}

	// B's own join produced a count of 2 for everyone; wait for it so
	// the next frame B reads is the stroke.
	waitUntil(t, 2*time.Second, func() bool { return srv.presence.CustomerCount(id) == 2 })
	for {
		var count protocol.CustomerCountPayload
		waitFor(t, customerB, protocol.TypeCustomerCount).decode(t, &count)
		if count.Count == 2 {
			break
		}
	}

	sendEvent(t, customerA, protocol.TypeDrawEnd, map[string]any{
		"sessionId":   id,
		"drawingData": map[string]int{"stroke": 1},
	})

	var relayed map[string]json.RawMessage
	waitFor(t, customerB, protocol.TypeDrawEnded).decode(t, &relayed)
	if string(relayed["drawingData"]) != `{"stroke":1}` {
		t.Errorf("draw-ended payload = %s", relayed["drawingData"])
	}
	waitUntil(t, 2*time.Second, func() bool {
		sess, _ := srv.Store().Get(id)
		return len(sess.Drawings) == 1
	})
	sess, _ := srv.Store().Get(id)
	if string(sess.Drawings[0]) != `{"stroke":1}` {
		t.Errorf("drawings = %s", sess.Drawings)
	}

	sendEvent(t, consultant, protocol.TypePageChange, map[string]any{"sessionId": id, "page": 2, "totalPages": 5})

	var page protocol.PagePayload
	waitFor(t, customerA, protocol.TypePageChanged).decode(t, &page)
	if page.Page != 2 || page.TotalPages != 5 {
		t.Errorf("page-changed = %+v", page)
	}
	sess, _ = srv.Store().Get(id)
	if sess.CurrentPage != 2 || len(sess.Drawings) != 0 {
		t.Errorf("after page change: page %d, drawings %d", sess.CurrentPage, len(sess.Drawings))
	}
}

// TestSenderDoesNotReceiveOwnStroke checks the relay skips the sender.
func TestSenderDoesNotReceiveOwnStroke(t *testing.T) {
	srv, ts := newTestServer(t)
	id := createSession(t, ts)

	consultant := connectWebSocket(t, wsURL(ts))
	customer := connectWebSocket(t, wsURL(ts))
	joinInOrder(t, srv, id, consultant, customer)
	waitFor(t, consultant, protocol.TypeCustomerCount)
	waitFor(t, customer, protocol.TypeCustomerCount)

	sendEvent(t, consultant, protocol.TypePointerMove, map[string]any{"sessionId": id, "x": 0.25, "y": 0.75, "visible": true})

	var pointer protocol.PointerPayload
	waitFor(t, customer, protocol.TypePointerMoved).decode(t, &pointer)
	if pointer.X != 0.25 || pointer.Y != 0.75 || !pointer.Visible {
		t.Errorf("pointer-moved = %+v", pointer)
	}
	expectSilence(t, consultant, 200*time.Millisecond)
}

// TestJoinUnknownSession checks the joining connection is told why.
func TestJoinUnknownSession(t *testing.T) {
	_, ts := newTestServer(t)
	conn := connectWebSocket(t, wsURL(ts))

	join(t, conn, "deadbeef", session.RoleCustomer)

	var errPayload protocol.ErrorPayload
	waitFor(t, conn, protocol.TypeError).decode(t, &errPayload)
	if errPayload.Code != protocol.CodeSessionNotFound {
		t.Errorf("error code = %s", errPayload.Code)
	}
}

// TestDisconnectNotifiesRoom checks user-left and customer-count after
// a customer drops.
func TestDisconnectNotifiesRoom(t *testing.T) {
	srv, ts := newTestServer(t)
	id := createSession(t, ts)

	consultant := connectWebSocket(t, wsURL(ts))
	customer := connectWebSocket(t, wsURL(ts))
	joinInOrder(t, srv, id, consultant, customer)
	waitFor(t, consultant, protocol.TypeCustomerCount)

	if err := customer.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")); err != nil {
		t.Fatal(err)
	}
	_ = customer.Close()

	var left protocol.RolePayload
	waitFor(t, consultant, protocol.TypeUserLeft).decode(t, &left)
	if left.Role != session.RoleCustomer {
		t.Errorf("user-left role = %s", left.Role)
	}
	var count protocol.CustomerCountPayload
	waitFor(t, consultant, protocol.TypeCustomerCount).decode(t, &count)
	if count.Count != 0 {
		t.Errorf("customer-count = %d, want 0", count.Count)
	}
	if srv.presence.CustomerCount(id) != 0 {
		t.Error("customer still tracked after disconnect")
	}
}

// TestSecondConsultantReplacesFirst checks the slot moves to the newest
// consultant and the earlier one stays connected.
func TestSecondConsultantReplacesFirst(t *testing.T) {
	srv, ts := newTestServer(t)
	id := createSession(t, ts)

	first := connectWebSocket(t, wsURL(ts))
	second := connectWebSocket(t, wsURL(ts))
	join(t, first, id, session.RoleConsultant)
	waitUntil(t, 2*time.Second, func() bool { return srv.presence.Len() == 1 })
	join(t, second, id, session.RoleConsultant)

	var joined protocol.RolePayload
	waitFor(t, first, protocol.TypeUserJoined).decode(t, &joined)
	if joined.Role != session.RoleConsultant {
		t.Errorf("user-joined role = %s", joined.Role)
	}

	sendEvent(t, second, protocol.TypeClearDrawings, map[string]any{"sessionId": id})
	waitFor(t, first, protocol.TypeDrawingsCleared)

	// The first consultant leaving must not empty the slot.
	_ = first.Close()
	waitUntil(t, 2*time.Second, func() bool { return srv.presence.Len() == 1 })
	sess, _ := srv.Store().Get(id)
	if sess.Consultant == "" {
		t.Error("consultant slot cleared by the replaced connection")
	}
}

// TestManyCustomers checks fan-out to every other member of a room.
func TestManyCustomers(t *testing.T) {
	srv, ts := newTestServer(t)
	id := createSession(t, ts)

	consultant := connectWebSocket(t, wsURL(ts))
	join(t, consultant, id, session.RoleConsultant)
	waitUntil(t, 2*time.Second, func() bool { return srv.presence.Len() == 1 })

	const n = 8
	customers := make([]*websocket.Conn, n)
	for i := range customers {
		customers[i] = connectWebSocket(t, wsURL(ts))
		join(t, customers[i], id, session.RoleCustomer)
		waitFor(t, customers[i], protocol.TypeSessionState)
	}
	for {
		var count protocol.CustomerCountPayload
		waitFor(t, consultant, protocol.TypeCustomerCount).decode(t, &count)
		if count.Count == n {
			break
		}
	}

	sendEvent(t, consultant, protocol.TypeUndoDrawing, map[string]any{"sessionId": id})
	for _, c := range customers {
		waitFor(t, c, protocol.TypeDrawingUndone)
	}
}

// TestGracefulShutdownWithClients verifies that active client connections
// are closed when the server shuts down.
func TestGracefulShutdownWithClients(t *testing.T) {
	srv, ts := newTestServer(t)

	clients := make([]*websocket.Conn, 3)
	for i := range clients {
		clients[i] = connectWebSocket(t, wsURL(ts))
	}
	waitUntil(t, 2*time.Second, func() bool { return srv.Hub().ClientCount() == len(clients) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownDone := make(chan error, 1)
	go func() { shutdownDone <- srv.Hub().Shutdown(5 * time.Second) }()

	for i, conn := range clients {
		if err := conn.SetReadDeadline(time.Now().Add(3 * time.Second)); err != nil {
			t.Fatal(err)
		}
		if _, _, err := conn.ReadMessage(); err == nil {
			t.Errorf("client %d still readable after shutdown", i)
		}
	}

	select {
	case err := <-shutdownDone:
		if err != nil {
			t.Errorf("hub shutdown: %v", err)
		}
	case <-ctx.Done():
		t.Fatal("hub shutdown did not finish")
	}
}
