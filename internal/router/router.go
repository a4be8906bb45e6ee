// Package router turns inbound session events into store mutations and
// outbound broadcasts. It knows nothing about the network: delivery
// goes through the Transport interface.
package router

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/muffinhead3/screen-share-app/internal/presence"
	"github.com/muffinhead3/screen-share-app/internal/protocol"
	"github.com/muffinhead3/screen-share-app/internal/session"
)

// Transport delivers messages to connections grouped by session. A
// room holds the connections that joined a session.
type Transport interface {
	// Join adds conn to the room for sessionID.
	Join(sessionID, conn string)
	// Leave removes conn from the room for sessionID.
	Leave(sessionID, conn string)
	// Broadcast sends msg to every connection in the room except.
	Broadcast(sessionID, except string, msg protocol.Message)
	// BroadcastAll sends msg to every connection in the room.
	BroadcastAll(sessionID string, msg protocol.Message)
	// Send delivers msg to a single connection.
	Send(conn string, msg protocol.Message)
}

// Router applies events to the session store and fans them out. All
// handling runs under one mutex, so each event is fully applied and
// broadcast before the next begins.
type Router struct {
	mu        sync.Mutex
	store     *session.Store
	presence  *presence.Tracker
	transport Transport
	logger    *slog.Logger
}

// New returns a router. A nil logger discards output.
func New(store *session.Store, tracker *presence.Tracker, transport Transport, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Router{
		store:     store,
		presence:  tracker,
		transport: transport,
		logger:    logger.With("component", "router"),
	}
}

// HandleFrame decodes a raw frame from conn and handles it. Frames that
// fail validation are dropped.
func (r *Router) HandleFrame(conn string, data []byte) {
	ev, err := protocol.Decode(data)
	if err != nil {
		r.logger.Debug("dropping frame", "conn", conn, "error", err)
		return
	}
	r.Handle(conn, ev)
}

// Handle applies one validated event sent by conn.
func (r *Router) Handle(conn string, ev protocol.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if join, ok := ev.(protocol.JoinSession); ok {
		r.join(conn, join)
		return
	}

	sessionID := ev.Session()
	if m, ok := r.presence.Lookup(conn); !ok || m.SessionID != sessionID {
		r.logger.Debug("dropping event from non-member", "conn", conn, "session", sessionID, "type", ev.Type())
		return
	}

	var err error
	switch e := ev.(type) {
	case protocol.PageChange:
		if err = r.store.SetPage(sessionID, e.Page, e.TotalPages); err == nil {
			r.transport.Broadcast(sessionID, conn, protocol.PageChanged(e.Page, e.TotalPages))
		}
	case protocol.Stroke:
		if e.DrawingData != nil {
			err = r.store.AppendDrawing(sessionID, e.DrawingData)
		}
		if err == nil {
			r.transport.Broadcast(sessionID, conn, protocol.Relay(e))
		}
	case protocol.ClearDrawings:
		if err = r.store.ClearDrawings(sessionID); err == nil {
			r.transport.Broadcast(sessionID, conn, protocol.DrawingsCleared(sessionID))
		}
	case protocol.UndoDrawing:
		if err = r.store.UndoLastDrawing(sessionID); err == nil {
			r.transport.Broadcast(sessionID, conn, protocol.DrawingUndone(sessionID))
		}
	case protocol.PointerMove:
		if r.store.Exists(sessionID) {
			r.transport.Broadcast(sessionID, conn, protocol.PointerMoved(e))
		}
	default:
		err = fmt.Errorf("unhandled event %s", ev.Type())
	}

	if err != nil {
		r.logger.Debug("event dropped", "conn", conn, "session", sessionID, "type", ev.Type(), "error", err)
	}
}

func (r *Router) join(conn string, ev protocol.JoinSession) {
	res, err := r.presence.Join(ev.SessionID, conn, ev.Role)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			r.transport.Send(conn, protocol.SessionNotFound(ev.SessionID))
		}
		r.logger.Info("join rejected", "conn", conn, "session", ev.SessionID, "role", ev.Role, "error", err)
		return
	}

	if res.Previous != nil {
		r.departed(conn, *res.Previous)
	}

	r.transport.Join(ev.SessionID, conn)
	if res.State != nil {
		r.transport.Send(conn, protocol.SessionState(res.State))
	}
	if res.Rejoined {
		return
	}

	r.transport.Broadcast(ev.SessionID, conn, protocol.UserJoined(ev.Role))
	if ev.Role == session.RoleCustomer {
		r.transport.BroadcastAll(ev.SessionID, protocol.CustomerCount(r.presence.CustomerCount(ev.SessionID)))
	}

	r.logger.Info("joined session", "conn", conn, "session", ev.SessionID, "role", ev.Role,
		"customers", r.presence.CustomerCount(ev.SessionID))
	if res.Replaced != "" {
		r.logger.Info("consultant replaced", "session", ev.SessionID, "previous", res.Replaced, "current", conn)
	}
}

// Disconnect removes conn from its session and tells the others.
// Unknown connections are ignored.
func (r *Router) Disconnect(conn string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.presence.Leave(conn)
	if !ok {
		return
	}
	r.departed(conn, m)
	r.logger.Info("left session", "conn", conn, "session", m.SessionID, "role", m.Role,
		"customers", r.presence.CustomerCount(m.SessionID))
}

// departed must be called after m was removed from presence.
func (r *Router) departed(conn string, m presence.Membership) {
	r.transport.Leave(m.SessionID, conn)
	r.transport.Broadcast(m.SessionID, conn, protocol.UserLeft(m.Role))
	if m.Role == session.RoleCustomer {
		r.transport.BroadcastAll(m.SessionID, protocol.CustomerCount(r.presence.CustomerCount(m.SessionID)))
	}
}

// FileLoaded records an uploaded document and announces it to the
// whole room. Callers invoke it only after the upload has been stored.
func (r *Router) FileLoaded(sessionID, url string, fileType session.FileType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.SetFile(sessionID, url, fileType); err != nil {
		return err
	}
	r.transport.BroadcastAll(sessionID, protocol.FileLoaded(url, fileType))
	r.logger.Info("file loaded", "session", sessionID, "url", url, "type", fileType)
	return nil
}
