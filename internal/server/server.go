package server

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/muffinhead3/screen-share-app/internal/presence"
	"github.com/muffinhead3/screen-share-app/internal/router"
	"github.com/muffinhead3/screen-share-app/internal/session"
	"github.com/muffinhead3/screen-share-app/internal/upload"
)

// Server owns the session core and the transport around it. Handlers
// are methods on Server; routes are built by Routes.
type Server struct {
	store    *session.Store
	presence *presence.Tracker
	hub      *Hub
	router   *router.Router
	uploads  *upload.Service
	upgrader websocket.Upgrader
	logger   *slog.Logger
	started  time.Time
}

// New builds the session store, presence tracker, hub and router and
// wires them together. Uploaded files go through uploads.
func New(uploads *upload.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	store := session.NewStore()
	tracker := presence.NewTracker(store)
	hub := NewHub(logger)
	rt := router.New(store, tracker, hub, logger)
	hub.SetHandler(rt)

	s := &Server{
		store:    store,
		presence: tracker,
		hub:      hub,
		router:   rt,
		uploads:  uploads,
		logger:   logger.With("component", "http"),
		started:  time.Now(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Store returns the session store.
func (s *Server) Store() *session.Store {
	return s.store
}

// Hub returns the connection hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// StartHub starts the hub loop in a separate goroutine. It must be
// called before the HTTP server accepts WebSocket connections.
func (s *Server) StartHub() {
	go s.hub.Run()
	s.logger.Info("hub started")
}
