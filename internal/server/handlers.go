package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/muffinhead3/screen-share-app/internal/session"
	"github.com/muffinhead3/screen-share-app/internal/upload"
)

// multipartOverhead is the slack allowed on top of the file cap for
// multipart boundaries and part headers.
const multipartOverhead = 1 << 20

// handleWebSocket upgrades the request and registers a new client with
// the hub, which starts the client's read and write pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(conn, s.hub, r.RemoteAddr)
	if !s.hub.Register(client) {
		_ = conn.Close()
	}
}

// handleIndex answers plain liveness probes.
func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "screen-share server is running")
}

type createSessionResponse struct {
	SessionID string `json:"sessionId"`
	ShareURL  string `json:"shareUrl"`
}

// handleCreateSession allocates a session and returns the link
// customers open to join it.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	id := s.store.Create()
	s.logger.Info("session created", "session", id, "remote", r.RemoteAddr)

	writeJSON(w, http.StatusCreated, createSessionResponse{
		SessionID: id,
		ShareURL:  s.baseURL(r) + "/?session=" + id,
	})
}

// baseURL is the configured public URL, or one derived from the request.
func (s *Server) baseURL(r *http.Request) string {
	if base := currentConfig().PublicBaseURL; base != "" {
		return base
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "https" || proto == "http" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}

type sessionResponse struct {
	*session.Session
	HasConsultant bool `json:"hasConsultant"`
	CustomerCount int  `json:"customerCount"`
}

// handleGetSession reports a session's current state.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.store.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		Session:       sess,
		HasConsultant: sess.Consultant != "",
		CustomerCount: len(sess.Customers),
	})
}

// handleUpload stores the document in the "file" part and announces it
// to the session. The announcement goes out only after the file has
// been written.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if !s.store.Exists(sessionID) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.uploads.MaxSize()+multipartOverhead)
	part, err := filePart(r)
	if err != nil {
		s.writeUploadError(w, sessionID, err)
		return
	}
	defer part.Close()

	res, err := s.uploads.Upload(r.Context(), part, part.Header.Get("Content-Type"))
	if err != nil {
		s.writeUploadError(w, sessionID, err)
		return
	}

	if err := s.router.FileLoaded(sessionID, res.URL, res.Type); err != nil {
		s.writeUploadError(w, sessionID, err)
		return
	}

	s.logger.Info("file uploaded", "session", sessionID, "url", res.URL, "type", res.Type, "size", res.Size)
	writeJSON(w, http.StatusOK, res)
}

var errBadUpload = errors.New("bad upload request")

// filePart returns the multipart part named "file" without buffering
// the request body.
func filePart(r *http.Request) (*multipart.Part, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errBadUpload, err)
	}
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: missing file field", errBadUpload)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errBadUpload, err)
		}
		if part.FormName() == "file" {
			return part, nil
		}
		part.Close()
	}
}

func (s *Server) writeUploadError(w http.ResponseWriter, sessionID string, err error) {
	var maxBytesErr *http.MaxBytesError

	var status int
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, upload.ErrUnsupportedFileType):
		status = http.StatusUnsupportedMediaType
	case errors.Is(err, upload.ErrFileTooLarge), errors.As(err, &maxBytesErr):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, errBadUpload):
		status = http.StatusBadRequest
	default:
		status = http.StatusInternalServerError
	}

	level := s.logger.Info
	if status == http.StatusInternalServerError {
		level = s.logger.Error
	}
	level("upload rejected", "session", sessionID, "status", status, "error", err)
	writeError(w, status, err.Error())
}

type healthResponse struct {
	Status      string        `json:"status"`
	Uptime      string        `json:"uptime"`
	Sessions    session.Stats `json:"sessions"`
	Connections int           `json:"connections"`
	Rooms       int           `json:"rooms"`
	Process     *processStats `json:"process,omitempty"`
}

// handleHealth reports session and connection counts along with the
// process's memory and CPU use.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:      "ok",
		Uptime:      time.Since(s.started).Round(time.Second).String(),
		Sessions:    s.store.Stats(),
		Connections: s.hub.ClientCount(),
		Rooms:       s.hub.RoomCount(),
	}
	if ps, err := readProcessStats(); err == nil {
		resp.Process = &ps
	} else {
		s.logger.Debug("process stats unavailable", "error", err)
	}
	writeJSON(w, http.StatusOK, resp)
}
