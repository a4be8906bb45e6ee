package server

import (
	"net/http"
	"strings"
)

// isOriginAllowed accepts configured origins and pages served by this
// host. Requests without an Origin header are rejected.
func isOriginAllowed(r *http.Request) bool {
	header := r.Header.Get("Origin")
	if header == "" {
		return false
	}
	origin, err := originOf(header)
	if err != nil {
		return false
	}

	if _, host, _ := strings.Cut(origin, "://"); strings.EqualFold(host, r.Host) {
		return true
	}

	configMu.RLock()
	defer configMu.RUnlock()

	if allowAllOrigins {
		return true
	}
	_, ok := allowedOrigins[origin]
	return ok
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if isOriginAllowed(r) {
		return true
	}

	s.logger.Warn("blocked websocket connection from disallowed origin",
		"origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
	return false
}
