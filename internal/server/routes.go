package server

import (
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzhttp"
)

// Routes returns the HTTP handler for the whole service. JSON endpoints
// are gzip-compressed when the client accepts it; every response
// carries the security headers.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("/ws", s.handleWebSocket)

	mux.Handle("GET /health", gzhttp.GzipHandler(http.HandlerFunc(s.handleHealth)))
	mux.Handle("POST /api/sessions", gzhttp.GzipHandler(http.HandlerFunc(s.handleCreateSession)))
	mux.Handle("GET /api/sessions/{id}", gzhttp.GzipHandler(http.HandlerFunc(s.handleGetSession)))
	mux.HandleFunc("POST /api/sessions/{id}/upload", s.handleUpload)

	files := http.StripPrefix("/uploads/", http.FileServer(http.Dir(s.uploads.Dir())))
	mux.Handle("GET /uploads/", noDirectoryListing(files))

	return securityHeaders(mux)
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// noDirectoryListing hides the upload directory index and in-flight
// temp files.
func noDirectoryListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") || strings.HasSuffix(r.URL.Path, ".tmp") {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}
