// Package server is the network boundary of the screen-share service.
//
// It owns the WebSocket transport (the Hub with its per-session rooms and
// the per-connection Client pumps), the HTTP API for creating sessions,
// inspecting them and uploading documents, and the supporting pieces around
// them: layered configuration with file watching, origin checks, rate
// limiting and periodic stats. Session semantics live in the session,
// presence and router packages; this package only moves bytes to and
// from them.
package server
