package protocol

import (
	"encoding/json"

	"github.com/muffinhead3/screen-share-app/internal/session"
)

// ErrorCode identifies an error reported to a single connection.
type ErrorCode string

// CodeSessionNotFound answers a join for an id the store does not know.
const CodeSessionNotFound ErrorCode = "SESSION_NOT_FOUND"

// Message is an outbound frame before encoding. Payload is marshalled
// as-is; a json.RawMessage payload is relayed byte for byte.
type Message struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload,omitempty"`
}

// Encode marshals m into a wire frame.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// SessionStatePayload is what a joining customer needs to render the
// session as everyone else sees it.
type SessionStatePayload struct {
	SessionID   string              `json:"sessionId"`
	FileURL     string              `json:"fileUrl,omitempty"`
	FileType    session.FileType    `json:"fileType,omitempty"`
	CurrentPage int                 `json:"currentPage"`
	TotalPages  int                 `json:"totalPages"`
	Drawings    []session.DrawingOp `json:"drawings"`
}

// RolePayload names the role of a participant who joined or left.
type RolePayload struct {
	Role session.Role `json:"role"`
}

// CustomerCountPayload carries the number of customers in a session.
type CustomerCountPayload struct {
	Count int `json:"count"`
}

// PagePayload is the page the consultant moved to.
type PagePayload struct {
	Page       int `json:"page"`
	TotalPages int `json:"totalPages"`
}

// SessionPayload identifies the session a clear or undo applies to.
type SessionPayload struct {
	SessionID string `json:"sessionId"`
}

// PointerPayload is a pointer position in normalized page coordinates.
type PointerPayload struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Visible bool    `json:"visible"`
}

// FilePayload announces the document now shown in the session.
type FilePayload struct {
	FileURL  string           `json:"fileUrl"`
	FileType session.FileType `json:"fileType"`
}

// ErrorPayload reports a failed request to the connection that made it.
type ErrorPayload struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// SessionState builds the state message for a joining customer.
func SessionState(s *session.Session) Message {
	drawings := s.Drawings
	if drawings == nil {
		drawings = []session.DrawingOp{}
	}
	return Message{Type: TypeSessionState, Payload: SessionStatePayload{
		SessionID:   s.ID,
		FileURL:     s.FileURL,
		FileType:    s.FileType,
		CurrentPage: s.CurrentPage,
		TotalPages:  s.TotalPages,
		Drawings:    drawings,
	}}
}

// UserJoined tells the room a participant with role has joined.
func UserJoined(role session.Role) Message {
	return Message{Type: TypeUserJoined, Payload: RolePayload{Role: role}}
}

// UserLeft tells the room a participant with role has left.
func UserLeft(role session.Role) Message {
	return Message{Type: TypeUserLeft, Payload: RolePayload{Role: role}}
}

// CustomerCount reports n customers in the session.
func CustomerCount(n int) Message {
	return Message{Type: TypeCustomerCount, Payload: CustomerCountPayload{Count: n}}
}

// PageChanged moves everyone else to page of totalPages.
func PageChanged(page, totalPages int) Message {
	return Message{Type: TypePageChanged, Payload: PagePayload{Page: page, TotalPages: totalPages}}
}

// Relay re-emits a stroke's original payload under its outbound type.
func Relay(s Stroke) Message {
	return Message{Type: s.Relay(), Payload: s.Raw}
}

// DrawingsCleared tells the room the page's annotations were wiped.
func DrawingsCleared(sessionID string) Message {
	return Message{Type: TypeDrawingsCleared, Payload: SessionPayload{SessionID: sessionID}}
}

// DrawingUndone tells the room the last committed stroke was removed.
func DrawingUndone(sessionID string) Message {
	return Message{Type: TypeDrawingUndone, Payload: SessionPayload{SessionID: sessionID}}
}

// PointerMoved relays the consultant's pointer.
func PointerMoved(p PointerMove) Message {
	return Message{Type: TypePointerMoved, Payload: PointerPayload{X: p.X, Y: p.Y, Visible: p.Visible}}
}

// FileLoaded announces a newly uploaded document.
func FileLoaded(url string, fileType session.FileType) Message {
	return Message{Type: TypeFileLoaded, Payload: FilePayload{FileURL: url, FileType: fileType}}
}

// SessionNotFound is the error sent to a connection that tried to join
// an unknown session.
func SessionNotFound(sessionID string) Message {
	return Message{Type: TypeError, Payload: ErrorPayload{
		Code:    CodeSessionNotFound,
		Message: "session " + sessionID + " not found",
	}}
}
