// Package protocol defines the messages exchanged over a session's
// WebSocket connections. Inbound frames decode into a closed set of
// event types; anything missing a required field is rejected before it
// reaches the router.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/muffinhead3/screen-share-app/internal/session"
)

var (
	// ErrMalformedEvent is returned for frames that are not valid JSON
	// or lack a required field.
	ErrMalformedEvent = errors.New("malformed event")

	// ErrUnknownEvent is returned for a well-formed frame whose type is
	// not an inbound event.
	ErrUnknownEvent = errors.New("unknown event type")
)

// EventType names a message on the wire.
type EventType string

// Inbound events, sent by participants.
const (
	TypeJoinSession   EventType = "join-session"
	TypePageChange    EventType = "page-change"
	TypeDrawStart     EventType = "draw-start"
	TypeDrawing       EventType = "drawing"
	TypeDrawEnd       EventType = "draw-end"
	TypeEraserStart   EventType = "eraser-start"
	TypeErasing       EventType = "erasing"
	TypeEraserEnd     EventType = "eraser-end"
	TypeClearDrawings EventType = "clear-drawings"
	TypeUndoDrawing   EventType = "undo-drawing"
	TypePointerMove   EventType = "pointer-move"
)

// Outbound events, sent by the server.
const (
	TypeSessionState    EventType = "session-state"
	TypeUserJoined      EventType = "user-joined"
	TypeUserLeft        EventType = "user-left"
	TypeCustomerCount   EventType = "customer-count"
	TypePageChanged     EventType = "page-changed"
	TypeDrawStarted     EventType = "draw-started"
	TypeDrawingUpdate   EventType = "drawing-update"
	TypeDrawEnded       EventType = "draw-ended"
	TypeEraserStarted   EventType = "eraser-started"
	TypeErasingUpdate   EventType = "erasing-update"
	TypeEraserEnded     EventType = "eraser-ended"
	TypeDrawingsCleared EventType = "drawings-cleared"
	TypeDrawingUndone   EventType = "drawing-undone"
	TypePointerMoved    EventType = "pointer-moved"
	TypeFileLoaded      EventType = "file-loaded"
	TypeError           EventType = "error"
)

// strokeRelay maps each live drawing event to the event it is relayed as.
var strokeRelay = map[EventType]EventType{
	TypeDrawStart:   TypeDrawStarted,
	TypeDrawing:     TypeDrawingUpdate,
	TypeDrawEnd:     TypeDrawEnded,
	TypeEraserStart: TypeEraserStarted,
	TypeErasing:     TypeErasingUpdate,
	TypeEraserEnd:   TypeEraserEnded,
}

// Envelope is the frame format in both directions.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event is an inbound message that passed validation. The set of
// implementations is closed to this package.
type Event interface {
	Type() EventType
	Session() string
	isEvent()
}

type base struct {
	SessionID string `json:"sessionId"`
}

func (b base) Session() string { return b.SessionID }
func (base) isEvent()          {}

// JoinSession asks to bind the connection to a session in a role.
type JoinSession struct {
	base
	Role session.Role `json:"role"`
}

func (JoinSession) Type() EventType { return TypeJoinSession }

// PageChange moves the session to another page.
type PageChange struct {
	base
	Page       int `json:"page"`
	TotalPages int `json:"totalPages"`
}

func (PageChange) Type() EventType { return TypePageChange }

// Stroke is one of the six draw/eraser events. Raw is the sender's
// payload, relayed unchanged. DrawingData is set only when an end event
// carries a drawing to commit.
type Stroke struct {
	base
	Kind        EventType
	Raw         json.RawMessage
	DrawingData session.DrawingOp
}

func (s Stroke) Type() EventType { return s.Kind }

// Relay returns the outbound event type for this stroke.
func (s Stroke) Relay() EventType { return strokeRelay[s.Kind] }

// Commits reports whether this event ends a stroke.
func (s Stroke) Commits() bool {
	return s.Kind == TypeDrawEnd || s.Kind == TypeEraserEnd
}

// ClearDrawings erases every committed drawing on the current page.
type ClearDrawings struct{ base }

func (ClearDrawings) Type() EventType { return TypeClearDrawings }

// UndoDrawing removes the most recent committed drawing.
type UndoDrawing struct{ base }

func (UndoDrawing) Type() EventType { return TypeUndoDrawing }

// PointerMove reports the presenter's pointer position.
type PointerMove struct {
	base
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Visible bool    `json:"visible"`
}

func (PointerMove) Type() EventType { return TypePointerMove }

// Decode parses and validates one inbound frame.
func Decode(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}

	switch env.Type {
	case TypeJoinSession:
		return decodeJoin(env.Payload)
	case TypePageChange:
		return decodePageChange(env.Payload)
	case TypeDrawStart, TypeDrawing, TypeDrawEnd, TypeEraserStart, TypeErasing, TypeEraserEnd:
		return decodeStroke(env.Type, env.Payload)
	case TypeClearDrawings:
		b, err := decodeBase(env.Type, env.Payload)
		return ClearDrawings{b}, err
	case TypeUndoDrawing:
		b, err := decodeBase(env.Type, env.Payload)
		return UndoDrawing{b}, err
	case TypePointerMove:
		return decodePointer(env.Payload)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
}

func malformed(t EventType, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrMalformedEvent, t, fmt.Sprintf(format, args...))
}

func unmarshalPayload(t EventType, payload json.RawMessage, v any) error {
	if len(payload) == 0 || string(payload) == "null" {
		return malformed(t, "missing payload")
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return malformed(t, "%v", err)
	}
	return nil
}

func decodeBase(t EventType, payload json.RawMessage) (base, error) {
	var b base
	if err := unmarshalPayload(t, payload, &b); err != nil {
		return base{}, err
	}
	if b.SessionID == "" {
		return base{}, malformed(t, "missing sessionId")
	}
	return b, nil
}

func decodeJoin(payload json.RawMessage) (Event, error) {
	var ev JoinSession
	if err := unmarshalPayload(TypeJoinSession, payload, &ev); err != nil {
		return nil, err
	}
	if ev.SessionID == "" {
		return nil, malformed(TypeJoinSession, "missing sessionId")
	}
	if !ev.Role.Valid() {
		return nil, malformed(TypeJoinSession, "invalid role %q", ev.Role)
	}
	return ev, nil
}

func decodePageChange(payload json.RawMessage) (Event, error) {
	var raw struct {
		base
		Page       *int `json:"page"`
		TotalPages *int `json:"totalPages"`
	}
	if err := unmarshalPayload(TypePageChange, payload, &raw); err != nil {
		return nil, err
	}
	if raw.SessionID == "" {
		return nil, malformed(TypePageChange, "missing sessionId")
	}
	if raw.Page == nil || raw.TotalPages == nil {
		return nil, malformed(TypePageChange, "missing page or totalPages")
	}
	if *raw.Page < 1 || *raw.TotalPages < 1 || *raw.Page > *raw.TotalPages {
		return nil, malformed(TypePageChange, "page %d of %d", *raw.Page, *raw.TotalPages)
	}
	return PageChange{base: raw.base, Page: *raw.Page, TotalPages: *raw.TotalPages}, nil
}

func decodeStroke(t EventType, payload json.RawMessage) (Event, error) {
	var raw struct {
		base
		DrawingData json.RawMessage `json:"drawingData"`
	}
	if err := unmarshalPayload(t, payload, &raw); err != nil {
		return nil, err
	}
	if raw.SessionID == "" {
		return nil, malformed(t, "missing sessionId")
	}

	ev := Stroke{base: raw.base, Kind: t, Raw: payload}
	if ev.Commits() && len(raw.DrawingData) > 0 && string(raw.DrawingData) != "null" {
		ev.DrawingData = raw.DrawingData
	}
	return ev, nil
}

func decodePointer(payload json.RawMessage) (Event, error) {
	var raw struct {
		base
		X       *float64 `json:"x"`
		Y       *float64 `json:"y"`
		Visible *bool    `json:"visible"`
	}
	if err := unmarshalPayload(TypePointerMove, payload, &raw); err != nil {
		return nil, err
	}
	if raw.SessionID == "" {
		return nil, malformed(TypePointerMove, "missing sessionId")
	}
	if raw.X == nil || raw.Y == nil || raw.Visible == nil {
		return nil, malformed(TypePointerMove, "missing x, y or visible")
	}
	return PointerMove{base: raw.base, X: *raw.X, Y: *raw.Y, Visible: *raw.Visible}, nil
}
