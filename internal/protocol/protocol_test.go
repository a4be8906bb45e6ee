package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/muffinhead3/screen-share-app/internal/session"
)

func TestDecode_Valid(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		check func(t *testing.T, ev Event)
	}{
		{
			name:  "join customer",
			frame: `{"type":"join-session","payload":{"sessionId":"s1","role":"customer"}}`,
			check: func(t *testing.T, ev Event) {
				j, ok := ev.(JoinSession)
				if !ok || j.Role != session.RoleCustomer {
					t.Errorf("got %#v", ev)
				}
			},
		},
		{
			name:  "page change",
			frame: `{"type":"page-change","payload":{"sessionId":"s1","page":2,"totalPages":5}}`,
			check: func(t *testing.T, ev Event) {
				p, ok := ev.(PageChange)
				if !ok || p.Page != 2 || p.TotalPages != 5 {
					t.Errorf("got %#v", ev)
				}
			},
		},
		{
			name:  "draw end with data",
			frame: `{"type":"draw-end","payload":{"sessionId":"s1","drawingData":{"stroke":1}}}`,
			check: func(t *testing.T, ev Event) {
				s, ok := ev.(Stroke)
				if !ok {
					t.Fatalf("got %#v", ev)
				}
				if string(s.DrawingData) != `{"stroke":1}` {
					t.Errorf("DrawingData = %s", s.DrawingData)
				}
				if s.Relay() != TypeDrawEnded || !s.Commits() {
					t.Errorf("relay = %s commits = %v", s.Relay(), s.Commits())
				}
			},
		},
		{
			name:  "draw end without data",
			frame: `{"type":"draw-end","payload":{"sessionId":"s1"}}`,
			check: func(t *testing.T, ev Event) {
				if s := ev.(Stroke); s.DrawingData != nil {
					t.Errorf("DrawingData = %s, want nil", s.DrawingData)
				}
			},
		},
		{
			name:  "draw end with null data",
			frame: `{"type":"draw-end","payload":{"sessionId":"s1","drawingData":null}}`,
			check: func(t *testing.T, ev Event) {
				if s := ev.(Stroke); s.DrawingData != nil {
					t.Errorf("DrawingData = %s, want nil", s.DrawingData)
				}
			},
		},
		{
			name:  "drawing ignores drawingData",
			frame: `{"type":"drawing","payload":{"sessionId":"s1","drawingData":{"x":1}}}`,
			check: func(t *testing.T, ev Event) {
				s := ev.(Stroke)
				if s.DrawingData != nil || s.Commits() || s.Relay() != TypeDrawingUpdate {
					t.Errorf("got %#v", s)
				}
			},
		},
		{
			name:  "eraser end",
			frame: `{"type":"eraser-end","payload":{"sessionId":"s1","drawingData":{"erase":true}}}`,
			check: func(t *testing.T, ev Event) {
				s := ev.(Stroke)
				if !s.Commits() || s.Relay() != TypeEraserEnded || s.DrawingData == nil {
					t.Errorf("got %#v", s)
				}
			},
		},
		{
			name:  "clear",
			frame: `{"type":"clear-drawings","payload":{"sessionId":"s1"}}`,
			check: func(t *testing.T, ev Event) {
				if _, ok := ev.(ClearDrawings); !ok {
					t.Errorf("got %#v", ev)
				}
			},
		},
		{
			name:  "undo",
			frame: `{"type":"undo-drawing","payload":{"sessionId":"s1"}}`,
			check: func(t *testing.T, ev Event) {
				if _, ok := ev.(UndoDrawing); !ok {
					t.Errorf("got %#v", ev)
				}
			},
		},
		{
			name:  "pointer hidden at origin",
			frame: `{"type":"pointer-move","payload":{"sessionId":"s1","x":0,"y":0,"visible":false}}`,
			check: func(t *testing.T, ev Event) {
				p, ok := ev.(PointerMove)
				if !ok || p.X != 0 || p.Y != 0 || p.Visible {
					t.Errorf("got %#v", ev)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Decode([]byte(tt.frame))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if ev.Session() != "s1" {
				t.Errorf("Session() = %q, want s1", ev.Session())
			}
			tt.check(t, ev)
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	frames := map[string]string{
		"not json":             `{"type":`,
		"no type":              `{"payload":{"sessionId":"s1"}}`,
		"no payload":           `{"type":"clear-drawings"}`,
		"null payload":         `{"type":"undo-drawing","payload":null}`,
		"payload not object":   `{"type":"draw-start","payload":"s1"}`,
		"join no session":      `{"type":"join-session","payload":{"role":"customer"}}`,
		"join bad role":        `{"type":"join-session","payload":{"sessionId":"s1","role":"admin"}}`,
		"page missing total":   `{"type":"page-change","payload":{"sessionId":"s1","page":2}}`,
		"page zero":            `{"type":"page-change","payload":{"sessionId":"s1","page":0,"totalPages":3}}`,
		"page beyond total":    `{"type":"page-change","payload":{"sessionId":"s1","page":4,"totalPages":3}}`,
		"page wrong type":      `{"type":"page-change","payload":{"sessionId":"s1","page":"2","totalPages":3}}`,
		"stroke no session":    `{"type":"drawing","payload":{"points":[1,2]}}`,
		"pointer missing x":    `{"type":"pointer-move","payload":{"sessionId":"s1","y":1,"visible":true}}`,
		"pointer missing vis":  `{"type":"pointer-move","payload":{"sessionId":"s1","x":1,"y":1}}`,
		"clear empty session":  `{"type":"clear-drawings","payload":{"sessionId":""}}`,
		"numeric session id":   `{"type":"undo-drawing","payload":{"sessionId":42}}`,
	}

	for name, frame := range frames {
		t.Run(name, func(t *testing.T) {
			ev, err := Decode([]byte(frame))
			if !errors.Is(err, ErrMalformedEvent) {
				t.Errorf("expected ErrMalformedEvent, got %v (%#v)", err, ev)
			}
		})
	}
}

func TestDecode_UnknownType(t *testing.T) {
	for _, typ := range []string{"chat", "draw-ended", "session-state"} {
		_, err := Decode([]byte(`{"type":"` + typ + `","payload":{"sessionId":"s1"}}`))
		if !errors.Is(err, ErrUnknownEvent) {
			t.Errorf("%s: expected ErrUnknownEvent, got %v", typ, err)
		}
	}
}

func TestRelay_PassesPayloadThrough(t *testing.T) {
	frame := `{"type":"drawing","payload":{"sessionId":"s1","points":[[1,2],[3,4]],"color":"#f00"}}`
	ev, err := Decode([]byte(frame))
	if err != nil {
		t.Fatal(err)
	}

	data, err := Relay(ev.(Stroke)).Encode()
	if err != nil {
		t.Fatal(err)
	}

	var got struct {
		Type    EventType      `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.Type != TypeDrawingUpdate {
		t.Errorf("type = %s, want %s", got.Type, TypeDrawingUpdate)
	}
	if got.Payload["color"] != "#f00" || got.Payload["sessionId"] != "s1" {
		t.Errorf("payload = %v", got.Payload)
	}
	if pts, ok := got.Payload["points"].([]any); !ok || len(pts) != 2 {
		t.Errorf("points = %v", got.Payload["points"])
	}
}

func TestSessionState_EncodesEmptyDrawingsAsArray(t *testing.T) {
	msg := SessionState(&session.Session{ID: "s1", CurrentPage: 1, TotalPages: 1})
	data, err := msg.Encode()
	if err != nil {
		t.Fatal(err)
	}

	var got struct {
		Payload map[string]json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if string(got.Payload["drawings"]) != "[]" {
		t.Errorf("drawings = %s, want []", got.Payload["drawings"])
	}
}

func TestSessionNotFound(t *testing.T) {
	msg := SessionNotFound("abc")
	p, ok := msg.Payload.(ErrorPayload)
	if msg.Type != TypeError || !ok || p.Code != CodeSessionNotFound {
		t.Errorf("got %#v", msg)
	}
}
