// Package session holds the authoritative in-memory table of shared
// annotation sessions: the current document, page state, the committed
// drawing log of the current page, and which connections occupy the
// consultant slot and the customer set.
package session

import (
	"encoding/json"
	"errors"
	"slices"
	"time"
)

var (
	// ErrSessionNotFound is returned for any operation on an unknown id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidPage is returned by SetPage for non-positive values or a
	// page beyond the page count.
	ErrInvalidPage = errors.New("invalid page")
)

// FileType classifies the shared document.
type FileType string

const (
	FilePDF   FileType = "pdf"
	FileImage FileType = "image"
)

// Valid reports whether t is one of the known document types.
func (t FileType) Valid() bool {
	return t == FilePDF || t == FileImage
}

// Role is the part a connection plays in a session.
type Role string

const (
	RoleConsultant Role = "consultant"
	RoleCustomer   Role = "customer"
)

// Valid reports whether r is consultant or customer.
func (r Role) Valid() bool {
	return r == RoleConsultant || r == RoleCustomer
}

// DrawingOp is one committed annotation (pen or eraser stroke). The
// store never looks inside it.
type DrawingOp = json.RawMessage

// Session is a point-in-time copy of a session's state. Values returned
// by the Store never alias its internal state.
type Session struct {
	ID          string      `json:"sessionId"`
	FileURL     string      `json:"fileUrl,omitempty"`
	FileType    FileType    `json:"fileType,omitempty"`
	CurrentPage int         `json:"currentPage"`
	TotalPages  int         `json:"totalPages"`
	Drawings    []DrawingOp `json:"drawings"`
	Consultant  string      `json:"-"`
	Customers   []string    `json:"-"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// HasFile reports whether a document has been uploaded.
func (s *Session) HasFile() bool {
	return s.FileURL != ""
}

// record is the mutable per-session state owned by the Store.
type record struct {
	id          string
	fileURL     string
	fileType    FileType
	currentPage int
	totalPages  int
	drawings    []DrawingOp
	consultant  string
	customers   map[string]struct{}
	createdAt   time.Time
}

func newRecord(id string, now time.Time) *record {
	return &record{
		id:          id,
		currentPage: 1,
		totalPages:  1,
		drawings:    []DrawingOp{},
		customers:   make(map[string]struct{}),
		createdAt:   now,
	}
}

func (r *record) snapshot() *Session {
	drawings := make([]DrawingOp, len(r.drawings))
	for i, op := range r.drawings {
		drawings[i] = append(DrawingOp(nil), op...)
	}

	customers := make([]string, 0, len(r.customers))
	for id := range r.customers {
		customers = append(customers, id)
	}
	slices.Sort(customers)

	return &Session{
		ID:          r.id,
		FileURL:     r.fileURL,
		FileType:    r.fileType,
		CurrentPage: r.currentPage,
		TotalPages:  r.totalPages,
		Drawings:    drawings,
		Consultant:  r.consultant,
		Customers:   customers,
		CreatedAt:   r.createdAt,
	}
}
