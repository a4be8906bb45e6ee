package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const idLength = 8

// Store is the in-memory session table. It is safe for concurrent use;
// every method runs under the store lock, so no caller ever observes a
// half-applied mutation.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*record
	newID    func() string
	now      func() time.Time
}

// Stats summarizes the store for health and periodic reporting.
type Stats struct {
	Sessions    int `json:"sessions"`
	Consultants int `json:"consultants"`
	Customers   int `json:"customers"`
	Drawings    int `json:"drawings"`
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*record),
		newID:    shortID,
		now:      time.Now,
	}
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:idLength]
}

// Create allocates a fresh session with default attributes and returns
// its id. Ids never collide with a live session.
func (s *Store) Create() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.newID()
	for {
		if _, exists := s.sessions[id]; !exists {
			break
		}
		id = s.newID()
	}

	s.sessions[id] = newRecord(id, s.now())
	return id
}

// Get returns a copy of the session, or false if the id is unknown.
func (s *Store) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return r.snapshot(), true
}

// Exists reports whether id names a live session.
func (s *Store) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[id]
	return ok
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Stats counts sessions, occupied roles and committed drawings.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{Sessions: len(s.sessions)}
	for _, r := range s.sessions {
		if r.consultant != "" {
			st.Consultants++
		}
		st.Customers += len(r.customers)
		st.Drawings += len(r.drawings)
	}
	return st
}

// update runs fn on the record for id under the write lock.
func (s *Store) update(id string, fn func(r *record) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return fn(r)
}

// SetFile records a newly uploaded document. The view returns to the
// first page and the drawing log is cleared.
func (s *Store) SetFile(id, url string, fileType FileType) error {
	return s.update(id, func(r *record) error {
		r.fileURL = url
		r.fileType = fileType
		r.currentPage = 1
		r.totalPages = 1
		r.drawings = []DrawingOp{}
		return nil
	})
}

// SetPage moves the session to page of totalPages and clears the
// drawing log, since annotations belong to a single page.
func (s *Store) SetPage(id string, page, totalPages int) error {
	if page < 1 || totalPages < 1 || page > totalPages {
		return fmt.Errorf("%w: page %d of %d", ErrInvalidPage, page, totalPages)
	}
	return s.update(id, func(r *record) error {
		r.currentPage = page
		r.totalPages = totalPages
		r.drawings = []DrawingOp{}
		return nil
	})
}

// AppendDrawing commits op to the end of the drawing log.
func (s *Store) AppendDrawing(id string, op DrawingOp) error {
	return s.update(id, func(r *record) error {
		r.drawings = append(r.drawings, append(DrawingOp(nil), op...))
		return nil
	})
}

// ClearDrawings empties the drawing log.
func (s *Store) ClearDrawings(id string) error {
	return s.update(id, func(r *record) error {
		r.drawings = []DrawingOp{}
		return nil
	})
}

// UndoLastDrawing drops the most recent drawing. Undo on an empty log
// is a no-op.
func (s *Store) UndoLastDrawing(id string) error {
	return s.update(id, func(r *record) error {
		if n := len(r.drawings); n > 0 {
			r.drawings[n-1] = nil
			r.drawings = r.drawings[:n-1]
		}
		return nil
	})
}

// SetConsultant puts conn in the consultant slot and returns the
// connection it replaced, if any.
func (s *Store) SetConsultant(id, conn string) (string, error) {
	var previous string
	err := s.update(id, func(r *record) error {
		previous = r.consultant
		r.consultant = conn
		return nil
	})
	if previous == conn {
		previous = ""
	}
	return previous, err
}

// ReleaseConsultant empties the consultant slot only if conn still
// holds it. It reports whether the slot was cleared.
func (s *Store) ReleaseConsultant(id, conn string) bool {
	released := false
	_ = s.update(id, func(r *record) error {
		if r.consultant == conn {
			r.consultant = ""
			released = true
		}
		return nil
	})
	return released
}

// AddCustomer adds conn to the customer set.
func (s *Store) AddCustomer(id, conn string) error {
	return s.update(id, func(r *record) error {
		r.customers[conn] = struct{}{}
		return nil
	})
}

// RemoveCustomer removes conn from the customer set and reports whether
// it was present.
func (s *Store) RemoveCustomer(id, conn string) bool {
	removed := false
	_ = s.update(id, func(r *record) error {
		if _, ok := r.customers[conn]; ok {
			delete(r.customers, conn)
			removed = true
		}
		return nil
	})
	return removed
}

// CustomerCount returns the size of the customer set, or 0 for an
// unknown session.
func (s *Store) CustomerCount(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.sessions[id]
	if !ok {
		return 0
	}
	return len(r.customers)
}
