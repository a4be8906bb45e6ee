// Package presence tracks which connection belongs to which session
// and in which role. It keeps a reverse index from connection id to
// membership and updates it together with the session store's
// consultant slot and customer set.
package presence

import (
	"errors"
	"fmt"
	"sync"

	"github.com/muffinhead3/screen-share-app/internal/session"
)

// ErrInvalidRole is returned by Join for a role other than consultant
// or customer.
var ErrInvalidRole = errors.New("invalid role")

// Membership binds a connection to a session in a role.
type Membership struct {
	SessionID string
	Role      session.Role
}

// JoinResult describes a successful join.
type JoinResult struct {
	Membership

	// State is the session as the joining connection should first see
	// it. Only customers receive it; a consultant is the source of
	// truth and gets nil.
	State *session.Session

	// Replaced is the connection that held the consultant slot before
	// this join, if any. It stays connected.
	Replaced string

	// Previous is the membership the connection held before joining a
	// different session or role. It has already been left.
	Previous *Membership

	// Rejoined is set when the connection was already a member of the
	// same session in the same role.
	Rejoined bool
}

// Tracker maintains the connection reverse index. The zero value is
// not usable; construct with NewTracker.
type Tracker struct {
	mu    sync.Mutex
	store *session.Store
	conns map[string]Membership
}

// NewTracker returns a tracker bound to store.
func NewTracker(store *session.Store) *Tracker {
	return &Tracker{
		store: store,
		conns: make(map[string]Membership),
	}
}

// Join registers connID in sessionID under role. It fails with
// session.ErrSessionNotFound when the session does not exist.
func (t *Tracker) Join(sessionID, connID string, role session.Role) (JoinResult, error) {
	if !role.Valid() {
		return JoinResult{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.store.Exists(sessionID) {
		return JoinResult{}, fmt.Errorf("%w: %s", session.ErrSessionNotFound, sessionID)
	}

	result := JoinResult{Membership: Membership{SessionID: sessionID, Role: role}}

	if current, ok := t.conns[connID]; ok {
		if current == result.Membership {
			// A consultant that lost the slot to a later join takes it
			// back; SetConsultant below is a no-op if it still holds it.
			result.Rejoined = true
		} else {
			t.release(connID, current)
			prev := current
			result.Previous = &prev
		}
	}

	switch role {
	case session.RoleConsultant:
		replaced, err := t.store.SetConsultant(sessionID, connID)
		if err != nil {
			return JoinResult{}, err
		}
		result.Replaced = replaced
	case session.RoleCustomer:
		if err := t.store.AddCustomer(sessionID, connID); err != nil {
			return JoinResult{}, err
		}
	}

	t.conns[connID] = result.Membership
	result.State = t.stateFor(sessionID, role)
	return result, nil
}

func (t *Tracker) stateFor(sessionID string, role session.Role) *session.Session {
	if role != session.RoleCustomer {
		return nil
	}
	state, _ := t.store.Get(sessionID)
	return state
}

// Leave removes connID from whatever session it joined. It returns the
// membership removed, or false when the connection never joined.
// Calling it again for the same connection is a no-op.
func (t *Tracker) Leave(connID string) (Membership, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	m, ok := t.conns[connID]
	if !ok {
		return Membership{}, false
	}
	t.release(connID, m)
	return m, true
}

// release must be called with t.mu held.
func (t *Tracker) release(connID string, m Membership) {
	delete(t.conns, connID)
	switch m.Role {
	case session.RoleConsultant:
		t.store.ReleaseConsultant(m.SessionID, connID)
	case session.RoleCustomer:
		t.store.RemoveCustomer(m.SessionID, connID)
	}
}

// Lookup returns the membership of connID.
func (t *Tracker) Lookup(connID string) (Membership, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.conns[connID]
	return m, ok
}

// CustomerCount returns the number of customers in sessionID, or 0 for
// an unknown session.
func (t *Tracker) CustomerCount(sessionID string) int {
	return t.store.CustomerCount(sessionID)
}

// Len returns the number of joined connections across all sessions.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}
