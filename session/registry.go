package session

import (
	"sync"

	"github.com/werkstattwaedi/machine-auth-sub000/errs"
)

// Sessions is the authoritative, process-wide registry of active
// TokenSessions, keyed by the 7-byte real UID they were issued for
// (original_source's Sessions::GetSessionForToken/RegisterSession).
type Sessions struct {
	mu   sync.Mutex
	byID map[[7]byte]*TokenSession
}

// NewSessions constructs an empty registry.
func NewSessions() *Sessions {
	return &Sessions{byID: make(map[[7]byte]*TokenSession)}
}

// GetSessionForToken returns the registered session for tokenID, if any.
func (s *Sessions) GetSessionForToken(tokenID [7]byte) (*TokenSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.byID[tokenID]
	return session, ok
}

// RegisterSession adds a newly-authorized session to the registry. Unlike
// the original firmware, which silently kept the previous entry on an id
// collision, registering over an existing TokenID fails explicitly with an
// errs.WrongState error — see DESIGN.md's Open Questions ledger.
func (s *Sessions) RegisterSession(session *TokenSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[session.TokenID]; exists {
		return errs.Newf(errs.WrongState, "session: token %x already registered", session.TokenID)
	}
	s.byID[session.TokenID] = session
	return nil
}

// RemoveSession drops a session from the registry, e.g. on expiry or
// explicit checkout. It is not an error to remove a session that isn't
// present.
func (s *Sessions) RemoveSession(tokenID [7]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, tokenID)
}
