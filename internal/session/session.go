package session

import (
	"sync"

	"presenceboard/pkg/types"
)

// State is a connection's position in its lifecycle.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateClosed
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is the explicit per-connection state machine:
//
//	Unauthenticated -> Authenticated -> Closed
//
// Closed is terminal and reachable from any state. The session carries only
// connection-scoped identity; registries hold everything shared.
type Session struct {
	mu     sync.Mutex
	state  State
	userID string
	role   string
}

// New creates a session in StateUnauthenticated.
func New() *Session {
	return &Session{state: StateUnauthenticated}
}

// Authenticate transitions Unauthenticated -> Authenticated and records the
// resolved identity. Results of external calls that finish after the
// session closed are discarded here via ErrSessionClosed.
func (s *Session) Authenticate(userID, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateClosed:
		return ErrSessionClosed
	case StateAuthenticated:
		return ErrAlreadyAuthenticated
	}

	s.state = StateAuthenticated
	s.userID = userID
	s.role = role
	return nil
}

// Close transitions to StateClosed from any state. It reports the identity
// and role exactly once: only the call that performs the transition of an
// authenticated session gets wasAuthenticated=true, so teardown of shared
// registries runs once no matter how many paths call Close.
func (s *Session) Close() (userID, role string, wasAuthenticated bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return "", "", false
	}

	wasAuthenticated = s.state == StateAuthenticated
	s.state = StateClosed
	return s.userID, s.role, wasAuthenticated
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UserID returns the authenticated identity, empty before authentication.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// Role returns the authenticated role, empty before authentication.
func (s *Session) Role() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// IsAuthenticatedTeacher reports whether the session is live and belongs to
// a teacher. Only such sessions may touch the presence registry.
func (s *Session) IsAuthenticatedTeacher() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateAuthenticated && s.role == types.RoleTeacher
}
