package chat

import (
	"errors"
	"time"

	"go-chat-gateway/internal/auth"
)

var (
	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrCredentialExpired = errors.New("credential expired")
	ErrNotMember         = errors.New("not a member of this chat")
	ErrNotJoined         = errors.New("chat not joined on this connection")
)

// Session is the per-connection state. It is read and written only by the
// connection's own read goroutine, so it needs no locking.
type Session struct {
	identity *auth.Identity
	token    string
	// rooms this connection was admitted to
	rooms map[string]bool
}

func newSession(identity *auth.Identity, token string) *Session {
	return &Session{identity: identity, token: token, rooms: make(map[string]bool)}
}

func (s *Session) Identity() *auth.Identity {
	return s.identity
}

func (s *Session) Joined(room string) bool {
	return s.rooms[room]
}

// requireIdentity is the gate for every handler.
func (s *Session) requireIdentity() (*auth.Identity, error) {
	if s.identity == nil {
		return nil, ErrNotAuthenticated
	}
	return s.identity, nil
}

// credential is the gate for handlers that call out with the bearer token.
// A token already past exp is rejected locally instead of round tripping.
func (s *Session) credential(now time.Time) (*auth.Identity, string, error) {
	identity, err := s.requireIdentity()
	if err != nil {
		return nil, "", err
	}
	if identity.Expired(now) {
		return nil, "", ErrCredentialExpired
	}
	return identity, s.token, nil
}
