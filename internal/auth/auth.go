// Package auth attaches the workflow server session to outgoing requests.
//
// The server authenticates browser sessions with a "session" cookie; service
// accounts may use a bearer token instead. Every request also carries a
// stable client ID so server logs can correlate a client's streams and polls.
package auth

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
)

// Header names set on every request.
const (
	HeaderClientID = "X-Client-ID"
	CookieSession  = "session"
)

// ErrNoClientID is returned when a session has no client ID.
var ErrNoClientID = errors.New("client id is required")

// Session holds the credentials applied to API, SSE and WebSocket requests.
type Session struct {
	Token    string // Bearer token (optional)
	Cookie   string // Session cookie value (optional)
	ClientID string // Stable per-process identifier
}

// NewSession creates a session. An empty clientID is replaced with a random UUID.
func NewSession(token, cookie, clientID string) *Session {
	if clientID == "" {
		clientID = uuid.NewString()
	}
	return &Session{
		Token:    token,
		Cookie:   cookie,
		ClientID: clientID,
	}
}

// Validate checks that the session can be applied.
func (s *Session) Validate() error {
	if s.ClientID == "" {
		return ErrNoClientID
	}
	return nil
}

// Header returns the headers for this session.
func (s *Session) Header() http.Header {
	h := http.Header{}
	s.Apply(h)
	return h
}

// Apply writes the session headers into h. A nil session is a no-op.
func (s *Session) Apply(h http.Header) {
	if s == nil {
		return
	}
	if s.Token != "" {
		h.Set("Authorization", "Bearer "+s.Token)
	}
	if s.Cookie != "" {
		h.Set("Cookie", (&http.Cookie{Name: CookieSession, Value: s.Cookie}).String())
	}
	if s.ClientID != "" {
		h.Set(HeaderClientID, s.ClientID)
	}
}
