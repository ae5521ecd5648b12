package auth

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
)

func TestNewSession_GeneratesClientID(t *testing.T) {
	s := NewSession("", "", "")

	if _, err := uuid.Parse(s.ClientID); err != nil {
		t.Errorf("ClientID = %q, want a UUID: %v", s.ClientID, err)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}

	other := NewSession("", "", "")
	if other.ClientID == s.ClientID {
		t.Error("two sessions should not share a generated client ID")
	}
}

func TestNewSession_KeepsClientID(t *testing.T) {
	s := NewSession("tok", "cookie", "desk-01")
	if s.ClientID != "desk-01" {
		t.Errorf("ClientID = %q, want %q", s.ClientID, "desk-01")
	}
}

func TestSession_Validate(t *testing.T) {
	s := &Session{}
	if err := s.Validate(); err != ErrNoClientID {
		t.Errorf("Validate() = %v, want %v", err, ErrNoClientID)
	}
}

func TestSession_Apply(t *testing.T) {
	tests := []struct {
		name       string
		session    *Session
		wantAuth   string
		wantCookie string
		wantClient string
	}{
		{
			name:       "token and cookie",
			session:    &Session{Token: "abc", Cookie: "xyz", ClientID: "c1"},
			wantAuth:   "Bearer abc",
			wantCookie: "session=xyz",
			wantClient: "c1",
		},
		{
			name:       "cookie only",
			session:    &Session{Cookie: "xyz", ClientID: "c2"},
			wantCookie: "session=xyz",
			wantClient: "c2",
		},
		{
			name:    "nil session",
			session: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			tt.session.Apply(h)

			if got := h.Get("Authorization"); got != tt.wantAuth {
				t.Errorf("Authorization = %q, want %q", got, tt.wantAuth)
			}
			if got := h.Get("Cookie"); got != tt.wantCookie {
				t.Errorf("Cookie = %q, want %q", got, tt.wantCookie)
			}
			if got := h.Get(HeaderClientID); got != tt.wantClient {
				t.Errorf("%s = %q, want %q", HeaderClientID, got, tt.wantClient)
			}
		})
	}
}

func TestSession_Header(t *testing.T) {
	s := &Session{Token: "abc", ClientID: "c1"}
	h := s.Header()
	if h.Get("Authorization") != "Bearer abc" {
		t.Errorf("Authorization = %q, want %q", h.Get("Authorization"), "Bearer abc")
	}
	if h.Get("Cookie") != "" {
		t.Errorf("Cookie = %q, want empty", h.Get("Cookie"))
	}
}
