package server

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/brojonat/raisefi/service/donation"
	"github.com/brojonat/raisefi/service/fundraiser"
	"github.com/brojonat/raisefi/service/metrics"
)

// ErrSessionNotFound is returned for unknown or expired sessions.
var ErrSessionNotFound = errors.New("session not found")

const sessionCookie = "raisefi_session"

// DonationModal is an open donation modal and its draft.
type DonationModal struct {
	Fund  common.Address
	Draft donation.Draft
}

// Session is the per-browser state: the connected wallet identity and the
// drafts of the wizard and donation modal. Nothing in it is persisted.
type Session struct {
	ID       string
	Identity common.Address
	Wizard   *fundraiser.Wizard
	Donation *DonationModal

	lastSeen time.Time
}

// Connected reports whether a wallet identity is attached.
func (s *Session) Connected() bool {
	return s.Identity != (common.Address{})
}

// SessionStore keeps sessions in memory. Sessions idle for longer than the
// TTL are dropped together with their drafts.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
	metrics  *metrics.Metrics
}

// NewSessionStore creates a store whose sessions expire after ttl of
// inactivity.
func NewSessionStore(ttl time.Duration, m *metrics.Metrics) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
		metrics:  m,
	}
}

// Create starts a new empty session.
func (s *SessionStore) Create() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	s.sessions[id] = &Session{ID: id, lastSeen: s.now()}
	s.metrics.SetActiveSessions(len(s.sessions))
	return id
}

// With runs fn on the session while holding the store lock and refreshes
// its expiry. fn must not block.
func (s *SessionStore) With(id string, fn func(*Session)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if s.expired(sess) {
		delete(s.sessions, id)
		s.metrics.SetActiveSessions(len(s.sessions))
		return ErrSessionNotFound
	}
	sess.lastSeen = s.now()
	fn(sess)
	return nil
}

// Delete drops a session.
func (s *SessionStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	s.metrics.SetActiveSessions(len(s.sessions))
}

// Sweep removes expired sessions and returns how many were removed.
func (s *SessionStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if s.expired(sess) {
			delete(s.sessions, id)
			removed++
		}
	}
	s.metrics.SetActiveSessions(len(s.sessions))
	return removed
}

// Len returns the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *SessionStore) expired(sess *Session) bool {
	return s.ttl > 0 && s.now().Sub(sess.lastSeen) > s.ttl
}

// Load returns the request's session ID, starting a new session and
// setting the cookie when the request has none or its session expired.
// A new ID is also added to r, so later Loads for the same request
// return the same session.
func (s *SessionStore) Load(w http.ResponseWriter, r *http.Request) string {
	for _, c := range r.Cookies() {
		if c.Name != sessionCookie {
			continue
		}
		if err := s.With(c.Value, func(*Session) {}); err == nil {
			return c.Value
		}
	}

	id := s.Create()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	r.AddCookie(&http.Cookie{Name: sessionCookie, Value: id})
	return id
}

// View returns a copy of the session's identity and whether a donation
// modal is open.
func (s *SessionStore) View(id string) (Session, error) {
	var out Session
	err := s.With(id, func(sess *Session) {
		out = Session{ID: sess.ID, Identity: sess.Identity}
		if sess.Donation != nil {
			modal := *sess.Donation
			out.Donation = &modal
		}
	})
	return out, err
}
