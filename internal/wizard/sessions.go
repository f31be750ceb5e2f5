package wizard

import (
	"sync"
	"time"

	"wasched/internal/metrics"
)

const DefaultSessionTTL = 15 * time.Minute

// Key identifies a dialog: one user in one chat. It matches the router's
// lane key, so turns of one dialog never run concurrently.
type Key struct {
	ChatID int64
	UserID int64
}

// Sessions holds at most one live dialog per user and chat. Idle sessions
// expire.
type Sessions struct {
	mu  sync.Mutex
	ttl time.Duration
	now func() time.Time
	m   map[Key]Session
}

func NewSessions(ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Sessions{ttl: ttl, now: time.Now, m: map[Key]Session{}}
}

// SetTTL applies to sessions already stored too.
func (s *Sessions) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	s.mu.Lock()
	s.ttl = ttl
	s.mu.Unlock()
}

func (s *Sessions) expired(sess Session, now time.Time) bool {
	return now.Sub(sess.UpdatedAt) > s.ttl
}

func (s *Sessions) Get(k Key) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[k]
	if !ok {
		return Session{}, false
	}
	if s.expired(sess, s.now()) {
		delete(s.m, k)
		s.report()
		return Session{}, false
	}
	return sess.clone(), true
}

// Put stores sess, or drops the dialog when sess is terminal.
func (s *Sessions) Put(k Key, sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.Step.Terminal() {
		delete(s.m, k)
	} else {
		if sess.UpdatedAt.IsZero() {
			sess.UpdatedAt = s.now()
		}
		s.m[k] = sess.clone()
	}
	s.report()
}

func (s *Sessions) Delete(k Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.m[k]
	delete(s.m, k)
	s.report()
	return ok
}

// Sweep drops expired sessions and returns how many went.
func (s *Sessions) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for k, sess := range s.m {
		if s.expired(sess, now) {
			delete(s.m, k)
			n++
		}
	}
	s.report()
	return n
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

func (s *Sessions) report() { metrics.WizardSessions.Set(float64(len(s.m))) }
