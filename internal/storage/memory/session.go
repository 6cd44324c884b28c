// Package memory keeps checkout sessions in process memory. It backs
// single-instance deployments and local development.
package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/cravekart/internal/domain/checkout"
)

var _ checkout.Store = (*SessionStore)(nil)

type entry struct {
	raw     []byte
	version int
	expires time.Time
}

// SessionStore implements checkout.Store. Sessions are stored encoded so
// callers never share mutable state with the store.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]entry
	ttl      time.Duration
	now      func() time.Time
}

// NewSessionStore creates an empty store. A zero ttl keeps sessions forever.
func NewSessionStore(ttl time.Duration) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]entry),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (s *SessionStore) Get(_ context.Context, id string) (*checkout.Session, error) {
	s.mu.Lock()
	e, ok := s.lookup(id)
	s.mu.Unlock()
	if !ok {
		return nil, checkout.ErrSessionNotFound
	}

	var sess checkout.Session
	if err := json.Unmarshal(e.raw, &sess); err != nil {
		return nil, errors.Wrap(err, "decode session")
	}
	return &sess, nil
}

func (s *SessionStore) Save(_ context.Context, sess *checkout.Session) error {
	next := *sess
	next.Version++
	raw, err := json.Marshal(&next)
	if err != nil {
		return errors.Wrap(err, "encode session")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := 0
	if e, ok := s.lookup(sess.ID); ok {
		current = e.version
	}
	if current != sess.Version {
		return checkout.ErrSessionConflict
	}

	e := entry{raw: raw, version: next.Version}
	if s.ttl > 0 {
		e.expires = s.now().Add(s.ttl)
	}
	s.sessions[sess.ID] = e
	sess.Version = next.Version
	return nil
}

// RunEviction drops expired sessions every interval until ctx is done.
// Sessions that are never looked up again are only reclaimed here.
func (s *SessionStore) RunEviction(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.evict()
		}
	}
}

// evict removes expired sessions and reports how many were dropped.
func (s *SessionStore) evict() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for id, e := range s.sessions {
		if !e.expires.IsZero() && !now.Before(e.expires) {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

// Len returns the number of stored sessions, expired or not.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// lookup must be called with mu held. Expired entries found here are
// dropped at once.
func (s *SessionStore) lookup(id string) (entry, bool) {
	e, ok := s.sessions[id]
	if !ok {
		return entry{}, false
	}
	if !e.expires.IsZero() && !s.now().Before(e.expires) {
		delete(s.sessions, id)
		return entry{}, false
	}
	return e, true
}
