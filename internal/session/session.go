// Package session owns the bearer token and its three-state lifecycle.
package session

import (
	"sync"
	"time"
)

// Status is the lifecycle state of a Session.
type Status int

const (
	Unauthenticated Status = iota
	Active
	Revoked
)

func (s Status) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Active:
		return "active"
	case Revoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// Session holds the process-wide bearer token. Token and status change
// together under one lock, so a reader sees either the state before a
// transition or the state after it.
type Session struct {
	mu        sync.RWMutex
	token     string
	status    Status
	expiresDT string
	issuedAt  time.Time
}

// Info is a token-free view of a Session, safe to log or return to callers.
type Info struct {
	Status    string    `json:"status"`
	ExpiresDT string    `json:"expiresDt,omitempty"`
	IssuedAt  time.Time `json:"issuedAt,omitempty"`
}

// New returns an unauthenticated session.
func New() *Session { return &Session{} }

// Snapshot returns the token and status as one consistent pair.
func (s *Session) Snapshot() (token string, status Status) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.status
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Info returns a token-free description of the session.
func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Info{Status: s.status.String(), ExpiresDT: s.expiresDT, IssuedAt: s.issuedAt}
}

func (s *Session) activate(token, expiresDT string, at time.Time) {
	s.mu.Lock()
	s.token = token
	s.status = Active
	s.expiresDT = expiresDT
	s.issuedAt = at
	s.mu.Unlock()
}

// revokeIf moves the session to Revoked only if it still carries token.
// A login that raced ahead keeps its fresh token.
func (s *Session) revokeIf(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != Active || s.token != token {
		return false
	}
	s.token = ""
	s.status = Revoked
	return true
}
