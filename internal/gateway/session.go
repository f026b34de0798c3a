// Package gateway implements the session lifecycle core: a concurrent
// registry of pairing sessions, each driven through an asynchronous
// authentication handshake and supervised over reconnects by its own
// goroutine.
package gateway

import (
	"context"
	"sync"
	"time"
)

// Status is a session's lifecycle state.
type Status string

const (
	// StatusPending means the session exists but no challenge has arrived yet.
	StatusPending Status = "pending"

	// StatusAwaitingAuth means challenge material is available and the end
	// user has not approved the link yet.
	StatusAwaitingAuth Status = "awaiting_auth"

	// StatusConnected means the session is authenticated and live.
	StatusConnected Status = "connected"

	// StatusReconnecting means the connection closed transiently and a
	// reconnect attempt is in progress.
	StatusReconnecting Status = "reconnecting"

	// StatusLoggedOut is terminal: the linked device was removed.
	StatusLoggedOut Status = "logged_out"

	// StatusFailed is terminal: the session gave up (auth window expired,
	// reconnects exhausted, or the credential store broke).
	StatusFailed Status = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusLoggedOut || s == StatusFailed
}

// AuthArtifact is the challenge material shown to the end user while a
// session is awaiting authentication. Exactly one of the QR pair or PairCode
// is populated, depending on the flow selected at open time.
type AuthArtifact struct {
	// QR is the raw challenge payload to encode.
	QR string `json:"qr,omitempty"`

	// QRImage is a base64-encoded PNG rendering of QR, ready for an
	// <img src="data:image/png;base64,..."> consumer.
	QRImage string `json:"qr_image,omitempty"`

	// PairCode is the numeric device-linking code.
	PairCode string `json:"pair_code,omitempty"`
}

// Session is one supervised connection to the messaging network on behalf of
// one end user. The pairing code is its immutable external handle.
//
// All mutable fields are written only by the session's own supervisor
// goroutine; the mutex exists so that concurrent readers (API handlers,
// List snapshots) observe consistent values.
type Session struct {
	code      string
	owner     string
	createdAt time.Time

	mu               sync.Mutex
	status           Status
	lastTransitionAt time.Time
	artifact         *AuthArtifact
	lastError        string
	notified         bool

	// cancel stops the supervisor goroutine; done is closed when it exits.
	cancel context.CancelFunc
	done   chan struct{}

	timeNow func() time.Time
}

// newSession allocates a PENDING session. The supervisor is attached by the
// registry after allocation.
func newSession(code, owner string, timeNow func() time.Time) *Session {
	now := timeNow()
	return &Session{
		code:             code,
		owner:            owner,
		createdAt:        now,
		status:           StatusPending,
		lastTransitionAt: now,
		done:             make(chan struct{}),
		timeNow:          timeNow,
	}
}

// Code returns the session's immutable pairing code.
func (s *Session) Code() string { return s.code }

// Owner returns the optional end-user identifier supplied at creation.
func (s *Session) Owner() string { return s.owner }

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Status returns the session's current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Artifact returns a copy of the current challenge material, or nil when the
// session is not awaiting authentication.
func (s *Session) Artifact() *AuthArtifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.artifact == nil {
		return nil
	}
	a := *s.artifact
	return &a
}

// LastError returns the recorded failure message, if any.
func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// LastTransitionAt returns when the session last changed state.
func (s *Session) LastTransitionAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTransitionAt
}

// Done returns a channel closed when the session's supervisor goroutine has
// exited completely. Useful for tests and for draining on shutdown.
func (s *Session) Done() <-chan struct{} { return s.done }

// transition moves the session to a new status, clearing the challenge
// artifact on every state except AWAITING_AUTH. Transitions out of a
// terminal state are refused, which is what makes late events from a dead
// connection attempt harmless.
func (s *Session) transition(to Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.Terminal() {
		return false
	}

	s.status = to
	s.lastTransitionAt = s.timeNow()
	if to != StatusAwaitingAuth {
		s.artifact = nil
	}
	return true
}

// setArtifact records challenge material and moves to AWAITING_AUTH.
func (s *Session) setArtifact(a *AuthArtifact) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.Terminal() {
		return false
	}

	s.status = StatusAwaitingAuth
	s.lastTransitionAt = s.timeNow()
	s.artifact = a
	return true
}

// fail moves the session to FAILED and records the reason.
func (s *Session) fail(reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.Terminal() {
		return false
	}

	s.status = StatusFailed
	s.lastTransitionAt = s.timeNow()
	s.artifact = nil
	s.lastError = reason
	return true
}

// markNotified records that the one-time owner notification was sent.
// Returns false if it was already sent.
func (s *Session) markNotified() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notified {
		return false
	}
	s.notified = true
	return true
}

// Summary is a point-in-time view of a session for list responses.
type Summary struct {
	Code      string    `json:"code"`
	Owner     string    `json:"owner,omitempty"`
	Status    Status    `json:"status"`
	Connected bool      `json:"connected"`
	CreatedAt time.Time `json:"created_at"`
}

// summary captures a consistent snapshot of the session.
func (s *Session) summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Summary{
		Code:      s.code,
		Owner:     s.owner,
		Status:    s.status,
		Connected: s.status == StatusConnected,
		CreatedAt: s.createdAt,
	}
}
