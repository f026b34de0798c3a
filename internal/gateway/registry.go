package gateway

import (
	"context"
	"crypto/rand"
	"log"
	"math/big"
	"sync"
	"time"

	gerrors "github.com/pairgate/gateway/internal/errors"
)

// DefaultMaxSessions is the default maximum number of concurrent sessions.
// This prevents resource exhaustion from creating too many upstream
// connections.
const DefaultMaxSessions = 50

// pairingCodeLength is the length of generated pairing codes.
const pairingCodeLength = 8

// pairingCodeAlphabet excludes ambiguous characters (0/O, 1/I/L) so codes
// can double as human-enterable linking codes.
const pairingCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// RegistryConfig holds configuration for the session registry.
type RegistryConfig struct {
	// Supervisor drives each session's lifecycle. Required.
	Supervisor *Supervisor

	// Store is the credential store, used to purge scopes on removal and to
	// serve exports. Required; must be the same store the supervisor uses.
	Store CredentialStore

	// MaxSessions is the concurrent session ceiling.
	// 0 means DefaultMaxSessions.
	MaxSessions int

	// OwnerRequired rejects creation requests without an owner identifier.
	// Set when the numeric pair-code flow or owner notification is enabled,
	// since both need somewhere to deliver.
	OwnerRequired bool

	// TimeNow returns the current time. Useful for testing.
	// Default: time.Now.
	TimeNow func() time.Time
}

// CreateRequest is a session creation request.
type CreateRequest struct {
	// Owner is the optional end-user account identifier. Used only for
	// notification and the numeric linking flow, never for lookup.
	Owner string

	// Credentials optionally seeds the session's credential scope with a
	// previously exported blob, letting the session skip the challenge flow
	// when the material is still valid.
	Credentials []byte
}

// Registry is the single source of truth for which sessions exist. It maps
// pairing codes to sessions and spawns one supervisor goroutine per session.
//
// The registry is the only structure mutated by multiple goroutines; each
// session's state is mutated exclusively by its own supervisor.
type Registry struct {
	cfg RegistryConfig

	mu       sync.RWMutex
	sessions map[string]*Session

	// retired holds every pairing code ever allocated in this process.
	// Codes are never reused, so a remove racing a create can never collide
	// on a recycled code.
	retired map[string]struct{}
}

// NewRegistry creates a session registry with the given config.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.TimeNow == nil {
		cfg.TimeNow = time.Now
	}
	return &Registry{
		cfg:      cfg,
		sessions: make(map[string]*Session),
		retired:  make(map[string]struct{}),
	}
}

// Create allocates a fresh pairing code, inserts a PENDING session, and
// starts its supervisor. It returns immediately; callers observe connection
// progress by polling Get.
func (r *Registry) Create(req CreateRequest) (string, error) {
	if r.cfg.OwnerRequired && req.Owner == "" {
		return "", gerrors.InvalidRequest("owner identifier is required")
	}

	r.mu.Lock()
	if len(r.sessions) >= r.cfg.MaxSessions {
		r.mu.Unlock()
		return "", gerrors.SessionLimit(r.cfg.MaxSessions)
	}

	code, err := r.allocateCodeLocked()
	if err != nil {
		r.mu.Unlock()
		return "", err
	}

	s := newSession(code, req.Owner, r.cfg.TimeNow)
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	r.sessions[code] = s
	r.mu.Unlock()

	// Seed the credential scope before the supervisor's first load, so an
	// imported session reconnects straight away.
	if len(req.Credentials) > 0 {
		if err := r.cfg.Store.Save(code, req.Credentials); err != nil {
			// No partial session left behind.
			cancel()
			r.mu.Lock()
			delete(r.sessions, code)
			r.mu.Unlock()
			close(s.done)
			return "", gerrors.CredStoreFailed("save", err)
		}
	}

	log.Printf("registry: created session %s (owner=%q)", code, req.Owner)
	go r.runSession(ctx, s)

	return code, nil
}

// runSession hosts one session's supervisor and cleans up after it.
// Logged-out sessions disappear from the registry; failed sessions stay
// queryable until explicitly removed.
func (r *Registry) runSession(ctx context.Context, s *Session) {
	defer close(s.done)

	r.cfg.Supervisor.Run(ctx, s)

	if s.Status() == StatusLoggedOut {
		r.mu.Lock()
		delete(r.sessions, s.code)
		r.mu.Unlock()
		log.Printf("registry: removed logged-out session %s", s.code)
	}
}

// Get retrieves a session by pairing code.
func (r *Registry) Get(code string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[code]
	r.mu.RUnlock()

	if !ok {
		return nil, gerrors.NotFound(code)
	}
	return s, nil
}

// Remove stops a session and deletes it from the registry, purging its
// credential scope. Removing a non-existent code is a no-op, not an error.
//
// Remove signals the session's supervisor and returns without waiting for it
// to drain; the retired-code set guarantees the draining task can never
// collide with a freshly created session.
func (r *Registry) Remove(code string) error {
	r.mu.Lock()
	s, ok := r.sessions[code]
	if ok {
		delete(r.sessions, code)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}

	s.cancel()

	if err := r.cfg.Store.Delete(code); err != nil {
		log.Printf("registry: credential purge for %s failed: %v", code, err)
		return gerrors.CredStoreFailed("delete", err)
	}

	log.Printf("registry: removed session %s", code)
	return nil
}

// List returns a snapshot of all sessions. Sessions may change state after
// this call returns.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Summary, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.summary())
	}
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Credentials returns the stored credential blob for a connected session,
// for session-ID export. Sessions that have not completed authentication
// have nothing exportable.
func (r *Registry) Credentials(code string) ([]byte, error) {
	s, err := r.Get(code)
	if err != nil {
		return nil, err
	}
	if s.Status() != StatusConnected {
		return nil, gerrors.New(gerrors.CodeExportNotConnected,
			"session has no exportable credentials until it is connected")
	}

	blob, err := r.cfg.Store.Load(code)
	if err != nil {
		return nil, gerrors.CredStoreFailed("load", err)
	}
	if blob == nil {
		return nil, gerrors.New(gerrors.CodeExportNotConnected,
			"session has no stored credentials")
	}
	return blob, nil
}

// Shutdown cancels every session and waits for their supervisors to drain,
// or until ctx expires. Credential scopes are left intact so sessions can
// resume on the next start.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range all {
		s.cancel()
	}
	for _, s := range all {
		select {
		case <-s.Done():
		case <-ctx.Done():
			log.Printf("registry: shutdown timed out waiting for session %s", s.code)
			return
		}
	}
}

// allocateCodeLocked generates a pairing code unique across the process
// lifetime. Must be called with r.mu held.
func (r *Registry) allocateCodeLocked() (string, error) {
	// Collisions are astronomically unlikely with a 31^8 space, but the
	// retired set makes uniqueness a hard guarantee rather than a
	// probability.
	for attempt := 0; attempt < 10; attempt++ {
		code, err := generateCode(pairingCodeLength)
		if err != nil {
			return "", gerrors.Internal("pairing code generation failed", err)
		}
		if _, used := r.retired[code]; used {
			continue
		}
		r.retired[code] = struct{}{}
		return code, nil
	}
	return "", gerrors.New(gerrors.CodePairingCodeExhausted, "could not allocate a fresh pairing code")
}

// generateCode generates a random code of the given length from the pairing
// alphabet. Uses crypto/rand so codes are unpredictable.
func generateCode(length int) (string, error) {
	code := make([]byte, length)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(pairingCodeAlphabet))))
		if err != nil {
			return "", err
		}
		code[i] = pairingCodeAlphabet[n.Int64()]
	}
	return string(code), nil
}
