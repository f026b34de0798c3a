package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrUnrecoverable marks adapter open failures that retrying cannot fix,
// such as corrupted credential material. Adapters wrap their errors with it
// to make the supervisor fail the session instead of reconnecting.
var ErrUnrecoverable = errors.New("unrecoverable adapter error")

// SupervisorConfig holds the collaborators and policy knobs for session
// supervision.
type SupervisorConfig struct {
	// Adapter opens connections to the messaging network. Required.
	Adapter Adapter

	// Store is the durable credential store. Required.
	Store CredentialStore

	// ClientName is announced to the network on every open.
	ClientName string

	// UsePairCode selects the numeric linking-code flow instead of the QR
	// flow for sessions created with an owner identifier.
	UsePairCode bool

	// NotifyOwner sends the pairing code to the owner as a one-time message
	// after the first successful connect. Best-effort.
	NotifyOwner bool

	// AuthTimeout is the challenge window: time allowed between the first
	// challenge event and the opened event. Default: 2 minutes.
	AuthTimeout time.Duration

	// MaxReconnectAttempts caps consecutive reconnect attempts after a
	// transient close. The counter resets on every successful open.
	// Default: 10.
	MaxReconnectAttempts int

	// ReconnectMin is the initial reconnect backoff. Default: 1s.
	ReconnectMin time.Duration

	// ReconnectMax is the backoff ceiling. Default: 30s.
	ReconnectMax time.Duration

	// TimeNow returns the current time. Useful for testing.
	// Default: time.Now.
	TimeNow func() time.Time
}

// Supervisor drives session state machines. One Supervisor is shared by all
// sessions; each session gets its own Run goroutine and they share no state.
type Supervisor struct {
	cfg SupervisorConfig
}

// NewSupervisor creates a supervisor with the given config, applying
// defaults for unset policy knobs.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = 2 * time.Minute
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 10
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = time.Second
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = 30 * time.Second
	}
	if cfg.TimeNow == nil {
		cfg.TimeNow = time.Now
	}
	return &Supervisor{cfg: cfg}
}

// outcome classifies how a connection attempt ended.
type outcome int

const (
	outcomeTransient outcome = iota // recoverable close, eligible for reconnect
	outcomeCanceled                 // context canceled (session removed or shutdown)
	outcomeLoggedOut                // explicit logout from the network
	outcomeAuthExpired              // challenge window elapsed without open
	outcomeStoreFailed              // credential store I/O failure
	outcomeOpenFailed               // adapter open returned an error
)

// attemptResult carries the attempt outcome plus context for logging and
// backoff bookkeeping.
type attemptResult struct {
	outcome outcome
	err     error
	opened  bool // the attempt reached CONNECTED at least once
}

// Run drives one session until it reaches a terminal state or ctx is
// canceled. It owns all mutation of the session's observable fields.
//
// On logout Run purges the session's credential scope before returning; the
// registry removes the map entry when Run exits with a LOGGED_OUT status.
func (sv *Supervisor) Run(ctx context.Context, s *Session) {
	bo := sv.newBackOff()
	retries := 0

	for {
		res := sv.runAttempt(ctx, s)
		if res.opened {
			// A successful open resets the reconnect budget.
			retries = 0
			bo.Reset()
		}

		switch res.outcome {
		case outcomeCanceled:
			log.Printf("supervisor: session %s stopped", s.code)
			return

		case outcomeLoggedOut:
			if err := sv.cfg.Store.Delete(s.code); err != nil {
				log.Printf("supervisor: session %s credential purge failed: %v", s.code, err)
			}
			s.transition(StatusLoggedOut)
			log.Printf("supervisor: session %s logged out", s.code)
			return

		case outcomeAuthExpired:
			sv.failSession(s, "authentication window expired")
			log.Printf("supervisor: session %s auth window expired", s.code)
			return

		case outcomeStoreFailed:
			// Cannot safely continue without durable credentials.
			sv.failSession(s, fmt.Sprintf("credential store failure: %v", res.err))
			log.Printf("supervisor: session %s credential store failure: %v", s.code, res.err)
			return

		case outcomeOpenFailed:
			if errors.Is(res.err, ErrUnrecoverable) {
				sv.failSession(s, fmt.Sprintf("connection open failed: %v", res.err))
				log.Printf("supervisor: session %s unrecoverable open failure: %v", s.code, res.err)
				return
			}
			// Recoverable dial failure: fall through to the reconnect path.
			fallthrough

		case outcomeTransient:
			if !s.transition(StatusReconnecting) {
				return
			}
			retries++
			if retries > sv.cfg.MaxReconnectAttempts {
				sv.failSession(s, "reconnect attempts exhausted")
				log.Printf("supervisor: session %s reconnect attempts exhausted after %d tries", s.code, retries-1)
				return
			}

			wait := bo.NextBackOff()
			if wait == backoff.Stop {
				sv.failSession(s, "reconnect attempts exhausted")
				return
			}
			log.Printf("supervisor: session %s reconnecting in %s (attempt %d/%d)",
				s.code, wait.Round(time.Millisecond), retries, sv.cfg.MaxReconnectAttempts)

			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
	}
}

// failSession marks the session failed and purges its credential scope.
// Terminal sessions hold no credentials, whether they ended by logout or by
// failure. The purge is best effort: a store error is logged, not retried.
func (sv *Supervisor) failSession(s *Session, reason string) {
	s.fail(reason)
	if err := sv.cfg.Store.Delete(s.code); err != nil {
		log.Printf("supervisor: session %s credential purge failed: %v", s.code, err)
	}
}

// runAttempt performs one full connection attempt: load credentials, open a
// handle, pump events until the connection ends, then tear the handle down
// completely. The handle is fully closed before runAttempt returns, which is
// what guarantees at most one live handle per session.
func (sv *Supervisor) runAttempt(ctx context.Context, s *Session) attemptResult {
	creds, err := sv.cfg.Store.Load(s.code)
	if err != nil {
		return attemptResult{outcome: outcomeStoreFailed, err: err}
	}

	opts := OpenOptions{
		ClientName:      sv.cfg.ClientName,
		RequestPairCode: sv.cfg.UsePairCode && s.owner != "" && creds == nil,
		OwnerID:         s.owner,
	}

	handle, err := sv.cfg.Adapter.Open(ctx, creds, opts)
	if err != nil {
		return attemptResult{outcome: outcomeOpenFailed, err: err}
	}

	res := sv.pump(ctx, s, handle)

	// Tear down and drain: the adapter closes the event channel only once
	// the connection is fully gone, so after this loop no stale handle can
	// overlap the next attempt and no late event can reach the session.
	handle.Close()
	for range handle.Events() {
	}

	return res
}

// pump processes events from one handle in emission order until the
// connection ends, the challenge window expires, or ctx is canceled.
func (sv *Supervisor) pump(ctx context.Context, s *Session, h Handle) attemptResult {
	var authTimer *time.Timer
	var authExpired <-chan time.Time
	defer func() {
		if authTimer != nil {
			authTimer.Stop()
		}
	}()

	opened := false

	for {
		select {
		case <-ctx.Done():
			return attemptResult{outcome: outcomeCanceled, opened: opened}

		case <-authExpired:
			return attemptResult{outcome: outcomeAuthExpired, opened: opened}

		case ev, ok := <-h.Events():
			if !ok {
				// Stream ended without an explicit close event.
				return attemptResult{outcome: outcomeTransient, opened: opened,
					err: errors.New("event stream ended")}
			}

			switch ev.Type {
			case EventChallenge:
				var art *AuthArtifact
				if ev.PairCode != "" {
					art = pairCodeArtifact(ev.PairCode)
				} else {
					art = renderQRArtifact(ev.QR)
				}
				if s.setArtifact(art) && authTimer == nil {
					// The challenge window is measured from the first
					// challenge of the attempt; refreshed QR payloads do
					// not extend it.
					authTimer = time.NewTimer(sv.cfg.AuthTimeout)
					authExpired = authTimer.C
					log.Printf("supervisor: session %s awaiting auth (window %s)", s.code, sv.cfg.AuthTimeout)
				}

			case EventCredentials:
				// Persist synchronously: the event is not handled until the
				// rotated material is durable.
				if err := sv.cfg.Store.Save(s.code, ev.Credentials); err != nil {
					return attemptResult{outcome: outcomeStoreFailed, err: err, opened: opened}
				}

			case EventOpened:
				if authTimer != nil {
					authTimer.Stop()
					authTimer = nil
					authExpired = nil
				}
				opened = true
				if s.transition(StatusConnected) {
					log.Printf("supervisor: session %s connected", s.code)
					sv.maybeNotify(ctx, s, h)
				}

			case EventClosed:
				if ev.Logout {
					return attemptResult{outcome: outcomeLoggedOut, opened: opened}
				}
				log.Printf("supervisor: session %s connection closed: %s", s.code, ev.Reason)
				return attemptResult{outcome: outcomeTransient, opened: opened,
					err: errors.New(ev.Reason)}
			}
		}
	}
}

// maybeNotify sends the one-time pairing notification to the session owner.
// Failures are logged and otherwise ignored; notification never affects
// session state.
func (sv *Supervisor) maybeNotify(ctx context.Context, s *Session, h Handle) {
	if !sv.cfg.NotifyOwner || s.owner == "" {
		return
	}
	if !s.markNotified() {
		return
	}

	msg := fmt.Sprintf("Your pairgate session is linked. Pairing code: %s", s.code)
	if err := h.Send(ctx, s.owner, msg); err != nil {
		log.Printf("supervisor: session %s owner notification failed: %v", s.code, err)
	}
}

// newBackOff builds the reconnect backoff policy: exponential with jitter,
// capped interval, no elapsed-time limit (attempts are capped separately).
func (sv *Supervisor) newBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = sv.cfg.ReconnectMin
	bo.MaxInterval = sv.cfg.ReconnectMax
	bo.RandomizationFactor = 0.5
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}
