package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// memStore is a simple in-memory credential store for testing.
type memStore struct {
	mu    sync.Mutex
	blobs map[string][]byte

	loadErr   error
	saveErr   error
	deleteErr error
}

func newMemStore() *memStore {
	return &memStore{blobs: make(map[string][]byte)}
}

func (m *memStore) Load(scope string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	blob, ok := m.blobs[scope]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(blob))
	copy(out, blob)
	return out, nil
}

func (m *memStore) Save(scope string, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	cp := make([]byte, len(blob))
	copy(cp, blob)
	m.blobs[scope] = cp
	return nil
}

func (m *memStore) Delete(scope string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.blobs, scope)
	return nil
}

func (m *memStore) get(scope string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blobs[scope]
}

// sentMessage records a Handle.Send call.
type sentMessage struct {
	to   string
	body string
}

// fakeHandle is a scriptable connection handle. Events emitted after Close
// are dropped, mirroring a real adapter whose connection is already gone.
type fakeHandle struct {
	mu     sync.Mutex
	events chan Event
	closed bool

	sent    []sentMessage
	sendErr error

	openedCreds []byte
	openedOpts  OpenOptions
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{events: make(chan Event, 16)}
}

func (h *fakeHandle) Events() <-chan Event { return h.events }

func (h *fakeHandle) Send(_ context.Context, to, body string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sendErr != nil {
		return h.sendErr
	}
	h.sent = append(h.sent, sentMessage{to: to, body: body})
	return nil
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.closed = true
		close(h.events)
	}
	return nil
}

// emit delivers an event unless the handle is already closed.
func (h *fakeHandle) emit(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.events <- ev
}

func (h *fakeHandle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *fakeHandle) sentMessages() []sentMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]sentMessage, len(h.sent))
	copy(out, h.sent)
	return out
}

// fakeAdapter hands out fakeHandles and records every open. It fails the
// test if a new handle is opened while a previous one is still live, which
// is exactly the no-overlapping-handles invariant.
type fakeAdapter struct {
	t *testing.T

	mu      sync.Mutex
	handles []*fakeHandle
	openErr error

	// script, when set, runs against every newly opened handle.
	script func(h *fakeHandle, attempt int)

	// opened signals each successful open to the test.
	opened chan *fakeHandle
}

func newFakeAdapter(t *testing.T) *fakeAdapter {
	return &fakeAdapter{t: t, opened: make(chan *fakeHandle, 16)}
}

func (a *fakeAdapter) Open(_ context.Context, creds []byte, opts OpenOptions) (Handle, error) {
	a.mu.Lock()
	if a.openErr != nil {
		err := a.openErr
		a.mu.Unlock()
		return nil, err
	}

	for i, prev := range a.handles {
		if !prev.isClosed() {
			a.t.Errorf("handle %d still open when handle %d was requested", i, len(a.handles))
		}
	}

	h := newFakeHandle()
	h.openedCreds = creds
	h.openedOpts = opts
	a.handles = append(a.handles, h)
	attempt := len(a.handles)
	script := a.script
	a.mu.Unlock()

	if script != nil {
		go script(h, attempt)
	}
	a.opened <- h
	return h, nil
}

func (a *fakeAdapter) openCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.handles)
}

// waitHandle waits for the adapter to hand out its next handle.
func (a *fakeAdapter) waitHandle(t *testing.T) *fakeHandle {
	t.Helper()
	select {
	case h := <-a.opened:
		return h
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for adapter open")
		return nil
	}
}

// waitStatus polls until the session reaches the wanted status.
func waitStatus(t *testing.T, s *Session, want Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.Status() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("session %s never reached status %q (currently %q)", s.Code(), want, s.Status())
}

// startSupervised runs a supervisor against a fresh session and returns the
// session plus a cancel func and a done channel for the Run goroutine.
func startSupervised(t *testing.T, cfg SupervisorConfig, owner string) (*Session, context.CancelFunc, chan struct{}) {
	t.Helper()
	if cfg.TimeNow == nil {
		cfg.TimeNow = time.Now
	}
	sv := NewSupervisor(cfg)
	s := newSession("TESTCODE", owner, cfg.TimeNow)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sv.Run(ctx, s)
	}()
	t.Cleanup(cancel)
	return s, cancel, done
}

func TestQRChallengeFlow(t *testing.T) {
	adapter := newFakeAdapter(t)
	store := newMemStore()

	s, _, _ := startSupervised(t, SupervisorConfig{Adapter: adapter, Store: store}, "")

	if got := s.Status(); got != StatusPending {
		t.Errorf("initial status = %q, want %q", got, StatusPending)
	}

	h := adapter.waitHandle(t)
	h.emit(Event{Type: EventChallenge, QR: "Q1"})
	waitStatus(t, s, StatusAwaitingAuth)

	art := s.Artifact()
	if art == nil {
		t.Fatal("artifact absent in AWAITING_AUTH")
	}
	if art.QR != "Q1" {
		t.Errorf("artifact QR = %q, want Q1", art.QR)
	}
	if art.QRImage == "" {
		t.Error("artifact has no rendered QR image")
	}
	if art.PairCode != "" {
		t.Errorf("artifact has pair code %q on the QR path", art.PairCode)
	}

	h.emit(Event{Type: EventOpened})
	waitStatus(t, s, StatusConnected)

	if s.Artifact() != nil {
		t.Error("artifact must be cleared once connected")
	}
}

func TestPairCodeFlow(t *testing.T) {
	adapter := newFakeAdapter(t)
	store := newMemStore()

	s, _, _ := startSupervised(t, SupervisorConfig{
		Adapter:     adapter,
		Store:       store,
		UsePairCode: true,
	}, "15550001111")

	h := adapter.waitHandle(t)
	if !h.openedOpts.RequestPairCode {
		t.Error("open options should request a pair code for a fresh session with an owner")
	}
	if h.openedOpts.OwnerID != "15550001111" {
		t.Errorf("open options owner = %q", h.openedOpts.OwnerID)
	}

	h.emit(Event{Type: EventChallenge, PairCode: "ABCD1234"})
	waitStatus(t, s, StatusAwaitingAuth)

	art := s.Artifact()
	if art == nil || art.PairCode != "ABCD1234" {
		t.Fatalf("artifact = %+v, want pair code ABCD1234", art)
	}
	if art.QR != "" {
		t.Error("QR payload set on the pair-code path")
	}

	h.emit(Event{Type: EventOpened})
	waitStatus(t, s, StatusConnected)
}

func TestTransientCloseReconnects(t *testing.T) {
	adapter := newFakeAdapter(t)
	store := newMemStore()
	store.blobs["TESTCODE"] = []byte(`{"id":"creds-v1"}`)

	s, _, _ := startSupervised(t, SupervisorConfig{
		Adapter:      adapter,
		Store:        store,
		ReconnectMin: time.Millisecond,
		ReconnectMax: 2 * time.Millisecond,
	}, "")

	h1 := adapter.waitHandle(t)
	if string(h1.openedCreds) != `{"id":"creds-v1"}` {
		t.Errorf("first open creds = %q", h1.openedCreds)
	}
	h1.emit(Event{Type: EventOpened})
	waitStatus(t, s, StatusConnected)

	h1.emit(Event{Type: EventClosed, Reason: "network", Logout: false})

	// The reconnect must reuse the same credential scope.
	h2 := adapter.waitHandle(t)
	if string(h2.openedCreds) != `{"id":"creds-v1"}` {
		t.Errorf("reconnect creds = %q, want the stored blob", h2.openedCreds)
	}
	if !h1.isClosed() {
		t.Error("previous handle still open during reconnect")
	}

	h2.emit(Event{Type: EventOpened})
	waitStatus(t, s, StatusConnected)

	if got := store.get("TESTCODE"); string(got) != `{"id":"creds-v1"}` {
		t.Errorf("credential scope changed across reconnect: %q", got)
	}
}

func TestLogoutIsTerminal(t *testing.T) {
	adapter := newFakeAdapter(t)
	store := newMemStore()
	store.blobs["TESTCODE"] = []byte("identity")

	s, _, done := startSupervised(t, SupervisorConfig{Adapter: adapter, Store: store}, "")

	h := adapter.waitHandle(t)
	h.emit(Event{Type: EventOpened})
	waitStatus(t, s, StatusConnected)

	h.emit(Event{Type: EventClosed, Reason: "device-removed", Logout: true})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not exit after logout")
	}

	if got := s.Status(); got != StatusLoggedOut {
		t.Errorf("status = %q, want %q", got, StatusLoggedOut)
	}
	if store.get("TESTCODE") != nil {
		t.Error("credential scope not purged on logout")
	}
	if adapter.openCount() != 1 {
		t.Errorf("reconnect attempted after logout: %d opens", adapter.openCount())
	}
}

func TestAuthWindowExpiry(t *testing.T) {
	adapter := newFakeAdapter(t)
	store := newMemStore()
	store.blobs["TESTCODE"] = []byte("stale-creds")

	s, _, done := startSupervised(t, SupervisorConfig{
		Adapter:     adapter,
		Store:       store,
		AuthTimeout: 20 * time.Millisecond,
	}, "")

	h := adapter.waitHandle(t)
	h.emit(Event{Type: EventChallenge, QR: "Q1"})
	waitStatus(t, s, StatusAwaitingAuth)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not exit after auth expiry")
	}

	if got := s.Status(); got != StatusFailed {
		t.Fatalf("status = %q, want %q", got, StatusFailed)
	}
	if s.LastError() == "" {
		t.Error("failed session should record a reason")
	}
	if store.get("TESTCODE") != nil {
		t.Error("failed session should have its credential scope purged")
	}

	// A stale open arriving after expiry must not resurrect the session.
	h.emit(Event{Type: EventOpened})
	time.Sleep(10 * time.Millisecond)
	if got := s.Status(); got != StatusFailed {
		t.Errorf("stale opened event changed status to %q", got)
	}
}

func TestCredentialRotationPersistsBeforeNextEvent(t *testing.T) {
	adapter := newFakeAdapter(t)
	store := newMemStore()

	s, _, _ := startSupervised(t, SupervisorConfig{Adapter: adapter, Store: store}, "")

	h := adapter.waitHandle(t)
	h.emit(Event{Type: EventCredentials, Credentials: []byte("rotated-v2")})
	h.emit(Event{Type: EventOpened})
	waitStatus(t, s, StatusConnected)

	// Events are handled in order, so by the time the session is connected
	// the rotation must be durable.
	if got := store.get("TESTCODE"); string(got) != "rotated-v2" {
		t.Errorf("stored credentials = %q, want rotated-v2", got)
	}
}

func TestCredentialStoreFailureIsFatal(t *testing.T) {
	adapter := newFakeAdapter(t)
	store := newMemStore()
	store.saveErr = errors.New("disk full")

	s, _, done := startSupervised(t, SupervisorConfig{Adapter: adapter, Store: store}, "")

	h := adapter.waitHandle(t)
	h.emit(Event{Type: EventCredentials, Credentials: []byte("v2")})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not exit after store failure")
	}

	if got := s.Status(); got != StatusFailed {
		t.Errorf("status = %q, want %q", got, StatusFailed)
	}
	if adapter.openCount() != 1 {
		t.Errorf("supervisor retried against a broken store: %d opens", adapter.openCount())
	}
}

func TestReconnectBudgetExhaustion(t *testing.T) {
	adapter := newFakeAdapter(t)
	adapter.script = func(h *fakeHandle, attempt int) {
		h.emit(Event{Type: EventClosed, Reason: fmt.Sprintf("drop-%d", attempt)})
	}
	store := newMemStore()

	s, _, done := startSupervised(t, SupervisorConfig{
		Adapter:              adapter,
		Store:                store,
		MaxReconnectAttempts: 2,
		ReconnectMin:         time.Millisecond,
		ReconnectMax:         2 * time.Millisecond,
	}, "")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not give up")
	}

	if got := s.Status(); got != StatusFailed {
		t.Errorf("status = %q, want %q", got, StatusFailed)
	}
	// Initial attempt plus two retries.
	if got := adapter.openCount(); got != 3 {
		t.Errorf("open count = %d, want 3", got)
	}
}

func TestUnrecoverableOpenErrorFailsImmediately(t *testing.T) {
	adapter := newFakeAdapter(t)
	adapter.openErr = fmt.Errorf("credential blob corrupt: %w", ErrUnrecoverable)
	store := newMemStore()

	s, _, done := startSupervised(t, SupervisorConfig{
		Adapter:      adapter,
		Store:        store,
		ReconnectMin: time.Millisecond,
	}, "")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not exit")
	}

	if got := s.Status(); got != StatusFailed {
		t.Errorf("status = %q, want %q", got, StatusFailed)
	}
}

func TestRecoverableOpenErrorIsRetried(t *testing.T) {
	adapter := newFakeAdapter(t)
	adapter.openErr = errors.New("dial tcp: connection refused")
	store := newMemStore()

	s, _, done := startSupervised(t, SupervisorConfig{
		Adapter:              adapter,
		Store:                store,
		MaxReconnectAttempts: 1,
		ReconnectMin:         time.Millisecond,
		ReconnectMax:         2 * time.Millisecond,
	}, "")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not exit")
	}

	// One initial attempt, one retry, then gives up.
	if got := s.Status(); got != StatusFailed {
		t.Errorf("status = %q, want %q", got, StatusFailed)
	}
	if s.LastError() != "reconnect attempts exhausted" {
		t.Errorf("last error = %q", s.LastError())
	}
}

func TestOwnerNotificationIsBestEffortAndOneTime(t *testing.T) {
	adapter := newFakeAdapter(t)
	store := newMemStore()

	s, _, _ := startSupervised(t, SupervisorConfig{
		Adapter:      adapter,
		Store:        store,
		NotifyOwner:  true,
		ReconnectMin: time.Millisecond,
		ReconnectMax: 2 * time.Millisecond,
	}, "15550001111")

	h1 := adapter.waitHandle(t)
	h1.emit(Event{Type: EventOpened})
	waitStatus(t, s, StatusConnected)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && len(h1.sentMessages()) == 0 {
		time.Sleep(2 * time.Millisecond)
	}
	sent := h1.sentMessages()
	if len(sent) != 1 {
		t.Fatalf("sent %d notifications, want 1", len(sent))
	}
	if sent[0].to != "15550001111" {
		t.Errorf("notification sent to %q", sent[0].to)
	}

	// Reconnect must not re-notify.
	h1.emit(Event{Type: EventClosed, Reason: "network"})
	h2 := adapter.waitHandle(t)
	h2.emit(Event{Type: EventOpened})
	waitStatus(t, s, StatusConnected)

	time.Sleep(20 * time.Millisecond)
	if n := len(h2.sentMessages()); n != 0 {
		t.Errorf("re-notified on reconnect: %d messages", n)
	}
}

func TestNotificationFailureDoesNotChangeStatus(t *testing.T) {
	adapter := newFakeAdapter(t)
	store := newMemStore()

	s, _, _ := startSupervised(t, SupervisorConfig{
		Adapter:     adapter,
		Store:       store,
		NotifyOwner: true,
	}, "15550001111")

	h := adapter.waitHandle(t)
	h.sendErr = errors.New("recipient unavailable")
	h.emit(Event{Type: EventOpened})
	waitStatus(t, s, StatusConnected)

	time.Sleep(10 * time.Millisecond)
	if got := s.Status(); got != StatusConnected {
		t.Errorf("notification failure changed status to %q", got)
	}
}

func TestCancelDuringReconnectStopsRetrying(t *testing.T) {
	adapter := newFakeAdapter(t)
	store := newMemStore()

	s, cancel, done := startSupervised(t, SupervisorConfig{
		Adapter:      adapter,
		Store:        store,
		ReconnectMin: time.Hour, // park the supervisor in backoff
		ReconnectMax: time.Hour,
	}, "")

	h := adapter.waitHandle(t)
	h.emit(Event{Type: EventOpened})
	waitStatus(t, s, StatusConnected)
	h.emit(Event{Type: EventClosed, Reason: "network"})
	waitStatus(t, s, StatusReconnecting)

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not observe cancellation during backoff")
	}
	if got := adapter.openCount(); got != 1 {
		t.Errorf("session resurrected after cancel: %d opens", got)
	}
}
