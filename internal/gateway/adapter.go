package gateway

import "context"

// EventType identifies a lifecycle event emitted by a connection handle.
type EventType int

const (
	// EventChallenge delivers authentication challenge material: either a QR
	// payload or a numeric pairing code, depending on how the connection was
	// opened. The two are mutually exclusive per connection attempt.
	EventChallenge EventType = iota + 1

	// EventCredentials reports rotated credential material that must be
	// persisted before the event is considered handled.
	EventCredentials

	// EventOpened signals that the connection is authenticated and live.
	EventOpened

	// EventClosed signals that the connection has terminated. Logout
	// distinguishes an irreversible device removal from a transient close.
	EventClosed
)

// Event is a single lifecycle event from a connection handle. Only the
// fields relevant to the event type are populated.
type Event struct {
	Type EventType

	// QR is the raw QR challenge payload (EventChallenge, QR flow).
	QR string

	// PairCode is the numeric linking code (EventChallenge, pair-code flow).
	PairCode string

	// Credentials is the rotated credential blob (EventCredentials).
	Credentials []byte

	// Reason describes why the connection closed (EventClosed).
	Reason string

	// Logout is true when the close is an explicit logout (EventClosed).
	Logout bool
}

// OpenOptions carries per-attempt parameters for Adapter.Open.
type OpenOptions struct {
	// ClientName is the client identity announced to the messaging network.
	ClientName string

	// RequestPairCode asks the network for a numeric linking code instead of
	// a QR challenge. Requires OwnerID.
	RequestPairCode bool

	// OwnerID is the end-user account identifier, when known.
	OwnerID string
}

// Handle is one live connection to the messaging network.
//
// The Events channel delivers events strictly in emission order and is closed
// only after the underlying connection is fully torn down. Callers that need
// the no-overlapping-handles guarantee close the handle and then drain Events
// until it is closed.
type Handle interface {
	// Events returns the handle's event stream. The same channel is returned
	// on every call.
	Events() <-chan Event

	// Send delivers a text message to a recipient on the network.
	Send(ctx context.Context, to, body string) error

	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// Adapter opens connections to the external messaging network. The handshake
// is asynchronous: Open returns as soon as the transport is established, and
// authentication progress arrives as events on the handle.
type Adapter interface {
	Open(ctx context.Context, credentials []byte, opts OpenOptions) (Handle, error)
}

// CredentialStore is the durable home of per-session identity material.
// Each session owns one scope, keyed by its pairing code; scopes are
// independent and may be accessed concurrently.
//
// Load returns (nil, nil) when the scope has no stored credentials.
type CredentialStore interface {
	Load(scope string) ([]byte, error)
	Save(scope string, blob []byte) error
	Delete(scope string) error
}
