// Package wsadapter connects sessions to the messaging network relay over
// WebSocket. It implements the gateway's Adapter and Handle interfaces; the
// supervisor never sees anything below the event vocabulary.
//
// The relay speaks JSON frames. The client opens with a "hello" frame
// carrying its identity and any stored credentials; the relay answers with
// "challenge", "creds", "open", and "close" frames, which map one-to-one
// onto gateway events.
package wsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pairgate/gateway/internal/gateway"
)

// writeTimeout bounds every outbound frame write.
const writeTimeout = 10 * time.Second

// frame is the relay wire format. Only the fields for a frame's type are
// populated.
type frame struct {
	Type string `json:"type"`

	// hello (client -> relay)
	Client      string          `json:"client,omitempty"`
	Owner       string          `json:"owner,omitempty"`
	RequestCode bool            `json:"request_code,omitempty"`
	Credentials json.RawMessage `json:"credentials,omitempty"`

	// challenge (relay -> client)
	QR       string `json:"qr,omitempty"`
	PairCode string `json:"pair_code,omitempty"`

	// close (relay -> client)
	Reason string `json:"reason,omitempty"`
	Logout bool   `json:"logout,omitempty"`

	// send (client -> relay)
	To   string `json:"to,omitempty"`
	Body string `json:"body,omitempty"`
}

// Adapter dials the messaging network relay.
type Adapter struct {
	// URL is the relay WebSocket endpoint (ws:// or wss://).
	URL string

	// Dialer overrides the WebSocket dialer. Default: websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

// New creates an adapter for the given relay URL.
func New(url string) *Adapter {
	return &Adapter{URL: url}
}

// Open dials the relay and starts the asynchronous handshake by sending a
// hello frame. Authentication progress arrives as events on the returned
// handle.
//
// Stored credentials that are not valid JSON are reported as unrecoverable:
// retrying cannot fix a corrupt blob.
func (a *Adapter) Open(ctx context.Context, creds []byte, opts gateway.OpenOptions) (gateway.Handle, error) {
	if len(creds) > 0 && !json.Valid(creds) {
		return nil, fmt.Errorf("stored credentials are not valid JSON: %w", gateway.ErrUnrecoverable)
	}

	dialer := a.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	header := http.Header{}
	if opts.ClientName != "" {
		header.Set("X-Client-Name", opts.ClientName)
	}

	conn, resp, err := dialer.DialContext(ctx, a.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial relay: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	h := &handle{
		id:     uuid.New().String(),
		conn:   conn,
		events: make(chan gateway.Event, 32),
	}

	hello := frame{
		Type:        "hello",
		Client:      opts.ClientName,
		Owner:       opts.OwnerID,
		RequestCode: opts.RequestPairCode,
		Credentials: creds,
	}
	if err := h.writeJSON(hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send hello: %w", err)
	}

	log.Printf("wsadapter: handle %s opened to %s", h.id, a.URL)
	go h.readLoop()

	return h, nil
}

// handle is one live relay connection.
type handle struct {
	id     string
	conn   *websocket.Conn
	events chan gateway.Event

	// writeMu serializes writes; gorilla allows only one concurrent writer.
	writeMu sync.Mutex

	closeOnce sync.Once
}

// Events returns the handle's event stream. The channel is closed only
// after the read loop has exited, i.e. the connection is fully gone.
func (h *handle) Events() <-chan gateway.Event { return h.events }

// Send delivers a text message through the relay.
func (h *handle) Send(ctx context.Context, to, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := h.writeJSON(frame{Type: "send", To: to, Body: body}); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// Close tears the connection down. Safe to call more than once.
func (h *handle) Close() error {
	h.closeOnce.Do(func() {
		// Best-effort close frame so the relay can distinguish a polite
		// goodbye from a dropped TCP connection.
		h.writeMu.Lock()
		h.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		h.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		h.writeMu.Unlock()

		h.conn.Close()
		log.Printf("wsadapter: handle %s closed", h.id)
	})
	return nil
}

func (h *handle) writeJSON(f frame) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	h.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return h.conn.WriteJSON(f)
}

// readLoop translates relay frames into gateway events, in the order they
// arrive. It closes the event channel on exit, which is the signal that no
// stale event can follow.
func (h *handle) readLoop() {
	defer close(h.events)

	sawClose := false
	for {
		var f frame
		if err := h.conn.ReadJSON(&f); err != nil {
			if !sawClose {
				if websocket.IsUnexpectedCloseError(err,
					websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Printf("wsadapter: handle %s read error: %v", h.id, err)
				}
				// The relay went away without a close frame; surface it as
				// a transient close so the supervisor reconnects.
				h.events <- gateway.Event{Type: gateway.EventClosed, Reason: "connection lost"}
			}
			return
		}

		switch f.Type {
		case "challenge":
			h.events <- gateway.Event{Type: gateway.EventChallenge, QR: f.QR, PairCode: f.PairCode}
		case "creds":
			h.events <- gateway.Event{Type: gateway.EventCredentials, Credentials: f.Credentials}
		case "open":
			h.events <- gateway.Event{Type: gateway.EventOpened}
		case "close":
			sawClose = true
			h.events <- gateway.Event{Type: gateway.EventClosed, Reason: f.Reason, Logout: f.Logout}
			return
		default:
			log.Printf("wsadapter: handle %s ignoring unknown frame type %q", h.id, f.Type)
		}
	}
}
