// Package server exposes the gateway's pairing API over HTTP.
//
// Routes:
//   - POST   /api/pairing/new            create a session
//   - GET    /api/pairing/list           list session summaries
//   - GET    /api/pairing/{code}         session status snapshot
//   - DELETE /api/pairing/{code}         remove a session (idempotent logout trigger)
//   - GET    /api/pairing/{code}/export  export a session ID token
//   - GET    /healthz                    liveness probe
//
// Failures are JSON bodies carrying stable error codes; the API never maps a
// lifecycle state to an HTTP error. A FAILED session is a 200 with
// status "failed".
package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	gerrors "github.com/pairgate/gateway/internal/errors"
	"github.com/pairgate/gateway/internal/gateway"
	"github.com/pairgate/gateway/internal/sessionid"
)

// Server handles the pairing HTTP API.
type Server struct {
	registry *gateway.Registry
}

// New creates a server for the given registry.
func New(registry *gateway.Registry) *Server {
	return &Server{registry: registry}
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/api/pairing/", http.HandlerFunc(s.routePairing))
	return mux
}

// routePairing dispatches /api/pairing/* requests by path shape.
func (s *Server) routePairing(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/pairing/")
	path = strings.TrimSuffix(path, "/")

	switch {
	case path == "new":
		s.handleNew(w, r)
	case path == "list":
		s.handleList(w, r)
	case strings.HasSuffix(path, "/export"):
		s.handleExport(w, r, strings.TrimSuffix(path, "/export"))
	case path != "" && !strings.Contains(path, "/"):
		s.handleSession(w, r, path)
	default:
		http.NotFound(w, r)
	}
}

// newRequest is the body of POST /api/pairing/new.
type newRequest struct {
	// Owner is the optional end-user account identifier.
	Owner string `json:"owner,omitempty"`

	// SessionID optionally imports a previously exported session ID token,
	// seeding the new session's credentials.
	SessionID string `json:"session_id,omitempty"`
}

// newResponse is the response of POST /api/pairing/new.
type newResponse struct {
	Code string `json:"code"`
}

func (s *Server) handleNew(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, gerrors.New(gerrors.CodeServerMethod, "use POST"))
		return
	}

	var req newRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, gerrors.Wrap(gerrors.CodeServerInvalidBody, "request body is not valid JSON", err))
			return
		}
	}

	var creds []byte
	if req.SessionID != "" {
		var err error
		creds, err = sessionid.Decode(req.SessionID)
		if err != nil {
			writeError(w, err)
			return
		}
	}

	code, err := s.registry.Create(gateway.CreateRequest{Owner: req.Owner, Credentials: creds})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newResponse{Code: code})
}

// listResponse is the response of GET /api/pairing/list.
type listResponse struct {
	Sessions []gateway.Summary `json:"sessions"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, gerrors.New(gerrors.CodeServerMethod, "use GET"))
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Sessions: s.registry.List()})
}

// statusResponse is the response of GET /api/pairing/{code}.
type statusResponse struct {
	Code      string                `json:"code"`
	Owner     string                `json:"owner,omitempty"`
	Status    gateway.Status        `json:"status"`
	Artifact  *gateway.AuthArtifact `json:"artifact,omitempty"`
	LastError string                `json:"last_error,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// removeResponse is the response of DELETE /api/pairing/{code}.
type removeResponse struct {
	Code    string `json:"code"`
	Removed bool   `json:"removed"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request, code string) {
	switch r.Method {
	case http.MethodGet:
		sess, err := s.registry.Get(code)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, statusResponse{
			Code:      sess.Code(),
			Owner:     sess.Owner(),
			Status:    sess.Status(),
			Artifact:  sess.Artifact(),
			LastError: sess.LastError(),
			CreatedAt: sess.CreatedAt(),
			UpdatedAt: sess.LastTransitionAt(),
		})

	case http.MethodDelete:
		if err := s.registry.Remove(code); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, removeResponse{Code: code, Removed: true})

	default:
		writeError(w, gerrors.New(gerrors.CodeServerMethod, "use GET or DELETE"))
	}
}

// exportResponse is the response of GET /api/pairing/{code}/export.
type exportResponse struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request, code string) {
	if r.Method != http.MethodGet {
		writeError(w, gerrors.New(gerrors.CodeServerMethod, "use GET"))
		return
	}

	blob, err := s.registry.Credentials(code)
	if err != nil {
		writeError(w, err)
		return
	}

	token, err := sessionid.Encode(blob)
	if err != nil {
		writeError(w, gerrors.Internal("session ID encoding failed", err))
		return
	}

	writeJSON(w, http.StatusOK, exportResponse{SessionID: token})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// statusFor maps stable error codes to HTTP statuses.
func statusFor(code string) int {
	switch code {
	case gerrors.CodePairingNotFound:
		return http.StatusNotFound
	case gerrors.CodePairingInvalidRequest, gerrors.CodeServerInvalidBody, gerrors.CodeExportBadToken:
		return http.StatusBadRequest
	case gerrors.CodePairingSessionLimit:
		return http.StatusTooManyRequests
	case gerrors.CodeExportNotConnected:
		return http.StatusConflict
	case gerrors.CodeServerMethod:
		return http.StatusMethodNotAllowed
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code, message := gerrors.ToCodeAndMessage(err)

	var body errorBody
	body.Error.Code = code
	body.Error.Message = message
	writeJSON(w, statusFor(code), body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: response encoding failed: %v", err)
	}
}
