// Package handler serves the HTTP side of a Telemetree deployment: the config gateway
// clients bootstrap from and the endpoint that accepts encrypted events.
package handler

import (
	"crypto"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"telemetree/sdk/internal/telemetry"
	"telemetree/sdk/internal/telemetry/domain"
)

const (
	ConfigPath = "/v1/client/config"
	EventsPath = "/v1/events"

	maxEnvelopeBytes = 1 << 20
)

// Options configures a Server.
type Options struct {
	ProjectID string
	APIKey    string
	// Config is served as-is from ConfigPath; Host and PublicKey must be set.
	Config domain.RemoteConfig
	// PrivateKey opens envelopes sealed for Config.PublicKey.
	PrivateKey crypto.PrivateKey
	// Health is mounted at /healthz when set.
	Health http.Handler
	Logger *slog.Logger
}

// Server implements the config gateway and event ingestion over HTTP.
type Server struct {
	opts    Options
	emitter EventEmitter
	logger  *slog.Logger
	mux     *http.ServeMux
}

// NewServer returns a Server. emitter may be nil; then accepted events are decrypted and dropped.
func NewServer(opts Options, emitter EventEmitter) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{opts: opts, emitter: emitter, logger: logger, mux: http.NewServeMux()}
	s.mux.HandleFunc("GET "+ConfigPath, s.handleConfig)
	s.mux.HandleFunc("POST "+EventsPath, s.handleEvent)
	if opts.Health != nil {
		s.mux.Handle("GET /healthz", opts.Health)
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleConfig serves the remote config for the configured project to bearer-authenticated clients.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || !s.validKey(token) {
		writeError(w, http.StatusUnauthorized, "invalid api key")
		return
	}
	if r.URL.Query().Get("project") != s.opts.ProjectID {
		writeError(w, http.StatusNotFound, "unknown project")
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Config)
}

// handleEvent opens an envelope and forwards the event. Forwarding is best-effort and
// does not delay the response.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	w.Header().Set("X-Request-Id", requestID)

	if !s.validKey(r.Header.Get("x-api-key")) || r.Header.Get("x-project-id") != s.opts.ProjectID {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxEnvelopeBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}
	if len(raw) > maxEnvelopeBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "envelope too large")
		return
	}
	event, err := telemetry.OpenEvent(s.opts.PrivateKey, raw)
	switch {
	case errors.Is(err, telemetry.ErrMalformedEnvelope):
		writeError(w, http.StatusBadRequest, "body must be {key, iv, body}")
		return
	case errors.Is(err, telemetry.ErrSealedEnvelope):
		s.logger.Warn("telemetry: envelope rejected", "request_id", requestID, "error", err)
		writeError(w, http.StatusBadRequest, "cannot open envelope")
		return
	case err != nil:
		writeError(w, http.StatusUnprocessableEntity, "invalid event")
		return
	}
	s.logger.Debug("telemetry: event accepted", "request_id", requestID, "event", event.EventName)
	telemetry.EmitAsync(s.emitter, r.Context(), event)
	writeJSON(w, http.StatusAccepted, map[string]string{"request_id": requestID})
}

func (s *Server) validKey(key string) bool {
	return s.opts.APIKey != "" && subtle.ConstantTimeCompare([]byte(key), []byte(s.opts.APIKey)) == 1
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
