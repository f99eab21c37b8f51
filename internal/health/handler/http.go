// Package handler serves readiness for the ingest server.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

const pingTimeout = 2 * time.Second

// Pinger reports whether a dependency is reachable (e.g. the Redis identity store).
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server reports SERVING when every configured dependency answers a ping.
type Server struct {
	pingers map[string]Pinger
}

// NewServer returns a health Server checking pingers by name. Nil pingers are skipped.
func NewServer(pingers map[string]Pinger) *Server {
	p := make(map[string]Pinger, len(pingers))
	for name, pinger := range pingers {
		if pinger != nil {
			p[name] = pinger
		}
	}
	return &Server{pingers: p}
}

type response struct {
	Status string            `json:"status"`
	Errors map[string]string `json:"errors,omitempty"`
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	resp := response{Status: "SERVING"}
	for name, p := range s.pingers {
		if err := p.Ping(ctx); err != nil {
			slog.Warn("health: dependency unreachable", "dependency", name, "error", err)
			if resp.Errors == nil {
				resp.Errors = make(map[string]string)
			}
			resp.Errors[name] = err.Error()
		}
	}
	status := http.StatusOK
	if len(resp.Errors) > 0 {
		resp.Status = "NOT_SERVING"
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
