// Package controlapi implements the administrative HTTP surface from
// spec.md §4.6: GET /health gated by heartbeat freshness, POST
// /control/drain, POST /control/shutdown, and POST /process/productinstance
// and /process/datainstance to inject local events. Grounded in the
// teacher's pkg/metrics/health.go and pkg/health/http.go, both built
// directly on net/http.HandlerFunc with no router library — this module
// follows the same shape (see SPEC_FULL.md §4.6).
package controlapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cuemby/relay/pkg/eventloop"
	"github.com/cuemby/relay/pkg/log"
	"github.com/cuemby/relay/pkg/relayerr"
)

// Loop is the narrow slice of *eventloop.Loop the control API depends on.
type Loop interface {
	Healthy() bool
	RequestDrain()
	RequestShutdown()
	RequestProcess(req eventloop.ProcessRequest)
}

// Server wires the control API's handlers onto a *http.ServeMux.
type Server struct {
	loop Loop
	mux  *http.ServeMux
}

// New builds a Server delegating to loop.
func New(loop Loop) *Server {
	s := &Server{loop: loop, mux: http.NewServeMux()}
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/control/drain", s.handleDrain)
	s.mux.HandleFunc("/control/shutdown", s.handleShutdown)
	s.mux.HandleFunc("/process/productinstance", s.handleProcessProductInstance)
	s.mux.HandleFunc("/process/datainstance", s.handleProcessDataInstance)
	return s
}

// ServeHTTP satisfies http.Handler, so a Server can be mounted directly
// with http.ListenAndServe or nested under another mux.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth returns 200 if the loop has produced a heartbeat within
// Interval+Timeout of now (spec.md §4.6), 503 otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if !s.loop.Healthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy"})
		return
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.loop.RequestDrain()
	log.Logger.Info().Msg("control API: drain requested")
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.loop.RequestShutdown()
	log.Logger.Info().Msg("control API: shutdown requested")
	w.WriteHeader(http.StatusOK)
}

// processRequest is the JSON body shape for both /process/* endpoints
// (spec.md §4.6 "All bodies are JSON").
type processRequest struct {
	UUID    string `json:"uuid"`
	Adapter string `json:"adapter"`
}

func (s *Server) handleProcessProductInstance(w http.ResponseWriter, r *http.Request) {
	s.handleProcess(w, r, "productinstance")
}

func (s *Server) handleProcessDataInstance(w http.ResponseWriter, r *http.Request) {
	s.handleProcess(w, r, "datainstance")
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request, kind string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body processRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if body.UUID == "" || body.Adapter == "" {
		http.Error(w, "uuid and adapter are required", http.StatusBadRequest)
		return
	}

	result := make(chan error, 1)
	s.loop.RequestProcess(eventloop.ProcessRequest{
		Kind:    kind,
		UUID:    body.UUID,
		Adapter: body.Adapter,
		Result:  result,
	})

	if err := <-result; err != nil {
		writeProcessError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// writeProcessError maps a process-request failure onto the status codes
// spec.md §4.6 names: unknown adapter -> 400, catalogue unavailable -> 503,
// anything else -> 400 (malformed/invalid event).
func writeProcessError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	if isRetryable(err) {
		status = http.StatusServiceUnavailable
	}
	http.Error(w, err.Error(), status)
}

func isRetryable(err error) bool {
	var r *relayerr.Retryable
	return errors.As(err, &r)
}
