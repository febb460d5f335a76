package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// HealthFunc reports the service's current health and a detail payload for
// the response body.
type HealthFunc func() (healthy bool, detail interface{})

// Server is the per-service operational HTTP listener: /healthz and
// /metrics. It carries no domain endpoints.
type Server struct {
	srv *http.Server
}

// NewServer builds the ops listener.
func NewServer(listen string, health HealthFunc) *Server {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		healthy, detail := health()
		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"healthy": healthy,
			"detail":  detail,
		})
	}).Methods(http.MethodGet)

	return &Server{
		srv: &http.Server{
			Addr:         listen,
			Handler:      r,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Start serves until Shutdown. Blocking.
func (s *Server) Start() error {
	log.Info().Str("listen", s.srv.Addr).Msg("ops listener started")
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
