// Package api serves the recorder's operator endpoints while a batch runs.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/okian/benchrec/internal/adapters/repository"
	"github.com/okian/benchrec/internal/domain/types"
)

// Dependencies required by HTTP handlers.
type Dependencies interface {
	StatsProvider
	StandingsDependencies
	ResultDependencies
}

// Standing mirrors the read shape of a ranked result.
type Standing = types.Standing

// Server wires HTTP routes for the operator API.
type Server struct {
	healthHandler    *HealthHandler
	statsHandler     *StatsHandler
	standingsHandler *StandingsHandler
	resultHandler    *ResultHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies) *Server {
	return &Server{
		healthHandler:    NewHealthHandler(),
		statsHandler:     NewStatsHandler(deps),
		standingsHandler: NewStandingsHandler(deps, defaultMaxLimit),
		resultHandler:    NewResultHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.Handle("/metrics", MetricsHandler())
	mux.HandleFunc("/status", MetricsMiddleware(s.statsHandler.HandleStats, "status"))
	mux.HandleFunc("/standings", MetricsMiddleware(s.standingsHandler.HandleGetStandings, "standings"))
	mux.HandleFunc("/results/", MetricsMiddleware(s.resultHandler.HandleGetResult, "results"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}
