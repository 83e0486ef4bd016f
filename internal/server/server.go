// Package server exposes the latest scan and a refresh trigger over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"coinscanner/internal/coordinator"
	"coinscanner/internal/market"
	"coinscanner/internal/observability"
	"coinscanner/internal/report"
)

// Runner triggers runs and holds the latest ready report.
type Runner interface {
	Trigger(ctx context.Context) (*market.Report, error)
	Latest() *market.Report
}

// GainersResponse is the JSON form of a report.
type GainersResponse struct {
	RunID       string       `json:"run_id"`
	FetchedAt   time.Time    `json:"fetched_at"`
	NewsEnabled bool         `json:"news_enabled"`
	Coins       []report.Row `json:"coins"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type handler struct {
	runner Runner
	logger *slog.Logger
}

// New builds the HTTP handler. metrics may be nil, in which case /metrics is not mounted.
func New(runner Runner, metrics *observability.Metrics, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{runner: runner, logger: logger}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(requestLogger(logger))
	router.Use(middleware.Recoverer)

	router.Get("/healthz", h.health)
	if metrics != nil {
		router.Method(http.MethodGet, "/metrics", metrics.Handler())
	}

	router.Route("/api", func(r chi.Router) {
		r.Post("/refresh", h.refresh)
		r.Get("/gainers", h.gainers)
		r.Get("/gainers.csv", h.gainersCSV)
		r.Get("/chart", h.chart)
	})

	return router
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) refresh(w http.ResponseWriter, r *http.Request) {
	rep, err := h.runner.Trigger(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, toResponse(rep))
	case errors.Is(err, coordinator.ErrSuperseded):
		writeError(w, http.StatusConflict, err)
	default:
		h.logger.Warn("refresh failed", "error", err)
		writeError(w, http.StatusBadGateway, err)
	}
}

func (h *handler) gainers(w http.ResponseWriter, r *http.Request) {
	rep, ok := h.latest(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toResponse(rep))
}

func (h *handler) gainersCSV(w http.ResponseWriter, r *http.Request) {
	rep, ok := h.latest(w)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+report.FileName(rep.FetchedAt)+`"`)
	w.WriteHeader(http.StatusOK)
	if err := report.WriteCSV(w, rep); err != nil {
		h.logger.Warn("writing csv response", "error", err)
	}
}

func (h *handler) chart(w http.ResponseWriter, r *http.Request) {
	rep, ok := h.latest(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, report.Chart(rep))
}

func (h *handler) latest(w http.ResponseWriter) (*market.Report, bool) {
	rep := h.runner.Latest()
	if rep == nil {
		writeError(w, http.StatusNotFound, errors.New("no completed run yet"))
		return nil, false
	}
	return rep, true
}

func toResponse(rep *market.Report) GainersResponse {
	return GainersResponse{
		RunID:       rep.RunID,
		FetchedAt:   rep.FetchedAt,
		NewsEnabled: rep.NewsEnabled,
		Coins:       report.Rows(rep),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
