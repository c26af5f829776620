package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"tenderscope/internal/services"
)

// RunLister is the part of the scoring service the metrics summary needs.
type RunLister interface {
	ListRuns(ctx context.Context) []services.RunSummary
}

// MetricsHandler serves the Prometheus exposition and a JSON summary of the
// runs held in memory.
type MetricsHandler struct {
	prometheus http.Handler
	runs       RunLister
}

// NewMetricsHandler creates a new metrics handler. prometheus may be nil when
// the metric exporter is disabled.
func NewMetricsHandler(prometheus http.Handler, runs RunLister) *MetricsHandler {
	return &MetricsHandler{prometheus: prometheus, runs: runs}
}

// Routes sets up the metrics routes
func (h *MetricsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.GetMetrics)
	r.Get("/summary", h.GetSummary)
	return r
}

// GetMetrics serves the Prometheus text format
func (h *MetricsHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	if h.prometheus == nil {
		http.Error(w, "metrics exporter disabled", http.StatusNotFound)
		return
	}
	h.prometheus.ServeHTTP(w, r)
}

// GetSummary returns counts over the stored runs
func (h *MetricsHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	runs := h.runs.ListRuns(r.Context())
	items, anomalies, degraded := 0, 0, 0
	for _, run := range runs {
		items += run.Items
		anomalies += run.Anomalies
		if !run.ModelAvailable {
			degraded++
		}
	}
	render.JSON(w, r, map[string]interface{}{
		"status": "ok",
		"metrics": map[string]interface{}{
			"runs":              len(runs),
			"items":             items,
			"anomalies":         anomalies,
			"model_unavailable": degraded,
		},
	})
}
