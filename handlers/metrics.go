package handlers

import (
	"net/http"

	"github.com/froggu-tantei/apigateway/models"
)

// MetricsHandler serves GET /metrics: the aggregated report from C9.
func (cfg *APIConfig) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	report, err := cfg.Metrics.Read(r.Context())
	if err != nil {
		RespondWithJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Error reading metrics"))
		return
	}
	RespondWithJSON(w, http.StatusOK, report)
}

// ClearMetricsHandler serves POST /metrics/clear: resets every tracked
// counter to zero (P6: idempotent across consecutive clears).
func (cfg *APIConfig) ClearMetricsHandler(w http.ResponseWriter, r *http.Request) {
	if err := cfg.Metrics.Clear(r.Context()); err != nil {
		RespondWithJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Error clearing metrics"))
		return
	}
	RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse(map[string]string{"message": "metrics cleared"}))
}
