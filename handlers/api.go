package handlers

import (
	"net/http"

	"github.com/froggu-tantei/apigateway/account"
	"github.com/froggu-tantei/apigateway/gateway"
	"github.com/froggu-tantei/apigateway/metrics"
)

// APIConfig holds the dependencies every handler needs.
type APIConfig struct {
	Account  *account.Service
	Pipeline *gateway.Pipeline
	Metrics  *metrics.Reader
}

// NewAPIConfig creates a new APIConfig.
func NewAPIConfig(acct *account.Service, pipeline *gateway.Pipeline, metricsReader *metrics.Reader) *APIConfig {
	return &APIConfig{
		Account:  acct,
		Pipeline: pipeline,
		Metrics:  metricsReader,
	}
}

// RootHandler handles requests to the root path.
func (cfg *APIConfig) RootHandler(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, map[string]string{
		"name":    "API Gateway",
		"version": "1.0.0",
		"status":  "running",
	})
}

// ReadinessHandler handles the readiness check endpoint.
func (cfg *APIConfig) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
	}{Status: "ok"})
}

// HealthzHandler handles the health check endpoint.
func (cfg *APIConfig) HealthzHandler(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
	}{Status: "ok"})
}

// ErrorHandler is a simple handler that always returns an error.
func (cfg *APIConfig) ErrorHandler(w http.ResponseWriter, r *http.Request) {
	RespondWithError(w, http.StatusInternalServerError, "Internal Server Error")
}
