package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/froggu-tantei/apigateway/gateway"
	"github.com/froggu-tantei/apigateway/middleware"
	"github.com/froggu-tantei/apigateway/models"
)

// RequestHandler serves GET /request/{service}, the core proxied-request
// endpoint (spec.md §4.6). The caller's principal comes from the JWT;
// an optional X-Client-ID header lets load simulation identify itself
// with a surrogate id instead (spec.md §4.6 step 2).
func (cfg *APIConfig) RequestHandler(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		RespondWithJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Unauthorized"))
		return
	}

	service := chi.URLParam(r, "service")
	clientHeader := r.Header.Get("X-Client-ID")

	status, body, err := cfg.Pipeline.Proxy(r.Context(), service, clientHeader, claims.Principal)
	switch {
	case err == gateway.ErrRateLimited:
		RespondWithJSON(w, http.StatusTooManyRequests, models.NewErrorResponse("Rate limit exceeded"))
		return
	case err != nil:
		if _, ok := err.(gateway.ErrUnknownService); ok {
			RespondWithJSON(w, http.StatusBadRequest, models.NewErrorResponse("Unknown service"))
			return
		}
		RespondWithJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Upstream request failed"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}
