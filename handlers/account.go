package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/froggu-tantei/apigateway/account"
	"github.com/froggu-tantei/apigateway/middleware"
	"github.com/froggu-tantei/apigateway/models"
)

// SignupHandler registers a new account (SPEC_FULL.md §6.1 POST /register).
func (cfg *APIConfig) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondWithJSON(w, http.StatusBadRequest, models.NewErrorResponse("Invalid request format"))
		return
	}

	if req.Username == "" || req.Password == "" {
		RespondWithJSON(w, http.StatusBadRequest, models.NewErrorResponse("Username and password are required"))
		return
	}
	if len(req.Password) < 6 {
		RespondWithJSON(w, http.StatusBadRequest, models.NewErrorResponse("Password must be at least 6 characters"))
		return
	}

	err := cfg.Account.Register(r.Context(), req.Username, req.Password)
	if _, ok := err.(account.ErrUserExists); ok {
		RespondWithJSON(w, http.StatusConflict, models.NewErrorResponse("Username already taken"))
		return
	}
	if err != nil {
		RespondWithJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Error creating account"))
		return
	}

	RespondWithJSON(w, http.StatusCreated, models.NewSuccessResponse(map[string]string{
		"message": "account created",
	}))
}

// LoginHandler authenticates a username/password pair and mints a JWT
// (SPEC_FULL.md §6.1 POST /login).
func (cfg *APIConfig) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondWithJSON(w, http.StatusBadRequest, models.NewErrorResponse("Invalid request format"))
		return
	}

	if req.Username == "" || req.Password == "" {
		RespondWithJSON(w, http.StatusBadRequest, models.NewErrorResponse("Username and password are required"))
		return
	}

	token, err := cfg.Account.Login(r.Context(), req.Username, req.Password)
	if err == account.ErrInvalidCredentials {
		RespondWithJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Invalid username or password"))
		return
	}
	if err != nil {
		RespondWithJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Error authenticating"))
		return
	}

	RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse(models.LoginResponse{AccessToken: token}))
}

// GetMeHandler returns the authenticated principal's username and plan.
func (cfg *APIConfig) GetMeHandler(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		RespondWithJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Unauthorized"))
		return
	}

	plan, err := cfg.Account.Plan(r.Context(), claims.Principal)
	if err != nil {
		RespondWithJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Error reading account"))
		return
	}

	RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse(models.AccountResponse{
		Username: claims.Username,
		Plan:     plan,
	}))
}

// SetPlanHandler changes the authenticated principal's plan assignment
// (the out-of-scope-for-core, in-scope-for-the-collaborator plan-change
// endpoint spec.md §3's UserPlanAssignment references).
func (cfg *APIConfig) SetPlanHandler(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		RespondWithJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Unauthorized"))
		return
	}

	plan := chi.URLParam(r, "plan")
	if err := cfg.Account.SetPlan(r.Context(), claims.Principal, plan); err != nil {
		RespondWithJSON(w, http.StatusBadRequest, models.NewErrorResponse("Unknown plan"))
		return
	}

	RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse(map[string]string{"plan": plan}))
}
