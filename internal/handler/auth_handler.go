package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"wardwatch/internal/model"
	"wardwatch/internal/service"
)

// AuthHandler exposes dashboard login and logout
type AuthHandler struct {
	auth       *service.AuthService
	sessionTTL time.Duration
	logger     *zap.Logger
}

func NewAuthHandler(auth *service.AuthService, sessionTTL time.Duration, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, sessionTTL: sessionTTL, logger: logger}
}

func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)
		r.Group(func(r chi.Router) {
			r.Use(SessionAuth(h.auth))
			r.Get("/me", h.Me)
		})
	})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req model.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		respondWithError(w, http.StatusBadRequest, errors.New("username and password are required"), "Invalid request body")
		return
	}

	out, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			respondWithError(w, http.StatusUnauthorized, err, "Login failed")
		case errors.Is(err, service.ErrTooManyAttempts):
			respondWithError(w, http.StatusTooManyRequests, err, "Login temporarily locked")
		default:
			respondWithError(w, http.StatusBadGateway, err, "Login failed")
		}
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    out.SessionID,
		Path:     "/",
		MaxAge:   int(h.sessionTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	respondWithJSON(w, http.StatusOK, successResponse(out, "Logged in"))
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionIDFromRequest(r)
	if sessionID != "" {
		if err := h.auth.Logout(r.Context(), sessionID); err != nil {
			respondWithError(w, http.StatusInternalServerError, err, "Logout failed")
			return
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	respondWithJSON(w, http.StatusOK, successResponse(nil, "Logged out"))
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	session := SessionFromContext(r.Context())
	respondWithJSON(w, http.StatusOK, successResponse(map[string]interface{}{
		"username":   session.Username,
		"created_at": session.CreatedAt,
	}, ""))
}
