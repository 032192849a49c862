package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"wardwatch/internal/model"
	"wardwatch/internal/service"
	"wardwatch/internal/upstream"
	"wardwatch/internal/util"
)

// ManageHandler proxies the camera and bed administration pages to the
// upstream registry
type ManageHandler struct {
	manage   *service.ManageService
	auth     *service.AuthService
	upstream *upstream.Client
	logger   *zap.Logger
}

func NewManageHandler(manage *service.ManageService, auth *service.AuthService, client *upstream.Client, logger *zap.Logger) *ManageHandler {
	return &ManageHandler{manage: manage, auth: auth, upstream: client, logger: logger}
}

func (h *ManageHandler) RegisterRoutes(router chi.Router) {
	router.Group(func(r chi.Router) {
		r.Use(SessionAuth(h.auth))

		r.Route("/cctvs", func(r chi.Router) {
			r.Get("/", h.ListCCTVs)
			r.Post("/", h.CreateCCTV)
			r.Delete("/{cctvID}", h.DeleteCCTV)
			r.Get("/{cctvID}/stream", h.CCTVStream)
		})
		r.Route("/beds", func(r chi.Router) {
			r.Get("/", h.ListBeds)
			r.Post("/{bedID}/assign", h.AssignBed)
			r.Post("/{bedID}/auto", h.AutoDetectBed)
		})
	})
}

func (h *ManageHandler) ListCCTVs(w http.ResponseWriter, r *http.Request) {
	skip, _ := strconv.Atoi(r.URL.Query().Get("skip"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	cctvs, err := h.manage.ListCCTVs(r.Context(), h.token(r), skip, limit)
	if err != nil {
		h.respondUpstreamError(w, err, "Failed to list cameras")
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(cctvs, ""))
}

func (h *ManageHandler) CreateCCTV(w http.ResponseWriter, r *http.Request) {
	var req model.CCTVCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if req.Name == "" {
		respondWithError(w, http.StatusBadRequest, errors.New("name is required"), "Invalid request body")
		return
	}

	created, err := h.manage.CreateCCTV(r.Context(), h.token(r), h.actor(r), req)
	if err != nil {
		h.respondUpstreamError(w, err, "Failed to register camera")
		return
	}
	respondWithJSON(w, http.StatusCreated, successResponse(created, "Camera registered"))
}

func (h *ManageHandler) DeleteCCTV(w http.ResponseWriter, r *http.Request) {
	cctvID := chi.URLParam(r, "cctvID")
	if err := h.manage.DeleteCCTV(r.Context(), h.token(r), h.actor(r), cctvID); err != nil {
		h.respondUpstreamError(w, err, "Failed to remove camera")
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(nil, "Camera removed"))
}

// CCTVStream redirects to the upstream's live video endpoint
func (h *ManageHandler) CCTVStream(w http.ResponseWriter, r *http.Request) {
	cctvID := chi.URLParam(r, "cctvID")
	http.Redirect(w, r, h.upstream.StreamURL(cctvID), http.StatusTemporaryRedirect)
}

func (h *ManageHandler) ListBeds(w http.ResponseWriter, r *http.Request) {
	beds, err := h.manage.ListBedMappings(r.Context(), h.token(r))
	if err != nil {
		h.respondUpstreamError(w, err, "Failed to list beds")
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(beds, ""))
}

func (h *ManageHandler) AssignBed(w http.ResponseWriter, r *http.Request) {
	bedID := chi.URLParam(r, "bedID")

	var req model.BedAssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if req.PatientName == "" {
		respondWithError(w, http.StatusBadRequest, errors.New("patient_name is required"), "Invalid request body")
		return
	}

	if err := h.manage.AssignBed(r.Context(), h.token(r), h.actor(r), bedID, req.PatientName); err != nil {
		h.respondUpstreamError(w, err, "Failed to assign bed")
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(nil, "Bed assigned"))
}

func (h *ManageHandler) AutoDetectBed(w http.ResponseWriter, r *http.Request) {
	bedID := chi.URLParam(r, "bedID")
	if err := h.manage.AutoDetectBed(r.Context(), h.token(r), bedID); err != nil {
		h.respondUpstreamError(w, err, "Failed to start bed detection")
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(nil, "Bed detection started"))
}

func (h *ManageHandler) token(r *http.Request) string {
	if session := SessionFromContext(r.Context()); session != nil {
		return session.UpstreamToken
	}
	return ""
}

func (h *ManageHandler) actor(r *http.Request) string {
	if session := SessionFromContext(r.Context()); session != nil {
		return session.Username
	}
	return ""
}

func (h *ManageHandler) respondUpstreamError(w http.ResponseWriter, err error, message string) {
	var httpErr *upstream.HTTPError
	switch {
	case errors.Is(err, upstream.ErrNoCredential), errors.Is(err, upstream.ErrUnauthorized):
		respondWithError(w, http.StatusUnauthorized, err, "Login required")
	case errors.As(err, &httpErr):
		util.Warn("Upstream management call failed",
			zap.Int("status", httpErr.Status),
			zap.String("body", httpErr.Body))
		respondWithError(w, http.StatusBadGateway, err, message)
	default:
		respondWithError(w, http.StatusBadGateway, err, message)
	}
}
