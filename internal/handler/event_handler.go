package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"wardwatch/internal/identity"
	"wardwatch/internal/model"
	"wardwatch/internal/search"
	"wardwatch/internal/service"
	"wardwatch/internal/store"
	"wardwatch/internal/upstream"
	"wardwatch/internal/util"
)

// EventView is an event enriched with the presentation fields the
// dashboard renders directly
type EventView struct {
	model.Event
	Badge        model.BadgeKind `json:"badge"`
	TypeLabel    string          `json:"type_label"`
	CCTVLabel    string          `json:"cctv_label"`
	PatientLabel string          `json:"patient_label"`
}

// EventHandler serves the live ward views: the reconciled event list, the
// stream buffer, the SSE fan-out and the KPI counters.
type EventHandler struct {
	store    *store.Store
	monitor  *service.Monitor
	auth     *service.AuthService
	identity *service.IdentityService
	upstream *upstream.Client
	search   *search.Service
	logger   *zap.Logger
}

func NewEventHandler(st *store.Store, monitor *service.Monitor, auth *service.AuthService, identitySvc *service.IdentityService, client *upstream.Client, searchSvc *search.Service, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		store:    st,
		monitor:  monitor,
		auth:     auth,
		identity: identitySvc,
		upstream: client,
		search:   searchSvc,
		logger:   logger,
	}
}

func (h *EventHandler) RegisterRoutes(router chi.Router) {
	router.Group(func(r chi.Router) {
		r.Use(SessionAuth(h.auth))

		r.Route("/events", func(r chi.Router) {
			// The SSE fan-out is the one route that must outlive a
			// request timeout
			r.Get("/stream", h.StreamEvents)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(30 * time.Second))
				r.Get("/", h.ListEvents)
				r.Get("/recent", h.RecentEvents)
				r.Delete("/recent", h.ClearRecent)
				r.Get("/search", h.SearchEvents)
				r.Get("/{eventID}", h.GetEvent)
				r.Get("/{eventID}/image", h.EventImage)
			})
		})
		r.Get("/stats", h.GetStats)
	})
}

// ListEvents returns the reconciled snapshot with its fetch state. The
// fetch state tells the dashboard apart "empty ward" from "not logged in"
// and "upstream down".
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	mapper := h.mapper(r)
	respondWithJSON(w, http.StatusOK, successResponse(map[string]interface{}{
		"fetch_state":     h.store.FetchState(),
		"events":          h.views(h.store.Events(), mapper),
		"unhandled_count": h.store.UnhandledCount(),
	}, ""))
}

// RecentEvents returns the live stream buffer, newest first
func (h *EventHandler) RecentEvents(w http.ResponseWriter, r *http.Request) {
	mapper := h.mapper(r)
	respondWithJSON(w, http.StatusOK, successResponse(map[string]interface{}{
		"events":    h.views(h.monitor.RecentEvents(), mapper),
		"connected": h.monitor.Connected(),
	}, ""))
}

// ClearRecent empties the live buffer, e.g. when the operator dismisses
// the notification panel
func (h *EventHandler) ClearRecent(w http.ResponseWriter, r *http.Request) {
	h.monitor.ClearRecent()
	respondWithJSON(w, http.StatusOK, successResponse(nil, "Recent events cleared"))
}

// GetEvent returns one event from the reconciled snapshot
func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	for _, ev := range h.store.Events() {
		if ev.ID == eventID {
			mapper := h.mapper(r)
			respondWithJSON(w, http.StatusOK, successResponse(h.view(ev, mapper), ""))
			return
		}
	}
	respondWithError(w, http.StatusNotFound, errors.New("event not found"), "Unknown event id")
}

// EventImage redirects to the upstream's captured frame for the event
func (h *EventHandler) EventImage(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	http.Redirect(w, r, h.upstream.EventImageURL(eventID), http.StatusTemporaryRedirect)
}

// GetStats returns the KPI counters plus the live ingestion status
func (h *EventHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, successResponse(map[string]interface{}{
		"stats":           h.store.Stats(),
		"unhandled_count": h.store.UnhandledCount(),
		"fetch_state":     h.store.FetchState(),
		"connected":       h.monitor.Connected(),
	}, ""))
}

// SearchEvents queries the archive's search index
func (h *EventHandler) SearchEvents(w http.ResponseWriter, r *http.Request) {
	if h.search == nil {
		respondWithError(w, http.StatusServiceUnavailable, errors.New("search is not enabled"), "Search unavailable")
		return
	}

	text := r.URL.Query().Get("q")
	if util.ContainsSuspicious(text) {
		respondWithError(w, http.StatusBadRequest, errors.New("query contains forbidden characters"), "Invalid search query")
		return
	}

	q := search.Query{
		Text:      text,
		EventType: r.URL.Query().Get("event_type"),
		CCTVID:    r.URL.Query().Get("cctv_id"),
	}
	if raw := r.URL.Query().Get("handled"); raw != "" {
		handled, err := strconv.ParseBool(raw)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, err, "Invalid handled filter")
			return
		}
		q.Handled = &handled
	}
	q.From, _ = strconv.Atoi(r.URL.Query().Get("from"))
	q.Size, _ = strconv.Atoi(r.URL.Query().Get("size"))

	result, err := h.search.Search(r.Context(), q)
	if err != nil {
		respondWithError(w, http.StatusBadGateway, err, "Search failed")
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(result, ""))
}

// StreamEvents fans the store's change feed out to the browser over SSE.
// Slow consumers miss changes instead of stalling ingestion; the dashboard
// re-syncs from ListEvents on the next poll anyway.
func (h *EventHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondWithError(w, http.StatusInternalServerError, errors.New("streaming unsupported"), "Streaming unsupported")
		return
	}

	changes, cancel := h.store.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	mapper := h.mapper(r)
	util.Debug("SSE subscriber attached", zap.String("remote_addr", r.RemoteAddr))

	for {
		select {
		case <-r.Context().Done():
			return
		case change, open := <-changes:
			if !open {
				return
			}
			h.writeChange(w, change, mapper)
			flusher.Flush()
		}
	}
}

func (h *EventHandler) writeChange(w http.ResponseWriter, change store.Change, mapper *identity.Mapper) {
	switch change.Kind {
	case store.ChangeEvent:
		if change.Event == nil {
			return
		}
		view := h.view(*change.Event, mapper)
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", change.Kind, mustJSON(view))
	default:
		fmt.Fprintf(w, "event: %s\ndata: {}\n\n", change.Kind)
	}
}

func (h *EventHandler) mapper(r *http.Request) *identity.Mapper {
	token := ""
	if session := SessionFromContext(r.Context()); session != nil {
		token = session.UpstreamToken
	}
	return h.identity.Mapper(r.Context(), token)
}

func (h *EventHandler) view(ev model.Event, mapper *identity.Mapper) EventView {
	badge, label := model.Classify(ev)
	return EventView{
		Event:        ev,
		Badge:        badge,
		TypeLabel:    label,
		CCTVLabel:    mapper.DeviceLabel(ev.CCTVID),
		PatientLabel: mapper.PatientLabel(ev.CCTVID, ev.BedID),
	}
}

func (h *EventHandler) views(events []model.Event, mapper *identity.Mapper) []EventView {
	out := make([]EventView, 0, len(events))
	for _, ev := range events {
		out = append(out, h.view(ev, mapper))
	}
	return out
}
