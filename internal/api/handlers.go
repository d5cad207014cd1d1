package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"bus-tracker/internal/db"
	"bus-tracker/internal/gtfs"
	"bus-tracker/internal/settings"
	"bus-tracker/internal/tracker"
	"bus-tracker/internal/transitland"
)

// GetBoard handles GET /api/board
func (h *Handler) GetBoard(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.tracker.Active(); !ok {
		writeError(w, http.StatusNotFound, tracker.ErrNoActiveTrip.Error(), nil)
		return
	}
	b, ok := h.tracker.Board()
	if !ok {
		writeError(w, http.StatusNotFound, "waiting for the first position fix", nil)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, b)
}

// GetActiveTrip handles GET /api/trip
func (h *Handler) GetActiveTrip(w http.ResponseWriter, r *http.Request) {
	sum, ok := h.tracker.Active()
	if !ok {
		writeError(w, http.StatusNotFound, tracker.ErrNoActiveTrip.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

type startTripRequest struct {
	RouteID string `json:"routeId"`
	TripID  string `json:"tripId"`
}

// StartTrip handles POST /api/trips
func (h *Handler) StartTrip(w http.ResponseWriter, r *http.Request) {
	var req startTripRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", nil)
		return
	}
	req.RouteID = strings.TrimSpace(req.RouteID)
	req.TripID = strings.TrimSpace(req.TripID)
	if req.RouteID == "" || req.TripID == "" {
		writeError(w, http.StatusBadRequest, "routeId and tripId are required", nil)
		return
	}

	res := h.source.Trip(r.Context(), req.RouteID, req.TripID)
	if !res.OK {
		upstreamError(w, res.Status, res.Message)
		return
	}
	if len(res.Items) == 0 {
		writeError(w, http.StatusNotFound, "trip not found", map[string]any{"routeId": req.RouteID, "tripId": req.TripID})
		return
	}
	trip := res.Items[0]
	if trip.Route == nil {
		trip.Route = &gtfs.Route{OnestopID: req.RouteID}
	}

	sum, err := h.tracker.Start(r.Context(), trip)
	switch {
	case errors.Is(err, tracker.ErrNoStops), errors.Is(err, tracker.ErrNoPath):
		writeError(w, http.StatusUnprocessableEntity, err.Error(), nil)
		return
	case err != nil:
		log.Error().Err(err).Str("trip", req.TripID).Msg("start trip failed")
		writeError(w, http.StatusServiceUnavailable, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusCreated, sum)
}

// EndTrip handles DELETE /api/trips/active
func (h *Handler) EndTrip(w http.ResponseWriter, r *http.Request) {
	if err := h.tracker.End(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error(), nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type routesResponse struct {
	Routes []gtfs.Route `json:"routes"`
	Count  int          `json:"count"`
}

// GetRoutes handles GET /api/routes, applying the destination filter.
func (h *Handler) GetRoutes(w http.ResponseWriter, r *http.Request) {
	s := h.currentSettings()
	if s.OperatorID == "" {
		writeError(w, http.StatusBadRequest, "no operator configured", nil)
		return
	}
	res := h.source.Routes(r.Context(), s.OperatorID, nil)
	if !res.OK {
		upstreamError(w, res.Status, res.Message)
		return
	}
	routes := transitland.FilterRoutesByDestination(res.Items, s.Destinations())
	if routes == nil {
		routes = []gtfs.Route{}
	}
	writeJSON(w, http.StatusOK, routesResponse{Routes: routes, Count: len(routes)})
}

type tripsResponse struct {
	Trips []gtfs.Trip `json:"trips"`
	Count int         `json:"count"`
}

// GetRouteTrips handles GET /api/routes/{routeId}/trips
func (h *Handler) GetRouteTrips(w http.ResponseWriter, r *http.Request) {
	routeID := chi.URLParam(r, "routeId")
	res := h.source.Trips(r.Context(), routeID, r.URL.Query())
	if !res.OK {
		upstreamError(w, res.Status, res.Message)
		return
	}
	trips := res.Items
	if trips == nil {
		trips = []gtfs.Trip{}
	}
	writeJSON(w, http.StatusOK, tripsResponse{Trips: trips, Count: len(trips)})
}

type clockResponse struct {
	Now           time.Time `json:"now"`
	OffsetSeconds float64   `json:"offsetSeconds"`
}

func (h *Handler) clockState() clockResponse {
	c := h.tracker.Clock()
	return clockResponse{Now: c.Now(), OffsetSeconds: c.Offset().Seconds()}
}

// GetClock handles GET /api/clock
func (h *Handler) GetClock(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.clockState())
}

type syncClockRequest struct {
	SimulatedStart string `json:"simulatedStart"`
}

// SyncClock handles POST /api/clock/sync. simulatedStart is RFC 3339 or a
// time of day (HH:MM[:SS]) on the clock's current day.
func (h *Handler) SyncClock(w http.ResponseWriter, r *http.Request) {
	var req syncClockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", nil)
		return
	}
	c := h.tracker.Clock()
	sim, err := ParseSimulatedStart(req.SimulatedStart, c.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	c.SyncNow(sim)
	log.Info().Time("simulated_start", sim).Msg("clock synced")
	writeJSON(w, http.StatusOK, h.clockState())
}

// ParseSimulatedStart accepts RFC 3339 or HH:MM[:SS] placed on the day of ref.
func ParseSimulatedStart(v string, ref time.Time) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("simulatedStart is required")
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	if sec, ok := gtfs.ParseDaySeconds(v); ok {
		return gtfs.ServiceTime(ref, sec), nil
	}
	return time.Time{}, errors.New("simulatedStart must be RFC 3339 or HH:MM[:SS]")
}

type passagesResponse struct {
	SessionID string       `json:"sessionId"`
	Passages  []db.Passage `json:"passages"`
}

// GetPassages handles GET /api/passages?limit=N for the active session.
func (h *Handler) GetPassages(w http.ResponseWriter, r *http.Request) {
	if h.passages == nil {
		writeError(w, http.StatusNotFound, "journal disabled", nil)
		return
	}
	sum, ok := h.tracker.Active()
	if !ok {
		writeError(w, http.StatusNotFound, tracker.ErrNoActiveTrip.Error(), nil)
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", nil)
			return
		}
		limit = n
	}
	ps, err := h.passages.RecentPassages(r.Context(), sum.SessionID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read journal", map[string]any{"internal": err.Error()})
		return
	}
	if ps == nil {
		ps = []db.Passage{}
	}
	writeJSON(w, http.StatusOK, passagesResponse{SessionID: sum.SessionID, Passages: ps})
}

func (h *Handler) currentSettings() settings.Settings {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.settings
}

// GetSettings handles GET /api/settings. The API key is masked.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s := h.currentSettings()
	s.APIKey = maskKey(s.APIKey)
	writeJSON(w, http.StatusOK, s)
}

// PutSettings handles PUT /api/settings. Operator, destination filter and
// stop delay apply at once; a new API key is used after a process restart.
func (h *Handler) PutSettings(w http.ResponseWriter, r *http.Request) {
	if h.settingsFile == "" {
		writeError(w, http.StatusNotFound, "settings file not configured", nil)
		return
	}
	var in settings.Settings
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if in.APIKey == "" || in.APIKey == maskKey(h.settings.APIKey) {
		in.APIKey = h.settings.APIKey
	}
	if err := in.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid settings", map[string]any{"validation": err.Error()})
		return
	}
	if err := settings.Save(h.settingsFile, in); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save settings", map[string]any{"internal": err.Error()})
		return
	}
	h.settings = in
	h.tracker.SetStopDelay(in.StopDelay())
	in.APIKey = maskKey(in.APIKey)
	writeJSON(w, http.StatusOK, in)
}

func maskKey(k string) string {
	if len(k) <= 4 {
		return strings.Repeat("*", len(k))
	}
	return strings.Repeat("*", len(k)-4) + k[len(k)-4:]
}
