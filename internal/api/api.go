// Package api exposes the tracking session over HTTP: the live board, trip
// selection, route listing, clock control and the stop passage journal.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"bus-tracker/internal/clock"
	"bus-tracker/internal/db"
	"bus-tracker/internal/gtfs"
	"bus-tracker/internal/paging"
	"bus-tracker/internal/settings"
	"bus-tracker/internal/tracker"
)

// TripSource is the part of the transit API client the handlers use.
type TripSource interface {
	Routes(ctx context.Context, operatorID string, query url.Values) paging.Result[gtfs.Route]
	Trips(ctx context.Context, routeID string, query url.Values) paging.Result[gtfs.Trip]
	Trip(ctx context.Context, routeID, tripID string) paging.Result[gtfs.Trip]
}

// Tracker is satisfied by *tracker.Session.
type Tracker interface {
	Start(ctx context.Context, trip gtfs.Trip) (tracker.Summary, error)
	End(ctx context.Context) error
	Board() (tracker.Board, bool)
	Active() (tracker.Summary, bool)
	Clock() *clock.SimClock
	SetStopDelay(d time.Duration)
}

// PassageLog is satisfied by *db.Journal.
type PassageLog interface {
	RecentPassages(ctx context.Context, sessionID string, limit int) ([]db.Passage, error)
}

type Options struct {
	Source   TripSource
	Tracker  Tracker
	Passages PassageLog // nil when the journal is disabled

	Settings     settings.Settings
	SettingsFile string // empty disables saving

	Metrics        http.Handler // mounted on /metrics when set
	AllowedOrigins []string
}

type Handler struct {
	source       TripSource
	tracker      Tracker
	passages     PassageLog
	settingsFile string

	mu       sync.RWMutex
	settings settings.Settings
}

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

func NewRouter(opts Options) http.Handler {
	h := &Handler{
		source:       opts.Source,
		tracker:      opts.Tracker,
		passages:     opts.Passages,
		settingsFile: opts.SettingsFile,
		settings:     opts.Settings,
	}

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/board", h.GetBoard)
		r.Get("/trip", h.GetActiveTrip)
		r.Post("/trips", h.StartTrip)
		r.Delete("/trips/active", h.EndTrip)
		r.Get("/routes", h.GetRoutes)
		r.Get("/routes/{routeId}/trips", h.GetRouteTrips)
		r.Get("/clock", h.GetClock)
		r.Post("/clock/sync", h.SyncClock)
		r.Get("/passages", h.GetPassages)
		r.Get("/settings", h.GetSettings)
		r.Put("/settings", h.PutSettings)
	})

	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}
	return r
}

// RequestLogger is a middleware to log HTTP requests.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Str("ip", r.RemoteAddr).
			Dur("duration", time.Since(start)).
			Msg("Request processed")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string, details map[string]any) {
	writeJSON(w, status, ErrorResponse{Error: msg, Details: details})
}

// upstreamError reports a failed transit API call.
func upstreamError(w http.ResponseWriter, status int, message string) {
	writeError(w, http.StatusBadGateway, "transit API request failed", map[string]any{
		"status":  status,
		"message": message,
	})
}
