package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"bus-tracker/internal/gtfs"
	"bus-tracker/internal/tracker"
)

type Collector struct {
	reg *prometheus.Registry

	PagesFetched  *prometheus.CounterVec // status label: 2xx|4xx|5xx|transport
	FetchDuration prometheus.Histogram

	FixesReceived *prometheus.CounterVec // source label: nats|gtfsrt|replay
	FixesDropped  *prometheus.CounterVec // reason label: decode|stale|filtered

	TripsStarted     prometheus.Counter
	StopsPassed      prometheus.Counter
	BoardsPublished  prometheus.Counter
	RemainingStops   prometheus.Gauge
	DistanceToNext   prometheus.Gauge // metres
	CorrelationTime  prometheus.Histogram
	JournalWriteErrs prometheus.Counter

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram

	SpeedMultiplier prometheus.Gauge
	StopDelay       prometheus.Gauge // seconds
}

func NewCollector(speedMultiplier float64, stopDelay time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		PagesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_api_pages_fetched_total",
			Help: "Transit API pages fetched, by status class.",
		}, []string{"status"}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_api_fetch_duration_seconds",
			Help:    "Duration of a single transit API page request.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		FixesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_fixes_received_total",
			Help: "Position fixes delivered to the tracking session.",
		}, []string{"source"}),
		FixesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_fixes_dropped_total",
			Help: "Position fixes discarded before reaching the session.",
		}, []string{"reason"}),
		TripsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_trips_started_total",
			Help: "Total trips started.",
		}),
		StopsPassed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_stops_passed_total",
			Help: "Total stops passed.",
		}),
		BoardsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_boards_built_total",
			Help: "Total display boards built.",
		}),
		RemainingStops: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_remaining_stops",
			Help: "Stops left on the active trip.",
		}),
		DistanceToNext: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_distance_to_next_stop_meters",
			Help: "Distance from the last fix to the next stop.",
		}),
		CorrelationTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_correlation_duration_seconds",
			Help:    "Time spent correlating stops to the trip path.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 15),
		}),
		JournalWriteErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_journal_write_errors_total",
			Help: "Failed journal inserts.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		SpeedMultiplier: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_speed_multiplier",
			Help: "Replay speed multiplier.",
		}),
		StopDelay: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_stop_delay_seconds",
			Help: "Delay added to every scheduled departure.",
		}),
	}

	// Register
	reg.MustRegister(
		c.PagesFetched, c.FetchDuration,
		c.FixesReceived, c.FixesDropped,
		c.TripsStarted, c.StopsPassed, c.BoardsPublished,
		c.RemainingStops, c.DistanceToNext, c.CorrelationTime, c.JournalWriteErrs,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
		c.SpeedMultiplier, c.StopDelay,
	)

	c.SpeedMultiplier.Set(speedMultiplier)
	c.StopDelay.Set(stopDelay.Seconds())

	return c
}

// PageFetched records one transit API request.
func (c *Collector) PageFetched(status int, d time.Duration) {
	c.PagesFetched.WithLabelValues(statusClass(status)).Inc()
	c.FetchDuration.Observe(d.Seconds())
}

func statusClass(status int) string {
	if status < 100 {
		return "transport"
	}
	return strconv.Itoa(status/100) + "xx"
}

func (c *Collector) FixReceived(source string) { c.FixesReceived.WithLabelValues(source).Inc() }

func (c *Collector) FixDropped(reason string) { c.FixesDropped.WithLabelValues(reason).Inc() }

func (c *Collector) JournalWriteFailed() { c.JournalWriteErrs.Inc() }

func (c *Collector) TripStarted(_ context.Context, sum tracker.Summary) {
	c.TripsStarted.Inc()
	c.RemainingStops.Set(float64(sum.Stops))
	c.CorrelationTime.Observe(sum.CorrelationTime.Seconds())
}

func (c *Collector) StopPassed(context.Context, tracker.Summary, gtfs.ScheduledStop, gtfs.PositionFix, float64) {
	c.StopsPassed.Inc()
}

func (c *Collector) BoardUpdated(_ context.Context, b tracker.Board) {
	c.BoardsPublished.Inc()
	c.RemainingStops.Set(float64(b.RemainingStops))
	c.DistanceToNext.Set(b.DistanceToNextStop)
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server error")
		}
	}()
	log.Info().Str("addr", addr).Msg("metrics listening")
	return srv
}
