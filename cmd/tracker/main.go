package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog/log"

	"bus-tracker/internal/api"
	"bus-tracker/internal/clock"
	"bus-tracker/internal/config"
	"bus-tracker/internal/db"
	"bus-tracker/internal/gtfs"
	"bus-tracker/internal/logger"
	"bus-tracker/internal/metrics"
	"bus-tracker/internal/publisher"
	"bus-tracker/internal/sensor"
	"bus-tracker/internal/tracker"
	"bus-tracker/internal/transitland"
)

type Options struct {
	Logger logger.Logger `group:"Logger options"`

	RouteID        string `short:"r" long:"route"           env:"ROUTE_ID"        description:"Route onestop id of the trip to track at startup"`
	TripID         string `short:"t" long:"trip"            env:"TRIP_ID"         description:"Trip id to track at startup"`
	SimulatedStart string `short:"s" long:"simulated-start" env:"SIMULATED_START" description:"Start the clock at this time (RFC 3339 or HH:MM[:SS])"`
}

func main() {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	// Setup Logging
	opts.Logger.Setup()

	// Load configuration from .env, settings file and environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config error")
	}
	if (opts.RouteID == "") != (opts.TripID == "") {
		log.Fatal().Msg("--route and --trip must be given together")
	}
	if cfg.Sensor == config.SensorReplay && opts.TripID == "" {
		log.Fatal().Msg("SENSOR=replay needs --route and --trip")
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	loc := cfg.Location
	clk := clock.NewWithSource(func() time.Time { return time.Now().In(loc) })
	if opts.SimulatedStart != "" {
		sim, err := api.ParseSimulatedStart(opts.SimulatedStart, clk.Now())
		if err != nil {
			log.Fatal().Err(err).Msg("invalid --simulated-start")
		}
		clk.SyncNow(sim)
		log.Info().Time("simulated_start", sim).Msg("clock synced")
	}

	mcol := metrics.NewCollector(cfg.SpeedMultiplier, cfg.Settings.StopDelay())
	if cfg.MetricsAddr != "" {
		srv := mcol.Serve(cfg.MetricsAddr)
		defer shutdown(srv)
	}

	client := transitland.NewClient(transitland.NewHTTPTransport(cfg.APIBaseURL, cfg.Settings.APIKey, cfg.HTTPTimeout, mcol))
	if res := client.Operator(ctx, cfg.Settings.OperatorID); !res.OK {
		log.Warn().Int("status", res.Status).Str("message", res.Message).Str("operator", cfg.Settings.OperatorID).Msg("operator lookup failed")
	} else if len(res.Items) > 0 {
		log.Info().Str("operator", res.Items[0].OnestopID).Str("name", res.Items[0].Name).Msg("operator resolved")
	}

	sinks := []tracker.Sink{mcol}

	// Journal
	journal, closeJournal, err := openJournal(ctx, cfg, mcol)
	if err != nil {
		log.Fatal().Err(err).Msg("journal error")
	}
	defer closeJournal()
	if journal != nil {
		sinks = append(sinks, journal)
	}

	// NATS: position feed and display boards
	pm := wrapPublisherMetrics(mcol)
	nc, err := publisher.Connect(cfg.NATSURL, pm)
	switch {
	case err != nil && cfg.Sensor == config.SensorNATS:
		log.Fatal().Err(err).Str("url", cfg.NATSURL).Msg("nats error")
	case err != nil:
		log.Warn().Err(err).Str("url", cfg.NATSURL).Msg("nats unavailable, boards will not be published")
	default:
		defer nc.Drain()
		sinks = append(sinks, publisher.NewNATSPublisher(nc, cfg.DisplaySubjectPrefix, cfg.LogNATSSubjects, pm))
	}

	session := tracker.NewSession(tracker.Options{
		Mode:      cfg.CorrelationMode,
		StopDelay: cfg.Settings.StopDelay(),
		Clock:     clk,
		Sinks:     sinks,
	})
	fixes := make(chan gtfs.PositionFix, 16)
	sessionDone := make(chan error, 1)
	go func() { sessionDone <- session.Run(ctx, fixes) }()

	var trip gtfs.Trip
	if opts.TripID != "" {
		trip, err = fetchTrip(ctx, client, opts.RouteID, opts.TripID)
		if err != nil {
			log.Fatal().Err(err).Msg("load trip")
		}
		if _, err := session.Start(ctx, trip); err != nil {
			log.Fatal().Err(err).Str("trip", opts.TripID).Msg("start trip")
		}
	}

	// Location sensor
	var src sensor.Source
	switch cfg.Sensor {
	case config.SensorNATS:
		src = sensor.NewNATSSource(nc, cfg.PositionSubject, mcol)
	case config.SensorGTFSRT:
		activeTrip := func() (string, bool) {
			sum, ok := session.Active()
			return sum.TripID, ok
		}
		src = sensor.NewGTFSRTPoller(cfg.VehiclePositionsURL, &http.Client{Timeout: cfg.HTTPTimeout}, cfg.PollInterval, cfg.VehicleID, activeTrip, mcol)
	case config.SensorReplay:
		src, err = sensor.NewReplay(trip, clk, cfg.PollInterval, cfg.SpeedMultiplier, mcol)
		if err != nil {
			log.Fatal().Err(err).Msg("replay sensor")
		}
	}
	go func() {
		if err := src.Run(ctx, fixes); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Str("sensor", cfg.Sensor).Msg("sensor stopped")
		}
	}()

	// HTTP API
	apiSrv := &http.Server{
		Addr: cfg.APIAddr,
		Handler: api.NewRouter(api.Options{
			Source:       client,
			Tracker:      session,
			Passages:     passageLog(journal),
			Settings:     cfg.Settings,
			SettingsFile: cfg.SettingsFile,
			Metrics:      mcol.Handler(),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("api server error")
			cancel()
		}
	}()
	log.Info().Str("addr", cfg.APIAddr).Str("sensor", cfg.Sensor).Msg("tracker started")

	// Block until context cancelled
	<-ctx.Done()
	shutdown(apiSrv)
	if err := <-sessionDone; err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("session stopped")
	}
	log.Info().Msg("shutdown complete")
}

func fetchTrip(ctx context.Context, client *transitland.Client, routeID, tripID string) (gtfs.Trip, error) {
	res := client.Trip(ctx, routeID, tripID)
	if !res.OK {
		return gtfs.Trip{}, fmt.Errorf("fetch trip %s: status %d: %s", tripID, res.Status, res.Message)
	}
	if len(res.Items) == 0 {
		return gtfs.Trip{}, fmt.Errorf("trip %s not found on route %s", tripID, routeID)
	}
	trip := res.Items[0]
	if trip.Route == nil {
		trip.Route = &gtfs.Route{OnestopID: routeID}
	}
	return trip, nil
}

// openJournal returns a nil journal when no database is configured.
func openJournal(ctx context.Context, cfg *config.Config, m db.JournalMetrics) (*db.Journal, func(), error) {
	var (
		conn    *sql.DB
		dialect db.Dialect
		err     error
	)
	switch {
	case cfg.SQLitePath != "":
		conn, err = db.OpenSQLite(cfg.SQLitePath)
		dialect = db.SQLite
	case cfg.DatabaseURL != "":
		conn, err = db.Open(cfg.DatabaseURL)
		dialect = db.Postgres
	default:
		log.Info().Msg("no database configured, journal disabled")
		return nil, func() {}, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("db open: %w", err)
	}
	if err := db.Ping(ctx, conn); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("db ping: %w", err)
	}
	j := db.NewJournal(conn, dialect, m)
	if err := j.EnsureSchema(ctx); err != nil {
		conn.Close()
		return nil, nil, err
	}
	log.Info().Str("dialect", dialect.String()).Msg("journal ready")
	return j, func() { _ = conn.Close() }, nil
}

// passageLog keeps a nil journal a nil interface.
func passageLog(j *db.Journal) api.PassageLog {
	if j == nil {
		return nil
	}
	return j
}

func shutdown(srv *http.Server) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// wrapPublisherMetrics adapts our Collector to the PublisherMetrics interface.
func wrapPublisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return &pubMetrics{c: c}
}

type pubMetrics struct{ c *metrics.Collector }

func (p *pubMetrics) NATSPublishedInc()              { p.c.NATSPublished.Inc() }
func (p *pubMetrics) NATSPublishErrInc()             { p.c.NATSPublishErrs.Inc() }
func (p *pubMetrics) PublishObserve(d time.Duration) { p.c.PublishDuration.Observe(d.Seconds()) }
func (p *pubMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}
