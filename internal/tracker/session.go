package tracker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"bus-tracker/internal/clock"
	"bus-tracker/internal/correlate"
	"bus-tracker/internal/geo"
	"bus-tracker/internal/gtfs"
)

// Summary describes a started trip without exposing its mutable state.
type Summary struct {
	SessionID       string        `json:"sessionId"`
	TripID          string        `json:"tripId"`
	RouteID         string        `json:"routeId"`
	Headsign        string        `json:"headsign"`
	StartedAt       time.Time     `json:"startedAt"`
	Stops           int           `json:"stops"`
	PathPoints      int           `json:"pathPoints"`
	Correlations    int           `json:"correlations"`
	CorrelationTime time.Duration `json:"correlationTime"`
}

func summarize(st *TripState) Summary {
	sum := Summary{
		SessionID:       st.SessionID.String(),
		TripID:          st.Trip.TripID,
		Headsign:        st.Trip.TripHeadsign,
		StartedAt:       st.StartedAt,
		Stops:           len(st.Remaining),
		PathPoints:      len(st.Path),
		Correlations:    len(st.Correlations),
		CorrelationTime: st.CorrelationTime,
	}
	if st.Trip.Route != nil {
		sum.RouteID = st.Trip.Route.OnestopID
	}
	return sum
}

// Sink receives tracking events. Calls are made from the session goroutine,
// one at a time, and must not block for long. StopPassed gets the distance
// from the fix to the stop just passed.
type Sink interface {
	TripStarted(ctx context.Context, sum Summary)
	StopPassed(ctx context.Context, sum Summary, stop gtfs.ScheduledStop, fix gtfs.PositionFix, distance float64)
	BoardUpdated(ctx context.Context, b Board)
}

type Options struct {
	Mode      correlate.Mode
	StopDelay time.Duration
	Clock     *clock.SimClock
	Sinks     []Sink
}

type command struct {
	state *TripState // nil ends the current trip
	done  chan struct{}
}

// Session serialises every access to the active TripState through the
// goroutine running Run. Starting a trip replaces the previous one outright.
type Session struct {
	opts Options
	cmds chan command
	quit chan struct{}

	stopDelay atomic.Int64

	mu     sync.RWMutex
	active *Summary
	board  *Board
}

func NewSession(opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	s := &Session{
		opts: opts,
		cmds: make(chan command),
		quit: make(chan struct{}),
	}
	s.stopDelay.Store(int64(opts.StopDelay))
	return s
}

// SetStopDelay changes the shift applied to departure labels from the next
// board on.
func (s *Session) SetStopDelay(d time.Duration) { s.stopDelay.Store(int64(d)) }

// Clock is the time source used to stamp boards.
func (s *Session) Clock() *clock.SimClock { return s.opts.Clock }

// Start builds the state for trip (including the correlation table) on the
// caller's goroutine and hands it to the session. st is not touched here
// once it has been sent.
func (s *Session) Start(ctx context.Context, trip gtfs.Trip) (Summary, error) {
	st, err := NewTripState(trip, s.opts.Mode, s.opts.Clock.Now())
	if err != nil {
		return Summary{}, err
	}
	sum := summarize(st)
	if err := s.send(ctx, st); err != nil {
		return Summary{}, err
	}
	return sum, nil
}

// End drops the active trip, if any.
func (s *Session) End(ctx context.Context) error {
	return s.send(ctx, nil)
}

// send gives up on ctx only until Run has accepted the command; an accepted
// command is always applied, so it is waited for.
func (s *Session) send(ctx context.Context, st *TripState) error {
	cmd := command{state: st, done: make(chan struct{})}
	select {
	case s.cmds <- cmd:
	case <-s.quit:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-cmd.done
	return nil
}

// Board returns the latest board, false when no trip is active or no fix
// has arrived since it started.
func (s *Session) Board() (Board, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.board == nil {
		return Board{}, false
	}
	return *s.board, true
}

// Active returns the running trip.
func (s *Session) Active() (Summary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil {
		return Summary{}, false
	}
	return *s.active, true
}

// Run owns the trip state until ctx is cancelled or fixes is closed. It may
// only be called once.
func (s *Session) Run(ctx context.Context, fixes <-chan gtfs.PositionFix) error {
	defer close(s.quit)
	var st *TripState
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-s.cmds:
			st = s.install(ctx, cmd.state)
			close(cmd.done)
		case fix, ok := <-fixes:
			if !ok {
				log.Info().Msg("position feed closed, stopping tracking session")
				return nil
			}
			if st == nil {
				continue
			}
			s.handleFix(ctx, st, fix)
		}
	}
}

func (s *Session) install(ctx context.Context, st *TripState) *TripState {
	s.mu.Lock()
	s.board = nil
	if st == nil {
		s.active = nil
	} else {
		sum := summarize(st)
		s.active = &sum
	}
	s.mu.Unlock()

	if st == nil {
		log.Info().Msg("trip ended")
		return nil
	}
	sum := summarize(st)
	log.Info().
		Str("session", sum.SessionID).
		Str("trip", sum.TripID).
		Str("route", sum.RouteID).
		Int("stops", sum.Stops).
		Int("path_points", sum.PathPoints).
		Str("correlation", s.opts.Mode.String()).
		Dur("correlation_time", sum.CorrelationTime).
		Msg("trip started")
	for _, sink := range s.opts.Sinks {
		sink.TripStarted(ctx, sum)
	}
	return st
}

func (s *Session) handleFix(ctx context.Context, st *TripState, fix gtfs.PositionFix) {
	if fix.TripID != "" && fix.TripID != st.Trip.TripID {
		return
	}
	sum := summarize(st)

	if !st.caughtUp {
		st.caughtUp = true
		if skipped := st.AdvanceToClosestStop(fix.Coordinate); len(skipped) > 0 {
			log.Info().
				Str("trip", sum.TripID).
				Int("skipped", len(skipped)).
				Str("next_stop", st.Next().Value.Stop.StopID).
				Msg("joined trip mid-route")
		}
	}

	d, passed := st.CheckNextStop(fix.Coordinate)
	if passed != nil {
		passedDist := geo.GeoDistance(fix.Coordinate, passed.Coordinate)
		log.Info().
			Str("trip", sum.TripID).
			Str("stop", passed.Value.Stop.StopID).
			Str("stop_name", passed.Value.Stop.StopName).
			Int("remaining", len(st.Remaining)).
			Msg("stop passed")
		for _, sink := range s.opts.Sinks {
			sink.StopPassed(ctx, sum, passed.Value, fix, passedDist)
		}
	}

	b := BuildBoard(st, s.opts.Clock.Now(), time.Duration(s.stopDelay.Load()), d)
	s.mu.Lock()
	s.board = &b
	s.mu.Unlock()
	for _, sink := range s.opts.Sinks {
		sink.BoardUpdated(ctx, b)
	}
}
