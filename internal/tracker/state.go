// Package tracker follows a vehicle along a started trip: it keeps the queue
// of stops not yet reached, advances it as fixes arrive and derives the
// display board.
package tracker

import (
	"errors"
	"math"
	"time"

	"github.com/google/uuid"

	"bus-tracker/internal/correlate"
	"bus-tracker/internal/geo"
	"bus-tracker/internal/gtfs"
)

var (
	ErrNoStops       = errors.New("trip has no locatable stop times")
	ErrNoPath        = errors.New("trip has no path geometry")
	ErrNoActiveTrip  = errors.New("no active trip")
	ErrSessionClosed = errors.New("tracking session is not running")
)

// Stop is a scheduled stop with its position.
type Stop = geo.Located[gtfs.ScheduledStop]

// TripState is the mutable root of tracking for one trip. It is owned by a
// single goroutine; nothing in it is safe for concurrent use.
type TripState struct {
	SessionID uuid.UUID
	Trip      gtfs.Trip
	StartedAt time.Time

	// Remaining only ever loses its front element.
	Remaining []Stop
	Path      geo.Path

	// Correlations is computed once at start and is not kept in step with
	// Remaining; StopIndex refers to the stop list as it was at start.
	Correlations    []correlate.Entry
	CorrelationTime time.Duration

	// PrevDistance is the distance to Remaining[0] at the previous fix,
	// +Inf before the first one.
	PrevDistance float64

	caughtUp bool
}

// NewTripState starts tracking trip. Stop times whose stop has no geometry
// are left out. The trip must have at least one locatable stop and a
// non-empty shape.
func NewTripState(trip gtfs.Trip, mode correlate.Mode, startedAt time.Time) (*TripState, error) {
	stops := LocateStops(trip.StopTimes)
	if len(stops) == 0 {
		return nil, ErrNoStops
	}
	path := trip.Shape.Path()
	if len(path) == 0 {
		return nil, ErrNoPath
	}

	began := time.Now()
	entries := correlate.Correlate(stops, path, mode)

	return &TripState{
		SessionID:       uuid.New(),
		Trip:            trip,
		StartedAt:       startedAt,
		Remaining:       stops,
		Path:            path,
		Correlations:    entries,
		CorrelationTime: time.Since(began),
		PrevDistance:    math.Inf(1),
	}, nil
}

// LocateStops turns stop times into positioned scheduled stops, in order.
func LocateStops(sts []gtfs.StopTime) []Stop {
	out := make([]Stop, 0, len(sts))
	for _, st := range sts {
		c, ok := st.Stop.Coordinate()
		if !ok {
			continue
		}
		out = append(out, Stop{
			Coordinate: c,
			Value: gtfs.ScheduledStop{
				Stop:          st.Stop,
				StopSequence:  st.StopSequence,
				ScheduledTime: st.ScheduledTime(),
				Timepoint:     bool(st.Timepoint),
			},
		})
	}
	return out
}

// Next is the stop the vehicle is heading to.
func (s *TripState) Next() Stop { return s.Remaining[0] }

// Terminal reports whether only the final stop is left.
func (s *TripState) Terminal() bool { return len(s.Remaining) == 1 }

// CheckNextStop records a fix and returns the distance in metres to the next
// stop. When the distance grew since the previous fix the vehicle is taken
// to have passed the front stop; it is dropped (unless it is the last one)
// and returned as passed.
//
// One noisy reading near a stop is enough to advance; there is no smoothing.
func (s *TripState) CheckNextStop(pos geo.Coordinate) (float64, *Stop) {
	var passed *Stop
	d := geo.GeoDistance(pos, s.Remaining[0].Coordinate)
	if d > s.PrevDistance && len(s.Remaining) > 1 {
		front := s.Remaining[0]
		passed = &front
		s.Remaining = s.Remaining[1:]
		d = geo.GeoDistance(pos, s.Remaining[0].Coordinate)
	}
	s.PrevDistance = d
	return d, passed
}

// AdvanceToClosestStop drops leading stops while the one after is strictly
// closer to pos, and returns what it dropped. It is meant for the first fix
// of a trip joined mid-route.
func (s *TripState) AdvanceToClosestStop(pos geo.Coordinate) []Stop {
	cmp := geo.DistanceComparator(pos, geo.GeoDistance)
	var skipped []Stop
	for len(s.Remaining) >= 2 && cmp(s.Remaining[1].Coordinate, s.Remaining[0].Coordinate) < 0 {
		skipped = append(skipped, s.Remaining[0])
		s.Remaining = s.Remaining[1:]
	}
	return skipped
}
