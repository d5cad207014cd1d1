package sensor

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"bus-tracker/internal/clock"
	"bus-tracker/internal/geo"
	"bus-tracker/internal/gtfs"
	"bus-tracker/internal/tracker"
)

// DefaultReplaySpeed is used when the trip carries no usable schedule.
const DefaultReplaySpeed = 8.0 // m/s

// Replay drives a vehicle along a trip's path. With at least two scheduled,
// located stops the vehicle follows the schedule on the simulated clock;
// otherwise it moves at a constant speed from the first point.
type Replay struct {
	trip       gtfs.Trip
	path       geo.Path
	cum        []float64
	clock      *clock.SimClock
	interval   time.Duration
	multiplier float64
	speedMps   float64
	metrics    Metrics
}

func NewReplay(trip gtfs.Trip, clk *clock.SimClock, interval time.Duration, multiplier float64, m Metrics) (*Replay, error) {
	path := trip.Shape.Path()
	if len(path) < 2 {
		return nil, tracker.ErrNoPath
	}
	if clk == nil {
		clk = clock.New()
	}
	if interval <= 0 {
		interval = time.Second
	}
	if multiplier <= 0 {
		multiplier = 1
	}
	return &Replay{
		trip:       trip,
		path:       path,
		cum:        geo.CumDistances(path),
		clock:      clk,
		interval:   interval,
		multiplier: multiplier,
		speedMps:   DefaultReplaySpeed,
		metrics:    orNop(m),
	}, nil
}

func (r *Replay) Run(ctx context.Context, out chan<- gtfs.PositionFix) error {
	anchor := r.clock.Now()
	times, dists := r.schedule(anchor)
	log.Info().
		Str("trip", r.trip.TripID).
		Int("keyframes", len(times)).
		Float64("length_m", r.cum[len(r.cum)-1]).
		Float64("speed_multiplier", r.multiplier).
		Msg("replaying trip")

	tick := time.NewTicker(r.interval)
	defer tick.Stop()

	var last gtfs.PositionFix
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			now := r.clock.Now()
			dist, done := r.progress(anchor, now, times, dists)
			fix := r.fixAt(now, dist, last)
			if err := deliver(ctx, out, fix); err != nil {
				return err
			}
			r.metrics.FixReceived(SourceReplay)
			last = fix
			if done {
				log.Info().Str("trip", r.trip.TripID).Msg("replay finished")
				return nil
			}
		}
	}
}

// progress returns the distance travelled at now and whether the replay
// has reached its end. Simulated time runs multiplier times faster than the
// clock from anchor on.
func (r *Replay) progress(anchor, now time.Time, times []time.Time, dists []float64) (float64, bool) {
	elapsed := time.Duration(float64(now.Sub(anchor)) * r.multiplier)
	if len(times) >= 2 {
		at := anchor.Add(elapsed)
		return distanceAt(times, dists, at), !at.Before(times[len(times)-1])
	}
	total := r.cum[len(r.cum)-1]
	d := elapsed.Seconds() * r.speedMps
	if d >= total {
		return total, true
	}
	return d, false
}

func (r *Replay) fixAt(now time.Time, dist float64, last gtfs.PositionFix) gtfs.PositionFix {
	c, bearing := geo.Interpolate(r.path, r.cum, dist)
	fix := gtfs.PositionFix{
		Coordinate: c,
		Timestamp:  now,
		TripID:     r.trip.TripID,
		VehicleID:  "replay",
		Bearing:    bearing,
	}
	if r.trip.Route != nil {
		fix.RouteID = r.trip.Route.OnestopID
	}
	if !last.Timestamp.IsZero() {
		if dt := now.Sub(last.Timestamp).Seconds(); dt > 0 {
			fix.SpeedMps = geo.Haversine(last.Coordinate, c) / dt
		}
	}
	return fix
}

// schedule builds time -> distance keyframes from the trip's stop times on
// the service day of ref. Stops without geometry or time are skipped;
// distances never decrease.
func (r *Replay) schedule(ref time.Time) ([]time.Time, []float64) {
	var times []time.Time
	var dists []float64
	prev := 0.0
	for _, st := range r.trip.StopTimes {
		c, ok := st.Stop.Coordinate()
		if !ok {
			continue
		}
		d := geo.DistanceAlong(r.path, r.cum, c)
		if d < prev {
			d = prev
		}
		for _, raw := range []string{st.ArrivalTime, st.DepartureTime} {
			sec, ok := gtfs.ParseDaySeconds(raw)
			if !ok {
				continue
			}
			t := gtfs.ServiceTime(ref, sec)
			n := len(times)
			if n > 0 && (t.Before(times[n-1]) || (t.Equal(times[n-1]) && d == dists[n-1])) {
				continue
			}
			times = append(times, t)
			dists = append(dists, d)
		}
		prev = d
	}
	return times, dists
}

// distanceAt reads the keyframes at a point in time, holding the first and
// last distance outside their span.
func distanceAt(times []time.Time, dists []float64, at time.Time) float64 {
	n := len(times)
	switch {
	case n == 0:
		return 0
	case !at.After(times[0]):
		return dists[0]
	case !at.Before(times[n-1]):
		return dists[n-1]
	}
	hi := sort.Search(n, func(k int) bool { return !times[k].Before(at) })
	lo := hi - 1
	span := times[hi].Sub(times[lo])
	if span <= 0 {
		return dists[lo]
	}
	f := float64(at.Sub(times[lo])) / float64(span)
	return dists[lo] + f*(dists[hi]-dists[lo])
}
