package sensor

import (
	"context"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bus-tracker/internal/clock"
	"bus-tracker/internal/gtfs"
	"bus-tracker/internal/tracker"
)

func replayTrip(stopTimes ...gtfs.StopTime) gtfs.Trip {
	return gtfs.Trip{
		TripID:    "t-1",
		Route:     &gtfs.Route{OnestopID: "r-1"},
		Shape:     &gtfs.Shape{Geometry: geojson.NewGeometry(orb.LineString{{0, 0}, {0, 0.009}})},
		StopTimes: stopTimes,
	}
}

func timedStop(id string, lat float64, arrival, departure string) gtfs.StopTime {
	return gtfs.StopTime{
		ArrivalTime:   arrival,
		DepartureTime: departure,
		Stop: gtfs.Stop{
			StopID:   id,
			Geometry: geojson.NewGeometry(orb.Point{0, lat}),
		},
	}
}

// steppingWall advances by step on every read.
func steppingWall(start time.Time, step time.Duration) func() time.Time {
	t := start
	return func() time.Time {
		t = t.Add(step)
		return t
	}
}

func TestNewReplayNeedsPath(t *testing.T) {
	_, err := NewReplay(gtfs.Trip{TripID: "t"}, nil, 0, 0, nil)
	assert.ErrorIs(t, err, tracker.ErrNoPath)

	trip := replayTrip()
	trip.Shape.Geometry = geojson.NewGeometry(orb.LineString{{0, 0}})
	_, err = NewReplay(trip, nil, 0, 0, nil)
	assert.ErrorIs(t, err, tracker.ErrNoPath)
}

func TestReplayConstantSpeedRunsToEnd(t *testing.T) {
	clk := clock.NewWithSource(steppingWall(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC), time.Minute))
	r, err := NewReplay(replayTrip(), clk, time.Millisecond, 1, nil)
	require.NoError(t, err)

	out := make(chan gtfs.PositionFix, 10)
	require.NoError(t, r.Run(context.Background(), out))
	close(out)

	var fixes []gtfs.PositionFix
	for f := range out {
		fixes = append(fixes, f)
	}
	// 8 m/s for a minute per tick over ~1000 m
	require.Len(t, fixes, 3)
	assert.InDelta(t, 0.009, fixes[2].Y, 1e-9)
	assert.Equal(t, "t-1", fixes[0].TripID)
	assert.Equal(t, "r-1", fixes[0].RouteID)
	assert.InDelta(t, 0, fixes[0].Bearing, 1e-9)
	assert.Zero(t, fixes[0].SpeedMps)
	assert.InDelta(t, 8, fixes[1].SpeedMps, 0.01)
}

func TestReplayStopsOnCancel(t *testing.T) {
	r, err := NewReplay(replayTrip(), clock.New(), time.Hour, 1, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, r.Run(ctx, make(chan gtfs.PositionFix)), context.Canceled)
}

func TestReplaySchedule(t *testing.T) {
	r, err := NewReplay(replayTrip(
		timedStop("A", 0, "", "08:00:00"),
		timedStop("NOGEO", 0, "08:02:00", "08:02:00"),
		timedStop("B", 0.0045, "08:05:00", "08:06:00"),
		timedStop("C", 0.009, "08:10:00", ""),
	), nil, 0, 0, nil)
	require.NoError(t, err)
	r.trip.StopTimes[1].Stop.Geometry = nil

	ref := time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC)
	times, dists := r.schedule(ref)

	require.Len(t, times, 4)
	assert.Equal(t, time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC), times[0])
	assert.Equal(t, time.Date(2026, 3, 2, 8, 6, 0, 0, time.UTC), times[2])
	assert.Zero(t, dists[0])
	assert.InDelta(t, r.cum[1]/2, dists[1], 1)
	assert.Equal(t, dists[1], dists[2])
	assert.InDelta(t, r.cum[1], dists[3], 1e-6)
}

func TestReplayProgressFollowsSchedule(t *testing.T) {
	r, err := NewReplay(replayTrip(
		timedStop("A", 0, "", "08:00:00"),
		timedStop("C", 0.009, "08:10:00", ""),
	), nil, 0, 2, nil)
	require.NoError(t, err)

	anchor := time.Date(2026, 3, 2, 7, 58, 0, 0, time.UTC)
	times, dists := r.schedule(anchor)
	total := r.cum[1]

	// Waiting at the first stop before departure.
	d, done := r.progress(anchor, anchor.Add(30*time.Second), times, dists)
	assert.Zero(t, d)
	assert.False(t, done)

	// 3.5 real minutes at 2x is 08:05, halfway.
	d, done = r.progress(anchor, anchor.Add(210*time.Second), times, dists)
	assert.InDelta(t, total/2, d, 1e-6)
	assert.False(t, done)

	d, done = r.progress(anchor, anchor.Add(6*time.Minute), times, dists)
	assert.InDelta(t, total, d, 1e-6)
	assert.True(t, done)
}

func TestDistanceAt(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	times := []time.Time{t0, t0.Add(time.Minute), t0.Add(time.Minute), t0.Add(3 * time.Minute)}
	dists := []float64{0, 100, 100, 300}

	assert.Zero(t, distanceAt(nil, nil, t0))
	assert.Equal(t, 0.0, distanceAt(times, dists, t0.Add(-time.Hour)))
	assert.InDelta(t, 50, distanceAt(times, dists, t0.Add(30*time.Second)), 1e-9)
	assert.InDelta(t, 200, distanceAt(times, dists, t0.Add(2*time.Minute)), 1e-9)
	assert.Equal(t, 300.0, distanceAt(times, dists, t0.Add(time.Hour)))
}
