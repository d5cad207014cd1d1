package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bus-tracker/internal/gtfs"
	"bus-tracker/internal/tracker"
)

var _ tracker.Sink = (*Collector)(nil)

func TestPageFetchedByStatusClass(t *testing.T) {
	c := NewCollector(1, 0)
	c.PageFetched(200, 10*time.Millisecond)
	c.PageFetched(204, 10*time.Millisecond)
	c.PageFetched(503, time.Second)
	c.PageFetched(-1, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.PagesFetched.WithLabelValues("2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.PagesFetched.WithLabelValues("5xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.PagesFetched.WithLabelValues("transport")))
}

func TestSinkEvents(t *testing.T) {
	c := NewCollector(2, 30*time.Second)
	ctx := context.Background()

	c.TripStarted(ctx, tracker.Summary{Stops: 12, CorrelationTime: time.Millisecond})
	c.StopPassed(ctx, tracker.Summary{}, gtfs.ScheduledStop{}, gtfs.PositionFix{}, 12)
	c.BoardUpdated(ctx, tracker.Board{RemainingStops: 11, DistanceToNextStop: 250})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.TripsStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.StopsPassed))
	assert.Equal(t, 11.0, testutil.ToFloat64(c.RemainingStops))
	assert.Equal(t, 250.0, testutil.ToFloat64(c.DistanceToNext))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.SpeedMultiplier))
	assert.Equal(t, 30.0, testutil.ToFloat64(c.StopDelay))
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector(1, 0)
	c.FixReceived("nats")
	c.FixDropped("decode")

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `tracker_fixes_received_total{source="nats"} 1`)
	assert.Contains(t, string(body), `tracker_fixes_dropped_total{reason="decode"} 1`)
}
