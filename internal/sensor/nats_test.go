package sensor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bus-tracker/internal/gtfs"
)

type countingMetrics struct {
	received map[string]int
	dropped  map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{received: map[string]int{}, dropped: map[string]int{}}
}

func (m *countingMetrics) FixReceived(source string) { m.received[source]++ }
func (m *countingMetrics) FixDropped(reason string)  { m.dropped[reason]++ }

func TestDecodePosition(t *testing.T) {
	fix, err := DecodePosition([]byte(`{"tripId":"t-1","routeId":"r-1","timestamp":"2026-03-02T08:00:00Z","lat":37.8,"lon":-122.27,"bearing":90,"speedMps":7.5}`))
	require.NoError(t, err)
	assert.Equal(t, "t-1", fix.TripID)
	assert.Equal(t, "r-1", fix.RouteID)
	assert.Equal(t, 37.8, fix.Y)
	assert.Equal(t, -122.27, fix.X)
	assert.Equal(t, 7.5, fix.SpeedMps)
	assert.True(t, fix.Timestamp.Equal(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)))

	// Origin is a valid coordinate as long as it is present.
	fix, err = DecodePosition([]byte(`{"lat":0,"lon":0}`))
	require.NoError(t, err)
	assert.False(t, fix.Timestamp.IsZero())
}

func TestDecodePositionRejects(t *testing.T) {
	for name, body := range map[string]string{
		"not json":     `{"lat":`,
		"missing lon":  `{"lat":37.8}`,
		"out of range": `{"lat":137.8,"lon":0}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodePosition([]byte(body))
			assert.Error(t, err)
		})
	}
}

type fakeSubscriber struct {
	subject string
	ch      chan *nats.Msg
	ready   chan struct{}
	err     error
}

func (f *fakeSubscriber) ChanSubscribe(subject string, ch chan *nats.Msg) (*nats.Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.subject = subject
	f.ch = ch
	close(f.ready)
	return nil, nil
}

func TestNATSSourceDeliversDecodedFixes(t *testing.T) {
	sub := &fakeSubscriber{ready: make(chan struct{})}
	m := newCountingMetrics()
	src := NewNATSSource(sub, "vehicles.>", m)

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan gtfs.PositionFix, 4)
	errc := make(chan error, 1)
	go func() { errc <- src.Run(ctx, out) }()

	<-sub.ready
	assert.Equal(t, "vehicles.>", sub.subject)
	sub.ch <- &nats.Msg{Subject: "vehicles.r.t", Data: []byte(`garbage`)}
	sub.ch <- &nats.Msg{Subject: "vehicles.r.t", Data: []byte(`{"tripId":"t-9","lat":1,"lon":2}`)}

	select {
	case fix := <-out:
		assert.Equal(t, "t-9", fix.TripID)
	case <-time.After(2 * time.Second):
		t.Fatal("no fix delivered")
	}

	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
	assert.Equal(t, 1, m.dropped["decode"])
	assert.Equal(t, 1, m.received[SourceNATS])
}

func TestNATSSourceSubscribeError(t *testing.T) {
	src := NewNATSSource(&fakeSubscriber{err: errors.New("no connection")}, "vehicles.>", nil)
	err := src.Run(context.Background(), make(chan gtfs.PositionFix))
	assert.ErrorContains(t, err, "no connection")
}
