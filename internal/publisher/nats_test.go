package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bus-tracker/internal/geo"
	"bus-tracker/internal/gtfs"
	"bus-tracker/internal/tracker"
)

var _ tracker.Sink = (*NATSPublisher)(nil)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	msgs []published
	err  error
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, published{subject, data})
	return nil
}

type countingMetrics struct {
	ok, failed, observed int
}

func (m *countingMetrics) NATSPublishedInc()            { m.ok++ }
func (m *countingMetrics) NATSPublishErrInc()           { m.failed++ }
func (m *countingMetrics) PublishObserve(time.Duration) { m.observed++ }
func (m *countingMetrics) NATSSetConnected(bool)        {}

func TestBoardUpdatedPublishesOnTripSubject(t *testing.T) {
	conn := &fakeConn{}
	m := &countingMetrics{}
	p := NewNATSPublisher(conn, "display.", false, m)

	p.BoardUpdated(context.Background(), tracker.Board{
		RouteID: "r-9q9.x 1",
		TripID:  "t*1",
		Rows:    []tracker.Row{{StopName: "Main St"}},
	})

	require.Len(t, conn.msgs, 1)
	assert.Equal(t, "display.r-9q9_x_1.t_1", conn.msgs[0].subject)
	var b tracker.Board
	require.NoError(t, json.Unmarshal(conn.msgs[0].data, &b))
	assert.Equal(t, "Main St", b.Rows[0].StopName)
	assert.Equal(t, 1, m.ok)
	assert.Equal(t, 1, m.observed)
}

func TestStopPassedMessage(t *testing.T) {
	conn := &fakeConn{}
	p := NewNATSPublisher(conn, "display", false, nil)
	at := time.Date(2026, 3, 2, 8, 15, 0, 0, time.UTC)

	p.StopPassed(context.Background(),
		tracker.Summary{SessionID: "s-1", TripID: "t-1", RouteID: "r-1"},
		gtfs.ScheduledStop{Stop: gtfs.Stop{StopID: "A", StopName: "First"}},
		gtfs.PositionFix{Coordinate: geo.Coordinate{X: -122.1, Y: 37.8}, Timestamp: at},
		14.5)

	require.Len(t, conn.msgs, 1)
	assert.Equal(t, "display.r-1.t-1.stops", conn.msgs[0].subject)
	var msg StopPassedMessage
	require.NoError(t, json.Unmarshal(conn.msgs[0].data, &msg))
	assert.Equal(t, "A", msg.StopID)
	assert.Equal(t, 37.8, msg.Lat)
	assert.Equal(t, -122.1, msg.Lon)
	assert.True(t, at.Equal(msg.PassedAt))
}

func TestPublishErrorIsCounted(t *testing.T) {
	m := &countingMetrics{}
	p := NewNATSPublisher(&fakeConn{err: errors.New("no responders")}, "display", false, m)

	p.TripStarted(context.Background(), tracker.Summary{RouteID: "r", TripID: "t"})

	assert.Equal(t, 0, m.ok)
	assert.Equal(t, 1, m.failed)
}

func TestSubjectToken(t *testing.T) {
	assert.Equal(t, "_", subjectToken("  "))
	assert.Equal(t, "a_b_c", subjectToken("a.b>c"))
}
