package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bus-tracker/internal/geo"
	"bus-tracker/internal/gtfs"
	"bus-tracker/internal/tracker"
)

var _ tracker.Sink = (*Journal)(nil)

type failureCounter struct{ n int }

func (f *failureCounter) JournalWriteFailed() { f.n++ }

func newTestJournal(t *testing.T) (*Journal, *failureCounter) {
	t.Helper()
	conn, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, Ping(context.Background(), conn))

	m := &failureCounter{}
	j := NewJournal(conn, SQLite, m)
	require.NoError(t, j.EnsureSchema(context.Background()))
	return j, m
}

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	j, _ := newTestJournal(t)
	assert.NoError(t, j.EnsureSchema(context.Background()))
}

func TestJournalRecordsPassages(t *testing.T) {
	j, m := newTestJournal(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	sum := tracker.Summary{SessionID: "s-1", TripID: "t-1", RouteID: "r-1", StartedAt: start, Stops: 3, PathPoints: 40}

	j.TripStarted(ctx, sum)
	for i, id := range []string{"A", "B", "C"} {
		j.StopPassed(ctx, sum,
			gtfs.ScheduledStop{Stop: gtfs.Stop{StopID: id, StopName: "Stop " + id}},
			gtfs.PositionFix{Coordinate: geo.Coordinate{X: 1, Y: 2}, Timestamp: start.Add(time.Duration(i+1) * time.Minute)},
			float64(10*(i+1)))
	}
	j.BoardUpdated(ctx, tracker.Board{})

	got, err := j.RecentPassages(ctx, "s-1", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "C", got[0].StopID)
	assert.Equal(t, "Stop C", got[0].StopName)
	assert.Equal(t, 30.0, got[0].DistanceM)
	assert.True(t, start.Add(3*time.Minute).Equal(got[0].PassedAt), got[0].PassedAt)
	assert.Equal(t, "B", got[1].StopID)
	assert.Zero(t, m.n)

	none, err := j.RecentPassages(ctx, "other", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestJournalWriteFailureIsCounted(t *testing.T) {
	j, m := newTestJournal(t)
	sum := tracker.Summary{SessionID: "s-1", TripID: "t-1", StartedAt: time.Now()}

	j.TripStarted(context.Background(), sum)
	j.TripStarted(context.Background(), sum) // duplicate key

	// No such session: rejected by the foreign key.
	j.StopPassed(context.Background(), tracker.Summary{SessionID: "ghost"}, gtfs.ScheduledStop{}, gtfs.PositionFix{}, 1)

	assert.Equal(t, 2, m.n)
}

func TestRebind(t *testing.T) {
	q := `SELECT * FROM t WHERE a = $1 AND b = $2 LIMIT $10`
	assert.Equal(t, `SELECT * FROM t WHERE a = ? AND b = ? LIMIT ?`, SQLite.rebind(q))
	assert.Equal(t, q, Postgres.rebind(q))
	assert.Equal(t, "sqlite", SQLite.String())
}
