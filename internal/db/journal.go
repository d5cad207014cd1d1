package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"bus-tracker/internal/gtfs"
	"bus-tracker/internal/tracker"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS trip_sessions (
		session_id  TEXT PRIMARY KEY,
		trip_id     TEXT NOT NULL,
		route_id    TEXT NOT NULL DEFAULT '',
		headsign    TEXT NOT NULL DEFAULT '',
		started_at  TIMESTAMP NOT NULL,
		stop_count  INTEGER NOT NULL,
		path_points INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS stop_passages (
		session_id TEXT NOT NULL REFERENCES trip_sessions (session_id) ON DELETE CASCADE,
		stop_id    TEXT NOT NULL,
		stop_name  TEXT NOT NULL DEFAULT '',
		passed_at  TIMESTAMP NOT NULL,
		distance_m DOUBLE PRECISION NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS stop_passages_session_idx ON stop_passages (session_id, passed_at)`,
}

// Passage records one stop the vehicle went past.
type Passage struct {
	SessionID string    `json:"sessionId"`
	StopID    string    `json:"stopId"`
	StopName  string    `json:"stopName"`
	PassedAt  time.Time `json:"passedAt"`
	DistanceM float64   `json:"distanceM"` // from the fix that detected the passage to the stop
}

type JournalMetrics interface {
	JournalWriteFailed()
}

// Journal stores trip sessions and stop passages. It is also a tracker.Sink.
type Journal struct {
	db      *sql.DB
	dialect Dialect
	timeout time.Duration
	metrics JournalMetrics
}

func NewJournal(db *sql.DB, dialect Dialect, m JournalMetrics) *Journal {
	return &Journal{db: db, dialect: dialect, timeout: 5 * time.Second, metrics: m}
}

func (j *Journal) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if j.dialect == Postgres {
			stmt = strings.ReplaceAll(stmt, "TIMESTAMP", "TIMESTAMPTZ")
		}
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (j *Journal) InsertSession(ctx context.Context, sum tracker.Summary) error {
	q := j.dialect.rebind(`INSERT INTO trip_sessions
		(session_id, trip_id, route_id, headsign, started_at, stop_count, path_points)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`)
	_, err := j.db.ExecContext(ctx, q,
		sum.SessionID, sum.TripID, sum.RouteID, sum.Headsign, sum.StartedAt.UTC(), sum.Stops, sum.PathPoints)
	if err != nil {
		return fmt.Errorf("insert session %s: %w", sum.SessionID, err)
	}
	return nil
}

func (j *Journal) InsertPassage(ctx context.Context, p Passage) error {
	q := j.dialect.rebind(`INSERT INTO stop_passages
		(session_id, stop_id, stop_name, passed_at, distance_m)
		VALUES ($1, $2, $3, $4, $5)`)
	_, err := j.db.ExecContext(ctx, q, p.SessionID, p.StopID, p.StopName, p.PassedAt.UTC(), p.DistanceM)
	if err != nil {
		return fmt.Errorf("insert passage %s/%s: %w", p.SessionID, p.StopID, err)
	}
	return nil
}

// RecentPassages returns up to limit passages of a session, newest first.
func (j *Journal) RecentPassages(ctx context.Context, sessionID string, limit int) ([]Passage, error) {
	if limit <= 0 {
		limit = 50
	}
	q := j.dialect.rebind(`SELECT session_id, stop_id, stop_name, passed_at, distance_m
		FROM stop_passages WHERE session_id = $1
		ORDER BY passed_at DESC LIMIT $2`)
	rows, err := j.db.QueryContext(ctx, q, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query passages: %w", err)
	}
	defer rows.Close()
	var out []Passage
	for rows.Next() {
		var p Passage
		if err := rows.Scan(&p.SessionID, &p.StopID, &p.StopName, &p.PassedAt, &p.DistanceM); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (j *Journal) TripStarted(ctx context.Context, sum tracker.Summary) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()
	if err := j.InsertSession(ctx, sum); err != nil {
		j.failed(err)
	}
}

func (j *Journal) StopPassed(ctx context.Context, sum tracker.Summary, stop gtfs.ScheduledStop, fix gtfs.PositionFix, distance float64) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()
	passedAt := fix.Timestamp
	if passedAt.IsZero() {
		passedAt = time.Now()
	}
	err := j.InsertPassage(ctx, Passage{
		SessionID: sum.SessionID,
		StopID:    stop.Stop.StopID,
		StopName:  stop.Stop.StopName,
		PassedAt:  passedAt,
		DistanceM: distance,
	})
	if err != nil {
		j.failed(err)
	}
}

func (j *Journal) BoardUpdated(context.Context, tracker.Board) {}

func (j *Journal) failed(err error) {
	log.Error().Err(err).Msg("journal write failed")
	if j.metrics != nil {
		j.metrics.JournalWriteFailed()
	}
}
