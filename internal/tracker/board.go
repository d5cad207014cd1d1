package tracker

import (
	"time"

	"bus-tracker/internal/gtfs"
)

// Labels for columns that have no model behind them yet.
const (
	placeholderSpeed = "-- km/h"
	placeholderETA   = "--:--"
	unknownTime      = "--:--"
	timepointMarker  = "*"
)

// Row is one line of the display board. Spacer rows carry no stop.
type Row struct {
	Spacer             bool   `json:"spacer,omitempty"`
	StopID             string `json:"stopId,omitempty"`
	StopName           string `json:"stopName"`
	DepartureTimeLabel string `json:"departureTimeLabel"`
	TimepointMarker    string `json:"timepointMarker"`
	AvgSpeedLabel      string `json:"avgSpeedLabel"`
	AdjSpeedLabel      string `json:"adjSpeedLabel"`
	EtaLabel           string `json:"etaLabel"`
}

// Board is what the display shows after a fix.
type Board struct {
	SessionID          string    `json:"sessionId"`
	TripID             string    `json:"tripId"`
	RouteID            string    `json:"routeId"`
	Headsign           string    `json:"headsign"`
	GeneratedAt        time.Time `json:"generatedAt"`
	DistanceToNextStop float64   `json:"distanceToNextStop"`
	RemainingStops     int       `json:"remainingStops"`
	Rows               []Row     `json:"rows"`
}

// BuildBoard renders the relevant stops of s. now is the (possibly
// simulated) current time, used to place schedule times on a service day;
// delay shifts every scheduled time.
func BuildBoard(s *TripState, now time.Time, delay time.Duration, distance float64) Board {
	stops := RelevantStops(s.Remaining)
	rows := make([]Row, 0, len(stops)+1)
	for i, st := range stops {
		if i == leadingStops {
			rows = append(rows, Row{Spacer: true})
		}
		rows = append(rows, stopRow(st.Value, now, delay))
	}

	b := Board{
		SessionID:          s.SessionID.String(),
		TripID:             s.Trip.TripID,
		Headsign:           s.Trip.TripHeadsign,
		GeneratedAt:        now,
		DistanceToNextStop: distance,
		RemainingStops:     len(s.Remaining),
		Rows:               rows,
	}
	if s.Trip.Route != nil {
		b.RouteID = s.Trip.Route.OnestopID
	}
	return b
}

func stopRow(st gtfs.ScheduledStop, now time.Time, delay time.Duration) Row {
	r := Row{
		StopID:             st.Stop.StopID,
		StopName:           st.Stop.StopName,
		DepartureTimeLabel: DepartureLabel(st.ScheduledTime, now, delay),
		AvgSpeedLabel:      placeholderSpeed,
		AdjSpeedLabel:      placeholderSpeed,
		EtaLabel:           placeholderETA,
	}
	if st.Timepoint {
		r.TimepointMarker = timepointMarker
	}
	return r
}

// DepartureLabel formats a GTFS time of day, shifted by delay, as HH:MM on
// the service day of now.
func DepartureLabel(scheduled string, now time.Time, delay time.Duration) string {
	sec, ok := gtfs.ParseDaySeconds(scheduled)
	if !ok {
		return unknownTime
	}
	return gtfs.ServiceTime(now, sec).Add(delay).Format("15:04")
}
