package gtfs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"bus-tracker/internal/geo"
)

type Operator struct {
	ID        int      `json:"id"`
	OnestopID string   `json:"onestop_id"`
	Name      string   `json:"name"`
	ShortName string   `json:"short_name,omitempty"`
	Agencies  []Agency `json:"agencies,omitempty"`
}

type Agency struct {
	ID         int    `json:"id"`
	OnestopID  string `json:"onestop_id"`
	AgencyID   string `json:"agency_id"`
	AgencyName string `json:"agency_name"`
}

type Route struct {
	ID             int     `json:"id"`
	OnestopID      string  `json:"onestop_id"`
	RouteID        string  `json:"route_id"`
	RouteShortName string  `json:"route_short_name"`
	RouteLongName  string  `json:"route_long_name"`
	RouteType      int     `json:"route_type"`
	RouteColor     string  `json:"route_color,omitempty"`
	Agency         *Agency `json:"agency,omitempty"` // nil when the listing omits the agency block
}

type Trip struct {
	ID           int        `json:"id"`
	TripID       string     `json:"trip_id"`
	TripHeadsign string     `json:"trip_headsign"`
	DirectionID  int        `json:"direction_id"`
	Route        *Route     `json:"route,omitempty"`
	Shape        *Shape     `json:"shape,omitempty"`      // nil when the feed publishes no shape for the trip
	StopTimes    []StopTime `json:"stop_times,omitempty"` // empty until the trip is fetched individually
}

type Shape struct {
	ID       int               `json:"id"`
	ShapeID  string            `json:"shape_id"`
	Geometry *geojson.Geometry `json:"geometry,omitempty"` // LineString; a third tuple value is dropped on decode
}

// Path returns the shape as a path, empty when the shape is missing or is
// not a LineString.
func (s *Shape) Path() geo.Path {
	if s == nil || s.Geometry == nil {
		return nil
	}
	ls, ok := s.Geometry.Coordinates.(orb.LineString)
	if !ok {
		return nil
	}
	p := make(geo.Path, len(ls))
	for i, pt := range ls {
		p[i] = geo.Coordinate{X: pt.Lon(), Y: pt.Lat()}
	}
	return p
}

type Stop struct {
	ID         int               `json:"id"`
	OnestopID  string            `json:"onestop_id"`
	StopID     string            `json:"stop_id"`
	StopName   string            `json:"stop_name"`
	Geometry   *geojson.Geometry `json:"geometry,omitempty"` // Point
	Departures []Departure       `json:"departures,omitempty"` // only set by the departures endpoint
}

// Coordinate returns the stop position and false when the stop has no
// point geometry.
func (s Stop) Coordinate() (geo.Coordinate, bool) {
	if s.Geometry == nil {
		return geo.Coordinate{}, false
	}
	pt, ok := s.Geometry.Coordinates.(orb.Point)
	if !ok {
		return geo.Coordinate{}, false
	}
	return geo.Coordinate{X: pt.Lon(), Y: pt.Lat()}, true
}

type StopTime struct {
	StopSequence  int    `json:"stop_sequence"`
	ArrivalTime   string `json:"arrival_time"`   // HH:MM:SS, hours may exceed 24
	DepartureTime string `json:"departure_time"` // HH:MM:SS, hours may exceed 24
	Timepoint     Flag   `json:"timepoint"`
	Stop          Stop   `json:"stop"`
}

// ScheduledTime prefers the departure time and falls back to the arrival
// time; empty when the feed has neither (untimed stop).
func (st StopTime) ScheduledTime() string {
	if st.DepartureTime != "" {
		return st.DepartureTime
	}
	return st.ArrivalTime
}

type Departure struct {
	StopSequence  int    `json:"stop_sequence"`
	ArrivalTime   string `json:"arrival_time"`
	DepartureTime string `json:"departure_time"`
	ServiceDate   string `json:"service_date"`
	Trip          *Trip  `json:"trip,omitempty"`
}

// ScheduledStop is one stop of a trip as the tracker sees it.
type ScheduledStop struct {
	Stop          Stop
	StopSequence  int
	ScheduledTime string // empty means no scheduled time for this stop
	Timepoint     bool
}

// PositionFix is a single reading from a location sensor.
type PositionFix struct {
	geo.Coordinate
	Timestamp time.Time
	TripID    string
	RouteID   string
	VehicleID string
	Bearing   float64
	SpeedMps  float64
}

// Flag decodes GTFS 0/1 flags that some APIs emit as numbers, strings or
// booleans. null and missing values decode to false.
type Flag bool

func (f *Flag) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch string(b) {
	case "null", `""`, "0", `"0"`, "false":
		*f = false
		return nil
	case "1", `"1"`, "true":
		*f = true
		return nil
	}
	return fmt.Errorf("invalid flag value %s", b)
}

func (f Flag) MarshalJSON() ([]byte, error) {
	if f {
		return []byte("1"), nil
	}
	return []byte("0"), nil
}

// ParseDaySeconds parses HH:MM:SS possibly with hours >= 24.
func ParseDaySeconds(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	parts := strings.Split(s, ":")
	if len(parts) < 2 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, false
	}
	sec := 0
	if len(parts) > 2 {
		if sec, err = strconv.Atoi(parts[2]); err != nil {
			return 0, false
		}
	}
	total := h*3600 + m*60 + sec
	if total < 0 {
		return 0, false
	}
	return total, true
}

// ServiceTime places a GTFS time of day on the service day of ref.
func ServiceTime(ref time.Time, daySeconds int) time.Time {
	y, m, d := ref.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, ref.Location()).Add(time.Duration(daySeconds) * time.Second)
}

var _ json.Unmarshaler = (*Flag)(nil)
