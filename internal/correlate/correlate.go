// Package correlate maps scheduled stops onto the closest point of a trip's
// path geometry. The table is built once when a trip starts.
package correlate

import (
	"fmt"
	"strings"

	"bus-tracker/internal/geo"
)

// Entry pairs a stop (by position in the stop list) with the index of its
// nearest path point.
type Entry struct {
	StopIndex      int `json:"stopIndex"`
	PathPointIndex int `json:"pathPointIndex"`
}

type Mode int

const (
	// FullScan compares every stop with every path point. Safe for paths
	// that loop or double back.
	FullScan Mode = iota
	// Monotonic only moves forward along the path. Only correct when the path
	// never revisits an area.
	Monotonic
)

func (m Mode) String() string {
	switch m {
	case Monotonic:
		return "monotonic"
	default:
		return "fullscan"
	}
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fullscan", "full":
		return FullScan, nil
	case "monotonic":
		return Monotonic, nil
	}
	return FullScan, fmt.Errorf("unknown correlation mode %q", s)
}

// Correlate builds the table with the given mode. path must not be empty.
func Correlate[T any](stops []geo.Located[T], path geo.Path, mode Mode) []Entry {
	if mode == Monotonic {
		return CorrelateMonotonic(stops, path)
	}
	return CorrelateFullScan(stops, path)
}

// CorrelateFullScan picks, for each stop, the path point at the smallest
// GeoDistance. Ties go to the lowest index.
func CorrelateFullScan[T any](stops []geo.Located[T], path geo.Path) []Entry {
	entries := make([]Entry, 0, len(stops))
	for i, s := range stops {
		best := 0
		bestDist := geo.GeoDistance(s.Coordinate, path[0])
		for j := 1; j < len(path); j++ {
			if d := geo.GeoDistance(s.Coordinate, path[j]); d < bestDist {
				best, bestDist = j, d
			}
		}
		entries = append(entries, Entry{StopIndex: i, PathPointIndex: best})
	}
	return entries
}

// CorrelateMonotonic advances a single cursor along the path: for each stop
// it walks forward while the next point is no farther than the current one,
// and the following stop resumes from there.
func CorrelateMonotonic[T any](stops []geo.Located[T], path geo.Path) []Entry {
	entries := make([]Entry, 0, len(stops))
	cursor := 0
	for i, s := range stops {
		d := geo.GeoDistance(s.Coordinate, path[cursor])
		for cursor+1 < len(path) {
			next := geo.GeoDistance(s.Coordinate, path[cursor+1])
			if next > d {
				break
			}
			cursor++
			d = next
		}
		entries = append(entries, Entry{StopIndex: i, PathPointIndex: cursor})
	}
	return entries
}
