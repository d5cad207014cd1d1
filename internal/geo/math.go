// Package geo holds the distance and angle helpers shared by correlation and
// tracking. Coordinates are axis-agnostic for the planar functions; the
// geographic ones read X as longitude and Y as latitude.
package geo

import "math"

const (
	// metres per degree of latitude along a meridian
	polarMetresPerDegree = 40007863.0 / 360
	// metres per degree of longitude on the equator
	equatorialMetresPerDegree = 40075017.0 / 360
)

// Coordinate is an immutable 2D point. X is longitude, Y is latitude.
type Coordinate struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Located attaches a position to an arbitrary payload.
type Located[T any] struct {
	Coordinate
	Value T
}

// DistanceFunc measures the distance between two coordinates.
type DistanceFunc func(a, b Coordinate) float64

// CartesianDistance is the planar Euclidean distance.
func CartesianDistance(a, b Coordinate) float64 {
	return math.Hypot(b.X-a.X, b.Y-a.Y)
}

// GeoDistance approximates the distance in metres between two lon/lat points
// with an equirectangular projection. Good enough at city scale; it drifts
// over long spans and near the poles.
func GeoDistance(a, b Coordinate) float64 {
	avgLat := (a.Y + b.Y) / 2 * math.Pi / 180
	dy := (b.Y - a.Y) * polarMetresPerDegree
	dx := (b.X - a.X) * equatorialMetresPerDegree * math.Cos(avgLat)
	return math.Sqrt(dx*dx + dy*dy)
}

// AngleDegrees returns the angle at origin between the rays towards from and
// to, in [0, 180]. A zero-length ray yields NaN.
func AngleDegrees(origin, from, to Coordinate) float64 {
	ax, ay := from.X-origin.X, from.Y-origin.Y
	bx, by := to.X-origin.X, to.Y-origin.Y
	la := math.Hypot(ax, ay)
	lb := math.Hypot(bx, by)
	if la == 0 || lb == 0 {
		return math.NaN()
	}
	cos := (ax*bx + ay*by) / (la * lb)
	// rounding can push the ratio just outside [-1, 1]
	cos = math.Max(-1, math.Min(1, cos))
	return math.Acos(cos) * 180 / math.Pi
}

// DistanceComparator orders points by their distance from origin. The result
// follows the cmp.Compare convention and can be passed to slices.SortFunc.
func DistanceComparator(origin Coordinate, dist DistanceFunc) func(a, b Coordinate) int {
	return func(a, b Coordinate) int {
		da, db := dist(origin, a), dist(origin, b)
		switch {
		case da < db:
			return -1
		case da > db:
			return 1
		default:
			return 0
		}
	}
}

// PointToSegmentDistance is the planar distance from p to the closest point
// of the segment [start, end]. A degenerate segment falls back to the
// point-to-point distance.
func PointToSegmentDistance(p, start, end Coordinate) float64 {
	vx := end.X - start.X
	vy := end.Y - start.Y
	denom := vx*vx + vy*vy
	if denom == 0 {
		return CartesianDistance(p, start)
	}
	t := ((p.X-start.X)*vx + (p.Y-start.Y)*vy) / denom
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return CartesianDistance(p, Coordinate{X: start.X + t*vx, Y: start.Y + t*vy})
}
