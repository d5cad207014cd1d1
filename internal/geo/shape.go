package geo

import "math"

// Path is the ordered geometry a vehicle travels for one trip. Index order
// follows the direction of travel.
type Path []Coordinate

// Haversine distance in metres
func Haversine(a, b Coordinate) float64 {
	const R = 6371000.0
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(b.Y - a.Y)
	dLon := toRad(b.X - a.X)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(a.Y))*math.Cos(toRad(b.Y))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return R * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// CumDistances returns the running distance along the path at each point.
func CumDistances(p Path) []float64 {
	n := len(p)
	if n == 0 {
		return nil
	}
	cum := make([]float64, n)
	sum := 0.0
	for i := 1; i < n; i++ {
		sum += Haversine(p[i-1], p[i])
		cum[i] = sum
	}
	return cum
}

// Interpolate returns the point at dist metres along the path and the bearing
// of the segment it lies on. cum must come from CumDistances(p).
func Interpolate(p Path, cum []float64, dist float64) (Coordinate, float64) {
	n := len(p)
	if n == 0 {
		return Coordinate{}, 0
	}
	if n == 1 || cum[n-1] == 0 {
		return p[0], 0
	}
	if dist <= 0 {
		return p[0], Bearing(p[0], p[1])
	}
	if dist >= cum[n-1] {
		return p[n-1], Bearing(p[n-2], p[n-1])
	}
	i := 1
	for i < n && cum[i] < dist {
		i++
	}
	p0, p1 := p[i-1], p[i]
	d0, d1 := cum[i-1], cum[i]
	if d1 == d0 {
		return p0, Bearing(p0, p1)
	}
	frac := (dist - d0) / (d1 - d0)
	return Coordinate{
		X: p0.X + (p1.X-p0.X)*frac,
		Y: p0.Y + (p1.Y-p0.Y)*frac,
	}, Bearing(p0, p1)
}

// Bearing from a to b in degrees, clockwise from north, in [0, 360).
func Bearing(a, b Coordinate) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	y := math.Sin(toRad(b.X-a.X)) * math.Cos(toRad(b.Y))
	x := math.Cos(toRad(a.Y))*math.Sin(toRad(b.Y)) - math.Sin(toRad(a.Y))*math.Cos(toRad(b.Y))*math.Cos(toRad(b.X-a.X))
	brng := math.Atan2(y, x) * 180 / math.Pi
	if brng < 0 {
		brng += 360
	}
	return brng
}

// DistanceAlong projects c onto the closest segment of p and returns how far
// along the path that projection lies, in metres. cum must come from
// CumDistances(p).
func DistanceAlong(p Path, cum []float64, c Coordinate) float64 {
	n := len(p)
	if n == 0 {
		return 0
	}
	if len(cum) != n {
		cum = CumDistances(p)
	}
	// Local plane around c; good enough at stop-to-shape distances
	cosLat := math.Cos(c.Y * math.Pi / 180)
	toXY := func(q Coordinate) (x, y float64) {
		y = (q.Y - c.Y) * math.Pi / 180 * 6371000.0
		x = (q.X - c.X) * math.Pi / 180 * 6371000.0 * cosLat
		return
	}
	best := math.MaxFloat64
	along := 0.0
	x0, y0 := toXY(p[0])
	for i := 1; i < n; i++ {
		x1, y1 := toXY(p[i])
		dx, dy := x1-x0, y1-y0
		t := 0.0
		if l2 := dx*dx + dy*dy; l2 > 0 {
			t = math.Max(0, math.Min(1, -(x0*dx+y0*dy)/l2))
		}
		px, py := x0+t*dx, y0+t*dy
		if d2 := px*px + py*py; d2 < best {
			best = d2
			along = cum[i-1] + t*(cum[i]-cum[i-1])
		}
		x0, y0 = x1, y1
	}
	return along
}
