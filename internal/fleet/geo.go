package fleet

import "math"

const (
	earthRadiusKm = 6371.0
	// minSegmentKm keeps degenerate (repeated) waypoints from stalling movement.
	minSegmentKm = 0.001
)

// generateRoute builds a random walk of n waypoints starting near center.
// The route is treated as cyclic: the last waypoint connects back to the first.
func generateRoute(g *rng, center Coordinate, n int, spread, jitter float64) []Coordinate {
	if n < 2 {
		n = 2
	}
	route := make([]Coordinate, 0, n)
	cur := Coordinate{
		Lat: center.Lat + g.between(Range{-spread, spread}),
		Lng: center.Lng + g.between(Range{-spread, spread}),
	}
	for i := 0; i < n; i++ {
		route = append(route, cur)
		cur.Lat += g.between(Range{-jitter, jitter})
		cur.Lng += g.between(Range{-jitter, jitter})
	}
	return route
}

// segmentLengths returns the length in km of every leg of the cyclic route,
// where leg i runs from route[i] to route[(i+1)%len(route)].
func segmentLengths(route []Coordinate) []float64 {
	out := make([]float64, len(route))
	for i := range route {
		out[i] = math.Max(minSegmentKm, haversine(route[i], route[(i+1)%len(route)]))
	}
	return out
}

// haversine returns the great-circle distance in km.
func haversine(a, b Coordinate) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func interpolate(a, b Coordinate, fraction float64) Coordinate {
	return Coordinate{
		Lat: a.Lat + (b.Lat-a.Lat)*fraction,
		Lng: a.Lng + (b.Lng-a.Lng)*fraction,
	}
}
