// Package geo provides the spatial primitives used by the search engine:
// haversine distance, the distance-to-score decay function, and geohash
// cell helpers built on mmcloughlin/geohash.
package geo

import (
	"math"

	"github.com/mmcloughlin/geohash"
)

const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance between two points in
// kilometers.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}

// DistanceScore converts a distance in kilometers into a scoring
// contribution. Beyond 100 km the contribution is zero; inside it decays as
// 0.1 * exp(-(km/50)^2).
func DistanceScore(km float64) float64 {
	if km > 100 {
		return 0
	}
	return 0.1 * math.Exp(-math.Pow(km/50, 2))
}

// DistanceScoreCeiling is the maximum contribution of the geo-distance
// sub-score.
const DistanceScoreCeiling = 0.1

// Encode returns the geohash cell of the given point at the given precision.
func Encode(lat, lon float64, precision uint) string {
	return geohash.EncodeWithPrecision(lat, lon, precision)
}

// Neighborhood returns the cell and its 8 neighbors: the smallest covering
// area around a point.
func Neighborhood(cell string) []string {
	cells := make([]string, 0, 9)
	cells = append(cells, cell)
	cells = append(cells, geohash.Neighbors(cell)...)
	return cells
}

// Expand returns the neighbor cells of every cell in the input ring that are
// not already present, growing the covered area by one ring.
func Expand(cells []string) []string {
	seen := make(map[string]struct{}, len(cells)*4)
	for _, c := range cells {
		seen[c] = struct{}{}
	}
	out := append([]string(nil), cells...)
	for _, c := range cells {
		for _, n := range geohash.Neighbors(c) {
			if _, ok := seen[n]; ok {
				continue
			}
			seen[n] = struct{}{}
			out = append(out, n)
		}
	}
	return out
}
