// Package geo holds the pure distance, path and arrival-time calculations used by
// navigation. Points are orb.Point values, which store longitude first.
package geo

import (
	"math"

	"github.com/paulmach/orb"

	"fleetlive.io/internal/models"
)

// EarthRadiusKm is the mean Earth radius used by the haversine formula.
const EarthRadiusKm = 6371.0

// JitterThresholdMeters is the minimum movement from the last kept point before a
// new fix is added to a traveled path.
const JitterThresholdMeters = 5.0

// Point converts a LatLng to an orb.Point.
func Point(ll models.LatLng) orb.Point {
	return orb.Point{ll.Lng, ll.Lat}
}

// LatLng converts an orb.Point to a LatLng.
func LatLng(p orb.Point) models.LatLng {
	return models.LatLng{Lat: p.Lat(), Lng: p.Lon()}
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

// HaversineKm returns the great-circle distance between a and b in kilometers.
func HaversineKm(a, b orb.Point) float64 {
	lat1 := toRadians(a.Lat())
	lat2 := toRadians(b.Lat())
	dLat := lat2 - lat1
	dLon := toRadians(b.Lon() - a.Lon())

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	// Rounding can push h a hair above 1 for antipodal points.
	h = math.Min(1, h)

	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}

// HaversineMeters returns the great-circle distance between a and b in meters.
func HaversineMeters(a, b orb.Point) float64 {
	return HaversineKm(a, b) * 1000
}

// PathLengthKm sums the great-circle length of consecutive segments.
func PathLengthKm(path orb.LineString) float64 {
	total := 0.0
	for i := 1; i < len(path); i++ {
		total += HaversineKm(path[i-1], path[i])
	}
	return total
}

// ShouldAppend reports whether p should extend path: always for an empty path,
// otherwise only when p is more than thresholdMeters from the last kept point.
func ShouldAppend(path orb.LineString, p orb.Point, thresholdMeters float64) bool {
	if len(path) == 0 {
		return true
	}
	return HaversineMeters(path[len(path)-1], p) > thresholdMeters
}
