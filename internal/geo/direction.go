package geo

import (
	"math"

	"github.com/paulmach/orb"
)

// Bearing calculates the initial bearing in degrees from a to b
func Bearing(a, b orb.Point) float64 {
	phi1 := toRadians(a.Lat())
	phi2 := toRadians(b.Lat())
	deltaLon := toRadians(b.Lon() - a.Lon())

	y := math.Sin(deltaLon) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(deltaLon)

	theta := math.Atan2(y, x)
	return math.Mod(theta*180/math.Pi+360, 360)
}

// BearingToCompass converts a bearing (0-360°) to 8-point compass direction
func BearingToCompass(bearing float64) string {
	directions := []string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}
	bearing = math.Mod(bearing, 360)
	if bearing < 0 {
		bearing += 360
	}
	index := int((bearing+22.5)/45.0) % 8
	return directions[index]
}

// CompassDirection calculates compass direction from a to b
func CompassDirection(a, b orb.Point) string {
	return BearingToCompass(Bearing(a, b))
}
