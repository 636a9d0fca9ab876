package geo

import "math"

// MinEtaSpeedKmh is the speed at or below which no arrival time is estimated.
const MinEtaSpeedKmh = 3.0

// MetersPerSecondToKmh converts a device speed to km/h.
func MetersPerSecondToKmh(mps float64) float64 {
	return mps * 3.6
}

// EtaMinutes estimates the minutes needed to cover distanceKm at speedKmh.
// ok is false when the vehicle is too slow for the estimate to mean anything.
func EtaMinutes(distanceKm, speedKmh float64) (minutes int, ok bool) {
	if speedKmh <= MinEtaSpeedKmh || math.IsNaN(distanceKm) || distanceKm < 0 {
		return 0, false
	}
	return int(math.Round(distanceKm / speedKmh * 60)), true
}
