package navigation

import "errors"

// Geolocation failures reported by a FixSource. Sources wrap one of these so the
// tracker can show a readable message.
var (
	ErrPermissionDenied    = errors.New("location permission denied")
	ErrPositionUnavailable = errors.New("position unavailable")
	ErrTimeout             = errors.New("location request timed out")
)

// Message returns the text shown to the driver for a geolocation error.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPermissionDenied):
		return "Location access was denied. Enable location sharing to track this mission."
	case errors.Is(err, ErrPositionUnavailable):
		return "Your position is currently unavailable. Check the GPS signal."
	case errors.Is(err, ErrTimeout):
		return "Getting your position took too long. Retrying."
	default:
		return "Location error: " + err.Error()
	}
}
