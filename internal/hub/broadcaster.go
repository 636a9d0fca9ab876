package hub

import (
	"context"
	"log/slog"

	"fleetlive.io/internal/auth"
	"fleetlive.io/internal/logging"
	"fleetlive.io/internal/models"
)

// Broadcaster pushes position updates to every member allowed to view the fleet.
// Delivery is fire-and-forget: there is no acknowledgement and no retry.
type Broadcaster struct {
	registry *Registry
	logger   *slog.Logger
}

func NewBroadcaster(registry *Registry, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		logger:   logging.Component(logger, "broadcaster"),
	}
}

// Publish serializes update once and queues it to every fleet viewer. It returns the
// number of members the message was queued for.
func (b *Broadcaster) Publish(ctx context.Context, update models.PositionUpdate) int {
	msg, err := models.NewPositionMessage(update)
	if err != nil {
		logging.LogError(b.logger, "failed to encode position", err,
			slog.Int64("vehicle_id", update.VehicleID))
		return 0
	}
	return b.registry.Deliver(ctx, msg, canView)
}

// canView is read on the registry loop at delivery time, so role changes apply to
// the next publish.
func canView(identity models.Identity) bool {
	return auth.CanViewFleet(identity.Role)
}
