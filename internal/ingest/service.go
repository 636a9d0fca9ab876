// Package ingest accepts raw position reports, persists them and hands them to the
// broadcaster.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"fleetlive.io/internal/logging"
	"fleetlive.io/internal/models"
	"fleetlive.io/internal/store"
)

var (
	ErrUnknownVehicle = errors.New("unknown vehicle")
	ErrInvalidRequest = errors.New("invalid position report")
)

// Request is one position report from a device, a simulator or the GTFS-RT feed.
type Request struct {
	VehicleID int64    `json:"vehicleId" validate:"required,gt=0"`
	DriverID  *int64   `json:"driverId,omitempty" validate:"omitempty,gt=0"`
	Lat       *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Lng       *float64 `json:"lng" validate:"required,gte=-180,lte=180"`
	Speed     *float64 `json:"speed,omitempty" validate:"omitempty,gte=0"`
	Heading   *float64 `json:"heading,omitempty" validate:"omitempty,gte=0,lte=360"`
	EngineOn  *bool    `json:"engineOn,omitempty"`
	// RecordedAt is the device timestamp. The server clock is used when it is absent.
	RecordedAt *time.Time `json:"recordedAt,omitempty"`
}

// Store is the subset of store.Store the ingest path writes to.
type Store interface {
	GetVehicle(ctx context.Context, id int64) (models.Vehicle, error)
	UpsertPosition(ctx context.Context, update models.PositionUpdate) (models.PositionUpdate, error)
	AppendLocationHistory(ctx context.Context, update models.PositionUpdate) error
}

// Publisher fans a stored update out to live viewers.
type Publisher interface {
	Publish(ctx context.Context, update models.PositionUpdate) int
}

type Service struct {
	store     Store
	publisher Publisher
	validate  *validator.Validate
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(s Store, publisher Publisher, logger *slog.Logger) *Service {
	return &Service{
		store:     s,
		publisher: publisher,
		validate:  validator.New(),
		logger:    logging.Component(logger, "ingest"),
		now:       time.Now,
	}
}

// ValidationErrors returns the per-field messages of an ErrInvalidRequest, keyed by
// JSON field name.
func ValidationErrors(err error) map[string][]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	fields := make(map[string][]string, len(verrs))
	for _, fe := range verrs {
		name := jsonName(fe.Field())
		fields[name] = append(fields[name], fmt.Sprintf("failed on %q", fe.Tag()))
	}
	return fields
}

func jsonName(field string) string {
	switch field {
	case "VehicleID":
		return "vehicleId"
	case "DriverID":
		return "driverId"
	case "EngineOn":
		return "engineOn"
	case "RecordedAt":
		return "recordedAt"
	}
	if field == "" {
		return field
	}
	return string(field[0]|0x20) + field[1:]
}

// Ingest validates req, stores it as the vehicle's current position, appends it to
// the location history and publishes it. A publish never fails the request.
func (s *Service) Ingest(ctx context.Context, req Request) (models.PositionUpdate, error) {
	if err := s.validate.Struct(req); err != nil {
		return models.PositionUpdate{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	vehicle, err := s.store.GetVehicle(ctx, req.VehicleID)
	if errors.Is(err, store.ErrNotFound) {
		return models.PositionUpdate{}, fmt.Errorf("%w: %d", ErrUnknownVehicle, req.VehicleID)
	}
	if err != nil {
		return models.PositionUpdate{}, err
	}

	updatedAt := s.now().UTC()
	if req.RecordedAt != nil && !req.RecordedAt.IsZero() {
		updatedAt = req.RecordedAt.UTC()
	}

	update := models.PositionUpdate{
		VehicleID: vehicle.ID,
		DriverID:  req.DriverID,
		Lat:       *req.Lat,
		Lng:       *req.Lng,
		Speed:     req.Speed,
		Heading:   req.Heading,
		EngineOn:  req.EngineOn,
		UpdatedAt: updatedAt.Truncate(time.Millisecond),
	}
	if update.DriverID == nil {
		update.DriverID = vehicle.DriverID
	}

	stored, err := s.store.UpsertPosition(ctx, update)
	if err != nil {
		return models.PositionUpdate{}, err
	}
	if err := s.store.AppendLocationHistory(ctx, stored); err != nil {
		// History is best effort once the current position is saved.
		logging.LogError(s.logger, "failed to append location history", err,
			slog.Int64("vehicle_id", stored.VehicleID))
	}

	recipients := s.publisher.Publish(ctx, stored)
	s.logger.Debug("position ingested",
		slog.Int64("vehicle_id", stored.VehicleID),
		slog.Int("recipients", recipients))
	return stored, nil
}
