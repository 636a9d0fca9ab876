package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fleetlive.io/internal/models"
)

const positionColumns = `vehicle_id, driver_id, lat, lng, speed, heading, engine_on, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(row rowScanner) (models.PositionUpdate, error) {
	var (
		p        models.PositionUpdate
		driverID sql.NullInt64
		speed    sql.NullFloat64
		heading  sql.NullFloat64
		engineOn sql.NullBool
		updated  int64
	)
	if err := row.Scan(&p.VehicleID, &driverID, &p.Lat, &p.Lng, &speed, &heading, &engineOn, &updated); err != nil {
		return models.PositionUpdate{}, err
	}
	p.DriverID = nullInt64Ptr(driverID)
	p.Speed = nullFloat64Ptr(speed)
	p.Heading = nullFloat64Ptr(heading)
	p.EngineOn = nullBoolPtr(engineOn)
	p.UpdatedAt = time.UnixMilli(updated).UTC()
	return p, nil
}

// UpsertPosition replaces the current position of update.VehicleID and returns the
// stored row. Timestamps are kept at millisecond precision.
func (s *SQLStore) UpsertPosition(ctx context.Context, update models.PositionUpdate) (models.PositionUpdate, error) {
	row := s.DB.QueryRowContext(ctx, s.q(`INSERT INTO vehicle_positions (`+positionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (vehicle_id) DO UPDATE SET
			driver_id = excluded.driver_id,
			lat = excluded.lat,
			lng = excluded.lng,
			speed = excluded.speed,
			heading = excluded.heading,
			engine_on = excluded.engine_on,
			updated_at = excluded.updated_at
		RETURNING `+positionColumns),
		update.VehicleID, update.DriverID, update.Lat, update.Lng,
		update.Speed, update.Heading, update.EngineOn, update.UpdatedAt.UnixMilli(),
	)
	stored, err := scanPosition(row)
	if err != nil {
		return models.PositionUpdate{}, fmt.Errorf("error saving position of vehicle %d: %w", update.VehicleID, err)
	}
	return stored, nil
}

func (s *SQLStore) AppendLocationHistory(ctx context.Context, update models.PositionUpdate) error {
	_, err := s.DB.ExecContext(ctx, s.q(`INSERT INTO location_history
		(vehicle_id, lat, lng, speed, heading, recorded_at) VALUES (?, ?, ?, ?, ?, ?)`),
		update.VehicleID, update.Lat, update.Lng, update.Speed, update.Heading, update.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("error appending history of vehicle %d: %w", update.VehicleID, err)
	}
	return nil
}

// ListPositions returns the current position of every vehicle, ordered by vehicle id.
func (s *SQLStore) ListPositions(ctx context.Context) ([]models.PositionUpdate, error) {
	rows, err := s.DB.QueryContext(ctx,
		s.q(`SELECT `+positionColumns+` FROM vehicle_positions ORDER BY vehicle_id`))
	if err != nil {
		return nil, fmt.Errorf("error listing positions: %w", err)
	}
	defer rows.Close()

	positions := make([]models.PositionUpdate, 0)
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *SQLStore) GetPosition(ctx context.Context, vehicleID int64) (models.PositionUpdate, error) {
	row := s.DB.QueryRowContext(ctx,
		s.q(`SELECT `+positionColumns+` FROM vehicle_positions WHERE vehicle_id = ?`), vehicleID)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PositionUpdate{}, fmt.Errorf("position of vehicle %d: %w", vehicleID, ErrNotFound)
	}
	if err != nil {
		return models.PositionUpdate{}, fmt.Errorf("error loading position of vehicle %d: %w", vehicleID, err)
	}
	return p, nil
}

// LocationHistory returns up to limit entries for a vehicle, newest first.
func (s *SQLStore) LocationHistory(ctx context.Context, vehicleID int64, limit int) ([]models.LocationHistoryEntry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := s.DB.QueryContext(ctx, s.q(`SELECT vehicle_id, lat, lng, speed, heading, recorded_at
		FROM location_history WHERE vehicle_id = ?
		ORDER BY recorded_at DESC, id DESC LIMIT ?`), vehicleID, limit)
	if err != nil {
		return nil, fmt.Errorf("error loading history of vehicle %d: %w", vehicleID, err)
	}
	defer rows.Close()

	entries := make([]models.LocationHistoryEntry, 0)
	for rows.Next() {
		var (
			e        models.LocationHistoryEntry
			speed    sql.NullFloat64
			heading  sql.NullFloat64
			recorded int64
		)
		if err := rows.Scan(&e.VehicleID, &e.Lat, &e.Lng, &speed, &heading, &recorded); err != nil {
			return nil, fmt.Errorf("error scanning history: %w", err)
		}
		e.Speed = nullFloat64Ptr(speed)
		e.Heading = nullFloat64Ptr(heading)
		e.RecordedAt = time.UnixMilli(recorded).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DefaultHistoryLimit bounds LocationHistory when no limit is given.
const DefaultHistoryLimit = 100
