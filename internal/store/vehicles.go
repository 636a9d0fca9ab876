package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"fleetlive.io/internal/logging"
	"fleetlive.io/internal/models"
)

const upsertVehicleSQL = `INSERT INTO vehicles (id, label, plate, driver_id)
	VALUES (?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		label = excluded.label,
		plate = excluded.plate,
		driver_id = excluded.driver_id`

func (s *SQLStore) GetVehicle(ctx context.Context, id int64) (models.Vehicle, error) {
	var (
		v        models.Vehicle
		driverID sql.NullInt64
	)
	err := s.DB.QueryRowContext(ctx,
		s.q(`SELECT id, label, plate, driver_id FROM vehicles WHERE id = ?`), id,
	).Scan(&v.ID, &v.Label, &v.Plate, &driverID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Vehicle{}, fmt.Errorf("vehicle %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Vehicle{}, fmt.Errorf("error loading vehicle %d: %w", id, err)
	}
	v.DriverID = nullInt64Ptr(driverID)
	return v, nil
}

func (s *SQLStore) UpsertVehicle(ctx context.Context, v models.Vehicle) error {
	if _, err := s.DB.ExecContext(ctx, s.q(upsertVehicleSQL), v.ID, v.Label, v.Plate, v.DriverID); err != nil {
		return fmt.Errorf("error saving vehicle %d: %w", v.ID, err)
	}
	return nil
}

// SeedVehicles upserts the configured fleet in one transaction.
func (s *SQLStore) SeedVehicles(ctx context.Context, vehicles []models.Vehicle) error {
	if len(vehicles) == 0 {
		return nil
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer logging.SafeRollbackWithLogging(tx, s.logger, "seed_vehicles")

	stmt, err := tx.PrepareContext(ctx, s.q(upsertVehicleSQL))
	if err != nil {
		return fmt.Errorf("error preparing statement: %w", err)
	}
	defer logging.SafeCloseWithLogging(stmt, s.logger, "seed_vehicles_stmt")

	for _, v := range vehicles {
		if _, err := stmt.ExecContext(ctx, v.ID, v.Label, v.Plate, v.DriverID); err != nil {
			return fmt.Errorf("error seeding vehicle %d: %w", v.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}
	logging.LogOperation(s.logger, "vehicles_seeded", slog.Int("count", len(vehicles)))
	return nil
}

func nullInt64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}

func nullFloat64Ptr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

func nullBoolPtr(v sql.NullBool) *bool {
	if !v.Valid {
		return nil
	}
	return &v.Bool
}
