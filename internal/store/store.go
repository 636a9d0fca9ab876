// Package store persists vehicles, their latest positions and their location history
// over database/sql. SQLite (modernc.org/sqlite) is the default; PostgreSQL (lib/pq)
// is selected with the "postgres" driver.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"  // PostgreSQL driver
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"fleetlive.io/internal/logging"
	"fleetlive.io/internal/models"
)

var ErrNotFound = errors.New("not found")

// Store is the persistence collaborator used by ingest and the read endpoints.
type Store interface {
	GetVehicle(ctx context.Context, id int64) (models.Vehicle, error)
	UpsertVehicle(ctx context.Context, v models.Vehicle) error
	UpsertPosition(ctx context.Context, update models.PositionUpdate) (models.PositionUpdate, error)
	AppendLocationHistory(ctx context.Context, update models.PositionUpdate) error
	ListPositions(ctx context.Context) ([]models.PositionUpdate, error)
	GetPosition(ctx context.Context, vehicleID int64) (models.PositionUpdate, error)
	LocationHistory(ctx context.Context, vehicleID int64, limit int) ([]models.LocationHistoryEntry, error)
	Ping(ctx context.Context) error
	Close() error
}

// SQLStore implements Store on top of *sql.DB.
type SQLStore struct {
	DB      *sql.DB
	dialect dialect
	logger  *slog.Logger
}

// Open connects to the database and creates the schema if needed.
func Open(ctx context.Context, driver, dsn string, logger *slog.Logger) (*SQLStore, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	if d.singleConnection {
		// One connection keeps :memory: databases shared and serializes sqlite writers.
		db.SetMaxOpenConns(1)
	}

	s := &SQLStore{
		DB:      db,
		dialect: d,
		logger:  logging.Component(logger, "store"),
	}

	if err := s.migrate(ctx); err != nil {
		logging.SafeCloseWithLogging(db, s.logger, "database")
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.DB.Close()
}

// q rewrites a query written with ? placeholders for the active dialect.
func (s *SQLStore) q(query string) string {
	return s.dialect.rebind(query)
}
