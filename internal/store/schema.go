package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"fleetlive.io/internal/logging"
)

type dialect struct {
	name             string
	driverName       string
	numbered         bool
	singleConnection bool
	serialPK         string
	pragmas          []string
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case "", "sqlite":
		return dialect{
			name:             "sqlite",
			driverName:       "sqlite",
			singleConnection: true,
			serialPK:         "INTEGER PRIMARY KEY AUTOINCREMENT",
			pragmas: []string{
				"PRAGMA foreign_keys = ON;",
				"PRAGMA busy_timeout = 5000;",
			},
		}, nil
	case "postgres":
		return dialect{
			name:       "postgres",
			driverName: "postgres",
			numbered:   true,
			serialPK:   "BIGSERIAL PRIMARY KEY",
		}, nil
	default:
		return dialect{}, fmt.Errorf("unsupported store driver %q", driver)
	}
}

// rebind turns ? placeholders into $1, $2 ... for drivers that need numbered parameters.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d dialect) schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS vehicles (
			id BIGINT PRIMARY KEY,
			label TEXT NOT NULL DEFAULT '',
			plate TEXT NOT NULL DEFAULT '',
			driver_id BIGINT
		)`,
		`CREATE TABLE IF NOT EXISTS vehicle_positions (
			vehicle_id BIGINT PRIMARY KEY REFERENCES vehicles(id),
			driver_id BIGINT,
			lat DOUBLE PRECISION NOT NULL,
			lng DOUBLE PRECISION NOT NULL,
			speed DOUBLE PRECISION,
			heading DOUBLE PRECISION,
			engine_on BOOLEAN,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS location_history (
			id ` + d.serialPK + `,
			vehicle_id BIGINT NOT NULL REFERENCES vehicles(id),
			lat DOUBLE PRECISION NOT NULL,
			lng DOUBLE PRECISION NOT NULL,
			speed DOUBLE PRECISION,
			heading DOUBLE PRECISION,
			recorded_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_location_history_vehicle ON location_history(vehicle_id, recorded_at)`,
	}
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, pragma := range s.dialect.pragmas {
		if _, err := s.DB.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("error applying %q: %w", pragma, err)
		}
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer logging.SafeRollbackWithLogging(tx, s.logger, "migrate")

	for _, stmt := range s.dialect.schema() {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("error creating schema: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}
	return nil
}
