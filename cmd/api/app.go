package main

import (
	"context"
	"fmt"
	"log/slog"

	"fleetlive.io/internal/app"
	"fleetlive.io/internal/appconf"
	"fleetlive.io/internal/auth"
	"fleetlive.io/internal/hub"
	"fleetlive.io/internal/ingest"
	"fleetlive.io/internal/logging"
	"fleetlive.io/internal/models"
	"fleetlive.io/internal/store"
)

// buildApplication opens the store, seeds the configured vehicles and starts the
// connection registry. The returned func stops the registry and closes the store.
func buildApplication(ctx context.Context, cfg appconf.Config, logger *slog.Logger) (*app.Application, func(), error) {
	verifier, err := auth.NewStaticVerifier(cfg.Auth.Tokens)
	if err != nil {
		return nil, nil, fmt.Errorf("building verifier: %w", err)
	}

	db, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := db.SeedVehicles(ctx, vehiclesFromConfig(cfg.Vehicles)); err != nil {
		logging.SafeCloseWithLogging(db, logger, "store")
		return nil, nil, err
	}

	registry := hub.NewRegistry(verifier, hub.Options{
		HeartbeatInterval: cfg.Hub.HeartbeatInterval,
		SendQueue:         cfg.Hub.SendQueue,
	}, logger)
	registryCtx, cancelRegistry := context.WithCancel(context.Background())
	go registry.Run(registryCtx)

	broadcaster := hub.NewBroadcaster(registry, logger)
	application := &app.Application{
		Config:      cfg,
		Logger:      logger,
		Store:       db,
		Verifier:    verifier,
		Registry:    registry,
		Broadcaster: broadcaster,
		Ingest:      ingest.NewService(db, broadcaster, logger),
	}

	closeApp := func() {
		cancelRegistry()
		<-registry.Done()
		logging.SafeCloseWithLogging(db, logger, "store")
	}
	return application, closeApp, nil
}

func vehiclesFromConfig(configs []appconf.VehicleConfig) []models.Vehicle {
	vehicles := make([]models.Vehicle, 0, len(configs))
	for _, c := range configs {
		vehicles = append(vehicles, models.Vehicle{
			ID:       c.ID,
			Label:    c.Label,
			Plate:    c.Plate,
			DriverID: c.DriverID,
		})
	}
	return vehicles
}
