package app

import (
	"log/slog"

	"fleetlive.io/internal/appconf"
	"fleetlive.io/internal/auth"
	"fleetlive.io/internal/hub"
	"fleetlive.io/internal/ingest"
	"fleetlive.io/internal/store"
)

// Application holds the dependencies for our HTTP handlers, helpers,
// and middleware. Everything in it is built once in main and shared.
type Application struct {
	Config      appconf.Config
	Logger      *slog.Logger
	Store       store.Store
	Verifier    auth.Verifier
	Registry    *hub.Registry
	Broadcaster *hub.Broadcaster
	Ingest      *ingest.Service
}
