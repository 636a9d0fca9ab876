// Command tracker follows one mission from the command line. Fixes come either from a
// recorded GeoJSON route or from the live position stream of a vehicle, and every
// navigation snapshot is logged as it is produced.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/paulmach/orb/geojson"

	"fleetlive.io/internal/appconf"
	"fleetlive.io/internal/geo"
	"fleetlive.io/internal/geocode"
	"fleetlive.io/internal/livesync"
	"fleetlive.io/internal/logging"
	"fleetlive.io/internal/models"
	"fleetlive.io/internal/navigation"
)

type options struct {
	configPath  string
	serverURL   string
	snapshotURL string
	token       string
	missionID   int64
	vehicleID   int64
	destination string
	replayPath  string
	interval    time.Duration
	exportPath  string
	logLevel    string
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "Path to a YAML config file (geocoding settings)")
	flag.StringVar(&opts.serverURL, "url", "ws://localhost:4000/ws", "Live position stream URL")
	flag.StringVar(&opts.snapshotURL, "positions-url", "http://localhost:4000/api/positions", "Position list used to seed the cache on connect (empty to skip)")
	flag.StringVar(&opts.token, "token", os.Getenv("FLEETLIVE_TOKEN"), "Bearer token for the position stream")
	flag.Int64Var(&opts.missionID, "mission", 0, "Mission id")
	flag.Int64Var(&opts.vehicleID, "vehicle", 0, "Vehicle to follow on the live stream")
	flag.StringVar(&opts.destination, "destination", "", "Mission end location, free text")
	flag.StringVar(&opts.replayPath, "replay", "", "GeoJSON route to replay instead of the live stream")
	flag.DurationVar(&opts.interval, "interval", time.Second, "Delay between replayed fixes")
	flag.StringVar(&opts.exportPath, "export", "", "Write the traveled path as GeoJSON to this file on exit")
	flag.StringVar(&opts.logLevel, "log-level", "info", "Log level (debug|info|warn|error)")
	flag.Parse()

	logger := logging.NewStructuredLogger(os.Stdout, logging.ParseLevel(opts.logLevel))

	cfg, err := appconf.Load(opts.configPath)
	if err != nil {
		logging.LogError(logger, "failed to load configuration", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, logger); err != nil {
		logging.LogError(logger, "tracker stopped with error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg appconf.Config, opts options, logger *slog.Logger) error {
	resolver, err := newResolver(cfg.Geocode, logger)
	if err != nil {
		return err
	}

	source, runFeed, err := newSource(opts, logger)
	if err != nil {
		return err
	}
	feedDone := make(chan error, 1)
	if runFeed != nil {
		go func() { feedDone <- runFeed(ctx) }()
	}

	tracker := navigation.NewTracker(resolver, logger)
	snapshots, unobserve := tracker.Observe()
	defer unobserve()

	mission := models.Mission{
		ID:          opts.missionID,
		VehicleID:   opts.vehicleID,
		EndLocation: opts.destination,
		Status:      models.MissionInProgress,
	}
	if err := tracker.Start(ctx, mission, source); err != nil {
		return fmt.Errorf("starting tracker: %w (%s)", err, navigation.Message(err))
	}
	defer tracker.Stop()

	done := tracker.Done()
	for {
		select {
		case <-ctx.Done():
			return finish(logger, tracker, opts.exportPath)
		case <-done:
			for {
				select {
				case snap := <-snapshots:
					logSnapshot(logger, snap)
				default:
					return finish(logger, tracker, opts.exportPath)
				}
			}
		case err := <-feedDone:
			if finishErr := finish(logger, tracker, opts.exportPath); finishErr != nil {
				logging.LogError(logger, "finishing session failed", finishErr)
			}
			if errors.Is(err, livesync.ErrCredentialRejected) {
				return fmt.Errorf("live stream: %w, sign in again with a new -token", err)
			}
			return err
		case snap := <-snapshots:
			logSnapshot(logger, snap)
		}
	}
}

// finish logs the end of the session and exports the path when asked to.
func finish(logger *slog.Logger, tracker *navigation.Tracker, exportPath string) error {
	path := tracker.Path()
	attrs := []slog.Attr{
		slog.Int("path_points", len(path)),
		slog.Float64("traveled_km", geo.PathLengthKm(path)),
	}
	if err := tracker.LastError(); err != nil {
		attrs = append(attrs, slog.String("last_error", navigation.Message(err)))
	}
	logging.LogOperation(logger, "navigation_stopped", attrs...)

	if exportPath == "" {
		return nil
	}
	data, err := geojson.NewFeatureCollection().Append(geo.PathFeature(path)).MarshalJSON()
	if err != nil {
		return fmt.Errorf("encoding path: %w", err)
	}
	if err := os.WriteFile(exportPath, data, 0o644); err != nil {
		return fmt.Errorf("writing path: %w", err)
	}
	return nil
}

func newResolver(cfg appconf.GeocodeConfig, logger *slog.Logger) (*geocode.Resolver, error) {
	table, err := geocode.DefaultTable()
	if err != nil {
		return nil, fmt.Errorf("loading city table: %w", err)
	}
	var remote geocode.Searcher
	if cfg.NominatimURL != "" {
		remote = geocode.NewNominatimClient(cfg.NominatimURL, cfg.Timeout, logger)
	}
	return geocode.NewResolver(table, remote, logger), nil
}

// newSource picks the replay file when one is given, the live stream otherwise. The
// returned func runs the live-sync client and is nil for replays.
func newSource(opts options, logger *slog.Logger) (navigation.FixSource, func(context.Context) error, error) {
	if opts.replayPath != "" {
		replay, err := navigation.LoadReplay(opts.replayPath, opts.interval)
		if err != nil {
			return nil, nil, err
		}
		return replay, nil, nil
	}

	if opts.vehicleID <= 0 {
		return nil, nil, errors.New("either -replay or -vehicle is required")
	}
	client := livesync.NewClient(livesync.Options{
		URL:         opts.serverURL,
		SnapshotURL: opts.snapshotURL,
		Credentials: livesync.StaticCredential(opts.token),
	}, logger)
	return &navigation.VehicleSource{Feed: client, VehicleID: opts.vehicleID}, client.Run, nil
}

func logSnapshot(logger *slog.Logger, snap models.NavigationSnapshot) {
	attrs := []any{
		slog.Int64("mission_id", snap.MissionID),
		slog.Float64("lat", snap.DriverPosition.Lat),
		slog.Float64("lng", snap.DriverPosition.Lng),
		slog.Float64("speed_kmh", snap.SpeedKmh),
		slog.Float64("traveled_km", snap.DistanceTraveledKm),
		slog.Int("path_points", snap.PathPoints),
	}
	if snap.HeadingDegrees != nil {
		attrs = append(attrs, slog.String("heading", geo.BearingToCompass(*snap.HeadingDegrees)))
	}
	if snap.DistanceToDestinationKm != nil {
		attrs = append(attrs, slog.Float64("remaining_km", *snap.DistanceToDestinationKm))
	}
	if snap.Destination != nil {
		attrs = append(attrs, slog.String("destination_direction",
			geo.CompassDirection(geo.Point(snap.DriverPosition), geo.Point(*snap.Destination))))
	}
	if snap.EtaMinutes != nil {
		attrs = append(attrs, slog.Int("eta_minutes", *snap.EtaMinutes))
	}
	logger.Info("navigation_snapshot", attrs...)
}
