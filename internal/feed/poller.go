// Package feed polls a GTFS-Realtime vehicle positions feed and turns every fresh
// vehicle position into an ingest request.
package feed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/jamespfennell/gtfs"

	"fleetlive.io/internal/appconf"
	"fleetlive.io/internal/geo"
	"fleetlive.io/internal/ingest"
	"fleetlive.io/internal/logging"
	"fleetlive.io/internal/models"
)

const fetchTimeout = 15 * time.Second

// Ingester is satisfied by *ingest.Service.
type Ingester interface {
	Ingest(ctx context.Context, req ingest.Request) (models.PositionUpdate, error)
}

// Poller periodically downloads the configured feed. Start and Shutdown follow the
// same lifecycle: one background goroutine, stopped through shutdownChan.
type Poller struct {
	config   appconf.FeedConfig
	ingester Ingester
	client   *http.Client
	logger   *slog.Logger

	fetch func(ctx context.Context) ([]gtfs.Vehicle, error)

	pollMu   sync.Mutex
	lastSeen map[int64]time.Time // guarded by pollMu

	shutdownChan chan struct{}
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

func NewPoller(config appconf.FeedConfig, ingester Ingester, logger *slog.Logger) *Poller {
	if config.Interval <= 0 {
		config.Interval = appconf.DefaultFeedInterval
	}
	p := &Poller{
		config:       config,
		ingester:     ingester,
		client:       &http.Client{Timeout: fetchTimeout},
		logger:       logging.Component(logger, "gtfs_realtime"),
		lastSeen:     make(map[int64]time.Time),
		shutdownChan: make(chan struct{}),
	}
	p.fetch = p.download
	return p
}

// Start polls once and then every config.Interval until Shutdown.
func (p *Poller) Start() {
	p.wg.Add(1)
	go p.pollPeriodically()
}

// Shutdown stops the background goroutine and waits for it to exit.
func (p *Poller) Shutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdownChan)
		p.wg.Wait()
	})
}

func (p *Poller) pollPeriodically() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	p.pollOnce()
	for {
		select {
		case <-ticker.C:
			p.pollOnce()
		case <-p.shutdownChan:
			logging.LogOperation(p.logger, "shutting_down_realtime_updates")
			return
		}
	}
}

func (p *Poller) pollOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()
	ctx = logging.WithLogger(ctx, p.logger)

	start := time.Now()
	n, err := p.Poll(ctx)
	if err != nil {
		logging.LogError(p.logger, "Error loading GTFS-RT vehicle positions data", err,
			slog.String("url", p.config.VehiclePositionsURL))
		return
	}
	logging.LogOperation(p.logger, "gtfs_realtime_polled",
		slog.Int("ingested", n),
		slog.Duration("duration", time.Since(start)))
}

// Poll fetches the feed once and ingests every mapped vehicle whose position is newer
// than the last one seen. It returns the number of positions ingested.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	p.pollMu.Lock()
	defer p.pollMu.Unlock()

	vehicles, err := p.fetch(ctx)
	if err != nil {
		return 0, err
	}

	ingested := 0
	for _, v := range vehicles {
		req, ok := p.toRequest(v)
		if !ok {
			continue
		}
		if req.RecordedAt != nil {
			if seen, ok := p.lastSeen[req.VehicleID]; ok && !req.RecordedAt.After(seen) {
				continue
			}
		}

		if _, err := p.ingester.Ingest(ctx, req); err != nil {
			logging.LogError(p.logger, "failed to ingest feed vehicle", err,
				slog.Int64("vehicle_id", req.VehicleID))
			continue
		}
		if req.RecordedAt != nil {
			p.lastSeen[req.VehicleID] = *req.RecordedAt
		}
		ingested++
	}
	return ingested, nil
}

// fleetID maps a feed vehicle id to a fleet vehicle id. Unmapped numeric ids are
// used as-is.
func (p *Poller) fleetID(feedID string) (int64, bool) {
	if id, ok := p.config.VehicleMap[feedID]; ok {
		return id, true
	}
	id, err := strconv.ParseInt(feedID, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (p *Poller) toRequest(v gtfs.Vehicle) (ingest.Request, bool) {
	if v.ID == nil || v.Position == nil || v.Position.Latitude == nil || v.Position.Longitude == nil {
		return ingest.Request{}, false
	}
	id, ok := p.fleetID(v.ID.ID)
	if !ok {
		return ingest.Request{}, false
	}

	req := ingest.Request{
		VehicleID: id,
		Lat:       models.Float64Ptr(float64(*v.Position.Latitude)),
		Lng:       models.Float64Ptr(float64(*v.Position.Longitude)),
	}
	if v.Position.Bearing != nil {
		req.Heading = models.Float64Ptr(float64(*v.Position.Bearing))
	}
	if v.Position.Speed != nil {
		req.Speed = models.Float64Ptr(geo.MetersPerSecondToKmh(float64(*v.Position.Speed)))
	}
	if v.Timestamp != nil {
		ts := *v.Timestamp
		req.RecordedAt = &ts
	}
	return req, true
}

func (p *Poller) download(ctx context.Context) ([]gtfs.Vehicle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.VehiclePositionsURL, nil)
	if err != nil {
		return nil, err
	}
	if p.config.AuthHeaderKey != "" && p.config.AuthHeaderValue != "" {
		req.Header.Add(p.config.AuthHeaderKey, p.config.AuthHeaderValue)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer logging.SafeCloseWithLogging(resp.Body, p.logger, "http_response_body")

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	realtime, err := gtfs.ParseRealtime(b, &gtfs.ParseRealtimeOptions{})
	if err != nil {
		return nil, fmt.Errorf("parsing feed: %w", err)
	}
	return realtime.Vehicles, nil
}
